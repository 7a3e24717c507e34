package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/pat/workitem-migrate/internal/contracts"
	"github.com/pat/workitem-migrate/internal/devops"
	"github.com/pat/workitem-migrate/internal/migrate/payload"
)

// EffectStatus classifies one post-processing side effect. Effects never
// change the item outcome: a created issue stays created even when every
// effect degrades to a warning.
type EffectStatus string

const (
	EffectStatusOK      EffectStatus = "ok"
	EffectStatusWarning EffectStatus = "warning"
)

const (
	EffectAssignment = "assignment"
	EffectClosing    = "closing"
	EffectTagging    = "tagging"
)

type EffectResult struct {
	Name   string
	Status EffectStatus
	Detail string
}

// dispatchPostProcessing runs the conditional side effects for a freshly
// created issue: target assignment, target closing, and source tagging.
// Each effect is attempted independently of the others.
func (p Pipeline) dispatchPostProcessing(ctx context.Context, item devops.WorkItem, result *ItemResult) {
	if p.Options.UpdateAssignees && item.Assignee != nil && strings.TrimSpace(item.Assignee.UniqueName) != "" {
		p.applyAssignment(ctx, item, result)
	}
	if contracts.IsClosedState(item.State) {
		p.applyClosing(ctx, result)
	}
	if p.Options.Production {
		p.applyTagging(ctx, item, result)
	}
}

func (p Pipeline) applyAssignment(ctx context.Context, item devops.WorkItem, result *ItemResult) {
	login := payload.MapAssignee(item.Assignee.UniqueName, p.Options.AssigneeSuffix)
	if login == "" {
		p.recordEffectWarning(result, EffectAssignment, contracts.ReasonCodeAssignmentFailed,
			fmt.Sprintf("no login could be derived from %q", item.Assignee.UniqueName))
		return
	}
	if result.IssueNumber == 0 {
		p.recordEffectWarning(result, EffectAssignment, contracts.ReasonCodeAssignmentFailed,
			"issue number unknown, cannot assign "+login)
		return
	}
	if err := p.Target.AddAssignees(ctx, result.IssueNumber, []string{login}); err != nil {
		p.recordEffectWarning(result, EffectAssignment, contracts.ReasonCodeAssignmentFailed,
			fmt.Sprintf("could not assign %s: %v", login, err))
		return
	}
	result.Effects = append(result.Effects, EffectResult{Name: EffectAssignment, Status: EffectStatusOK, Detail: login})
}

func (p Pipeline) applyClosing(ctx context.Context, result *ItemResult) {
	if result.IssueNumber == 0 {
		p.recordEffectWarning(result, EffectClosing, contracts.ReasonCodeCloseFailed,
			"issue number unknown, cannot close issue")
		return
	}
	if err := p.Target.CloseIssue(ctx, result.IssueNumber); err != nil {
		p.recordEffectWarning(result, EffectClosing, contracts.ReasonCodeCloseFailed,
			fmt.Sprintf("could not close issue #%d: %v", result.IssueNumber, err))
		return
	}
	result.Effects = append(result.Effects, EffectResult{Name: EffectClosing, Status: EffectStatusOK})
}

func (p Pipeline) applyTagging(ctx context.Context, item devops.WorkItem, result *ItemResult) {
	marker := p.Options.MarkerTag
	if marker == "" {
		marker = contracts.DefaultMarkerTag
	}
	tags := mergeTags(item.Tags, marker)
	note := fmt.Sprintf("Migrated to %s on %s.", result.IssueURL, p.now().UTC().Format("2006-01-02"))
	if err := p.Source.MarkMigrated(ctx, item.ID, tags, note); err != nil {
		p.recordEffectWarning(result, EffectTagging, contracts.ReasonCodeTaggingFailed,
			fmt.Sprintf("could not tag source item: %v", err))
		return
	}
	result.Effects = append(result.Effects, EffectResult{Name: EffectTagging, Status: EffectStatusOK, Detail: marker})
}

func (p Pipeline) recordEffectWarning(result *ItemResult, name string, reason contracts.ReasonCode, detail string) {
	result.Effects = append(result.Effects, EffectResult{Name: name, Status: EffectStatusWarning, Detail: detail})
	result.Messages = append(result.Messages, contracts.ItemMessage{
		Level:      "warning",
		ReasonCode: reason,
		Text:       detail,
	})
}

// mergeTags appends the marker tag unless an existing tag already
// matches it case-insensitively. Existing order is preserved.
func mergeTags(existing []string, marker string) []string {
	merged := make([]string, 0, len(existing)+1)
	for _, tag := range existing {
		if strings.EqualFold(strings.TrimSpace(tag), marker) {
			continue
		}
		merged = append(merged, tag)
	}
	return append(merged, marker)
}
