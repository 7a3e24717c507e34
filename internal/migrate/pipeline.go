package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pat/workitem-migrate/internal/contracts"
	"github.com/pat/workitem-migrate/internal/devops"
	"github.com/pat/workitem-migrate/internal/github"
	"github.com/pat/workitem-migrate/internal/migrate/importjob"
	"github.com/pat/workitem-migrate/internal/migrate/payload"
)

// Source is the work-tracking side of the pipeline.
type Source interface {
	GetWorkItem(ctx context.Context, id int) (devops.WorkItem, error)
	GetComments(ctx context.Context, id int) ([]devops.Comment, error)
	MarkMigrated(ctx context.Context, id int, tags []string, note string) error
}

// Target is the issue-tracking side of the pipeline.
type Target interface {
	StartImport(ctx context.Context, request github.ImportRequest) (github.ImportJob, error)
	AddAssignees(ctx context.Context, issueNumber int, assignees []string) error
	CloseIssue(ctx context.Context, issueNumber int) error
}

type Options struct {
	// UpdateAssignees enables the assignment side effect.
	UpdateAssignees bool
	// AssigneeSuffix is appended to every mapped login.
	AssigneeSuffix string
	// MigrateComments fetches the source discussion thread into a second
	// audit comment. Retrieval failure downgrades to a warning.
	MigrateComments bool
	// Production enables source-side tagging; without it the source
	// service is never written to.
	Production bool
	// MarkerTag is merged into the source tag set after migration.
	MarkerTag string
	// DryRun builds and validates payloads without submitting anything.
	DryRun bool
}

// Pipeline migrates work items one at a time, in the order supplied.
// Failures never cross an item boundary.
type Pipeline struct {
	Source  Source
	Target  Target
	Poller  importjob.Poller
	Options Options
	Logger  *zap.Logger
	Now     func() time.Time
}

// ItemResult is the per-item migration outcome plus its non-fatal
// warnings and post-processing effect results.
type ItemResult struct {
	ID          int
	Title       string
	Outcome     contracts.Outcome
	IssueURL    string
	IssueNumber int
	Effects     []EffectResult
	Messages    []contracts.ItemMessage
}

type Result struct {
	Counts contracts.AggregateCounts
	Items  []ItemResult
}

// Execute runs the batch. The returned error is fatal-only (cancelled
// context or missing collaborators); per-item failures land in Result.
func (p Pipeline) Execute(ctx context.Context, ids []int) (Result, error) {
	if p.Source == nil {
		return Result{}, fmt.Errorf("pipeline source is not configured")
	}
	if p.Target == nil && !p.Options.DryRun {
		return Result{}, fmt.Errorf("pipeline target is not configured")
	}
	if p.Poller.Checker == nil && !p.Options.DryRun {
		return Result{}, fmt.Errorf("pipeline poller is not configured")
	}

	logger := p.logger()
	result := Result{Items: make([]ItemResult, 0, len(ids))}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		item := p.processItem(ctx, id)
		result.Items = append(result.Items, item)
		tally(&result.Counts, item)

		logger.Info("processed work item",
			zap.Int("id", item.ID),
			zap.String("outcome", string(item.Outcome)),
			zap.String("issue_url", item.IssueURL),
			zap.Int("warnings", countWarnings(item.Messages)),
		)
	}

	logger.Info("migration batch finished",
		zap.Int("processed", result.Counts.Processed),
		zap.Int("created", result.Counts.Created),
		zap.Int("skipped", result.Counts.Skipped),
		zap.Int("failed", result.Counts.Failed),
	)
	return result, nil
}

// processItem runs the whole per-item pipeline. A panic anywhere inside
// is converted into a failed outcome so the batch keeps going.
func (p Pipeline) processItem(ctx context.Context, id int) (result ItemResult) {
	result = ItemResult{ID: id}

	defer func() {
		if recovered := recover(); recovered != nil {
			result.Outcome = contracts.OutcomeFailed
			result.Messages = append(result.Messages, contracts.ItemMessage{
				Level:      "error",
				ReasonCode: contracts.ReasonCodeInternalError,
				Text:       fmt.Sprintf("item pipeline panicked: %v", recovered),
			})
		}
	}()

	item, err := p.Source.GetWorkItem(ctx, id)
	if err != nil {
		result.Outcome = contracts.OutcomeSkipped
		reason := contracts.ReasonCodeFetchFailed
		if devops.IsNotFound(err) {
			reason = contracts.ReasonCodeItemNotFound
		}
		result.Messages = append(result.Messages, contracts.ItemMessage{
			Level:      "error",
			ReasonCode: reason,
			Text:       err.Error(),
		})
		return result
	}
	result.Title = item.Title

	var comments []devops.Comment
	if p.Options.MigrateComments {
		comments, err = p.Source.GetComments(ctx, id)
		if err != nil {
			comments = nil
			result.Messages = append(result.Messages, contracts.ItemMessage{
				Level:      "warning",
				ReasonCode: contracts.ReasonCodeCommentsUnavailable,
				Text:       "original discussion could not be retrieved: " + err.Error(),
			})
		}
	}

	built, err := payload.Build(item, comments)
	if err != nil {
		result.Outcome = contracts.OutcomeSkipped
		reason := contracts.ReasonCodeValidationFailed
		if errors.Is(err, payload.ErrEmptyTitle) {
			reason = contracts.ReasonCodeEmptyTitle
		}
		result.Messages = append(result.Messages, contracts.ItemMessage{
			Level:      "error",
			ReasonCode: reason,
			Text:       err.Error(),
		})
		return result
	}

	if p.Options.DryRun {
		result.Outcome = contracts.OutcomeSkipped
		result.Messages = append(result.Messages, contracts.ItemMessage{
			Level: "info",
			Text:  fmt.Sprintf("dry run: would import %q with label %q and %d audit comments", built.Title, built.Label, len(built.Comments)),
		})
		return result
	}

	job, err := p.Target.StartImport(ctx, importRequest(built))
	if err != nil {
		result.Outcome = contracts.OutcomeFailed
		result.Messages = append(result.Messages, contracts.ItemMessage{
			Level:      "error",
			ReasonCode: contracts.ReasonCodeSubmissionFailed,
			Text:       err.Error(),
		})
		return result
	}

	pollResult, err := p.Poller.Await(ctx, job)
	if err != nil {
		result.Outcome = contracts.OutcomeFailed
		result.Messages = append(result.Messages, contracts.ItemMessage{
			Level:      "error",
			ReasonCode: contracts.ReasonCodeImportFailed,
			Text:       "import status polling failed: " + err.Error(),
		})
		return result
	}

	switch pollResult.State {
	case importjob.StateImported:
		// fall through to post-processing
	case importjob.StateTimedOut:
		result.Outcome = contracts.OutcomeFailed
		result.Messages = append(result.Messages, contracts.ItemMessage{
			Level:      "error",
			ReasonCode: contracts.ReasonCodeImportTimedOut,
			Text:       fmt.Sprintf("import did not reach a terminal state within %d polls", pollResult.Attempts),
		})
		return result
	default:
		result.Outcome = contracts.OutcomeFailed
		detail := pollResult.FailureDetail
		if detail == "" {
			detail = "no failure detail reported"
		}
		result.Messages = append(result.Messages, contracts.ItemMessage{
			Level:      "error",
			ReasonCode: contracts.ReasonCodeImportFailed,
			Text:       "import failed: " + detail,
		})
		return result
	}

	result.Outcome = contracts.OutcomeCreated
	result.IssueURL = pollResult.IssueURL
	if number, numberErr := github.IssueNumberFromURL(pollResult.IssueURL); numberErr == nil {
		result.IssueNumber = number
	}

	p.dispatchPostProcessing(ctx, item, &result)
	return result
}

func importRequest(built payload.IssuePayload) github.ImportRequest {
	request := github.ImportRequest{
		Issue: github.ImportIssue{Title: built.Title, Body: built.Body},
	}
	if built.Label != "" {
		request.Issue.Labels = []string{built.Label}
	}
	for _, comment := range built.Comments {
		request.Comments = append(request.Comments, github.ImportComment{Body: comment})
	}
	return request
}

func tally(counts *contracts.AggregateCounts, item ItemResult) {
	counts.Processed++
	switch item.Outcome {
	case contracts.OutcomeCreated:
		counts.Created++
	case contracts.OutcomeSkipped:
		counts.Skipped++
	case contracts.OutcomeFailed:
		counts.Failed++
	}
	counts.Warnings += countWarnings(item.Messages)
}

func countWarnings(messages []contracts.ItemMessage) int {
	warnings := 0
	for _, message := range messages {
		if strings.EqualFold(message.Level, "warning") {
			warnings++
		}
	}
	return warnings
}

func (p Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}
