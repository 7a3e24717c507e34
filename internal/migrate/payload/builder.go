// pattern: Functional Core
package payload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pat/workitem-migrate/internal/devops"
)

// ErrEmptyTitle rejects a work item before any payload is constructed;
// the import endpoint requires a title and the item is skipped.
var ErrEmptyTitle = errors.New("work item title is empty")

// IssuePayload is everything the submitter needs for one item.
type IssuePayload struct {
	Title string
	Body  string
	// Label is the lower-cased work item type; mapping it to an existing
	// label on the target is the caller's precondition.
	Label string
	// Comments are ordered audit comments: the metadata comment first,
	// optionally followed by the original discussion thread.
	Comments []string
}

// Build is a pure transform from a fetched work item (plus its optional
// discussion thread) to an issue-creation payload.
func Build(item devops.WorkItem, comments []devops.Comment) (IssuePayload, error) {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return IssuePayload{}, fmt.Errorf("work item %d: %w", item.ID, ErrEmptyTitle)
	}

	body := buildBody(item)
	if strings.TrimSpace(body) == "" {
		// The import endpoint rejects empty bodies.
		body = fmt.Sprintf("Migrated from [work item %d](%s).", item.ID, item.WebURL)
	}

	auditComments := []string{buildAuditComment(item)}
	if thread := buildDiscussionComment(comments); thread != "" {
		auditComments = append(auditComments, thread)
	}

	return IssuePayload{
		Title:    title,
		Body:     body,
		Label:    strings.ToLower(strings.TrimSpace(item.Type)),
		Comments: auditComments,
	}, nil
}

func buildBody(item devops.WorkItem) string {
	if strings.EqualFold(strings.TrimSpace(item.Type), "bug") {
		var builder strings.Builder
		writeSection(&builder, "Repro Steps", RewriteRepositoryLinks(item.ReproSteps))
		writeSection(&builder, "System Info", item.SystemInfo)
		return builder.String()
	}

	var builder strings.Builder
	if description := strings.TrimSpace(item.Description); description != "" {
		builder.WriteString(description)
	}
	if criteria := strings.TrimSpace(item.AcceptanceCriteria); criteria != "" {
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		writeSection(&builder, "Acceptance Criteria", criteria)
	}
	return builder.String()
}

func writeSection(builder *strings.Builder, heading string, content string) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return
	}
	builder.WriteString("## ")
	builder.WriteString(heading)
	builder.WriteString("\n\n")
	builder.WriteString(trimmed)
	builder.WriteString("\n\n")
}

func buildAuditComment(item devops.WorkItem) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Migrated from [work item %d](%s).\n\n", item.ID, item.WebURL)
	builder.WriteString("<details><summary>Original work item metadata</summary>\n\n")
	builder.WriteString("| Field | Value |\n|---|---|\n")

	writeRow(&builder, "Created", joinByDate(item.CreatedBy, item.CreatedDate))
	writeRow(&builder, "Last changed", joinByDate(item.ChangedBy, item.ChangedDate))
	if item.Assignee != nil {
		writeRow(&builder, "Assigned to", joinNonEmpty(item.Assignee.DisplayName, item.Assignee.UniqueName, " / "))
	} else {
		writeRow(&builder, "Assigned to", "unassigned")
	}
	writeRow(&builder, "State", item.State)
	writeRow(&builder, "Type", item.Type)
	writeRow(&builder, "Area path", item.AreaPath)
	writeRow(&builder, "Iteration path", item.IterationPath)

	builder.WriteString("\n</details>")
	return builder.String()
}

func buildDiscussionComment(comments []devops.Comment) string {
	if len(comments) == 0 {
		return ""
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "<details><summary>Original discussion (%d comments)</summary>\n\n", len(comments))
	for i, comment := range comments {
		if i > 0 {
			builder.WriteString("\n\n---\n\n")
		}
		header := joinNonEmpty(comment.CreatedDate, comment.CreatedBy, " / ")
		if comment.URL != "" {
			header = joinNonEmpty(header, "[link]("+comment.URL+")", " / ")
		}
		if header != "" {
			builder.WriteString("**" + header + "**\n\n")
		}
		builder.WriteString(strings.TrimSpace(comment.Text))
	}
	builder.WriteString("\n\n</details>")
	return builder.String()
}

func writeRow(builder *strings.Builder, field string, value string) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		trimmed = "(none)"
	}
	fmt.Fprintf(builder, "| %s | %s |\n", field, escapeTableCell(trimmed))
}

func escapeTableCell(value string) string {
	escaped := strings.ReplaceAll(value, "|", "\\|")
	return strings.ReplaceAll(escaped, "\n", " ")
}

func joinByDate(author string, date string) string {
	return joinNonEmpty(strings.TrimSpace(author), strings.TrimSpace(date), ", ")
}

func joinNonEmpty(left string, right string, separator string) string {
	if left == "" {
		return right
	}
	if right == "" {
		return left
	}
	return left + separator + right
}
