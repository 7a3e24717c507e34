package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pat/workitem-migrate/internal/contracts"
	"github.com/pat/workitem-migrate/internal/devops"
	"github.com/pat/workitem-migrate/internal/github"
	"github.com/pat/workitem-migrate/internal/migrate/importjob"
)

type markCall struct {
	id   int
	tags []string
	note string
}

type fakeSource struct {
	items       map[int]devops.WorkItem
	itemErrs    map[int]error
	itemPanics  map[int]string
	comments    map[int][]devops.Comment
	commentsErr error
	markErr     error
	marks       []markCall
}

func (s *fakeSource) GetWorkItem(_ context.Context, id int) (devops.WorkItem, error) {
	if message, ok := s.itemPanics[id]; ok {
		panic(message)
	}
	if err, ok := s.itemErrs[id]; ok {
		return devops.WorkItem{}, err
	}
	item, ok := s.items[id]
	if !ok {
		return devops.WorkItem{}, &devops.Error{Code: devops.ErrorCodeNotFound, Message: fmt.Sprintf("work item %d not found", id)}
	}
	return item, nil
}

func (s *fakeSource) GetComments(_ context.Context, id int) ([]devops.Comment, error) {
	if s.commentsErr != nil {
		return nil, s.commentsErr
	}
	return s.comments[id], nil
}

func (s *fakeSource) MarkMigrated(_ context.Context, id int, tags []string, note string) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.marks = append(s.marks, markCall{id: id, tags: tags, note: note})
	return nil
}

type fakeTarget struct {
	submitted []github.ImportRequest
	submitErr error
	assigned  map[int][]string
	assignErr error
	closed    []int
	closeErr  error
	nextJobID int
}

func (t *fakeTarget) StartImport(_ context.Context, request github.ImportRequest) (github.ImportJob, error) {
	if t.submitErr != nil {
		return github.ImportJob{}, t.submitErr
	}
	t.nextJobID++
	t.submitted = append(t.submitted, request)
	return github.ImportJob{StatusURL: fmt.Sprintf("https://api.github.com/repos/acme/app/import/issues/%d", t.nextJobID)}, nil
}

func (t *fakeTarget) AddAssignees(_ context.Context, issueNumber int, assignees []string) error {
	if t.assignErr != nil {
		return t.assignErr
	}
	if t.assigned == nil {
		t.assigned = map[int][]string{}
	}
	t.assigned[issueNumber] = append(t.assigned[issueNumber], assignees...)
	return nil
}

func (t *fakeTarget) CloseIssue(_ context.Context, issueNumber int) error {
	if t.closeErr != nil {
		return t.closeErr
	}
	t.closed = append(t.closed, issueNumber)
	return nil
}

// importedChecker reports every job as imported on the first poll, with
// an issue number derived from the job handle.
type importedChecker struct{}

func (importedChecker) CheckImport(_ context.Context, job github.ImportJob) (github.StatusObservation, error) {
	slash := strings.LastIndex(job.StatusURL, "/")
	return github.StatusObservation{
		HTTPStatus: 200,
		Status:     "imported",
		IssueURL:   "https://github.com/acme/app/issues/10" + job.StatusURL[slash+1:],
	}, nil
}

type staticChecker struct {
	observation github.StatusObservation
	err         error
}

func (c staticChecker) CheckImport(context.Context, github.ImportJob) (github.StatusObservation, error) {
	return c.observation, c.err
}

type noopSleeper struct{}

func (noopSleeper) Sleep(time.Duration) {}

func newTestPipeline(source Source, target Target, checker importjob.StatusChecker, options Options) Pipeline {
	return Pipeline{
		Source:  source,
		Target:  target,
		Poller:  importjob.Poller{Checker: checker, Sleeper: noopSleeper{}, MaxAttempts: 3},
		Options: options,
		Now:     func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func workItem(id int, title string) devops.WorkItem {
	return devops.WorkItem{
		ID:     id,
		Title:  title,
		Type:   "User Story",
		State:  "Active",
		WebURL: fmt.Sprintf("https://dev.azure.com/acme/Fabrikam/_workitems/edit/%d", id),
	}
}

func TestExecuteIsolatesPerItemFailures(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		items: map[int]devops.WorkItem{
			41: workItem(41, "First"),
			43: workItem(43, "Third"),
		},
		itemErrs: map[int]error{
			42: errors.New("service unavailable"),
		},
	}
	target := &fakeTarget{}
	pipeline := newTestPipeline(source, target, importedChecker{}, Options{})

	result, err := pipeline.Execute(context.Background(), []int{41, 42, 43})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(result.Items) != 3 {
		t.Fatalf("item count = %d, want 3", len(result.Items))
	}
	if got := []int{result.Items[0].ID, result.Items[1].ID, result.Items[2].ID}; got[0] != 41 || got[1] != 42 || got[2] != 43 {
		t.Fatalf("result order = %v, want [41 42 43]", got)
	}
	if result.Items[0].Outcome != contracts.OutcomeCreated {
		t.Errorf("item 41 outcome = %q, want created", result.Items[0].Outcome)
	}
	if result.Items[1].Outcome != contracts.OutcomeSkipped {
		t.Errorf("item 42 outcome = %q, want skipped", result.Items[1].Outcome)
	}
	if result.Items[1].Messages[0].ReasonCode != contracts.ReasonCodeFetchFailed {
		t.Errorf("item 42 reason = %q, want fetch_failed", result.Items[1].Messages[0].ReasonCode)
	}
	if result.Items[2].Outcome != contracts.OutcomeCreated {
		t.Errorf("item 43 outcome = %q, want created", result.Items[2].Outcome)
	}
	if len(target.submitted) != 2 {
		t.Errorf("submissions = %d, want 2", len(target.submitted))
	}

	want := contracts.AggregateCounts{Processed: 3, Created: 2, Skipped: 1}
	if result.Counts != want {
		t.Errorf("counts = %+v, want %+v", result.Counts, want)
	}
}

func TestExecuteSkipsMissingItems(t *testing.T) {
	t.Parallel()

	source := &fakeSource{items: map[int]devops.WorkItem{}}
	pipeline := newTestPipeline(source, &fakeTarget{}, importedChecker{}, Options{})

	result, err := pipeline.Execute(context.Background(), []int{7})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	item := result.Items[0]
	if item.Outcome != contracts.OutcomeSkipped {
		t.Fatalf("outcome = %q, want skipped", item.Outcome)
	}
	if item.Messages[0].ReasonCode != contracts.ReasonCodeItemNotFound {
		t.Errorf("reason = %q, want item_not_found", item.Messages[0].ReasonCode)
	}
}

func TestExecuteSkipsEmptyTitleWithoutSubmitting(t *testing.T) {
	t.Parallel()

	source := &fakeSource{items: map[int]devops.WorkItem{5: workItem(5, "   ")}}
	target := &fakeTarget{}
	pipeline := newTestPipeline(source, target, importedChecker{}, Options{})

	result, err := pipeline.Execute(context.Background(), []int{5})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Items[0].Outcome != contracts.OutcomeSkipped {
		t.Fatalf("outcome = %q, want skipped", result.Items[0].Outcome)
	}
	if result.Items[0].Messages[0].ReasonCode != contracts.ReasonCodeEmptyTitle {
		t.Errorf("reason = %q, want empty_title", result.Items[0].Messages[0].ReasonCode)
	}
	if len(target.submitted) != 0 {
		t.Errorf("submissions = %d, want 0", len(target.submitted))
	}
}

func TestExecuteClosesIssueForClosedStates(t *testing.T) {
	t.Parallel()

	resolved := workItem(11, "Resolved item")
	resolved.State = "Resolved"
	active := workItem(12, "Active item")

	source := &fakeSource{items: map[int]devops.WorkItem{11: resolved, 12: active}}
	target := &fakeTarget{}
	pipeline := newTestPipeline(source, target, importedChecker{}, Options{})

	result, err := pipeline.Execute(context.Background(), []int{11, 12})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(target.closed) != 1 {
		t.Fatalf("closed issues = %v, want exactly one", target.closed)
	}
	if result.Items[0].IssueNumber != target.closed[0] {
		t.Errorf("closed issue %d, want %d", target.closed[0], result.Items[0].IssueNumber)
	}
	for _, item := range result.Items {
		if item.Outcome != contracts.OutcomeCreated {
			t.Errorf("item %d outcome = %q, want created", item.ID, item.Outcome)
		}
	}
}

func TestExecuteAppliesAssignmentAndTagging(t *testing.T) {
	t.Parallel()

	item := workItem(21, "Assigned item")
	item.Assignee = &devops.Identity{DisplayName: "Jane Doe", UniqueName: "jane.doe@example.com"}
	item.Tags = []string{"backend"}

	source := &fakeSource{items: map[int]devops.WorkItem{21: item}}
	target := &fakeTarget{}
	pipeline := newTestPipeline(source, target, importedChecker{}, Options{
		UpdateAssignees: true,
		AssigneeSuffix:  "_corp",
		Production:      true,
	})

	result, err := pipeline.Execute(context.Background(), []int{21})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	created := result.Items[0]
	if created.Outcome != contracts.OutcomeCreated {
		t.Fatalf("outcome = %q, want created", created.Outcome)
	}
	assignees := target.assigned[created.IssueNumber]
	if len(assignees) != 1 || assignees[0] != "jane-doe_corp" {
		t.Errorf("assignees = %v, want [jane-doe_corp]", assignees)
	}
	if len(source.marks) != 1 {
		t.Fatalf("mark calls = %d, want 1", len(source.marks))
	}
	mark := source.marks[0]
	if mark.id != 21 {
		t.Errorf("marked item = %d, want 21", mark.id)
	}
	wantTags := []string{"backend", contracts.DefaultMarkerTag}
	if len(mark.tags) != len(wantTags) || mark.tags[0] != wantTags[0] || mark.tags[1] != wantTags[1] {
		t.Errorf("tags = %v, want %v", mark.tags, wantTags)
	}
	if !strings.Contains(mark.note, created.IssueURL) {
		t.Errorf("note %q does not mention issue URL", mark.note)
	}
	if len(created.Effects) != 2 {
		t.Fatalf("effects = %+v, want assignment and tagging", created.Effects)
	}
	for _, effect := range created.Effects {
		if effect.Status != EffectStatusOK {
			t.Errorf("effect %s status = %q, want ok", effect.Name, effect.Status)
		}
	}
}

func TestExecuteEffectFailuresDowngradeToWarnings(t *testing.T) {
	t.Parallel()

	item := workItem(31, "Warned item")
	item.Assignee = &devops.Identity{UniqueName: "jane.doe@example.com"}
	item.State = "Done"

	source := &fakeSource{items: map[int]devops.WorkItem{31: item}, markErr: errors.New("patch rejected")}
	target := &fakeTarget{assignErr: errors.New("no such user"), closeErr: errors.New("forbidden")}
	pipeline := newTestPipeline(source, target, importedChecker{}, Options{
		UpdateAssignees: true,
		Production:      true,
	})

	result, err := pipeline.Execute(context.Background(), []int{31})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	created := result.Items[0]
	if created.Outcome != contracts.OutcomeCreated {
		t.Fatalf("outcome = %q, effect failures must not change outcome", created.Outcome)
	}
	if got := countWarnings(created.Messages); got != 3 {
		t.Fatalf("warnings = %d, want 3 (assignment, closing, tagging)", got)
	}
	wantReasons := map[contracts.ReasonCode]bool{
		contracts.ReasonCodeAssignmentFailed: false,
		contracts.ReasonCodeCloseFailed:      false,
		contracts.ReasonCodeTaggingFailed:    false,
	}
	for _, message := range created.Messages {
		if _, ok := wantReasons[message.ReasonCode]; ok {
			wantReasons[message.ReasonCode] = true
		}
	}
	for reason, seen := range wantReasons {
		if !seen {
			t.Errorf("missing warning %q", reason)
		}
	}
	if result.Counts.Warnings != 3 {
		t.Errorf("counts.Warnings = %d, want 3", result.Counts.Warnings)
	}
}

func TestExecuteCommentFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		items:       map[int]devops.WorkItem{41: workItem(41, "Commented")},
		commentsErr: errors.New("comments endpoint down"),
	}
	target := &fakeTarget{}
	pipeline := newTestPipeline(source, target, importedChecker{}, Options{MigrateComments: true})

	result, err := pipeline.Execute(context.Background(), []int{41})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	created := result.Items[0]
	if created.Outcome != contracts.OutcomeCreated {
		t.Fatalf("outcome = %q, want created despite comment failure", created.Outcome)
	}
	if created.Messages[0].ReasonCode != contracts.ReasonCodeCommentsUnavailable {
		t.Errorf("reason = %q, want comments_unavailable", created.Messages[0].ReasonCode)
	}
}

func TestExecuteReportsImportFailure(t *testing.T) {
	t.Parallel()

	source := &fakeSource{items: map[int]devops.WorkItem{51: workItem(51, "Doomed")}}
	checker := staticChecker{observation: github.StatusObservation{
		HTTPStatus:    200,
		Status:        "failed",
		FailureDetail: "label: invalid (user story)",
	}}
	pipeline := newTestPipeline(source, &fakeTarget{}, checker, Options{})

	result, err := pipeline.Execute(context.Background(), []int{51})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	failed := result.Items[0]
	if failed.Outcome != contracts.OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", failed.Outcome)
	}
	if failed.Messages[0].ReasonCode != contracts.ReasonCodeImportFailed {
		t.Errorf("reason = %q, want import_failed", failed.Messages[0].ReasonCode)
	}
	if !strings.Contains(failed.Messages[0].Text, "label: invalid (user story)") {
		t.Errorf("message %q missing failure detail", failed.Messages[0].Text)
	}
}

func TestExecuteReportsImportTimeout(t *testing.T) {
	t.Parallel()

	source := &fakeSource{items: map[int]devops.WorkItem{52: workItem(52, "Stuck")}}
	checker := staticChecker{observation: github.StatusObservation{HTTPStatus: 200, Status: "pending"}}
	pipeline := newTestPipeline(source, &fakeTarget{}, checker, Options{})

	result, err := pipeline.Execute(context.Background(), []int{52})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Items[0].Outcome != contracts.OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", result.Items[0].Outcome)
	}
	if result.Items[0].Messages[0].ReasonCode != contracts.ReasonCodeImportTimedOut {
		t.Errorf("reason = %q, want import_timed_out", result.Items[0].Messages[0].ReasonCode)
	}
}

func TestExecuteRecoversFromItemPanic(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		items:      map[int]devops.WorkItem{61: workItem(61, "Before"), 63: workItem(63, "After")},
		itemPanics: map[int]string{62: "nil map write"},
	}
	pipeline := newTestPipeline(source, &fakeTarget{}, importedChecker{}, Options{})

	result, err := pipeline.Execute(context.Background(), []int{61, 62, 63})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Items[1].Outcome != contracts.OutcomeFailed {
		t.Fatalf("panicked item outcome = %q, want failed", result.Items[1].Outcome)
	}
	if result.Items[1].Messages[0].ReasonCode != contracts.ReasonCodeInternalError {
		t.Errorf("reason = %q, want internal_error", result.Items[1].Messages[0].ReasonCode)
	}
	if result.Items[0].Outcome != contracts.OutcomeCreated || result.Items[2].Outcome != contracts.OutcomeCreated {
		t.Errorf("neighbouring items must still be migrated: %+v", result.Items)
	}
}

func TestExecuteDryRunSubmitsNothing(t *testing.T) {
	t.Parallel()

	item := workItem(71, "Dry item")
	item.State = "Done"
	source := &fakeSource{items: map[int]devops.WorkItem{71: item}}
	target := &fakeTarget{}
	pipeline := newTestPipeline(source, target, nil, Options{DryRun: true, Production: true})

	result, err := pipeline.Execute(context.Background(), []int{71})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(target.submitted) != 0 || len(target.closed) != 0 || len(source.marks) != 0 {
		t.Fatalf("dry run must not touch either service")
	}
	if result.Items[0].Outcome != contracts.OutcomeSkipped {
		t.Errorf("outcome = %q, want skipped", result.Items[0].Outcome)
	}
	if result.Items[0].Messages[0].Level != "info" {
		t.Errorf("dry run message level = %q, want info", result.Items[0].Messages[0].Level)
	}
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	source := &fakeSource{items: map[int]devops.WorkItem{1: workItem(1, "One")}}
	pipeline := newTestPipeline(source, &fakeTarget{}, importedChecker{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pipeline.Execute(ctx, []int{1, 2})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestMergeTags(t *testing.T) {
	t.Parallel()

	got := mergeTags([]string{"backend", "Migrated-To-GitHub"}, "migrated-to-github")
	if len(got) != 2 || got[0] != "backend" || got[1] != "migrated-to-github" {
		t.Fatalf("mergeTags = %v, want [backend migrated-to-github]", got)
	}
}
