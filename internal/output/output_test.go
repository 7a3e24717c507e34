package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pat/workitem-migrate/internal/contracts"
)

func sampleReport() Report {
	return Report{
		CommandName: "migrate",
		Counts:      contracts.AggregateCounts{Processed: 2, Created: 1, Failed: 1, Warnings: 1},
		Items: []contracts.PerItemResult{
			{
				ID:       41,
				Title:    "Login button broken",
				Outcome:  contracts.OutcomeCreated,
				IssueURL: "https://github.com/acme/app/issues/101",
				Messages: []contracts.ItemMessage{
					{Level: "warning", ReasonCode: contracts.ReasonCodeAssignmentFailed, Text: "could not assign jane-doe"},
				},
			},
			{
				ID:      42,
				Title:   "Doomed item",
				Outcome: contracts.OutcomeFailed,
				Messages: []contracts.ItemMessage{
					{Level: "error", ReasonCode: contracts.ReasonCodeImportFailed, Text: "import failed"},
				},
			},
		},
	}
}

func TestWriteJSONEmitsValidEnvelope(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if err := Write(contracts.OutputModeJSON, &stdout, &stderr, sampleReport(), 1500*time.Millisecond, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var env contracts.CommandEnvelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if err := contracts.ValidateEnvelopeBasics(env); err != nil {
		t.Fatalf("envelope invalid: %v", err)
	}
	if env.Command.Name != "migrate" || env.Command.DurationMS != 1500 {
		t.Errorf("command meta = %+v", env.Command)
	}
	if len(env.Items) != 2 {
		t.Errorf("items = %d, want 2", len(env.Items))
	}
	if stderr.Len() != 0 {
		t.Errorf("stderr = %q, want empty", stderr.String())
	}
}

func TestWriteHumanListsItemsAndSummary(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if err := Write(contracts.OutputModeHuman, &stdout, &stderr, sampleReport(), time.Second, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := stdout.String()
	for _, want := range []string{
		"- #41 [created] Login button broken -> https://github.com/acme/app/issues/101",
		"  - warning (assignment_failed): could not assign jane-doe",
		"- #42 [failed] Doomed item",
		"migrate: processed=2 created=1 skipped=0 failed=1 warnings=1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("human output missing %q\n%s", want, got)
		}
	}
}

func TestWriteHumanFatalErrorGoesToStderr(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	err := Write(contracts.OutputModeHuman, &stdout, &stderr, Report{CommandName: "migrate"}, time.Second, errors.New("config missing token"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", stdout.String())
	}
	if got := stderr.String(); !strings.Contains(got, "failed to execute command: config missing token") {
		t.Errorf("stderr = %q", got)
	}
}

func TestResolveExitCodeMatrix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		counts   contracts.AggregateCounts
		fatalErr error
		want     contracts.ExitCode
	}{
		{name: "clean run", counts: contracts.AggregateCounts{Processed: 3, Created: 3}, want: contracts.ExitCodeSuccess},
		{name: "skips are partial", counts: contracts.AggregateCounts{Processed: 3, Created: 2, Skipped: 1}, want: contracts.ExitCodePartial},
		{name: "warnings are partial", counts: contracts.AggregateCounts{Processed: 1, Created: 1, Warnings: 1}, want: contracts.ExitCodePartial},
		{name: "fatal wins", counts: contracts.AggregateCounts{Processed: 1, Created: 1}, fatalErr: errors.New("boom"), want: contracts.ExitCodeFatal},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			got := ResolveExitCode(Report{Counts: test.counts}, test.fatalErr)
			if got != test.want {
				t.Fatalf("exit code = %d, want %d", got, test.want)
			}
		})
	}
}

func TestFormatDiagnostic(t *testing.T) {
	t.Parallel()

	if got := FormatDiagnostic(errors.New("failed to load config")); got != "failed to load config" {
		t.Errorf("got %q", got)
	}
	if got := FormatDiagnostic(errors.New("token missing")); got != "failed to execute command: token missing" {
		t.Errorf("got %q", got)
	}
}
