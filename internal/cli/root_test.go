package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/pat/workitem-migrate/internal/contracts"
)

func TestNewRootCommandRegistersMigrateAndGlobalFlags(t *testing.T) {
	root := NewRootCommand(AppContext{
		Stdout: new(bytes.Buffer),
		Stderr: new(bytes.Buffer),
	})

	for _, name := range []string{"json", "verbose", "config"} {
		if flag := root.PersistentFlags().Lookup(name); flag == nil {
			t.Fatalf("expected --%s persistent flag", name)
		}
	}

	var migrate bool
	for _, command := range root.Commands() {
		if command.Name() == "migrate" {
			migrate = true
			for _, name := range []string{"query", "ids", "limit", "production", "update-assignees", "with-comments", "dry-run"} {
				if flag := command.Flags().Lookup(name); flag == nil {
					t.Fatalf("expected --%s flag on migrate", name)
				}
			}
		}
	}
	if !migrate {
		t.Fatalf("expected migrate command to be registered")
	}
}

func TestRunFailsFastWithoutConfiguration(t *testing.T) {
	chdirTemp(t)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	exitCode := Run([]string{"migrate"}, stdout, stderr)
	if exitCode != int(contracts.ExitCodeFatal) {
		t.Fatalf("expected fatal exit code, got %d", exitCode)
	}
	if !strings.Contains(stderr.String(), "devops.org_url") {
		t.Fatalf("expected config diagnostic on stderr, got %q", stderr.String())
	}
}

func TestRunJSONModeEmitsEnvelopeOnFailure(t *testing.T) {
	chdirTemp(t)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	exitCode := Run([]string{"--json", "migrate", "--dry-run"}, stdout, stderr)
	if exitCode != int(contracts.ExitCodeFatal) {
		t.Fatalf("expected fatal exit code, got %d", exitCode)
	}

	var env contracts.CommandEnvelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("expected JSON envelope on stdout, got %v: %q", err, stdout.String())
	}
	if env.Command.Name != "migrate" || !env.Command.DryRun {
		t.Fatalf("unexpected command meta: %+v", env.Command)
	}
	if env.EnvelopeVersion != contracts.JSONEnvelopeVersionV1 {
		t.Fatalf("unexpected envelope version: %q", env.EnvelopeVersion)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	chdirTemp(t)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	exitCode := Run([]string{"synchronize"}, stdout, stderr)
	if exitCode != int(contracts.ExitCodeFatal) {
		t.Fatalf("expected fatal exit code, got %d", exitCode)
	}
}

func chdirTemp(t *testing.T) {
	t.Helper()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(cwd)
	})
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
}
