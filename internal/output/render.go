package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pat/workitem-migrate/internal/contracts"
)

// pattern: Imperative Shell

func Write(mode contracts.OutputMode, stdout io.Writer, stderr io.Writer, report Report, duration time.Duration, fatalErr error) error {
	normalized := report
	if fatalErr != nil && normalized.Counts.Failed == 0 {
		normalized.Counts.Failed = 1
	}

	switch mode {
	case contracts.OutputModeJSON:
		env, err := BuildEnvelope(normalized, duration)
		if err != nil {
			return err
		}

		if err := json.NewEncoder(stdout).Encode(env); err != nil {
			return fmt.Errorf("failed to write JSON envelope: %w", err)
		}
		if fatalErr != nil {
			if _, err := fmt.Fprintln(stderr, FormatDiagnostic(fatalErr)); err != nil {
				return fmt.Errorf("failed to write diagnostics: %w", err)
			}
		}
		return nil
	case contracts.OutputModeHuman:
		if fatalErr != nil {
			if _, err := fmt.Fprintln(stderr, FormatDiagnostic(fatalErr)); err != nil {
				return fmt.Errorf("failed to write diagnostics: %w", err)
			}
			return nil
		}

		for _, item := range normalized.Items {
			if err := writeItemLine(stdout, item); err != nil {
				return err
			}
			for _, message := range item.Messages {
				reason := ""
				if message.ReasonCode != "" {
					reason = " (" + string(message.ReasonCode) + ")"
				}
				if _, err := fmt.Fprintf(stdout, "  - %s%s: %s\n", message.Level, reason, message.Text); err != nil {
					return fmt.Errorf("failed to write human output: %w", err)
				}
			}
		}

		_, err := fmt.Fprintf(
			stdout,
			"%s: processed=%d created=%d skipped=%d failed=%d warnings=%d\n",
			normalized.CommandName,
			normalized.Counts.Processed,
			normalized.Counts.Created,
			normalized.Counts.Skipped,
			normalized.Counts.Failed,
			normalized.Counts.Warnings,
		)
		if err != nil {
			return fmt.Errorf("failed to write human output: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported output mode %q", mode)
	}
}

func writeItemLine(stdout io.Writer, item contracts.PerItemResult) error {
	line := fmt.Sprintf("- #%d [%s] %s", item.ID, item.Outcome, item.Title)
	if item.IssueURL != "" {
		line += " -> " + item.IssueURL
	}
	if _, err := fmt.Fprintln(stdout, line); err != nil {
		return fmt.Errorf("failed to write human output: %w", err)
	}
	return nil
}

func FormatDiagnostic(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "failed to execute command"
	}
	if strings.HasPrefix(msg, "failed to ") {
		return msg
	}
	return "failed to execute command: " + msg
}
