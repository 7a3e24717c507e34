package contracts

import "errors"

const JSONEnvelopeVersionV1 = "1"

type OutputMode string

const (
	OutputModeHuman OutputMode = "human"
	OutputModeJSON  OutputMode = "json"
)

type ExitCode int

const (
	ExitCodeSuccess ExitCode = 0
	ExitCodeFatal   ExitCode = 1
	ExitCodePartial ExitCode = 2
)

// ExitCodeMeaning freezes the CLI matrix semantics.
var ExitCodeMeaning = map[ExitCode]string{
	ExitCodeSuccess: "all selected items migrated without warnings",
	ExitCodePartial: "run completed but some items were skipped/failed or carry warnings",
	ExitCodeFatal:   "fatal command failure (setup/config/auth/transport)",
}

// Outcome is the terminal per-item classification.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

type CommandEnvelope struct {
	EnvelopeVersion string          `json:"envelope_version"`
	Command         CommandMeta     `json:"command"`
	Counts          AggregateCounts `json:"counts"`
	Items           []PerItemResult `json:"items,omitempty"`
}

type CommandMeta struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	DryRun     bool   `json:"dry_run"`
}

type AggregateCounts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Warnings  int `json:"warnings"`
}

type PerItemResult struct {
	ID       int           `json:"id"`
	Title    string        `json:"title,omitempty"`
	Outcome  Outcome       `json:"outcome"`
	IssueURL string        `json:"issue_url,omitempty"`
	Messages []ItemMessage `json:"messages,omitempty"`
}

type ItemMessage struct {
	Level      string     `json:"level"`
	ReasonCode ReasonCode `json:"reason_code,omitempty"`
	Text       string     `json:"text"`
}

func ValidateEnvelopeBasics(env CommandEnvelope) error {
	if env.EnvelopeVersion != JSONEnvelopeVersionV1 {
		return errors.New("unsupported envelope_version")
	}
	if env.Command.Name == "" {
		return errors.New("command name is required")
	}
	return nil
}

func ResolveExitCode(counts AggregateCounts, fatalErr bool) ExitCode {
	if fatalErr {
		return ExitCodeFatal
	}
	if counts.Failed > 0 || counts.Skipped > 0 || counts.Warnings > 0 {
		return ExitCodePartial
	}
	return ExitCodeSuccess
}
