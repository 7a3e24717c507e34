package contracts

import (
	"strings"
	"time"
)

const (
	// DefaultHTTPTimeout bounds a single HTTP attempt against either service.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultRetryMaxAttempts bounds transport-level retries for idempotent calls.
	DefaultRetryMaxAttempts = 3

	// DefaultRetryBaseBackoff seeds the exponential transport backoff.
	DefaultRetryBaseBackoff = 500 * time.Millisecond

	// DefaultPollInterval is the fixed wait between import job status checks.
	DefaultPollInterval = time.Second

	// DefaultMaxPollAttempts bounds the import job wait; exhausting it
	// reclassifies the job as timed out.
	DefaultMaxPollAttempts = 60
)

const (
	// DefaultConfigFileName is looked up in the working directory.
	DefaultConfigFileName = "workitem-migrate.yaml"

	// DefaultReportDir holds per-run migration reports.
	DefaultReportDir = ".migrate"

	// EnvPrefix namespaces environment overrides (MIGRATE_*).
	EnvPrefix = "MIGRATE"

	// DefaultLockFilePath guards against concurrent runs in the same
	// working directory.
	DefaultLockFilePath = ".migrate/run.lock"
)

const (
	DefaultLockStaleAfter     = 15 * time.Minute
	DefaultLockAcquireTimeout = 5 * time.Second
	DefaultLockPollInterval   = 200 * time.Millisecond
)

// DefaultMarkerTag is appended to migrated source items so a subsequent
// run can exclude them.
const DefaultMarkerTag = "migrated-to-github"

// ClosedStates are the source states that close the created issue.
// Matching is case-insensitive.
var ClosedStates = []string{"Done", "Closed", "Resolved", "Removed"}

// IsClosedState reports whether a source state maps to a closed issue.
func IsClosedState(state string) bool {
	trimmed := strings.TrimSpace(state)
	for _, closed := range ClosedStates {
		if strings.EqualFold(trimmed, closed) {
			return true
		}
	}
	return false
}
