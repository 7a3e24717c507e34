// pattern: Functional Core
package importjob

import (
	"net/http"
	"strings"

	"github.com/pat/workitem-migrate/internal/github"
)

// State is the import job's polling state.
type State string

const (
	// StateSubmitted is the initial state; the job has a status handle
	// but has not been observed yet.
	StateSubmitted State = "submitted"
	// StateNotFoundYet means the status endpoint returned 404: the job
	// exists but is not visible yet.
	StateNotFoundYet State = "not_found_yet"
	StatePending     State = "pending"
	StateImporting   State = "importing"
	StateImported    State = "imported"
	StateFailed      State = "failed"
	// StateTimedOut is assigned by the poller when the attempt budget is
	// exhausted without a terminal observation.
	StateTimedOut State = "timed_out"
)

// Terminal reports whether polling must stop.
func (s State) Terminal() bool {
	return s == StateImported || s == StateFailed || s == StateTimedOut
}

// Next is the pure transition function over one status observation.
// Unrecognized status strings are transient so newer service statuses
// keep the poll loop alive instead of failing the item.
func Next(current State, observation github.StatusObservation) State {
	if current.Terminal() {
		return current
	}
	if observation.HTTPStatus == http.StatusNotFound {
		return StateNotFoundYet
	}

	switch strings.ToLower(strings.TrimSpace(observation.Status)) {
	case "imported":
		return StateImported
	case "failed":
		return StateFailed
	case "importing":
		return StateImporting
	default:
		return StatePending
	}
}
