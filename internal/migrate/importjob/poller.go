package importjob

import (
	"context"
	"time"

	"github.com/pat/workitem-migrate/internal/contracts"
	"github.com/pat/workitem-migrate/internal/github"
	"github.com/pat/workitem-migrate/internal/httpclient"
)

// StatusChecker observes the job status endpoint once.
type StatusChecker interface {
	CheckImport(ctx context.Context, job github.ImportJob) (github.StatusObservation, error)
}

// Result is the terminal outcome of driving one job to completion.
type Result struct {
	State         State
	IssueURL      string
	FailureDetail string
	Attempts      int
}

// Poller drives the state machine with a fixed interval and a hard
// attempt budget so one stalled import cannot hang the batch.
type Poller struct {
	Checker     StatusChecker
	Interval    time.Duration
	MaxAttempts int
	Sleeper     httpclient.Sleeper
}

// Await polls until the job reaches a terminal state or the attempt
// budget runs out. Exhaustion yields StateTimedOut as a result, not an
// error; only hard status-check failures return an error.
func (p Poller) Await(ctx context.Context, job github.ImportJob) (Result, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = contracts.DefaultPollInterval
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = contracts.DefaultMaxPollAttempts
	}

	state := StateSubmitted
	result := Result{}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			result.State = state
			result.Attempts = attempt - 1
			return result, err
		}

		observation, err := p.Checker.CheckImport(ctx, job)
		if err != nil {
			result.State = StateFailed
			result.Attempts = attempt
			return result, err
		}

		state = Next(state, observation)
		result.Attempts = attempt

		if state.Terminal() {
			result.State = state
			result.IssueURL = observation.IssueURL
			result.FailureDetail = observation.FailureDetail
			return result, nil
		}

		if attempt < maxAttempts {
			p.sleep(interval)
		}
	}

	result.State = StateTimedOut
	return result, nil
}

func (p Poller) sleep(interval time.Duration) {
	if p.Sleeper != nil {
		p.Sleeper.Sleep(interval)
		return
	}
	time.Sleep(interval)
}
