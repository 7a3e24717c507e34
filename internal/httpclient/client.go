package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pat/workitem-migrate/internal/contracts"
)

// Doer abstracts the underlying HTTP transport so adapters can be
// tested with fakes.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sleeper decouples backoff waits from wall-clock time.
type Sleeper interface {
	Sleep(d time.Duration)
}

type Options struct {
	Timeout      time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	RetryOnCodes map[int]struct{}
}

// Client replays idempotent requests on transient transport failures
// and retryable status codes, with exponential backoff capped by a
// fixed attempt budget.
type Client struct {
	doer        Doer
	timeout     time.Duration
	maxAttempts int
	baseBackoff time.Duration
	retryCodes  map[int]struct{}
	sleeper     Sleeper
}

func New(doer Doer, options Options) *Client {
	resolved := withDefaults(options)
	if doer == nil {
		doer = &http.Client{Timeout: resolved.Timeout}
	}

	return &Client{
		doer:        doer,
		timeout:     resolved.Timeout,
		maxAttempts: resolved.MaxAttempts,
		baseBackoff: resolved.BaseBackoff,
		retryCodes:  resolved.RetryOnCodes,
		sleeper:     timeSleeper{},
	}
}

func (c *Client) WithSleeper(sleeper Sleeper) *Client {
	if c == nil || sleeper == nil {
		return c
	}

	clone := *c
	clone.sleeper = sleeper
	return &clone
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c == nil {
		return nil, errors.New("http client is nil")
	}
	if req == nil {
		return nil, errors.New("request is nil")
	}

	// The body must be buffered once so every attempt replays it.
	body, err := snapshotBody(req.Body)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		attemptReq, cancel := c.attemptRequest(req, body)

		resp, err := c.doer.Do(attemptReq)
		if err != nil {
			cancel()
			if !retryableError(err) || attempt == c.maxAttempts {
				return nil, err
			}
			c.sleep(backoff(c.baseBackoff, attempt))
			continue
		}

		if _, retry := c.retryCodes[resp.StatusCode]; !retry || attempt == c.maxAttempts {
			if resp.Body != nil {
				resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			} else {
				cancel()
			}
			return resp, nil
		}

		wait := backoff(c.baseBackoff, attempt)
		if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > wait {
			wait = retryAfter
		}

		drainAndClose(resp.Body)
		cancel()
		c.sleep(wait)
	}

	return nil, errors.New("request retries exhausted")
}

func (c *Client) attemptRequest(req *http.Request, body []byte) (*http.Request, context.CancelFunc) {
	clone := req.Clone(req.Context())
	if body == nil {
		clone.Body = nil
		clone.GetBody = nil
		clone.ContentLength = 0
	} else {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	if c.timeout <= 0 {
		return clone, func() {}
	}
	ctx, cancel := context.WithTimeout(clone.Context(), c.timeout)
	return clone.Clone(ctx), cancel
}

func (c *Client) sleep(duration time.Duration) {
	if duration <= 0 || c.sleeper == nil {
		return
	}
	c.sleeper.Sleep(duration)
}

func withDefaults(options Options) Options {
	resolved := options
	if resolved.Timeout <= 0 {
		resolved.Timeout = contracts.DefaultHTTPTimeout
	}
	if resolved.MaxAttempts <= 0 {
		resolved.MaxAttempts = contracts.DefaultRetryMaxAttempts
	}
	if resolved.BaseBackoff <= 0 {
		resolved.BaseBackoff = contracts.DefaultRetryBaseBackoff
	}
	if len(resolved.RetryOnCodes) == 0 {
		resolved.RetryOnCodes = map[int]struct{}{
			http.StatusTooManyRequests:     {},
			http.StatusInternalServerError: {},
			http.StatusBadGateway:          {},
			http.StatusServiceUnavailable:  {},
			http.StatusGatewayTimeout:      {},
		}
	}
	return resolved
}

func snapshotBody(body io.ReadCloser) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	defer body.Close()
	return io.ReadAll(body)
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt <= 0 {
		return 0
	}
	return time.Duration(1<<(attempt-1)) * base
}

func parseRetryAfter(value string) time.Duration {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(trimmed); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(trimmed); err == nil {
		if delta := time.Until(when); delta > 0 {
			return delta
		}
	}
	return 0
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

type timeSleeper struct{}

func (timeSleeper) Sleep(d time.Duration) {
	time.Sleep(d)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	if c == nil {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.ReadCloser == nil {
		return nil
	}
	return c.ReadCloser.Close()
}
