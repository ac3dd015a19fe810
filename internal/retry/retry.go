// Package retry wraps fallible operations in a bounded retry loop with a
// caller-supplied retryability classifier.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy configures the retry driver.
type Policy struct {
	// MaxAttempts is the total attempt budget, including the first try.
	MaxAttempts int
	// InitialDelay is the sleep before the second attempt. The delay grows
	// by 1.5x per attempt, capped at 30s.
	InitialDelay time.Duration
	// ShouldRetry decides whether a failure is worth another attempt.
	ShouldRetry func(error) bool
}

// DefaultPolicy mirrors the vendor-client defaults: 3 attempts, 1s base delay,
// HTTP status classification.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		ShouldRetry:  RetryableHTTP,
	}
}

const maxDelay = 30 * time.Second

// Do runs op until it succeeds, the attempt budget is exhausted, the
// classifier declines, or the context is cancelled. The last error is
// returned on failure.
func Do(ctx context.Context, p Policy, op func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = RetryableHTTP
	}

	delay := p.InitialDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt >= p.MaxAttempts || !p.ShouldRetry(err) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = delay * 3 / 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatusCode() int
}

// RetryableHTTP is the classification every vendor client uses: retry on 429
// and 5xx; never on 401, 403, 404 or on errors that carry no status (parse
// and logic failures).
func RetryableHTTP(err error) bool {
	var sc StatusCoder
	if !errors.As(err, &sc) {
		return false
	}
	code := sc.HTTPStatusCode()
	if code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}
