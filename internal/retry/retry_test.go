package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return "upstream error" }
func (e *statusErr) HTTPStatusCode() int { return e.code }

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 4, InitialDelay: time.Millisecond, ShouldRetry: RetryableHTTP}
	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		if calls < 3 {
			return &statusErr{code: 503}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, ShouldRetry: RetryableHTTP}
	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		return &statusErr{code: 500}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoDoesNotRetryNonRetryable(t *testing.T) {
	for _, code := range []int{401, 403, 404, 400} {
		p := Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, ShouldRetry: RetryableHTTP}
		calls := 0
		err := Do(context.Background(), p, func() error {
			calls++
			return &statusErr{code: code}
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls, "status %d must not retry", code)
	}
}

func TestDoDoesNotRetryPlainErrors(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, ShouldRetry: RetryableHTTP}
	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		return errors.New("parse failure")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := Policy{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, ShouldRetry: RetryableHTTP}
	err := Do(ctx, p, func() error {
		return &statusErr{code: 429}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryableHTTPClassification(t *testing.T) {
	assert.True(t, RetryableHTTP(&statusErr{code: 429}))
	assert.True(t, RetryableHTTP(&statusErr{code: 502}))
	assert.False(t, RetryableHTTP(&statusErr{code: 404}))
	assert.False(t, RetryableHTTP(errors.New("no status")))
}
