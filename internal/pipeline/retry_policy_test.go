package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldRetryNilError(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, time.Second)
	require.False(t, p.ShouldRetry(nil, 0))
}

func TestShouldRetryStopsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(2, time.Millisecond, time.Second)
	err := errors.New("boom")
	require.True(t, p.ShouldRetry(err, 0))
	require.True(t, p.ShouldRetry(err, 1))
	require.False(t, p.ShouldRetry(err, 2))
}

func TestShouldRetryContextErrors(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, time.Second)
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
}

func TestShouldRetryStatusCodes(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, time.Second)
	require.True(t, p.ShouldRetry(&StatusError{StatusCode: 500}, 0))
	require.True(t, p.ShouldRetry(&StatusError{StatusCode: 503}, 0))
	require.False(t, p.ShouldRetry(&StatusError{StatusCode: 404}, 0))
	require.False(t, p.ShouldRetry(&StatusError{StatusCode: 429}, 0))
}

func TestShouldRetryWrappedStatusError(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, time.Second)
	wrapped := errors.Join(errors.New("page 2"), &StatusError{StatusCode: 502})
	require.True(t, p.ShouldRetry(wrapped, 0))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(10, 100*time.Millisecond, 400*time.Millisecond)

	first := p.Backoff(1)
	require.GreaterOrEqual(t, first, 100*time.Millisecond)
	require.Less(t, first, 200*time.Millisecond)

	// Past the cap the delay stays bounded regardless of attempt.
	huge := p.Backoff(30)
	require.GreaterOrEqual(t, huge, 400*time.Millisecond)
	require.LessOrEqual(t, huge, 500*time.Millisecond)
}
