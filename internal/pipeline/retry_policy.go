package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"
)

// ExponentialRetryPolicy retries transient errors with jittered exponential
// backoff, up to a fixed number of retries per operation.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy constructs the policy. maxAttempts counts
// retries, not total attempts.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// ShouldRetry reports whether the attempt-th retry should run after err.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the jittered delay before the attempt-th retry.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.baseDelay << (attempt - 1)
	if delay > p.maxDelay || delay <= 0 {
		delay = p.maxDelay
	}
	// Up to 25% jitter keeps concurrent workers from retrying in lockstep.
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
