package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoMessage reports that a queue fetch found nothing before its wait
// window closed. Callers poll again.
var ErrNoMessage = errors.New("no message available")

// Publisher sends a JSON-encoded payload to a broker subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Delivery is one in-flight message. Ack removes it; Nak asks the broker to
// redeliver it.
type Delivery interface {
	Data() []byte
	Ack() error
	Nak() error
}

// Queue hands out deliveries one at a time. Next returns ErrNoMessage when
// the wait window expires empty.
type Queue interface {
	Next(ctx context.Context) (Delivery, error)
}

// SourceClient fetches one page of a provider timeline.
type SourceClient interface {
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
}

// AccountStore lists the accounts the scheduler seeds jobs for.
type AccountStore interface {
	ListAccounts(ctx context.Context) ([]Account, error)
}

// SubscriptionStore loads the active subscriptions for one source.
type SubscriptionStore interface {
	ActiveSubscriptions(ctx context.Context, sourceID int64) ([]Subscription, error)
}

// RetryPolicy decides whether a failed attempt is worth repeating and how
// long to wait before it.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock abstracts time.Now for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints ids for jobs and notification events.
type IDGenerator interface {
	NewID() (string, error)
}

// StatusError is a non-200 response from an external source.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Transient reports whether a retry could plausibly succeed. Server-side
// failures are transient; client errors are not.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500
}
