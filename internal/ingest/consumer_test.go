package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gramwatch/gramwatch/internal/metrics"
	"github.com/gramwatch/gramwatch/internal/pipeline"
)

type fakeDelivery struct {
	mu    sync.Mutex
	data  []byte
	acked bool
	naked bool
}

func newBatchDelivery(t *testing.T, batch pipeline.Batch) *fakeDelivery {
	t.Helper()
	data, err := json.Marshal(batch)
	require.NoError(t, err)
	return &fakeDelivery{data: data}
}

func (d *fakeDelivery) Data() []byte { return d.data }

func (d *fakeDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nak() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.naked = true
	return nil
}

func (d *fakeDelivery) state() (acked, naked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked, d.naked
}

type fakeQueue struct {
	mu         sync.Mutex
	deliveries []pipeline.Delivery
}

func (q *fakeQueue) Next(ctx context.Context) (pipeline.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.deliveries) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
			return nil, pipeline.ErrNoMessage
		}
	}
	d := q.deliveries[0]
	q.deliveries = q.deliveries[1:]
	return d, nil
}

type fakeStore struct {
	mu      sync.Mutex
	saveErr error
	saved   []pipeline.Batch
	subs    []pipeline.Subscription
	subsErr error
}

func (s *fakeStore) SaveBatch(_ context.Context, batch pipeline.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, batch)
	return nil
}

func (s *fakeStore) ActiveSubscriptions(_ context.Context, _ int64) ([]pipeline.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs, s.subsErr
}

func (s *fakeStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	subjects []string
	events   []pipeline.NotificationEvent
}

func (p *fakePublisher) Publish(_ context.Context, subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, payload.(pipeline.NotificationEvent))
	return nil
}

func (p *fakePublisher) published() []pipeline.NotificationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]pipeline.NotificationEvent, len(p.events))
	copy(out, p.events)
	return out
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("evt-%d", g.n), nil
}

func newTestConsumer(queue *fakeQueue, store *fakeStore, publisher *fakePublisher) *Consumer {
	metrics.Init()
	return New(queue, store, publisher, &seqIDs{}, Config{NotifySubject: "notifier.events"}, zap.NewNop())
}

func testBatch() pipeline.Batch {
	return pipeline.Batch{
		SourceID: 7,
		Username: "nasa",
		Items: []pipeline.Item{
			{ExternalUID: "1", Description: "liftoff #nasa #space", LikeCount: 5, Tags: []string{"nasa", "space"}},
			{ExternalUID: "2", Description: "crew photo #space", LikeCount: 3, Tags: []string{"space"}},
			{ExternalUID: "3", Description: "no tags here", LikeCount: 1},
		},
	}
}

func TestConsumerPersistsAndNotifiesMatchedSubscribers(t *testing.T) {
	t.Parallel()

	delivery := newBatchDelivery(t, testBatch())
	queue := &fakeQueue{deliveries: []pipeline.Delivery{delivery}}
	store := &fakeStore{subs: []pipeline.Subscription{
		{SubscriberID: 100, SourceID: 7, FollowTags: []string{"nasa"}},
		{SubscriberID: 200, SourceID: 7, FollowTags: []string{"space", "nasa"}},
		{SubscriberID: 300, SourceID: 7, FollowTags: []string{"food"}},
	}}
	publisher := &fakePublisher{}
	c := newTestConsumer(queue, store, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		return len(publisher.published()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	acked, _ := delivery.state()
	require.True(t, acked)
	require.Equal(t, 1, store.savedCount())

	events := publisher.published()

	// Subscriber 100 follows only #nasa; item 2 carries #space alone and is
	// excluded from their event.
	require.Equal(t, int64(100), events[0].SubscriberID)
	require.Equal(t, []string{"nasa"}, events[0].MatchedTags)
	require.Len(t, events[0].Items, 1)
	require.Equal(t, "1", events[0].Items[0].ExternalUID)

	// Subscriber 200 matches both tags and sees both tagged items.
	require.Equal(t, int64(200), events[1].SubscriberID)
	require.Equal(t, []string{"nasa", "space"}, events[1].MatchedTags)
	require.Len(t, events[1].Items, 2)

	require.Equal(t, "nasa", events[0].Username)
	require.NotEmpty(t, events[0].ID)
	require.NotEqual(t, events[0].ID, events[1].ID)
	require.Equal(t, []string{"notifier.events", "notifier.events"}, publisher.subjects)
}

func TestConsumerStaysQuietWhenNothingMatches(t *testing.T) {
	t.Parallel()

	delivery := newBatchDelivery(t, testBatch())
	queue := &fakeQueue{deliveries: []pipeline.Delivery{delivery}}
	store := &fakeStore{subs: []pipeline.Subscription{
		{SubscriberID: 100, SourceID: 7, FollowTags: []string{"food", "travel"}},
	}}
	publisher := &fakePublisher{}
	c := newTestConsumer(queue, store, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		acked, _ := delivery.state()
		return acked
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, store.savedCount())
	require.Empty(t, publisher.published())
}

func TestConsumerSkipsFanOutForUntaggedBatch(t *testing.T) {
	t.Parallel()

	batch := pipeline.Batch{
		SourceID: 7,
		Items:    []pipeline.Item{{ExternalUID: "1", Description: "plain"}},
	}
	delivery := newBatchDelivery(t, batch)
	queue := &fakeQueue{deliveries: []pipeline.Delivery{delivery}}
	// Subscription lookup must not even run; a store error here would fail
	// the test through the metrics path if it did.
	store := &fakeStore{subsErr: errors.New("must not be called")}
	publisher := &fakePublisher{}
	c := newTestConsumer(queue, store, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		acked, _ := delivery.state()
		return acked
	}, 2*time.Second, 10*time.Millisecond)

	require.Empty(t, publisher.published())
}

func TestConsumerNaksWhenSaveFails(t *testing.T) {
	t.Parallel()

	delivery := newBatchDelivery(t, testBatch())
	queue := &fakeQueue{deliveries: []pipeline.Delivery{delivery}}
	store := &fakeStore{
		saveErr: errors.New("deadlock detected"),
		subs:    []pipeline.Subscription{{SubscriberID: 100, FollowTags: []string{"nasa"}}},
	}
	publisher := &fakePublisher{}
	c := newTestConsumer(queue, store, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		_, naked := delivery.state()
		return naked
	}, 2*time.Second, 10*time.Millisecond)

	// Nothing stored, nothing published.
	require.Equal(t, 0, store.savedCount())
	require.Empty(t, publisher.published())
}

func TestConsumerAcksMalformedBatch(t *testing.T) {
	t.Parallel()

	delivery := &fakeDelivery{data: []byte("{not json")}
	queue := &fakeQueue{deliveries: []pipeline.Delivery{delivery}}
	store := &fakeStore{}
	publisher := &fakePublisher{}
	c := newTestConsumer(queue, store, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		acked, _ := delivery.state()
		return acked
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 0, store.savedCount())
}

func TestConsumerKeepsBatchWhenPublishFails(t *testing.T) {
	t.Parallel()

	delivery := newBatchDelivery(t, testBatch())
	queue := &fakeQueue{deliveries: []pipeline.Delivery{delivery}}
	store := &fakeStore{subs: []pipeline.Subscription{
		{SubscriberID: 100, SourceID: 7, FollowTags: []string{"nasa"}},
	}}
	publisher := &fakePublisher{err: errors.New("broker unavailable")}
	c := newTestConsumer(queue, store, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// The batch stays committed and acked even though the notification was
	// dropped.
	require.Eventually(t, func() bool {
		acked, _ := delivery.state()
		return acked
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, store.savedCount())
	_, naked := delivery.state()
	require.False(t, naked)
}
