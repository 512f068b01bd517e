// Package ingest implements the batch consumer: it persists crawled batches
// and fans matched notifications out to subscribers.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/gramwatch/gramwatch/internal/metrics"
	"github.com/gramwatch/gramwatch/internal/pipeline"
)

// Store is the persistence surface the consumer needs.
type Store interface {
	SaveBatch(ctx context.Context, batch pipeline.Batch) error
	ActiveSubscriptions(ctx context.Context, sourceID int64) ([]pipeline.Subscription, error)
}

// Config controls Consumer behavior.
type Config struct {
	NotifySubject string
}

// Consumer drains the batch queue: each batch is committed in one
// transaction, acked, and only then fanned out to subscribers. A dropped
// notification never costs the stored data.
type Consumer struct {
	batches   pipeline.Queue
	store     Store
	publisher pipeline.Publisher
	ids       pipeline.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Consumer.
func New(
	batches pipeline.Queue,
	store Store,
	publisher pipeline.Publisher,
	ids pipeline.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Consumer {
	return &Consumer{
		batches:   batches,
		store:     store,
		publisher: publisher,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming batches until the context finishes.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		delivery, err := c.batches.Next(ctx)
		if err != nil {
			if errors.Is(err, pipeline.ErrNoMessage) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("batch dequeue failed", zap.Error(err))
			continue
		}
		c.processDelivery(ctx, delivery)
	}
}

func (c *Consumer) processDelivery(ctx context.Context, delivery pipeline.Delivery) {
	var batch pipeline.Batch
	if err := json.Unmarshal(delivery.Data(), &batch); err != nil {
		c.logger.Error("malformed batch", zap.Error(err))
		c.ack(delivery)
		metrics.ObserveBatch("malformed")
		return
	}

	logger := c.logger.With(
		zap.Int64("source_id", batch.SourceID),
		zap.String("username", batch.Username),
	)

	if err := c.store.SaveBatch(ctx, batch); err != nil {
		logger.Error("batch save failed", zap.Error(err))
		c.nak(delivery)
		metrics.ObserveBatch("failed")
		return
	}

	// Ack only after the commit; redelivery replays are idempotent upserts.
	c.ack(delivery)
	metrics.ObserveBatch("succeeded")
	logger.Info("batch ingested", zap.Int("items", len(batch.Items)))

	c.fanOut(ctx, batch, logger)
}

// fanOut publishes one NotificationEvent per subscriber whose followed tags
// intersect the batch's tags. Publish failures are logged, never retried.
func (c *Consumer) fanOut(ctx context.Context, batch pipeline.Batch, logger *zap.Logger) {
	titles := batch.TagTitles()
	if len(titles) == 0 {
		return
	}

	subs, err := c.store.ActiveSubscriptions(ctx, batch.SourceID)
	if err != nil {
		logger.Error("subscription lookup failed", zap.Error(err))
		metrics.ObserveNotification("lookup_failed")
		return
	}

	batchTags := make(map[string]struct{}, len(titles))
	for _, title := range titles {
		batchTags[title] = struct{}{}
	}

	for _, sub := range subs {
		matched := intersect(batchTags, sub.FollowTags)
		if len(matched) == 0 {
			continue
		}

		id, err := c.ids.NewID()
		if err != nil {
			logger.Error("event id generation failed", zap.Error(err))
			metrics.ObserveNotification("failed")
			continue
		}
		event := pipeline.NotificationEvent{
			ID:           id,
			SubscriberID: sub.SubscriberID,
			SourceID:     batch.SourceID,
			Username:     batch.Username,
			MatchedTags:  matched,
			Items:        summarize(batch.Items, matched),
		}
		if err := c.publisher.Publish(ctx, c.cfg.NotifySubject, event); err != nil {
			logger.Error("notification publish failed",
				zap.Int64("subscriber_id", sub.SubscriberID),
				zap.Error(err),
			)
			metrics.ObserveNotification("failed")
			continue
		}
		metrics.ObserveNotification("sent")
	}
}

// intersect returns the followed tags present in the batch, sorted.
func intersect(batchTags map[string]struct{}, followed []string) []string {
	var matched []string
	for _, tag := range followed {
		if _, ok := batchTags[tag]; ok {
			matched = append(matched, tag)
		}
	}
	sort.Strings(matched)
	return matched
}

// summarize trims the batch down to the items carrying at least one matched
// tag.
func summarize(items []pipeline.Item, matched []string) []pipeline.ItemSummary {
	matchedSet := make(map[string]struct{}, len(matched))
	for _, tag := range matched {
		matchedSet[tag] = struct{}{}
	}

	var summaries []pipeline.ItemSummary
	for _, item := range items {
		for _, tag := range item.Tags {
			if _, ok := matchedSet[tag]; ok {
				summaries = append(summaries, pipeline.ItemSummary{
					ExternalUID: item.ExternalUID,
					Description: item.Description,
					LikeCount:   item.LikeCount,
				})
				break
			}
		}
	}
	return summaries
}

func (c *Consumer) ack(delivery pipeline.Delivery) {
	if err := delivery.Ack(); err != nil {
		c.logger.Warn("ack failed", zap.Error(err))
	}
}

func (c *Consumer) nak(delivery pipeline.Delivery) {
	if err := delivery.Nak(); err != nil {
		c.logger.Warn("nak failed", zap.Error(err))
	}
}
