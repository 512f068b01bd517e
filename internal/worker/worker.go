// Package worker implements the crawl worker: it consumes one job at a time
// and drives the pagination loop against the external source.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gramwatch/gramwatch/internal/metrics"
	"github.com/gramwatch/gramwatch/internal/pipeline"
)

// Config controls Worker behavior.
type Config struct {
	Kind         pipeline.SourceKind
	BatchSubject string
	FetchTimeout time.Duration
}

// Worker consumes crawl jobs for one source kind and publishes one batch per
// completed job. It stays subscribed while idle; only context cancellation
// stops it.
type Worker struct {
	jobs      pipeline.Queue
	source    pipeline.SourceClient
	publisher pipeline.Publisher
	retry     pipeline.RetryPolicy
	cfg       Config
	logger    *zap.Logger
}

// crawlState is the in-memory pagination state for one job. It dies with the
// job.
type crawlState struct {
	cursor     string
	pageNumber int
	items      []pipeline.Item
}

// New constructs a Worker.
func New(
	jobs pipeline.Queue,
	source pipeline.SourceClient,
	publisher pipeline.Publisher,
	retry pipeline.RetryPolicy,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Worker{
		jobs:      jobs,
		source:    source,
		publisher: publisher,
		retry:     retry,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		delivery, err := w.jobs.Next(ctx)
		if err != nil {
			if errors.Is(err, pipeline.ErrNoMessage) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("job dequeue failed", zap.Error(err))
			continue
		}
		w.processDelivery(ctx, delivery)
	}
}

func (w *Worker) processDelivery(ctx context.Context, delivery pipeline.Delivery) {
	var job pipeline.CrawlJob
	if err := json.Unmarshal(delivery.Data(), &job); err != nil {
		// Redelivery cannot fix a malformed payload; drop it.
		w.logger.Error("malformed crawl job", zap.Error(err))
		w.ack(delivery)
		metrics.ObserveJob(string(w.cfg.Kind), "malformed")
		return
	}
	if err := job.Validate(); err != nil {
		w.logger.Error("invalid crawl job", zap.String("job_id", job.ID), zap.Error(err))
		w.ack(delivery)
		metrics.ObserveJob(string(w.cfg.Kind), "invalid")
		return
	}

	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("username", job.Username),
	)
	logger.Debug("job accepted")

	batch, err := w.crawl(ctx, job)
	if err != nil {
		// No partial batch is ever published; the broker redelivers.
		logger.Error("crawl aborted", zap.Error(err))
		w.nak(delivery)
		metrics.ObserveJob(string(w.cfg.Kind), "failed")
		return
	}

	if err := w.publisher.Publish(ctx, w.cfg.BatchSubject, batch); err != nil {
		logger.Error("batch publish failed", zap.Error(err))
		w.nak(delivery)
		metrics.ObserveJob(string(w.cfg.Kind), "failed")
		return
	}
	w.ack(delivery)
	metrics.ObserveJob(string(w.cfg.Kind), "succeeded")
	logger.Info("batch published",
		zap.Int("items", len(batch.Items)),
		zap.Int64("source_id", batch.SourceID),
	)
}

// crawl drives the pagination loop and returns the complete accumulated
// batch, or an error and no batch at all.
func (w *Worker) crawl(ctx context.Context, job pipeline.CrawlJob) (pipeline.Batch, error) {
	state := crawlState{pageNumber: 1}
	for {
		// Cancellation is observed here, between pages, never mid-fetch.
		if err := ctx.Err(); err != nil {
			return pipeline.Batch{}, err
		}

		page, err := w.fetchPage(ctx, job, state.cursor)
		if err != nil {
			return pipeline.Batch{}, fmt.Errorf("page %d: %w", state.pageNumber, err)
		}
		state.items = append(state.items, page.Items...)

		// pageNumber == MaxPages is the last page fetched, even if the
		// source reports more.
		if !page.HasNext || state.pageNumber >= job.MaxPages {
			break
		}
		if page.EndCursor == "" || page.EndCursor == state.cursor {
			return pipeline.Batch{}, fmt.Errorf("page %d: cursor did not advance", state.pageNumber)
		}
		state.cursor = page.EndCursor
		state.pageNumber++
	}
	return pipeline.Batch{
		SourceID: job.SourceID,
		Username: job.Username,
		Items:    state.items,
	}, nil
}

// fetchPage retries transient failures with backoff. The fetch itself runs on
// a context detached from shutdown so an in-flight page always completes.
func (w *Worker) fetchPage(ctx context.Context, job pipeline.CrawlJob, cursor string) (pipeline.Page, error) {
	req := pipeline.PageRequest{
		Username: job.Username,
		PageSize: job.PageSize,
		Cursor:   cursor,
	}
	attempt := 0
	for {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FetchTimeout)
		start := time.Now()
		page, err := w.source.FetchPage(fetchCtx, req)
		cancel()
		if err == nil {
			metrics.ObservePageFetch(string(w.cfg.Kind), "ok", time.Since(start))
			return page, nil
		}
		metrics.ObservePageFetch(string(w.cfg.Kind), "error", 0)
		if !w.retry.ShouldRetry(err, attempt) {
			return pipeline.Page{}, err
		}
		attempt++
		metrics.ObservePageRetry(string(w.cfg.Kind))
		w.logger.Warn("page fetch retry",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-time.After(w.retry.Backoff(attempt)):
		case <-ctx.Done():
			return pipeline.Page{}, ctx.Err()
		}
	}
}

func (w *Worker) ack(delivery pipeline.Delivery) {
	if err := delivery.Ack(); err != nil {
		w.logger.Warn("ack failed", zap.Error(err))
	}
}

func (w *Worker) nak(delivery pipeline.Delivery) {
	if err := delivery.Nak(); err != nil {
		w.logger.Warn("nak failed", zap.Error(err))
	}
}
