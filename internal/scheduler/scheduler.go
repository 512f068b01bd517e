// Package scheduler seeds crawl jobs for every tracked account on a fixed
// interval.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gramwatch/gramwatch/internal/metrics"
	"github.com/gramwatch/gramwatch/internal/pipeline"
)

// Config controls Scheduler behavior.
type Config struct {
	Interval    time.Duration
	InputPrefix string
	PageSize    int
	MaxPages    int
}

// Scheduler publishes one crawl job per account per tick. Seeding is
// fire-and-forget: failures are logged and the next tick retries from
// scratch.
type Scheduler struct {
	accounts  pipeline.AccountStore
	publisher pipeline.Publisher
	ids       pipeline.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Scheduler.
func New(
	accounts pipeline.AccountStore,
	publisher pipeline.Publisher,
	ids pipeline.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	return &Scheduler{
		accounts:  accounts,
		publisher: publisher,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run seeds once immediately, then on every tick until the context finishes.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Seed(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Seed(ctx)
		}
	}
}

// Seed publishes one crawl job for every tracked account. Per-account
// failures do not stop the sweep.
func (s *Scheduler) Seed(ctx context.Context) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		s.logger.Error("account listing failed", zap.Error(err))
		return
	}

	seeded := 0
	for _, account := range accounts {
		if err := s.seedAccount(ctx, account); err != nil {
			s.logger.Error("job seeding failed",
				zap.String("username", account.Username),
				zap.Error(err),
			)
			continue
		}
		seeded++
		metrics.ObserveScheduledJob()
	}
	s.logger.Info("accounts seeded",
		zap.Int("seeded", seeded),
		zap.Int("total", len(accounts)),
	)
}

func (s *Scheduler) seedAccount(ctx context.Context, account pipeline.Account) error {
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}
	job := pipeline.CrawlJob{
		ID:       id,
		Kind:     account.Kind,
		SourceID: account.ID,
		Username: account.Username,
		PageSize: s.cfg.PageSize,
		MaxPages: s.cfg.MaxPages,
	}
	subject := fmt.Sprintf("%s.%s", s.cfg.InputPrefix, account.Kind)
	if err := s.publisher.Publish(ctx, subject, job); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}
