// Package main wires together the gramwatch pipeline binary: scheduler,
// crawl workers, ingestion consumers and the ops HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	natsbroker "github.com/gramwatch/gramwatch/internal/broker/nats"
	"github.com/gramwatch/gramwatch/internal/clock/system"
	"github.com/gramwatch/gramwatch/internal/config"
	"github.com/gramwatch/gramwatch/internal/dispatch"
	"github.com/gramwatch/gramwatch/internal/id/uuid"
	"github.com/gramwatch/gramwatch/internal/ingest"
	"github.com/gramwatch/gramwatch/internal/logging"
	"github.com/gramwatch/gramwatch/internal/metrics"
	"github.com/gramwatch/gramwatch/internal/ops"
	"github.com/gramwatch/gramwatch/internal/pipeline"
	"github.com/gramwatch/gramwatch/internal/scheduler"
	"github.com/gramwatch/gramwatch/internal/source/instagram"
	"github.com/gramwatch/gramwatch/internal/storage/postgres"
	"github.com/gramwatch/gramwatch/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := postgres.NewStore(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
	}, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	broker, err := natsbroker.Connect(natsbroker.Config{
		URL:       cfg.Broker.URL,
		AckWait:   cfg.AckWait(),
		FetchWait: cfg.FetchWait(),
	}, logger)
	if err != nil {
		return fmt.Errorf("init broker: %w", err)
	}
	defer broker.Close()

	if err := ensureStreams(broker, cfg); err != nil {
		return err
	}

	clock := system.New()
	idGen := uuid.New()
	retry := pipeline.NewExponentialRetryPolicy(
		cfg.Crawler.MaxRetries,
		cfg.BackoffInitial(),
		cfg.BackoffMax(),
	)

	sourceClient := instagram.New(instagram.Config{
		BaseURL:   cfg.Source.BaseURL,
		DocID:     cfg.Source.DocID,
		UserAgent: cfg.Source.UserAgent,
		Timeout:   cfg.SourceTimeout(),
	}, clock, logger.Named("instagram"))

	table := dispatch.NewTable()
	if err := registerWorker(table, broker, sourceClient, retry, cfg, pipeline.KindInstagram, logger); err != nil {
		return err
	}

	batchQueue, err := broker.PullQueue(cfg.Broker.BatchSubject, "ingest-consumer-group")
	if err != nil {
		return fmt.Errorf("subscribe batches: %w", err)
	}
	defer func() {
		if err := batchQueue.Unsubscribe(); err != nil {
			logger.Warn("batch unsubscribe failed", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Ingest.Consumers; i++ {
		consumer := ingest.New(
			batchQueue,
			store,
			broker,
			idGen,
			ingest.Config{NotifySubject: cfg.Broker.NotifySubject},
			logger.Named(fmt.Sprintf("ingest-%d", i)),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Run(ctx)
		}()
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(store, broker, idGen, scheduler.Config{
			Interval:    cfg.SchedulerInterval(),
			InputPrefix: cfg.Broker.InputPrefix,
			PageSize:    cfg.Crawler.PageSize,
			MaxPages:    cfg.Crawler.MaxPages,
		}, logger.Named("scheduler"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
	}

	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           ops.NewServer(logger.Named("ops")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops server listening", zap.Int("port", cfg.Server.Port))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()

	runner := dispatch.NewRunner(table, logger.Named("dispatch"))
	runner.Run(ctx)
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown failed", zap.Error(err))
	}
	logger.Info("service stopped")
	return nil
}

func ensureStreams(broker *natsbroker.Conn, cfg config.Config) error {
	if err := broker.EnsureStream("CRAWL", cfg.Broker.InputPrefix+".>"); err != nil {
		return err
	}
	if err := broker.EnsureStream("BATCHES", cfg.Broker.BatchSubject); err != nil {
		return err
	}
	return broker.EnsureStream("NOTIFY", cfg.Broker.NotifySubject)
}

func registerWorker(
	table *dispatch.Table,
	broker *natsbroker.Conn,
	source pipeline.SourceClient,
	retry pipeline.RetryPolicy,
	cfg config.Config,
	kind pipeline.SourceKind,
	logger *zap.Logger,
) error {
	subject := fmt.Sprintf("%s.%s", cfg.Broker.InputPrefix, kind)
	durable := fmt.Sprintf("%s-worker-group", kind)
	jobQueue, err := broker.PullQueue(subject, durable)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	w := worker.New(jobQueue, source, broker, retry, worker.Config{
		Kind:         kind,
		BatchSubject: cfg.Broker.BatchSubject,
		FetchTimeout: cfg.SourceTimeout(),
	}, logger.Named(string(kind)))
	return table.Register(kind, w)
}
