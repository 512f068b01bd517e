// Package postgres provides pgx-backed implementations of the pipeline's
// persistence ports.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Querier is the query surface shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is the pool surface the Store needs; satisfied by *pgxpool.Pool and by
// pgxmock pools in tests.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store owns the connection pool and exposes the persistence ports.
type Store struct {
	db     DB
	logger *zap.Logger
}

// NewStore connects a pooled Store using the provided config.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{db: pool, logger: logger}, nil
}

// NewStoreWithDB constructs a Store from an existing pool (primarily for
// testing).
func NewStoreWithDB(db DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// withinTx runs fn inside one transaction, rolling back on error.
func (s *Store) withinTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("tx rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
