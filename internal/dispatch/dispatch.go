// Package dispatch routes crawl work to per-kind handlers and supervises
// their lifecycles.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gramwatch/gramwatch/internal/pipeline"
)

// Handler is a long-running consumer for one source kind. Run blocks until
// the context finishes.
type Handler interface {
	Run(ctx context.Context)
}

// Table maps source kinds to their handlers.
type Table struct {
	mu       sync.RWMutex
	handlers map[pipeline.SourceKind]Handler
}

// NewTable returns an empty dispatch table.
func NewTable() *Table {
	return &Table{handlers: make(map[pipeline.SourceKind]Handler)}
}

// Register binds a handler to a kind. Registering the same kind twice is a
// wiring bug and returns an error.
func (t *Table) Register(kind pipeline.SourceKind, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.handlers[kind]; ok {
		return fmt.Errorf("handler already registered for kind %q", kind)
	}
	t.handlers[kind] = h
	return nil
}

// Lookup returns the handler for a kind.
func (t *Table) Lookup(kind pipeline.SourceKind) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds.
func (t *Table) Kinds() []pipeline.SourceKind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	kinds := make([]pipeline.SourceKind, 0, len(t.handlers))
	for k := range t.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Runner starts every registered handler and waits for them to drain on
// shutdown.
type Runner struct {
	table  *Table
	logger *zap.Logger
}

// NewRunner constructs a Runner over a table.
func NewRunner(table *Table, logger *zap.Logger) *Runner {
	return &Runner{table: table, logger: logger}
}

// Run launches one goroutine per handler and blocks until the context
// finishes and every handler returns.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	r.table.mu.RLock()
	for kind, h := range r.table.handlers {
		wg.Add(1)
		go func(kind pipeline.SourceKind, h Handler) {
			defer wg.Done()
			r.logger.Info("handler started", zap.String("kind", string(kind)))
			h.Run(ctx)
			r.logger.Info("handler stopped", zap.String("kind", string(kind)))
		}(kind, h)
	}
	r.table.mu.RUnlock()

	<-ctx.Done()
	wg.Wait()
}
