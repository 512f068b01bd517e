// Package upsert implements dedup-merge reconciliation of candidate records
// against a persisted store keyed by a unique column.
package upsert

import (
	"context"
	"fmt"
)

// Port is the narrow persistence surface the engine drives. Implementations
// bind to whatever transaction the caller owns; the engine never manages
// transactions itself.
type Port[T any] interface {
	// SelectByKeys returns the persisted records whose key is in keys.
	SelectByKeys(ctx context.Context, keys []string) ([]T, error)
	// BulkUpdate overwrites the non-key fields of existing records.
	BulkUpdate(ctx context.Context, records []T) error
	// InsertIgnore inserts records, ignoring unique-key conflicts where the
	// storage engine supports it; otherwise the conflict error surfaces.
	InsertIgnore(ctx context.Context, records []T) error
}

// Engine reconciles candidate records into the store behind a Port. The
// unique constraint on the key column is the final race guard; the initial
// read is only an optimization.
type Engine[T any] struct {
	port  Port[T]
	key   func(T) string
	merge func(existing, candidate T) T
}

// New constructs an Engine. key extracts the unique column; merge applies the
// candidate's non-key fields onto an existing record.
func New[T any](port Port[T], key func(T) string, merge func(existing, candidate T) T) *Engine[T] {
	return &Engine[T]{port: port, key: key, merge: merge}
}

// Reconcile upserts candidates and returns the full persisted set matching
// the candidate key set. Replaying the same candidates is a no-op beyond
// timestamp fields.
func (e *Engine[T]) Reconcile(ctx context.Context, candidates []T) ([]T, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	// The last occurrence wins when a key repeats within one call.
	byKey := make(map[string]T, len(candidates))
	keys := make([]string, 0, len(candidates))
	for _, c := range candidates {
		k := e.key(c)
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = c
	}

	existing, err := e.port.SelectByKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("select existing: %w", err)
	}

	matched := make(map[string]struct{}, len(existing))
	updates := make([]T, 0, len(existing))
	for _, rec := range existing {
		k := e.key(rec)
		candidate, ok := byKey[k]
		if !ok {
			continue
		}
		matched[k] = struct{}{}
		updates = append(updates, e.merge(rec, candidate))
	}
	if len(updates) > 0 {
		if err := e.port.BulkUpdate(ctx, updates); err != nil {
			return nil, fmt.Errorf("bulk update: %w", err)
		}
	}

	inserts := make([]T, 0, len(keys)-len(matched))
	for _, k := range keys {
		if _, ok := matched[k]; !ok {
			inserts = append(inserts, byKey[k])
		}
	}
	if len(inserts) > 0 {
		if err := e.port.InsertIgnore(ctx, inserts); err != nil {
			return nil, fmt.Errorf("bulk insert: %w", err)
		}
	}

	result, err := e.port.SelectByKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("select reconciled: %w", err)
	}
	return result, nil
}
