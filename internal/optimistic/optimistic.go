// Package optimistic provides the snapshot/apply/rollback pattern used by
// UI-facing state: mutate local state immediately, confirm against the
// backend, and restore the snapshot if confirmation fails.
package optimistic

import (
	"context"
	"sync"
)

// Value holds a piece of state updated optimistically. The zero value of T
// is a valid starting state.
type Value[T any] struct {
	mu    sync.RWMutex
	state T
}

// NewValue creates a Value seeded with the given state.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{state: initial}
}

// Get returns the current state.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Set replaces the state unconditionally, e.g. from a fresh server snapshot.
func (v *Value[T]) Set(state T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = state
}

// Update snapshots the current state, applies mutate locally, then runs
// commit with the new state. If commit fails the snapshot is restored and
// the commit error returned. Readers observe the mutated state while the
// commit is in flight; that is the point.
//
// commit runs without the lock held, so slow backends never block readers.
// Concurrent Updates on the same Value are serialized by the caller if
// their mutations conflict; the primitive itself only guarantees that a
// failed commit rolls back to the state it started from.
func (v *Value[T]) Update(ctx context.Context, mutate func(T) T, commit func(context.Context, T) error) error {
	v.mu.Lock()
	snapshot := v.state
	next := mutate(snapshot)
	v.state = next
	v.mu.Unlock()

	if err := commit(ctx, next); err != nil {
		v.mu.Lock()
		v.state = snapshot
		v.mu.Unlock()
		return err
	}
	return nil
}
