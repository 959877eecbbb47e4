// Package taskstore provides the concurrency-safe task record store.
// It is the single source of truth for generation task state: every
// mutation for a given task id is serialized, transitions are validated
// against the task lifecycle, and terminal records are frozen.
package taskstore

import (
	"context"
	"time"

	"renderflow/pkg/core"
)

// Mutation is applied to a private copy of the record under the task's
// lock. Returning an error aborts the update without side effects.
type Mutation func(*core.Task) error

// Store is the persistence contract for task records.
type Store interface {
	// Create inserts a new record. The record must carry an ID.
	Create(ctx context.Context, task *core.Task) error

	// Get returns a copy of the record, or core.ErrNotFound.
	Get(ctx context.Context, id string) (*core.Task, error)

	// Update applies the mutation atomically and returns the updated
	// record. Mutations on terminal records and illegal state
	// transitions are rejected with core.ErrInvalidTransition.
	Update(ctx context.Context, id string, fn Mutation) (*core.Task, error)

	// List returns copies of all records, oldest first.
	List(ctx context.Context) ([]*core.Task, error)
}

// validateMutation enforces the store invariants between the record as
// loaded and the record after the mutation ran.
func validateMutation(before, after *core.Task) error {
	if before.State.Terminal() {
		return core.ErrInvalidTransition
	}
	if after.State != before.State && !core.CanTransition(before.State, after.State) {
		return core.ErrInvalidTransition
	}
	if after.Progress < before.Progress {
		return core.ErrInvalidTransition
	}
	if after.ID != before.ID || after.Params != before.Params {
		return core.ErrInvalidTransition
	}
	return nil
}

// clone returns a deep copy so callers never alias store-owned memory.
func clone(t *core.Task) *core.Task {
	cp := *t
	if t.ResultData != nil {
		cp.ResultData = append([]byte(nil), t.ResultData...)
	}
	cp.StartedAt = cloneTime(t.StartedAt)
	cp.FinishedAt = cloneTime(t.FinishedAt)
	cp.LastProgressAt = cloneTime(t.LastProgressAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
