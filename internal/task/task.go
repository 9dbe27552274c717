// Package task tracks refinement jobs through their lifecycle and persists
// their state.
//
// A Manager keeps a bounded in-memory index of tasks and batches state
// mutations: every update marks the task dirty, and a debounced writer
// flushes all dirty records to the configured [Store] on a fixed interval.
// Rapid progress updates during correction therefore cost one downstream
// write per flush window instead of one per chunk.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by [Store.Load] when no task exists for the id.
var ErrNotFound = errors.New("task: not found")

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one refinement job. Progress is measured in pipeline steps, which
// during correction means oracle chunks.
type Task struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	CurrentStep int             `json:"current_step"`
	TotalSteps  int             `json:"total_steps"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Percent returns the task's progress in [0, 100].
func (t Task) Percent() float64 {
	switch {
	case t.Status == StatusCompleted:
		return 100
	case t.Status == StatusPending:
		return 0
	case t.TotalSteps <= 0:
		return 0
	default:
		p := float64(t.CurrentStep) / float64(t.TotalSteps) * 100
		if p > 100 {
			p = 100
		}
		return p
	}
}

// Store persists task records. Implementations must be safe for concurrent
// use.
type Store interface {
	// Save inserts or updates the record.
	Save(ctx context.Context, t Task) error

	// Load returns the record for id, or [ErrNotFound].
	Load(ctx context.Context, id string) (Task, error)

	// List returns up to limit records, most recently updated first.
	List(ctx context.Context, limit int) ([]Task, error)
}
