// Package postgres provides a PostgreSQL-backed [task.Store].
//
// One table holds all task records; [NewStore] bootstraps it on startup via
// CREATE TABLE IF NOT EXISTS, so no external migration tooling is needed.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/kepler/internal/task"
)

var _ task.Store = (*Store)(nil)

const ddlTasks = `
CREATE TABLE IF NOT EXISTS kepler_tasks (
    id           TEXT         PRIMARY KEY,
    status       TEXT         NOT NULL,
    current_step INTEGER      NOT NULL DEFAULT 0,
    total_steps  INTEGER      NOT NULL DEFAULT 0,
    result       JSONB,
    error        TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL,
    updated_at   TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kepler_tasks_updated_at
    ON kepler_tasks (updated_at DESC);
`

// Store is a [task.Store] backed by a [pgxpool.Pool]. All methods are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection, and
// ensures the tasks table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("task store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("task store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlTasks); err != nil {
		pool.Close()
		return nil, fmt.Errorf("task store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Save implements [task.Store] as an upsert keyed by task id.
func (s *Store) Save(ctx context.Context, t task.Task) error {
	const q = `
		INSERT INTO kepler_tasks
		    (id, status, current_step, total_steps, result, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    status       = EXCLUDED.status,
		    current_step = EXCLUDED.current_step,
		    total_steps  = EXCLUDED.total_steps,
		    result       = EXCLUDED.result,
		    error        = EXCLUDED.error,
		    updated_at   = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, q,
		t.ID,
		string(t.Status),
		t.CurrentStep,
		t.TotalSteps,
		t.Result,
		t.Error,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("task store: save %s: %w", t.ID, err)
	}
	return nil
}

// Load implements [task.Store].
func (s *Store) Load(ctx context.Context, id string) (task.Task, error) {
	const q = `
		SELECT id, status, current_step, total_steps, result, error, created_at, updated_at
		FROM   kepler_tasks
		WHERE  id = $1`

	t, err := scanTask(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("task store: load %s: %w", id, err)
	}
	return t, nil
}

// List implements [task.Store].
func (s *Store) List(ctx context.Context, limit int) ([]task.Task, error) {
	const q = `
		SELECT id, status, current_step, total_steps, result, error, created_at, updated_at
		FROM   kepler_tasks
		ORDER  BY updated_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("task store: list: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("task store: list scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task store: list rows: %w", err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (task.Task, error) {
	var (
		t      task.Task
		status string
	)
	err := row.Scan(
		&t.ID,
		&status,
		&t.CurrentStep,
		&t.TotalSteps,
		&t.Result,
		&t.Error,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	t.Status = task.Status(status)
	return t, err
}
