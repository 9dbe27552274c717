package task

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/kepler/internal/observe"
)

const (
	defaultMaxInMemory   = 500
	defaultFlushInterval = 2 * time.Second
)

// ManagerOption is a functional option for configuring a [Manager].
type ManagerOption func(*Manager)

// WithMaxInMemory caps the in-memory task index; the oldest terminal tasks
// are evicted past the cap. Default: 500.
func WithMaxInMemory(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxInMemory = n
		}
	}
}

// WithFlushInterval sets the debounce window for persisting dirty task
// state. Default: 2s.
func WithFlushInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.flushInterval = d
		}
	}
}

// WithLogger sets the logger. Default: slog.Default.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(mx *observe.Metrics) ManagerOption {
	return func(m *Manager) {
		if mx != nil {
			m.metrics = mx
		}
	}
}

// Manager is the bounded in-memory task index with a debounced writer. All
// methods are safe for concurrent use.
type Manager struct {
	store         Store
	log           *slog.Logger
	metrics       *observe.Metrics
	maxInMemory   int
	flushInterval time.Duration

	mu    sync.Mutex
	tasks map[string]*Task
	order []string // creation order, for eviction
	dirty map[string]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a Manager flushing dirty tasks to store. A nil store
// keeps tasks in memory only and starts no writer.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:         store,
		log:           slog.Default(),
		metrics:       observe.DefaultMetrics(),
		maxInMemory:   defaultMaxInMemory,
		flushInterval: defaultFlushInterval,
		tasks:         make(map[string]*Task),
		dirty:         make(map[string]struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}

	if m.store != nil {
		m.wg.Add(1)
		go m.flushLoop()
	}
	return m
}

// Create registers a new pending task and returns a snapshot of it.
func (m *Manager) Create() Task {
	now := time.Now().UTC()
	t := &Task{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.order = append(m.order, t.ID)
	m.dirty[t.ID] = struct{}{}
	m.evictLocked()
	snapshot := *t
	m.mu.Unlock()

	return snapshot
}

// Get returns a snapshot of the task, falling back to the store for tasks
// already evicted from memory.
func (m *Manager) Get(ctx context.Context, id string) (Task, error) {
	m.mu.Lock()
	if t, ok := m.tasks[id]; ok {
		snapshot := *t
		m.mu.Unlock()
		return snapshot, nil
	}
	m.mu.Unlock()

	if m.store == nil {
		return Task{}, ErrNotFound
	}
	return m.store.Load(ctx, id)
}

// SetRunning transitions the task to running with the given step total.
func (m *Manager) SetRunning(id string, totalSteps int) {
	if m.update(id, func(t *Task) {
		t.Status = StatusRunning
		t.CurrentStep = 0
		t.TotalSteps = totalSteps
	}) {
		m.metrics.ActiveTasks.Add(context.Background(), 1)
	}
}

// SetProgress advances the current step counter.
func (m *Manager) SetProgress(id string, currentStep int) {
	m.update(id, func(t *Task) {
		t.CurrentStep = currentStep
	})
}

// Complete stores the result and transitions to completed.
func (m *Manager) Complete(id string, result json.RawMessage) {
	if m.update(id, func(t *Task) {
		t.Status = StatusCompleted
		t.CurrentStep = t.TotalSteps
		t.Result = result
	}) {
		m.metrics.ActiveTasks.Add(context.Background(), -1)
	}
}

// Fail records the error and transitions to failed.
func (m *Manager) Fail(id string, taskErr error) {
	if m.update(id, func(t *Task) {
		t.Status = StatusFailed
		if taskErr != nil {
			t.Error = taskErr.Error()
		}
	}) {
		m.metrics.ActiveTasks.Add(context.Background(), -1)
	}
}

// Close stops the writer and flushes all remaining dirty state.
func (m *Manager) Close(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	close(m.done)
	m.wg.Wait()
	return m.flush(ctx)
}

// update applies fn to the task under lock, stamps it, and marks it dirty.
// Reports whether the task was found.
func (m *Manager) update(id string, fn func(*Task)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return false
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()
	m.dirty[id] = struct{}{}
	return true
}

// evictLocked drops the oldest terminal tasks past the cap. Pending and
// running tasks are never evicted. Callers hold m.mu.
func (m *Manager) evictLocked() {
	if len(m.tasks) <= m.maxInMemory {
		return
	}

	kept := m.order[:0]
	excess := len(m.tasks) - m.maxInMemory
	for _, id := range m.order {
		t, ok := m.tasks[id]
		if !ok {
			continue
		}
		if excess > 0 && t.Status.Terminal() {
			delete(m.tasks, id)
			delete(m.dirty, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func (m *Manager) flushLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.flush(context.Background()); err != nil {
				m.log.Warn("task flush failed", "error", err)
			}
		case <-m.done:
			return
		}
	}
}

// flush persists every dirty task. Records that fail to save stay dirty and
// are retried on the next flush.
func (m *Manager) flush(ctx context.Context) error {
	m.mu.Lock()
	pending := make([]Task, 0, len(m.dirty))
	for id := range m.dirty {
		if t, ok := m.tasks[id]; ok {
			pending = append(pending, *t)
		}
		delete(m.dirty, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, t := range pending {
		if err := m.store.Save(ctx, t); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			m.mu.Lock()
			m.dirty[t.ID] = struct{}{}
			m.mu.Unlock()
		}
	}
	return firstErr
}
