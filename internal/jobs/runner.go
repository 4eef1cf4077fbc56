// Package jobs runs download jobs in the background so a webhook can be
// acknowledged before the download finishes.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Task is a snapshot of one submitted job.
type Task struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	DoneAt    time.Time `json:"done_at,omitempty"`
}

// Runner executes submitted functions with at most maxConcurrent running at once.
type Runner struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
	closed bool
}

// NewRunner creates a runner. maxConcurrent < 1 means 1.
func NewRunner(maxConcurrent int, logger *slog.Logger) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		tasks:  make(map[string]*Task),
		sem:    make(chan struct{}, maxConcurrent),
		logger: logger,
	}
}

// Submit queues fn under id. It fails once Wait has been called.
// fn runs with ctx; the caller owns ctx's lifetime.
func (r *Runner) Submit(ctx context.Context, id, name string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("runner closed")
	}
	if _, dup := r.tasks[id]; dup {
		r.mu.Unlock()
		return fmt.Errorf("task %s already submitted", id)
	}
	task := &Task{ID: id, Name: name, Status: StatusPending, CreatedAt: time.Now()}
	r.tasks[id] = task
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Debug("job submitted", "job", id, "name", name)

	go func() {
		defer r.wg.Done()

		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			r.finish(task, ctx.Err())
			return
		}
		defer func() { <-r.sem }()

		r.mu.Lock()
		task.Status = StatusRunning
		r.mu.Unlock()

		r.finish(task, r.run(ctx, task, fn))
	}()
	return nil
}

func (r *Runner) run(ctx context.Context, task *Task, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *Runner) finish(task *Task, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task.DoneAt = time.Now()
	if err != nil {
		task.Status = StatusFailed
		task.Error = err.Error()
		r.logger.Error("job failed", "job", task.ID, "err", err)
		return
	}
	task.Status = StatusComplete
	r.logger.Debug("job completed", "job", task.ID)
}

// Get returns a copy of a task's state.
func (r *Runner) Get(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// ListActive returns pending and running tasks.
func (r *Runner) ListActive() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Task
	for _, t := range r.tasks {
		if t.Status == StatusPending || t.Status == StatusRunning {
			out = append(out, *t)
		}
	}
	return out
}

// Clean drops finished tasks older than maxAge and returns how many were removed.
func (r *Runner) Clean(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, t := range r.tasks {
		if (t.Status == StatusComplete || t.Status == StatusFailed) && t.DoneAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

// Wait stops accepting new tasks and blocks until every submitted task has
// finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
