// Package background runs fire-and-forget work spawned by webhook handlers.
// The provider enforces a short response window, so anything beyond the
// minimal synchronous ledger write is handed to a Runner and the handler
// returns immediately.
package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner executes named tasks on their own goroutines with panic recovery.
// Tasks receive a context derived from the runner's base context, not the
// request context: the HTTP response must never wait on them, and they must
// survive the request's cancellation.
type Runner struct {
	ctx    context.Context
	wg     sync.WaitGroup
	logger *slog.Logger

	// taskTimeout bounds each task so a wedged provider call cannot leak
	// goroutines forever.
	taskTimeout time.Duration
}

// NewRunner creates a Runner whose tasks derive from ctx.
func NewRunner(ctx context.Context, taskTimeout time.Duration) *Runner {
	return &Runner{
		ctx:         ctx,
		logger:      slog.Default().With("component", "background"),
		taskTimeout: taskTimeout,
	}
}

// Go spawns fn on its own goroutine. Errors are logged, never propagated:
// background work has no caller to report to.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runNow(name, fn)
	}()
}

// GoAfter spawns fn after the given delay. Used for deferred self-correction
// like the zero-duration recording re-fetch.
func (r *Runner) GoAfter(name string, delay time.Duration, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(delay):
		}
		r.runNow(name, fn)
	}()
}

func (r *Runner) runNow(name string, fn func(ctx context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("background task panicked", "task", name, "panic", rec)
		}
	}()

	ctx := r.ctx
	var cancel context.CancelFunc
	if r.taskTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.taskTimeout)
		defer cancel()
	}

	if err := fn(ctx); err != nil {
		r.logger.Error("background task failed", "task", name, "error", err)
	}
}

// Wait blocks until all spawned tasks finish or the timeout elapses. Called
// during graceful shutdown.
func (r *Runner) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
