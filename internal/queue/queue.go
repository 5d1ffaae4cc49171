// Package queue hands received changes off for processing. Two modes:
// Inline runs the pipeline in the caller's request, Dispatcher runs it on a
// background goroutine with at-most-one active attempt per change ID.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ProcessFunc runs one full validation attempt for a change.
type ProcessFunc func(ctx context.Context, changeID string) error

// Enqueuer accepts a change for processing. Implementations decide whether
// that happens before or after Enqueue returns.
type Enqueuer interface {
	Enqueue(ctx context.Context, changeID string) error
}

// ErrShuttingDown is returned by Enqueue after Shutdown has started.
var ErrShuttingDown = errors.New("queue: shutting down")

// Inline processes synchronously: the webhook response is only sent after the
// verdict exists. Used in dev mode and by the worker endpoint.
type Inline struct {
	Process ProcessFunc
}

func (i *Inline) Enqueue(ctx context.Context, changeID string) error {
	return i.Process(ctx, changeID)
}

// Dispatcher runs processing asynchronously with per-change serialization.
// An Enqueue for a change that is already being processed coalesces into a
// single follow-up run: each attempt is a full restart, so one rerun absorbs
// any number of redeliveries that arrived meanwhile.
type Dispatcher struct {
	process ProcessFunc
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	active   map[string]bool
	pending  map[string]bool
	draining bool
	wg       sync.WaitGroup
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Process ProcessFunc
	Timeout time.Duration // per-attempt budget, default 2m
	Logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		process: cfg.Process,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		active:  make(map[string]bool),
		pending: make(map[string]bool),
	}
	if d.timeout <= 0 {
		d.timeout = 2 * time.Minute
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Enqueue schedules processing and returns immediately. The attempt runs on
// its own context: the webhook request that triggered it has already been
// answered 202 and must not cancel the work.
func (d *Dispatcher) Enqueue(ctx context.Context, changeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.draining {
		return ErrShuttingDown
	}
	if d.active[changeID] {
		d.pending[changeID] = true
		return nil
	}

	d.active[changeID] = true
	d.wg.Add(1)
	go d.run(changeID)
	return nil
}

func (d *Dispatcher) run(changeID string) {
	defer d.wg.Done()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.process(ctx, changeID)
		cancel()
		if err != nil {
			d.logger.Error("async processing failed",
				"change_id", changeID, "error", err)
		}

		d.mu.Lock()
		if !d.pending[changeID] || d.draining {
			delete(d.active, changeID)
			delete(d.pending, changeID)
			d.mu.Unlock()
			return
		}
		delete(d.pending, changeID)
		d.mu.Unlock()
	}
}

// Shutdown stops accepting work and waits for in-flight attempts, up to the
// context deadline.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.draining = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
