// Package worker runs repository jobs in the background with bounded
// concurrency and a per-repository trigger throttle.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	DefaultConcurrency = 2
	DefaultMinInterval = time.Minute
)

// Job is one unit of background work. ctx is cancelled when Shutdown gives
// up waiting.
type Job func(ctx context.Context) error

// Options configures a Dispatcher.
type Options struct {
	Concurrency int
	// MinInterval is the minimum time between accepted triggers for the
	// same key. Zero disables throttling.
	MinInterval time.Duration
	Logger      *slog.Logger
}

// Dispatcher runs jobs on goroutines.
type Dispatcher struct {
	sem      *semaphore.Weighted
	interval time.Duration
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	closed   bool
	wg       sync.WaitGroup

	running atomic.Int64
	queued  atomic.Int64
}

// New returns a Dispatcher, filling unset options with defaults.
func New(opts Options) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		interval: opts.MinInterval,
		log:      opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Enqueue schedules job under key. It returns false when the dispatcher is
// shut down or key was triggered less than MinInterval ago.
func (d *Dispatcher) Enqueue(key string, job Job) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("dispatcher closed, dropping job", "key", key)
		return false
	}
	if !d.allow(key) {
		d.mu.Unlock()
		d.log.Info("trigger throttled", "key", key, "min_interval", d.interval)
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.queued.Add(1)
	go d.run(key, job)
	return true
}

// allow must be called with d.mu held.
func (d *Dispatcher) allow(key string) bool {
	if d.interval <= 0 {
		return true
	}
	l, ok := d.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.interval), 1)
		d.limiters[key] = l
	}
	return l.Allow()
}

func (d *Dispatcher) run(key string, job Job) {
	defer d.wg.Done()

	err := d.sem.Acquire(d.ctx, 1)
	d.queued.Add(-1)
	if err != nil {
		d.log.Warn("job cancelled before start", "key", key)
		return
	}
	defer d.sem.Release(1)

	d.running.Add(1)
	defer d.running.Add(-1)

	defer func() {
		if p := recover(); p != nil {
			d.log.Error("job panicked", "key", key, "panic", p)
		}
	}()

	start := time.Now()
	if err := job(d.ctx); err != nil {
		d.log.Error("job failed", "key", key, "error", err, "duration", time.Since(start))
		return
	}
	d.log.Info("job finished", "key", key, "duration", time.Since(start))
}

// Running returns the number of jobs currently executing.
func (d *Dispatcher) Running() int { return int(d.running.Load()) }

// Queued returns the number of jobs waiting for a slot.
func (d *Dispatcher) Queued() int { return int(d.queued.Load()) }

// Shutdown stops accepting jobs and waits for in-flight ones. If ctx ends
// first, running jobs are cancelled and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
