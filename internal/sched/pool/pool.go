// Package pool runs queued scrape tasks under a concurrency budget.
//
// The budget starts at 1 and is renegotiated at most once per run from the
// allowance the lookup service reports. Rescale requests only record intent;
// the run loop applies them at a safe point after in-flight work drains, so
// a worker can never resize the pool it is running in.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jbruns/curateur-sub000/internal/core/domain"
	"github.com/jbruns/curateur-sub000/internal/sched/metrics"
	"github.com/jbruns/curateur-sub000/internal/sched/queue"
	"github.com/jbruns/curateur-sub000/internal/sched/retry"
)

// ErrAlreadyRunning is returned when Run is called on a running pool.
var ErrAlreadyRunning = errors.New("worker pool already running")

// FetchFunc executes one task. The error's failure class decides the
// outcome: nil marks the task processed, retryable re-queues it, not-found
// and non-retryable are terminal, fatal aborts the whole run.
type FetchFunc func(ctx context.Context, task *domain.Task) error

// Progress is a counters snapshot passed to the progress callback after
// every task outcome. Callbacks are invoked serially from the run loop.
type Progress struct {
	Pending   int
	InFlight  int
	Processed int
	NotFound  int
	Failed    int
}

// ProgressFunc receives progress snapshots during a run.
type ProgressFunc func(Progress)

// Config holds pool configuration.
type Config struct {
	Budget     int           // Initial concurrency (default: 1)
	MaxBudget  int           // Cap for remote rescale, 0 = uncapped
	GetTimeout time.Duration // Queue poll timeout per dispatch cycle
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		Budget:     1,
		GetTimeout: 200 * time.Millisecond,
	}
}

// Stats holds pool state for the stats server.
type Stats struct {
	Running       bool `json:"running"`
	Budget        int  `json:"budget"`
	PendingBudget int  `json:"pending_budget,omitempty"`
	InFlight      int  `json:"in_flight"`
	Rescaled      bool `json:"rescaled"`
}

type outcome struct {
	task *domain.Task
	err  error
}

// Pool dispatches tasks from the queue to transient worker goroutines,
// never more than the budget at once.
type Pool struct {
	cfg   Config
	queue *queue.Queue
	log   *slog.Logger

	running atomic.Bool

	mu            sync.Mutex
	budget        int
	pendingBudget int
	rescaled      bool
	inFlight      int
	fatal         error
	stop          chan struct{}
	done          chan struct{}
}

// New creates a pool reading from q.
func New(cfg Config, q *queue.Queue, log *slog.Logger) *Pool {
	if cfg.Budget <= 0 {
		cfg.Budget = 1
	}
	if cfg.GetTimeout <= 0 {
		cfg.GetTimeout = 200 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	metrics.WorkerBudget.Set(float64(cfg.Budget))
	return &Pool{
		cfg:    cfg,
		queue:  q,
		log:    log,
		budget: cfg.Budget,
	}
}

// Run drives the queue until it drains, dispatching each task to fetch.
// It returns nil when all tasks reached a terminal state, the fatal error
// when one aborted the run, or the context error on cancellation. In-flight
// work is always waited out before returning.
func (p *Pool) Run(ctx context.Context, fetch FetchFunc, onProgress ProgressFunc) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)

	p.mu.Lock()
	p.fatal = nil
	p.inFlight = 0
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stop, p.done
	p.mu.Unlock()
	defer close(done)

	events := make(chan outcome, 64)

	for {
		// Completed outcomes first so counters stay current.
		select {
		case ev := <-events:
			p.handleOutcome(ev, onProgress)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			p.drainInFlight(events, onProgress)
			return ctx.Err()
		case <-stop:
			p.drainInFlight(events, onProgress)
			return nil
		default:
		}

		p.mu.Lock()
		fatal := p.fatal
		inFlight := p.inFlight
		budget := p.budget
		pending := p.pendingBudget
		p.mu.Unlock()

		if fatal != nil {
			p.drainInFlight(events, onProgress)
			p.log.Error("run aborted", "error", fatal)
			return fatal
		}

		if pending > 0 {
			// Safe point requires drained in-flight work. Stop
			// dispatching and wait out the workers.
			if inFlight > 0 {
				p.waitOutcome(ctx, stop, events, onProgress)
				continue
			}
			p.ApplyPendingRescale()
			continue
		}

		if inFlight >= budget {
			p.waitOutcome(ctx, stop, events, onProgress)
			continue
		}

		task, ok := p.queue.Get(p.cfg.GetTimeout)
		if !ok {
			if inFlight == 0 && p.queue.IsEmpty() {
				return nil
			}
			continue
		}

		p.mu.Lock()
		p.inFlight++
		p.mu.Unlock()
		go func(t *domain.Task) {
			events <- outcome{task: t, err: p.safeFetch(ctx, fetch, t)}
		}(task)
	}
}

// RequestRescale records a request to change the concurrency budget to n.
// Safe to call from worker context: the resize itself happens later, at a
// safe point in the run loop or via ApplyPendingRescale from the driver.
// Only the first request per pool is honored.
func (p *Pool) RequestRescale(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rescaled {
		p.log.Debug("budget already negotiated, ignoring rescale", "requested", n)
		return
	}
	if p.cfg.MaxBudget > 0 && n > p.cfg.MaxBudget {
		n = p.cfg.MaxBudget
	}
	p.rescaled = true
	p.pendingBudget = n
	p.log.Info("worker rescale requested", "budget", n)
}

// ApplyPendingRescale applies a deferred budget change and returns the
// budget in effect. It only applies when no work is in flight; the run loop
// reaches that state itself before calling, and drivers call it between
// runs. Never call from inside a worker.
func (p *Pool) ApplyPendingRescale() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pendingBudget <= 0 || p.inFlight > 0 {
		return p.budget
	}
	old := p.budget
	p.budget = p.pendingBudget
	p.pendingBudget = 0
	metrics.WorkerBudget.Set(float64(p.budget))
	p.log.Info("worker budget rescaled", "from", old, "to", p.budget)
	return p.budget
}

// Shutdown stops the run loop. With wait true it blocks until in-flight
// work has finished and Run has returned. No-op when the pool is idle.
func (p *Pool) Shutdown(wait bool) {
	p.mu.Lock()
	stop, done := p.stop, p.done
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	p.mu.Unlock()

	if wait && done != nil {
		<-done
	}
}

// Stats returns the current pool state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Running:       p.running.Load(),
		Budget:        p.budget,
		PendingBudget: p.pendingBudget,
		InFlight:      p.inFlight,
		Rescaled:      p.rescaled,
	}
}

// Budget returns the concurrency budget currently in effect.
func (p *Pool) Budget() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.budget
}

func (p *Pool) handleOutcome(ev outcome, onProgress ProgressFunc) {
	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()

	t := ev.task
	switch {
	case ev.err == nil:
		p.queue.MarkProcessed(t)
	default:
		switch class := retry.Classify(ev.err); class {
		case domain.ClassFatal:
			p.mu.Lock()
			if p.fatal == nil {
				p.fatal = ev.err
			}
			p.mu.Unlock()
			p.queue.MarkFailed(t, domain.ClassFatal, ev.err)
		case domain.ClassNotFound:
			p.queue.MarkNotFound(t, ev.err)
		case domain.ClassRetryable:
			p.queue.Retry(t, ev.err)
		default:
			p.queue.MarkFailed(t, class, ev.err)
		}
	}

	if onProgress != nil {
		onProgress(p.progress())
	}
}

// waitOutcome blocks until a worker finishes or the run is interrupted.
func (p *Pool) waitOutcome(ctx context.Context, stop chan struct{}, events chan outcome, onProgress ProgressFunc) {
	select {
	case ev := <-events:
		p.handleOutcome(ev, onProgress)
	case <-stop:
	case <-ctx.Done():
	}
}

// drainInFlight waits out all in-flight workers without dispatching more.
func (p *Pool) drainInFlight(events chan outcome, onProgress ProgressFunc) {
	for {
		p.mu.Lock()
		n := p.inFlight
		p.mu.Unlock()
		if n == 0 {
			return
		}
		p.handleOutcome(<-events, onProgress)
	}
}

func (p *Pool) safeFetch(ctx context.Context, fetch FetchFunc, t *domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return fetch(ctx, t)
}

func (p *Pool) progress() Progress {
	qs := p.queue.Stats()
	p.mu.Lock()
	inFlight := p.inFlight
	p.mu.Unlock()
	return Progress{
		Pending:   qs.Pending,
		InFlight:  inFlight,
		Processed: qs.Processed,
		NotFound:  qs.NotFound,
		Failed:    qs.Failed,
	}
}
