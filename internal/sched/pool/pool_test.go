package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jbruns/curateur-sub000/internal/core/domain"
	"github.com/jbruns/curateur-sub000/internal/sched/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(budget int) Config {
	return Config{Budget: budget, GetTimeout: 50 * time.Millisecond}
}

func fillQueue(q *queue.Queue, n int) []*domain.Task {
	tasks := make([]*domain.Task, 0, n)
	for i := 0; i < n; i++ {
		t := &domain.Task{
			ID:       fmt.Sprintf("t%d", i),
			Action:   domain.ActionFull,
			Priority: domain.PriorityNormal,
			Item:     domain.RomItem{Path: fmt.Sprintf("/roms/t%d.sfc", i)},
		}
		tasks = append(tasks, t)
		q.Add(t)
	}
	return tasks
}

func TestPool_ConcurrencyCeiling(t *testing.T) {
	q := queue.New(3, testLogger())
	fillQueue(q, 10)
	p := New(testConfig(3), q, testLogger())

	var mu sync.Mutex
	current, peak := 0, 0

	fetch := func(ctx context.Context, task *domain.Task) error {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(100 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return nil
	}

	if err := p.Run(context.Background(), fetch, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if peak > 3 {
		t.Errorf("Concurrency ceiling exceeded: peak %d with budget 3", peak)
	}
	if peak < 2 {
		t.Errorf("Expected parallel execution, peak was %d", peak)
	}
	if stats := q.Stats(); stats.Processed != 10 {
		t.Errorf("Expected 10 processed, got %d", stats.Processed)
	}
}

func TestPool_EndToEnd(t *testing.T) {
	q := queue.New(3, testLogger())
	fillQueue(q, 10)
	p := New(testConfig(3), q, testLogger())

	var mu sync.Mutex
	retried := false

	fetch := func(ctx context.Context, task *domain.Task) error {
		switch task.ID {
		case "t3":
			return domain.Classified(domain.ClassNotFound, errors.New("no match"))
		case "t7":
			mu.Lock()
			defer mu.Unlock()
			if !retried {
				retried = true
				return errors.New("connection reset by peer")
			}
			return nil
		default:
			return nil
		}
	}

	var progressCalls int
	onProgress := func(pr Progress) { progressCalls++ }

	if err := p.Run(context.Background(), fetch, onProgress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := q.Stats()
	if stats.Processed != 9 {
		t.Errorf("Expected 9 processed, got %d", stats.Processed)
	}
	if stats.NotFound != 1 {
		t.Errorf("Expected 1 not found, got %d", stats.NotFound)
	}
	if stats.Failed != 0 {
		t.Errorf("Expected 0 failed, got %d", stats.Failed)
	}
	if stats.Pending != 0 {
		t.Errorf("Expected drained queue, got %d pending", stats.Pending)
	}

	// One outcome per attempt: 10 tasks + 1 retry.
	if progressCalls != 11 {
		t.Errorf("Expected 11 progress callbacks, got %d", progressCalls)
	}

	nf := q.NotFound()
	if len(nf) != 1 || nf[0].Path != "/roms/t3.sfc" {
		t.Errorf("Unexpected not-found records: %+v", nf)
	}
}

func TestPool_FatalAbortsRun(t *testing.T) {
	q := queue.New(3, testLogger())
	fillQueue(q, 5)
	p := New(testConfig(1), q, testLogger())

	credsErr := domain.Classified(domain.ClassFatal, errors.New("invalid credentials"))

	fetch := func(ctx context.Context, task *domain.Task) error {
		if task.ID == "t1" {
			return credsErr
		}
		return nil
	}

	err := p.Run(context.Background(), fetch, nil)
	if err == nil {
		t.Fatal("Expected fatal error from run")
	}
	if !errors.Is(err, credsErr) {
		t.Errorf("Expected fatal error propagated, got %v", err)
	}

	stats := q.Stats()
	if stats.Processed != 1 {
		t.Errorf("Expected 1 processed before abort, got %d", stats.Processed)
	}
	if stats.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", stats.Failed)
	}
	if stats.Pending != 3 {
		t.Errorf("Expected 3 tasks left pending, got %d", stats.Pending)
	}

	failed := q.Failed()
	if len(failed) != 1 || failed[0].Class != domain.ClassFatal {
		t.Errorf("Expected fatal failure record, got %+v", failed)
	}
}

func TestPool_DeferredRescale(t *testing.T) {
	q := queue.New(3, testLogger())
	fillQueue(q, 8)
	p := New(testConfig(1), q, testLogger())

	var mu sync.Mutex
	current, peak := 0, 0

	fetch := func(ctx context.Context, task *domain.Task) error {
		// First response reveals the allowed thread count, as the real
		// profile payload does. The resize must not happen inside this
		// worker: t0 runs alone under the initial budget, so the budget
		// must still read 1 for its whole lifetime.
		p.RequestRescale(3)
		if task.ID == "t0" && p.Budget() != 1 {
			t.Error("Budget resized inside the requesting worker's lifetime")
		}

		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(60 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return nil
	}

	if err := p.Run(context.Background(), fetch, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := p.Budget(); got != 3 {
		t.Errorf("Expected budget 3 after rescale, got %d", got)
	}
	if peak > 3 {
		t.Errorf("Budget exceeded after rescale: peak %d", peak)
	}
	if peak < 2 {
		t.Errorf("Expected rescale to raise parallelism, peak %d", peak)
	}
	if !p.Stats().Rescaled {
		t.Error("Expected rescaled flag set")
	}

	// The budget is negotiated once.
	p.RequestRescale(10)
	p.ApplyPendingRescale()
	if got := p.Budget(); got != 3 {
		t.Errorf("Second rescale should be ignored, got budget %d", got)
	}
}

func TestPool_RescaleCapped(t *testing.T) {
	q := queue.New(3, testLogger())
	cfg := Config{Budget: 1, MaxBudget: 2, GetTimeout: 50 * time.Millisecond}
	p := New(cfg, q, testLogger())

	p.RequestRescale(8)
	if got := p.ApplyPendingRescale(); got != 2 {
		t.Errorf("Expected budget capped at 2, got %d", got)
	}
}

func TestPool_ShutdownStopsRun(t *testing.T) {
	q := queue.New(3, testLogger())
	fillQueue(q, 50)
	p := New(testConfig(2), q, testLogger())

	fetch := func(ctx context.Context, task *domain.Task) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run(context.Background(), fetch, nil)
	}()

	time.Sleep(150 * time.Millisecond)
	p.Shutdown(true)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown(wait)")
	}

	if stats := q.Stats(); stats.Pending == 0 {
		t.Error("Expected tasks left pending after early shutdown")
	}
	if got := p.Stats(); got.Running || got.InFlight != 0 {
		t.Errorf("Expected drained idle pool, got %+v", got)
	}
}

func TestPool_AlreadyRunning(t *testing.T) {
	q := queue.New(3, testLogger())
	fillQueue(q, 3)
	p := New(testConfig(1), q, testLogger())

	started := make(chan struct{})
	fetch := func(ctx context.Context, task *domain.Task) error {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(100 * time.Millisecond)
		return nil
	}

	go p.Run(context.Background(), fetch, nil)
	<-started

	if err := p.Run(context.Background(), fetch, nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
	p.Shutdown(true)
}

func TestPool_WorkerPanicIsContained(t *testing.T) {
	q := queue.New(3, testLogger())
	fillQueue(q, 4)
	p := New(testConfig(2), q, testLogger())

	fetch := func(ctx context.Context, task *domain.Task) error {
		if task.ID == "t2" {
			panic("nil media list")
		}
		return nil
	}

	if err := p.Run(context.Background(), fetch, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := q.Stats()
	if stats.Processed != 3 {
		t.Errorf("Expected 3 processed, got %d", stats.Processed)
	}
	if stats.Failed != 1 {
		t.Errorf("Expected 1 failed from panic, got %d", stats.Failed)
	}
	failed := q.Failed()
	if len(failed) != 1 || !strings.Contains(failed[0].Error, "worker panic") {
		t.Errorf("Expected panic failure record, got %+v", failed)
	}
}

func TestPool_ProgressSnapshots(t *testing.T) {
	q := queue.New(3, testLogger())
	fillQueue(q, 6)
	p := New(testConfig(2), q, testLogger())

	// Callbacks run serially from the run loop, so no lock is needed.
	var last Progress
	calls := 0
	onProgress := func(pr Progress) {
		calls++
		last = pr
	}

	fetch := func(ctx context.Context, task *domain.Task) error { return nil }

	if err := p.Run(context.Background(), fetch, onProgress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 6 {
		t.Errorf("Expected 6 progress callbacks, got %d", calls)
	}
	if last.Processed != 6 || last.Pending != 0 || last.InFlight != 0 {
		t.Errorf("Unexpected final snapshot: %+v", last)
	}
}
