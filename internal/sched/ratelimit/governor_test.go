package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGovernor_WindowCeiling(t *testing.T) {
	cfg := Config{
		CallsPerWindow:  3,
		Window:          300 * time.Millisecond,
		AdaptiveBackoff: true,
		DefaultBackoff:  time.Second,
	}
	g := New(cfg, testLogger())
	ctx := context.Background()

	// First 3 admissions fit the window and return immediately.
	for i := 0; i < 3; i++ {
		waited, err := g.Admit(ctx, "gameinfo")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if waited != 0 {
			t.Errorf("Admission %d should not wait, waited %v", i, waited)
		}
	}

	// 4th admission must wait for the oldest entry to age out.
	start := time.Now()
	waited, err := g.Admit(ctx, "gameinfo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited < 200*time.Millisecond {
		t.Errorf("Expected 4th admission to wait ~300ms, waited %v", waited)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("Expected elapsed ~300ms, got %v", elapsed)
	}

	stats := g.Stats("gameinfo")
	if stats.InWindow > 3 {
		t.Errorf("Window ceiling exceeded: %d entries", stats.InWindow)
	}
	if stats.Admitted != 4 {
		t.Errorf("Expected 4 admitted, got %d", stats.Admitted)
	}
}

func TestGovernor_IndependentEndpoints(t *testing.T) {
	cfg := Config{CallsPerWindow: 2, Window: 5 * time.Second}
	g := New(cfg, testLogger())
	ctx := context.Background()

	// Fill gameinfo to its ceiling.
	for range 2 {
		if _, err := g.Admit(ctx, "gameinfo"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// media has its own window and must not be delayed.
	waited, err := g.Admit(ctx, "media")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited != 0 {
		t.Errorf("Expected independent endpoint to admit immediately, waited %v", waited)
	}
}

func TestGovernor_OverloadBackoffDoubling(t *testing.T) {
	cfg := Config{
		CallsPerWindow:  10,
		Window:          time.Second,
		AdaptiveBackoff: true,
		DefaultBackoff:  200 * time.Millisecond,
	}
	g := New(cfg, testLogger())
	ctx := context.Background()

	// Two consecutive overloads: base then doubled.
	g.SignalOverload("gameinfo", 0)
	g.SignalOverload("gameinfo", 0)

	waited, err := g.Admit(ctx, "gameinfo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited < 350*time.Millisecond {
		t.Errorf("Expected doubled backoff ~400ms, waited %v", waited)
	}

	// The successful admission above reset the multiplier, so the next
	// overload applies the base backoff again.
	g.SignalOverload("gameinfo", 0)
	waited, err = g.Admit(ctx, "gameinfo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited < 150*time.Millisecond || waited > 320*time.Millisecond {
		t.Errorf("Expected base backoff ~200ms after reset, waited %v", waited)
	}
}

func TestGovernor_RetryAfterHint(t *testing.T) {
	cfg := Config{
		CallsPerWindow:  10,
		Window:          time.Second,
		AdaptiveBackoff: true,
		DefaultBackoff:  5 * time.Second,
	}
	g := New(cfg, testLogger())

	// The hint overrides the computed backoff.
	g.SignalOverload("media", 150*time.Millisecond)

	start := time.Now()
	waited, err := g.Admit(context.Background(), "media")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited < 100*time.Millisecond || waited > 500*time.Millisecond {
		t.Errorf("Expected ~150ms backoff from hint, waited %v", waited)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Hint should override 5s default, elapsed %v", elapsed)
	}
}

func TestGovernor_RetryAfterHintDoubles(t *testing.T) {
	cfg := Config{
		CallsPerWindow:  10,
		Window:          time.Second,
		AdaptiveBackoff: true,
		DefaultBackoff:  5 * time.Second,
	}
	g := New(cfg, testLogger())

	// The multiplier applies to the hint too: the second consecutive
	// overload doubles the hinted backoff.
	g.SignalOverload("media", 100*time.Millisecond)
	g.SignalOverload("media", 100*time.Millisecond)

	waited, err := g.Admit(context.Background(), "media")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited < 150*time.Millisecond {
		t.Errorf("Expected doubled hint ~200ms, waited %v", waited)
	}

	stats := g.Stats("media")
	if stats.Overloads != 2 {
		t.Errorf("Expected 2 overloads, got %d", stats.Overloads)
	}
	if stats.InBackoff {
		t.Error("Expected backoff cleared after admission")
	}
}

func TestGovernor_AdaptiveDisabled(t *testing.T) {
	cfg := Config{
		CallsPerWindow:  10,
		Window:          time.Second,
		AdaptiveBackoff: false,
		DefaultBackoff:  5 * time.Second,
	}
	g := New(cfg, testLogger())

	g.SignalOverload("gameinfo", 0)

	waited, err := g.Admit(context.Background(), "gameinfo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited != 0 {
		t.Errorf("Expected immediate admission with backoff disabled, waited %v", waited)
	}

	stats := g.Stats("gameinfo")
	if stats.Overloads != 1 {
		t.Errorf("Expected overload still counted, got %d", stats.Overloads)
	}
}

func TestGovernor_OverloadClearsWindow(t *testing.T) {
	cfg := Config{
		CallsPerWindow:  2,
		Window:          10 * time.Second,
		AdaptiveBackoff: true,
		DefaultBackoff:  100 * time.Millisecond,
	}
	g := New(cfg, testLogger())
	ctx := context.Background()

	for range 2 {
		if _, err := g.Admit(ctx, "gameinfo"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Overload clears the window, so after the backoff expires the next
	// admission proceeds without waiting out the 10s window.
	g.SignalOverload("gameinfo", 0)

	start := time.Now()
	if _, err := g.Admit(ctx, "gameinfo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected admission right after backoff, elapsed %v", elapsed)
	}
}

func TestGovernor_Concurrency(t *testing.T) {
	cfg := Config{CallsPerWindow: 100, Window: 10 * time.Second}
	g := New(cfg, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Admit(ctx, "gameinfo"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			g.Stats("gameinfo")
		}()
	}
	wg.Wait()

	stats := g.Stats("gameinfo")
	if stats.Admitted != 50 {
		t.Errorf("Expected 50 admitted, got %d", stats.Admitted)
	}
	if stats.InWindow > 100 {
		t.Errorf("Window ceiling exceeded: %d", stats.InWindow)
	}
}

func TestGovernor_ContextCanceled(t *testing.T) {
	cfg := Config{CallsPerWindow: 1, Window: 10 * time.Second}
	g := New(cfg, testLogger())

	if _, err := g.Admit(context.Background(), "gameinfo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := g.Admit(ctx, "gameinfo")
	if err == nil {
		t.Fatal("Expected context error while waiting for window")
	}
}
