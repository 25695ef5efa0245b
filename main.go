package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/jbruns/curateur-sub000/internal/core/domain"
	"github.com/jbruns/curateur-sub000/internal/sched/pool"
	"github.com/jbruns/curateur-sub000/internal/sched/queue"
	"github.com/jbruns/curateur-sub000/internal/sched/ratelimit"
)

// Scratch driver for the scheduling stack: a simulated flaky service run
// through the governor, queue and pool without any network or filesystem.
func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	// 1. Governor with a tight window so throttling is visible
	gov := ratelimit.New(ratelimit.Config{
		CallsPerWindow: 10,
		Window:         2 * time.Second,
		DefaultBackoff: time.Second,
	}, log)

	// 2. Queue and pool
	q := queue.New(2, log)
	p := pool.New(pool.Config{Budget: 3, GetTimeout: 100 * time.Millisecond}, q, log)

	// 3. Enqueue simulated scrape tasks
	for i := 1; i <= 10; i++ {
		name := fmt.Sprintf("game-%02d", i)
		q.Add(&domain.Task{
			ID:       fmt.Sprintf("task-%d", i),
			Action:   domain.ActionFull,
			Priority: domain.PriorityNormal,
			Item: domain.RomItem{
				Path:     "/roms/snes/" + name + ".sfc",
				Name:     name,
				Platform: "snes",
			},
		})
	}

	// 4. Fetch function simulating a flaky remote service
	var mu sync.Mutex
	flaky := map[string]bool{"game-07": true}
	fetch := func(ctx context.Context, t *domain.Task) error {
		if _, err := gov.Admit(ctx, "gameinfo"); err != nil {
			return err
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)

		if t.Item.Name == "game-03" {
			return domain.Classified(domain.ClassNotFound, errors.New("no match"))
		}
		mu.Lock()
		failOnce := flaky[t.Item.Name]
		delete(flaky, t.Item.Name)
		mu.Unlock()
		if failOnce {
			return domain.Classified(domain.ClassRetryable, errors.New("temporary glitch"))
		}
		return nil
	}

	// 5. Run with a progress printer
	err := p.Run(ctx, fetch, func(pr pool.Progress) {
		fmt.Printf("pending=%d in-flight=%d processed=%d not-found=%d failed=%d\n",
			pr.Pending, pr.InFlight, pr.Processed, pr.NotFound, pr.Failed)
	})
	if err != nil {
		fmt.Println("run aborted:", err)
	}

	// 6. Final stats
	stats := q.Stats()
	fmt.Printf("\nDone: processed=%d not-found=%d failed=%d\n",
		stats.Processed, stats.NotFound, stats.Failed)
	for _, f := range q.NotFound() {
		fmt.Printf("  not found: %s\n", f.Path)
	}
	for _, f := range q.Failed() {
		fmt.Printf("  failed: %s (%s)\n", f.Path, f.Error)
	}
}
