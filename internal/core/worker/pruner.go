package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jbruns/curateur-sub000/internal/core/config"
	"github.com/jbruns/curateur-sub000/internal/infra/storage"
)

// Pruner deletes old journal runs based on retention policy.
type Pruner struct {
	cfg  config.JournalConfig
	runs storage.RunRepository
	log  *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(cfg config.JournalConfig, runs storage.RunRepository, log *slog.Logger) *Pruner {
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{cfg: cfg, runs: runs, log: log}
}

// Start runs the pruner loop until ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) {
	retention := p.cfg.Retention()
	if retention <= 0 {
		return // Retention disabled
	}

	// Check interval: 10% of the retention period, clamped to [1m, 1h]
	interval := min(retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	cutoff := time.Now().Add(-p.cfg.Retention())

	deleted, err := p.runs.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		p.log.Error("failed to prune journal", "error", err)
		return
	}
	if deleted > 0 {
		p.log.Info("pruned journal", "runs", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
}
