package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jbruns/curateur-sub000/internal/core/config"
	"github.com/jbruns/curateur-sub000/internal/core/domain"
	"github.com/jbruns/curateur-sub000/internal/core/worker"
	"github.com/jbruns/curateur-sub000/internal/curate"
	"github.com/jbruns/curateur-sub000/internal/health"
	"github.com/jbruns/curateur-sub000/internal/infra/cache"
	"github.com/jbruns/curateur-sub000/internal/infra/lookup"
	redisclient "github.com/jbruns/curateur-sub000/internal/infra/redis"
	"github.com/jbruns/curateur-sub000/internal/infra/storage"
	"github.com/jbruns/curateur-sub000/internal/infra/storage/sqlite"
	"github.com/jbruns/curateur-sub000/internal/sched/pool"
	"github.com/jbruns/curateur-sub000/internal/sched/queue"
	"github.com/jbruns/curateur-sub000/internal/sched/ratelimit"
	"github.com/jbruns/curateur-sub000/internal/sched/retry"
)

// Config holds the application configuration.
type Config struct {
	Port            int
	NegotiateBudget bool // accept the service-reported thread allowance
	Service         lookup.Config
	Rate            ratelimit.Config
	Workers         pool.Config
	Retry           retry.Config
	Cache           config.CacheConfig
	Scan            config.ScanConfig
	Media           config.MediaConfig
	Journal         config.JournalConfig
	Redis           redisclient.Config
}

// Curator is the main application struct that manages one curation run.
type Curator struct {
	cfg        Config
	governor   *ratelimit.Governor
	queue      *queue.Queue
	pool       *pool.Pool
	lookup     Lookup
	scanner    *curate.Scanner
	downloader *curate.Downloader
	gamelist   *curate.GamelistWriter
	monitor    *health.Monitor
	journal    storage.RunRepository
	pruner     *worker.Pruner
	db         *sqlite.DB
	redis      *redisclient.Client
	log        *slog.Logger
}

// NewCurator creates a new Curator instance with all dependencies initialized.
func NewCurator(cfg Config, log *slog.Logger) (*Curator, error) {
	if log == nil {
		log = slog.Default()
	}

	// 1. Initialize the run journal
	var journal storage.RunRepository
	var db *sqlite.DB
	var pruner *worker.Pruner
	if cfg.Journal.Path != "" {
		var err error
		db, err = sqlite.Open(context.Background(), cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		journal = sqlite.NewRunRepo(db)
		if cfg.Journal.RetentionDays > 0 {
			pruner = worker.NewPruner(cfg.Journal, journal, log)
		}
		log.Info("run journal enabled", "path", cfg.Journal.Path)
	}

	// 2. Initialize Redis for the cache document store (optional)
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("failed to connect to Redis, using file cache store", "error", err)
			redisClient = nil
		}
	}

	// 3. Initialize the scheduling components
	governor := ratelimit.New(cfg.Rate, log)
	q := queue.New(cfg.Retry.MaxAttempts, log)
	p := pool.New(cfg.Workers, q, log)

	// 4. Lookup client and curation helpers
	lk := lookup.NewClient(cfg.Service, governor, log)

	return &Curator{
		cfg:        cfg,
		governor:   governor,
		queue:      q,
		pool:       p,
		lookup:     lk,
		scanner:    curate.NewScanner(log),
		downloader: curate.NewDownloader(lk, cfg.Media.Kinds, cfg.Media.Concurrency, log),
		gamelist:   curate.NewGamelistWriter(log),
		monitor:    health.NewMonitor(governor, q, p),
		journal:    journal,
		pruner:     pruner,
		db:         db,
		redis:      redisClient,
		log:        log,
	}, nil
}

// Run executes one curation run: scan, cache-aware enqueue, drain the queue
// through the worker pool, merge gamelists, journal the outcome. The report
// carries the three terminal buckets; the error is non-nil when the run was
// aborted (fatal classification or cancellation).
func (c *Curator) Run(ctx context.Context) (*Report, error) {
	runID := uuid.New().String()
	startedAt := time.Now()
	c.log.Info("starting curation run", "run_id", runID)

	// Stats server and journal pruner live for the duration of the run.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if c.cfg.Port > 0 {
		server := health.NewServer(c.monitor, c.cfg.Port)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error("stats server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				c.log.Warn("stats server shutdown", "error", err)
			}
		}()
		c.log.Info("stats server listening", "port", c.cfg.Port)
	}
	if c.pruner != nil {
		go c.pruner.Start(runCtx)
	}

	report := &Report{RunID: runID, Status: domain.RunStatusAborted}
	finish := func(runErr error) (*Report, error) {
		qs := c.queue.Stats()
		report.Processed = qs.Processed
		report.NotFound = c.queue.NotFound()
		report.Failed = c.queue.Failed()
		report.Duration = time.Since(startedAt)
		if runErr == nil {
			report.Status = domain.RunStatusCompleted
		}
		c.journalRun(report, startedAt)
		c.logSummary(report, runErr)
		return report, runErr
	}

	// 1. Credential check and thread-allowance discovery
	if err := c.preflight(ctx); err != nil {
		return finish(err)
	}

	// 2. Scan platform directories
	items, err := c.scanner.Scan(ctx, c.cfg.Scan.Platforms)
	if err != nil {
		return finish(err)
	}
	report.Scanned = len(items)
	if len(items) == 0 {
		c.log.Info("nothing to scrape")
		return finish(nil)
	}

	// 3. Open the result caches, one per output directory
	caches := c.openCaches(ctx, items)

	// 4. Enqueue scanned items
	c.enqueue(items)

	// 5. Drain the queue through the pool
	sink := newResultSink()
	runErr := c.pool.Run(ctx, func(ctx context.Context, t *domain.Task) error {
		return c.processTask(ctx, t, caches[t.Item.OutputDir], sink)
	}, c.logProgress)

	// 6. Merge gamelist entries for whatever completed, even on abort
	if err := c.mergeGamelists(sink); err != nil && runErr == nil {
		runErr = err
	}

	return finish(runErr)
}

// Close releases long-lived resources. Safe after a failed or skipped Run.
func (c *Curator) Close() error {
	var firstErr error
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.log.Warn("failed to close Redis", "error", err)
			firstErr = err
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Journal exposes the run history repository, nil when disabled.
func (c *Curator) Journal() storage.RunRepository {
	return c.journal
}

// preflight issues the profile call through the single-call retry helper.
// A fatal classification (bad credentials, service closed) aborts the run
// before any scanning; transient failures degrade to the configured budget.
func (c *Curator) preflight(ctx context.Context) error {
	var prof *domain.Profile
	err := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		p, err := c.lookup.Profile(ctx)
		if err != nil {
			return err
		}
		prof = p
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if retry.Classify(err) == domain.ClassFatal {
			return err
		}
		c.log.Warn("profile check failed, continuing with configured budget", "error", err)
		return nil
	}

	c.log.Info("service profile",
		"user", prof.Username,
		"max_threads", prof.MaxThreads,
		"requests_today", prof.RequestsToday,
		"daily_quota", prof.MaxRequestsPerDay)

	if c.cfg.NegotiateBudget && prof.MaxThreads > 0 {
		// No work is in flight before the run, so the rescale applies here.
		c.pool.RequestRescale(prof.MaxThreads)
		c.pool.ApplyPendingRescale()
	}
	return nil
}

// openCaches builds one result cache per distinct output directory, backed
// by Redis when configured and by a file document otherwise.
func (c *Curator) openCaches(ctx context.Context, items []domain.RomItem) map[string]*cache.Cache {
	caches := make(map[string]*cache.Cache)
	if !c.cfg.Cache.IsEnabled() {
		return caches
	}
	for _, item := range items {
		if _, ok := caches[item.OutputDir]; ok {
			continue
		}
		var store cache.Store
		if c.redis != nil {
			store = cache.NewRedisStore(c.redis, item.OutputDir)
		} else {
			store = cache.NewFileStore(item.OutputDir)
		}
		caches[item.OutputDir] = cache.New(ctx, store, c.cfg.Cache.TTLDays, c.log)
	}
	return caches
}

// enqueue adds one task per scanned item. Items already present in their
// directory's gamelist re-enter as low-priority media refreshes; new items
// enter at normal priority. Retries escalate to high inside the queue.
func (c *Curator) enqueue(items []domain.RomItem) {
	listed := make(map[string]map[string]bool)
	for _, item := range items {
		dir := item.OutputDir
		if _, ok := listed[dir]; !ok {
			names := make(map[string]bool)
			entries, err := c.gamelist.Load(dir)
			if err != nil {
				c.log.Warn("gamelist unreadable, treating items as new", "dir", dir, "error", err)
			}
			for _, e := range entries {
				names[e.Path] = true
			}
			listed[dir] = names
		}

		task := &domain.Task{
			ID:       uuid.New().String(),
			Action:   domain.ActionFull,
			Item:     item,
			Priority: domain.PriorityNormal,
		}
		if listed[dir][curate.RomPath(item)] {
			task.Action = domain.ActionMediaOnly
			task.Priority = domain.PriorityLow
		}
		c.queue.Add(task)
	}
	c.log.Info("queued scrape tasks", "count", len(items))
}

// processTask is the fetch closure driven by the pool: cache get, lookup on
// miss, cache put, media download, gamelist entry. Classified errors
// propagate to the pool, which dispatches on their class.
func (c *Curator) processTask(
	ctx context.Context,
	t *domain.Task,
	resultCache *cache.Cache,
	sink *resultSink,
) error {
	item := t.Item

	var game *domain.GameInfo
	var known map[string]string
	if resultCache != nil {
		if e, ok := resultCache.Get(ctx, item.Hash, item.Size); ok {
			payload := e.Payload
			game = &payload
			known = e.SubHashes
		}
	}

	if game == nil {
		res, err := c.lookup.GameInfo(ctx, item)
		if err != nil {
			return err
		}
		if c.cfg.NegotiateBudget && res.AllowedThreads > 0 {
			// One-shot: the pool ignores repeats and applies the change
			// at the run loop's next safe point.
			c.pool.RequestRescale(res.AllowedThreads)
		}
		game = res.Game
		if resultCache != nil {
			if err := resultCache.Put(ctx, item.Hash, *game, item.Size); err != nil {
				c.log.Warn("cache put failed", "path", item.Path, "error", err)
			}
		}
	}

	hashes, paths, err := c.downloader.Fetch(ctx, item, game, known)
	if err != nil {
		return err
	}
	if resultCache != nil && len(hashes) > 0 {
		if err := resultCache.UpdateSubHashes(ctx, item.Hash, hashes); err != nil {
			c.log.Warn("cache sub-hash update failed", "path", item.Path, "error", err)
		}
	}

	// A media refresh whose assets all match the recorded hashes keeps its
	// existing entry, preserving hand edits in the gamelist.
	if t.Action == domain.ActionMediaOnly && !mediaChanged(known, hashes) {
		return nil
	}
	sink.add(item.OutputDir, curate.EntryFor(item, game, paths))
	return nil
}

// mediaChanged reports whether any fetched asset is new or differs from the
// hashes recorded in the cache.
func mediaChanged(known, fetched map[string]string) bool {
	for kind, sum := range fetched {
		if known[kind] != sum {
			return true
		}
	}
	return false
}

// mergeGamelists upserts the collected entries into each directory's
// gamelist.xml. Partial results are written even when the run aborted.
func (c *Curator) mergeGamelists(sink *resultSink) error {
	var firstErr error
	for dir, entries := range sink.byDir() {
		if _, err := c.gamelist.Merge(dir, entries); err != nil {
			c.log.Error("gamelist merge failed", "dir", dir, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("merge gamelist for %s: %w", dir, err)
			}
		}
	}
	return firstErr
}

// journalRun records the finished run. It runs on its own context so a
// cancelled run still lands in history.
func (c *Curator) journalRun(report *Report, startedAt time.Time) {
	if c.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec := &domain.RunRecord{
		ID:         report.RunID,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(report.Duration),
		Status:     report.Status,
		Scanned:    report.Scanned,
		Processed:  report.Processed,
		NotFound:   len(report.NotFound),
		Failed:     len(report.Failed),
	}
	if err := c.journal.SaveRun(ctx, rec); err != nil {
		c.log.Error("failed to journal run", "error", err)
		return
	}

	records := append(append([]domain.FailureRecord{}, report.Failed...), report.NotFound...)
	if err := c.journal.SaveFailures(ctx, report.RunID, records); err != nil {
		c.log.Error("failed to journal failures", "error", err)
	}
}

func (c *Curator) logProgress(p pool.Progress) {
	c.log.Debug("progress",
		"pending", p.Pending,
		"in_flight", p.InFlight,
		"processed", p.Processed,
		"not_found", p.NotFound,
		"failed", p.Failed)
}

func (c *Curator) logSummary(report *Report, runErr error) {
	if runErr != nil {
		c.log.Error("run aborted",
			"run_id", report.RunID,
			"scanned", report.Scanned,
			"processed", report.Processed,
			"not_found", len(report.NotFound),
			"failed", len(report.Failed),
			"duration", report.Duration.Round(time.Millisecond),
			"error", runErr)
		return
	}
	c.log.Info("run complete",
		"run_id", report.RunID,
		"scanned", report.Scanned,
		"processed", report.Processed,
		"not_found", len(report.NotFound),
		"failed", len(report.Failed),
		"duration", report.Duration.Round(time.Millisecond))
}

// resultSink collects gamelist entries from concurrent workers, grouped by
// output directory.
type resultSink struct {
	mu      sync.Mutex
	entries map[string][]curate.GameEntry
}

func newResultSink() *resultSink {
	return &resultSink{entries: make(map[string][]curate.GameEntry)}
}

func (s *resultSink) add(dir string, e curate.GameEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[dir] = append(s.entries[dir], e)
}

func (s *resultSink) byDir() map[string][]curate.GameEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]curate.GameEntry, len(s.entries))
	for dir, entries := range s.entries {
		out[dir] = append([]curate.GameEntry(nil), entries...)
	}
	return out
}
