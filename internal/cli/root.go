package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/jbruns/curateur-sub000/internal/control"
	"github.com/jbruns/curateur-sub000/internal/core/config"
	"github.com/jbruns/curateur-sub000/internal/infra/lookup"
	"github.com/jbruns/curateur-sub000/internal/sched/pool"
	"github.com/jbruns/curateur-sub000/internal/sched/ratelimit"
	"github.com/jbruns/curateur-sub000/internal/sched/retry"
)

var (
	cfgPath    string
	isDebug    bool
	refreshAll bool
)

var rootCmd = &cobra.Command{
	Use:   "curateur",
	Short: "Curateur ROM scraping service",
	Long:  `Curateur scans ROM collections, scrapes metadata and media from a lookup service, and maintains frontend gamelists.`,
	Run:   runScrape,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&refreshAll, "refresh", false, "ignore cached results and rescrape everything")
}

func runScrape(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	// Load Configuration
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	setupLogger(cfg.Logging)

	// Transform config
	controlCfg := controlConfig(cfg)
	if refreshAll {
		disabled := false
		controlCfg.Cache.Enabled = &disabled
	}

	// Initialize Curator
	app, err := control.NewCurator(controlCfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize Curator", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Close()
	}()

	// A signal cancels the run; in-flight work drains before the report.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := app.Run(ctx)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		os.Exit(1)
	}
}

// setupLogger installs the process-wide logger: tint for readable terminal
// output, JSON when the config asks for collector-friendly lines.
func setupLogger(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	if isDebug || cfg.Level == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})
	}
	slog.SetDefault(slog.New(handler))
}

// controlConfig maps the file configuration onto the control layer. A zero
// worker maximum starts the pool at one worker and lets the service profile
// raise the budget.
func controlConfig(cfg *config.AppConfig) control.Config {
	workers := pool.DefaultConfig()
	if cfg.Workers.Max > 0 {
		workers.Budget = cfg.Workers.Max
	}

	return control.Config{
		Port:            cfg.Server.Port,
		NegotiateBudget: cfg.Workers.Max == 0,
		Service: lookup.Config{
			BaseURL:  cfg.Service.BaseURL,
			Username: cfg.Service.Username,
			Password: cfg.Service.Password,
			Timeout:  cfg.Service.Timeout(),
		},
		Rate: ratelimit.Config{
			CallsPerWindow:  cfg.Rate.CallsPerWindow,
			Window:          cfg.Rate.Window(),
			AdaptiveBackoff: cfg.Rate.AdaptiveEnabled(),
			DefaultBackoff:  cfg.Rate.DefaultBackoff(),
		},
		Workers: workers,
		Retry: retry.Config{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff(),
			BackoffFactor:  cfg.Retry.BackoffFactor,
		},
		Cache:   cfg.Cache,
		Scan:    cfg.Scan,
		Media:   cfg.Media,
		Journal: cfg.Journal,
		Redis:   cfg.Redis,
	}
}

// printReport writes the end-of-run report to stdout: counts first, then the
// not-found and failed items with their terminal classes.
func printReport(r *control.Report) {
	fmt.Printf("\nRun %s: %s in %s\n", r.RunID, r.Status, r.Duration.Round(time.Millisecond))
	fmt.Printf("  scanned:   %d\n", r.Scanned)
	fmt.Printf("  processed: %d\n", r.Processed)
	fmt.Printf("  not found: %d\n", len(r.NotFound))
	fmt.Printf("  failed:    %d\n", len(r.Failed))

	if len(r.NotFound) > 0 {
		fmt.Println("\nNot found on the service:")
		for _, f := range r.NotFound {
			fmt.Printf("  %s (%s)\n", f.Path, f.Platform)
		}
	}
	if len(r.Failed) > 0 {
		fmt.Println("\nFailed:")
		for _, f := range r.Failed {
			fmt.Printf("  %s (%s): %s after %d attempts: %s\n",
				f.Path, f.Platform, f.Class, f.Attempts, f.Error)
		}
	}
}
