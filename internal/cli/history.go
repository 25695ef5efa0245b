package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbruns/curateur-sub000/internal/core/config"
	"github.com/jbruns/curateur-sub000/internal/infra/storage/sqlite"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run_id]",
	Short: "Show recent runs, or the failure detail of one run",
	Args:  cobra.MaximumNArgs(1),
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Journal.Path == "" {
		fmt.Println("Run journal is disabled (journal.path is empty)")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := sqlite.Open(ctx, cfg.Journal.Path)
	if err != nil {
		slog.Error("Failed to open journal", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()
	repo := sqlite.NewRunRepo(db)

	if len(args) == 1 {
		showRun(ctx, repo, args[0])
		return
	}

	runs, err := repo.ListRuns(ctx, historyLimit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RUN\tFINISHED\tSTATUS\tSCANNED\tPROCESSED\tNOT FOUND\tFAILED")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.FinishedAt.Local().Format(time.DateTime), r.Status,
			r.Scanned, r.Processed, r.NotFound, r.Failed)
	}
	_ = w.Flush()
}

func showRun(ctx context.Context, repo *sqlite.RunRepo, runID string) {
	run, err := repo.GetRun(ctx, runID)
	if err != nil {
		slog.Error("Failed to load run", "run_id", runID, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Run %s: %s\n", run.ID, run.Status)
	fmt.Printf("  started:   %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Printf("  finished:  %s\n", run.FinishedAt.Local().Format(time.DateTime))
	fmt.Printf("  scanned:   %d\n", run.Scanned)
	fmt.Printf("  processed: %d\n", run.Processed)
	fmt.Printf("  not found: %d\n", run.NotFound)
	fmt.Printf("  failed:    %d\n", run.Failed)

	failures, err := repo.ListFailures(ctx, runID)
	if err != nil {
		slog.Error("Failed to list failures", "error", err)
		os.Exit(1)
	}
	if len(failures) == 0 {
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "PATH\tPLATFORM\tCLASS\tATTEMPTS\tERROR")
	for _, f := range failures {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			f.Path, f.Platform, f.Class, f.Attempts, f.Error)
	}
	_ = w.Flush()
}
