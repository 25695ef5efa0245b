package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbruns/curateur-sub000/internal/core/config"
	"github.com/jbruns/curateur-sub000/internal/infra/cache"
	redisclient "github.com/jbruns/curateur-sub000/internal/infra/redis"
)

var evictCmd = &cobra.Command{
	Use:   "evict-cache",
	Short: "Drop expired entries from every platform's result cache",
	Run:   runEvict,
}

func init() {
	rootCmd.AddCommand(evictCmd)
}

func runEvict(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = redisClient.Close()
		}()
	}

	ctx := context.Background()
	seen := make(map[string]bool)
	total := 0
	for _, platform := range cfg.Scan.Platforms {
		dir := platform.Output
		if dir == "" {
			dir = platform.Path
		}
		if seen[dir] {
			continue
		}
		seen[dir] = true

		var store cache.Store
		if redisClient != nil {
			store = cache.NewRedisStore(redisClient, dir)
		} else {
			store = cache.NewFileStore(dir)
		}
		evicted, err := cache.New(ctx, store, cfg.Cache.TTLDays, slog.Default()).EvictExpired(ctx)
		if err != nil {
			slog.Error("Failed to evict cache", "dir", dir, "error", err)
			os.Exit(1)
		}
		fmt.Printf("%s: evicted %d expired entries\n", dir, evicted)
		total += evicted
	}
	fmt.Printf("Evicted %d entries total\n", total)
}
