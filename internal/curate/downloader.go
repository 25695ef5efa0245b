package curate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jbruns/curateur-sub000/internal/core/domain"
	"github.com/jbruns/curateur-sub000/internal/sched/metrics"
)

// MediaSource downloads one asset to a destination path and returns the hex
// SHA-1 of the written bytes. The lookup client is the production source;
// it throttles itself through the rate governor.
type MediaSource interface {
	DownloadMedia(ctx context.Context, url, dest string) (string, error)
}

// Downloader fetches the selected media kinds for scraped games.
type Downloader struct {
	source MediaSource
	kinds  []string
	limit  int
	log    *slog.Logger
}

// NewDownloader creates a downloader pulling from source. limit bounds how
// many assets of one game download in parallel.
func NewDownloader(source MediaSource, kinds []string, limit int, log *slog.Logger) *Downloader {
	if limit <= 0 {
		limit = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Downloader{source: source, kinds: kinds, limit: limit, log: log}
}

// Fetch downloads the configured media kinds for one game into the item's
// output directory. known carries sub-hashes already recorded in the cache:
// an asset whose hash is known and whose file is still in place is not
// re-downloaded. It returns kind→hash for cache sub-hash tracking and
// kind→relative-path for the gamelist entry.
//
// An asset missing on the service side is skipped with a warning; any other
// failure aborts the remaining downloads and surfaces, so the task-level
// retry policy applies to the whole game.
func (d *Downloader) Fetch(ctx context.Context, item domain.RomItem, game *domain.GameInfo, known map[string]string) (map[string]string, map[string]string, error) {
	assets := d.selectAssets(game)
	if len(assets) == 0 {
		return nil, nil, nil
	}

	var mu sync.Mutex
	hashes := make(map[string]string, len(assets))
	paths := make(map[string]string, len(assets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)

	for kind, asset := range assets {
		relPath := mediaRelPath(kind, item.Name, asset.Format)
		dest := filepath.Join(item.OutputDir, filepath.FromSlash(relPath))

		// Asset already on disk with a recorded hash: nothing to fetch.
		if prior, ok := known[kind]; ok && prior != "" && fileExists(dest) {
			mu.Lock()
			hashes[kind] = prior
			paths[kind] = relPath
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			sum, err := d.source.DownloadMedia(ctx, asset.URL, dest)
			if err != nil {
				var ce *domain.ClassifiedError
				if errors.As(err, &ce) && ce.Class == domain.ClassNotFound {
					d.log.Warn("media asset missing on service",
						"game", game.Name,
						"kind", kind,
						"url", asset.URL)
					return nil
				}
				return fmt.Errorf("download %s for %s: %w", kind, game.Name, err)
			}
			metrics.MediaDownloaded.WithLabelValues(kind).Inc()
			mu.Lock()
			hashes[kind] = sum
			paths[kind] = relPath
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return hashes, paths, nil
}

// selectAssets picks one asset per configured kind, first occurrence wins.
func (d *Downloader) selectAssets(game *domain.GameInfo) map[string]domain.MediaAsset {
	selected := make(map[string]domain.MediaAsset)
	for _, kind := range d.kinds {
		for _, asset := range game.Media {
			if asset.Kind != kind || asset.URL == "" {
				continue
			}
			selected[kind] = asset
			break
		}
	}
	return selected
}

func mediaRelPath(kind, name, format string) string {
	if format == "" {
		format = "png"
	}
	return "./media/" + kind + "/" + name + "." + format
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
