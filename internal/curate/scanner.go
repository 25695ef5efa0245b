// Package curate holds the local-side collaborators around the scrape
// scheduler: directory scanning, media placement, and gamelist maintenance.
// Everything here is plain sequential I/O; the concurrency and failure
// policy live in internal/sched.
package curate

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jbruns/curateur-sub000/internal/core/config"
	"github.com/jbruns/curateur-sub000/internal/core/domain"
)

// Scanner discovers ROM files eligible for scraping.
type Scanner struct {
	log *slog.Logger
}

// NewScanner creates a scanner.
func NewScanner(log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{log: log}
}

// Scan walks each configured platform directory and returns the matching
// files with size and content hash computed. A missing platform directory
// is skipped with a warning; an unreadable file is skipped likewise. The
// hash is the cache key, so a file that cannot be hashed cannot be scraped.
func (s *Scanner) Scan(ctx context.Context, platforms []config.PlatformConfig) ([]domain.RomItem, error) {
	var items []domain.RomItem

	for _, platform := range platforms {
		exts := extensionSet(platform.Extensions)
		outputDir := platform.Output
		if outputDir == "" {
			outputDir = platform.Path
		}

		err := filepath.WalkDir(platform.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if _, ok := exts[ext]; !ok {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				s.log.Warn("skipping unreadable file", "path", path, "error", err)
				return nil
			}
			hash, err := hashFile(path)
			if err != nil {
				s.log.Warn("skipping unhashable file", "path", path, "error", err)
				return nil
			}

			items = append(items, domain.RomItem{
				Path:      path,
				Name:      strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
				Platform:  platform.Name,
				OutputDir: outputDir,
				Size:      info.Size(),
				Hash:      hash,
			})
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("platform directory not scanned", "platform", platform.Name, "path", platform.Path, "error", err)
			continue
		}

		s.log.Info("platform scanned", "platform", platform.Name, "path", platform.Path)
	}

	return items, nil
}

// extensionSet normalizes configured extensions to lowercase with a leading
// dot, so "SFC" and ".sfc" configure the same filter.
func extensionSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return set
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
