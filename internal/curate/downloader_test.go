package curate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jbruns/curateur-sub000/internal/core/domain"
)

type fakeMediaSource struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error // keyed by URL
}

func (s *fakeMediaSource) DownloadMedia(_ context.Context, url, dest string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, url)
	s.mu.Unlock()
	if err, ok := s.fail[url]; ok {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dest, []byte(url), 0o644); err != nil {
		return "", err
	}
	return "hash-of-" + url, nil
}

func testGame() *domain.GameInfo {
	return &domain.GameInfo{
		Name: "Super Metroid",
		Media: []domain.MediaAsset{
			{Kind: "cover", URL: "http://svc/cover.png", Format: "png"},
			{Kind: "screenshot", URL: "http://svc/shot.png", Format: "png"},
			{Kind: "video", URL: "http://svc/clip.mp4", Format: "mp4"},
		},
	}
}

func TestDownloader_Fetch(t *testing.T) {
	dir := t.TempDir()
	item := domain.RomItem{Name: "Super Metroid", OutputDir: dir}
	src := &fakeMediaSource{}
	d := NewDownloader(src, []string{"cover", "screenshot"}, 2, testLogger())

	hashes, paths, err := d.Fetch(context.Background(), item, testGame(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hashes) != 2 || len(paths) != 2 {
		t.Fatalf("expected 2 assets, got hashes=%d paths=%d", len(hashes), len(paths))
	}
	if paths["cover"] != "./media/cover/Super Metroid.png" {
		t.Errorf("unexpected cover path %q", paths["cover"])
	}
	if hashes["cover"] != "hash-of-http://svc/cover.png" {
		t.Errorf("unexpected cover hash %q", hashes["cover"])
	}
	// Video was not configured, so it must not have been fetched.
	if len(src.calls) != 2 {
		t.Errorf("expected 2 downloads, got %v", src.calls)
	}
	if !fileExists(filepath.Join(dir, "media", "cover", "Super Metroid.png")) {
		t.Error("cover not written to output dir")
	}
}

func TestDownloader_SkipsKnownAssets(t *testing.T) {
	dir := t.TempDir()
	item := domain.RomItem{Name: "Super Metroid", OutputDir: dir}
	src := &fakeMediaSource{}
	d := NewDownloader(src, []string{"cover", "screenshot"}, 2, testLogger())

	if _, _, err := d.Fetch(context.Background(), item, testGame(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := len(src.calls)

	// Second pass with recorded hashes and files still on disk: nothing to do.
	known := map[string]string{
		"cover":      "hash-of-http://svc/cover.png",
		"screenshot": "hash-of-http://svc/shot.png",
	}
	hashes, paths, err := d.Fetch(context.Background(), item, testGame(), known)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(src.calls) != first {
		t.Errorf("expected no new downloads, got %v", src.calls[first:])
	}
	if hashes["cover"] != known["cover"] || paths["cover"] == "" {
		t.Errorf("known asset not carried forward: hashes=%v paths=%v", hashes, paths)
	}
}

func TestDownloader_RefetchesMissingFile(t *testing.T) {
	dir := t.TempDir()
	item := domain.RomItem{Name: "Super Metroid", OutputDir: dir}
	src := &fakeMediaSource{}
	d := NewDownloader(src, []string{"cover"}, 1, testLogger())

	// Hash is recorded but the file is gone, so the download runs again.
	known := map[string]string{"cover": "stale-hash"}
	hashes, _, err := d.Fetch(context.Background(), item, testGame(), known)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(src.calls) != 1 {
		t.Fatalf("expected refetch, got %v", src.calls)
	}
	if hashes["cover"] != "hash-of-http://svc/cover.png" {
		t.Errorf("expected fresh hash, got %q", hashes["cover"])
	}
}

func TestDownloader_MissingAssetSkipped(t *testing.T) {
	dir := t.TempDir()
	item := domain.RomItem{Name: "Super Metroid", OutputDir: dir}
	src := &fakeMediaSource{fail: map[string]error{
		"http://svc/cover.png": domain.Classified(domain.ClassNotFound, errors.New("no such asset")),
	}}
	d := NewDownloader(src, []string{"cover", "screenshot"}, 2, testLogger())

	hashes, paths, err := d.Fetch(context.Background(), item, testGame(), nil)
	if err != nil {
		t.Fatalf("missing asset should not fail the fetch: %v", err)
	}
	if _, ok := hashes["cover"]; ok {
		t.Error("missing asset should not appear in hashes")
	}
	if paths["screenshot"] == "" {
		t.Error("remaining asset should still download")
	}
}

func TestDownloader_ErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	item := domain.RomItem{Name: "Super Metroid", OutputDir: dir}
	src := &fakeMediaSource{fail: map[string]error{
		"http://svc/cover.png": domain.Classified(domain.ClassRetryable, errors.New("boom")),
	}}
	d := NewDownloader(src, []string{"cover"}, 1, testLogger())

	_, _, err := d.Fetch(context.Background(), item, testGame(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var ce *domain.ClassifiedError
	if !errors.As(err, &ce) || ce.Class != domain.ClassRetryable {
		t.Errorf("expected wrapped retryable error, got %v", err)
	}
}

func TestDownloader_NoConfiguredKinds(t *testing.T) {
	src := &fakeMediaSource{}
	d := NewDownloader(src, nil, 2, testLogger())

	hashes, paths, err := d.Fetch(context.Background(), domain.RomItem{Name: "x", OutputDir: t.TempDir()}, testGame(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hashes != nil || paths != nil {
		t.Errorf("expected no work, got hashes=%v paths=%v", hashes, paths)
	}
	if len(src.calls) != 0 {
		t.Errorf("expected no downloads, got %v", src.calls)
	}
}
