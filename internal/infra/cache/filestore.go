package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	cacheFileName   = ".curateur-cache.json"
	documentVersion = 1
)

// document is the persisted layout: one keyed document per output
// directory. Timestamps serialize as RFC 3339.
type document struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// FileStore persists the cache document as a JSON file in the output
// directory. Writes go to a temp file and rename into place, so a crash
// mid-write never corrupts the previous document.
type FileStore struct {
	path string
}

// NewFileStore creates a store rooted at the given output directory.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, cacheFileName)}
}

// Load reads the cache document. A missing file is an empty cache.
func (s *FileStore) Load(ctx context.Context) (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache document: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse cache document %s: %w", s.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]Entry)
	}
	return doc.Entries, nil
}

// Save atomically replaces the cache document.
func (s *FileStore) Save(ctx context.Context, entries map[string]Entry) error {
	data, err := json.MarshalIndent(document{Version: documentVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, cacheFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace cache document: %w", err)
	}
	return nil
}
