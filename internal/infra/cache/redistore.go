package cache

import (
	"context"
	"encoding/json"
	"fmt"

	redisclient "github.com/jbruns/curateur-sub000/internal/infra/redis"
)

// RedisStore persists the cache document in Redis, for setups sharing one
// result cache across machines. Same document layout as FileStore, keyed
// by output directory.
type RedisStore struct {
	client    *redisclient.Client
	outputDir string
}

// NewRedisStore creates a store for one output directory's document.
func NewRedisStore(client *redisclient.Client, outputDir string) *RedisStore {
	return &RedisStore{client: client, outputDir: outputDir}
}

// Load reads the cache document. A missing key is an empty cache.
func (s *RedisStore) Load(ctx context.Context) (map[string]Entry, error) {
	data, err := s.client.GetDocument(ctx, s.outputDir)
	if err != nil {
		return nil, fmt.Errorf("load cache document: %w", err)
	}
	if data == nil {
		return make(map[string]Entry), nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse cache document: %w", err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]Entry)
	}
	return doc.Entries, nil
}

// Save replaces the cache document.
func (s *RedisStore) Save(ctx context.Context, entries map[string]Entry) error {
	data, err := json.Marshal(document{Version: documentVersion, Entries: entries})
	if err != nil {
		return fmt.Errorf("encode cache document: %w", err)
	}
	if err := s.client.SetDocument(ctx, s.outputDir, data); err != nil {
		return fmt.Errorf("save cache document: %w", err)
	}
	return nil
}
