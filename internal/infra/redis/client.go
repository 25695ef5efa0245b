package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the shared result cache backend.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func documentKey(outputDir string) string {
	return fmt.Sprintf("curateur:cache:%s", outputDir)
}

// GetDocument returns the cache document stored for an output directory,
// or nil when none exists yet.
func (c *Client) GetDocument(ctx context.Context, outputDir string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, documentKey(outputDir)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	return data, nil
}

// SetDocument replaces the cache document for an output directory. The
// document carries per-entry TTLs, so the key itself never expires.
func (c *Client) SetDocument(ctx context.Context, outputDir string, data []byte) error {
	if err := c.rdb.Set(ctx, documentKey(outputDir), data, 0).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// DeleteDocument removes the cache document for an output directory.
func (c *Client) DeleteDocument(ctx context.Context, outputDir string) error {
	return c.rdb.Del(ctx, documentKey(outputDir)).Err()
}
