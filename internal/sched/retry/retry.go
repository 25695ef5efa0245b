// Package retry classifies task errors and retries single remote calls.
//
// Two retry paths exist and must not be mixed up: queued task retries are
// re-enqueued by the worker pool and paced by the rate governor on their next
// admission, while Do retries one call in place with its own backoff sleeps.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/jbruns/curateur-sub000/internal/core/domain"
)

// Config defines retry behavior for single remote calls.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	BackoffFactor  float64
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxAttempts:    3,
	InitialBackoff: 2 * time.Second,
	BackoffFactor:  2.0,
}

// Classify determines the failure class for an error. An explicit class
// attached to the error wins; otherwise lexical heuristics decide, and
// anything unrecognized is non-retryable.
func Classify(err error) domain.FailureClass {
	if err == nil {
		return domain.ClassNonRetryable // Should not happen
	}

	var ce *domain.ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	s := strings.ToLower(err.Error())

	// Transient transport trouble
	if strings.Contains(s, "timeout") || strings.Contains(s, "timed out") ||
		strings.Contains(s, "deadline exceeded") ||
		strings.Contains(s, "connection") ||
		strings.Contains(s, "network") ||
		strings.Contains(s, "temporarily unavailable") ||
		strings.Contains(s, "unexpected eof") {
		return domain.ClassRetryable
	}

	return domain.ClassNonRetryable
}

// Do executes fn with classified retries and exponential backoff between
// attempts. Retryable errors repeat up to MaxAttempts total attempts; every
// other class returns immediately.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = DefaultConfig.BackoffFactor
	}

	attempts := 0
	err := goretry.Do(ctx, backoffFor(cfg), func(ctx context.Context) error {
		attempts++
		if err := fn(ctx); err != nil {
			if Classify(err) == domain.ClassRetryable {
				return goretry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if attempts >= cfg.MaxAttempts && Classify(err) == domain.ClassRetryable {
		return fmt.Errorf("failed after %d attempts: %w", attempts, err)
	}
	return err
}

func backoffFor(cfg Config) goretry.Backoff {
	attempt := 0
	b := goretry.BackoffFunc(func() (time.Duration, bool) {
		delay := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt))
		attempt++
		return time.Duration(delay), false
	})
	return goretry.WithMaxRetries(uint64(cfg.MaxAttempts-1), b)
}
