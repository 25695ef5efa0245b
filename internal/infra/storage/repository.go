package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jbruns/curateur-sub000/internal/core/domain"
)

var (
	// ErrRunNotFound is returned when a run doesn't exist in the journal
	ErrRunNotFound = errors.New("run not found")
)

// RunRepository handles run journal storage operations
type RunRepository interface {
	// SaveRun records a finished run
	SaveRun(ctx context.Context, run *domain.RunRecord) error

	// SaveFailures records the terminal failures of a run
	SaveFailures(ctx context.Context, runID string, failures []domain.FailureRecord) error

	// GetRun retrieves a run by ID
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)

	// ListRuns retrieves the most recent runs, newest first
	ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error)

	// ListFailures retrieves the failures recorded for a run
	ListFailures(ctx context.Context, runID string) ([]domain.FailureRecord, error)

	// DeleteRunsBefore removes runs that finished before cutoff
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
