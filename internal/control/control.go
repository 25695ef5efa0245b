package control

import (
	"context"
	"time"

	"github.com/jbruns/curateur-sub000/internal/core/domain"
)

// Lookup is the remote metadata service surface the curator drives. All
// calls are admitted through the rate governor by the implementation.
type Lookup interface {
	// Profile fetches account quota and thread allowance, and doubles as
	// the credential check.
	Profile(ctx context.Context) (*domain.Profile, error)

	// GameInfo resolves one scanned item to its metadata.
	GameInfo(ctx context.Context, item domain.RomItem) (*domain.LookupResult, error)

	// DownloadMedia fetches one media asset to dest and returns its SHA-1.
	DownloadMedia(ctx context.Context, url, dest string) (string, error)
}

// Report is the final three-bucket outcome of a run.
type Report struct {
	RunID     string
	Status    domain.RunStatus
	Scanned   int
	Processed int
	NotFound  []domain.FailureRecord
	Failed    []domain.FailureRecord
	Duration  time.Duration
}
