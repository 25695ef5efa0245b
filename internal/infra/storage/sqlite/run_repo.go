package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jbruns/curateur-sub000/internal/core/domain"
	"github.com/jbruns/curateur-sub000/internal/infra/storage"
)

// RunRepo implements storage.RunRepository using SQLite.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new SQLite run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// SaveRun records a finished run.
func (r *RunRepo) SaveRun(ctx context.Context, run *domain.RunRecord) error {
	query := `
		INSERT INTO runs (id, started_at, finished_at, status, scanned, processed, not_found, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = excluded.finished_at,
			status = excluded.status,
			scanned = excluded.scanned,
			processed = excluded.processed,
			not_found = excluded.not_found,
			failed = excluded.failed
	`

	// Timestamps are stored in UTC so range comparisons stay chronological.
	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		string(run.Status),
		run.Scanned,
		run.Processed,
		run.NotFound,
		run.Failed,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// SaveFailures records the terminal failures of a run.
func (r *RunRepo) SaveFailures(
	ctx context.Context,
	runID string,
	failures []domain.FailureRecord,
) error {
	if len(failures) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO run_failures (id, run_id, path, platform, action, class, error, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, id) DO UPDATE SET
			class = excluded.class,
			error = excluded.error,
			attempts = excluded.attempts
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range failures {
		_, err := stmt.ExecContext(ctx,
			f.ID,
			runID,
			f.Path,
			f.Platform,
			string(f.Action),
			f.Class.String(),
			f.Error,
			f.Attempts,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

type runRow struct {
	ID         string    `db:"id"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	Status     string    `db:"status"`
	Scanned    int       `db:"scanned"`
	Processed  int       `db:"processed"`
	NotFound   int       `db:"not_found"`
	Failed     int       `db:"failed"`
}

func (r *runRow) toDomain() *domain.RunRecord {
	return &domain.RunRecord{
		ID:         r.ID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Status:     domain.RunStatus(r.Status),
		Scanned:    r.Scanned,
		Processed:  r.Processed,
		NotFound:   r.NotFound,
		Failed:     r.Failed,
	}
}

// GetRun retrieves a run by ID.
func (r *RunRepo) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	query := `
		SELECT id, started_at, finished_at, status, scanned, processed, not_found, failed
		FROM runs
		WHERE id = ?
	`

	var row runRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return row.toDomain(), nil
}

// ListRuns retrieves the most recent runs, newest first.
func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, started_at, finished_at, status, scanned, processed, not_found, failed
		FROM runs
		ORDER BY finished_at DESC
		LIMIT ?
	`

	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*domain.RunRecord, 0, len(rows))
	for i := range rows {
		runs = append(runs, rows[i].toDomain())
	}
	return runs, nil
}

type failureRow struct {
	ID       string `db:"id"`
	RunID    string `db:"run_id"`
	Path     string `db:"path"`
	Platform string `db:"platform"`
	Action   string `db:"action"`
	Class    string `db:"class"`
	Error    string `db:"error"`
	Attempts int    `db:"attempts"`
}

// ListFailures retrieves the failures recorded for a run.
func (r *RunRepo) ListFailures(ctx context.Context, runID string) ([]domain.FailureRecord, error) {
	query := `
		SELECT id, run_id, path, platform, action, class, error, attempts
		FROM run_failures
		WHERE run_id = ?
		ORDER BY path
	`

	var rows []failureRow
	if err := r.db.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}

	failures := make([]domain.FailureRecord, 0, len(rows))
	for _, row := range rows {
		failures = append(failures, domain.FailureRecord{
			ID:       row.ID,
			Path:     row.Path,
			Platform: row.Platform,
			Action:   domain.ActionKind(row.Action),
			Class:    domain.ParseFailureClass(row.Class),
			Error:    row.Error,
			Attempts: row.Attempts,
		})
	}
	return failures, nil
}

// DeleteRunsBefore removes runs that finished before cutoff. Failures are
// removed by the foreign key cascade.
func (r *RunRepo) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM runs WHERE finished_at < ?`

	res, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return res.RowsAffected()
}
