package domain

import "time"

type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
)

// RunRecord summarizes one finished curation run for the history journal.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Scanned    int
	Processed  int
	NotFound   int
	Failed     int
}
