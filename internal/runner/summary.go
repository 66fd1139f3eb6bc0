package runner

import (
	"time"

	"github.com/jonathan/outreach-agent/internal/ingestion"
	"github.com/jonathan/outreach-agent/internal/types"
)

// Failure describes one company that ended the run Failed.
type Failure struct {
	ID      string          `json:"id"`
	Company string          `json:"company"`
	Stage   string          `json:"stage"`
	Kind    types.ErrorKind `json:"kind"`
	Reason  string          `json:"reason"`
}

// Summary is the outcome of one run.
type Summary struct {
	RunID        string                `json:"run_id"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
	DryRun       bool                  `json:"dry_run"`
	Loaded       int                   `json:"loaded"`
	Inserted     int                   `json:"inserted"`
	Reset        int                   `json:"reset"`
	Planned      []string              `json:"planned"`
	Processed    int                   `json:"processed"`
	Remaining    int                   `json:"remaining"`
	Stopped      bool                  `json:"stopped"`
	MessagesSent int                   `json:"messages_sent"`
	Counts       map[types.Status]int  `json:"counts"`
	Failures     []Failure             `json:"failures,omitempty"`
	Rejected     []*ingestion.RowError `json:"-"`
}

func newSummary(runID string, started time.Time, dryRun bool) *Summary {
	return &Summary{
		RunID:     runID,
		StartedAt: started.UTC(),
		DryRun:    dryRun,
		Counts:    make(map[types.Status]int),
	}
}

func (s *Summary) finish(at time.Time) {
	s.FinishedAt = at.UTC()
}

// Duration is the wall time of the run.
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Count returns the number of companies currently in status.
func (s *Summary) Count(status types.Status) int {
	return s.Counts[status]
}
