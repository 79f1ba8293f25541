// Package repo defines the persistence surface for the run archive. The
// in-memory registry stays the source of truth for live runs; the archive
// keeps a durable history of records and their state events.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/overture-labs/overture-go/internal/domain"
)

var ErrNotFound = errors.New("not_found")

type RunFilter struct {
	Workload string
	Status   domain.RunStatus
	Limit    int
}

// StateEvent is one append-only status observation for a run.
type StateEvent struct {
	EventID    string
	RunID      string
	Status     domain.RunStatus
	ObservedAt time.Time
	Detail     string
}

// RunArchive persists run records and append-only state events.
type RunArchive interface {
	InsertRun(ctx context.Context, run domain.Run) error
	// RecordTransition updates the run row and appends a state event.
	// The append is idempotent per (run_id, status); the bool reports
	// whether a new event was written.
	RecordTransition(ctx context.Context, runID string, status domain.RunStatus, at time.Time, detail string) (bool, error)
	GetRun(ctx context.Context, runID string) (domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	ListStateEvents(ctx context.Context, runID string) ([]StateEvent, error)
}
