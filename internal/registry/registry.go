// Package registry holds the canonical lifecycle state of every submitted
// run. All status transitions funnel through it, one writer per record.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overture-labs/overture-go/internal/catalog"
	"github.com/overture-labs/overture-go/internal/domain"
	"github.com/overture-labs/overture-go/internal/repo"
)

// Launcher starts asynchronous execution for a queued run and forwards
// cancellation signals to in-flight executions.
type Launcher interface {
	Launch(run domain.Run, resolved domain.ResolvedSpec) error
	Cancel(runID string)
}

type Registry struct {
	logger   *slog.Logger
	catalog  *catalog.Catalog
	launcher Launcher
	archive  repo.RunArchive

	mu   sync.RWMutex
	runs map[string]*record
}

type record struct {
	mu              sync.Mutex
	run             domain.Run
	resolved        domain.ResolvedSpec
	cancelRequested bool
}

// New builds an empty registry. The archive is optional; when nil, runs are
// held in memory only.
func New(logger *slog.Logger, cat *catalog.Catalog, launcher Launcher, archive repo.RunArchive) *Registry {
	if logger == nil || cat == nil || launcher == nil {
		return nil
	}
	return &Registry{
		logger:   logger,
		catalog:  cat,
		launcher: launcher,
		archive:  archive,
		runs:     map[string]*record{},
	}
}

// Submit validates the spec against the catalog, creates a QUEUED record and
// hands it to the launcher. Returns immediately; execution is out-of-band.
func (r *Registry) Submit(ctx context.Context, spec domain.RunSpec) (domain.Run, error) {
	resolved, err := r.catalog.Resolve(spec)
	if err != nil {
		return domain.Run{}, err
	}

	run := domain.Run{
		RunID:     uuid.NewString(),
		Spec:      spec,
		Status:    domain.RunStatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.runs[run.RunID] = &record{run: run, resolved: resolved}
	r.mu.Unlock()

	if r.archive != nil {
		if err := r.archive.InsertRun(ctx, run); err != nil {
			r.logger.Warn("run archive insert failed", "run_id", run.RunID, "error", err)
		}
	}

	if err := r.launcher.Launch(run, resolved); err != nil {
		r.mu.Lock()
		delete(r.runs, run.RunID)
		r.mu.Unlock()
		return domain.Run{}, fmt.Errorf("launch run: %w", err)
	}

	return run, nil
}

// Get returns a copy of the canonical record.
func (r *Registry) Get(runID string) (domain.Run, error) {
	rec, err := r.lookup(runID)
	if err != nil {
		return domain.Run{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.run, nil
}

// Status returns the current status. Unknown run ids always fail; there is
// no default status.
func (r *Registry) Status(runID string) (domain.RunStatus, error) {
	run, err := r.Get(runID)
	if err != nil {
		return "", err
	}
	return run.Status, nil
}

// List returns known runs, optionally filtered by status, ordered by
// creation time.
func (r *Registry) List(status domain.RunStatus) []domain.Run {
	r.mu.RLock()
	records := make([]*record, 0, len(r.runs))
	for _, rec := range r.runs {
		records = append(records, rec)
	}
	r.mu.RUnlock()

	out := make([]domain.Run, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		run := rec.run
		rec.mu.Unlock()
		if status != "" && run.Status != status {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len reports the number of known runs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

// RequestCancel asks for a run to stop. QUEUED runs are canceled directly
// and never start; STARTED runs get a cooperative signal and reach CANCELED
// asynchronously; terminal runs are a silent no-op. Returns the status as of
// the request.
func (r *Registry) RequestCancel(ctx context.Context, runID string) (domain.RunStatus, error) {
	rec, err := r.lookup(runID)
	if err != nil {
		return "", err
	}

	rec.mu.Lock()
	if rec.run.Status.Terminal() {
		status := rec.run.Status
		rec.mu.Unlock()
		return status, nil
	}
	rec.cancelRequested = true
	if rec.run.Status == domain.RunStatusQueued {
		r.applyLocked(ctx, rec, domain.RunStatusCanceled, "cancel_requested_before_start")
		status := rec.run.Status
		rec.mu.Unlock()
		r.launcher.Cancel(runID)
		return status, nil
	}
	status := rec.run.Status
	rec.mu.Unlock()

	r.launcher.Cancel(runID)
	return status, nil
}

// ApplyTransition records a status change reported by the executor. Illegal
// transitions are rejected and logged without touching the recorded state.
// A completion that races a pending cancel is recorded as CANCELED; the
// returned status is what was actually applied, so callers must treat a
// result different from their request as an instruction to stand down.
func (r *Registry) ApplyTransition(ctx context.Context, runID string, to domain.RunStatus, detail string) (domain.RunStatus, error) {
	rec, err := r.lookup(runID)
	if err != nil {
		return "", err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	from := rec.run.Status
	if from.Terminal() {
		if rec.cancelRequested && from == domain.RunStatusCanceled {
			// The run was canceled before the executor got this far.
			return from, nil
		}
		violation := &domain.ConsistencyError{RunID: runID, From: from, To: to}
		r.logger.Error("run transition rejected", "run_id", runID, "from", string(from), "to", string(to))
		return from, violation
	}

	if rec.cancelRequested && from == domain.RunStatusStarted &&
		(to == domain.RunStatusSuccess || to == domain.RunStatusFailure) {
		r.applyLocked(ctx, rec, domain.RunStatusCanceled, "cancel_wins_completion_race")
		return domain.RunStatusCanceled, nil
	}

	if !domain.CanTransition(from, to) {
		violation := &domain.ConsistencyError{RunID: runID, From: from, To: to}
		r.logger.Error("run transition rejected", "run_id", runID, "from", string(from), "to", string(to))
		return from, violation
	}

	r.applyLocked(ctx, rec, to, detail)
	return to, nil
}

// applyLocked mutates the record; rec.mu must be held and the transition
// must already be legal.
func (r *Registry) applyLocked(ctx context.Context, rec *record, to domain.RunStatus, detail string) {
	now := time.Now().UTC()
	from := rec.run.Status
	rec.run.Status = to
	switch {
	case to == domain.RunStatusStarted:
		rec.run.StartedAt = &now
	case to.Terminal():
		rec.run.EndedAt = &now
	}
	if detail != "" && (to == domain.RunStatusFailure || to == domain.RunStatusCanceled) {
		rec.run.Detail = detail
	}

	r.logger.Info("run transition",
		"run_id", rec.run.RunID,
		"workload", rec.run.Spec.Workload,
		"from", string(from),
		"to", string(to),
	)

	if r.archive != nil {
		if _, err := r.archive.RecordTransition(ctx, rec.run.RunID, to, now, rec.run.Detail); err != nil {
			r.logger.Warn("run archive transition failed", "run_id", rec.run.RunID, "to", string(to), "error", err)
		}
	}
}

// Close tears the registry down: every non-terminal run gets a cancel
// request, then Close waits for the drain until ctx expires.
func (r *Registry) Close(ctx context.Context) error {
	for _, run := range r.List("") {
		if run.Status.Terminal() {
			continue
		}
		if _, err := r.RequestCancel(ctx, run.RunID); err != nil {
			r.logger.Warn("teardown cancel failed", "run_id", run.RunID, "error", err)
		}
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.drained() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("registry teardown: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Registry) drained() bool {
	for _, run := range r.List("") {
		if !run.Status.Terminal() {
			return false
		}
	}
	return true
}

func (r *Registry) lookup(runID string) (*record, error) {
	r.mu.RLock()
	rec, ok := r.runs[runID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return rec, nil
}
