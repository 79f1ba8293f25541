package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/overture-labs/overture-go/internal/domain"
	"github.com/overture-labs/overture-go/internal/repo"
)

const insertStateEventQuery = `INSERT INTO run_state_events (event_id, run_id, status, observed_at, detail)
	 VALUES ($1,$2,$3,$4,$5)
	 ON CONFLICT (run_id, status) DO NOTHING`

// RunArchive is the postgres-backed run history.
type RunArchive struct {
	db DB
}

func NewRunArchive(db DB) *RunArchive {
	if db == nil {
		return nil
	}
	return &RunArchive{db: db}
}

func (a *RunArchive) InsertRun(ctx context.Context, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	configJSON, err := encodeConfig(run.Spec.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	_, err = a.db.ExecContext(
		ctx,
		`INSERT INTO runs (
			run_id,
			workload,
			mode,
			config,
			status,
			detail,
			created_at,
			started_at,
			ended_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		run.RunID,
		run.Spec.Workload,
		run.Spec.Mode,
		configJSON,
		string(run.Status),
		nullString(run.Detail),
		normalizeTime(run.CreatedAt),
		nullTimePtr(run.StartedAt),
		nullTimePtr(run.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (a *RunArchive) RecordTransition(ctx context.Context, runID string, status domain.RunStatus, at time.Time, detail string) (bool, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return false, errors.New("run id is required")
	}
	if !status.Valid() {
		return false, fmt.Errorf("invalid status %q", status)
	}
	at = normalizeTime(at)

	var startedAt, endedAt sql.NullTime
	switch {
	case status == domain.RunStatusStarted:
		startedAt = sql.NullTime{Time: at, Valid: true}
	case status.Terminal():
		endedAt = sql.NullTime{Time: at, Valid: true}
	}

	res, err := a.db.ExecContext(
		ctx,
		`UPDATE runs
		 SET status = $2,
			 detail = COALESCE($3, detail),
			 started_at = COALESCE(started_at, $4),
			 ended_at = COALESCE(ended_at, $5)
		 WHERE run_id = $1`,
		runID,
		string(status),
		nullString(detail),
		startedAt,
		endedAt,
	)
	if err != nil {
		return false, fmt.Errorf("update run status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return false, repo.ErrNotFound
	}

	res, err = a.db.ExecContext(
		ctx,
		insertStateEventQuery,
		uuid.NewString(),
		runID,
		string(status),
		at,
		nullString(detail),
	)
	if err != nil {
		return false, fmt.Errorf("insert state event: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (a *RunArchive) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	row := a.db.QueryRowContext(
		ctx,
		`SELECT run_id, workload, mode, config, status, detail, created_at, started_at, ended_at
		 FROM runs
		 WHERE run_id = $1`,
		strings.TrimSpace(runID),
	)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (a *RunArchive) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	query := `SELECT run_id, workload, mode, config, status, detail, created_at, started_at, ended_at
			  FROM runs`
	var (
		clauses []string
		args    []any
	)
	if strings.TrimSpace(filter.Workload) != "" {
		args = append(args, strings.TrimSpace(filter.Workload))
		clauses = append(clauses, "workload = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, "status = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += " ORDER BY created_at ASC LIMIT $" + strconv.Itoa(len(args))

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *RunArchive) ListStateEvents(ctx context.Context, runID string) ([]repo.StateEvent, error) {
	rows, err := a.db.QueryContext(
		ctx,
		`SELECT event_id, run_id, status, observed_at, COALESCE(detail,'')
		 FROM run_state_events
		 WHERE run_id = $1
		 ORDER BY observed_at ASC`,
		strings.TrimSpace(runID),
	)
	if err != nil {
		return nil, fmt.Errorf("list state events: %w", err)
	}
	defer rows.Close()

	var out []repo.StateEvent
	for rows.Next() {
		var (
			ev     repo.StateEvent
			status string
		)
		if err := rows.Scan(&ev.EventID, &ev.RunID, &status, &ev.ObservedAt, &ev.Detail); err != nil {
			return nil, err
		}
		parsed, err := domain.ParseRunStatus(status)
		if err != nil {
			return nil, err
		}
		ev.Status = parsed
		ev.ObservedAt = ev.ObservedAt.UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run       domain.Run
		configRaw []byte
		status    string
		detail    sql.NullString
		startedAt sql.NullTime
		endedAt   sql.NullTime
	)
	err := row.Scan(
		&run.RunID,
		&run.Spec.Workload,
		&run.Spec.Mode,
		&configRaw,
		&status,
		&detail,
		&run.CreatedAt,
		&startedAt,
		&endedAt,
	)
	if err != nil {
		return domain.Run{}, err
	}

	parsed, err := domain.ParseRunStatus(status)
	if err != nil {
		return domain.Run{}, err
	}
	config, err := decodeConfig(configRaw)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode config: %w", err)
	}

	run.Status = parsed
	run.Spec.Config = config
	run.Detail = detail.String
	run.CreatedAt = run.CreatedAt.UTC()
	run.StartedAt = timePtr(startedAt)
	run.EndedAt = timePtr(endedAt)
	return run, nil
}
