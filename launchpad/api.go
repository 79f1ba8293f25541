package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/overture-labs/overture-go/internal/catalog"
	"github.com/overture-labs/overture-go/internal/domain"
	"github.com/overture-labs/overture-go/internal/platform/auditlog"
	"github.com/overture-labs/overture-go/internal/platform/auth"
	"github.com/overture-labs/overture-go/internal/registry"
	"github.com/overture-labs/overture-go/internal/repo"
	"github.com/overture-labs/overture-go/internal/storage/runlogs"
)

type launchpadAPI struct {
	logger   *slog.Logger
	registry *registry.Registry
	catalog  *catalog.Catalog
	db       *sql.DB
	archive  repo.RunArchive
	logs     *runlogs.Store
}

func newLaunchpadAPI(logger *slog.Logger, reg *registry.Registry, cat *catalog.Catalog, db *sql.DB, archive repo.RunArchive, logs *runlogs.Store) *launchpadAPI {
	return &launchpadAPI{
		logger:   logger,
		registry: reg,
		catalog:  cat,
		db:       db,
		archive:  archive,
		logs:     logs,
	}
}

func (api *launchpadAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /workloads", api.handleListWorkloads)

	mux.HandleFunc("POST /runs", api.handleSubmitRun)
	mux.HandleFunc("GET /runs", api.handleListRuns)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("GET /runs/{run_id}/status", api.handleGetRunStatus)
	mux.HandleFunc("GET /runs/{run_id}/events", api.handleGetRunEvents)
	mux.HandleFunc("GET /runs/{run_id}/log", api.handleGetRunLog)
	mux.HandleFunc("POST /runs/{run_id}/cancel", api.handleCancelRun)
}

type workloadRecord struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Runner      string   `json:"runner"`
	Modes       []string `json:"modes"`
}

type runRecord struct {
	RunID     string          `json:"run_id"`
	Workload  string          `json:"workload"`
	Mode      string          `json:"mode"`
	Config    domain.Metadata `json:"config,omitempty"`
	Status    string          `json:"status"`
	Detail    string          `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

func toRunRecord(run domain.Run) runRecord {
	return runRecord{
		RunID:     run.RunID,
		Workload:  run.Spec.Workload,
		Mode:      run.Spec.Mode,
		Config:    run.Spec.Config,
		Status:    string(run.Status),
		Detail:    run.Detail,
		CreatedAt: run.CreatedAt,
		StartedAt: run.StartedAt,
		EndedAt:   run.EndedAt,
	}
}

func (api *launchpadAPI) handleListWorkloads(w http.ResponseWriter, r *http.Request) {
	workloads := api.catalog.Workloads()
	out := make([]workloadRecord, 0, len(workloads))
	for _, wl := range workloads {
		out = append(out, workloadRecord{
			Name:        wl.Name,
			Description: wl.Description,
			Runner:      wl.Runner,
			Modes:       wl.Modes,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"workloads": out})
}

type submitRunRequest struct {
	Workload string          `json:"workload"`
	Mode     string          `json:"mode,omitempty"`
	Config   domain.Metadata `json:"config,omitempty"`
}

func (api *launchpadAPI) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		mode = "default"
	}

	run, err := api.registry.Submit(r.Context(), domain.RunSpec{
		Workload: strings.TrimSpace(req.Workload),
		Mode:     mode,
		Config:   req.Config,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSpec) {
			api.writeError(w, r, http.StatusBadRequest, "invalid_spec")
			return
		}
		api.logger.Error("run submit failed", "request_id", r.Header.Get("X-Request-Id"), "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.audit(r, "run.submit", run.RunID, map[string]any{
		"workload": run.Spec.Workload,
		"mode":     run.Spec.Mode,
	})

	w.Header().Set("Location", "/runs/"+run.RunID)
	api.writeJSON(w, http.StatusCreated, toRunRecord(run))
}

func (api *launchpadAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var filter domain.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := domain.ParseRunStatus(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
		filter = status
	}

	// source=archive serves the durable history instead of the live
	// registry, so runs from previous processes stay reachable.
	if strings.TrimSpace(r.URL.Query().Get("source")) == "archive" {
		if api.archive == nil {
			api.writeError(w, r, http.StatusNotImplemented, "archive_disabled")
			return
		}
		runs, err := api.archive.ListRuns(r.Context(), repo.RunFilter{
			Workload: strings.TrimSpace(r.URL.Query().Get("workload")),
			Status:   filter,
			Limit:    parseIntQuery(r, "limit", 0),
		})
		if err != nil {
			api.logger.Error("archive list failed", "request_id", r.Header.Get("X-Request-Id"), "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		out := make([]runRecord, 0, len(runs))
		for _, run := range runs {
			out = append(out, toRunRecord(run))
		}
		api.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
		return
	}

	runs := api.registry.List(filter)
	out := make([]runRecord, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunRecord(run))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (api *launchpadAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	run, err := api.registry.Get(runID)
	if err != nil && errors.Is(err, domain.ErrRunNotFound) && api.archive != nil {
		// Fall back to the archive so historical runs survive restarts.
		run, err = api.archive.GetRun(r.Context(), runID)
		if errors.Is(err, repo.ErrNotFound) {
			err = domain.ErrRunNotFound
		}
	}
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			api.writeError(w, r, http.StatusNotFound, "run_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, toRunRecord(run))
}

func (api *launchpadAPI) handleGetRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	status, err := api.registry.Status(runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			api.writeError(w, r, http.StatusNotFound, "run_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"status": string(status),
	})
}

type stateEventRecord struct {
	EventID    string    `json:"event_id"`
	Status     string    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
	Detail     string    `json:"detail,omitempty"`
}

func (api *launchpadAPI) handleGetRunEvents(w http.ResponseWriter, r *http.Request) {
	if api.archive == nil {
		api.writeError(w, r, http.StatusNotImplemented, "archive_disabled")
		return
	}
	runID := r.PathValue("run_id")
	if _, err := api.archive.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "run_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	events, err := api.archive.ListStateEvents(r.Context(), runID)
	if err != nil {
		api.logger.Error("state event list failed", "request_id", r.Header.Get("X-Request-Id"), "run_id", runID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]stateEventRecord, 0, len(events))
	for _, ev := range events {
		out = append(out, stateEventRecord{
			EventID:    ev.EventID,
			Status:     string(ev.Status),
			ObservedAt: ev.ObservedAt,
			Detail:     ev.Detail,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"events": out,
	})
}

func (api *launchpadAPI) handleGetRunLog(w http.ResponseWriter, r *http.Request) {
	if api.logs == nil {
		api.writeError(w, r, http.StatusNotImplemented, "run_logs_disabled")
		return
	}
	runID := r.PathValue("run_id")
	if _, err := api.registry.Status(runID); err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			api.writeError(w, r, http.StatusNotFound, "run_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	data, err := api.logs.FetchRunLog(r.Context(), runID)
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "log_not_found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (api *launchpadAPI) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	status, err := api.registry.RequestCancel(r.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			api.writeError(w, r, http.StatusNotFound, "run_not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.audit(r, "run.cancel_request", runID, map[string]any{
		"status_at_request": string(status),
	})

	api.writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": string(status),
	})
}

// audit records a mutation best-effort when the archive database is wired.
func (api *launchpadAPI) audit(r *http.Request, action string, runID string, payload map[string]any) {
	if api.db == nil {
		return
	}

	actor := "anonymous"
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && strings.TrimSpace(identity.Subject) != "" {
		actor = identity.Subject
	}

	ctx, cancel := context.WithTimeout(context.Background(), 750*time.Millisecond)
	defer cancel()
	_, err := auditlog.Insert(ctx, api.db, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: "run",
		ResourceID:   runID,
		RequestID:    r.Header.Get("X-Request-Id"),
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	})
	if err != nil {
		api.logger.Warn("audit insert failed", "request_id", r.Header.Get("X-Request-Id"), "action", action, "error", err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *launchpadAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *launchpadAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
