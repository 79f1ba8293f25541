package domain

import (
	"errors"
	"strings"
	"time"
)

// Metadata is free-form JSON-compatible key/value data.
type Metadata map[string]any

// RunSpec describes the work a run executes. Immutable after submission.
type RunSpec struct {
	Workload string
	Mode     string
	Config   Metadata
}

func (s RunSpec) Validate() error {
	if strings.TrimSpace(s.Workload) == "" {
		return errors.New("workload is required")
	}
	if strings.TrimSpace(s.Mode) == "" {
		return errors.New("mode is required")
	}
	return nil
}

// Run is the mutable lifecycle record for one submitted spec. Identity is
// immutable; status moves only along the legal transition table.
type Run struct {
	RunID     string
	Spec      RunSpec
	Status    RunStatus
	Detail    string
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("run id is required")
	}
	if err := r.Spec.Validate(); err != nil {
		return err
	}
	if !r.Status.Valid() {
		return errors.New("status is required")
	}
	if r.CreatedAt.IsZero() {
		return errors.New("created at is required")
	}
	return nil
}
