package domain

import (
	"fmt"
	"strings"
)

// RunStatus is the lifecycle state of a run. Values are stable wire tokens.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "QUEUED"
	RunStatusStarted  RunStatus = "STARTED"
	RunStatusSuccess  RunStatus = "SUCCESS"
	RunStatusFailure  RunStatus = "FAILURE"
	RunStatusCanceled RunStatus = "CANCELED"
)

// Terminal reports whether the status can never change again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailure, RunStatusCanceled:
		return true
	}
	return false
}

func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusStarted, RunStatusSuccess, RunStatusFailure, RunStatusCanceled:
		return true
	}
	return false
}

// ParseRunStatus maps a wire token to a canonical status.
func ParseRunStatus(value string) (RunStatus, error) {
	s := RunStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown run status %q", value)
	}
	return s, nil
}

// CanTransition enforces the legal transition table. Terminal states accept
// nothing; QUEUED may start or be canceled before starting; STARTED may end
// exactly one way.
func CanTransition(from, to RunStatus) bool {
	switch from {
	case RunStatusQueued:
		return to == RunStatusStarted || to == RunStatusCanceled
	case RunStatusStarted:
		return to == RunStatusSuccess || to == RunStatusFailure || to == RunStatusCanceled
	default:
		return false
	}
}
