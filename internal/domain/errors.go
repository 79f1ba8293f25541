package domain

import (
	"errors"
	"fmt"
)

var ErrRunNotFound = errors.New("run_not_found")
var ErrInvalidSpec = errors.New("invalid_spec")

// ConsistencyError reports an attempted transition outside the legal table.
// It signals an integration bug, not a user error; the recorded status is
// left untouched when it is raised.
type ConsistencyError struct {
	RunID string
	From  RunStatus
	To    RunStatus
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("illegal run transition %s -> %s (run %s)", e.From, e.To, e.RunID)
}
