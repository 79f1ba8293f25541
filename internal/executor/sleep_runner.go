package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/overture-labs/overture-go/internal/domain"
)

// SleepRunner waits out a configured duration, checkpointing on the run
// context. It stands in for long-running workloads in demos and tests.
type SleepRunner struct{}

func (SleepRunner) Kind() string {
	return "sleep"
}

func (SleepRunner) Run(ctx context.Context, spec domain.ResolvedSpec, output *bytes.Buffer) error {
	raw, ok := spec.Config["duration"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return errors.New("sleep runner requires a duration config value")
	}
	duration, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	if duration < 0 {
		return errors.New("duration must not be negative")
	}

	fmt.Fprintf(output, "sleeping %s\n", duration)
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		fmt.Fprintln(output, "canceled")
		return ctx.Err()
	case <-timer.C:
		fmt.Fprintln(output, "done")
		return nil
	}
}
