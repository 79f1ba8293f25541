// Package executor carries out the workload behind each run, one goroutine
// per run, and reports every status change back through the registry.
// Cancellation is cooperative: the run context is the signal, and runners
// are required to observe it at their checkpoints.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/overture-labs/overture-go/internal/domain"
)

// TransitionApplier is the registry surface the executor reports through.
// The returned status is what was actually recorded; when it differs from
// the requested one the executor stands down.
type TransitionApplier interface {
	ApplyTransition(ctx context.Context, runID string, to domain.RunStatus, detail string) (domain.RunStatus, error)
}

// Runner executes one workload kind. Run must return promptly once ctx is
// done; ctx cancellation is the cooperative checkpoint primitive.
type Runner interface {
	Kind() string
	Run(ctx context.Context, spec domain.ResolvedSpec, output *bytes.Buffer) error
}

// LogSink receives the captured output of a finished run. Best effort; sink
// failures never influence run status.
type LogSink interface {
	StoreRunLog(ctx context.Context, runID string, log []byte) error
}

type Executor struct {
	logger  *slog.Logger
	applier TransitionApplier
	runners map[string]Runner
	logs    LogSink

	mu       sync.Mutex
	closed   bool
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// New builds an executor over the given runners. The log sink is optional.
func New(logger *slog.Logger, applier TransitionApplier, logs LogSink, runners ...Runner) (*Executor, error) {
	if logger == nil || applier == nil {
		return nil, errors.New("logger and transition applier are required")
	}
	if len(runners) == 0 {
		return nil, errors.New("at least one runner is required")
	}
	byKind := make(map[string]Runner, len(runners))
	for _, r := range runners {
		if r == nil || r.Kind() == "" {
			return nil, errors.New("runner kind is required")
		}
		if _, exists := byKind[r.Kind()]; exists {
			return nil, fmt.Errorf("duplicate runner kind %q", r.Kind())
		}
		byKind[r.Kind()] = r
	}
	return &Executor{
		logger:   logger,
		applier:  applier,
		runners:  byKind,
		logs:     logs,
		inflight: map[string]context.CancelFunc{},
	}, nil
}

// Supports reports whether a runner kind is available.
func (e *Executor) Supports(kind string) bool {
	_, ok := e.runners[kind]
	return ok
}

// Launch begins asynchronous execution of a queued run. Called exactly once
// per run by the registry.
func (e *Executor) Launch(run domain.Run, resolved domain.ResolvedSpec) error {
	runner, ok := e.runners[resolved.Runner]
	if !ok {
		return fmt.Errorf("no runner for kind %q", resolved.Runner)
	}

	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return errors.New("executor is shut down")
	}
	e.inflight[run.RunID] = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go e.execute(ctx, run, resolved, runner)
	return nil
}

// Cancel signals the in-flight execution for a run, if any, to stop at its
// next checkpoint. Unknown or finished runs are a no-op.
func (e *Executor) Cancel(runID string) {
	e.mu.Lock()
	cancel, ok := e.inflight[runID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown stops accepting launches, cancels everything in flight and waits
// for the drain until ctx expires.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	for _, cancel := range e.inflight {
		cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor drain: %w", ctx.Err())
	}
}

func (e *Executor) execute(ctx context.Context, run domain.Run, resolved domain.ResolvedSpec, runner Runner) {
	defer e.wg.Done()
	defer e.finish(run.RunID)

	applied, err := e.applier.ApplyTransition(ctx, run.RunID, domain.RunStatusStarted, "")
	if err != nil {
		e.logger.Error("run start rejected", "run_id", run.RunID, "error", err)
		return
	}
	if applied != domain.RunStatusStarted {
		// Canceled before the workload began; nothing to do.
		return
	}

	var output bytes.Buffer
	runErr := runner.Run(ctx, resolved, &output)

	to := domain.RunStatusSuccess
	detail := ""
	switch {
	case ctx.Err() != nil:
		to = domain.RunStatusCanceled
		detail = "canceled_at_checkpoint"
	case runErr != nil:
		to = domain.RunStatusFailure
		detail = runErr.Error()
	}

	// Report with a fresh context: the run context may already be canceled
	// and must not suppress the terminal transition itself.
	applied, err = e.applier.ApplyTransition(context.Background(), run.RunID, to, detail)
	if err != nil {
		e.logger.Error("run completion rejected", "run_id", run.RunID, "to", string(to), "error", err)
		return
	}
	if applied != to {
		e.logger.Info("run completion superseded", "run_id", run.RunID, "reported", string(to), "recorded", string(applied))
	}

	e.storeLog(run.RunID, output.Bytes())
}

func (e *Executor) finish(runID string) {
	e.mu.Lock()
	cancel, ok := e.inflight[runID]
	delete(e.inflight, runID)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Executor) storeLog(runID string, log []byte) {
	if e.logs == nil || len(log) == 0 {
		return
	}
	if err := e.logs.StoreRunLog(context.Background(), runID, log); err != nil {
		e.logger.Warn("run log upload failed", "run_id", runID, "error", err)
	}
}
