package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/overture-labs/overture-go/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeApplier struct {
	mu          sync.Mutex
	transitions []domain.RunStatus
	details     []string
	startResult domain.RunStatus
	terminal    chan domain.RunStatus
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{
		startResult: domain.RunStatusStarted,
		terminal:    make(chan domain.RunStatus, 1),
	}
}

func (f *fakeApplier) ApplyTransition(ctx context.Context, runID string, to domain.RunStatus, detail string) (domain.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if to == domain.RunStatusStarted && f.startResult != domain.RunStatusStarted {
		return f.startResult, nil
	}
	f.transitions = append(f.transitions, to)
	f.details = append(f.details, detail)
	if to.Terminal() {
		f.terminal <- to
	}
	return to, nil
}

func (f *fakeApplier) recorded() []domain.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RunStatus, len(f.transitions))
	copy(out, f.transitions)
	return out
}

func (f *fakeApplier) waitTerminal(t *testing.T) domain.RunStatus {
	t.Helper()
	select {
	case status := <-f.terminal:
		return status
	case <-time.After(5 * time.Second):
		t.Fatalf("run never reached a terminal status")
		return ""
	}
}

type funcRunner struct {
	kind string
	fn   func(ctx context.Context, spec domain.ResolvedSpec, output *bytes.Buffer) error
}

func (r funcRunner) Kind() string { return r.kind }

func (r funcRunner) Run(ctx context.Context, spec domain.ResolvedSpec, output *bytes.Buffer) error {
	return r.fn(ctx, spec, output)
}

type captureSink struct {
	mu   sync.Mutex
	logs map[string][]byte
}

func (s *captureSink) StoreRunLog(ctx context.Context, runID string, log []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logs == nil {
		s.logs = map[string][]byte{}
	}
	s.logs[runID] = append([]byte(nil), log...)
	return nil
}

func queuedRun(runID string) (domain.Run, domain.ResolvedSpec) {
	run := domain.Run{
		RunID:     runID,
		Spec:      domain.RunSpec{Workload: "my_pipeline", Mode: "default"},
		Status:    domain.RunStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	resolved := domain.ResolvedSpec{Workload: "my_pipeline", Mode: "default", Runner: "test", Config: domain.Metadata{}}
	return run, resolved
}

func TestExecuteReportsStartedThenSuccess(t *testing.T) {
	applier := newFakeApplier()
	sink := &captureSink{}
	runner := funcRunner{kind: "test", fn: func(ctx context.Context, spec domain.ResolvedSpec, output *bytes.Buffer) error {
		output.WriteString("hello\n")
		return nil
	}}
	exec, err := New(testLogger(), applier, sink, runner)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	run, resolved := queuedRun("run-1")
	if err := exec.Launch(run, resolved); err != nil {
		t.Fatalf("Launch() err=%v", err)
	}
	if got := applier.waitTerminal(t); got != domain.RunStatusSuccess {
		t.Fatalf("terminal=%s, want SUCCESS", got)
	}
	want := []domain.RunStatus{domain.RunStatusStarted, domain.RunStatusSuccess}
	got := applier.recorded()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("transitions=%v, want %v", got, want)
	}

	if err := exec.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() err=%v", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if string(sink.logs["run-1"]) != "hello\n" {
		t.Fatalf("log=%q", sink.logs["run-1"])
	}
}

func TestExecuteReportsFailureWithDetail(t *testing.T) {
	applier := newFakeApplier()
	runner := funcRunner{kind: "test", fn: func(ctx context.Context, spec domain.ResolvedSpec, output *bytes.Buffer) error {
		return errors.New("boom")
	}}
	exec, err := New(testLogger(), applier, nil, runner)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	run, resolved := queuedRun("run-1")
	if err := exec.Launch(run, resolved); err != nil {
		t.Fatalf("Launch() err=%v", err)
	}
	if got := applier.waitTerminal(t); got != domain.RunStatusFailure {
		t.Fatalf("terminal=%s, want FAILURE", got)
	}
	applier.mu.Lock()
	detail := applier.details[len(applier.details)-1]
	applier.mu.Unlock()
	if detail != "boom" {
		t.Fatalf("detail=%q, want boom", detail)
	}
}

func TestCancelStopsBlockedRun(t *testing.T) {
	applier := newFakeApplier()
	started := make(chan struct{})
	runner := funcRunner{kind: "test", fn: func(ctx context.Context, spec domain.ResolvedSpec, output *bytes.Buffer) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	exec, err := New(testLogger(), applier, nil, runner)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	run, resolved := queuedRun("run-1")
	if err := exec.Launch(run, resolved); err != nil {
		t.Fatalf("Launch() err=%v", err)
	}
	<-started
	exec.Cancel("run-1")
	if got := applier.waitTerminal(t); got != domain.RunStatusCanceled {
		t.Fatalf("terminal=%s, want CANCELED", got)
	}
}

func TestStartRejectionSkipsWorkload(t *testing.T) {
	applier := newFakeApplier()
	applier.startResult = domain.RunStatusCanceled
	ran := make(chan struct{}, 1)
	runner := funcRunner{kind: "test", fn: func(ctx context.Context, spec domain.ResolvedSpec, output *bytes.Buffer) error {
		ran <- struct{}{}
		return nil
	}}
	exec, err := New(testLogger(), applier, nil, runner)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	run, resolved := queuedRun("run-1")
	if err := exec.Launch(run, resolved); err != nil {
		t.Fatalf("Launch() err=%v", err)
	}
	if err := exec.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() err=%v", err)
	}
	select {
	case <-ran:
		t.Fatalf("workload ran after canceled start")
	default:
	}
	if got := applier.recorded(); len(got) != 0 {
		t.Fatalf("transitions=%v, want none", got)
	}
}

func TestLaunchUnknownRunnerKind(t *testing.T) {
	applier := newFakeApplier()
	exec, err := New(testLogger(), applier, nil, funcRunner{kind: "test", fn: nil})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	run, resolved := queuedRun("run-1")
	resolved.Runner = "missing"
	if err := exec.Launch(run, resolved); err == nil {
		t.Fatalf("expected error for unknown runner kind")
	}
}

func TestShutdownCancelsInflight(t *testing.T) {
	applier := newFakeApplier()
	started := make(chan struct{})
	runner := funcRunner{kind: "test", fn: func(ctx context.Context, spec domain.ResolvedSpec, output *bytes.Buffer) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	exec, err := New(testLogger(), applier, nil, runner)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	run, resolved := queuedRun("run-1")
	if err := exec.Launch(run, resolved); err != nil {
		t.Fatalf("Launch() err=%v", err)
	}
	<-started

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() err=%v", err)
	}
	if got := applier.waitTerminal(t); got != domain.RunStatusCanceled {
		t.Fatalf("terminal=%s, want CANCELED", got)
	}

	if err := exec.Launch(run, resolved); err == nil {
		t.Fatalf("expected launch rejection after shutdown")
	}
}

func TestSleepRunnerCompletes(t *testing.T) {
	var output bytes.Buffer
	spec := domain.ResolvedSpec{Runner: "sleep", Config: domain.Metadata{"duration": "5ms"}}
	if err := (SleepRunner{}).Run(context.Background(), spec, &output); err != nil {
		t.Fatalf("Run() err=%v", err)
	}
}

func TestSleepRunnerObservesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		var output bytes.Buffer
		spec := domain.ResolvedSpec{Runner: "sleep", Config: domain.Metadata{"duration": "10m"}}
		done <- (SleepRunner{}).Run(ctx, spec, &output)
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("sleep runner ignored cancellation")
	}
}

func TestSleepRunnerRequiresDuration(t *testing.T) {
	var output bytes.Buffer
	if err := (SleepRunner{}).Run(context.Background(), domain.ResolvedSpec{Config: domain.Metadata{}}, &output); err == nil {
		t.Fatalf("expected error for missing duration")
	}
}

func TestCommandEnvIsSortedAndFiltered(t *testing.T) {
	spec := domain.ResolvedSpec{
		Workload: "my_pipeline",
		Mode:     "default",
		Config: domain.Metadata{
			"env": map[string]any{
				"B_KEY":        "2",
				"A_KEY":        "1",
				"RUN_WORKLOAD": "override",
				"":             "blank",
			},
		},
	}
	env := commandEnv(spec)
	want := []string{"RUN_WORKLOAD=my_pipeline", "RUN_MODE=default", "A_KEY=1", "B_KEY=2"}
	if len(env) != len(want) {
		t.Fatalf("env=%v, want %v", env, want)
	}
	for i := range want {
		if env[i] != want[i] {
			t.Fatalf("env[%d]=%q, want %q", i, env[i], want[i])
		}
	}
}
