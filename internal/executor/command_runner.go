package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/overture-labs/overture-go/internal/domain"
)

// CommandRunner executes a subprocess described by the workload config.
// Cancellation rides on exec.CommandContext, which terminates the process
// when the run context is canceled.
type CommandRunner struct {
	shellBin string
}

func NewCommandRunner(shellBin string) (*CommandRunner, error) {
	shellBin = strings.TrimSpace(shellBin)
	if shellBin == "" {
		shellBin = "/bin/sh"
	}
	if _, err := exec.LookPath(shellBin); err != nil {
		return nil, fmt.Errorf("shell binary not found: %w", err)
	}
	return &CommandRunner{shellBin: shellBin}, nil
}

func (r *CommandRunner) Kind() string {
	return "command"
}

func (r *CommandRunner) Run(ctx context.Context, spec domain.ResolvedSpec, output *bytes.Buffer) error {
	script, ok := spec.Config["script"].(string)
	if !ok || strings.TrimSpace(script) == "" {
		return errors.New("command runner requires a script config value")
	}

	cmd := exec.CommandContext(ctx, r.shellBin, "-c", script)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.Env = append(cmd.Environ(), commandEnv(spec)...)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("script failed: %w", err)
	}
	return nil
}

func commandEnv(spec domain.ResolvedSpec) []string {
	env := []string{
		"RUN_WORKLOAD=" + spec.Workload,
		"RUN_MODE=" + spec.Mode,
	}
	raw, ok := spec.Config["env"].(map[string]any)
	if !ok {
		return env
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		key := strings.TrimSpace(k)
		if key == "" || isReservedEnvKey(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value, ok := raw[key].(string)
		if !ok {
			continue
		}
		env = append(env, key+"="+value)
	}
	return env
}

func isReservedEnvKey(key string) bool {
	switch strings.ToUpper(key) {
	case "RUN_WORKLOAD", "RUN_MODE":
		return true
	}
	return false
}
