package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"transcoder/internal/config"
	"transcoder/internal/logging"
	"transcoder/internal/services"
)

const (
	NetworkIsolated = config.NetworkIsolated
	NetworkInherit  = config.NetworkInherit

	defaultTailBytes = 64 * 1024
	killGrace        = 5 * time.Second
)

// Limits bounds a single sandboxed process.
type Limits struct {
	WallTime        time.Duration
	CPUTime         time.Duration
	MemoryBytes     int64
	Network         string
	OutputTailBytes int
}

// LimitsFromConfig maps the [sandbox] section onto Limits.
func LimitsFromConfig(cfg *config.Config) Limits {
	if cfg == nil {
		return Limits{Network: NetworkIsolated}
	}
	return Limits{
		WallTime:        cfg.WallTimeLimit(),
		CPUTime:         cfg.CPUTimeLimit(),
		MemoryBytes:     cfg.MemoryLimitBytes(),
		Network:         cfg.Sandbox.Network,
		OutputTailBytes: cfg.Sandbox.OutputTailBytes,
	}
}

// Command describes one process invocation.
type Command struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string
	// OnLine receives each output line as it is produced. Optional.
	OnLine func(string)
}

// Result reports how a process finished.
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// Runner executes commands inside the sandbox.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ProcessRunner is the exec-based Runner.
type ProcessRunner struct {
	limits Limits
	logger *slog.Logger
}

// New constructs a ProcessRunner.
func New(limits Limits, logger *slog.Logger) *ProcessRunner {
	if limits.OutputTailBytes <= 0 {
		limits.OutputTailBytes = defaultTailBytes
	}
	if limits.Network == "" {
		limits.Network = NetworkIsolated
	}
	return &ProcessRunner{limits: limits, logger: logging.NewComponentLogger(logger, "sandbox")}
}

// Limits returns the limits applied to every command.
func (r *ProcessRunner) Limits() Limits {
	return r.limits
}

// Run starts the command and waits for it. A non-zero exit, a limit
// violation, or a timeout is reported as *services.SandboxError carrying the
// output tail.
func (r *ProcessRunner) Run(ctx context.Context, c Command) (Result, error) {
	name := filepath.Base(c.Binary)
	runCtx := ctx
	if r.limits.WallTime > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.limits.WallTime)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Binary, c.Args...) //nolint:gosec
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}
	tail := newTailBuffer(r.limits.OutputTailBytes, c.OnLine)
	cmd.Stdout = tail
	cmd.Stderr = tail
	configureProcAttr(cmd, r.limits)
	cmd.Cancel = func() error {
		return killGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = killGrace

	r.logger.Debug("sandbox start",
		logging.String("command", name),
		logging.String("args", strings.Join(c.Args, " ")),
		logging.String("network", r.limits.Network),
	)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, &services.SandboxError{Command: name, ExitCode: -1, Err: fmt.Errorf("start: %w", err)}
	}
	if err := applyLimits(cmd.Process.Pid, r.limits); err != nil {
		_ = killGroup(cmd.Process.Pid)
		_ = cmd.Wait()
		return Result{ExitCode: -1}, &services.SandboxError{Command: name, ExitCode: -1, Err: fmt.Errorf("apply limits: %w", err)}
	}

	waitErr := cmd.Wait()
	tail.Flush()
	result := Result{ExitCode: -1, Output: tail.String(), Duration: time.Since(start)}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if waitErr == nil {
		r.logger.Debug("sandbox finished",
			logging.String("command", name),
			logging.Duration("duration", result.Duration),
		)
		return result, nil
	}

	sandboxErr := &services.SandboxError{Command: name, ExitCode: result.ExitCode, Output: result.Output}
	switch {
	case ctx.Err() != nil:
		sandboxErr.ExitCode = -1
		sandboxErr.Err = ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		sandboxErr.ExitCode = -1
		sandboxErr.Err = services.Wrap(services.ErrTimeout, "sandbox", name,
			fmt.Sprintf("wall time limit %s exceeded", r.limits.WallTime), nil)
	case result.ExitCode < 0:
		sandboxErr.Err = waitErr
	}
	r.logger.Warn("sandbox command failed",
		logging.String("command", name),
		logging.Int("exit_code", result.ExitCode),
		logging.Duration("duration", result.Duration),
		logging.Error(waitErr),
		logging.String(logging.FieldEventType, "sandbox_failed"),
		logging.String(logging.FieldErrorHint, "see captured encoder output in the job log"),
	)
	return result, sandboxErr
}
