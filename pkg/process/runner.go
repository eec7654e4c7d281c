// Package process executes external commands for the control plane.
// Every subprocess the core spawns goes through the Runner interface so
// tests can substitute a fake.
package process

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/logger"
)

// Result holds the outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Handle controls a long-lived spawned subprocess.
type Handle interface {
	// PID returns the operating system process id.
	PID() int
	// Kill delivers a signal to the subprocess.
	Kill(sig os.Signal) error
	// OnExit registers fn to run when the process exits. Must be called
	// at most once, before the process terminates.
	OnExit(fn func(exitCode int))
}

// Runner executes external commands.
type Runner interface {
	// Run executes argv to completion, honoring ctx and timeout
	// (timeout <= 0 means no limit beyond ctx).
	Run(ctx context.Context, argv []string, env []string, timeout time.Duration) (Result, error)
	// Spawn starts argv without waiting for it.
	Spawn(ctx context.Context, argv []string, env []string) (Handle, error)
}

// ExecRunner is the os/exec-backed Runner used in production.
type ExecRunner struct{}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes argv and captures stdout/stderr.
// A non-zero exit maps to core.ErrNonZeroExit; failure to start maps
// to core.ErrSpawnFailed. Non-empty stderr next to a zero exit code is
// logged as a warning, not treated as failure.
func (r *ExecRunner) Run(ctx context.Context, argv []string, env []string, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{}, core.ErrArgument.WithMessage("empty argv")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("run: %v", argv)

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, core.ErrSpawnFailed.WithCause(err)
	}

	err := cmd.Wait()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	if err != nil {
		return res, core.ErrNonZeroExit.WithCause(err).WithDetails(map[string]interface{}{
			"argv":   argv,
			"stderr": res.Stderr,
		})
	}
	if res.Stderr != "" {
		logger.Warn("run: %v wrote to stderr despite exit 0: %s", argv, res.Stderr)
	}
	return res, nil
}

// Spawn starts argv detached from the caller's wait.
func (r *ExecRunner) Spawn(ctx context.Context, argv []string, env []string) (Handle, error) {
	if len(argv) == 0 {
		return nil, core.ErrArgument.WithMessage("empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}

	logger.Debug("spawn: %v", argv)

	if err := cmd.Start(); err != nil {
		return nil, core.ErrSpawnFailed.WithCause(err)
	}

	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go h.wait()
	return h, nil
}

type execHandle struct {
	cmd    *exec.Cmd
	onExit func(int)
	done   chan struct{}
}

func (h *execHandle) wait() {
	err := h.cmd.Wait()
	code := 0
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	} else if err != nil {
		code = -1
	}
	close(h.done)
	if h.onExit != nil {
		h.onExit(code)
	}
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Kill(sig os.Signal) error {
	if h.cmd.Process == nil {
		return core.ErrSpawnFailed.WithMessage("process not started")
	}
	return h.cmd.Process.Signal(sig)
}

func (h *execHandle) OnExit(fn func(int)) {
	h.onExit = fn
}

// PIDAlive reports whether pid denotes a live process. A snapshot
// check with signal 0; never blocks on the target.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// SignalPID delivers sig to pid directly, for processes we did not spawn.
func SignalPID(pid int, sig os.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}
