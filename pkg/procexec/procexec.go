// Package procexec implements the Process Executor: spawn/signal/wait/
// force-kill of a child command or its process group, shell-mode
// detection, and the terminate-then-kill termination protocol.
//
// Process-group signal delivery and shell meta-character detection have
// no third-party equivalent worth reaching for, so this package uses
// os/exec and syscall directly (see DESIGN.md).
package procexec

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/taskrelay/tasksupervisor/pkg/clockrand"
)

// ShellMode selects how a command is turned into an argv.
type ShellMode string

const (
	ShellAuto    ShellMode = "auto"
	ShellEnable  ShellMode = "enable"
	ShellDisable ShellMode = "disable"
)

// Options configures one spawn.
type Options struct {
	Command   []string // a single element runs as a shell string under enable, and under auto when it contains shell metacharacters
	WorkDir   string
	Env       []string
	ShellMode ShellMode

	// GroupSignals sends signals to the process group rather than just the
	// leader; true by default.
	GroupSignals bool

	Clock clockrand.Clock
}

// Handle represents a running or exited child.
type Handle struct {
	cmd   *exec.Cmd
	group bool
	clk   clockrand.Clock

	Stdout interface{ Read([]byte) (int, error) }
	Stderr interface{ Read([]byte) (int, error) }

	// waitOnce starts the single goroutine that calls cmd.Wait(); waitCh
	// closes when it returns, and waitErr is safe to read only after that
	// close (the close is the synchronization point). Wait and Terminate
	// both funnel through this so cmd.Wait() is never called concurrently.
	waitOnce sync.Once
	waitCh   chan struct{}
	waitErr  error
}

var shellMetaChars = "|&;<>()$`\\\"'*?[]#~=%{}\n"

// hasShellMeta reports whether s looks like it needs a shell to
// interpret: a single string containing shell metacharacters.
func hasShellMeta(s string) bool {
	return strings.ContainsAny(s, shellMetaChars) || strings.Contains(s, "$(") || strings.Contains(s, "&&") || strings.Contains(s, "||")
}

// buildArgv resolves Options.Command + ShellMode into a concrete argv,
// applying the shell-wrapper stripping rule: when a command list already
// wraps a shell invocation, strip it unless configured otherwise.
func buildArgv(opts Options) ([]string, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("procexec: empty command")
	}

	mode := opts.ShellMode
	if mode == "" {
		mode = ShellAuto
	}

	switch mode {
	case ShellDisable:
		return stripShellWrapper(opts.Command), nil
	case ShellEnable:
		return []string{"/bin/sh", "-c", strings.Join(opts.Command, " ")}, nil
	case ShellAuto:
		if len(opts.Command) == 1 && hasShellMeta(opts.Command[0]) {
			return []string{"/bin/sh", "-c", opts.Command[0]}, nil
		}
		return stripShellWrapper(opts.Command), nil
	default:
		return nil, fmt.Errorf("procexec: unknown shell mode %q", mode)
	}
}

// stripShellWrapper removes a leading "/bin/sh -c" (or "sh -c", "bash -c")
// wrapper from an already-tokenized command list.
func stripShellWrapper(argv []string) []string {
	if len(argv) >= 3 {
		base := argv[0]
		if idx := strings.LastIndex(base, "/"); idx >= 0 {
			base = base[idx+1:]
		}
		switch base {
		case "sh", "bash", "dash", "zsh":
			if argv[1] == "-c" {
				return argv[2:]
			}
		}
	}
	return argv
}

// Spawn starts the child per Options, returning a Handle once the process
// is running.
func Spawn(ctx context.Context, opts Options) (*Handle, error) {
	argv, err := buildArgv(opts)
	if err != nil {
		return nil, err
	}

	clk := opts.Clock
	if clk == nil {
		clk = clockrand.Real
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.WorkDir
	cmd.Env = opts.Env
	cmd.Cancel = nil // avoid ctx cancellation sending SIGKILL before our own termination protocol runs

	if opts.GroupSignals {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("procexec: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("procexec: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procexec: starting %v: %w", argv, err)
	}

	return &Handle{cmd: cmd, group: opts.GroupSignals, clk: clk, Stdout: stdoutPipe, Stderr: stderrPipe, waitCh: make(chan struct{})}, nil
}

// PID returns the leader process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Signal sends sig to the process group (default) or the leader only.
func (h *Handle) Signal(sig syscall.Signal) error {
	if h.group {
		return syscall.Kill(-h.cmd.Process.Pid, sig)
	}
	return h.cmd.Process.Signal(sig)
}

// WaitResult is the outcome of Wait.
type WaitResult struct {
	ExitCode int
	TimedOut bool
}

// Wait blocks until the child exits or deadline elapses, returning either
// its exit code or a timed-out result. Safe to call more than once
// (including concurrently with Terminate's internal calls): cmd.Wait() is
// only ever invoked by the first caller's goroutine.
func (h *Handle) Wait(deadline time.Time) (WaitResult, error) {
	h.waitOnce.Do(func() {
		go func() {
			h.waitErr = h.cmd.Wait()
			close(h.waitCh)
		}()
	})

	var timer <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-h.waitCh:
		return WaitResult{ExitCode: exitCodeFromError(h.waitErr)}, nil
	case <-timer:
		return WaitResult{TimedOut: true}, nil
	}
}

// ForceKill sends SIGKILL to the process group (or leader).
func (h *Handle) ForceKill() error {
	return h.Signal(syscall.SIGKILL)
}

// Terminate runs the full termination protocol: terminate signal, grace
// period, kill signal, reap.
func (h *Handle) Terminate(ctx context.Context, gracePeriod time.Duration) (WaitResult, error) {
	if err := h.Signal(syscall.SIGTERM); err != nil {
		return WaitResult{}, fmt.Errorf("procexec: sending terminate signal: %w", err)
	}

	result, err := h.Wait(h.clk.Now().Add(gracePeriod))
	if err != nil {
		return WaitResult{}, err
	}
	if !result.TimedOut {
		return result, nil
	}

	if err := h.ForceKill(); err != nil {
		return WaitResult{}, fmt.Errorf("procexec: sending kill signal: %w", err)
	}
	return h.Wait(time.Time{})
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
