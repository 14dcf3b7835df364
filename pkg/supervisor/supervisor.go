// Package supervisor wires the Config Resolver, Runtime Metadata Probe,
// API Client, Process Executor, Status Listener, and Log Tail into a
// single state machine: register a Task Execution, run the child to
// completion (with retries and timeout enforcement), and report a
// terminal outcome.
//
// A single owning goroutine drives sequential phases, with a small fixed
// set of concurrent helpers coordinated via sourcegraph/conc rather than
// raw goroutine/WaitGroup plumbing.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/taskrelay/tasksupervisor/pkg/apiclient"
	"github.com/taskrelay/tasksupervisor/pkg/clockrand"
	"github.com/taskrelay/tasksupervisor/pkg/logtail"
	"github.com/taskrelay/tasksupervisor/pkg/procexec"
	"github.com/taskrelay/tasksupervisor/pkg/runtimeprobe"
	"github.com/taskrelay/tasksupervisor/pkg/statuslistener"
	"github.com/taskrelay/tasksupervisor/pkg/task"
)

// ProcessOptions configures the child command and its retry/timeout
// policy.
type ProcessOptions struct {
	Command                  []string
	WorkDir                  string
	Env                      []string
	ShellMode                procexec.ShellMode
	ProcessGroupTermination  bool
	Timeout                  time.Duration // zero means no enforced timeout
	MaxRetries               int
	RetryDelay               time.Duration
	TerminationGracePeriod   time.Duration

	// SidecarContainer, if set, names an already-running peer container to
	// attach to instead of spawning a child process: lifetime and command
	// execution are observed through the container runtime API rather than
	// OS process signaling.
	SidecarContainer string
}

// LogOptions configures tail capture.
type LogOptions struct {
	NumLogLinesOnFailure int
	NumLogLinesOnTimeout int
	NumLogLinesOnSuccess int
	MaxLogLineLength     int
	MergeStdoutAndStderr bool
}

// UpdateOptions configures the Status Listener.
type UpdateOptions struct {
	Enabled              bool
	Addr                 string
	MaxMessageBytes      int
}

// Options bundles everything one Run() invocation needs.
type Options struct {
	Identity        task.Identity
	InputValue      any
	Passive         bool
	AutoCreateTask  bool

	Process ProcessOptions
	Log     LogOptions
	Updates UpdateOptions

	HeartbeatInterval            time.Duration
	RuntimeMetadataRefreshInterval time.Duration

	API     *apiclient.Client
	Probe   *runtimeprobe.Probe
	Clock   clockrand.Clock
	Logger  *zap.Logger
}

// Result is what Run returns once the invocation reaches a terminal
// state.
type Result struct {
	Status      task.Status
	ExitCode    int
	ResultValue any
}

// Run executes the full supervision algorithm: probe runtime metadata,
// register the execution, run the child to a terminal state (retrying
// and enforcing timeouts as configured), then report the outcome.
func Run(ctx context.Context, opts Options) (Result, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clockrand.Real
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	execution := task.NewExecution()

	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stopSignals()

	runtimeMetadata := opts.Probe.Detect(ctx)
	executionUUID, _, err := opts.API.CreateExecution(ctx, opts.Identity, runtimeMetadata, opts.InputValue, opts.Passive, opts.AutoCreateTask)
	if err != nil {
		log.Error("create_execution failed", zap.Error(err))
		return Result{Status: task.StatusFailed, ExitCode: 1}, fmt.Errorf("supervisor: create_execution: %w", err)
	}
	execution.UUID = executionUUID
	execution.Status = task.StatusRunning
	execution.StartedAt = clk.Now()
	execution.RuntimeMetadata = runtimeMetadata

	var listener *statuslistener.Listener
	if opts.Updates.Enabled {
		listener, err = statuslistener.Start(statuslistener.Options{
			Addr:            opts.Updates.Addr,
			MaxMessageBytes: opts.Updates.MaxMessageBytes,
			Logger:          log,
		})
		if err != nil {
			log.Warn("status listener failed to start", zap.Error(err))
		} else {
			defer listener.Stop(context.Background())
		}
	}

	stopRequested := false
	markedDone := false
	attempt := 0
	var lastExitCode int
	var terminalStatus task.Status

runLoop:
	for {
		attempt++
		result, status, err := runOneAttempt(ctx, clk, log, opts, execution, listener, &stopRequested, &markedDone)
		lastExitCode = result
		if err != nil {
			log.Error("attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		switch status {
		case task.StatusStopping, task.StatusStopped:
			terminalStatus = task.StatusStopped
			break runLoop
		case task.StatusTerminatedAfterTimeout:
			terminalStatus = status
			break runLoop
		case task.StatusExitedAfterMarkedDone:
			terminalStatus = status
			break runLoop
		case task.StatusSucceeded:
			terminalStatus = status
			break runLoop
		case task.StatusFailed:
			if attempt > opts.Process.MaxRetries {
				terminalStatus = task.StatusFailed
				break runLoop
			}
			if err := sleepCancelable(ctx, clk, opts.Process.RetryDelay); err != nil {
				terminalStatus = task.StatusStopped
				break runLoop
			}
			continue runLoop
		default:
			terminalStatus = status
			break runLoop
		}
	}

	execution.Status = terminalStatus
	execution.StoppedAt = clk.Now()
	execution.ExitCode = &lastExitCode

	tailLines := opts.Log.NumLogLinesOnFailure
	switch terminalStatus {
	case task.StatusSucceeded:
		tailLines = opts.Log.NumLogLinesOnSuccess
	case task.StatusTerminatedAfterTimeout:
		tailLines = opts.Log.NumLogLinesOnTimeout
	}
	for stream, lines := range execution.TailLogs {
		if tailLines >= 0 && len(lines) > tailLines {
			execution.TailLogs[stream] = lines[len(lines)-tailLines:]
		}
	}

	finalizeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := opts.API.Finalize(finalizeCtx, execution.UUID, opts.Identity, apiclient.FinalizeRequest{
		Status:      terminalStatus,
		ExitCode:    execution.ExitCode,
		ResultValue: execution.ResultValue,
		LogTail:     execution.TailLogs,
	}); err != nil {
		log.Error("finalize failed", zap.Error(err))
	}

	return Result{Status: terminalStatus, ExitCode: lastExitCode, ResultValue: execution.ResultValue}, nil
}

// runOneAttempt spawns the child once, observes it to completion (exit,
// timeout, or stop signal), and returns its outcome. The heartbeat and
// runtime-metadata refresh loops run under a conc.WaitGroup; stdout and
// stderr are read by the logtail capture's own goroutines.
func runOneAttempt(ctx context.Context, clk clockrand.Clock, log *zap.Logger, opts Options, execution *task.Execution, listener *statuslistener.Listener, stopRequested, markedDone *bool) (exitCode int, status task.Status, err error) {
	if opts.Process.SidecarContainer != "" {
		return runSidecarAttempt(ctx, clk, log, opts, execution, listener, stopRequested, markedDone)
	}

	handle, err := procexec.Spawn(ctx, procexec.Options{
		Command:      opts.Process.Command,
		WorkDir:      opts.Process.WorkDir,
		Env:          opts.Process.Env,
		ShellMode:    opts.Process.ShellMode,
		GroupSignals: opts.Process.ProcessGroupTermination,
		Clock:        clk,
	})
	if err != nil {
		return 1, task.StatusFailed, fmt.Errorf("spawning child: %w", err)
	}
	execution.PID = handle.PID()
	hostname, _ := os.Hostname()
	execution.Hostname = hostname

	capture := logtail.New(logtail.Options{
		MaxLines:      maxLinesForNow(opts.Log),
		MaxLineLength: opts.Log.MaxLogLineLength,
		Merge:         opts.Log.MergeStdoutAndStderr,
	})
	capture.PumpStdout(handle.Stdout)
	capture.PumpStderr(handle.Stderr)

	var wg conc.WaitGroup
	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	if opts.HeartbeatInterval > 0 {
		wg.Go(func() {
			heartbeatLoop(attemptCtx, clk, log, opts, execution, listener, stopRequested, markedDone)
		})
	}
	if opts.RuntimeMetadataRefreshInterval > 0 && !opts.Probe.IsStatic() {
		wg.Go(func() {
			metadataRefreshLoop(attemptCtx, clk, log, opts, execution)
		})
	}

	var deadline time.Time
	if opts.Process.Timeout > 0 {
		deadline = clk.Now().Add(opts.Process.Timeout)
	}

	waitResult, waitErr := handle.Wait(deadline)
	cancelAttempt()
	wg.Wait()

	if waitErr == nil && *stopRequested {
		if _, err := handle.Terminate(ctx, opts.Process.TerminationGracePeriod); err != nil {
			log.Warn("terminate during stop failed", zap.Error(err))
		}
	} else if waitErr == nil && waitResult.TimedOut {
		if _, err := handle.Terminate(ctx, opts.Process.TerminationGracePeriod); err != nil {
			log.Warn("terminate after timeout failed", zap.Error(err))
		}
	}
	capture.Wait()
	execution.TailLogs = capture.Tail()

	if waitErr != nil {
		return 1, task.StatusFailed, waitErr
	}

	if *stopRequested {
		return 0, task.StatusStopped, nil
	}

	if waitResult.TimedOut {
		return 124, task.StatusTerminatedAfterTimeout, nil
	}

	if *markedDone {
		return waitResult.ExitCode, task.StatusExitedAfterMarkedDone, nil
	}

	if waitResult.ExitCode == 0 {
		return 0, task.StatusSucceeded, nil
	}
	return waitResult.ExitCode, task.StatusFailed, nil
}

// runSidecarAttempt is runOneAttempt's counterpart for sidecar mode: it
// attaches to an already-running peer container instead of spawning a
// child, and observes/execs against it through the container runtime API.
func runSidecarAttempt(ctx context.Context, clk clockrand.Clock, log *zap.Logger, opts Options, execution *task.Execution, listener *statuslistener.Listener, stopRequested, markedDone *bool) (exitCode int, status task.Status, err error) {
	adapter, err := procexec.NewSidecarAdapter(ctx, opts.Process.SidecarContainer)
	if err != nil {
		return 1, task.StatusFailed, fmt.Errorf("attaching sidecar %q: %w", opts.Process.SidecarContainer, err)
	}
	defer adapter.Close()
	execution.Hostname = opts.Process.SidecarContainer

	var wg conc.WaitGroup
	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	if opts.HeartbeatInterval > 0 {
		wg.Go(func() {
			heartbeatLoop(attemptCtx, clk, log, opts, execution, listener, stopRequested, markedDone)
		})
	}
	if opts.RuntimeMetadataRefreshInterval > 0 && !opts.Probe.IsStatic() {
		wg.Go(func() {
			metadataRefreshLoop(attemptCtx, clk, log, opts, execution)
		})
	}

	type execOutcome struct {
		exitCode int
		output   string
		err      error
	}
	resultCh := make(chan execOutcome, 1)
	go func() {
		code, out, execErr := adapter.Exec(attemptCtx, opts.Process.Command)
		resultCh <- execOutcome{exitCode: code, output: out, err: execErr}
	}()

	var timeoutCh <-chan time.Time
	if opts.Process.Timeout > 0 {
		ch, stopTimer := clk.NewTimer(opts.Process.Timeout)
		defer stopTimer()
		timeoutCh = ch
	}

	var outcome execOutcome
	timedOut := false
	select {
	case outcome = <-resultCh:
	case <-timeoutCh:
		timedOut = true
	}

	cancelAttempt()
	wg.Wait()

	tail, logErr := adapter.Logs(ctx, maxLinesForNow(opts.Log))
	if logErr != nil {
		log.Warn("sidecar log fetch failed", zap.Error(logErr))
	}
	execution.TailLogs = map[string][]string{"combined": splitLines(tail)}

	if timedOut {
		return 124, task.StatusTerminatedAfterTimeout, nil
	}
	if outcome.err != nil {
		return 1, task.StatusFailed, outcome.err
	}
	if *stopRequested {
		return 0, task.StatusStopped, nil
	}
	if *markedDone {
		return outcome.exitCode, task.StatusExitedAfterMarkedDone, nil
	}
	if outcome.exitCode == 0 {
		return 0, task.StatusSucceeded, nil
	}
	return outcome.exitCode, task.StatusFailed, nil
}

// splitLines turns a captured log blob into a slice of lines, dropping the
// trailing empty element a terminal newline would otherwise leave.
func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// heartbeatLoop fires at api_heartbeat_interval, merges the listener's
// snapshot into the execution's counters, and observes the server's
// stop/marked-done signal. Heartbeats continue after marked_done until
// the child actually exits.
func heartbeatLoop(ctx context.Context, clk clockrand.Clock, log *zap.Logger, opts Options, execution *task.Execution, listener *statuslistener.Listener, stopRequested, markedDone *bool) {
	ticker, stop := clk.NewTicker(opts.HeartbeatInterval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker:
			if listener != nil {
				snap := listener.Snapshot()
				execution.Counters.Merge(snap.Counters)
				if snap.LastStatusMessage != "" {
					execution.LastStatusMessage = snap.LastStatusMessage
				}
			}
			execution.LastHeartbeatAt = clk.Now()

			reply, err := opts.API.Heartbeat(ctx, execution.UUID, execution.Counters, execution.LastStatusMessage)
			if err != nil {
				log.Warn("heartbeat failed", zap.Error(err))
				continue
			}
			if reply.StopRequested {
				*stopRequested = true
			}
			if reply.MarkedDone {
				*markedDone = true
			}
		}
	}
}

// metadataRefreshLoop fires at runtime_metadata_refresh_interval, re-probes
// the runtime environment, and patches the refreshed descriptor to the
// service. Only started when the Probe isn't pinned to a static
// descriptor (IsStatic): a static descriptor never changes, so there is
// nothing to refresh.
func metadataRefreshLoop(ctx context.Context, clk clockrand.Clock, log *zap.Logger, opts Options, execution *task.Execution) {
	ticker, stop := clk.NewTicker(opts.RuntimeMetadataRefreshInterval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker:
			metadata := opts.Probe.Detect(ctx)
			execution.RuntimeMetadata = metadata
			if err := opts.API.Update(ctx, execution.UUID, map[string]any{"runtime_metadata": metadata}); err != nil {
				log.Warn("runtime metadata refresh failed", zap.Error(err))
			}
		}
	}
}

func maxLinesForNow(opts LogOptions) int {
	max := opts.NumLogLinesOnFailure
	if opts.NumLogLinesOnTimeout > max {
		max = opts.NumLogLinesOnTimeout
	}
	if opts.NumLogLinesOnSuccess > max {
		max = opts.NumLogLinesOnSuccess
	}
	if max <= 0 {
		max = 100
	}
	return max
}

func sleepCancelable(ctx context.Context, clk clockrand.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	ch, stop := clk.NewTimer(d)
	defer stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
