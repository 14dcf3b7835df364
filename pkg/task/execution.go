package task

import "time"

// Counters tracks the progress counters that Heartbeat merges into the
// execution and that the Status Listener merges updates into.
type Counters struct {
	SuccessCount int64
	ErrorCount   int64
	SkippedCount int64
	ExpectedCount int64
}

// Merge applies an UDP status update's counters on top of c, taking the
// max of each monotone counter. Zero-value fields in other are treated as
// "not present" and left untouched, so a present-but-zero update is
// indistinguishable from an absent one; callers that need to reset a
// counter to zero should use explicit pointer-based merging instead.
func (c *Counters) Merge(other Counters) {
	if other.SuccessCount > c.SuccessCount {
		c.SuccessCount = other.SuccessCount
	}
	if other.ErrorCount > c.ErrorCount {
		c.ErrorCount = other.ErrorCount
	}
	if other.SkippedCount > c.SkippedCount {
		c.SkippedCount = other.SkippedCount
	}
	if other.ExpectedCount > c.ExpectedCount {
		c.ExpectedCount = other.ExpectedCount
	}
}

// Execution is a single run of a Task.
type Execution struct {
	UUID   string
	Status Status

	StartedAt time.Time
	StoppedAt time.Time

	ExitCode *int
	PID      int
	Hostname string

	LastHeartbeatAt    time.Time
	LastAppHeartbeatAt time.Time

	Counters Counters

	LastStatusMessage string

	InputValue  any
	ResultValue any

	RuntimeMetadata map[string]any

	// TailLogs holds the captured stdout/stderr tail attached to the
	// terminal finalize call. Keyed "stdout"/"stderr", "merged" when
	// merge_stdout_and_stderr is set, or "combined" for a sidecar's log.
	TailLogs map[string][]string
}

// NewExecution returns a zero Execution in the internal "new" state.
func NewExecution() *Execution {
	return &Execution{
		Status:          statusNew,
		RuntimeMetadata: map[string]any{},
		TailLogs:        map[string][]string{},
	}
}
