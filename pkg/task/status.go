package task

// Status is one of the terminal or transitional states a TaskExecution can
// occupy.
type Status string

const (
	StatusManuallyStarted       Status = "MANUALLY_STARTED"
	StatusRunning               Status = "RUNNING"
	StatusSucceeded             Status = "SUCCEEDED"
	StatusFailed                Status = "FAILED"
	StatusTerminatedAfterTimeout Status = "TERMINATED_AFTER_TIME_OUT"
	StatusMarkedDone            Status = "MARKED_DONE"
	StatusStopping              Status = "STOPPING"
	StatusStopped               Status = "STOPPED"
	StatusExitedAfterMarkedDone Status = "EXITED_AFTER_MARKED_DONE"
	StatusAbandoned             Status = "ABANDONED"

	// statusNew is the internal pre-registration state; it is never
	// reported to the API.
	statusNew Status = "NEW"
	// statusRegistering is the internal in-flight create_execution state.
	statusRegistering Status = "REGISTERING"
)

// IsTerminal reports whether status is one from which no further
// transition is defined. Every TaskExecution settles into exactly one
// of these.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTerminatedAfterTimeout,
		StatusStopped, StatusExitedAfterMarkedDone, StatusAbandoned:
		return true
	default:
		return false
	}
}
