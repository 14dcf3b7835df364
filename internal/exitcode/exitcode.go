// Package exitcode defines the supervisor process's reserved exit codes.
//
// A small, fixed vocabulary of process-level outcomes, implemented locally
// as plain constants rather than pulled from a third-party exit-code
// package: no such dependency in reach covers the timeout and internal
// invariant violation codes this process needs alongside the standard
// configuration-error and signal codes.
package exitcode

// Success is returned when the child command exits 0, or when the
// supervisor otherwise completes without error. Non-zero child exit codes
// are propagated verbatim.
const Success = 0

// ConfigurationError is returned when bootstrap configuration is invalid
// or contradictory, before any child is spawned.
const ConfigurationError = 78 // EX_CONFIG, matches common CLI convention

// Timeout is returned when the supervisor terminates the child after
// process_timeout elapses and no child exit code is otherwise available.
const Timeout = 124 // matches the conventional `timeout(1)` exit code

// InternalError is returned when an internal invariant is violated.
// Distinct from any plausible child exit code or from Timeout/ConfigurationError.
const InternalError = 70 // EX_SOFTWARE

// SignalInterrupted is returned when the supervisor itself is killed by an
// uncatchable signal before it can report a terminal status.
const SignalInterrupted = 130 // 128 + SIGINT
