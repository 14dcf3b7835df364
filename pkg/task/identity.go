// Package task holds the data model shared by the Supervisor and API
// Client: TaskIdentity, TaskExecution, and their lifecycle status.
package task

// Version is the (number, text, signature) triple identifying a build of
// the Task's code.
type Version struct {
	Number    int64  `json:"version_number,omitempty" yaml:"version_number,omitempty"`
	Text      string `json:"version_text,omitempty" yaml:"version_text,omitempty"`
	Signature string `json:"version_signature,omitempty" yaml:"version_signature,omitempty"`
}

// Identity is the logical Task this execution belongs to. Created once per
// invocation from configuration and treated as immutable after
// registration.
type Identity struct {
	Name     string `json:"name" yaml:"name"`
	UUID     string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	Version  Version

	// InstanceMetadata is arbitrary descriptive key/value data attached to
	// this particular instance of the Task (e.g. deployment, region).
	InstanceMetadata map[string]any `json:"instance_metadata,omitempty" yaml:"instance_metadata,omitempty"`

	IsService      bool   `json:"is_service" yaml:"is_service"`
	IsPassive      bool   `json:"is_passive" yaml:"is_passive"`
	MaxConcurrency int    `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
	Schedule       string `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// MaxConflictingAge is the number of seconds after which an existing
	// in-flight execution of this Task is considered stale and no longer
	// counted against MaxConcurrency by the server's conflict check.
	MaxConflictingAge int `json:"max_conflicting_age,omitempty" yaml:"max_conflicting_age,omitempty"`

	// AutoCreate instructs create_execution to register the Task at the
	// service if it does not already exist there.
	AutoCreate bool `json:"auto_create_task" yaml:"auto_create_task"`
}
