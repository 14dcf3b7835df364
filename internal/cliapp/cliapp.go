// Package cliapp builds the supervisor's cobra command and binds every
// flag to a viper-backed environment variable, one flag group per option
// namespace (task, api, process, io, log, updates, configuration).
//
// One Flags() block per concern, BindPFlag into a viper instance created
// by NewRootCommand, env vars auto-prefixed and dash-to-underscore mapped.
package cliapp

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SUPERVISOR"

// Config is the fully decoded set of CLI/env-sourced options, one field
// group per option namespace.
type Config struct {
	// task
	TaskName              string   `mapstructure:"task-name"`
	TaskUUID              string   `mapstructure:"task-uuid"`
	VersionNumber         int64    `mapstructure:"version-number"`
	VersionText           string   `mapstructure:"version-text"`
	VersionSignature      string   `mapstructure:"version-signature"`
	IsService             bool     `mapstructure:"is-service"`
	IsPassive             bool     `mapstructure:"is-passive"`
	Schedule              string   `mapstructure:"schedule"`
	MaxConcurrency        int      `mapstructure:"max-concurrency"`
	MaxConflictingAge     int      `mapstructure:"max-conflicting-age"`
	AutoCreateTask        bool     `mapstructure:"auto-create-task"`
	InstanceMetadata      string   `mapstructure:"instance-metadata"`

	// api
	APIBaseURL                  string  `mapstructure:"api-base-url"`
	APIKey                      string  `mapstructure:"api-key"`
	APIHeartbeatInterval        int     `mapstructure:"api-heartbeat-interval"`
	APIErrorTimeout             int     `mapstructure:"api-error-timeout"`
	APIRetryDelay               int     `mapstructure:"api-retry-delay"`
	APIResumeDelay              int     `mapstructure:"api-resume-delay"`
	APICreationErrorTimeout     int     `mapstructure:"api-creation-error-timeout"`
	APICreationConflictTimeout  int     `mapstructure:"api-creation-conflict-timeout"`
	APICreationConflictRetryDelay int   `mapstructure:"api-creation-conflict-retry-delay"`
	APIRequestTimeout           int     `mapstructure:"api-request-timeout"`
	APIFinalUpdateTimeout       int     `mapstructure:"api-final-update-timeout"`
	APIOfflineMode              bool    `mapstructure:"api-offline-mode"`
	APIPreventOfflineExecution  bool    `mapstructure:"api-prevent-offline-execution"`
	APIManagedProbability       float64 `mapstructure:"api-managed-probability"`
	APIFailureReportProbability float64 `mapstructure:"api-failure-report-probability"`
	APITimeoutReportProbability float64 `mapstructure:"api-timeout-report-probability"`
	RuntimeMetadataRefreshInterval int  `mapstructure:"runtime-metadata-refresh-interval"`

	// process
	WorkDir                 string `mapstructure:"work-dir"`
	ShellMode               string `mapstructure:"shell-mode"`
	StripShellWrapping      bool   `mapstructure:"strip-shell-wrapping"`
	ProcessGroupTermination bool   `mapstructure:"process-group-termination"`
	ProcessTimeout          int    `mapstructure:"process-timeout"`
	MaxRetries              int    `mapstructure:"max-retries"`
	ProcessRetryDelay       int    `mapstructure:"process-retry-delay"`
	CheckInterval           int    `mapstructure:"check-interval"`
	TerminationGracePeriod  int    `mapstructure:"termination-grace-period"`
	SidecarContainer        string `mapstructure:"sidecar-container"`

	// io
	InputValue           string `mapstructure:"input-value"`
	InputEnvVarName      string `mapstructure:"input-env-var-name"`
	InputFilename        string `mapstructure:"input-filename"`
	InputValueFormat     string `mapstructure:"input-value-format"`
	CleanupInputFile     bool   `mapstructure:"cleanup-input-file"`
	ResultFilename       string `mapstructure:"result-filename"`
	ResultValueFormat    string `mapstructure:"result-value-format"`
	NoCleanupResultFile  bool   `mapstructure:"no-cleanup-result-file"`

	// log
	LogLevel                  string `mapstructure:"log-level"`
	LogSecrets                bool   `mapstructure:"log-secrets"`
	LogInputValue             bool   `mapstructure:"log-input-value"`
	LogResultValue            bool   `mapstructure:"log-result-value"`
	IncludeTimestamps         bool   `mapstructure:"include-timestamps"`
	NumLogLinesOnFailure      int    `mapstructure:"num-log-lines-sent-on-failure"`
	NumLogLinesOnTimeout      int    `mapstructure:"num-log-lines-sent-on-timeout"`
	NumLogLinesOnSuccess      int    `mapstructure:"num-log-lines-sent-on-success"`
	MaxLogLineLength          int    `mapstructure:"max-log-line-length"`
	SeparateStdoutAndStderrLogs bool `mapstructure:"separate-stdout-and-stderr-logs"`

	// updates
	EnableStatusUpdateListener bool `mapstructure:"enable-status-update-listener"`
	StatusUpdateSocketPort     int  `mapstructure:"status-update-socket-port"`
	StatusUpdateMessageMaxBytes int `mapstructure:"status-update-message-max-bytes"`
	StatusUpdateInterval       int  `mapstructure:"status-update-interval"`

	// configuration
	EnvLocations                  []string `mapstructure:"env-locations"`
	ConfigLocations                []string `mapstructure:"config-locations"`
	ConfigMergeStrategy             string   `mapstructure:"config-merge-strategy"`
	OverwriteEnvDuringResolution    bool     `mapstructure:"overwrite-env-during-resolution"`
	ConfigTTL                       int      `mapstructure:"config-ttl"`
	FailFastConfigResolution        bool     `mapstructure:"fail-fast-config-resolution"`
	ResolvedEnvVarNamePrefix        string   `mapstructure:"resolved-env-var-name-prefix"`
	ResolvedEnvVarNameSuffix        string   `mapstructure:"resolved-env-var-name-suffix"`
	ResolvedConfigPropertyNamePrefix string  `mapstructure:"resolved-config-property-name-prefix"`
	ResolvedConfigPropertyNameSuffix string  `mapstructure:"resolved-config-property-name-suffix"`
	EnvVarNameForConfig             string   `mapstructure:"env-var-name-for-config"`
	ConfigPropertyNameForEnv        string   `mapstructure:"config-property-name-for-env"`
	EnvOutputFilename               string   `mapstructure:"env-output-filename"`
	EnvOutputFormat                 string   `mapstructure:"env-output-format"`
	ConfigOutputFilename            string   `mapstructure:"config-output-filename"`
	ConfigOutputFormat              string   `mapstructure:"config-output-format"`
	ExitAfterWritingVariables        bool     `mapstructure:"exit-after-writing-variables"`

	// the command to wrap, taken from the "--" positional tail
	Command []string
}

// NewRootCommand builds the `supervisor [options...] [-- COMMAND ARGS...]`
// command. run is invoked with the fully decoded Config once cobra/viper
// parsing succeeds.
func NewRootCommand(run func(cfg Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "supervisor [options...] [-- COMMAND ARGS...]",
		Short: "Supervise a child command and report its lifecycle to the Task Management service",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg Config
			// WeaklyTypedInput lets numeric/bool fields decode from the plain
			// strings env vars always arrive as; ErrorUnused catches a
			// mapstructure tag that no longer matches any Config field.
			if err := v.Unmarshal(&cfg, viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
				dc.WeaklyTypedInput = true
				dc.ErrorUnused = true
			})); err != nil {
				return err
			}
			cfg.Command = args
			return run(cfg)
		},
	}
	cmd.Flags().SetInterspersed(false)

	bindTaskFlags(cmd, v)
	bindAPIFlags(cmd, v)
	bindProcessFlags(cmd, v)
	bindIOFlags(cmd, v)
	bindLogFlags(cmd, v)
	bindUpdateFlags(cmd, v)
	bindConfigurationFlags(cmd, v)

	return cmd
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
