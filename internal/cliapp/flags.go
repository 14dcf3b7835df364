package cliapp

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func bindTaskFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("task-name", "", "task name")
	f.String("task-uuid", "", "task UUID assigned by the server, if known")
	f.Int64("version-number", 0, "task version number")
	f.String("version-text", "", "task version text")
	f.String("version-signature", "", "task version signature")
	f.Bool("is-service", false, "mark this execution as a long-running service")
	f.Bool("is-passive", false, "mark this execution as passive (observed, not managed)")
	f.String("schedule", "", "cron-like schedule descriptor, informational")
	f.Int("max-concurrency", 1, "maximum concurrent executions of this task")
	f.Int("max-conflicting-age", 0, "seconds after which a conflicting execution is considered stale")
	f.Bool("auto-create-task", false, "have the server auto-create the task definition if absent")
	f.String("instance-metadata", "", "JSON-encoded static instance metadata")
	bindAll(v, f)
}

func bindAPIFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("api-base-url", "", "Task Management service base URL")
	f.String("api-key", "", "Task Management service API key")
	f.Int("api-heartbeat-interval", 30, "seconds between heartbeats")
	f.Int("api-error-timeout", 60, "seconds an API call's error window stays open before pausing")
	f.Int("api-retry-delay", 1, "seconds between retry attempts")
	f.Int("api-resume-delay", 60, "seconds to pause after an error window is exhausted; negative disables resuming")
	f.Int("api-creation-error-timeout", 60, "seconds budget for create_execution errors")
	f.Int("api-creation-conflict-timeout", 120, "seconds budget for create_execution 409 retries")
	f.Int("api-creation-conflict-retry-delay", 2, "seconds between create_execution conflict retries")
	f.Int("api-request-timeout", 30, "seconds per HTTP request")
	f.Int("api-final-update-timeout", 30, "seconds budget for the finalize call")
	f.Bool("api-offline-mode", false, "never contact the Task Management service")
	f.Bool("api-prevent-offline-execution", false, "abort rather than run without a reachable service")
	f.Float64("api-managed-probability", 1.0, "probability that this invocation registers with the service")
	f.Float64("api-failure-report-probability", 1.0, "re-sample probability for reporting a failure when unregistered")
	f.Float64("api-timeout-report-probability", 1.0, "re-sample probability for reporting a timeout when unregistered")
	f.Int("runtime-metadata-refresh-interval", 300, "seconds between runtime-metadata re-probes and patch updates; 0 disables periodic refresh")
	bindAll(v, f)
}

func bindProcessFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("work-dir", "", "child process working directory")
	f.String("shell-mode", "auto", "shell-mode: auto|enable|disable")
	f.Bool("strip-shell-wrapping", true, "strip a leading shell wrapper from an already-tokenized command")
	f.Bool("process-group-termination", true, "signal the child's process group rather than just the leader")
	f.Int("process-timeout", 0, "seconds before the child is force-terminated; 0 disables")
	f.Int("max-retries", 0, "maximum number of re-spawns after a nonzero exit")
	f.Int("process-retry-delay", 1, "seconds to wait between a child exit and the next spawn")
	f.Int("check-interval", 1, "seconds between child-liveness checks")
	f.Int("termination-grace-period", 30, "seconds between terminate and kill signals")
	f.String("sidecar-container", "", "attach to this already-running peer container instead of spawning a child process")
	bindAll(v, f)
}

func bindIOFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("input-value", "", "inline input value")
	f.String("input-env-var-name", "", "environment variable carrying the input value")
	f.String("input-filename", "", "file carrying the input value")
	f.String("input-value-format", "text", "input value format: text|json|yaml")
	f.Bool("cleanup-input-file", false, "delete the input file after reading it")
	f.String("result-filename", "", "file the child writes its result value to")
	f.String("result-value-format", "text", "result value format: text|json|yaml")
	f.Bool("no-cleanup-result-file", false, "keep the result file after reading it")
	bindAll(v, f)
}

func bindLogFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("log-level", "info", "log level: debug|info|warn|error")
	f.Bool("log-secrets", false, "include resolved secret values in logs (discouraged)")
	f.Bool("log-input-value", false, "include the input value in logs")
	f.Bool("log-result-value", false, "include the result value in logs")
	f.Bool("include-timestamps", true, "prefix log lines with timestamps")
	f.Int("num-log-lines-sent-on-failure", 100, "tail lines attached to finalize on failure")
	f.Int("num-log-lines-sent-on-timeout", 100, "tail lines attached to finalize on timeout")
	f.Int("num-log-lines-sent-on-success", 0, "tail lines attached to finalize on success")
	f.Int("max-log-line-length", 4000, "truncate captured lines longer than this")
	f.Bool("separate-stdout-and-stderr-logs", true, "capture stdout/stderr into independent buffers")
	bindAll(v, f)
}

func bindUpdateFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.Bool("enable-status-update-listener", false, "bind a UDP socket for child-reported status updates")
	f.Int("status-update-socket-port", 2373, "UDP port for the status update listener")
	f.Int("status-update-message-max-bytes", 65536, "maximum accepted datagram size")
	f.Int("status-update-interval", 0, "minimum seconds between status-derived counter merges, 0 for unthrottled")
	bindAll(v, f)
}

func bindConfigurationFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.StringSlice("env-locations", nil, "ordered list of env-location strings to fetch and merge")
	f.StringSlice("config-locations", nil, "ordered list of config-location strings to fetch and merge")
	f.String("config-merge-strategy", "DEEP", "merge strategy: DEEP|SHALLOW|REPLACE|ADDITIVE|TYPESAFE_REPLACE|TYPESAFE_ADDITIVE")
	f.Bool("overwrite-env-during-resolution", false, "let resolved env values overwrite existing process environment variables")
	f.Int("config-ttl", 300, "seconds a fetched secret stays cached")
	f.Bool("fail-fast-config-resolution", false, "abort on the first unresolvable location instead of retaining it")
	f.String("resolved-env-var-name-prefix", "", "prefix marking an env key as resolvable")
	f.String("resolved-env-var-name-suffix", "_FOR_PROC_WRAPPER_TO_RESOLVE", "suffix marking an env key as resolvable")
	f.String("resolved-config-property-name-prefix", "", "prefix marking a config key as resolvable")
	f.String("resolved-config-property-name-suffix", "__to_resolve", "suffix marking a config key as resolvable")
	f.String("env-var-name-for-config", "", "env var to expose the resolved config JSON under")
	f.String("config-property-name-for-env", "", "config key to expose the resolved env map under")
	f.String("env-output-filename", "", "file to write the resolved env to")
	f.String("env-output-format", "dotenv", "format for env-output-filename: dotenv|json|yaml")
	f.String("config-output-filename", "", "file to write the resolved config to")
	f.String("config-output-format", "json", "format for config-output-filename: json|yaml")
	f.Bool("exit-after-writing-variables", false, "resolve and write env/config outputs, then exit without spawning the child")
	bindAll(v, f)
}

// bindAll binds every flag currently defined on f into v, by name, so
// viper.Unmarshal can decode from flags/env uniformly. Each flag group
// calls it after defining its flags; VisitAll walks the whole FlagSet, so
// flags of earlier groups are bound again.
func bindAll(v *viper.Viper, f *pflag.FlagSet) {
	f.VisitAll(func(flag *pflag.Flag) {
		must(v.BindPFlag(flag.Name, flag))
	})
}
