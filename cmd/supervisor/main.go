// Command supervisor wraps a child command (or an in-process callback)
// and mediates its lifecycle with a remote Task Management service:
// registration, heartbeats, cancellation, retries, timeouts, log-tail
// capture, and secret-resolved configuration.
//
// Builds a root cobra command in an internal package, resolves
// configuration, constructs a zap logger, then hands off to the package
// implementing the supervision loop itself.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskrelay/tasksupervisor/internal/cliapp"
	"github.com/taskrelay/tasksupervisor/internal/exitcode"
	"github.com/taskrelay/tasksupervisor/internal/obslog"
	"github.com/taskrelay/tasksupervisor/pkg/apiclient"
	"github.com/taskrelay/tasksupervisor/pkg/configresolver"
	"github.com/taskrelay/tasksupervisor/pkg/procexec"
	"github.com/taskrelay/tasksupervisor/pkg/runtimeprobe"
	"github.com/taskrelay/tasksupervisor/pkg/secretfetch"
	"github.com/taskrelay/tasksupervisor/pkg/secretfetch/awsremote"
	"github.com/taskrelay/tasksupervisor/pkg/supervisor"
	"github.com/taskrelay/tasksupervisor/pkg/task"
	"github.com/taskrelay/tasksupervisor/pkg/valueparser"
)

func main() {
	cmd := cliapp.NewRootCommand(run)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ee, ok := err.(exitError); ok {
			os.Exit(ee.code)
		}
		os.Exit(exitcode.InternalError)
	}
}

func run(cfg cliapp.Config) error {
	logger := obslog.New(obslog.Options{Level: cfg.LogLevel})
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := runtimeprobe.New(logger)

	identity := task.Identity{
		Name: cfg.TaskName,
		UUID: cfg.TaskUUID,
		Version: task.Version{
			Number:    cfg.VersionNumber,
			Text:      cfg.VersionText,
			Signature: cfg.VersionSignature,
		},
		IsService:         cfg.IsService,
		IsPassive:         cfg.IsPassive,
		MaxConcurrency:    cfg.MaxConcurrency,
		MaxConflictingAge: cfg.MaxConflictingAge,
		Schedule:          cfg.Schedule,
		AutoCreate:        cfg.AutoCreateTask,
	}
	if identity.UUID == "" {
		identity.UUID = uuid.NewString()
	}
	if cfg.InstanceMetadata != "" {
		parsed, err := valueparser.Parse([]byte(cfg.InstanceMetadata), valueparser.FormatJSON)
		if err != nil {
			logger.Error("invalid instance-metadata", zap.Error(err))
			return exitError{code: exitcode.ConfigurationError, err: fmt.Errorf("instance-metadata: %w", err)}
		}
		metadata, ok := parsed.(map[string]any)
		if !ok {
			return exitError{code: exitcode.ConfigurationError, err: fmt.Errorf("instance-metadata: expected a JSON object, got %T", parsed)}
		}
		identity.InstanceMetadata = metadata
	}

	fetcherOpts := secretfetch.Options{CacheTTL: time.Duration(cfg.ConfigTTL) * time.Second}
	if awsCfg, err := awsremote.LoadDefaultConfig(ctx, ""); err == nil {
		fetcherOpts.AWSProviders = map[secretfetch.ProviderCode]secretfetch.Provider{
			secretfetch.ProviderRemoteSecretStore:    awsremote.NewSecretsManagerProvider(awsCfg),
			secretfetch.ProviderRemoteParameterStore: awsremote.NewParameterStoreProvider(awsCfg),
			secretfetch.ProviderRemoteAppConfig:      awsremote.NewAppConfigProvider(awsCfg),
			secretfetch.ProviderRemoteBlob:           awsremote.NewBlobProvider(awsCfg),
		}
	} else {
		logger.Warn("AWS config unavailable, remote secret providers disabled", zap.Error(err))
	}
	fetcher := secretfetch.NewFetcher(fetcherOpts)

	resolver := configresolver.New(fetcher)
	resolved, err := resolver.Resolve(ctx, configresolver.Options{
		EnvLocations:     cfg.EnvLocations,
		ConfigLocations:  cfg.ConfigLocations,
		MergeStrategy:    configresolver.MergeStrategy(cfg.ConfigMergeStrategy),
		ResolvableSuffix: cfg.ResolvedConfigPropertyNameSuffix,
		ResolvablePrefix: cfg.ResolvedConfigPropertyNamePrefix,
		FailFast:         cfg.FailFastConfigResolution,
		OverwriteEnvDuringResolution: cfg.OverwriteEnvDuringResolution,
		EnvVarNameForConfig:      cfg.EnvVarNameForConfig,
		ConfigPropertyNameForEnv: cfg.ConfigPropertyNameForEnv,
	})
	if err != nil {
		logger.Error("configuration resolution failed", zap.Error(err))
		return exitError{code: exitcode.ConfigurationError, err: err}
	}

	if cfg.ExitAfterWritingVariables {
		return nil
	}

	childEnv := os.Environ()
	for k, v := range resolved.Env {
		childEnv = append(childEnv, k+"="+v)
	}

	apiClient := apiclient.New(apiclient.Options{
		BaseURL:           cfg.APIBaseURL,
		APIKey:            cfg.APIKey,
		HeartbeatInterval: time.Duration(cfg.APIHeartbeatInterval) * time.Second,
		RetryDelay:        time.Duration(cfg.APIRetryDelay) * time.Second,
		ResumeDelay:       time.Duration(cfg.APIResumeDelay) * time.Second,
		Deadlines: apiclient.Deadlines{
			CreationError:         time.Duration(cfg.APICreationErrorTimeout) * time.Second,
			CreationConflict:      time.Duration(cfg.APICreationConflictTimeout) * time.Second,
			CreationConflictRetry: time.Duration(cfg.APICreationConflictRetryDelay) * time.Second,
			Request:               time.Duration(cfg.APIRequestTimeout) * time.Second,
			FinalUpdate:           time.Duration(cfg.APIFinalUpdateTimeout) * time.Second,
			ErrorTimeout:          time.Duration(cfg.APIErrorTimeout) * time.Second,
		},
		Probabilities: apiclient.Probabilities{
			Managed:       cfg.APIManagedProbability,
			FailureReport: cfg.APIFailureReportProbability,
			TimeoutReport: cfg.APITimeoutReportProbability,
		},
		OfflineMode:             cfg.APIOfflineMode,
		PreventOfflineExecution: cfg.APIPreventOfflineExecution,
		Logger:                  logger,
	})

	shellMode := procexec.ShellMode(cfg.ShellMode)

	result, err := supervisor.Run(ctx, supervisor.Options{
		Identity:       identity,
		InputValue:     cfg.InputValue,
		Passive:        cfg.IsPassive,
		AutoCreateTask: cfg.AutoCreateTask,
		Process: supervisor.ProcessOptions{
			Command:                 cfg.Command,
			WorkDir:                 cfg.WorkDir,
			Env:                     childEnv,
			ShellMode:               shellMode,
			ProcessGroupTermination: cfg.ProcessGroupTermination,
			Timeout:                 time.Duration(cfg.ProcessTimeout) * time.Second,
			MaxRetries:              cfg.MaxRetries,
			RetryDelay:              time.Duration(cfg.ProcessRetryDelay) * time.Second,
			TerminationGracePeriod:  time.Duration(cfg.TerminationGracePeriod) * time.Second,
			SidecarContainer:        cfg.SidecarContainer,
		},
		Log: supervisor.LogOptions{
			NumLogLinesOnFailure: cfg.NumLogLinesOnFailure,
			NumLogLinesOnTimeout: cfg.NumLogLinesOnTimeout,
			NumLogLinesOnSuccess: cfg.NumLogLinesOnSuccess,
			MaxLogLineLength:     cfg.MaxLogLineLength,
			MergeStdoutAndStderr: !cfg.SeparateStdoutAndStderrLogs,
		},
		Updates: supervisor.UpdateOptions{
			Enabled:         cfg.EnableStatusUpdateListener,
			Addr:            fmt.Sprintf("127.0.0.1:%d", cfg.StatusUpdateSocketPort),
			MaxMessageBytes: cfg.StatusUpdateMessageMaxBytes,
		},
		HeartbeatInterval:              time.Duration(cfg.APIHeartbeatInterval) * time.Second,
		RuntimeMetadataRefreshInterval: time.Duration(cfg.RuntimeMetadataRefreshInterval) * time.Second,
		API:                            apiClient,
		Probe:             probe,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("supervision run failed", zap.Error(err))
	}

	os.Exit(result.ExitCode)
	return nil
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }
