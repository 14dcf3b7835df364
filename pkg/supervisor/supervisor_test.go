package supervisor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrelay/tasksupervisor/pkg/apiclient"
	"github.com/taskrelay/tasksupervisor/pkg/runtimeprobe"
	"github.com/taskrelay/tasksupervisor/pkg/task"
)

func newTestAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	var finalizedStatus atomic.Value
	finalizedStatus.Store("")

	mux := http.NewServeMux()
	mux.HandleFunc("/executions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"execution_uuid": "exec-1"})
	})
	mux.HandleFunc("/executions/exec-1/finalize", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if s, ok := body["status"].(string); ok {
			finalizedStatus.Store(s)
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/executions/exec-1/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestAPIClient(t *testing.T, srv *httptest.Server) *apiclient.Client {
	t.Helper()
	return apiclient.New(apiclient.Options{
		BaseURL: srv.URL,
		Deadlines: apiclient.Deadlines{
			CreationError: time.Second,
			Request:       time.Second,
			FinalUpdate:   time.Second,
			ErrorTimeout:  time.Second,
		},
		Probabilities: apiclient.Probabilities{Managed: 1},
	})
}

func TestRunSucceedsOnFirstAttempt(t *testing.T) {
	srv := newTestAPIServer(t)
	client := newTestAPIClient(t, srv)

	result, err := Run(t.Context(), Options{
		Identity: task.Identity{Name: "ok-task"},
		Process: ProcessOptions{
			Command: []string{"/bin/sh", "-c", "exit 0"},
		},
		API:   client,
		Probe: (&runtimeprobe.Probe{}).WithStaticDescriptor(runtimeprobe.Descriptor{}),
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, result.Status)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunFailsAfterExhaustingRetries(t *testing.T) {
	srv := newTestAPIServer(t)
	client := newTestAPIClient(t, srv)

	result, err := Run(t.Context(), Options{
		Identity: task.Identity{Name: "failing-task"},
		Process: ProcessOptions{
			Command:    []string{"/bin/sh", "-c", "exit 1"},
			MaxRetries: 2,
			RetryDelay: time.Millisecond,
		},
		API:   client,
		Probe: (&runtimeprobe.Probe{}).WithStaticDescriptor(runtimeprobe.Descriptor{}),
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, result.Status)
	assert.Equal(t, 1, result.ExitCode)
}

func TestRunEnforcesTimeout(t *testing.T) {
	srv := newTestAPIServer(t)
	client := newTestAPIClient(t, srv)

	result, err := Run(t.Context(), Options{
		Identity: task.Identity{Name: "slow-task"},
		Process: ProcessOptions{
			Command:                []string{"/bin/sh", "-c", "sleep 30"},
			Timeout:                100 * time.Millisecond,
			ProcessGroupTermination: true,
			TerminationGracePeriod: 50 * time.Millisecond,
		},
		API:   client,
		Probe: (&runtimeprobe.Probe{}).WithStaticDescriptor(runtimeprobe.Descriptor{}),
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusTerminatedAfterTimeout, result.Status)
	assert.Equal(t, 124, result.ExitCode)
}

func TestRunSidecarAttachFailureReturnsFailed(t *testing.T) {
	srv := newTestAPIServer(t)
	client := newTestAPIClient(t, srv)

	result, err := Run(t.Context(), Options{
		Identity: task.Identity{Name: "sidecar-task"},
		Process: ProcessOptions{
			SidecarContainer: "no-such-peer-container",
		},
		API:   client,
		Probe: (&runtimeprobe.Probe{}).WithStaticDescriptor(runtimeprobe.Descriptor{}),
	})
	assert.Error(t, err)
	assert.Equal(t, task.StatusFailed, result.Status)
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitLines("a\nb\n"))
	assert.Equal(t, []string{"a", "b"}, splitLines("a\nb"))
	assert.Nil(t, splitLines(""))
	assert.Nil(t, splitLines("\n"))
}

func TestRunCreateExecutionFailureAbortsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	client := newTestAPIClient(t, srv)

	result, err := Run(t.Context(), Options{
		Identity: task.Identity{Name: "unregisterable-task"},
		Process: ProcessOptions{
			Command: []string{"/bin/sh", "-c", "exit 0"},
		},
		API:   client,
		Probe: (&runtimeprobe.Probe{}).WithStaticDescriptor(runtimeprobe.Descriptor{}),
	})
	assert.Error(t, err)
	assert.Equal(t, task.StatusFailed, result.Status)
}
