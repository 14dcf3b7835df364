package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrelay/tasksupervisor/pkg/task"
)

func newTestClient(t *testing.T, srv *httptest.Server, opts Options) *Client {
	t.Helper()
	opts.BaseURL = srv.URL
	if opts.Deadlines == (Deadlines{}) {
		opts.Deadlines = Deadlines{
			CreationError:         time.Second,
			CreationConflict:      time.Second,
			CreationConflictRetry: 10 * time.Millisecond,
			Request:               time.Second,
			FinalUpdate:           time.Second,
			ErrorTimeout:          time.Second,
		}
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 10 * time.Millisecond
	}
	c := New(opts)
	t.Cleanup(srv.Close)
	return c
}

func TestGateDrawsOncePerInvocation(t *testing.T) {
	c := New(Options{Probabilities: Probabilities{Managed: 1}, Sampler: constantSampler{v: 0.1}})

	first := c.Gate()
	second := c.Gate()

	assert.True(t, first)
	assert.Equal(t, first, second)
}

func TestGateFalseWhenSampleAboveThreshold(t *testing.T) {
	c := New(Options{Probabilities: Probabilities{Managed: 0.1}, Sampler: constantSampler{v: 0.5}})
	assert.False(t, c.Gate())
}

func TestCreateExecutionOfflineModeSkipsRequest(t *testing.T) {
	c := New(Options{OfflineMode: true})
	uuid, flags, err := c.CreateExecution(t.Context(), task.Identity{Name: "t"}, nil, nil, false, false)
	require.NoError(t, err)
	assert.Equal(t, "", uuid)
	assert.Equal(t, ServerFlags{}, flags)
}

func TestCreateExecutionSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/executions", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"execution_uuid": "exec-1"})
	}))
	c := newTestClient(t, srv, Options{Probabilities: Probabilities{Managed: 1}, Sampler: constantSampler{v: 0}})

	uuid, _, err := c.CreateExecution(t.Context(), task.Identity{Name: "t"}, nil, nil, false, false)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", uuid)
}

func TestCreateExecutionRetriesOnConflictThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"execution_uuid": "exec-2"})
	}))
	c := newTestClient(t, srv, Options{Probabilities: Probabilities{Managed: 1}, Sampler: constantSampler{v: 0}})

	uuid, _, err := c.CreateExecution(t.Context(), task.Identity{Name: "t"}, nil, nil, false, false)
	require.NoError(t, err)
	assert.Equal(t, "exec-2", uuid)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestCreateExecutionTerminalErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	c := newTestClient(t, srv, Options{Probabilities: Probabilities{Managed: 1}, Sampler: constantSampler{v: 0}})

	_, _, err := c.CreateExecution(t.Context(), task.Identity{Name: "t"}, nil, nil, false, false)
	assert.Error(t, err)
}

func TestHeartbeatOfflineNoopWhenNoExecutionUUID(t *testing.T) {
	c := New(Options{})
	reply, err := c.Heartbeat(t.Context(), "", task.Counters{}, "")
	require.NoError(t, err)
	assert.Equal(t, HeartbeatReply{}, reply)
}

func TestHeartbeatDecodesStopAndMarkedDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"stop_requested": true, "marked_done": false})
	}))
	c := newTestClient(t, srv, Options{})

	reply, err := c.Heartbeat(t.Context(), "exec-1", task.Counters{SuccessCount: 1}, "running")
	require.NoError(t, err)
	assert.True(t, reply.StopRequested)
	assert.False(t, reply.MarkedDone)
}

func TestFinalizeSendsTerminalStatus(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/executions/exec-1/finalize", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	c := newTestClient(t, srv, Options{})

	exitCode := 0
	err := c.Finalize(t.Context(), "exec-1", task.Identity{Name: "t"}, FinalizeRequest{
		Status:   task.StatusSucceeded,
		ExitCode: &exitCode,
	})
	require.NoError(t, err)
	assert.Equal(t, string(task.StatusSucceeded), gotBody["status"])
}

func TestFinalizeOfflineModeIsNoop(t *testing.T) {
	c := New(Options{OfflineMode: true})
	err := c.Finalize(t.Context(), "exec-1", task.Identity{Name: "t"}, FinalizeRequest{Status: task.StatusFailed})
	assert.NoError(t, err)
}

func TestFinalizeWithNoExecutionSkipsWhenNotFailureOrTimeout(t *testing.T) {
	c := New(Options{})
	err := c.Finalize(t.Context(), "", task.Identity{Name: "t"}, FinalizeRequest{Status: task.StatusSucceeded})
	assert.NoError(t, err)
}

func TestFinalizeWithNoExecutionSkipsWhenReGateFails(t *testing.T) {
	c := New(Options{Probabilities: Probabilities{FailureReport: 0}, Sampler: constantSampler{v: 0.5}})
	err := c.Finalize(t.Context(), "", task.Identity{Name: "t"}, FinalizeRequest{Status: task.StatusFailed})
	assert.NoError(t, err)
}

type constantSampler struct {
	v float64
}

func (s constantSampler) Float64() float64 { return s.v }
