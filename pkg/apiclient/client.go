package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/taskrelay/tasksupervisor/pkg/clockrand"
	"github.com/taskrelay/tasksupervisor/pkg/task"
)

// Deadlines bundles the independently configurable per-phase deadline
// budgets for the API Client.
type Deadlines struct {
	CreationError        time.Duration
	CreationConflict     time.Duration
	CreationConflictRetry time.Duration
	Request               time.Duration
	FinalUpdate           time.Duration
	ErrorTimeout          time.Duration
}

// Probabilities bundles the sampling-gate thresholds: whether this
// invocation registers at all, and the re-sampling thresholds for
// reporting a failure or timeout after having skipped registration.
type Probabilities struct {
	Managed        float64 // api_managed_probability
	FailureReport  float64 // api_failure_report_probability
	TimeoutReport  float64 // api_timeout_report_probability
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	APIKey        string
	HeartbeatInterval time.Duration
	RetryDelay    time.Duration
	ResumeDelay   time.Duration // negative means "surface the failure instead of pausing"
	Deadlines     Deadlines
	Probabilities Probabilities
	OfflineMode   bool
	PreventOfflineExecution bool

	HTTPClient *http.Client
	Clock      clockrand.Clock
	Sampler    clockrand.Sampler
	Logger     *zap.Logger
}

// Client talks to the Task Management service: registration, heartbeats,
// patch updates, and the terminal finalize call.
type Client struct {
	opts Options
	http *http.Client
	clk  clockrand.Clock
	rng  clockrand.Sampler
	log  *zap.Logger

	// sampled is resolved once per invocation by Gate, and consulted by
	// every subsequent call this Client makes.
	sampled     bool
	gateDrawn   bool
}

// ServerFlags is whatever out-of-band instructions create_execution's
// response carries.
type ServerFlags struct {
	AutoCreateTask bool
}

// HeartbeatReply carries the server's optional stop/mark-done signal.
type HeartbeatReply struct {
	StopRequested bool
	MarkedDone    bool
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clockrand.Real
	}
	rng := opts.Sampler
	if rng == nil {
		rng = clockrand.RealSampler
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{opts: opts, http: httpClient, clk: clk, rng: rng, log: log}
}

// Gate draws the once-per-invocation sampling decision. Call before
// CreateExecution.
func (c *Client) Gate() bool {
	if !c.gateDrawn {
		c.sampled = c.rng.Float64() < c.opts.Probabilities.Managed
		c.gateDrawn = true
	}
	return c.sampled
}

// reGate re-samples against a report probability when the initial gate
// skipped registration but the outcome turned out to be a failure or
// timeout.
func (c *Client) reGate(probability float64) bool {
	return c.rng.Float64() < probability
}

// CreateExecution registers a new Task Execution. Retries on 409 Conflict
// up to creation_conflict_timeout, honoring Retry-After. Other retryable
// outcomes (429, non-500 5xx, transport errors) retry up to
// creation_error_timeout; if that window is exhausted, registration is
// treated as skipped unless PreventOfflineExecution is set, in which case
// the caller aborts without spawning the child. Any other terminal error
// aborts immediately.
func (c *Client) CreateExecution(ctx context.Context, identity task.Identity, runtimeMetadata map[string]any, inputValue any, passive, autoCreate bool) (executionUUID string, flags ServerFlags, err error) {
	if c.opts.OfflineMode {
		// Offline mode was explicitly requested: PreventOfflineExecution only
		// guards against running unmanaged without having asked for it.
		return "", ServerFlags{}, nil
	}
	if !c.Gate() {
		if c.opts.PreventOfflineExecution {
			return "", ServerFlags{}, fmt.Errorf("apiclient: prevent_offline_execution is set and this invocation was not sampled for registration")
		}
		return "", ServerFlags{}, nil
	}

	body := map[string]any{
		"identity":         identity,
		"runtime_metadata":  runtimeMetadata,
		"input_value":      inputValue,
		"is_passive":       passive,
		"auto_create_task": autoCreate,
	}

	conflictDeadline := c.clk.Now().Add(nonNegative(c.opts.Deadlines.CreationConflict))
	conflictDelay := nonNegative(c.opts.Deadlines.CreationConflictRetry)
	if conflictDelay == 0 {
		conflictDelay = c.opts.RetryDelay
	}
	errorDeadline := c.clk.Now().Add(nonNegative(c.opts.Deadlines.CreationError))

	for {
		resp, classification, respBody, reqErr := c.doRequest(ctx, http.MethodPost, "/executions", body, c.opts.Deadlines.Request, true)
		if reqErr == nil && classification.Outcome == OutcomeOk {
			var out struct {
				ExecutionUUID  string `json:"execution_uuid"`
				AutoCreateTask bool   `json:"auto_create_task"`
			}
			if err := json.Unmarshal(respBody, &out); err != nil {
				return "", ServerFlags{}, fmt.Errorf("apiclient: decoding create_execution response: %w", err)
			}
			return out.ExecutionUUID, ServerFlags{AutoCreateTask: out.AutoCreateTask}, nil
		}
		_ = resp

		if classification.Outcome == OutcomeConflict {
			if c.clk.Now().After(conflictDeadline) {
				return "", ServerFlags{}, fmt.Errorf("apiclient: create_execution: conflict retry deadline exceeded")
			}
			wait := conflictDelay
			if classification.RetryAfter > 0 {
				wait = classification.RetryAfter
			}
			if err := c.sleep(ctx, wait); err != nil {
				return "", ServerFlags{}, err
			}
			continue
		}

		retryable := reqErr != nil || classification.Outcome == OutcomeRetryable
		if !retryable {
			if reqErr != nil {
				return "", ServerFlags{}, fmt.Errorf("apiclient: create_execution: %w", reqErr)
			}
			return "", ServerFlags{}, fmt.Errorf("apiclient: create_execution: %w", classification.Cause)
		}

		if c.clk.Now().After(errorDeadline) {
			if c.opts.PreventOfflineExecution {
				var cause error
				if reqErr != nil {
					cause = reqErr
				} else {
					cause = classification.Cause
				}
				return "", ServerFlags{}, fmt.Errorf("apiclient: create_execution: error-timeout exhausted, refusing to start (prevent_offline_execution): %w", cause)
			}
			return "", ServerFlags{}, nil
		}

		wait := c.opts.RetryDelay
		if classification.RetryAfter > 0 {
			wait = classification.RetryAfter
		}
		if err := c.sleep(ctx, wait); err != nil {
			return "", ServerFlags{}, err
		}
	}
}

// Heartbeat reports counters/last-status-message; never advances status,
// only the last_heartbeat timestamp.
func (c *Client) Heartbeat(ctx context.Context, executionUUID string, counters task.Counters, lastStatusMessage string) (HeartbeatReply, error) {
	if c.offlineNoop(executionUUID) {
		return HeartbeatReply{}, nil
	}

	body := map[string]any{
		"counters":            counters,
		"last_status_message": lastStatusMessage,
	}
	respBody, err := c.callWithRetry(ctx, http.MethodPost, fmt.Sprintf("/executions/%s/heartbeat", executionUUID), body, false)
	if err != nil {
		return HeartbeatReply{}, err
	}
	var out struct {
		StopRequested bool `json:"stop_requested"`
		MarkedDone    bool `json:"marked_done"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return HeartbeatReply{}, fmt.Errorf("apiclient: decoding heartbeat response: %w", err)
	}
	return HeartbeatReply{StopRequested: out.StopRequested, MarkedDone: out.MarkedDone}, nil
}

// Update sends a partial patch (counters, pid, hostname, runtime
// metadata, app-heartbeat timestamp).
func (c *Client) Update(ctx context.Context, executionUUID string, patch map[string]any) error {
	if c.offlineNoop(executionUUID) {
		return nil
	}
	_, err := c.callWithRetry(ctx, http.MethodPatch, fmt.Sprintf("/executions/%s", executionUUID), patch, false)
	return err
}

// FinalizeRequest is the payload for the single terminal update:
// execution UUID, status, exit code, result value, and log tail.
type FinalizeRequest struct {
	Status      task.Status
	ExitCode    *int
	ResultValue any
	LogTail     map[string][]string
}

// Finalize posts the terminal update with api_final_update_timeout
// budget. If the execution was never registered (sampled out), it
// re-samples against the appropriate report probability for a failure or
// timeout outcome and, if that passes, performs a late registration
// first.
func (c *Client) Finalize(ctx context.Context, executionUUID string, identity task.Identity, req FinalizeRequest) error {
	if c.opts.OfflineMode {
		return nil
	}

	if executionUUID == "" {
		isFailureOrTimeout := req.Status == task.StatusFailed || req.Status == task.StatusTerminatedAfterTimeout
		if !isFailureOrTimeout {
			return nil
		}
		probability := c.opts.Probabilities.FailureReport
		if req.Status == task.StatusTerminatedAfterTimeout {
			probability = c.opts.Probabilities.TimeoutReport
		}
		if !c.reGate(probability) {
			return nil
		}
		lateUUID, _, err := c.CreateExecution(ctx, identity, nil, nil, false, false)
		if err != nil {
			return fmt.Errorf("apiclient: late registration before finalize: %w", err)
		}
		executionUUID = lateUUID
		if executionUUID == "" {
			return nil
		}
	}

	body := map[string]any{
		"status":       req.Status,
		"exit_code":    req.ExitCode,
		"result_value": req.ResultValue,
		"log_tail":     req.LogTail,
	}

	ctx, cancel := context.WithTimeout(ctx, nonNegativeOrDefault(c.opts.Deadlines.FinalUpdate, 30*time.Second))
	defer cancel()
	_, err := c.callWithRetry(ctx, http.MethodPost, fmt.Sprintf("/executions/%s/finalize", executionUUID), body, false)
	return err
}

func (c *Client) offlineNoop(executionUUID string) bool {
	return c.opts.OfflineMode || executionUUID == ""
}

// callWithRetry runs one logical API call, retrying until the per-call
// error-timeout window is exhausted, then pausing for resume_delay and
// trying again (if resume_delay >= 0), otherwise surfacing the failure.
func (c *Client) callWithRetry(ctx context.Context, method, path string, body any, allowConflict bool) ([]byte, error) {
	for {
		windowDeadline := c.clk.Now().Add(nonNegativeOrDefault(c.opts.Deadlines.ErrorTimeout, 60*time.Second))

		for {
			_, classification, respBody, reqErr := c.doRequest(ctx, method, path, body, c.opts.Deadlines.Request, allowConflict)
			if reqErr == nil && classification.Outcome == OutcomeOk {
				return respBody, nil
			}

			var cause error
			if reqErr != nil {
				cause = reqErr
			} else {
				cause = classification.Cause
			}

			terminal := reqErr == nil && classification.Outcome == OutcomeTerminal
			if terminal {
				return nil, fmt.Errorf("apiclient: %s %s: %w", method, path, cause)
			}

			if c.clk.Now().After(windowDeadline) {
				break
			}

			wait := c.opts.RetryDelay
			if classification.RetryAfter > 0 {
				wait = classification.RetryAfter
			}
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		if c.opts.ResumeDelay < 0 {
			return nil, fmt.Errorf("apiclient: %s %s: error-timeout window exhausted, resume disabled", method, path)
		}
		c.log.Warn("apiclient entering paused state", zap.String("path", path), zap.Duration("resume_delay", c.opts.ResumeDelay))
		if err := c.sleep(ctx, c.opts.ResumeDelay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, timeout time.Duration, allowConflict bool) (*http.Response, Classification, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, nonNegativeOrDefault(timeout, 30*time.Second))
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, Classification{}, nil, fmt.Errorf("apiclient: encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reader)
	if err != nil {
		return nil, Classification{}, nil, fmt.Errorf("apiclient: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err), nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
	classification := classifyResponse(resp.StatusCode, retryAfter, allowConflict)
	return resp, classification, respBody, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	ch, stop := c.clk.NewTimer(d)
	defer stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func nonNegativeOrDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
