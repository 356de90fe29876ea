// Package lpt implements the LPT Callback Router (spec.md §4.7): the
// HTTP endpoint a worker posts to when a long-processing task finishes,
// and the watchdog that resumes workflows whose callback never arrives.
// Grounded on the teacher's HTTP handler shape
// (internal/delivery/server/http/api_handler.go's routeHandler wrapping
// a narrow dependency struct), since no teacher file implements worker
// callback resumption itself.
package lpt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/metrics"
	agentcoreerrors "github.com/kabsikabs/agentcore/internal/shared/errors"
	"github.com/kabsikabs/agentcore/internal/shared/logging"
	"github.com/kabsikabs/agentcore/internal/store"
	"github.com/kabsikabs/agentcore/internal/taskstore"
	"github.com/kabsikabs/agentcore/internal/tools"
	"github.com/kabsikabs/agentcore/internal/workflow"
	"github.com/kabsikabs/agentcore/internal/ws"
)

// DefaultMaxWait matches workflow.DefaultMaxWait; a watchdog sweep past
// this age resumes a paused workflow with a synthetic timeout response
// (spec.md §4.7 "Out-of-order / lost callbacks").
const DefaultMaxWait = workflow.DefaultMaxWait

// Router handles inbound LPT callbacks and the watchdog sweep.
type Router struct {
	store       store.Store
	tasks       *taskstore.Store
	executor    *workflow.Executor
	hub         *ws.Hub
	bearerToken string
	maxWait     time.Duration
	logger      logging.Logger
	metrics     *metrics.Metrics
}

// Config configures a Router.
type Config struct {
	BearerToken string
	MaxWait     time.Duration
}

// New builds a Router.
func New(s store.Store, tasks *taskstore.Store, executor *workflow.Executor, hub *ws.Hub, logger logging.Logger, m *metrics.Metrics, cfg Config) *Router {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	return &Router{
		store: s, tasks: tasks, executor: executor, hub: hub,
		bearerToken: cfg.BearerToken, maxWait: cfg.MaxWait,
		logger: logging.OrNop(logger), metrics: m,
	}
}

type callbackResult struct {
	OK      bool   `json:"ok"`
	Ignored string `json:"ignored,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ServeHTTP handles POST /lpt/callback (spec.md §4.7).
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !r.authorized(req) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var env tools.Envelope
	if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, callbackResult{OK: false, Error: "invalid payload"})
		return
	}
	if env.Traceability.ThreadKey == "" || env.PubSubID == "" || env.Response == nil {
		writeJSON(w, http.StatusBadRequest, callbackResult{OK: false, Error: "missing thread_key, pub_sub_id, or response"})
		return
	}

	result, err := r.handleCallback(req.Context(), env)
	if err != nil {
		r.logger.Error("lpt: callback handling failed for %s/%s: %v", env.Traceability.ThreadKey, env.PubSubID, err)
		writeJSON(w, http.StatusInternalServerError, callbackResult{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) authorized(req *http.Request) bool {
	if r.bearerToken == "" {
		return true
	}
	got := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	return got == r.bearerToken
}

// handleCallback implements spec.md §4.7 steps 2-6.
func (r *Router) handleCallback(ctx context.Context, env tools.Envelope) (callbackResult, error) {
	taskID := env.Traceability.ThreadKey
	lptID := env.PubSubID

	exec, err := r.tasks.FindExecutionByLPT(ctx, taskID, lptID)
	if err != nil {
		return callbackResult{}, agentcoreerrors.Wrapf(err, "lpt: resolve execution for %s/%s", taskID, lptID)
	}

	handle, ok := exec.LPTTasks[lptID]
	if !ok {
		return callbackResult{}, fmt.Errorf("lpt: execution %s has no lpt handle %s", exec.ExecutionID, lptID)
	}
	if handle.Terminal() {
		// Idempotence (spec.md §4.7): a terminal callback was already
		// honored for this lpt_id; ignore the duplicate.
		if r.metrics != nil {
			r.metrics.LPTDuplicateTotal.Inc()
		}
		return callbackResult{OK: true, Ignored: "duplicate"}, nil
	}

	status, message := classifyResponse(env.Response)
	summary := message

	if handle.StepID != "" {
		for i := range exec.Checklist.Steps {
			step := &exec.Checklist.Steps[i]
			if step.ID != handle.StepID {
				continue
			}
			newStatus := model.StepCompleted
			if status == model.LPTFailed {
				newStatus = model.StepError
			}
			if model.CanTransition(step.Status, newStatus) {
				step.Status = newStatus
				step.Message = message
				step.Timestamp = time.Now()
				if newStatus == model.StepCompleted || newStatus == model.StepError {
					exec.Checklist.CurrentStep++
				}
			}
			break
		}
	}

	handle.Status = status
	handle.ResultPayload = map[string]any{"status": env.Response.Status, "result": env.Response.Result, "error": env.Response.Error}
	exec.LPTTasks[lptID] = handle
	exec.UpdatedAt = time.Now()
	if err := r.tasks.SaveExecution(ctx, exec); err != nil {
		return callbackResult{}, agentcoreerrors.Wrapf(err, "lpt: persist execution %s", exec.ExecutionID)
	}
	if r.metrics != nil {
		r.metrics.LPTResumedTotal.WithLabelValues(env.Response.Status).Inc()
	}

	thread := model.ThreadKey{UserID: env.UserID, CompanyID: exec.MandatePath, ThreadKey: taskID}
	if r.hub != nil {
		_ = r.hub.Publish(ctx, ws.ChannelName(thread), ws.Event{
			Type: ws.EventWorkflowChecklist,
			Data: map[string]any{"execution_id": exec.ExecutionID, "checklist": exec.Checklist, "lpt_id": lptID, "status": status},
		})
	}

	continuation := continuationMessage(lptID, status, summary)
	outcome, err := r.executor.Run(ctx, workflow.RunInput{
		Thread: thread, ChatMode: model.ChatModeTask,
		Trigger: workflow.TriggerLPTCallback, ExecutionID: exec.ExecutionID, ContinuationMessage: continuation,
	})
	if err != nil {
		return callbackResult{}, agentcoreerrors.Wrapf(err, "lpt: resume workflow for %s", taskID)
	}
	r.logger.Debug("lpt: callback %s/%s resumed workflow with outcome %s", taskID, lptID, outcome)
	return callbackResult{OK: true}, nil
}

func classifyResponse(resp *tools.Response) (model.LPTStatus, string) {
	switch resp.Status {
	case "completed":
		if summary, ok := resp.Result["summary"].(string); ok && summary != "" {
			return model.LPTCompleted, summary
		}
		return model.LPTCompleted, "completed"
	case "partial":
		if summary, ok := resp.Result["summary"].(string); ok && summary != "" {
			return model.LPTCompleted, summary
		}
		return model.LPTCompleted, "partially completed"
	default:
		if resp.Error != "" {
			return model.LPTFailed, resp.Error
		}
		return model.LPTFailed, "failed"
	}
}

func continuationMessage(lptID string, status model.LPTStatus, summary string) string {
	return fmt.Sprintf(
		"The long-running task %s finished with status %q: %s. "+
			"First call UPDATE_STEP to record this in the checklist, then decide whether to "+
			"continue the plan, adjust it, or call TERMINATE_TASK.",
		lptID, status, summary,
	)
}

// SweepTimeouts resumes every workflow paused on an LPT for longer than
// maxWait, with a synthetic timeout response (spec.md §4.7 "Out-of-order
// / lost callbacks"). Intended to run on a periodic ticker alongside the
// scheduler.
func (r *Router) SweepTimeouts(ctx context.Context) error {
	keys, err := r.store.Scan(ctx, "workflow_state:*")
	if err != nil {
		return agentcoreerrors.Wrapf(err, "lpt: scan workflow_state")
	}
	now := time.Now()
	for _, key := range keys {
		raw, ok, err := r.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var state workflow.PausedState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			continue
		}
		if now.Sub(state.PausedAt) < r.maxWait {
			continue
		}
		thread, ok := threadFromStateKey(key)
		if !ok {
			continue
		}
		if err := r.resumeOnTimeout(ctx, thread, state); err != nil {
			r.logger.Warn("lpt: watchdog resume for %s failed: %v", thread, err)
		}
	}
	return nil
}

func threadFromStateKey(key string) (model.ThreadKey, bool) {
	rest := strings.TrimPrefix(key, "workflow_state:")
	if rest == key {
		return model.ThreadKey{}, false
	}
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return model.ThreadKey{}, false
	}
	return model.ThreadKey{CompanyID: parts[0], ThreadKey: parts[1]}, true
}

func (r *Router) resumeOnTimeout(ctx context.Context, thread model.ThreadKey, state workflow.PausedState) error {
	continuation := continuationMessage(state.ExpectedLPT, model.LPTFailed, "timeout")
	_, err := r.executor.Run(ctx, workflow.RunInput{
		Thread: thread, ChatMode: model.ChatModeTask,
		Trigger: workflow.TriggerLPTCallback, ExecutionID: state.ExecutionID, ContinuationMessage: continuation,
	})
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
