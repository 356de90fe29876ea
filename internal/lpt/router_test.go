package lpt

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabsikabs/agentcore/internal/brain"
	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/history"
	"github.com/kabsikabs/agentcore/internal/infra/llm/stubllm"
	"github.com/kabsikabs/agentcore/internal/infra/store/memstore"
	"github.com/kabsikabs/agentcore/internal/llm"
	"github.com/kabsikabs/agentcore/internal/taskstore"
	"github.com/kabsikabs/agentcore/internal/tools"
	"github.com/kabsikabs/agentcore/internal/workflow"
	"github.com/kabsikabs/agentcore/internal/ws"
)

type fakeBinder struct{}

func (fakeBinder) ToolsFor(model.ChatMode) []string { return nil }

type fakeSessions struct{}

func (fakeSessions) Get(context.Context, model.SessionKey) (*model.Session, error) { return nil, nil }

func newTestRouter(t *testing.T) (*Router, *memstore.Store, *taskstore.Store) {
	t.Helper()
	kv := memstore.New()
	tasks := taskstore.New(kv)
	hist := history.New(kv, 0)
	cache := brain.NewCache(fakeBinder{}, nil)
	hub := ws.NewHub(kv, nil, nil)
	client := stubllm.New("test-model", llm.CompletionResponse{Content: "continuing", StopReason: llm.StopEndTurn})
	executor := workflow.New(workflow.Executor{
		Sessions: fakeSessions{}, History: hist, Brains: cache,
		Tools: tools.NewRegistry(), LLM: client, Hub: hub, Tasks: tasks, Store: kv,
	})
	r := New(kv, tasks, executor, hub, nil, nil, Config{BearerToken: "secret"})
	return r, kv, tasks
}

func seedExecutionWithLPT(t *testing.T, tasks *taskstore.Store, taskID, lptID, stepID string) *model.Execution {
	t.Helper()
	exec := &model.Execution{
		MandatePath: "acme/m1", TaskID: taskID, ExecutionID: "exec-1",
		StartedAt: time.Now(), Status: model.ExecutionRunning,
		Checklist: model.Checklist{TotalSteps: 1, Steps: []model.ChecklistStep{{ID: stepID, Name: "pay invoice", Status: model.StepInProgress}}},
		LPTTasks:  map[string]model.LPTHandle{lptID: {LPTID: lptID, Status: model.LPTSubmitted, StepID: stepID}},
	}
	require.NoError(t, tasks.SaveExecution(context.Background(), exec))
	require.NoError(t, tasks.SaveTask(context.Background(), &model.Task{MandatePath: exec.MandatePath, TaskID: taskID}))
	return exec
}

func postCallback(t *testing.T, r *Router, env tools.Envelope, token string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/lpt/callback", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestServeHTTP_RejectsBadAuth(t *testing.T) {
	r, _, _ := newTestRouter(t)
	rec := postCallback(t, r, tools.Envelope{}, "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeHTTP_CompletesStepAndResumesWorkflow(t *testing.T) {
	r, _, tasks := newTestRouter(t)
	seedExecutionWithLPT(t, tasks, "task-1", "lpt-1", "step-1")

	env := tools.Envelope{
		Traceability: tools.Traceability{ThreadKey: "task-1"},
		PubSubID:     "lpt-1",
		Response:     &tools.Response{Status: "completed", Result: map[string]any{"summary": "invoice paid"}},
	}
	rec := postCallback(t, r, env, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	var result callbackResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.OK)
	assert.Empty(t, result.Ignored)

	exec, err := tasks.GetExecution(context.Background(), "task-1", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepCompleted, exec.Checklist.Steps[0].Status)
	assert.Equal(t, model.LPTCompleted, exec.LPTTasks["lpt-1"].Status)
}

func TestServeHTTP_DuplicateCallbackIsIgnored(t *testing.T) {
	r, _, tasks := newTestRouter(t)
	seedExecutionWithLPT(t, tasks, "task-2", "lpt-2", "step-1")

	env := tools.Envelope{
		Traceability: tools.Traceability{ThreadKey: "task-2"},
		PubSubID:     "lpt-2",
		Response:     &tools.Response{Status: "completed", Result: map[string]any{"summary": "done"}},
	}
	rec := postCallback(t, r, env, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec2 := postCallback(t, r, env, "secret")
	require.Equal(t, http.StatusOK, rec2.Code)
	var result callbackResult
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &result))
	assert.True(t, result.OK)
	assert.Equal(t, "duplicate", result.Ignored)
}

func TestServeHTTP_FailedResponseMarksStepError(t *testing.T) {
	r, _, tasks := newTestRouter(t)
	seedExecutionWithLPT(t, tasks, "task-3", "lpt-3", "step-1")

	env := tools.Envelope{
		Traceability: tools.Traceability{ThreadKey: "task-3"},
		PubSubID:     "lpt-3",
		Response:     &tools.Response{Status: "failed", Error: "worker crashed"},
	}
	rec := postCallback(t, r, env, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	exec, err := tasks.GetExecution(context.Background(), "task-3", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepError, exec.Checklist.Steps[0].Status)
	assert.Equal(t, model.LPTFailed, exec.LPTTasks["lpt-3"].Status)
}

func TestSweepTimeouts_ResumesStaleWorkflow(t *testing.T) {
	r, kv, tasks := newTestRouter(t)
	thread := model.ThreadKey{CompanyID: "acme/m1", ThreadKey: "task-4"}
	require.NoError(t, tasks.SaveTask(context.Background(), &model.Task{MandatePath: "acme/m1", TaskID: "task-4"}))
	require.NoError(t, tasks.SaveExecution(context.Background(), &model.Execution{
		MandatePath: "acme/m1", TaskID: "task-4", ExecutionID: "exec-4", Status: model.ExecutionRunning,
	}))

	state := workflow.PausedState{Status: "waiting_lpt", ExpectedLPT: "lpt-4", PausedAt: time.Now().Add(-time.Hour), ExecutionID: "exec-4"}
	raw, err := json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, kv.Set(context.Background(), "workflow_state:acme/m1:task-4", string(raw), 0))

	require.NoError(t, r.SweepTimeouts(context.Background()))

	// Resuming the workflow consumes its paused-state marker.
	_, ok, err := kv.Get(context.Background(), "workflow_state:acme/m1:task-4")
	require.NoError(t, err)
	assert.False(t, ok)
}
