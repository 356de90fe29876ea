package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabsikabs/agentcore/internal/brain"
	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/history"
	"github.com/kabsikabs/agentcore/internal/infra/llm/stubllm"
	"github.com/kabsikabs/agentcore/internal/infra/store/memstore"
	"github.com/kabsikabs/agentcore/internal/llm"
	"github.com/kabsikabs/agentcore/internal/presence"
	"github.com/kabsikabs/agentcore/internal/scheduler"
	"github.com/kabsikabs/agentcore/internal/session"
	agentcoreerrors "github.com/kabsikabs/agentcore/internal/shared/errors"
	"github.com/kabsikabs/agentcore/internal/taskstore"
	"github.com/kabsikabs/agentcore/internal/tools"
	"github.com/kabsikabs/agentcore/internal/workflow"
	"github.com/kabsikabs/agentcore/internal/ws"
)

type fakeBinder struct{}

func (fakeBinder) ToolsFor(model.ChatMode) []string { return nil }

func newTestDeps(t *testing.T, client llm.Client) (*Deps, *memstore.Store) {
	t.Helper()
	kv := memstore.New()
	sessions, err := session.New(kv, nil, 0)
	require.NoError(t, err)
	hist := history.New(kv, 0)
	cache := brain.NewCache(fakeBinder{}, nil)
	hub := ws.NewHub(kv, nil, nil)
	tasks := taskstore.New(kv)
	executor := workflow.New(workflow.Executor{
		Sessions: sessions, History: hist, Brains: cache,
		Tools: tools.NewRegistry(), LLM: client, Hub: hub, Tasks: tasks, Store: kv,
	})
	sched := scheduler.New(kv, tasks, executor, nil, nil, nil, scheduler.Config{})
	reg := presence.New(kv, 0)

	return &Deps{
		Sessions: sessions, History: hist, Brains: cache, Executor: executor,
		Scheduler: sched, Presence: reg, Tasks: tasks,
	}, kv
}

func call(t *testing.T, h Handler, kwargs any) (any, error) {
	t.Helper()
	raw, err := json.Marshal(kwargs)
	require.NoError(t, err)
	return h(context.Background(), Request{Kwargs: raw})
}

func TestSendMessage_ReturnsChannelAndMessageIDs(t *testing.T) {
	client := stubllm.New("test-model", llm.CompletionResponse{Content: "hi there", StopReason: llm.StopEndTurn})
	deps, _ := newTestDeps(t, client)

	data, err := call(t, deps.sendMessage, map[string]any{
		"user": "u1", "company": "c1", "thread": "t1", "message": "hello",
	})
	require.NoError(t, err)

	result, ok := data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "chat:u1:c1:t1", result["ws_channel"])
	assert.Equal(t, model.MessageID(1), result["user_message_id"])
	assert.Equal(t, model.MessageID(2), result["assistant_message_id"])
}

func TestSendMessage_MissingFieldIsInvalidArgs(t *testing.T) {
	client := stubllm.New("test-model", llm.CompletionResponse{Content: "hi", StopReason: llm.StopEndTurn})
	deps, _ := newTestDeps(t, client)

	_, err := call(t, deps.sendMessage, map[string]any{"user": "u1"})
	require.Error(t, err)
	assert.Equal(t, agentcoreerrors.CodeInvalidArgs, agentcoreerrors.CodeFor(err))
}

func TestStopStreaming_NoInFlightTurnReturnsFalse(t *testing.T) {
	client := stubllm.New("test-model", llm.CompletionResponse{Content: "hi", StopReason: llm.StopEndTurn})
	deps, _ := newTestDeps(t, client)

	data, err := call(t, deps.stopStreaming, map[string]any{"user": "u1", "company": "c1", "thread": "t1"})
	require.NoError(t, err)
	result := data.(map[string]any)
	assert.False(t, result["stopped"].(bool))
}

func TestExecuteTaskNow_RunsTaskThroughScheduler(t *testing.T) {
	client := stubllm.New("test-model", llm.CompletionResponse{Content: "done", StopReason: llm.StopEndTurn})
	deps, kv := newTestDeps(t, client)
	_ = kv

	require.NoError(t, deps.Tasks.SaveTask(context.Background(), &model.Task{
		MandatePath: "acme/m1", TaskID: "task-1", ExecutionPlan: model.PlanOnDemand,
		Description: "check the mailbox", Enabled: true,
	}))

	data, err := call(t, deps.executeTaskNow, map[string]any{
		"mandate_path": "acme/m1", "task_id": "task-1",
	})
	require.NoError(t, err)
	result := data.(map[string]any)
	assert.Equal(t, "end_turn", result["outcome"])
}

func TestFlushChatHistory_ClearsHistoryAndBrain(t *testing.T) {
	client := stubllm.New("test-model", llm.CompletionResponse{Content: "hi", StopReason: llm.StopEndTurn})
	deps, _ := newTestDeps(t, client)

	thread := model.ThreadKey{UserID: "u1", CompanyID: "c1", ThreadKey: "t1"}
	_, err := deps.History.Append(context.Background(), thread, model.Message{Role: model.RoleUser, Content: "hi"})
	require.NoError(t, err)

	_, err = call(t, deps.flushChatHistory, map[string]any{"user": "u1", "company": "c1", "thread": "t1"})
	require.NoError(t, err)

	msgs, err := deps.History.Load(context.Background(), thread)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRegisterUserAndHeartbeat(t *testing.T) {
	client := stubllm.New("test-model", llm.CompletionResponse{Content: "hi", StopReason: llm.StopEndTurn})
	deps, _ := newTestDeps(t, client)

	_, err := call(t, deps.registerUser, map[string]any{"user": "u1", "company": "c1", "session_id": "s1"})
	require.NoError(t, err)

	data, err := call(t, deps.heartbeat, map[string]any{"user": "u1", "session_id": "s1"})
	require.NoError(t, err)
	result := data.(map[string]any)
	assert.True(t, result["alive"].(bool))
}

func TestTaskCreate_ScheduledPlanWritesIndexEntry(t *testing.T) {
	client := stubllm.New("test-model", llm.CompletionResponse{Content: "hi", StopReason: llm.StopEndTurn})
	deps, kv := newTestDeps(t, client)

	_, err := call(t, deps.taskCreate, map[string]any{
		"mandate_path": "acme/m1", "task_id": "task-9", "execution_plan": "SCHEDULED",
		"schedule": map[string]any{"cron_expr": "0 9 * * *", "timezone": "UTC"},
	})
	require.NoError(t, err)

	keys, err := kv.Scan(context.Background(), "sched_index:*")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestTaskList_ReturnsSavedTasks(t *testing.T) {
	client := stubllm.New("test-model", llm.CompletionResponse{Content: "hi", StopReason: llm.StopEndTurn})
	deps, _ := newTestDeps(t, client)
	require.NoError(t, deps.Tasks.SaveTask(context.Background(), &model.Task{MandatePath: "acme/m1", TaskID: "task-1"}))
	require.NoError(t, deps.Tasks.SaveTask(context.Background(), &model.Task{MandatePath: "acme/m1", TaskID: "task-2"}))

	data, err := call(t, deps.taskList, map[string]any{"mandate_path": "acme/m1"})
	require.NoError(t, err)
	result := data.(map[string]any)
	assert.Len(t, result["tasks"], 2)
}

