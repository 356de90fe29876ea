package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabsikabs/agentcore/internal/brain"
	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/history"
	"github.com/kabsikabs/agentcore/internal/infra/llm/stubllm"
	"github.com/kabsikabs/agentcore/internal/infra/rtdb/memrtdb"
	"github.com/kabsikabs/agentcore/internal/infra/store/memstore"
	"github.com/kabsikabs/agentcore/internal/llm"
	"github.com/kabsikabs/agentcore/internal/taskstore"
	"github.com/kabsikabs/agentcore/internal/tools"
	"github.com/kabsikabs/agentcore/internal/ws"
)

type fakeBinder struct{ names []string }

func (f fakeBinder) ToolsFor(model.ChatMode) []string { return f.names }

func testThread() model.ThreadKey {
	return model.ThreadKey{UserID: "u1", CompanyID: "c1", ThreadKey: "t1"}
}

func newExecutor(t *testing.T, client llm.Client, registry *tools.Registry) (*Executor, *history.Manager) {
	t.Helper()
	kv := memstore.New()
	hist := history.New(kv, 0)
	cache := brain.NewCache(fakeBinder{}, nil)
	hub := ws.NewHub(kv, nil, nil)

	sess := &fakeSessions{}

	exec := New(Executor{
		Sessions: sess,
		History:  hist,
		Brains:   cache,
		Tools:    registry,
		LLM:      client,
		Hub:      hub,
		Tasks:    taskstore.New(kv),
		Store:    kv,
	})
	return exec, hist
}

type fakeSessions struct{}

func (fakeSessions) Get(context.Context, model.SessionKey) (*model.Session, error) { return nil, nil }

func TestRun_MirrorsFinalMessageToRTDB(t *testing.T) {
	kv := memstore.New()
	hist := history.New(kv, 0)
	cache := brain.NewCache(fakeBinder{}, nil)
	hub := ws.NewHub(kv, nil, nil)
	writer := memrtdb.New()

	client := stubllm.New("test-model", llm.CompletionResponse{Content: "mirrored reply", StopReason: llm.StopEndTurn})
	exec := New(Executor{
		Sessions: &fakeSessions{},
		History:  hist,
		Brains:   cache,
		Tools:    tools.NewRegistry(),
		LLM:      client,
		Hub:      hub,
		Tasks:    taskstore.New(kv),
		Store:    kv,
		RTDB:     writer,
	})

	outcome, err := exec.Run(context.Background(), RunInput{
		Thread: testThread(), ChatMode: model.ChatModeGeneral,
		Trigger: TriggerUserMessage, UserMessage: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEndTurn, outcome)

	mirrored := writer.Messages(testThread())
	require.Len(t, mirrored, 1)
	assert.Equal(t, "mirrored reply", mirrored[0].Content)
}

func TestRun_UserMessage_EndsTurnImmediately(t *testing.T) {
	client := stubllm.New("test-model", llm.CompletionResponse{Content: "hi there", StopReason: llm.StopEndTurn})
	exec, hist := newExecutor(t, client, tools.NewRegistry())

	outcome, err := exec.Run(context.Background(), RunInput{
		Thread: testThread(), ChatMode: model.ChatModeGeneral,
		Trigger: TriggerUserMessage, UserMessage: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEndTurn, outcome)

	msgs, err := hist.Load(context.Background(), testThread())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi there", msgs[1].Content)
	assert.True(t, msgs[1].Final)
}

func TestRun_LPTToolCall_PausesWorkflow(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.Definition{
		Name: tools.ToolLPTBanker, Kind: tools.KindLPT,
		Handler: func(ctx context.Context, call tools.Call, thread model.ThreadKey, executionID string) tools.CallResult {
			return tools.CallResult{Status: "submitted", LPTID: "lpt-123"}
		},
	}))

	client := stubllm.New("test-model", llm.CompletionResponse{
		Content: "dispatching", StopReason: llm.StopToolUse,
		ToolCalls: []llm.ToolCall{{ID: "call-1", Name: tools.ToolLPTBanker}},
	})
	exec, _ := newExecutor(t, client, registry)

	outcome, err := exec.Run(context.Background(), RunInput{
		Thread: testThread(), ChatMode: model.ChatModeGeneral,
		Trigger: TriggerUserMessage, UserMessage: "pay this invoice",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomePausedOnLPT, outcome)

	state, ok, err := exec.ReadPauseState(context.Background(), testThread())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lpt-123", state.ExpectedLPT)
}

func TestRun_TerminateTask_ReturnsTerminated(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.Definition{
		Name: tools.ToolTerminateTask, Kind: tools.KindSPT,
		Handler: func(ctx context.Context, call tools.Call, thread model.ThreadKey, executionID string) tools.CallResult {
			return tools.CallResult{Status: "completed"}
		},
	}))
	client := stubllm.New("test-model", llm.CompletionResponse{
		StopReason: llm.StopToolUse,
		ToolCalls:  []llm.ToolCall{{ID: "call-1", Name: tools.ToolTerminateTask}},
	})
	exec, _ := newExecutor(t, client, registry)

	outcome, err := exec.Run(context.Background(), RunInput{
		Thread: testThread(), ChatMode: model.ChatModeTask,
		Trigger: TriggerTaskInit, Mission: "do the thing", ExecutionID: "exec-1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTerminated, outcome)
}

func TestRun_ConcurrentCallsOnSameThread_SecondIsRejected(t *testing.T) {
	blocker := make(chan struct{})
	registry := tools.NewRegistry()
	client := &blockingClient{model: "test-model", release: blocker}
	exec, _ := newExecutor(t, client, registry)

	done := make(chan error, 1)
	go func() {
		_, err := exec.Run(context.Background(), RunInput{
			Thread: testThread(), ChatMode: model.ChatModeGeneral,
			Trigger: TriggerUserMessage, UserMessage: "first",
		})
		done <- err
	}()

	// Give the first Run a chance to acquire the thread lock.
	time.Sleep(20 * time.Millisecond)
	_, err := exec.Run(context.Background(), RunInput{
		Thread: testThread(), ChatMode: model.ChatModeGeneral,
		Trigger: TriggerUserMessage, UserMessage: "second",
	})
	assert.Error(t, err)

	close(blocker)
	require.NoError(t, <-done)
}

func TestRequestStop_SealsPartialMessageAndEndsTurn(t *testing.T) {
	started := make(chan struct{})
	client := &cancelAwareClient{model: "test-model", started: started}
	exec, hist := newExecutor(t, client, tools.NewRegistry())

	done := make(chan error, 1)
	go func() {
		_, err := exec.Run(context.Background(), RunInput{
			Thread: testThread(), ChatMode: model.ChatModeGeneral,
			Trigger: TriggerUserMessage, UserMessage: "hello",
		})
		done <- err
	}()

	<-started
	assert.True(t, exec.RequestStop(testThread()))
	require.NoError(t, <-done)

	msgs, err := hist.Load(context.Background(), testThread())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, StreamTruncationMarker, msgs[1].Content)
	assert.True(t, msgs[1].Final)
}

func TestRequestStop_NoInFlightTurnReturnsFalse(t *testing.T) {
	client := stubllm.New("test-model", llm.CompletionResponse{Content: "hi", StopReason: llm.StopEndTurn})
	exec, _ := newExecutor(t, client, tools.NewRegistry())
	assert.False(t, exec.RequestStop(testThread()))
}

type cancelAwareClient struct {
	model   string
	started chan struct{}
}

func (c *cancelAwareClient) Model() string { return c.model }

func (c *cancelAwareClient) SingleTurn(ctx context.Context, req llm.CompletionRequest, cb llm.StreamCallbacks) (*llm.CompletionResponse, error) {
	close(c.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *cancelAwareClient) Summarize(context.Context, []llm.Message) (string, error) { return "", nil }

type blockingClient struct {
	model   string
	release chan struct{}
}

func (c *blockingClient) Model() string { return c.model }

func (c *blockingClient) SingleTurn(ctx context.Context, req llm.CompletionRequest, cb llm.StreamCallbacks) (*llm.CompletionResponse, error) {
	<-c.release
	return &llm.CompletionResponse{Content: "done", StopReason: llm.StopEndTurn}, nil
}

func (c *blockingClient) Summarize(context.Context, []llm.Message) (string, error) { return "", nil }
