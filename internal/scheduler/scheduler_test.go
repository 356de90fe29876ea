package scheduler

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
	"github.com/kabsikabs/agentcore/internal/infra/store/memstore"
	"github.com/kabsikabs/agentcore/internal/llm"
	"github.com/kabsikabs/agentcore/internal/taskstore"
	"github.com/kabsikabs/agentcore/internal/tools"
	"github.com/kabsikabs/agentcore/internal/workflow"
	"github.com/kabsikabs/agentcore/internal/ws"
)

type fakeBinder struct{ names []string }

func (f fakeBinder) ToolsFor(model.ChatMode) []string { return f.names }

type fakeSessions struct{}

func (fakeSessions) Get(context.Context, model.SessionKey) (*model.Session, error) { return nil, nil }

func newTestExecutor(t *testing.T, kv *memstore.Store, tasks *taskstore.Store) *workflow.Executor {
	t.Helper()
	hist := history.New(kv, 0)
	cache := brain.NewCache(fakeBinder{}, nil)
	hub := ws.NewHub(kv, nil, nil)
	client := stubllm.New("test-model", llm.CompletionResponse{Content: "done", StopReason: llm.StopEndTurn})
	return workflow.New(workflow.Executor{
		Sessions: fakeSessions{},
		History:  hist,
		Brains:   cache,
		Tools:    tools.NewRegistry(),
		LLM:      client,
		Hub:      hub,
		Tasks:    tasks,
		Store:    kv,
	})
}

func TestScheduler_Dispatch_OneTimeTask_CompletesAndClearsIndex(t *testing.T) {
	kv := memstore.New()
	tasks := taskstore.New(kv)
	executor := newTestExecutor(t, kv, tasks)
	s := New(kv, tasks, executor, nil, nil, nil, Config{})

	task := &model.Task{
		MandatePath: "acme/mandates/m1", TaskID: "task-1",
		ExecutionPlan: model.PlanOneTime, Description: "send the report", Enabled: true, Status: model.TaskActive,
	}
	require.NoError(t, tasks.SaveTask(context.Background(), task))

	entry := model.SchedulerIndexEntry{
		JobID: taskstore.Slug(task.MandatePath, task.TaskID), MandatePath: task.MandatePath,
		TaskID: task.TaskID, NextExecutionUTC: time.Now().Add(-time.Minute), Enabled: true,
	}
	require.NoError(t, tasks.UpsertIndexEntry(context.Background(), entry))

	require.NoError(t, s.dispatch(context.Background(), entry))

	saved, err := tasks.GetTask(context.Background(), task.MandatePath, task.TaskID)
	require.NoError(t, err)
	assert.False(t, saved.Enabled)
	assert.Equal(t, model.TaskCompleted, saved.Status)

	due, err := tasks.DueEntries(context.Background(), time.Now().Add(time.Hour).Unix())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestScheduler_Dispatch_ScheduledTask_AdvancesNextFire(t *testing.T) {
	kv := memstore.New()
	tasks := taskstore.New(kv)
	executor := newTestExecutor(t, kv, tasks)
	s := New(kv, tasks, executor, nil, nil, nil, Config{})

	prevFire := time.Now().Add(-time.Minute).UTC()
	task := &model.Task{
		MandatePath: "acme/mandates/m1", TaskID: "task-2",
		ExecutionPlan: model.PlanScheduled, Description: "daily digest", Enabled: true, Status: model.TaskActive,
		Schedule: model.Schedule{CronExpr: "*/5 * * * *", Timezone: "UTC", NextExecutionUTC: prevFire},
	}
	require.NoError(t, tasks.SaveTask(context.Background(), task))

	entry := model.SchedulerIndexEntry{
		JobID: taskstore.Slug(task.MandatePath, task.TaskID), MandatePath: task.MandatePath,
		TaskID: task.TaskID, NextExecutionUTC: prevFire, Enabled: true,
	}
	require.NoError(t, tasks.UpsertIndexEntry(context.Background(), entry))

	require.NoError(t, s.dispatch(context.Background(), entry))

	saved, err := tasks.GetTask(context.Background(), task.MandatePath, task.TaskID)
	require.NoError(t, err)
	assert.True(t, saved.Enabled)
	assert.Equal(t, 1, saved.ExecutionCount)
	assert.True(t, saved.Schedule.NextExecutionUTC.After(prevFire))
}

func TestScheduler_Tick_SkipsWhenLockHeld(t *testing.T) {
	kv := memstore.New()
	tasks := taskstore.New(kv)
	executor := newTestExecutor(t, kv, tasks)
	s := New(kv, tasks, executor, nil, nil, nil, Config{})

	held, err := kv.SetNX(context.Background(), TickLockKey, "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	// tick should return promptly without touching anything since the
	// lock is already held by another instance.
	s.tick(context.Background())

	holder, ok, err := kv.Get(context.Background(), TickLockKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "someone-else", holder)
}

func TestNextFireUTC_StrictlyAfter(t *testing.T) {
	after := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	next, err := NextFireUTC("0 9 * * *", "UTC", after)
	require.NoError(t, err)
	assert.True(t, next.After(after))
	assert.Equal(t, 9, next.Hour())
}

func TestScheduler_ExecuteNow_DoesNotTouchIndex(t *testing.T) {
	kv := memstore.New()
	tasks := taskstore.New(kv)
	executor := newTestExecutor(t, kv, tasks)
	s := New(kv, tasks, executor, nil, nil, nil, Config{})

	task := &model.Task{
		MandatePath: "acme/mandates/m1", TaskID: "task-3",
		ExecutionPlan: model.PlanOnDemand, Description: "run now", Enabled: true, Status: model.TaskActive,
	}
	require.NoError(t, tasks.SaveTask(context.Background(), task))

	outcome, err := s.ExecuteNow(context.Background(), task.MandatePath, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeEndTurn, outcome)

	due, err := tasks.DueEntries(context.Background(), time.Now().Add(time.Hour).Unix())
	require.NoError(t, err)
	assert.Empty(t, due)
}
