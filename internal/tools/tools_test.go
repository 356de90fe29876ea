package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/infra/store/memstore"
	"github.com/kabsikabs/agentcore/internal/taskstore"
)

func testThread() model.ThreadKey {
	return model.ThreadKey{UserID: "u1", CompanyID: "c1", ThreadKey: "task-1"}
}

func seedExecution(t *testing.T, ts *taskstore.Store) {
	t.Helper()
	require.NoError(t, ts.SaveExecution(context.Background(), &model.Execution{
		MandatePath: "c1", TaskID: "task-1", ExecutionID: "exec-1",
		StartedAt: time.Now(), Status: model.ExecutionRunning,
		LPTTasks: map[string]model.LPTHandle{},
	}))
}

func TestRegistry_ToolsFor_MatchesModeTable(t *testing.T) {
	r := NewRegistry()
	assert.Contains(t, r.ToolsFor(model.ChatModeTask), ToolCreateChecklist)
	assert.Nil(t, r.ToolsFor(model.ChatModeFinance))
	assert.NotEmpty(t, r.ToolsFor(model.ChatModeGeneral))
}

func TestCreateChecklist_ThenUpdateStep_RespectsTransitionOrder(t *testing.T) {
	ts := taskstore.New(memstore.New())
	seedExecution(t, ts)
	r := NewRegistry()
	require.NoError(t, RegisterChecklistTools(r, ChecklistDeps{Tasks: ts}))

	res := r.Dispatch(context.Background(), Call{Name: ToolCreateChecklist, Args: map[string]any{
		"steps": []any{"gather data", "reconcile"},
	}}, testThread(), "exec-1")
	require.NoError(t, res.Err)
	require.Equal(t, "completed", res.Status)

	res = r.Dispatch(context.Background(), Call{Name: ToolUpdateStep, Args: map[string]any{
		"step_id": "step-1", "status": string(model.StepCompleted), "message": "done",
	}}, testThread(), "exec-1")
	require.NoError(t, res.Err)

	exec, err := ts.GetExecution(context.Background(), "task-1", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StepCompleted, exec.Checklist.Steps[0].Status)
	assert.Equal(t, 1, exec.Checklist.CurrentStep)
}

func TestUpdateStep_RejectsRegression(t *testing.T) {
	ts := taskstore.New(memstore.New())
	seedExecution(t, ts)
	r := NewRegistry()
	require.NoError(t, RegisterChecklistTools(r, ChecklistDeps{Tasks: ts}))

	r.Dispatch(context.Background(), Call{Name: ToolCreateChecklist, Args: map[string]any{
		"steps": []any{"gather data"},
	}}, testThread(), "exec-1")
	r.Dispatch(context.Background(), Call{Name: ToolUpdateStep, Args: map[string]any{
		"step_id": "step-1", "status": string(model.StepCompleted),
	}}, testThread(), "exec-1")

	res := r.Dispatch(context.Background(), Call{Name: ToolUpdateStep, Args: map[string]any{
		"step_id": "step-1", "status": string(model.StepInProgress),
	}}, testThread(), "exec-1")
	assert.Error(t, res.Err)
}

func TestTerminateTask_ClassifiesCompletedExecution(t *testing.T) {
	ts := taskstore.New(memstore.New())
	require.NoError(t, ts.SaveTask(context.Background(), &model.Task{MandatePath: "c1", TaskID: "task-1"}))
	seedExecution(t, ts)
	r := NewRegistry()
	require.NoError(t, RegisterChecklistTools(r, ChecklistDeps{Tasks: ts}))

	r.Dispatch(context.Background(), Call{Name: ToolCreateChecklist, Args: map[string]any{
		"steps": []any{"one step"},
	}}, testThread(), "exec-1")
	r.Dispatch(context.Background(), Call{Name: ToolUpdateStep, Args: map[string]any{
		"step_id": "step-1", "status": string(model.StepCompleted),
	}}, testThread(), "exec-1")

	res := r.Dispatch(context.Background(), Call{Name: ToolTerminateTask}, testThread(), "exec-1")
	require.NoError(t, res.Err)
	assert.Equal(t, "completed", res.Status)

	_, err := ts.GetExecution(context.Background(), "task-1", "exec-1")
	assert.Error(t, err) // execution is deleted once finalized

	task, err := ts.GetTask(context.Background(), "c1", "task-1")
	require.NoError(t, err)
	assert.NotEmpty(t, task.LastExecutionReport)
}

func TestFinalizeStatus(t *testing.T) {
	cases := []struct {
		name     string
		checklist model.Checklist
		want     model.ExecutionStatus
	}{
		{"no steps", model.Checklist{}, model.ExecutionCompleted},
		{"all completed", model.Checklist{TotalSteps: 2, Steps: []model.ChecklistStep{
			{Status: model.StepCompleted}, {Status: model.StepCompleted},
		}}, model.ExecutionCompleted},
		{"none completed", model.Checklist{TotalSteps: 2, Steps: []model.ChecklistStep{
			{Status: model.StepError}, {Status: model.StepPending},
		}}, model.ExecutionFailed},
		{"partial", model.Checklist{TotalSteps: 2, Steps: []model.ChecklistStep{
			{Status: model.StepCompleted}, {Status: model.StepError},
		}}, model.ExecutionPartial},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FinalizeStatus(tc.checklist))
		})
	}
}

func TestTerminateTask_OutsideExecutionIsANoOp(t *testing.T) {
	ts := taskstore.New(memstore.New())
	r := NewRegistry()
	require.NoError(t, RegisterChecklistTools(r, ChecklistDeps{Tasks: ts}))

	res := r.Dispatch(context.Background(), Call{Name: ToolTerminateTask}, testThread(), "")
	require.NoError(t, res.Err)
	assert.Equal(t, "completed", res.Status)
}
