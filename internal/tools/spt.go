package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/metrics"
	"github.com/kabsikabs/agentcore/internal/shared/logging"
	"github.com/kabsikabs/agentcore/internal/taskstore"
)

// ChecklistDeps wires the task-execution SPT tools (CREATE_CHECKLIST,
// UPDATE_STEP, TERMINATE_TASK) to their backing store. Per spec.md §4.6,
// a task-execution thread's key equals its task id, so handlers resolve
// the Execution via (thread.ThreadKey, executionID).
type ChecklistDeps struct {
	Tasks   *taskstore.Store
	Metrics *metrics.Metrics
	Logger  logging.Logger
}

// RegisterChecklistTools registers CREATE_CHECKLIST, UPDATE_STEP, and
// TERMINATE_TASK against r.
func RegisterChecklistTools(r *Registry, deps ChecklistDeps) error {
	deps.Logger = logging.OrNop(deps.Logger)
	if err := r.Register(Definition{
		Name: ToolCreateChecklist, Kind: KindSPT,
		Description: "Create the execution checklist for this task run.",
		Handler:     createChecklistHandler(deps),
	}); err != nil {
		return err
	}
	if err := r.Register(Definition{
		Name: ToolUpdateStep, Kind: KindSPT,
		Description: "Update a checklist step's status.",
		Handler:     updateStepHandler(deps),
	}); err != nil {
		return err
	}
	if err := r.Register(Definition{
		Name: ToolTerminateTask, Kind: KindSPT,
		Description: "End the current turn loop, finalizing the task execution if one is active.",
		Handler:     terminateTaskHandler(deps),
	}); err != nil {
		return err
	}
	return nil
}

func stepNamesFromArgs(call Call) []string {
	raw, ok := call.Args["steps"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			names = append(names, s)
		}
	}
	return names
}

func createChecklistHandler(deps ChecklistDeps) Handler {
	return func(ctx context.Context, call Call, thread model.ThreadKey, executionID string) CallResult {
		if executionID == "" {
			return CallResult{Status: "failed", Err: fmt.Errorf("tools: CREATE_CHECKLIST called outside a task execution")}
		}
		taskID := thread.ThreadKey
		exec, err := deps.Tasks.GetExecution(ctx, taskID, executionID)
		if err != nil {
			return CallResult{Status: "failed", Err: err}
		}

		names := stepNamesFromArgs(call)
		steps := make([]model.ChecklistStep, 0, len(names))
		for i, name := range names {
			steps = append(steps, model.ChecklistStep{
				ID:        fmt.Sprintf("step-%d", i+1),
				Name:      name,
				Status:    model.StepPending,
				Timestamp: time.Now(),
			})
		}
		exec.Checklist = model.Checklist{TotalSteps: len(steps), CurrentStep: 0, Steps: steps}
		exec.UpdatedAt = time.Now()
		if err := deps.Tasks.SaveExecution(ctx, exec); err != nil {
			return CallResult{Status: "failed", Err: err}
		}
		if deps.Metrics != nil {
			deps.Metrics.ChecklistStepsTotal.WithLabelValues(string(model.StepPending)).Add(float64(len(steps)))
		}
		return CallResult{Status: "completed", Output: exec.Checklist}
	}
}

func updateStepHandler(deps ChecklistDeps) Handler {
	return func(ctx context.Context, call Call, thread model.ThreadKey, executionID string) CallResult {
		if executionID == "" {
			return CallResult{Status: "failed", Err: fmt.Errorf("tools: UPDATE_STEP called outside a task execution")}
		}
		taskID := thread.ThreadKey
		exec, err := deps.Tasks.GetExecution(ctx, taskID, executionID)
		if err != nil {
			return CallResult{Status: "failed", Err: err}
		}

		stepID, _ := call.Args["step_id"].(string)
		statusStr, _ := call.Args["status"].(string)
		message, _ := call.Args["message"].(string)
		newStatus := model.StepStatus(statusStr)

		found := false
		for i := range exec.Checklist.Steps {
			step := &exec.Checklist.Steps[i]
			if step.ID != stepID {
				continue
			}
			found = true
			if !model.CanTransition(step.Status, newStatus) {
				return CallResult{Status: "failed", Err: fmt.Errorf("tools: illegal checklist transition %s -> %s", step.Status, newStatus)}
			}
			step.Status = newStatus
			step.Message = message
			step.Timestamp = time.Now()
			if newStatus == model.StepCompleted || newStatus == model.StepError {
				exec.Checklist.CurrentStep++
			}
			break
		}
		if !found {
			return CallResult{Status: "failed", Err: fmt.Errorf("tools: unknown checklist step %q", stepID)}
		}
		exec.UpdatedAt = time.Now()
		if err := deps.Tasks.SaveExecution(ctx, exec); err != nil {
			return CallResult{Status: "failed", Err: err}
		}
		if deps.Metrics != nil {
			deps.Metrics.ChecklistStepsTotal.WithLabelValues(statusStr).Inc()
		}
		return CallResult{Status: "completed", Output: exec.Checklist}
	}
}

// FinalizeStatus classifies an Execution's terminal status from its
// checklist (spec.md §4.5: "classify final status (completed / failed /
// partial based on completed vs total steps and presence of errored
// steps)").
func FinalizeStatus(checklist model.Checklist) model.ExecutionStatus {
	if checklist.TotalSteps == 0 {
		return model.ExecutionCompleted
	}
	completed, errored := 0, 0
	for _, step := range checklist.Steps {
		switch step.Status {
		case model.StepCompleted:
			completed++
		case model.StepError:
			errored++
		}
	}
	switch {
	case errored == 0 && completed == checklist.TotalSteps:
		return model.ExecutionCompleted
	case completed == 0:
		return model.ExecutionFailed
	default:
		return model.ExecutionPartial
	}
}

func terminateTaskHandler(deps ChecklistDeps) Handler {
	return func(ctx context.Context, call Call, thread model.ThreadKey, executionID string) CallResult {
		if executionID == "" {
			// Outside a task execution, TERMINATE_TASK simply ends the turn.
			return CallResult{Status: "completed", Output: "terminated"}
		}
		taskID := thread.ThreadKey
		exec, err := deps.Tasks.GetExecution(ctx, taskID, executionID)
		if err != nil {
			return CallResult{Status: "failed", Err: err}
		}
		status := FinalizeStatus(exec.Checklist)

		// ExecutionCount is bumped once per fire by the scheduler's
		// reschedule path, not here, so a SCHEDULED task that terminates
		// itself doesn't get counted twice (spec.md §8).
		task, err := deps.Tasks.GetTask(ctx, exec.MandatePath, taskID)
		if err != nil {
			deps.Logger.Warn("tools: terminate_task: load task %s for finalize report: %v", taskID, err)
			return CallResult{Status: "failed", Err: err}
		}
		completedSteps := 0
		for _, step := range exec.Checklist.Steps {
			if step.Status == model.StepCompleted {
				completedSteps++
			}
		}
		task.LastExecutionReport = fmt.Sprintf(
			"execution %s: %s (%d/%d steps completed)",
			executionID, status, completedSteps, exec.Checklist.TotalSteps,
		)
		task.UpdatedAt = time.Now()
		if err := deps.Tasks.SaveTask(ctx, task); err != nil {
			deps.Logger.Warn("tools: terminate_task: save task %s finalize report: %v", taskID, err)
			return CallResult{Status: "failed", Err: err}
		}

		// Only delete the Execution once its report is durably written;
		// spec.md §7 leaves it in place on finalization failure so a
		// subsequent sweep can retry.
		if err := deps.Tasks.DeleteExecution(ctx, taskID, executionID); err != nil {
			deps.Logger.Warn("tools: terminate_task: delete execution %s: %v", executionID, err)
			return CallResult{Status: "failed", Err: err}
		}
		return CallResult{Status: "completed", Output: string(status)}
	}
}
