// Core-owned RPC method handlers (spec.md §6's table), wiring the
// gateway to the Session State Manager, Chat History Manager, Brain
// Cache, Workflow Executor, Task Scheduler, and Presence Registry.
// Grounded on the teacher's per-route handler functions in
// internal/delivery/server/http/api_handler.go, which each decode a
// narrow request struct and call straight into one domain service.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kabsikabs/agentcore/internal/brain"
	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/history"
	"github.com/kabsikabs/agentcore/internal/presence"
	"github.com/kabsikabs/agentcore/internal/scheduler"
	"github.com/kabsikabs/agentcore/internal/session"
	agentcoreerrors "github.com/kabsikabs/agentcore/internal/shared/errors"
	"github.com/kabsikabs/agentcore/internal/taskstore"
	"github.com/kabsikabs/agentcore/internal/workflow"
	"github.com/kabsikabs/agentcore/internal/ws"
)

// Deps are the components the core-owned methods dispatch into. All
// fields are required except Scheduler, which is nil in deployments that
// run the gateway without a local scheduler instance (e.g. a pure API
// replica behind the leader-elected tick loop running elsewhere).
type Deps struct {
	Sessions  *session.Manager
	History   *history.Manager
	Brains    *brain.Cache
	Executor  *workflow.Executor
	Scheduler *scheduler.Scheduler
	Presence  *presence.Registry
	Tasks     *taskstore.Store
}

// Register binds every core-owned method (spec.md §6's table) onto g.
func Register(g *Gateway, d Deps) {
	g.Register("LLM.send_message", d.sendMessage)
	g.Register("LLM.stop_streaming", d.stopStreaming)
	g.Register("LLM.execute_task_now", d.executeTaskNow)
	g.Register("LLM.load_chat_history", d.loadChatHistory)
	g.Register("LLM.flush_chat_history", d.flushChatHistory)
	g.Register("REGISTRY.register_user", d.registerUser)
	g.Register("REGISTRY.unregister_session", d.unregisterSession)
	g.Register("REGISTRY.heartbeat", d.heartbeat)
	g.Register("TASK.list", d.taskList)
	g.Register("TASK.get", d.taskGet)
	g.Register("TASK.create", d.taskCreate)
	g.Register("TASK.delete", d.taskDelete)
}

// decodeArgs decodes req's payload into v, preferring kwargs (named
// parameters) over args (positional), mirroring how the teacher's own
// JSON-RPC-flavored handlers accept either shape.
func decodeArgs(req Request, v any) error {
	raw := req.Kwargs
	if len(raw) == 0 {
		raw = req.Args
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return agentcoreerrors.Wrapf(agentcoreerrors.ErrValidation, "rpc: decode args: %v", err)
	}
	return nil
}

func requireFields(fields map[string]string) error {
	for name, val := range fields {
		if val == "" {
			return agentcoreerrors.Wrapf(agentcoreerrors.ErrValidation, "rpc: missing required field %q", name)
		}
	}
	return nil
}

// --- LLM.* -------------------------------------------------------------

type sendMessageArgs struct {
	User         string `json:"user"`
	Company      string `json:"company"`
	Thread       string `json:"thread"`
	Message      string `json:"message"`
	ChatMode     string `json:"chat_mode"`
	SystemPrompt string `json:"system_prompt"`
}

// sendMessage runs a user-initiated turn loop (spec.md §6: LLM.send_message).
func (d *Deps) sendMessage(ctx context.Context, req Request) (any, error) {
	var a sendMessageArgs
	if err := decodeArgs(req, &a); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]string{"user": a.User, "company": a.Company, "thread": a.Thread, "message": a.Message}); err != nil {
		return nil, err
	}

	mode := model.ChatMode(a.ChatMode)
	if mode == "" {
		mode = model.ChatModeGeneral
	}
	thread := model.ThreadKey{UserID: a.User, CompanyID: a.Company, ThreadKey: a.Thread}
	sessionKey := model.SessionKey{UserID: a.User, CompanyID: a.Company}

	if _, err := d.Sessions.Ensure(ctx, sessionKey); err != nil {
		return nil, agentcoreerrors.Wrapf(err, "rpc: ensure session for %s/%s", a.User, a.Company)
	}
	if err := d.Sessions.BindThread(ctx, sessionKey, thread); err != nil {
		return nil, agentcoreerrors.Wrapf(err, "rpc: bind thread %s", thread)
	}

	before, err := d.History.Load(ctx, thread)
	if err != nil {
		return nil, agentcoreerrors.Wrapf(err, "rpc: load history for %s", thread)
	}

	outcome, err := d.Executor.Run(ctx, workflow.RunInput{
		Thread: thread, ChatMode: mode,
		Trigger: workflow.TriggerUserMessage, UserMessage: a.Message,
	})
	if err != nil {
		return nil, err
	}

	after, err := d.History.Load(ctx, thread)
	if err != nil {
		return nil, agentcoreerrors.Wrapf(err, "rpc: reload history for %s", thread)
	}

	var userMessageID, assistantMessageID model.MessageID
	if len(after) > len(before) {
		userMessageID = after[len(before)].ID
	}
	if len(after) > 0 {
		assistantMessageID = after[len(after)-1].ID
	}

	return map[string]any{
		"ws_channel":           ws.ChannelName(thread),
		"user_message_id":      userMessageID,
		"assistant_message_id": assistantMessageID,
		"outcome":              outcome.String(),
	}, nil
}

type stopStreamingArgs struct {
	User    string `json:"user"`
	Company string `json:"company"`
	Thread  string `json:"thread"`
}

// stopStreaming cancels the in-flight turn for thread (spec.md §5
// "Cancellation"). Per the Open Question this decides: when thread is
// omitted, every thread currently bound to the (user, company) session
// is asked to stop, since the caller only knows which user/company it is
// acting on, not which of their threads is mid-stream.
func (d *Deps) stopStreaming(ctx context.Context, req Request) (any, error) {
	var a stopStreamingArgs
	if err := decodeArgs(req, &a); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]string{"user": a.User, "company": a.Company}); err != nil {
		return nil, err
	}

	if a.Thread != "" {
		thread := model.ThreadKey{UserID: a.User, CompanyID: a.Company, ThreadKey: a.Thread}
		stopped := d.Executor.RequestStop(thread)
		return map[string]any{"stopped": stopped}, nil
	}

	sess, err := d.Sessions.Get(ctx, model.SessionKey{UserID: a.User, CompanyID: a.Company})
	if err != nil {
		return nil, err
	}
	stoppedAny := false
	for _, thread := range sess.ActiveThreads {
		if d.Executor.RequestStop(thread) {
			stoppedAny = true
		}
	}
	return map[string]any{"stopped": stoppedAny}, nil
}

type executeTaskNowArgs struct {
	MandatePath string `json:"mandate_path"`
	TaskID      string `json:"task_id"`
	User        string `json:"user"`
	Company     string `json:"company"`
}

// executeTaskNow runs the ON_DEMAND trigger (spec.md §6: LLM.execute_task_now).
func (d *Deps) executeTaskNow(ctx context.Context, req Request) (any, error) {
	var a executeTaskNowArgs
	if err := decodeArgs(req, &a); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]string{"mandate_path": a.MandatePath, "task_id": a.TaskID}); err != nil {
		return nil, err
	}
	if d.Scheduler == nil {
		return nil, fmt.Errorf("rpc: execute_task_now: no scheduler wired on this instance")
	}
	outcome, err := d.Scheduler.ExecuteNow(ctx, a.MandatePath, a.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"outcome": outcome.String()}, nil
}

type loadChatHistoryArgs struct {
	User     string          `json:"user"`
	Company  string          `json:"company"`
	Thread   string          `json:"thread"`
	ChatMode string          `json:"chat_mode"`
	History  []model.Message `json:"history"`
}

// loadChatHistory rehydrates a Brain from stored history (spec.md §6:
// LLM.load_chat_history). When the thread has no stored history yet and
// the caller supplied a history payload (e.g. importing from an external
// record), that payload seeds the store before the Brain is warmed.
func (d *Deps) loadChatHistory(ctx context.Context, req Request) (any, error) {
	var a loadChatHistoryArgs
	if err := decodeArgs(req, &a); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]string{"user": a.User, "company": a.Company, "thread": a.Thread}); err != nil {
		return nil, err
	}
	thread := model.ThreadKey{UserID: a.User, CompanyID: a.Company, ThreadKey: a.Thread}

	msgs, err := d.History.Load(ctx, thread)
	if err != nil {
		return nil, agentcoreerrors.Wrapf(err, "rpc: load history for %s", thread)
	}
	if len(msgs) == 0 && len(a.History) > 0 {
		for _, m := range a.History {
			if _, err := d.History.Append(ctx, thread, m); err != nil {
				return nil, agentcoreerrors.Wrapf(err, "rpc: seed history for %s", thread)
			}
		}
		msgs = a.History
	}

	mode := model.ChatMode(a.ChatMode)
	if mode == "" {
		mode = model.ChatModeGeneral
	}
	b := d.Brains.GetOrCreate(thread, mode, "")
	for _, m := range msgs {
		b.Account(m.Content)
	}

	return map[string]any{"thread_key": a.Thread, "message_count": len(msgs)}, nil
}

type flushChatHistoryArgs struct {
	User    string `json:"user"`
	Company string `json:"company"`
	Thread  string `json:"thread"`
}

// flushChatHistory evicts the Brain and clears the thread's history
// (spec.md §6: LLM.flush_chat_history).
func (d *Deps) flushChatHistory(ctx context.Context, req Request) (any, error) {
	var a flushChatHistoryArgs
	if err := decodeArgs(req, &a); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]string{"user": a.User, "company": a.Company, "thread": a.Thread}); err != nil {
		return nil, err
	}
	thread := model.ThreadKey{UserID: a.User, CompanyID: a.Company, ThreadKey: a.Thread}
	d.Brains.Evict(thread)
	if err := d.History.Clear(ctx, thread); err != nil {
		return nil, agentcoreerrors.Wrapf(err, "rpc: clear history for %s", thread)
	}
	return map[string]any{"ok": true}, nil
}

// --- REGISTRY.* ----------------------------------------------------------

type registerUserArgs struct {
	User      string `json:"user"`
	Company   string `json:"company"`
	SessionID string `json:"session_id"`
}

func (d *Deps) registerUser(ctx context.Context, req Request) (any, error) {
	var a registerUserArgs
	if err := decodeArgs(req, &a); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]string{"user": a.User, "company": a.Company, "session_id": a.SessionID}); err != nil {
		return nil, err
	}
	if err := d.Presence.RegisterUser(ctx, a.User, a.Company, a.SessionID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

type sessionIDArgs struct {
	User      string `json:"user"`
	SessionID string `json:"session_id"`
}

func (d *Deps) unregisterSession(ctx context.Context, req Request) (any, error) {
	var a sessionIDArgs
	if err := decodeArgs(req, &a); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]string{"user": a.User, "session_id": a.SessionID}); err != nil {
		return nil, err
	}
	if err := d.Presence.UnregisterSession(ctx, a.User, a.SessionID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (d *Deps) heartbeat(ctx context.Context, req Request) (any, error) {
	var a sessionIDArgs
	if err := decodeArgs(req, &a); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]string{"user": a.User, "session_id": a.SessionID}); err != nil {
		return nil, err
	}
	alive, err := d.Presence.Heartbeat(ctx, a.User, a.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"alive": alive}, nil
}

// --- TASK.* --------------------------------------------------------------

type mandateArgs struct {
	MandatePath string `json:"mandate_path"`
}

func (d *Deps) taskList(ctx context.Context, req Request) (any, error) {
	var a mandateArgs
	if err := decodeArgs(req, &a); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]string{"mandate_path": a.MandatePath}); err != nil {
		return nil, err
	}
	tasks, err := d.Tasks.ListTasks(ctx, a.MandatePath)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tasks": tasks}, nil
}

type taskGetArgs struct {
	MandatePath string `json:"mandate_path"`
	TaskID      string `json:"task_id"`
}

func (d *Deps) taskGet(ctx context.Context, req Request) (any, error) {
	var a taskGetArgs
	if err := decodeArgs(req, &a); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]string{"mandate_path": a.MandatePath, "task_id": a.TaskID}); err != nil {
		return nil, err
	}
	task, err := d.Tasks.GetTask(ctx, a.MandatePath, a.TaskID)
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (d *Deps) taskDelete(ctx context.Context, req Request) (any, error) {
	var a taskGetArgs
	if err := decodeArgs(req, &a); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]string{"mandate_path": a.MandatePath, "task_id": a.TaskID}); err != nil {
		return nil, err
	}
	if err := d.Tasks.DeleteTask(ctx, a.MandatePath, a.TaskID); err != nil {
		return nil, err
	}
	if err := d.Tasks.DeleteIndexEntry(ctx, taskstore.Slug(a.MandatePath, a.TaskID)); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

// scheduleArgs mirrors model.Schedule with the snake_case wire names the
// rest of this file's request structs use (model.Schedule itself carries
// no json tags, since its own marshaling only ever happens between Go
// processes through taskstore, never over the RPC wire directly).
type scheduleArgs struct {
	CronExpr string `json:"cron_expr"`
	Timezone string `json:"timezone"`
}

func (s scheduleArgs) toModel() model.Schedule {
	return model.Schedule{CronExpr: s.CronExpr, Timezone: s.Timezone}
}

type taskCreateArgs struct {
	MandatePath   string       `json:"mandate_path"`
	TaskID        string       `json:"task_id"`
	ExecutionPlan string       `json:"execution_plan"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Plan          string       `json:"plan"`
	Schedule      scheduleArgs `json:"schedule"`
}

// taskCreate writes a Task and, for SCHEDULED/ONE_TIME plans, the
// scheduler index entry the Task Scheduler's due-task scan reads
// (spec.md §4.6 step 1, §6 "Persistent data layout").
func (d *Deps) taskCreate(ctx context.Context, req Request) (any, error) {
	var a taskCreateArgs
	if err := decodeArgs(req, &a); err != nil {
		return nil, err
	}
	if err := requireFields(map[string]string{
		"mandate_path": a.MandatePath, "task_id": a.TaskID, "execution_plan": a.ExecutionPlan,
	}); err != nil {
		return nil, err
	}

	plan := model.ExecutionPlan(a.ExecutionPlan)
	now := time.Now()
	task := &model.Task{
		MandatePath: a.MandatePath, TaskID: a.TaskID, ExecutionPlan: plan,
		Title: a.Title, Description: a.Description, Plan: a.Plan, Schedule: a.Schedule.toModel(),
		Status: model.TaskActive, Enabled: true, CreatedAt: now, UpdatedAt: now,
	}

	if plan == model.PlanScheduled || plan == model.PlanOneTime {
		next, err := scheduler.NextFireUTC(a.Schedule.CronExpr, a.Schedule.Timezone, now)
		if err != nil {
			return nil, agentcoreerrors.Wrapf(agentcoreerrors.ErrValidation, "rpc: invalid cron schedule: %v", err)
		}
		task.Schedule.NextExecutionUTC = next
	}

	if err := d.Tasks.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	if plan == model.PlanScheduled || plan == model.PlanOneTime {
		entry := model.SchedulerIndexEntry{
			JobID: taskstore.Slug(a.MandatePath, a.TaskID), MandatePath: a.MandatePath,
			TaskID: a.TaskID, NextExecutionUTC: task.Schedule.NextExecutionUTC, Enabled: true,
		}
		if err := d.Tasks.UpsertIndexEntry(ctx, entry); err != nil {
			return nil, err
		}
	}
	return task, nil
}
