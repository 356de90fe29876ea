// Package workflow implements the Workflow Executor (spec.md §4.5), the
// turn-loop algorithm at the center of the system. Grounded on the
// teacher's react.ReactEngine.SolveTask / reactRuntime.run (solve.go,
// runtime.go): the same think -> dispatch-tools -> loop shape, adapted
// from the teacher's exception-free TaskResult return into this spec's
// sum-typed Outcome, and from the teacher's single LLM port into one
// that also knows which tool calls are LPT dispatches that must pause
// the loop.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kabsikabs/agentcore/internal/brain"
	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/history"
	agentcoreerrors "github.com/kabsikabs/agentcore/internal/shared/errors"
	"github.com/kabsikabs/agentcore/internal/llm"
	"github.com/kabsikabs/agentcore/internal/shared/logging"
	"github.com/kabsikabs/agentcore/internal/shared/tracing"
	"github.com/kabsikabs/agentcore/internal/store"
	"github.com/kabsikabs/agentcore/internal/taskstore"
	"github.com/kabsikabs/agentcore/internal/tools"
	"github.com/kabsikabs/agentcore/internal/ws"
	"github.com/kabsikabs/agentcore/internal/metrics"
	"github.com/kabsikabs/agentcore/internal/rtdb"
)

// MaxTurns bounds a single Run call (spec.md §4.5).
const MaxTurns = 10

// DefaultMaxWait is how long a paused workflow waits for an LPT callback
// before the watchdog resumes it with a synthetic timeout (spec.md §4.7).
const DefaultMaxWait = 30 * time.Minute

// Outcome is the turn loop's terminal state (spec.md §4.5).
type Outcome int

const (
	OutcomeEndTurn Outcome = iota
	OutcomePausedOnLPT
	OutcomeTerminated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEndTurn:
		return "end_turn"
	case OutcomePausedOnLPT:
		return "paused_on_lpt"
	case OutcomeTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// TriggerKind is one of the three ways a turn loop run is started
// (spec.md §4.5: T1 user message, T2 task-execution init, T3 LPT
// callback resumption).
type TriggerKind int

const (
	TriggerUserMessage TriggerKind = iota
	TriggerTaskInit
	TriggerLPTCallback
)

// RunInput parameterizes one Run call.
type RunInput struct {
	Thread      model.ThreadKey
	ChatMode    model.ChatMode
	Trigger     TriggerKind
	ExecutionID string // set for TriggerTaskInit / TriggerLPTCallback

	// UserMessage is the new user turn for TriggerUserMessage.
	UserMessage string
	// Mission seeds the initial user message for TriggerTaskInit.
	Mission string
	// ContinuationMessage is the synthesized resumption message for
	// TriggerLPTCallback (spec.md §4.7 step 6).
	ContinuationMessage string
}

// PausedState is persisted at workflow_state:{company}:{thread} while a
// workflow awaits an LPT callback (spec.md §4.5 "Pause/resume semantics").
type PausedState struct {
	Status      string    `json:"status"`
	ExpectedLPT string    `json:"expected_lpt"`
	PausedAt    time.Time `json:"paused_at"`
	ExecutionID string    `json:"execution_id"`
}

func workflowStateKey(thread model.ThreadKey) string {
	return "workflow_state:" + thread.CompanyID + ":" + thread.ThreadKey
}

// ReadPauseState returns the paused-on-LPT marker for thread, if one
// exists.
func (e *Executor) ReadPauseState(ctx context.Context, thread model.ThreadKey) (PausedState, bool, error) {
	raw, ok, err := e.Store.Get(ctx, workflowStateKey(thread))
	if err != nil || !ok {
		return PausedState{}, false, err
	}
	var state PausedState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return PausedState{}, false, agentcoreerrors.Wrapf(err, "workflow: decode paused state")
	}
	return state, true, nil
}

// systemPrompts maps chat mode to its base prompt name (spec.md §4.4
// lists general, apbookeeper_chat, router_chat, banker_chat,
// onboarding_chat, task_execution, lpt_callback).
var systemPrompts = map[model.ChatMode]string{
	model.ChatModeGeneral: "general",
	model.ChatModeTask:    "task_execution",
	model.ChatModeFinance: "banker_chat",
	model.ChatModeHR:      "apbookeeper_chat",
}

func systemPromptFor(mode model.ChatMode) string {
	if p, ok := systemPrompts[mode]; ok {
		return p
	}
	return "general"
}

// Executor runs the turn loop. One Executor instance is shared by every
// RPC handler, scheduler tick, and LPT callback in the process.
type Executor struct {
	Sessions interface {
		Get(ctx context.Context, key model.SessionKey) (*model.Session, error)
	}
	History *history.Manager
	Brains  *brain.Cache
	Tools   *tools.Registry
	LLM     llm.Client
	Hub     *ws.Hub
	Tasks   *taskstore.Store
	Store   store.Store
	Metrics *metrics.Metrics
	Logger  logging.Logger
	// RTDB mirrors finalized messages to the document store (SPEC_FULL.md
	// §4.[ADD]); nil disables mirroring, used by tests that don't care.
	RTDB rtdb.Writer

	MaxTurns        int
	SoftTokenBudget int

	mu      sync.Mutex
	busy    map[string]bool
	cancels map[string]context.CancelFunc
}

// StreamTruncationMarker is appended to a final assistant message sealed
// by RequestStop (spec.md §5 "Cancellation").
const StreamTruncationMarker = " [interrupted]"

// New builds an Executor with spec.md §4.5/§4.4 defaults applied where
// the caller left fields at their zero value.
func New(e Executor) *Executor {
	if e.MaxTurns <= 0 {
		e.MaxTurns = MaxTurns
	}
	if e.SoftTokenBudget <= 0 {
		e.SoftTokenBudget = brain.DefaultSoftTokenBudget
	}
	e.Logger = logging.OrNop(e.Logger)
	e.busy = make(map[string]bool)
	e.cancels = make(map[string]context.CancelFunc)
	return &e
}

func (e *Executor) tryLockThread(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy[key] {
		return false
	}
	e.busy[key] = true
	return true
}

func (e *Executor) unlockThread(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.busy, key)
}

func (e *Executor) registerCancel(key string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[key] = cancel
}

func (e *Executor) clearCancel(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, key)
}

// RequestStop cancels the in-flight LLM turn for thread, if one is
// running (spec.md §5 "Cancellation"). The turn's accumulated content is
// sealed with StreamTruncationMarker and EventStreamInterrupted is
// broadcast; Run itself returns OutcomeEndTurn as if the turn had ended
// naturally. Returns false if no turn was in flight for thread.
func (e *Executor) RequestStop(thread model.ThreadKey) bool {
	key := thread.String()
	e.mu.Lock()
	cancel, ok := e.cancels[key]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Run executes the turn loop for in, serializing concurrent calls on the
// same thread (spec.md §4.5 "Concurrency within a thread"): a second
// caller is rejected with ErrThreadBusy rather than queued, since the
// spec leaves the exact synchronization strategy open and only requires
// well-defined history ordering.
func (e *Executor) Run(ctx context.Context, in RunInput) (outcome Outcome, err error) {
	busyKey := in.Thread.String()
	if !e.tryLockThread(busyKey) {
		return 0, agentcoreerrors.ErrThreadBusy
	}
	defer e.unlockThread(busyKey)

	ctx, span := tracing.Start(ctx, tracing.SpanWorkflowRun,
		attribute.String(tracing.AttrThread, busyKey),
		attribute.String(tracing.AttrChatMode, string(in.ChatMode)),
		attribute.Int(tracing.AttrTrigger, int(in.Trigger)),
	)
	defer func() {
		span.SetAttributes(attribute.String(tracing.AttrOutcome, outcome.String()))
		tracing.End(span, err)
	}()

	ctx, cancel := context.WithCancel(ctx)
	e.registerCancel(busyKey, cancel)
	defer func() {
		cancel()
		e.clearCancel(busyKey)
	}()

	b := e.Brains.GetOrCreate(in.Thread, in.ChatMode, systemPromptFor(in.ChatMode))
	if in.ExecutionID != "" {
		b.BindExecution(in.ExecutionID)
	}

	switch in.Trigger {
	case TriggerUserMessage:
		if _, err := e.History.Append(ctx, in.Thread, model.Message{Role: model.RoleUser, Content: in.UserMessage}); err != nil {
			return 0, agentcoreerrors.Wrapf(err, "workflow: append user message")
		}
		b.Account(in.UserMessage)
	case TriggerTaskInit:
		if _, err := e.History.Append(ctx, in.Thread, model.Message{Role: model.RoleUser, Content: in.Mission}); err != nil {
			return 0, agentcoreerrors.Wrapf(err, "workflow: append mission")
		}
		b.Account(in.Mission)
	case TriggerLPTCallback:
		_ = e.Store.Del(ctx, workflowStateKey(in.Thread))
		if _, err := e.History.Append(ctx, in.Thread, model.Message{Role: model.RoleUser, Content: in.ContinuationMessage}); err != nil {
			return 0, agentcoreerrors.Wrapf(err, "workflow: append continuation")
		}
		b.Account(in.ContinuationMessage)
	}

	channel := ws.ChannelName(in.Thread)
	uiConnected := e.Hub != nil && e.Hub.IsConnected(channel)

	maxTurns := e.MaxTurns
	if maxTurns <= 0 {
		maxTurns = MaxTurns
	}

	for turn := 1; turn <= maxTurns; turn++ {
		if b.NeedsResummarization(e.SoftTokenBudget) {
			e.resummarize(ctx, in.Thread, b)
		}

		msgs, err := e.History.Load(ctx, in.Thread)
		if err != nil {
			return 0, agentcoreerrors.Wrapf(err, "workflow: load history")
		}

		resp, err := e.singleTurn(ctx, b, msgs, in.Thread, channel, uiConnected)
		if err != nil {
			return 0, agentcoreerrors.Wrapf(err, "workflow: llm turn %d", turn)
		}
		b.Account(resp.Content)

		switch resp.StopReason {
		case llm.StopToolUse:
			outcome, done, err := e.handleToolCalls(ctx, in, b, resp.ToolCalls)
			if err != nil {
				return 0, err
			}
			if done {
				if e.Metrics != nil {
					e.Metrics.TurnsTotal.WithLabelValues(outcome.String()).Inc()
				}
				return outcome, nil
			}
		case llm.StopEndTurn:
			if e.Metrics != nil {
				e.Metrics.TurnsTotal.WithLabelValues(OutcomeEndTurn.String()).Inc()
			}
			return OutcomeEndTurn, nil
		default:
			return 0, fmt.Errorf("workflow: unrecognized stop reason %q", resp.StopReason)
		}
	}

	if e.Metrics != nil {
		e.Metrics.TurnsTotal.WithLabelValues(OutcomeEndTurn.String()).Inc()
	}
	return OutcomeEndTurn, nil
}

// singleTurn runs one LLM turn and streams it if the thread has a live
// UI subscriber, writing exactly one final history record either way
// (spec.md §4.5 "Streaming").
func (e *Executor) singleTurn(ctx context.Context, b *brain.Brain, msgs []model.Message, thread model.ThreadKey, channel string, uiConnected bool) (*llm.CompletionResponse, error) {
	req := llm.CompletionRequest{
		Messages:     toLLMMessages(msgs),
		SystemPrompt: b.SystemPrompt,
		Tools:        toLLMTools(b.Tools, e.Tools),
	}

	placeholderID, err := e.History.Append(ctx, thread, model.Message{Role: model.RoleAssistant, Content: ""})
	if err != nil {
		return nil, err
	}

	var seq int
	var accumulated string
	callbacks := llm.StreamCallbacks{}
	if uiConnected {
		_ = e.Hub.Publish(ctx, channel, ws.Event{Type: ws.EventStreamStart, Data: map[string]any{
			"message_id": placeholderID, "thread_key": thread.ThreadKey, "space_code": thread.CompanyID, "timestamp": time.Now(),
		}})
		callbacks.OnContentDelta = func(delta llm.ContentDelta) {
			if delta.Delta == "" {
				return
			}
			accumulated += delta.Delta
			seq++
			_ = e.History.AppendStreamChunk(ctx, thread, placeholderID, delta.Delta)
			_ = e.Hub.Publish(ctx, channel, ws.Event{Type: ws.EventStreamChunk, Data: map[string]any{
				"message_id": placeholderID, "chunk": delta.Delta, "accumulated": accumulated, "is_final": delta.Final, "seq": seq,
			}})
		}
	}

	b.SetStreaming(true)
	resp, err := e.LLM.SingleTurn(ctx, req, callbacks)
	b.SetStreaming(false)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// RequestStop (spec.md §5 "Cancellation"): seal the partial
			// assistant message instead of failing the turn.
			sealed := accumulated + StreamTruncationMarker
			publishCtx := context.Background()
			if werr := e.History.AppendStreamChunk(publishCtx, thread, placeholderID, StreamTruncationMarker); werr != nil {
				return nil, werr
			}
			if werr := e.History.FinalizeStream(publishCtx, thread, placeholderID); werr != nil {
				return nil, werr
			}
			if uiConnected {
				_ = e.Hub.Publish(publishCtx, channel, ws.Event{Type: ws.EventStreamInterrupted, Data: map[string]any{
					"message_id": placeholderID, "accumulated": sealed,
				}})
			}
			if e.RTDB != nil {
				if werr := e.RTDB.WriteFinalMessage(publishCtx, rtdb.FinalMessage{
					Thread: thread, MessageID: placeholderID, Role: model.RoleAssistant, Content: sealed,
				}); werr != nil {
					e.Logger.Warn("workflow: mirror interrupted message for %s failed: %v", thread, werr)
				}
			}
			return &llm.CompletionResponse{Content: sealed, StopReason: llm.StopEndTurn}, nil
		}
		if uiConnected {
			_ = e.Hub.Publish(ctx, channel, ws.Event{Type: ws.EventStreamError, Data: map[string]any{"message_id": placeholderID, "error": err.Error()}})
		}
		return nil, err
	}

	if !uiConnected {
		// Headless: the only write is the final content.
		if err := e.History.AppendStreamChunk(ctx, thread, placeholderID, resp.Content); err != nil {
			return nil, err
		}
	}
	if err := e.History.FinalizeStream(ctx, thread, placeholderID); err != nil {
		return nil, err
	}
	if e.RTDB != nil {
		if err := e.RTDB.WriteFinalMessage(ctx, rtdb.FinalMessage{
			Thread: thread, MessageID: placeholderID, Role: model.RoleAssistant, Content: resp.Content,
		}); err != nil {
			e.Logger.Warn("workflow: mirror final message for %s failed: %v", thread, err)
		}
	}
	if uiConnected {
		_ = e.Hub.Publish(ctx, channel, ws.Event{Type: ws.EventStreamComplete, Data: map[string]any{
			"message_id": placeholderID,
			"full_content": resp.Content,
			"metadata": map[string]any{
				"tokens_used":  resp.Usage.TotalTokens,
				"model":        e.LLM.Model(),
				"status":       "completed",
				"completed_at": time.Now(),
			},
		}})
	}
	return resp, nil
}

// handleToolCalls dispatches every tool call in a tool_use turn,
// returning (outcome, true) if the loop must stop (LPT pause or
// termination) or (_, false) to continue looping.
func (e *Executor) handleToolCalls(ctx context.Context, in RunInput, b *brain.Brain, calls []llm.ToolCall) (Outcome, bool, error) {
	for _, call := range calls {
		result := e.Tools.Dispatch(ctx, tools.Call{ID: call.ID, Name: call.Name, Args: call.Args}, in.Thread, b.ExecutionID())
		if e.Metrics != nil {
			kind := "spt"
			if e.Tools.IsLPT(call.Name) {
				kind = "lpt"
			}
			e.Metrics.ToolCallsTotal.WithLabelValues(call.Name, kind).Inc()
		}

		content := fmt.Sprintf("%v", result.Output)
		if result.Err != nil {
			content = result.Err.Error()
		}
		if _, err := e.History.Append(ctx, in.Thread, model.Message{
			Role: model.RoleToolResult, ToolName: call.Name, ToolCallID: call.ID, Content: content,
		}); err != nil {
			return 0, false, agentcoreerrors.Wrapf(err, "workflow: append tool result")
		}
		b.Account(content)

		if e.Tools.IsLPT(call.Name) && result.Status == "submitted" {
			if err := e.persistPauseState(ctx, in.Thread, result.LPTID, b.ExecutionID()); err != nil {
				return 0, false, err
			}
			if e.Metrics != nil {
				e.Metrics.LPTPausedTotal.Inc()
			}
			return OutcomePausedOnLPT, true, nil
		}
		if call.Name == tools.ToolTerminateTask {
			return OutcomeTerminated, true, nil
		}
	}
	return 0, false, nil
}

func (e *Executor) persistPauseState(ctx context.Context, thread model.ThreadKey, lptID, executionID string) error {
	state := PausedState{
		Status:      "waiting_lpt",
		ExpectedLPT: lptID,
		PausedAt:    time.Now(),
		ExecutionID: executionID,
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return agentcoreerrors.Wrapf(err, "workflow: encode paused state")
	}
	return e.Store.Set(ctx, workflowStateKey(thread), string(raw), 0)
}

func (e *Executor) resummarize(ctx context.Context, thread model.ThreadKey, b *brain.Brain) {
	msgs, err := e.History.Load(ctx, thread)
	if err != nil {
		e.Logger.Warn("workflow: resummarize load history for %s failed: %v", thread, err)
		return
	}
	summary, err := e.LLM.Summarize(ctx, toLLMMessages(msgs))
	if err != nil {
		e.Logger.Warn("workflow: resummarize %s failed: %v", thread, err)
		return
	}
	b.Resummarize(summary)
	if e.Metrics != nil {
		e.Metrics.ResummarizeTotal.Inc()
	}
}

func toLLMMessages(msgs []model.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func toLLMTools(names []string, reg *tools.Registry) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		if def, ok := reg.Get(name); ok {
			out = append(out, llm.ToolDefinition{Name: def.Name, Description: def.Description, InputSchema: def.InputSchema})
		}
	}
	return out
}
