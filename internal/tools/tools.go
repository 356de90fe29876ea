// Package tools implements the turn loop's tool contract (spec.md §4.5,
// §6): a declarative registry of SPT (short-process, inline) and LPT
// (long-process, worker-dispatched) tools. Grounded on the teacher's
// ports/tools.ToolExecutor/ToolRegistry interfaces
// (internal/agent/ports/tools/interfaces.go), generalized from the
// teacher's single-executor-per-tool registry into one that also knows
// the SPT/LPT distinction the turn loop needs to decide whether to pause.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/kabsikabs/agentcore/internal/domain/model"
)

// Kind distinguishes inline tools from worker-dispatched ones.
type Kind int

const (
	KindSPT Kind = iota
	KindLPT
)

// CallResult is what a tool handler returns to the turn loop.
type CallResult struct {
	Status  string // "completed" for SPT; "submitted" for an accepted LPT dispatch
	LPTID   string // set when Status == "submitted"
	Output  any
	Err     error
}

// Call is a single tool invocation requested by the LLM.
type Call struct {
	ID     string
	Name   string
	Args   map[string]any
}

// Handler executes one tool call. thread/executionID let the handler
// address Execution-scoped state (checklist updates, termination).
type Handler func(ctx context.Context, call Call, thread model.ThreadKey, executionID string) CallResult

// Definition is a tool's declared schema plus its dispatch handler.
type Definition struct {
	Name        string
	Kind        Kind
	Description string
	InputSchema map[string]any
	Handler     Handler
}

// Names of the SPT tools named in spec.md §6's RPC table and §4.6's
// scheduler-facing checklist tools.
const (
	ToolSearchDocs       = "SEARCH_DOCS"
	ToolReadTaskHistory  = "READ_TASK_HISTORY"
	ToolGetJobMetrics    = "GET_JOB_METRICS"
	ToolCreateChecklist  = "CREATE_CHECKLIST"
	ToolUpdateStep       = "UPDATE_STEP"
	ToolTerminateTask    = "TERMINATE_TASK"
)

// Names of the LPT tools (worker departments) named in spec.md §4.
const (
	ToolLPTRouter     = "LPT_ROUTER"
	ToolLPTBookkeeper = "LPT_BOOKKEEPER"
	ToolLPTBanker     = "LPT_BANKER"
	ToolLPTHR         = "LPT_HR"
)

// Registry holds every tool agentcore knows how to dispatch and mirrors
// the teacher's ToolRegistry (Register/Get/Unregister/List).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Definition)}
}

// Register adds a tool definition, failing if the name is already taken.
func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tools: %q already registered", def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// Get returns the named tool definition.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// fullSuite and the specialized-mode tool sets implement brain.ToolBinder
// (spec.md §4.5's mode/tool table).
var fullSuite = []string{
	ToolSearchDocs, ToolReadTaskHistory, ToolGetJobMetrics,
	ToolLPTRouter, ToolLPTBookkeeper, ToolLPTBanker, ToolLPTHR,
}

var taskExecutionSuite = append(append([]string{}, fullSuite...), ToolCreateChecklist, ToolUpdateStep, ToolTerminateTask)

// ToolsFor implements brain.ToolBinder, resolving the bound tool set for
// a chat mode per spec.md §4.5's mode table.
func (r *Registry) ToolsFor(mode model.ChatMode) []string {
	switch mode {
	case model.ChatModeTask:
		return taskExecutionSuite
	case model.ChatModeFinance, model.ChatModeHR:
		// apbookeeper_chat / router_chat / banker_chat-style specialized
		// sub-roles: agent cannot call tools.
		return nil
	default:
		return fullSuite
	}
}

// List returns every registered tool's Definition, for building an LLM
// request's tool list.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def)
	}
	return out
}

// Dispatch runs the named tool's handler, or returns an error result if
// it isn't registered.
func (r *Registry) Dispatch(ctx context.Context, call Call, thread model.ThreadKey, executionID string) CallResult {
	def, ok := r.Get(call.Name)
	if !ok {
		return CallResult{Status: "failed", Err: fmt.Errorf("tools: unknown tool %q", call.Name)}
	}
	return def.Handler(ctx, call, thread, executionID)
}

// IsLPT reports whether name is one of the worker-dispatched tools.
func (r *Registry) IsLPT(name string) bool {
	def, ok := r.Get(name)
	return ok && def.Kind == KindLPT
}
