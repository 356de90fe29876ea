// Package llm defines the provider-agnostic completion port the
// Workflow Executor drives (spec.md §4.5: "llm.single_turn(history,
// system_prompt, tools)"). Grounded on the teacher's
// internal/domain/agent/ports/llm.go, trimmed to the fields the turn
// loop actually needs and renamed from the teacher's ReAct-specific
// vocabulary to this spec's turn-loop vocabulary.
package llm

import "context"

// Message is one entry of the conversation sent to the provider.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolResult *ToolResult
}

// ToolDefinition is a tool's declared schema, as presented to the LLM.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is one tool invocation the model requested.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult is a tool's outcome, fed back into the next turn.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// StopReason is why a single turn ended (spec.md §4.5's switch).
type StopReason string

const (
	StopToolUse  StopReason = "tool_use"
	StopEndTurn  StopReason = "end_turn"
)

// TokenUsage reports a turn's token accounting.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is one single_turn call.
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	Tools        []ToolDefinition
	Temperature  float64
	MaxTokens    int
	Metadata     map[string]any
}

// CompletionResponse is the provider's answer to one turn.
type CompletionResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      TokenUsage
}

// ContentDelta is one streamed fragment of an in-progress completion.
type ContentDelta struct {
	Delta string
	Final bool
}

// StreamCallbacks are optional hooks invoked while a turn streams.
type StreamCallbacks struct {
	OnContentDelta func(ContentDelta)
}

// Client is the provider-agnostic completion port.
type Client interface {
	// Model returns the configured model name, used in logs/spans/metrics.
	Model() string
	// SingleTurn runs one LLM turn, invoking callbacks.OnContentDelta as
	// content streams in when the caller wants incremental output.
	SingleTurn(ctx context.Context, req CompletionRequest, callbacks StreamCallbacks) (*CompletionResponse, error)
	// Summarize produces a condensed system-prompt replacement from a
	// message history, used by the Brain Cache's resummarization
	// protocol (spec.md §4.4).
	Summarize(ctx context.Context, messages []Message) (string, error)
}
