// Package stubllm is a scripted llm.Client used by tests exercising the
// Workflow Executor without a real provider.
package stubllm

import (
	"context"
	"sync"

	"github.com/kabsikabs/agentcore/internal/llm"
)

// Client replays a fixed sequence of responses, one per SingleTurn call.
// Calling it more times than there are scripted responses returns the
// last response again.
type Client struct {
	mu        sync.Mutex
	responses []llm.CompletionResponse
	calls     int
	model     string
}

// New builds a Client that returns responses in order.
func New(model string, responses ...llm.CompletionResponse) *Client {
	return &Client{model: model, responses: responses}
}

func (c *Client) Model() string { return c.model }

func (c *Client) SingleTurn(_ context.Context, req llm.CompletionRequest, callbacks llm.StreamCallbacks) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	resp := c.responses[idx]
	c.mu.Unlock()

	if callbacks.OnContentDelta != nil && resp.Content != "" {
		callbacks.OnContentDelta(llm.ContentDelta{Delta: resp.Content, Final: true})
	}
	return &resp, nil
}

func (c *Client) Summarize(_ context.Context, messages []llm.Message) (string, error) {
	return "summary of prior conversation", nil
}

// Calls reports how many turns have been requested.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var _ llm.Client = (*Client)(nil)
