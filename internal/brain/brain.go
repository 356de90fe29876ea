// Package brain implements the Brain Cache (spec.md §4.4): an in-memory,
// per-thread projection of Thread + Session + bound tool set, with token
// budget accounting and resummarization. Grounded on the teacher's
// TaskState/ReactEngine split (react/runtime.go, react/solve.go) -
// Brain here plays the TaskState role, generalized to carry its own tool
// binding and token counter instead of receiving them from a
// per-request Services struct.
package brain

import (
	"sync"
	"time"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/metrics"
	"github.com/kabsikabs/agentcore/internal/shared/token"
)

// DefaultSoftTokenBudget is the point at which a Brain is resummarized
// instead of growing unbounded (spec.md §4.4).
const DefaultSoftTokenBudget = 80_000

// ToolBinder resolves the tool set bound to a chat mode. Implemented by
// internal/tools.
type ToolBinder interface {
	ToolsFor(mode model.ChatMode) []string
}

// Brain is the live projection of one thread (spec.md §3 "Brain"). At
// most one Brain exists per thread key per process instance.
type Brain struct {
	mu sync.Mutex

	Thread       model.ThreadKey
	ChatMode     model.ChatMode
	Tools        []string
	SystemPrompt string

	tokenCount     int
	streamingActive bool
	activeExecutionID string

	lastTouched time.Time
}

func newBrain(thread model.ThreadKey, mode model.ChatMode, tools []string, systemPrompt string) *Brain {
	return &Brain{
		Thread:       thread,
		ChatMode:     mode,
		Tools:        tools,
		SystemPrompt: systemPrompt,
		lastTouched:  time.Now(),
	}
}

// TokenCount returns the brain's running token estimate.
func (b *Brain) TokenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokenCount
}

// Account adds text's token count to the running total and returns the
// new total.
func (b *Brain) Account(text string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenCount += token.CountTokens(text)
	b.lastTouched = time.Now()
	return b.tokenCount
}

// NeedsResummarization reports whether the brain's token count has
// crossed softBudget.
func (b *Brain) NeedsResummarization(softBudget int) bool {
	if softBudget <= 0 {
		softBudget = DefaultSoftTokenBudget
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokenCount >= softBudget
}

// Resummarize replaces the system prompt with a condensed summary and
// resets the token counter to the summary's own cost. Idempotent: calling
// it again before new content accrues is a cheap no-op since the counter
// starts back under budget.
func (b *Brain) Resummarize(summary string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SystemPrompt = summary
	b.tokenCount = token.CountTokens(summary)
}

// SetStreaming marks whether this brain has an active in-flight stream.
func (b *Brain) SetStreaming(active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamingActive = active
}

// IsStreaming reports the brain's streaming flag.
func (b *Brain) IsStreaming() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamingActive
}

// BindExecution records the task execution this brain is resumed from,
// or clears it when executionID == "".
func (b *Brain) BindExecution(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeExecutionID = executionID
}

// ExecutionID returns the bound task execution id, if any.
func (b *Brain) ExecutionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeExecutionID
}

// Cache is the Brain Cache: a process-local registry of Brain instances
// keyed by thread, held in a mutex-guarded map with no capacity bound.
// Entries are removed only by an explicit Evict.
type Cache struct {
	mu      sync.Mutex
	brains  map[string]*Brain
	binder  ToolBinder
	metrics *metrics.Metrics
}

// NewCache builds an empty Brain Cache. metrics may be nil in tests.
func NewCache(binder ToolBinder, m *metrics.Metrics) *Cache {
	return &Cache{brains: make(map[string]*Brain), binder: binder, metrics: m}
}

// GetOrCreate returns the Brain for thread, creating it (bound to mode's
// tool set and systemPrompt) if this is the first access.
func (c *Cache) GetOrCreate(thread model.ThreadKey, mode model.ChatMode, systemPrompt string) *Brain {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := thread.String()
	if b, ok := c.brains[key]; ok {
		return b
	}
	var tools []string
	if c.binder != nil {
		tools = c.binder.ToolsFor(mode)
	}
	b := newBrain(thread, mode, tools, systemPrompt)
	c.brains[key] = b
	if c.metrics != nil {
		c.metrics.ActiveBrains.Set(float64(len(c.brains)))
	}
	return b
}

// Get returns the Brain for thread if one is cached.
func (c *Cache) Get(thread model.ThreadKey) (*Brain, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.brains[thread.String()]
	return b, ok
}

// Evict drops the cached Brain for thread, e.g. on thread deletion or
// after an idle timeout sweep.
func (c *Cache) Evict(thread model.ThreadKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.brains, thread.String())
	if c.metrics != nil {
		c.metrics.ActiveBrains.Set(float64(len(c.brains)))
	}
}

// Len reports how many brains are currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.brains)
}
