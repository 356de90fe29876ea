// Package model holds agentcore's core entities (spec.md §3), kept as
// plain structs with no store or transport dependency so every component
// can share one vocabulary. Grounded on the teacher's domain/agent types
// (react/runtime.go, ports/llm.go), generalized from elephant.ai's
// chat-agent domain to this spec's session/thread/task/execution shape.
package model

import "time"

// SessionKey identifies a Session by (user_id, company_id).
type SessionKey struct {
	UserID    string
	CompanyID string
}

// Session is the per-user durable context (spec.md §3 "Session").
// Exclusively owned by the Session State Manager.
type Session struct {
	Key           SessionKey
	MandatePath   string
	Country       string
	Timezone      string
	Language      string
	DMSSystem     string
	JobMetrics    map[string]any
	ActiveThreads []ThreadKey
	Version       int // incremented on every write; no reader compares it
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ThreadKey identifies a Thread by (user_id, company_id, thread_key).
type ThreadKey struct {
	UserID    string
	CompanyID string
	ThreadKey string
}

func (k ThreadKey) String() string {
	return k.UserID + ":" + k.CompanyID + ":" + k.ThreadKey
}

// ChatMode selects the bound tool set for a Thread's Brain (spec.md §4.4).
type ChatMode string

const (
	ChatModeGeneral  ChatMode = "general"
	ChatModeTask     ChatMode = "task"
	ChatModeFinance  ChatMode = "finance"
	ChatModeHR       ChatMode = "hr"
)

// Thread holds the durable per-conversation state (spec.md §3 "Thread").
type Thread struct {
	Key             ThreadKey
	Messages        []Message
	SystemPrompt    string
	ChatMode        ChatMode
	ExecutionID     string // set when this thread is task-bound
	CreatedAt       time.Time
	LastActivityAt  time.Time
}

// MessageRole is who produced a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleToolResult MessageRole = "tool_result"
)

// MessageID is a monotonically increasing per-thread identifier.
type MessageID int64

// Message is a single Thread entry (spec.md §3 "Message"). Once written,
// a message's Content may only be extended (streaming), and only until
// Final becomes true.
type Message struct {
	ID        MessageID
	Role      MessageRole
	Content   string
	ToolName  string // set when Role == RoleToolResult or this is a tool call
	ToolCallID string
	Timestamp time.Time
	Final     bool
}

// ExecutionPlan is how a Task is triggered (spec.md §3 "Task").
type ExecutionPlan string

const (
	PlanScheduled ExecutionPlan = "SCHEDULED"
	PlanOneTime   ExecutionPlan = "ONE_TIME"
	PlanOnDemand  ExecutionPlan = "ON_DEMAND"
	PlanNow       ExecutionPlan = "NOW"
)

// TaskStatus is a Task's lifecycle state.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
)

// Schedule is a Task's cron-derived firing plan.
type Schedule struct {
	CronExpr            string
	Timezone            string
	Frequency           string
	DayOfWeek           string
	DayOfMonth          string
	TimeOfDay           string
	NextExecutionUTC    time.Time
	NextExecutionLocal  time.Time
}

// Task is a schedulable or on-demand unit of work (spec.md §3 "Task").
type Task struct {
	MandatePath       string
	TaskID            string
	ExecutionPlan     ExecutionPlan
	Title             string
	Description       string
	Plan              string
	Schedule          Schedule
	Status            TaskStatus
	Enabled           bool
	ExecutionCount    int
	LastExecutionReport string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SchedulerIndexEntry mirrors a Task's fields for efficient due-task
// scans (spec.md §3 "Scheduler Index Entry").
type SchedulerIndexEntry struct {
	JobID            string // slugified mandate_path/task_id
	MandatePath      string
	TaskID           string
	NextExecutionUTC time.Time
	Enabled          bool
}

// ExecutionStatus is an Execution's lifecycle state.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionPartial   ExecutionStatus = "partial"
)

// Execution is a single run of a Task (spec.md §3 "Execution"). Its
// thread_key equals the task id so history persists across executions of
// the same task.
type Execution struct {
	MandatePath string
	TaskID      string
	ExecutionID string
	StartedAt   time.Time
	UpdatedAt   time.Time
	Status      ExecutionStatus
	Checklist   Checklist
	LPTTasks    map[string]LPTHandle // keyed by lpt_id
}

// StepStatus is a Checklist step's state. Transitions respect the
// partial order pending -> in_progress -> {completed, error}; steps
// never regress (spec.md §3 "Checklist").
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepError      StepStatus = "error"
)

// ChecklistStep is one line item of a Checklist.
type ChecklistStep struct {
	ID        string
	Name      string
	Status    StepStatus
	Timestamp time.Time
	Message   string
}

// Checklist tracks an Execution's progress (spec.md §3 "Checklist").
type Checklist struct {
	TotalSteps  int
	CurrentStep int
	Steps       []ChecklistStep
}

// CanTransition reports whether a step may move from from to to under
// the checklist's monotone status ordering.
func CanTransition(from, to StepStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case StepPending:
		return to == StepInProgress || to == StepCompleted || to == StepError
	case StepInProgress:
		return to == StepCompleted || to == StepError
	default: // completed, error are terminal
		return false
	}
}

// LPTStatus is an LPT Handle's lifecycle state.
type LPTStatus string

const (
	LPTSubmitted LPTStatus = "submitted"
	LPTCompleted LPTStatus = "completed"
	LPTFailed    LPTStatus = "failed"
)

// LPTHandle tracks a long-processing-task dispatch awaiting a callback
// (spec.md §3 "LPT Handle"). Each LPTID receives at most one terminal
// callback that is honored; later callbacks are idempotent no-ops.
type LPTHandle struct {
	LPTID          string
	TaskType        string
	Status         LPTStatus
	CreatedAt      time.Time
	StepID         string
	SubmitPayload  map[string]any
	ResultPayload  map[string]any
}

func (h LPTHandle) Terminal() bool {
	return h.Status == LPTCompleted || h.Status == LPTFailed
}
