package types

import "time"

// TaskPriority defines the scheduling priority of a task.
type TaskPriority string

const (
	// PriorityCritical is dequeued before everything else.
	PriorityCritical TaskPriority = "critical"
	// PriorityHigh is dequeued before normal and low tasks.
	PriorityHigh TaskPriority = "high"
	// PriorityNormal is the default priority.
	PriorityNormal TaskPriority = "normal"
	// PriorityLow is dequeued last.
	PriorityLow TaskPriority = "low"
)

// Rank returns the numeric rank of a priority; lower ranks dequeue first.
// Unknown priorities rank as normal.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// PriorityLevels is the number of distinct priority levels.
const PriorityLevels = 4

// TaskType tags the kind of work a task carries.
type TaskType string

const (
	// TaskTypeTool is a tool invocation routed through the fallback chain.
	TaskTypeTool TaskType = "tool_call"
	// TaskTypeLocal is an orchestrator-native capability, handled in-process.
	TaskTypeLocal TaskType = "local"
	// TaskTypeUnknown is the forward-compatibility variant; unknown tasks are
	// rejected before they reach the fallback chain.
	TaskTypeUnknown TaskType = "unknown"
)

// ParseTaskType maps a wire string onto a known task type.
func ParseTaskType(s string) TaskType {
	switch TaskType(s) {
	case TaskTypeTool, TaskTypeLocal:
		return TaskType(s)
	case "":
		return TaskTypeTool
	default:
		return TaskTypeUnknown
	}
}

// Task is a single unit of automation work routed to a backend.
// All fields are immutable after creation except RetriesLeft, which the
// fallback chain decrements on each fallback hop.
type Task struct {
	ID             string         `json:"id"`
	Type           TaskType       `json:"type"`
	ToolName       string         `json:"tool_name"`
	Args           map[string]any `json:"args,omitempty"`
	Priority       TaskPriority   `json:"priority"`
	Timeout        time.Duration  `json:"timeout_ms"`
	RetriesAllowed int            `json:"retries_allowed"`
	RetriesLeft    int            `json:"retries_left"`
	CreatedAt      time.Time      `json:"created_at"`
	SourceOrigin   string         `json:"source_origin,omitempty"`
}

// TaskResult is produced exactly once per task.
type TaskResult struct {
	TaskID             string        `json:"task_id"`
	Success            bool          `json:"success"`
	Data               any           `json:"data,omitempty"`
	Error              string        `json:"error,omitempty"`
	ExecutedBy         string        `json:"executed_by,omitempty"`
	ExecutionTime      time.Duration `json:"execution_time"`
	FallbackUsed       bool          `json:"fallback_used"`
	FallbackChainTried []string      `json:"fallback_chain_tried,omitempty"`
}

// ErrTimeout is the error string a backend client reports when a task call
// exceeds its deadline. The fallback chain treats it like any other failure.
const ErrTimeout = "timeout"
