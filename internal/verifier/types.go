package verifier

import "time"

// TaskState is the lifecycle state of a tracked work item.
type TaskState string

const (
	TaskPending    TaskState = "Pending"
	TaskInProgress TaskState = "InProgress"
	TaskCompleted  TaskState = "Completed"
	TaskFailed     TaskState = "Failed"
)

// StepResult is the recorded outcome of one execution step.
type StepResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Step is one recorded action taken while working a task.
type Step struct {
	StepID string      `json:"stepId"`
	Action string      `json:"action"`
	Result *StepResult `json:"result,omitempty"`
}

// QualityGate names an external check that must pass before a task is
// considered truly complete (e.g. "run_tests", "lint").
type QualityGate string

// Task is the engine-internal work item the Verifier checks. It is distinct
// from, and unrelated to, tool.TaskTool's subagent-spawning "Task" concept.
type Task struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	State       TaskState   `json:"state"`
	Steps       []Step      `json:"steps"`
	QualityGate QualityGate `json:"qualityGate,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// InvariantPriority ranks how urgently a learned invariant should influence
// future behavior.
type InvariantPriority string

const (
	PriorityCritical InvariantPriority = "critical"
	PriorityHigh     InvariantPriority = "high"
	PriorityMedium   InvariantPriority = "medium"
	PriorityLow      InvariantPriority = "low"
)

// Invariant is a structured lesson learned from a verification failure.
type Invariant struct {
	ID          string            `json:"id"`
	Rule        string            `json:"rule"`
	Description string            `json:"description"`
	Priority    InvariantPriority `json:"priority"`
	Tags        []string          `json:"tags"`
	Evidence    []string          `json:"evidence"`
	ScopePattern string           `json:"scopePattern,omitempty"`
	Source      string            `json:"source,omitempty"`
	DedupeKey   string            `json:"dedupeKey"`
	Violations  int               `json:"violations"`
	Validations int                `json:"validations"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// SystemFactInput is the upsert payload the verifier feeds into the
// gold-memory service when a verification fails.
type SystemFactInput struct {
	DedupeKey    string
	Rule         string
	Description  string
	ScopePattern string
	Priority     InvariantPriority
	Tags         []string
	Evidence     []string
	Source       string
}

// GoldMemorySummary is a read-only snapshot used by observability and tests.
type GoldMemorySummary struct {
	TotalInvariants int `json:"totalInvariants"`
	TotalViolations int `json:"totalViolations"`
	TotalValidations int `json:"totalValidations"`
	ByPriority      map[InvariantPriority]int `json:"byPriority"`
}
