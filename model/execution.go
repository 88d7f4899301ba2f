package model

import "time"

// ExecutionStatus is the lifecycle state of an Execution. Running is the only
// non-terminal state.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Terminal reports whether s is completed or failed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// Valid reports whether s is a recognised status.
func (s ExecutionStatus) Valid() bool {
	return s == ExecutionRunning || s.Terminal()
}

// CanTransition reports whether moving from s to next is allowed. Only
// running -> completed and running -> failed are.
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	return s == ExecutionRunning && next.Terminal()
}

// TriggeredBy records what started an execution.
type TriggeredBy string

const (
	TriggeredByManual   TriggeredBy = "manual"
	TriggeredByWebhook  TriggeredBy = "webhook"
	TriggeredBySchedule TriggeredBy = "schedule"
	TriggeredByEvent    TriggeredBy = "event"
)

// Valid reports whether t is a recognised trigger source.
func (t TriggeredBy) Valid() bool {
	switch t {
	case TriggeredByManual, TriggeredByWebhook, TriggeredBySchedule, TriggeredByEvent:
		return true
	}
	return false
}

// StepResult is one entry in an execution log.
type StepResult struct {
	StepID     string         `json:"step_id"`
	StepName   string         `json:"step_name"`
	StepType   StepType       `json:"step_type"`
	DurationMs int64          `json:"duration_ms"`
	Result     map[string]any `json:"result"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Success reports the "success" flag of the result payload.
func (r StepResult) Success() bool {
	ok, _ := r.Result["success"].(bool)
	return ok
}

// Execution is one run of a Workflow.
type Execution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	TenantID     string          `json:"tenant_id"`
	TriggeredBy  TriggeredBy     `json:"triggered_by"`
	TriggerData  map[string]any  `json:"trigger_data"`
	Status       ExecutionStatus `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ExecutionLog []StepResult    `json:"execution_log"`
}

// ExecutionFilters narrows an execution listing. Zero values mean no filter.
type ExecutionFilters struct {
	WorkflowID string
	Status     ExecutionStatus
	Limit      int
	Offset     int
}

// ExecutionLog is the ordered, append-only record of step results for one
// execution. It is owned by the goroutine running that execution and is not
// safe for concurrent use.
type ExecutionLog struct {
	entries []StepResult
}

// NewExecutionLog returns a log with room for capacity entries.
func NewExecutionLog(capacity int) *ExecutionLog {
	if capacity < 0 {
		capacity = 0
	}
	return &ExecutionLog{entries: make([]StepResult, 0, capacity)}
}

// Append adds r at the end of the log.
func (l *ExecutionLog) Append(r StepResult) {
	l.entries = append(l.entries, r)
}

// Entries returns a copy of the log in step order.
func (l *ExecutionLog) Entries() []StepResult {
	out := make([]StepResult, len(l.entries))
	copy(out, l.entries)
	return out
}

// StepOutput is what an executor returns for a single step.
type StepOutput struct {
	Success bool
	Error   string
	// Data is merged into the result payload alongside success/error.
	Data map[string]any
}

// Result flattens the output into the StepResult payload.
func (o StepOutput) Result() map[string]any {
	res := make(map[string]any, len(o.Data)+2)
	for k, v := range o.Data {
		res[k] = v
	}
	res["success"] = o.Success
	if o.Error != "" {
		res["error"] = o.Error
	}
	return res
}

// Succeeded returns a successful output carrying data.
func Succeeded(data map[string]any) StepOutput {
	return StepOutput{Success: true, Data: data}
}

// Failed returns a failed output with the given error message.
func Failed(msg string) StepOutput {
	return StepOutput{Success: false, Error: msg}
}

// StepContext is the read-only input an executor sees besides its config.
type StepContext struct {
	ExecutionID string
	WorkflowID  string
	TenantID    string
	StepID      string
	StepName    string
	TriggerData map[string]any
}
