package model

import "time"

// StepType identifies the kind of work a step performs.
type StepType string

// Known step types. The set is closed: anything else decodes to an
// UnknownStepConfig and is skipped with a warning at run time.
const (
	StepTypeAPICall           StepType = "api_call"
	StepTypeDataTransform     StepType = "data_transform"
	StepTypeCondition         StepType = "condition"
	StepTypeNotification      StepType = "notification"
	StepTypeDatabaseOperation StepType = "database_operation"
	StepTypeDelay             StepType = "delay"
)

// Known reports whether t is one of the built-in step types.
func (t StepType) Known() bool {
	switch t {
	case StepTypeAPICall, StepTypeDataTransform, StepTypeCondition,
		StepTypeNotification, StepTypeDatabaseOperation, StepTypeDelay:
		return true
	}
	return false
}

// TriggerKind identifies how a trigger starts executions.
type TriggerKind string

const (
	TriggerKindWebhook  TriggerKind = "webhook"
	TriggerKindSchedule TriggerKind = "schedule"
	TriggerKindManual   TriggerKind = "manual"
	TriggerKindEvent    TriggerKind = "event"
)

// Valid reports whether k is a recognised trigger kind.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerKindWebhook, TriggerKindSchedule, TriggerKindManual, TriggerKindEvent:
		return true
	}
	return false
}

// Workflow is a named, ordered list of steps belonging to a tenant. A loaded
// Workflow is never mutated while an execution of it is in flight.
type Workflow struct {
	ID          string    `json:"id" yaml:"id"`
	TenantID    string    `json:"tenant_id" yaml:"tenant_id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step    `json:"steps" yaml:"steps"`
	IsActive    bool      `json:"is_active" yaml:"is_active"`
	Version     int       `json:"version" yaml:"version"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// Step is one typed, configured unit of work within a Workflow.
type Step struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Type StepType `json:"type"`
	// TimeoutMs overrides the engine's default per-step timeout when > 0.
	TimeoutMs int64      `json:"timeout_ms,omitempty"`
	Config    StepConfig `json:"-"`
}

// WorkflowTrigger is the gate that decides whether an inbound event may start
// an execution of its workflow.
type WorkflowTrigger struct {
	ID            string      `json:"id" yaml:"id"`
	WorkflowID    string      `json:"workflow_id" yaml:"workflow_id"`
	TenantID      string      `json:"tenant_id" yaml:"tenant_id"`
	Kind          TriggerKind `json:"kind" yaml:"kind"`
	WebhookSecret string      `json:"-" yaml:"webhook_secret,omitempty"`
	// Schedule is a cron expression, used only by schedule triggers.
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	// EventType is the bus event name, used only by event triggers.
	EventType       string     `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	Enabled         bool       `json:"enabled" yaml:"enabled"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" yaml:"-"`
}

// HasSecret reports whether the trigger requires a webhook signature.
func (t WorkflowTrigger) HasSecret() bool {
	return t.Kind == TriggerKindWebhook && t.WebhookSecret != ""
}
