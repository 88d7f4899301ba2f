package definition

import (
	"fmt"

	"github.com/opsdeck/flowengine/internal/scheduler"
	"github.com/opsdeck/flowengine/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates definitions structurally and referentially.
type Validator struct {
	// CronWithSeconds accepts six-field schedule expressions.
	CronWithSeconds bool
}

// NewValidator creates a new Validator.
func NewValidator(cronWithSeconds bool) *Validator {
	return &Validator{CronWithSeconds: cronWithSeconds}
}

// Validate checks all files together: ids must be unique across files and
// triggers may reference workflows declared in any file.
func (v *Validator) Validate(files []model.DefinitionFile) []VError {
	var errs []VError

	workflowIDs := make(map[string]string)
	triggerIDs := make(map[string]string)
	workflowTenants := make(map[string]string)

	for i, f := range files {
		prefix := filePrefix(i, f)
		if f.TenantID == "" {
			errs = append(errs, VError{Path: prefix + ".tenant_id", Code: "REQUIRED", Message: "tenant_id is required"})
		}
		for j, w := range f.Workflows {
			wp := fmt.Sprintf("%s.workflows[%d]", prefix, j)
			if w.ID != "" {
				if first, dup := workflowIDs[w.ID]; dup {
					errs = append(errs, VError{Path: wp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("workflow %q already declared at %s", w.ID, first)})
				} else {
					workflowIDs[w.ID] = wp
					workflowTenants[w.ID] = w.TenantID
				}
			}
			errs = append(errs, v.validateWorkflow(wp, f.TenantID, w)...)
		}
	}

	for i, f := range files {
		prefix := filePrefix(i, f)
		for j, t := range f.Triggers {
			tp := fmt.Sprintf("%s.triggers[%d]", prefix, j)
			if t.ID != "" {
				if first, dup := triggerIDs[t.ID]; dup {
					errs = append(errs, VError{Path: tp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("trigger %q already declared at %s", t.ID, first)})
				} else {
					triggerIDs[t.ID] = tp
				}
			}
			errs = append(errs, v.validateTrigger(tp, t, workflowTenants)...)
		}
	}

	return errs
}

func filePrefix(i int, f model.DefinitionFile) string {
	if f.SourceFile != "" {
		return f.SourceFile
	}
	return fmt.Sprintf("definitions[%d]", i)
}

func (v *Validator) validateWorkflow(prefix, fileTenant string, w model.Workflow) []VError {
	var errs []VError

	if w.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "workflow id is required"})
	}
	if w.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "workflow name is required"})
	}
	if fileTenant != "" && w.TenantID != fileTenant {
		errs = append(errs, VError{Path: prefix + ".tenant_id", Code: "TENANT_MISMATCH",
			Message: fmt.Sprintf("workflow tenant %q differs from file tenant %q", w.TenantID, fileTenant)})
	}
	if len(w.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "REQUIRED", Message: "at least one step is required"})
	}

	stepIDs := make(map[string]bool, len(w.Steps))
	for i, s := range w.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		if s.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "step id is required"})
		} else if stepIDs[s.ID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("step %q is declared twice", s.ID)})
		}
		stepIDs[s.ID] = true

		if s.Type == "" {
			errs = append(errs, VError{Path: sp + ".type", Code: "REQUIRED", Message: "step type is required"})
			continue
		}
		if s.TimeoutMs < 0 {
			errs = append(errs, VError{Path: sp + ".timeout_ms", Code: "INVALID", Message: "timeout_ms must not be negative"})
		}
		// Unknown types are allowed through and skipped at run time.
		if !s.Type.Known() || s.Config == nil {
			continue
		}
		for _, fe := range s.Config.Validate() {
			errs = append(errs, VError{Path: sp + "." + fe.Field, Code: fe.Code, Message: fe.Message})
		}
	}

	return errs
}

func (v *Validator) validateTrigger(prefix string, t model.WorkflowTrigger, workflowTenants map[string]string) []VError {
	var errs []VError

	if t.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "trigger id is required"})
	}
	if t.WorkflowID == "" {
		errs = append(errs, VError{Path: prefix + ".workflow_id", Code: "REQUIRED", Message: "workflow_id is required"})
	} else if tenant, ok := workflowTenants[t.WorkflowID]; !ok {
		errs = append(errs, VError{Path: prefix + ".workflow_id", Code: "UNKNOWN_WORKFLOW",
			Message: fmt.Sprintf("workflow %q is not declared", t.WorkflowID)})
	} else if tenant != t.TenantID {
		errs = append(errs, VError{Path: prefix + ".tenant_id", Code: "TENANT_MISMATCH",
			Message: fmt.Sprintf("trigger tenant %q differs from workflow tenant %q", t.TenantID, tenant)})
	}

	switch t.Kind {
	case model.TriggerKindWebhook, model.TriggerKindManual:
	case model.TriggerKindSchedule:
		if t.Schedule == "" {
			errs = append(errs, VError{Path: prefix + ".schedule", Code: "REQUIRED", Message: "schedule is required for schedule triggers"})
		} else if err := scheduler.ValidateSchedule(t.Schedule, v.CronWithSeconds); err != nil {
			errs = append(errs, VError{Path: prefix + ".schedule", Code: "INVALID", Message: err.Error()})
		}
	case model.TriggerKindEvent:
		if t.EventType == "" {
			errs = append(errs, VError{Path: prefix + ".event_type", Code: "REQUIRED", Message: "event_type is required for event triggers"})
		}
	case "":
		errs = append(errs, VError{Path: prefix + ".kind", Code: "REQUIRED", Message: "kind is required"})
	default:
		errs = append(errs, VError{Path: prefix + ".kind", Code: "INVALID", Message: fmt.Sprintf("unsupported kind %q", t.Kind)})
	}
	if t.WebhookSecret != "" && t.Kind != model.TriggerKindWebhook {
		errs = append(errs, VError{Path: prefix + ".webhook_secret", Code: "INVALID", Message: "webhook_secret is only used by webhook triggers"})
	}

	return errs
}
