// Package store persists workflows, triggers and executions, and gives
// database_operation steps a tenant-scoped way to write rows.
package store

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/opsdeck/flowengine/model"
)

// WorkflowStore reads and writes workflow definitions.
type WorkflowStore interface {
	// GetWorkflow returns WORKFLOW_NOT_FOUND when no workflow has id.
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	// SaveWorkflow inserts or replaces a workflow by id.
	SaveWorkflow(ctx context.Context, wf model.Workflow) error
	ListWorkflows(ctx context.Context, tenantID string) ([]model.Workflow, error)
}

// TriggerStore reads and writes workflow triggers.
type TriggerStore interface {
	// GetTrigger returns NOT_FOUND when no trigger has id.
	GetTrigger(ctx context.Context, id string) (*model.WorkflowTrigger, error)
	SaveTrigger(ctx context.Context, trg model.WorkflowTrigger) error
	// TouchTrigger records at as the trigger's last_triggered_at.
	TouchTrigger(ctx context.Context, id string, at time.Time) error
	// ListTriggers returns enabled and disabled triggers of kind. An empty
	// kind lists all triggers.
	ListTriggers(ctx context.Context, kind model.TriggerKind) ([]model.WorkflowTrigger, error)
}

// ExecutionStore persists execution records. Each execution is written
// once on creation and once on finalization.
type ExecutionStore interface {
	// CreateExecution inserts a running execution. A duplicate id is a
	// CONFLICT.
	CreateExecution(ctx context.Context, exec model.Execution) error
	// FinalizeExecution moves a running execution to its terminal status
	// and stores its log. Executions that are already terminal are left
	// untouched and a CONFLICT is returned.
	FinalizeExecution(ctx context.Context, exec model.Execution) error
	// GetExecution returns NOT_FOUND when id does not exist or belongs to
	// another tenant. An empty tenantID skips the tenant check.
	GetExecution(ctx context.Context, tenantID, id string) (*model.Execution, error)
	// ListExecutions returns executions newest first.
	ListExecutions(ctx context.Context, tenantID string, filters model.ExecutionFilters) ([]model.Execution, error)
}

// TableStore performs row writes on behalf of database_operation steps.
// The tenant id is always added to inserted rows and to the filters of
// updates and deletes.
type TableStore interface {
	Insert(ctx context.Context, tenantID, table string, data map[string]any) (int64, error)
	Update(ctx context.Context, tenantID, table string, data, filters map[string]any) (int64, error)
	Delete(ctx context.Context, tenantID, table string, filters map[string]any) (int64, error)
}

// Store is everything the engine needs from persistence.
type Store interface {
	WorkflowStore
	TriggerStore
	ExecutionStore
	TableStore
	HealthCheck(ctx context.Context) error
	Close() error
}

// TenantColumn is the column every table write is scoped by.
const TenantColumn = "tenant_id"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// reservedTables are owned by the engine and cannot be written by steps.
var reservedTables = map[string]bool{
	"workflows":           true,
	"workflow_triggers":   true,
	"workflow_executions": true,
}

// ValidateIdentifier checks that name can be used as a table or column name.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// ValidateTable checks that a step may write to table. An empty allowed
// list permits any valid, non-reserved identifier.
func ValidateTable(table string, allowed []string) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	if reservedTables[strings.ToLower(table)] {
		return fmt.Errorf("table %q is reserved", table)
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, a := range allowed {
		if strings.EqualFold(a, table) {
			return nil
		}
	}
	return fmt.Errorf("table %q is not in the allowed list", table)
}

// scopedColumns validates the keys of values and returns them sorted with
// the tenant column forced to tenantID.
func scopedColumns(values map[string]any, tenantID string) ([]string, map[string]any, error) {
	out := make(map[string]any, len(values)+1)
	for k, v := range values {
		if err := ValidateIdentifier(k); err != nil {
			return nil, nil, err
		}
		out[k] = v
	}
	if tenantID != "" {
		out[TenantColumn] = tenantID
	}
	return sortedKeys(out), out, nil
}

// plainColumns validates and sorts keys without tenant injection.
func plainColumns(values map[string]any) ([]string, error) {
	for k := range values {
		if err := ValidateIdentifier(k); err != nil {
			return nil, err
		}
	}
	return sortedKeys(values), nil
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}

// finalizeConflict is the error returned when an execution is no longer
// running.
func finalizeConflict(id string) error {
	return model.NewConflictError(fmt.Sprintf("execution %q is already finalized", id))
}

func executionNotFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("execution %q not found", id))
}

func triggerNotFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("trigger %q not found", id))
}
