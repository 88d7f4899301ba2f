package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/opsdeck/flowengine/model"
)

// MemoryStore is an in-memory Store for development and testing.
type MemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]model.Workflow
	triggers   map[string]model.WorkflowTrigger
	executions map[string]model.Execution
	tables     map[string][]map[string]any
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]model.Workflow),
		triggers:   make(map[string]model.WorkflowTrigger),
		executions: make(map[string]model.Execution),
		tables:     make(map[string][]map[string]any),
	}
}

// GetWorkflow returns the workflow with id.
func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, model.NewWorkflowNotFoundError(id)
	}
	wf.Steps = append([]model.Step(nil), wf.Steps...)
	return &wf, nil
}

// SaveWorkflow inserts or replaces wf.
func (s *MemoryStore) SaveWorkflow(_ context.Context, wf model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := s.workflows[wf.ID]; ok {
		wf.CreatedAt = prev.CreatedAt
	} else if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	wf.Steps = append([]model.Step(nil), wf.Steps...)
	s.workflows[wf.ID] = wf
	return nil
}

// ListWorkflows returns the tenant's workflows ordered by id. An empty
// tenantID lists every workflow.
func (s *MemoryStore) ListWorkflows(_ context.Context, tenantID string) ([]model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Workflow
	for _, wf := range s.workflows {
		if tenantID != "" && wf.TenantID != tenantID {
			continue
		}
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetTrigger returns the trigger with id.
func (s *MemoryStore) GetTrigger(_ context.Context, id string) (*model.WorkflowTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trg, ok := s.triggers[id]
	if !ok {
		return nil, triggerNotFound(id)
	}
	return &trg, nil
}

// SaveTrigger inserts or replaces trg.
func (s *MemoryStore) SaveTrigger(_ context.Context, trg model.WorkflowTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.triggers[trg.ID]; ok && trg.LastTriggeredAt == nil {
		trg.LastTriggeredAt = prev.LastTriggeredAt
	}
	s.triggers[trg.ID] = trg
	return nil
}

// TouchTrigger sets the trigger's last_triggered_at.
func (s *MemoryStore) TouchTrigger(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trg, ok := s.triggers[id]
	if !ok {
		return triggerNotFound(id)
	}
	at = at.UTC()
	trg.LastTriggeredAt = &at
	s.triggers[id] = trg
	return nil
}

// ListTriggers returns triggers of kind ordered by id.
func (s *MemoryStore) ListTriggers(_ context.Context, kind model.TriggerKind) ([]model.WorkflowTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.WorkflowTrigger
	for _, trg := range s.triggers {
		if kind != "" && trg.Kind != kind {
			continue
		}
		out = append(out, trg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateExecution stores a new running execution.
func (s *MemoryStore) CreateExecution(_ context.Context, exec model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[exec.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("execution %q already exists", exec.ID))
	}
	s.executions[exec.ID] = cloneExecution(exec)
	return nil
}

// FinalizeExecution writes the terminal status, log and error message.
func (s *MemoryStore) FinalizeExecution(_ context.Context, exec model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.executions[exec.ID]
	if !ok {
		return executionNotFound(exec.ID)
	}
	if !existing.Status.CanTransition(exec.Status) {
		return finalizeConflict(exec.ID)
	}
	existing.Status = exec.Status
	existing.CompletedAt = exec.CompletedAt
	existing.ErrorMessage = exec.ErrorMessage
	existing.ExecutionLog = append([]model.StepResult(nil), exec.ExecutionLog...)
	s.executions[exec.ID] = existing
	return nil
}

// GetExecution returns the execution with id, scoped to tenantID.
func (s *MemoryStore) GetExecution(_ context.Context, tenantID, id string) (*model.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[id]
	if !ok || (tenantID != "" && exec.TenantID != tenantID) {
		return nil, executionNotFound(id)
	}
	out := cloneExecution(exec)
	return &out, nil
}

// ListExecutions returns the tenant's executions, newest first.
func (s *MemoryStore) ListExecutions(_ context.Context, tenantID string, filters model.ExecutionFilters) ([]model.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Execution
	for _, exec := range s.executions {
		if tenantID != "" && exec.TenantID != tenantID {
			continue
		}
		if filters.WorkflowID != "" && exec.WorkflowID != filters.WorkflowID {
			continue
		}
		if filters.Status != "" && exec.Status != filters.Status {
			continue
		}
		out = append(out, cloneExecution(exec))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			return nil, nil
		}
		out = out[filters.Offset:]
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

// Insert appends a row to table.
func (s *MemoryStore) Insert(_ context.Context, tenantID, table string, data map[string]any) (int64, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	_, row, err := scopedColumns(data, tenantID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], row)
	return 1, nil
}

// Update merges data into every row of table matching filters.
func (s *MemoryStore) Update(_ context.Context, tenantID, table string, data, filters map[string]any) (int64, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	if _, err := plainColumns(data); err != nil {
		return 0, err
	}
	_, where, err := scopedColumns(filters, tenantID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, row := range s.tables[table] {
		if !rowMatches(row, where) {
			continue
		}
		for k, v := range data {
			if k == TenantColumn {
				continue
			}
			row[k] = v
		}
		n++
	}
	return n, nil
}

// Delete removes every row of table matching filters.
func (s *MemoryStore) Delete(_ context.Context, tenantID, table string, filters map[string]any) (int64, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	_, where, err := scopedColumns(filters, tenantID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[table]
	kept := rows[:0]
	var n int64
	for _, row := range rows {
		if rowMatches(row, where) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	s.tables[table] = kept
	return n, nil
}

// Rows returns a copy of the rows currently in table.
func (s *MemoryStore) Rows(table string) []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]map[string]any, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		out = append(out, maps.Clone(row))
	}
	return out
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func cloneExecution(exec model.Execution) model.Execution {
	exec.TriggerData = maps.Clone(exec.TriggerData)
	exec.ExecutionLog = append([]model.StepResult(nil), exec.ExecutionLog...)
	if exec.CompletedAt != nil {
		t := *exec.CompletedAt
		exec.CompletedAt = &t
	}
	return exec
}

func rowMatches(row, where map[string]any) bool {
	for k, want := range where {
		got, ok := row[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares scalars loosely so that 1, int64(1) and 1.0 match.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
