package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opsdeck/flowengine/model"
)

// SQLStore is a Store over database/sql via sqlx. It serves sqlite, mysql
// and lib/pq postgres through a Dialect.
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sqlx.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sqlx.DB { return s.db }

// Migrate runs the dialect's connection setup and schema statements.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.ConfigureDB() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("configure %s: %w", s.dialect.Name(), err)
		}
	}
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name(), err)
		}
	}
	return nil
}

type workflowRow struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Steps       string    `db:"steps"`
	IsActive    bool      `db:"is_active"`
	Version     int       `db:"version"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r workflowRow) toModel() (model.Workflow, error) {
	wf := model.Workflow{
		ID:          r.ID,
		TenantID:    r.TenantID,
		Name:        r.Name,
		Description: r.Description,
		IsActive:    r.IsActive,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Steps), &wf.Steps); err != nil {
		return wf, fmt.Errorf("decode workflow %q steps: %w", r.ID, err)
	}
	return wf, nil
}

const sqlWorkflowColumns = `id, tenant_id, name, description, steps, is_active, version, created_at, updated_at`

// GetWorkflow retrieves a workflow by ID.
func (s *SQLStore) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	var row workflowRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT `+sqlWorkflowColumns+` FROM workflows WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.NewWorkflowNotFoundError(id)
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	wf, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// SaveWorkflow upserts a workflow by ID.
func (s *SQLStore) SaveWorkflow(ctx context.Context, wf model.Workflow) error {
	stepsJSON, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}

	query := s.dialect.UpsertSQL("workflows",
		[]string{"id", "tenant_id", "name", "description", "steps", "is_active", "version", "created_at", "updated_at"},
		"id",
		[]string{"tenant_id", "name", "description", "steps", "is_active", "version", "updated_at"},
	)
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query),
		wf.ID, wf.TenantID, wf.Name, wf.Description, string(stepsJSON), wf.IsActive, wf.Version,
		wf.CreatedAt.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// ListWorkflows returns a tenant's workflows ordered by id.
func (s *SQLStore) ListWorkflows(ctx context.Context, tenantID string) ([]model.Workflow, error) {
	query := `SELECT ` + sqlWorkflowColumns + ` FROM workflows`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY id`

	var rows []workflowRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	out := make([]model.Workflow, 0, len(rows))
	for _, r := range rows {
		wf, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

type triggerRow struct {
	ID              string       `db:"id"`
	WorkflowID      string       `db:"workflow_id"`
	TenantID        string       `db:"tenant_id"`
	Kind            string       `db:"kind"`
	WebhookSecret   string       `db:"webhook_secret"`
	Schedule        string       `db:"schedule"`
	EventType       string       `db:"event_type"`
	Enabled         bool         `db:"enabled"`
	LastTriggeredAt sql.NullTime `db:"last_triggered_at"`
}

func (r triggerRow) toModel() model.WorkflowTrigger {
	trg := model.WorkflowTrigger{
		ID:            r.ID,
		WorkflowID:    r.WorkflowID,
		TenantID:      r.TenantID,
		Kind:          model.TriggerKind(r.Kind),
		WebhookSecret: r.WebhookSecret,
		Schedule:      r.Schedule,
		EventType:     r.EventType,
		Enabled:       r.Enabled,
	}
	if r.LastTriggeredAt.Valid {
		t := r.LastTriggeredAt.Time.UTC()
		trg.LastTriggeredAt = &t
	}
	return trg
}

const sqlTriggerColumns = `id, workflow_id, tenant_id, kind, webhook_secret, schedule, event_type, enabled, last_triggered_at`

// GetTrigger retrieves a trigger by ID.
func (s *SQLStore) GetTrigger(ctx context.Context, id string) (*model.WorkflowTrigger, error) {
	var row triggerRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT `+sqlTriggerColumns+` FROM workflow_triggers WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, triggerNotFound(id)
		}
		return nil, fmt.Errorf("get trigger: %w", err)
	}
	trg := row.toModel()
	return &trg, nil
}

// SaveTrigger upserts a trigger. A nil LastTriggeredAt keeps the stored
// value.
func (s *SQLStore) SaveTrigger(ctx context.Context, trg model.WorkflowTrigger) error {
	cols := []string{"id", "workflow_id", "tenant_id", "kind", "webhook_secret", "schedule", "event_type", "enabled"}
	args := []any{trg.ID, trg.WorkflowID, trg.TenantID, string(trg.Kind), trg.WebhookSecret, trg.Schedule, trg.EventType, trg.Enabled}
	update := []string{"workflow_id", "tenant_id", "kind", "webhook_secret", "schedule", "event_type", "enabled"}
	if trg.LastTriggeredAt != nil {
		cols = append(cols, "last_triggered_at")
		args = append(args, trg.LastTriggeredAt.UTC())
		update = append(update, "last_triggered_at")
	}

	query := s.dialect.UpsertSQL("workflow_triggers", cols, "id", update)
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("save trigger: %w", err)
	}
	return nil
}

// TouchTrigger records the time a trigger last fired.
func (s *SQLStore) TouchTrigger(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE workflow_triggers SET last_triggered_at = ? WHERE id = ?`), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch trigger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch trigger: %w", err)
	}
	if n == 0 {
		return triggerNotFound(id)
	}
	return nil
}

// ListTriggers returns triggers of kind ordered by id.
func (s *SQLStore) ListTriggers(ctx context.Context, kind model.TriggerKind) ([]model.WorkflowTrigger, error) {
	query := `SELECT ` + sqlTriggerColumns + ` FROM workflow_triggers`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY id`

	var rows []triggerRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	out := make([]model.WorkflowTrigger, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

type executionRow struct {
	ID           string         `db:"id"`
	WorkflowID   string         `db:"workflow_id"`
	TenantID     string         `db:"tenant_id"`
	TriggeredBy  string         `db:"triggered_by"`
	TriggerData  sql.NullString `db:"trigger_data"`
	Status       string         `db:"status"`
	StartedAt    time.Time      `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	ErrorMessage string         `db:"error_message"`
	ExecutionLog sql.NullString `db:"execution_log"`
}

func (r executionRow) toModel() (model.Execution, error) {
	exec := model.Execution{
		ID:           r.ID,
		WorkflowID:   r.WorkflowID,
		TenantID:     r.TenantID,
		TriggeredBy:  model.TriggeredBy(r.TriggeredBy),
		Status:       model.ExecutionStatus(r.Status),
		StartedAt:    r.StartedAt.UTC(),
		ErrorMessage: r.ErrorMessage,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time.UTC()
		exec.CompletedAt = &t
	}
	err := decodeExecutionJSON(&exec, []byte(r.TriggerData.String), []byte(r.ExecutionLog.String))
	return exec, err
}

const sqlExecutionColumns = `id, workflow_id, tenant_id, triggered_by, trigger_data, status, started_at, completed_at, error_message, execution_log`

// CreateExecution inserts a running execution.
func (s *SQLStore) CreateExecution(ctx context.Context, exec model.Execution) error {
	dataJSON, err := json.Marshal(exec.TriggerData)
	if err != nil {
		return fmt.Errorf("marshal trigger data: %w", err)
	}
	logJSON, err := json.Marshal(emptyLog(exec.ExecutionLog))
	if err != nil {
		return fmt.Errorf("marshal execution log: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO workflow_executions (`+sqlExecutionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		exec.ID, exec.WorkflowID, exec.TenantID, string(exec.TriggeredBy), string(dataJSON),
		string(exec.Status), exec.StartedAt.UTC(), nullTime(exec.CompletedAt), exec.ErrorMessage, string(logJSON),
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return model.NewConflictError(fmt.Sprintf("execution %q already exists", exec.ID))
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// FinalizeExecution moves a running execution to a terminal status.
func (s *SQLStore) FinalizeExecution(ctx context.Context, exec model.Execution) error {
	if !exec.Status.Terminal() {
		return finalizeConflict(exec.ID)
	}
	logJSON, err := json.Marshal(emptyLog(exec.ExecutionLog))
	if err != nil {
		return fmt.Errorf("marshal execution log: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE workflow_executions
		SET status = ?, completed_at = ?, error_message = ?, execution_log = ?
		WHERE id = ? AND status = ?`),
		string(exec.Status), nullTime(exec.CompletedAt), exec.ErrorMessage, string(logJSON),
		exec.ID, string(model.ExecutionRunning),
	)
	if err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	if n == 1 {
		return nil
	}

	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(
		`SELECT COUNT(*) FROM workflow_executions WHERE id = ?`), exec.ID); err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	if count == 0 {
		return executionNotFound(exec.ID)
	}
	return finalizeConflict(exec.ID)
}

// GetExecution retrieves an execution, scoped to tenantID when set.
func (s *SQLStore) GetExecution(ctx context.Context, tenantID, id string) (*model.Execution, error) {
	query := `SELECT ` + sqlExecutionColumns + ` FROM workflow_executions WHERE id = ?`
	args := []any{id}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}

	var row executionRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, executionNotFound(id)
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	exec, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// ListExecutions returns a tenant's executions, newest first.
func (s *SQLStore) ListExecutions(ctx context.Context, tenantID string, filters model.ExecutionFilters) ([]model.Execution, error) {
	query := `SELECT ` + sqlExecutionColumns + ` FROM workflow_executions WHERE 1 = 1`
	var args []any
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	if filters.WorkflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, filters.WorkflowID)
	}
	if filters.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filters.Status))
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if filters.Limit > 0 || filters.Offset > 0 {
		limit := filters.Limit
		if limit <= 0 {
			// MySQL has no OFFSET without LIMIT.
			limit = 1 << 31
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filters.Offset)
	}

	var rows []executionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	out := make([]model.Execution, 0, len(rows))
	for _, r := range rows {
		exec, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}

// Insert writes one row into table.
func (s *SQLStore) Insert(ctx context.Context, tenantID, table string, data map[string]any) (int64, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	cols, row, err := scopedColumns(data, tenantID)
	if err != nil {
		return 0, err
	}

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = s.dialect.Quote(c)
		marks[i] = "?"
		args[i] = columnValue(row[c])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.Quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	return s.execAffected(ctx, "insert into "+table, query, args)
}

// Update sets data on rows of table matching filters.
func (s *SQLStore) Update(ctx context.Context, tenantID, table string, data, filters map[string]any) (int64, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	setCols, err := plainColumns(data)
	if err != nil {
		return 0, err
	}
	whereCols, where, err := scopedColumns(filters, tenantID)
	if err != nil {
		return 0, err
	}

	var sets, conds []string
	var args []any
	for _, c := range setCols {
		if c == TenantColumn {
			continue
		}
		sets = append(sets, s.dialect.Quote(c)+" = ?")
		args = append(args, columnValue(data[c]))
	}
	if len(sets) == 0 {
		return 0, fmt.Errorf("update %s: no columns to set", table)
	}
	for _, c := range whereCols {
		conds = append(conds, s.dialect.Quote(c)+" = ?")
		args = append(args, columnValue(where[c]))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		s.dialect.Quote(table), strings.Join(sets, ", "), strings.Join(conds, " AND "))
	return s.execAffected(ctx, "update "+table, query, args)
}

// Delete removes rows of table matching filters.
func (s *SQLStore) Delete(ctx context.Context, tenantID, table string, filters map[string]any) (int64, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	whereCols, where, err := scopedColumns(filters, tenantID)
	if err != nil {
		return 0, err
	}
	if len(whereCols) == 0 {
		return 0, fmt.Errorf("delete from %s: filters are required", table)
	}

	conds := make([]string, len(whereCols))
	args := make([]any, len(whereCols))
	for i, c := range whereCols {
		conds[i] = s.dialect.Quote(c) + " = ?"
		args[i] = columnValue(where[c])
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", s.dialect.Quote(table), strings.Join(conds, " AND "))
	return s.execAffected(ctx, "delete from "+table, query, args)
}

func (s *SQLStore) execAffected(ctx context.Context, op, query string, args []any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// HealthCheck pings the database.
func (s *SQLStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
