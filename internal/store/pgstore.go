package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdeck/flowengine/model"
)

// pgSchema creates the engine-owned tables. Step tables written by
// database_operation are managed by their owners.
const pgSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	steps       JSONB NOT NULL,
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	version     INTEGER NOT NULL DEFAULT 1,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflows_tenant ON workflows (tenant_id);

CREATE TABLE IF NOT EXISTS workflow_triggers (
	id                TEXT PRIMARY KEY,
	workflow_id       TEXT NOT NULL,
	tenant_id         TEXT NOT NULL,
	kind              TEXT NOT NULL,
	webhook_secret    TEXT NOT NULL DEFAULT '',
	schedule          TEXT NOT NULL DEFAULT '',
	event_type        TEXT NOT NULL DEFAULT '',
	enabled           BOOLEAN NOT NULL DEFAULT TRUE,
	last_triggered_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_workflow_triggers_kind ON workflow_triggers (kind);

CREATE TABLE IF NOT EXISTS workflow_executions (
	id            TEXT PRIMARY KEY,
	workflow_id   TEXT NOT NULL,
	tenant_id     TEXT NOT NULL,
	triggered_by  TEXT NOT NULL,
	trigger_data  JSONB,
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	error_message TEXT NOT NULL DEFAULT '',
	execution_log JSONB
);
CREATE INDEX IF NOT EXISTS idx_workflow_executions_tenant
	ON workflow_executions (tenant_id, started_at DESC);
`

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore wraps an open pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the engine tables if they do not exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *PgStore) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	var wf model.Workflow
	var stepsJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, description, steps, is_active, version,
		       created_at, updated_at
		FROM workflows
		WHERE id = $1`,
		id,
	).Scan(
		&wf.ID, &wf.TenantID, &wf.Name, &wf.Description, &stepsJSON, &wf.IsActive, &wf.Version,
		&wf.CreatedAt, &wf.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewWorkflowNotFoundError(id)
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	if err := json.Unmarshal(stepsJSON, &wf.Steps); err != nil {
		return nil, fmt.Errorf("decode workflow steps: %w", err)
	}
	return &wf, nil
}

// SaveWorkflow upserts a workflow by ID.
func (s *PgStore) SaveWorkflow(ctx context.Context, wf model.Workflow) error {
	stepsJSON, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflows (
			id, tenant_id, name, description, steps, is_active, version,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			steps = EXCLUDED.steps,
			is_active = EXCLUDED.is_active,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`,
		wf.ID, wf.TenantID, wf.Name, wf.Description, stepsJSON, wf.IsActive, wf.Version,
		wf.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// ListWorkflows returns a tenant's workflows ordered by id.
func (s *PgStore) ListWorkflows(ctx context.Context, tenantID string) ([]model.Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, description, steps, is_active, version,
		       created_at, updated_at
		FROM workflows
		WHERE $1 = '' OR tenant_id = $1
		ORDER BY id`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var out []model.Workflow
	for rows.Next() {
		var wf model.Workflow
		var stepsJSON []byte
		if err := rows.Scan(
			&wf.ID, &wf.TenantID, &wf.Name, &wf.Description, &stepsJSON, &wf.IsActive, &wf.Version,
			&wf.CreatedAt, &wf.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		if err := json.Unmarshal(stepsJSON, &wf.Steps); err != nil {
			return nil, fmt.Errorf("decode workflow %q steps: %w", wf.ID, err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

const pgTriggerColumns = `id, workflow_id, tenant_id, kind, webhook_secret, schedule,
	event_type, enabled, last_triggered_at`

func scanPgTrigger(row pgx.Row) (model.WorkflowTrigger, error) {
	var trg model.WorkflowTrigger
	err := row.Scan(
		&trg.ID, &trg.WorkflowID, &trg.TenantID, &trg.Kind, &trg.WebhookSecret, &trg.Schedule,
		&trg.EventType, &trg.Enabled, &trg.LastTriggeredAt,
	)
	return trg, err
}

// GetTrigger retrieves a trigger by ID.
func (s *PgStore) GetTrigger(ctx context.Context, id string) (*model.WorkflowTrigger, error) {
	trg, err := scanPgTrigger(s.pool.QueryRow(ctx,
		`SELECT `+pgTriggerColumns+` FROM workflow_triggers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, triggerNotFound(id)
		}
		return nil, fmt.Errorf("get trigger: %w", err)
	}
	return &trg, nil
}

// SaveTrigger upserts a trigger, keeping last_triggered_at when the new
// value is nil.
func (s *PgStore) SaveTrigger(ctx context.Context, trg model.WorkflowTrigger) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_triggers (`+pgTriggerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			tenant_id = EXCLUDED.tenant_id,
			kind = EXCLUDED.kind,
			webhook_secret = EXCLUDED.webhook_secret,
			schedule = EXCLUDED.schedule,
			event_type = EXCLUDED.event_type,
			enabled = EXCLUDED.enabled,
			last_triggered_at = COALESCE(EXCLUDED.last_triggered_at, workflow_triggers.last_triggered_at)`,
		trg.ID, trg.WorkflowID, trg.TenantID, trg.Kind, trg.WebhookSecret, trg.Schedule,
		trg.EventType, trg.Enabled, trg.LastTriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("save trigger: %w", err)
	}
	return nil
}

// TouchTrigger records the time a trigger last fired.
func (s *PgStore) TouchTrigger(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_triggers SET last_triggered_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("touch trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return triggerNotFound(id)
	}
	return nil
}

// ListTriggers returns triggers of kind ordered by id.
func (s *PgStore) ListTriggers(ctx context.Context, kind model.TriggerKind) ([]model.WorkflowTrigger, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgTriggerColumns+` FROM workflow_triggers
		 WHERE $1 = '' OR kind = $1
		 ORDER BY id`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var out []model.WorkflowTrigger
	for rows.Next() {
		trg, err := scanPgTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		out = append(out, trg)
	}
	return out, rows.Err()
}

// CreateExecution inserts a running execution.
func (s *PgStore) CreateExecution(ctx context.Context, exec model.Execution) error {
	dataJSON, err := json.Marshal(exec.TriggerData)
	if err != nil {
		return fmt.Errorf("marshal trigger data: %w", err)
	}
	logJSON, err := json.Marshal(emptyLog(exec.ExecutionLog))
	if err != nil {
		return fmt.Errorf("marshal execution log: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_executions (
			id, workflow_id, tenant_id, triggered_by, trigger_data,
			status, started_at, completed_at, error_message, execution_log
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		exec.ID, exec.WorkflowID, exec.TenantID, exec.TriggeredBy, dataJSON,
		exec.Status, exec.StartedAt, exec.CompletedAt, exec.ErrorMessage, logJSON,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.NewConflictError(fmt.Sprintf("execution %q already exists", exec.ID))
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// FinalizeExecution moves a running execution to a terminal status.
func (s *PgStore) FinalizeExecution(ctx context.Context, exec model.Execution) error {
	if !exec.Status.Terminal() {
		return finalizeConflict(exec.ID)
	}
	logJSON, err := json.Marshal(emptyLog(exec.ExecutionLog))
	if err != nil {
		return fmt.Errorf("marshal execution log: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_executions
		SET status = $2, completed_at = $3, error_message = $4, execution_log = $5
		WHERE id = $1 AND status = 'running'`,
		exec.ID, exec.Status, exec.CompletedAt, exec.ErrorMessage, logJSON,
	)
	if err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)`, exec.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}
	if !exists {
		return executionNotFound(exec.ID)
	}
	return finalizeConflict(exec.ID)
}

const pgExecutionColumns = `id, workflow_id, tenant_id, triggered_by, trigger_data,
	status, started_at, completed_at, error_message, execution_log`

func scanPgExecution(row pgx.Row) (model.Execution, error) {
	var exec model.Execution
	var dataJSON, logJSON []byte
	if err := row.Scan(
		&exec.ID, &exec.WorkflowID, &exec.TenantID, &exec.TriggeredBy, &dataJSON,
		&exec.Status, &exec.StartedAt, &exec.CompletedAt, &exec.ErrorMessage, &logJSON,
	); err != nil {
		return exec, err
	}
	if err := decodeExecutionJSON(&exec, dataJSON, logJSON); err != nil {
		return exec, err
	}
	return exec, nil
}

// GetExecution retrieves an execution, scoped to tenantID when set.
func (s *PgStore) GetExecution(ctx context.Context, tenantID, id string) (*model.Execution, error) {
	exec, err := scanPgExecution(s.pool.QueryRow(ctx,
		`SELECT `+pgExecutionColumns+` FROM workflow_executions
		 WHERE id = $1 AND ($2 = '' OR tenant_id = $2)`, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, executionNotFound(id)
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return &exec, nil
}

// ListExecutions returns a tenant's executions, newest first.
func (s *PgStore) ListExecutions(ctx context.Context, tenantID string, filters model.ExecutionFilters) ([]model.Execution, error) {
	query := `SELECT ` + pgExecutionColumns + ` FROM workflow_executions WHERE 1 = 1`
	var args []any
	argIdx := 1

	if tenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, tenantID)
		argIdx++
	}
	if filters.WorkflowID != "" {
		query += fmt.Sprintf(" AND workflow_id = $%d", argIdx)
		args = append(args, filters.WorkflowID)
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filters.Status))
		argIdx++
	}

	query += " ORDER BY started_at DESC, id DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []model.Execution
	for rows.Next() {
		exec, err := scanPgExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// Insert writes one row into table.
func (s *PgStore) Insert(ctx context.Context, tenantID, table string, data map[string]any) (int64, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	cols, row, err := scopedColumns(data, tenantID)
	if err != nil {
		return 0, err
	}

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = columnValue(row[c])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// Update sets data on rows of table matching filters.
func (s *PgStore) Update(ctx context.Context, tenantID, table string, data, filters map[string]any) (int64, error) {
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
		args = append(args, columnValue(data[c]))
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), len(args)))
	}
	if len(sets) == 0 {
		return 0, fmt.Errorf("update %s: no columns to set", table)
	}
	for _, c := range whereCols {
		args = append(args, columnValue(where[c]))
		conds = append(conds, fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), len(args)))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		pgx.Identifier{table}.Sanitize(), strings.Join(sets, ", "), strings.Join(conds, " AND "))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes rows of table matching filters.
func (s *PgStore) Delete(ctx context.Context, tenantID, table string, filters map[string]any) (int64, error) {
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
		conds[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+1)
		args[i] = columnValue(where[c])
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s",
		pgx.Identifier{table}.Sanitize(), strings.Join(conds, " AND "))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// HealthCheck pings the pool.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

// columnValue encodes nested maps and slices as JSON text so they can be
// bound to a single column.
func columnValue(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return v
}

func emptyLog(log []model.StepResult) []model.StepResult {
	if log == nil {
		return []model.StepResult{}
	}
	return log
}

func decodeExecutionJSON(exec *model.Execution, dataJSON, logJSON []byte) error {
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &exec.TriggerData); err != nil {
			return fmt.Errorf("decode trigger data: %w", err)
		}
	}
	if len(logJSON) > 0 {
		if err := json.Unmarshal(logJSON, &exec.ExecutionLog); err != nil {
			return fmt.Errorf("decode execution log: %w", err)
		}
	}
	if exec.ExecutionLog == nil {
		exec.ExecutionLog = []model.StepResult{}
	}
	return nil
}
