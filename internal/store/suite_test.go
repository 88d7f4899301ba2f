package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/flowengine/model"
)

// runStoreSuite exercises the behaviour every Store must share. The
// tickets table (id, title, status, tenant_id) must already exist.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("workflow round trip", func(t *testing.T) {
		d := int64(25)
		wf := model.Workflow{
			ID:       "wf-order",
			TenantID: "tenant-1",
			Name:     "Order intake",
			IsActive: true,
			Version:  3,
			Steps: []model.Step{
				{ID: "s1", Name: "wait", Type: model.StepTypeDelay, Config: model.DelayConfig{DurationMs: &d}},
				{ID: "s2", Name: "map", Type: model.StepTypeDataTransform, TimeoutMs: 500,
					Config: model.DataTransformConfig{Mapping: map[string]string{"email": "customer.email"}}},
			},
		}
		require.NoError(t, s.SaveWorkflow(ctx, wf))

		got, err := s.GetWorkflow(ctx, "wf-order")
		require.NoError(t, err)
		assert.Equal(t, "tenant-1", got.TenantID)
		assert.Equal(t, 3, got.Version)
		assert.True(t, got.IsActive)
		require.Len(t, got.Steps, 2)
		delay, ok := got.Steps[0].Config.(model.DelayConfig)
		require.True(t, ok, "config type = %T", got.Steps[0].Config)
		require.NotNil(t, delay.DurationMs)
		assert.Equal(t, int64(25), *delay.DurationMs)
		assert.Equal(t, int64(500), got.Steps[1].TimeoutMs)
		assert.False(t, got.CreatedAt.IsZero())

		wf.IsActive = false
		require.NoError(t, s.SaveWorkflow(ctx, wf))
		got, err = s.GetWorkflow(ctx, "wf-order")
		require.NoError(t, err)
		assert.False(t, got.IsActive)
	})

	t.Run("workflow not found", func(t *testing.T) {
		_, err := s.GetWorkflow(ctx, "missing")
		require.Error(t, err)
		assert.True(t, model.HasCode(err, model.ErrWorkflowNotFound), "err = %v", err)
	})

	t.Run("list workflows by tenant", func(t *testing.T) {
		require.NoError(t, s.SaveWorkflow(ctx, model.Workflow{ID: "wf-other", TenantID: "tenant-2", Name: "Other", Version: 1}))
		list, err := s.ListWorkflows(ctx, "tenant-2")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "wf-other", list[0].ID)
	})

	t.Run("triggers", func(t *testing.T) {
		trg := model.WorkflowTrigger{
			ID: "trg-1", WorkflowID: "wf-order", TenantID: "tenant-1",
			Kind: model.TriggerKindWebhook, WebhookSecret: "whsec", Enabled: true,
		}
		require.NoError(t, s.SaveTrigger(ctx, trg))
		require.NoError(t, s.SaveTrigger(ctx, model.WorkflowTrigger{
			ID: "trg-2", WorkflowID: "wf-order", TenantID: "tenant-1",
			Kind: model.TriggerKindSchedule, Schedule: "*/5 * * * *", Enabled: true,
		}))

		got, err := s.GetTrigger(ctx, "trg-1")
		require.NoError(t, err)
		assert.Equal(t, "whsec", got.WebhookSecret)
		assert.Nil(t, got.LastTriggeredAt)

		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.TouchTrigger(ctx, "trg-1", at))
		got, err = s.GetTrigger(ctx, "trg-1")
		require.NoError(t, err)
		require.NotNil(t, got.LastTriggeredAt)
		assert.WithinDuration(t, at, *got.LastTriggeredAt, time.Millisecond)

		// Re-saving without a timestamp keeps the recorded one.
		require.NoError(t, s.SaveTrigger(ctx, trg))
		got, err = s.GetTrigger(ctx, "trg-1")
		require.NoError(t, err)
		require.NotNil(t, got.LastTriggeredAt)

		schedules, err := s.ListTriggers(ctx, model.TriggerKindSchedule)
		require.NoError(t, err)
		require.Len(t, schedules, 1)
		assert.Equal(t, "*/5 * * * *", schedules[0].Schedule)

		err = s.TouchTrigger(ctx, "missing", at)
		assert.True(t, model.HasCode(err, model.ErrNotFound), "err = %v", err)
		_, err = s.GetTrigger(ctx, "missing")
		assert.True(t, model.HasCode(err, model.ErrNotFound), "err = %v", err)
	})

	t.Run("execution lifecycle", func(t *testing.T) {
		start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		exec := model.Execution{
			ID: "exec-1", WorkflowID: "wf-order", TenantID: "tenant-1",
			TriggeredBy: model.TriggeredByWebhook,
			TriggerData: map[string]any{"order_id": "A-1"},
			Status:      model.ExecutionRunning,
			StartedAt:   start,
		}
		require.NoError(t, s.CreateExecution(ctx, exec))

		err := s.CreateExecution(ctx, exec)
		assert.True(t, model.HasCode(err, model.ErrConflict), "duplicate create err = %v", err)

		got, err := s.GetExecution(ctx, "tenant-1", "exec-1")
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionRunning, got.Status)
		assert.Nil(t, got.CompletedAt)
		assert.Empty(t, got.ExecutionLog)
		assert.Equal(t, "A-1", got.TriggerData["order_id"])

		done := start.Add(2 * time.Second)
		exec.Status = model.ExecutionFailed
		exec.CompletedAt = &done
		exec.ErrorMessage = "Step s2 failed: boom"
		exec.ExecutionLog = []model.StepResult{
			{StepID: "s1", StepName: "wait", StepType: model.StepTypeDelay, DurationMs: 25,
				Result: map[string]any{"success": true}, Timestamp: start},
			{StepID: "s2", StepName: "call", StepType: model.StepTypeAPICall, DurationMs: 7,
				Result: map[string]any{"success": false, "error": "boom"}, Timestamp: start},
		}
		require.NoError(t, s.FinalizeExecution(ctx, exec))

		got, err = s.GetExecution(ctx, "tenant-1", "exec-1")
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionFailed, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.WithinDuration(t, done, *got.CompletedAt, time.Millisecond)
		assert.Equal(t, "Step s2 failed: boom", got.ErrorMessage)
		require.Len(t, got.ExecutionLog, 2)
		assert.Equal(t, "s2", got.ExecutionLog[1].StepID)
		assert.False(t, got.ExecutionLog[1].Success())

		// Terminal executions stay terminal.
		exec.Status = model.ExecutionCompleted
		exec.ErrorMessage = ""
		err = s.FinalizeExecution(ctx, exec)
		assert.True(t, model.HasCode(err, model.ErrConflict), "refinalize err = %v", err)
		got, err = s.GetExecution(ctx, "", "exec-1")
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionFailed, got.Status)

		err = s.FinalizeExecution(ctx, model.Execution{ID: "missing", Status: model.ExecutionCompleted, CompletedAt: &done})
		assert.True(t, model.HasCode(err, model.ErrNotFound), "missing finalize err = %v", err)
	})

	t.Run("execution tenant isolation", func(t *testing.T) {
		_, err := s.GetExecution(ctx, "tenant-2", "exec-1")
		assert.True(t, model.HasCode(err, model.ErrNotFound), "err = %v", err)
	})

	t.Run("list executions", func(t *testing.T) {
		base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
		for i, id := range []string{"exec-a", "exec-b", "exec-c"} {
			require.NoError(t, s.CreateExecution(ctx, model.Execution{
				ID: id, WorkflowID: "wf-list", TenantID: "tenant-3",
				TriggeredBy: model.TriggeredByManual, Status: model.ExecutionRunning,
				StartedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}
		done := base.Add(time.Hour)
		require.NoError(t, s.FinalizeExecution(ctx, model.Execution{
			ID: "exec-b", Status: model.ExecutionCompleted, CompletedAt: &done,
		}))

		all, err := s.ListExecutions(ctx, "tenant-3", model.ExecutionFilters{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"exec-c", "exec-b", "exec-a"}, executionIDs(all))

		page, err := s.ListExecutions(ctx, "tenant-3", model.ExecutionFilters{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"exec-b"}, executionIDs(page))

		completed, err := s.ListExecutions(ctx, "tenant-3", model.ExecutionFilters{Status: model.ExecutionCompleted})
		require.NoError(t, err)
		assert.Equal(t, []string{"exec-b"}, executionIDs(completed))

		none, err := s.ListExecutions(ctx, "tenant-3", model.ExecutionFilters{WorkflowID: "other"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("table writes are tenant scoped", func(t *testing.T) {
		n, err := s.Insert(ctx, "tenant-1", "tickets", map[string]any{"id": 1, "title": "Broken", "status": "open"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		_, err = s.Insert(ctx, "tenant-2", "tickets", map[string]any{"id": 1, "title": "Other", "status": "open", "tenant_id": "tenant-1"})
		require.NoError(t, err)

		n, err = s.Update(ctx, "tenant-1", "tickets", map[string]any{"status": "closed"}, map[string]any{"id": 1})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.Update(ctx, "tenant-2", "tickets", map[string]any{"status": "closed"}, map[string]any{"id": 1, "status": "open"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "tenant-2's row must not have been touched by tenant-1")

		n, err = s.Delete(ctx, "tenant-2", "tickets", map[string]any{"id": 1})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = s.Delete(ctx, "tenant-2", "tickets", map[string]any{"id": 1})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		n, err = s.Delete(ctx, "tenant-1", "tickets", map[string]any{"id": 1, "status": "closed"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("table writes reject bad identifiers", func(t *testing.T) {
		_, err := s.Insert(ctx, "tenant-1", "tickets; DROP TABLE x", map[string]any{"id": 2})
		assert.Error(t, err)
		_, err = s.Insert(ctx, "tenant-1", "tickets", map[string]any{"id) VALUES (1); --": 2})
		assert.Error(t, err)
	})

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, s.HealthCheck(ctx))
	})
}

func executionIDs(execs []model.Execution) []string {
	ids := make([]string, len(execs))
	for i, e := range execs {
		ids[i] = e.ID
	}
	return ids
}
