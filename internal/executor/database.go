package executor

import (
	"context"
	"fmt"

	"github.com/opsdeck/flowengine/internal/store"
	"github.com/opsdeck/flowengine/model"
)

// DatabaseOperationExecutor writes rows through a TableStore, scoped to the
// tenant that owns the workflow.
type DatabaseOperationExecutor struct {
	tables  store.TableStore
	allowed []string
}

// NewDatabaseOperationExecutor creates the executor. allowed limits the
// tables steps may touch; empty allows any non-reserved table.
func NewDatabaseOperationExecutor(tables store.TableStore, allowed []string) *DatabaseOperationExecutor {
	return &DatabaseOperationExecutor{tables: tables, allowed: allowed}
}

// Execute performs the insert, update or delete.
func (e *DatabaseOperationExecutor) Execute(ctx context.Context, cfg model.DatabaseOperationConfig, sc model.StepContext) model.StepOutput {
	if err := store.ValidateTable(cfg.Table, e.allowed); err != nil {
		return model.Failed(err.Error())
	}

	var (
		n   int64
		err error
	)
	switch cfg.Operation {
	case model.DBInsert:
		n, err = e.tables.Insert(ctx, sc.TenantID, cfg.Table, cfg.Data)
	case model.DBUpdate:
		n, err = e.tables.Update(ctx, sc.TenantID, cfg.Table, cfg.Data, cfg.Filters)
	case model.DBDelete:
		n, err = e.tables.Delete(ctx, sc.TenantID, cfg.Table, cfg.Filters)
	default:
		return model.Failed(fmt.Sprintf("unsupported operation %q", cfg.Operation))
	}
	if err != nil {
		return model.Failed(err.Error())
	}

	return model.Succeeded(map[string]any{
		"operation":     string(cfg.Operation),
		"table":         cfg.Table,
		"rows_affected": n,
	})
}
