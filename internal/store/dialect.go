package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect hides the SQL differences between the database/sql backends
// that SQLStore supports.
type Dialect interface {
	// Name is the store driver name used in configuration.
	Name() string
	// DriverName is the database/sql driver to open.
	DriverName() string
	// Quote returns ident quoted for use as a table or column name.
	Quote(ident string) string
	// UpsertSQL returns an insert-or-update statement using ? placeholders.
	UpsertSQL(table string, columns []string, conflictColumn string, updateColumns []string) string
	// Schema returns the statements that create the engine tables.
	Schema() []string
	// ConfigureDB returns statements run once after connecting.
	ConfigureDB() []string
	// IsUniqueViolation reports whether err is a primary/unique key clash.
	IsUniqueViolation(err error) bool
}

// DialectFor returns the dialect for a store driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	case "pq":
		return pqDialect{}, nil
	default:
		return nil, fmt.Errorf("no SQL dialect for driver %q", driver)
	}
}

// genericSchema is written in the common subset and adjusted per dialect.
var genericSchema = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id          VARCHAR(191) PRIMARY KEY,
		tenant_id   VARCHAR(191) NOT NULL,
		name        VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		steps       TEXT NOT NULL,
		is_active   BOOLEAN NOT NULL,
		version     INTEGER NOT NULL,
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_triggers (
		id                VARCHAR(191) PRIMARY KEY,
		workflow_id       VARCHAR(191) NOT NULL,
		tenant_id         VARCHAR(191) NOT NULL,
		kind              VARCHAR(32) NOT NULL,
		webhook_secret    TEXT NOT NULL,
		schedule          VARCHAR(255) NOT NULL,
		event_type        VARCHAR(255) NOT NULL,
		enabled           BOOLEAN NOT NULL,
		last_triggered_at DATETIME NULL
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_executions (
		id            VARCHAR(191) PRIMARY KEY,
		workflow_id   VARCHAR(191) NOT NULL,
		tenant_id     VARCHAR(191) NOT NULL,
		triggered_by  VARCHAR(32) NOT NULL,
		trigger_data  TEXT NULL,
		status        VARCHAR(32) NOT NULL,
		started_at    DATETIME NOT NULL,
		completed_at  DATETIME NULL,
		error_message TEXT NOT NULL,
		execution_log TEXT NULL
	)`,
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite" }
func (sqliteDialect) DriverName() string { return "sqlite3" }

func (sqliteDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (d sqliteDialect) UpsertSQL(table string, columns []string, conflictColumn string, updateColumns []string) string {
	return onConflictUpsert(d, table, columns, conflictColumn, updateColumns, "excluded")
}

func (sqliteDialect) Schema() []string {
	return append(append([]string(nil), genericSchema...),
		`CREATE INDEX IF NOT EXISTS idx_workflows_tenant ON workflows (tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_triggers_kind ON workflow_triggers (kind)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_executions_tenant ON workflow_executions (tenant_id, started_at)`,
	)
}

func (sqliteDialect) ConfigureDB() []string {
	return []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
}

func (sqliteDialect) IsUniqueViolation(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string       { return "mysql" }
func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (d mysqlDialect) UpsertSQL(table string, columns []string, _ string, updateColumns []string) string {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.Quote(c)
		marks[i] = "?"
	}
	updates := make([]string, len(updateColumns))
	for i, c := range updateColumns {
		updates[i] = fmt.Sprintf("%s = VALUES(%s)", d.Quote(c), d.Quote(c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		d.Quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "), strings.Join(updates, ", "))
}

func (mysqlDialect) Schema() []string {
	out := make([]string, len(genericSchema))
	for i, stmt := range genericSchema {
		stmt = strings.ReplaceAll(stmt, "DATETIME", "DATETIME(6)")
		out[i] = stmt + " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	}
	return out
}

// ConfigureDB is empty; ConfigureMySQLDSN pins the session to UTC.
func (mysqlDialect) ConfigureDB() []string { return nil }

func (mysqlDialect) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

// ConfigureMySQLDSN forces the DSN options the store relies on.
func ConfigureMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

type pqDialect struct{}

func (pqDialect) Name() string       { return "pq" }
func (pqDialect) DriverName() string { return "postgres" }

func (pqDialect) Quote(ident string) string { return pq.QuoteIdentifier(ident) }

func (d pqDialect) UpsertSQL(table string, columns []string, conflictColumn string, updateColumns []string) string {
	return onConflictUpsert(d, table, columns, conflictColumn, updateColumns, "EXCLUDED")
}

func (pqDialect) Schema() []string {
	out := make([]string, 0, len(genericSchema)+3)
	for _, stmt := range genericSchema {
		out = append(out, strings.ReplaceAll(stmt, "DATETIME", "TIMESTAMPTZ"))
	}
	return append(out,
		`CREATE INDEX IF NOT EXISTS idx_workflows_tenant ON workflows (tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_triggers_kind ON workflow_triggers (kind)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_executions_tenant ON workflow_executions (tenant_id, started_at DESC)`,
	)
}

func (pqDialect) ConfigureDB() []string { return nil }

func (pqDialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func onConflictUpsert(d Dialect, table string, columns []string, conflictColumn string, updateColumns []string, excluded string) string {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.Quote(c)
		marks[i] = "?"
	}
	updates := make([]string, len(updateColumns))
	for i, c := range updateColumns {
		updates[i] = fmt.Sprintf("%s = %s.%s", d.Quote(c), excluded, d.Quote(c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		d.Quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "),
		d.Quote(conflictColumn), strings.Join(updates, ", "))
}
