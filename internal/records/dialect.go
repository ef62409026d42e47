package records

import (
	"fmt"
	"strings"
)

// dialect isolates the SQL that differs between the supported backends.
type dialect interface {
	name() string
	schema() string
	tableExistsQuery() string
	upsertSuffix(columns []string) string
}

type sqliteDialect struct{}

func (sqliteDialect) name() string   { return "sqlite" }
func (sqliteDialect) schema() string { return sqliteSchemaSQL }

func (sqliteDialect) tableExistsQuery() string {
	return "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?"
}

func (sqliteDialect) upsertSuffix(columns []string) string {
	return "ON CONFLICT(id) DO UPDATE SET " + joinAssignments(columns, "%s = excluded.%s")
}

type mysqlDialect struct{}

func (mysqlDialect) name() string   { return "mysql" }
func (mysqlDialect) schema() string { return mysqlSchemaSQL }

func (mysqlDialect) tableExistsQuery() string {
	return "SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
}

func (mysqlDialect) upsertSuffix(columns []string) string {
	return "ON DUPLICATE KEY UPDATE " + joinAssignments(columns, "%s = VALUES(%s)")
}

func joinAssignments(columns []string, format string) string {
	parts := make([]string, 0, len(columns))
	for _, column := range columns {
		parts = append(parts, fmt.Sprintf(format, column, column))
	}
	return strings.Join(parts, ", ")
}

// splitStatements breaks an embedded schema file into single statements for
// drivers that reject multi-statement Exec calls.
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
