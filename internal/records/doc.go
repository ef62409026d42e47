// Package records persists one status record per work item.
//
// The store is the only durable state in callpipe: stage 1 creates a record
// with a terminal status, later stages update it in place and set their
// completion flag in the same write as their payload. Pending sets are derived
// from it with single bulk reads, so a run can be killed at any point and
// restarted without repeating finished items.
//
// Two backends share the same schema shape: SQLite (modernc.org/sqlite, the
// default) and MySQL (go-sql-driver/mysql) for shared deployments.
package records
