package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Stats summarizes the status table for operator output.
type Stats struct {
	Total            int
	ByStatus         map[Status]int
	Flags            map[Flag]int
	TranscribeFailed int
	ClassifyFailed   int
}

// Stats counts records by status and completion flag in one query.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	query := `SELECT status,
		COUNT(1),
		COALESCE(SUM(fetched), 0),
		COALESCE(SUM(transcribed), 0),
		COALESCE(SUM(analyzed), 0),
		COALESCE(SUM(classified), 0),
		COALESCE(SUM(CASE WHEN transcribe_status = 'FAILED' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN classify_status = 'FAILED' THEN 1 ELSE 0 END), 0)
	FROM status_records GROUP BY status`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return Stats{}, fmt.Errorf("status stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{ByStatus: make(map[Status]int), Flags: make(map[Flag]int)}
	for rows.Next() {
		var (
			status                                                   string
			count, fetched, transcribed, analyzed, classified, tf, cf int
		)
		if err := rows.Scan(&status, &count, &fetched, &transcribed, &analyzed, &classified, &tf, &cf); err != nil {
			return Stats{}, fmt.Errorf("status stats: scan: %w", err)
		}
		stats.Total += count
		stats.ByStatus[Status(status)] = count
		stats.Flags[FlagFetched] += fetched
		stats.Flags[FlagTranscribed] += transcribed
		stats.Flags[FlagAnalyzed] += analyzed
		stats.Flags[FlagClassified] += classified
		stats.TranscribeFailed += tf
		stats.ClassifyFailed += cf
	}
	return stats, rows.Err()
}

// ResetFetch deletes records so the fetch stage picks the items up again.
// At least one of ids or statuses must be given.
func (s *Store) ResetFetch(ctx context.Context, ids []string, statuses []Status) (int64, error) {
	where, args, err := resetWhere(ids, statuses)
	if err != nil {
		return 0, err
	}
	res, err := s.execWithRetry(ctx, "DELETE FROM status_records"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("reset fetch: %w", err)
	}
	return res.RowsAffected()
}

// ResetStage clears a later stage's flag, payload, and outcome so it runs
// again. Resetting transcription also resets classification, since a new
// transcript invalidates the old classification. An empty ids slice resets
// every record where the stage had completed.
func (s *Store) ResetStage(ctx context.Context, flag Flag, ids []string) (int64, error) {
	var sets []string
	clearClassify := []string{"classified = 0", "classification = NULL", "classification_model = NULL", "classify_status = NULL", "classify_error = NULL"}
	switch flag {
	case FlagTranscribed:
		sets = append([]string{
			"transcribed = 0", "analyzed = 0",
			"transcript = NULL", "diarized_transcript = NULL", "transcript_raw = NULL",
			"summary = NULL", "topics = NULL", "intents = NULL", "sentiment = NULL",
			"transcribe_status = NULL", "transcribe_error = NULL",
		}, clearClassify...)
	case FlagClassified:
		sets = clearClassify
	default:
		return 0, fmt.Errorf("reset stage: flag %q cannot be reset on its own", flag)
	}

	where := fmt.Sprintf(" WHERE (%s = 1 OR %s IS NOT NULL)", flag, stageStatusColumn(flag))
	var args []any
	if len(ids) > 0 {
		where += fmt.Sprintf(" AND id IN (%s)", makePlaceholders(len(ids)))
		for _, id := range ids {
			args = append(args, strings.TrimSpace(id))
		}
	}

	var affected int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE status_records SET "+strings.Join(sets, ", ")+where, args...)
		if err != nil {
			return err
		}
		if affected, err = res.RowsAffected(); err != nil {
			return err
		}
		deleteWhere := ""
		if len(ids) > 0 {
			deleteWhere = fmt.Sprintf(" WHERE id IN (%s)", makePlaceholders(len(ids)))
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM call_classifications"+deleteWhere, args...)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reset %s: %w", flag, err)
	}
	return affected, nil
}

func stageStatusColumn(flag Flag) string {
	if flag == FlagTranscribed {
		return "transcribe_status"
	}
	return "classify_status"
}

func resetWhere(ids []string, statuses []Status) (string, []any, error) {
	if len(ids) == 0 && len(statuses) == 0 {
		return "", nil, errors.New("reset fetch: ids or statuses are required")
	}
	var (
		clauses []string
		args    []any
	)
	if len(ids) > 0 {
		clauses = append(clauses, fmt.Sprintf("id IN (%s)", makePlaceholders(len(ids))))
		for _, id := range ids {
			args = append(args, strings.TrimSpace(id))
		}
	}
	if len(statuses) > 0 {
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", makePlaceholders(len(statuses))))
		for _, status := range statuses {
			if _, ok := statusTable[status]; !ok {
				return "", nil, fmt.Errorf("reset fetch: invalid status %q", status)
			}
			args = append(args, string(status))
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// DatabaseHealth describes the reachability and shape of the status store.
type DatabaseHealth struct {
	Driver         string
	Location       string
	Reachable      bool
	SchemaVersion  int
	TableExists    bool
	ColumnsPresent []string
	MissingColumns []string
	IntegrityCheck bool
	TotalRecords   int
	Error          string
}

// CheckHealth returns diagnostic information about the status database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{Driver: s.dialect.name(), Location: s.location}
	if s.db == nil {
		return health, errors.New("status database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	fail := func(op string, err error) (DatabaseHealth, error) {
		health.Error = err.Error()
		return health, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.db.PingContext(connCtx); err != nil {
		return fail("ping status database", err)
	}
	health.Reachable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		return fail("read schema version", err)
	}

	exists, err := s.tableExists(connCtx, "status_records")
	if err != nil {
		return fail("query table info", err)
	}
	health.TableExists = exists
	if exists {
		rows, err := s.db.QueryContext(connCtx, "SELECT * FROM status_records LIMIT 0")
		if err != nil {
			return fail("table columns", err)
		}
		columns, err := rows.Columns()
		rows.Close()
		if err != nil {
			return fail("table columns", err)
		}
		health.ColumnsPresent = columns

		present := make(map[string]struct{}, len(columns))
		for _, col := range columns {
			present[col] = struct{}{}
		}
		for _, col := range strings.Split(recordColumns, ", ") {
			if _, ok := present[col]; !ok {
				health.MissingColumns = append(health.MissingColumns, col)
			}
		}
		sort.Strings(health.MissingColumns)

		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM status_records").Scan(&health.TotalRecords); err != nil {
			return fail("count status records", err)
		}
	}

	health.IntegrityCheck = true
	if _, ok := s.dialect.(sqliteDialect); ok {
		var result string
		if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&result); err != nil {
			return fail("integrity check", err)
		}
		health.IntegrityCheck = strings.EqualFold(result, "ok")
	}
	return health, nil
}
