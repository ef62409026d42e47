package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNoRecord is returned by Update when the item has never been fetched.
var ErrNoRecord = errors.New("status record not found")

// Upsert inserts the record or updates the patched columns in place. Creating
// a record requires a status, so only the fetch stage calls it.
func (s *Store) Upsert(ctx context.Context, id string, patch Patch) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("upsert: id is required")
	}
	if patch.Status == nil {
		return fmt.Errorf("upsert %s: status is required", id)
	}
	assignments, err := patch.assignments()
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}

	now := formatTime(s.now())
	columns := []string{"id", "created_at", "processed_at"}
	args := []any{id, now, now}
	updates := []string{"processed_at"}
	for _, a := range assignments {
		columns = append(columns, a.column)
		args = append(args, a.value)
		updates = append(updates, a.column)
	}

	query := fmt.Sprintf(
		"INSERT INTO status_records (%s) VALUES (%s) %s",
		strings.Join(columns, ", "),
		makePlaceholders(len(columns)),
		s.dialect.upsertSuffix(updates),
	)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %s: %w", id, err)
		}
		return s.writeClassification(ctx, tx, id, patch.ClassificationRow)
	})
}

// Update changes the patched columns of an existing record. It never creates
// a record; ErrNoRecord is returned when id is unknown.
func (s *Store) Update(ctx context.Context, id string, patch Patch) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("update: id is required")
	}
	assignments, err := patch.assignments()
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}

	sets := []string{"processed_at = ?"}
	args := []any{formatTime(s.now())}
	for _, a := range assignments {
		sets = append(sets, a.column+" = ?")
		args = append(args, a.value)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE status_records SET %s WHERE id = ?", strings.Join(sets, ", "))

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update %s: rows affected: %w", id, err)
		}
		if affected == 0 {
			return fmt.Errorf("update %s: %w", id, ErrNoRecord)
		}
		return s.writeClassification(ctx, tx, id, patch.ClassificationRow)
	})
}

func (s *Store) writeClassification(ctx context.Context, tx *sql.Tx, id string, row *ClassificationRow) error {
	if row == nil {
		return nil
	}
	columns := []string{"id", "classification_version", "call_type", "sale_result", "product_family", "agent_name", "overall_confidence", "model", "classified_at"}
	query := fmt.Sprintf(
		"INSERT INTO call_classifications (%s) VALUES (%s) %s",
		strings.Join(columns, ", "),
		makePlaceholders(len(columns)),
		s.dialect.upsertSuffix(columns[1:]),
	)
	_, err := tx.ExecContext(ctx, query,
		id,
		nullableString(row.Version),
		nullableString(row.CallTypes),
		nullableString(row.SaleResult),
		nullableString(row.ProductFamily),
		nullableString(row.AgentName),
		row.OverallConfidence,
		nullableString(row.Model),
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("write classification %s: %w", id, err)
	}
	return nil
}

// Get returns the record for id, or nil when none exists.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM status_records WHERE id = ?", strings.TrimSpace(id))
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return record, nil
}

// BulkKeys returns the ids matching filter in one query, oldest write first.
func (s *Store) BulkKeys(ctx context.Context, filter Filter) ([]string, error) {
	ctx = ensureContext(ctx)
	where, args, err := filter.where()
	if err != nil {
		return nil, err
	}
	query := "SELECT id FROM status_records" + where + " ORDER BY processed_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bulk keys: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("bulk keys: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bulk keys: %w", err)
	}
	return ids, nil
}

// List returns full records matching filter, oldest write first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Record, error) {
	ctx = ensureContext(ctx)
	where, args, err := filter.where()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + recordColumns + " FROM status_records" + where + " ORDER BY processed_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: scan: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (f Filter) where() (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	if len(f.Statuses) > 0 {
		for _, status := range f.Statuses {
			if _, ok := statusTable[status]; !ok {
				return "", nil, fmt.Errorf("filter: invalid status %q", status)
			}
			args = append(args, string(status))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", makePlaceholders(len(f.Statuses))))
	}
	for _, flag := range f.FlagSet {
		if !flag.valid() {
			return "", nil, fmt.Errorf("filter: unknown flag %q", flag)
		}
		clauses = append(clauses, string(flag)+" = 1")
	}
	for _, flag := range f.FlagUnset {
		if !flag.valid() {
			return "", nil, fmt.Errorf("filter: unknown flag %q", flag)
		}
		clauses = append(clauses, fmt.Sprintf("(%s = 0 OR %s IS NULL)", flag, flag))
	}
	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}
