package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"callpipe/internal/config"
)

// Store manages status record persistence.
type Store struct {
	db      *sql.DB
	dialect dialect
	// location is the sqlite file path or the redacted mysql address.
	location string
	now      func() time.Time
}

const (
	sqliteBusyCode          = 5
	mysqlLockWaitTimeout    = 1205
	mysqlDeadlock           = 1213
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	pingTimeout             = 5 * time.Second
)

// Open connects to the configured backend, verifies it is reachable, and
// creates or validates the schema.
func Open(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("records: config is required")
	}
	switch cfg.Store.Driver {
	case config.DriverSQLite, "":
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(cfg.Store.Path)
	case config.DriverMySQL:
		return OpenMySQL(cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("records: unsupported driver %q", cfg.Store.Driver)
	}
}

// OpenSQLite opens (creating if needed) a SQLite status database at path.
// Pragmas travel in the DSN so every pooled connection receives them.
func OpenSQLite(path string) (*Store, error) {
	params := url.Values{}
	for _, pragma := range []string{"journal_mode(WAL)", "foreign_keys(1)", "busy_timeout(5000)"} {
		params.Add("_pragma", pragma)
	}
	dsn := "file:" + path + "?" + params.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return finishOpen(db, sqliteDialect{}, path)
}

// OpenMySQL connects to a MySQL status database described by dsn.
func OpenMySQL(dsn string) (*Store, error) {
	mcfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	if mcfg.Timeout == 0 {
		mcfg.Timeout = pingTimeout
	}
	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxIdleConns(4)
	return finishOpen(db, mysqlDialect{}, fmt.Sprintf("%s/%s", mcfg.Addr, mcfg.DBName))
}

func finishOpen(db *sql.DB, d dialect, location string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s status store unreachable at %s: %w", d.name(), location, err)
	}

	store := &Store{db: db, dialect: d, location: location, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Location describes where the store lives, for status output.
func (s *Store) Location() string {
	return s.location
}

// Driver returns the backend name.
func (s *Store) Driver() string {
	return s.dialect.name()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDeadlock || mysqlErr.Number == mysqlLockWaitTimeout
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// withTx runs fn in a transaction, retrying the whole transaction when the
// backend reports lock contention.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
