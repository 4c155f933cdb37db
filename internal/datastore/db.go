package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	// pq is the PostgreSQL driver
	_ "github.com/lib/pq"
	// sqlite backs local runs and tests
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrNotFound is returned by Get* lookups when no row matches.
var ErrNotFound = errors.New("record not found")

// Store is the durable record store shared by the engines and handlers.
// The same queries run against Postgres and SQLite; placeholders are written
// as '?' and rebound to '$n' for Postgres.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and applies the schema.
func Open(driver, dataSourceName string) (*Store, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		if !strings.Contains(dataSourceName, "_pragma=") {
			sep := "?"
			if strings.Contains(dataSourceName, "?") {
				sep = "&"
			}
			dataSourceName += sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// A single connection serializes writers; claim/resolve rely on
		// conditional updates, not on connection-level isolation.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Driver reports which SQL dialect the store speaks.
func (s *Store) Driver() string { return s.driver }

// rebind rewrites '?' placeholders into '$1..$n' for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside one transaction and commits only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil || value.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func timePtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func floatPtr(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	f := value.Float64
	return &f
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

// Now is overridable in tests.
var Now = func() time.Time { return time.Now().UTC() }
