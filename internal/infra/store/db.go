// Package store persists credit ledgers and report history.
//
// SQLite (modernc.org/sqlite, pure Go) is the default and keeps a single
// writer connection so conditional updates serialize. Postgres (lib/pq) is
// available for deployments where several processes share one ledger; the
// same conditional UPDATE statements are atomic there per row.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL flavour differences.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DBFile is the sqlite database file name inside the data directory.
const DBFile = "intelbidder.db"

// tsLayout is fixed-width so stored timestamps compare lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps a *sql.DB with the dialect it speaks.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens (or creates) the sqlite database in dir and migrates it.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := "file:" + filepath.Join(dir, DBFile) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer: conditional updates never race inside this process.
	conn.SetMaxOpenConns(1)
	return newDB(conn, DialectSQLite)
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newDB(conn, DialectPostgres)
}

// OpenDriver dispatches on the configured driver name.
func OpenDriver(driver, dir, dsn string) (*DB, error) {
	switch Dialect(strings.ToLower(driver)) {
	case "", DialectSQLite:
		return Open(dir)
	case DialectPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires a database URL")
		}
		return OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func newDB(conn *sql.DB, d Dialect) (*DB, error) {
	db := &DB{db: conn, dialect: d}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the connection pool.
func (db *DB) Close() error { return db.db.Close() }

// Dialect returns the SQL flavour in use.
func (db *DB) Dialect() Dialect { return db.dialect }

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements for dialect d.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations(d Dialect) []string {
	blob := "BLOB"
	if d == DialectPostgres {
		blob = "BYTEA"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS credit_ledgers (
			identity   TEXT PRIMARY KEY,
			total      INTEGER NOT NULL,
			used       INTEGER NOT NULL DEFAULT 0,
			reset_at   TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_reset ON credit_ledgers(reset_at)`,

		`CREATE TABLE IF NOT EXISTS reports (
			id           TEXT PRIMARY KEY,
			identity     TEXT NOT NULL,
			subject      TEXT NOT NULL,
			format       TEXT NOT NULL,
			filename     TEXT NOT NULL,
			content_type TEXT NOT NULL,
			size_bytes   INTEGER NOT NULL DEFAULT 0,
			pages        INTEGER NOT NULL DEFAULT 0,
			content      ` + blob + `,
			created_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_identity ON reports(identity, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_at)`,
	}
}

func (db *DB) migrate() error {
	for _, stmt := range Migrations(db.dialect) {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// rebind rewrites '?' placeholders to '$n' for Postgres.
func (db *DB) rebind(q string) string {
	if db.dialect != DialectPostgres {
		return q
	}
	return Rebind(q)
}

// Rebind rewrites '?' placeholders as $1, $2, ...
func Rebind(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
