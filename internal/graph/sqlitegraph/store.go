package sqlitegraph

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/snitch/internal/graph"
	"github.com/roach88/snitch/internal/graphir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Partial unique indexes enforcing one open state per node and one
//     open edge per (rel, src, dst)
// 2 - Triggers rejecting empty or inverted edge intervals on databases
//     created before edges carried a CHECK
const currentSchemaVersion = 2

// Store is a graph.Backend on SQLite.
type Store struct {
	db *sql.DB
}

var _ graph.Backend = (*Store)(nil)

// Open creates or opens a SQLite graph database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - Immediate transactions, so a transaction holds the write lock from
//     its first statement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path + "&_txlock=immediate"
	}
	return path + "?_txlock=immediate"
}

// Close closes the database connection.
func (s *Store) Close(context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Begin starts an immediate transaction.
func (s *Store) Begin(ctx context.Context) (graph.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// IsTransient reports SQLITE_BUSY and SQLITE_LOCKED failures.
func (s *Store) IsTransient(err error) bool {
	return IsTransient(err)
}

// IsTransient reports SQLITE_BUSY and SQLITE_LOCKED failures.
func IsTransient(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// EnsureConstraints is a no-op: identity uniqueness is the nodes primary key.
func (s *Store) EnsureConstraints(context.Context, []graph.Key) error {
	return nil
}

// Query runs a traversal outside any explicit transaction.
func (s *Store) Query(ctx context.Context, q graphir.Traversal) ([]graph.Row, error) {
	return queryRows(ctx, s.db, q)
}

// Count counts traversal rows outside any explicit transaction.
func (s *Store) Count(ctx context.Context, q graphir.Traversal) (int64, error) {
	return countRows(ctx, s.db, q)
}

// Times lists interval start times outside any explicit transaction.
func (s *Store) Times(ctx context.Context, q graphir.Times) ([]int64, error) {
	return queryTimes(ctx, s.db, q)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the partial unique indexes that enforce at most one open
// interval per state owner and per edge endpoint pair.
func migrateToV1(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_states_open
			ON states (label, identity) WHERE to_ms = %d`, graph.EndOfTime),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_edges_open
			ON edges (rel, src_label, src_identity, dst_label, dst_identity) WHERE to_ms = %d`, graph.EndOfTime),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// migrateToV2 guards edge intervals the way the states CHECK does. SQLite
// cannot add a CHECK to an existing table.
func migrateToV2(db *sql.DB) error {
	stmts := []string{
		`CREATE TRIGGER IF NOT EXISTS edges_interval_insert
			BEFORE INSERT ON edges WHEN NEW.from_ms >= NEW.to_ms
			BEGIN SELECT RAISE(ABORT, 'edge interval must be non-empty'); END`,
		`CREATE TRIGGER IF NOT EXISTS edges_interval_update
			BEFORE UPDATE OF from_ms, to_ms ON edges WHEN NEW.from_ms >= NEW.to_ms
			BEGIN SELECT RAISE(ABORT, 'edge interval must be non-empty'); END`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
