// Package store persists tasks in SQLite and reads the bos config file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"bos-cli/internal/position"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a task id does not exist.
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed task table.
type Store struct {
	db   *sql.DB
	path string
	cfg  position.Config

	posCol  string
	orderBy string
}

var columnRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Open opens (or creates) the database at path and migrates it. The ordering column is
// cfg.PositionField. ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, cfg position.Config) (*Store, error) {
	cfg = cfg.WithDefaults()
	col := strings.TrimSpace(cfg.PositionField)
	if !columnRe.MatchString(col) {
		return nil, fmt.Errorf("invalid position column %q", col)
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := openSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s := &Store{db: db, path: path, cfg: cfg, posCol: col, orderBy: orderClause(cfg)}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Path() string { return s.path }

// Config returns the positioning config the store was opened with.
func (s *Store) Config() position.Config { return s.cfg }

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: keeps ":memory:" a single database and avoids SQLITE_BUSY between our own
	// connections.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

const schemaVersion = "1"

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS state_meta (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL DEFAULT '',
			parent_id TEXT,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			` + s.posCol + ` REAL NOT NULL DEFAULT 0,
			repositioned_after_id TEXT,
			created_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_scope ON tasks(job_id, parent_id, ` + s.posCol + `, created_at);`,
		`INSERT OR IGNORE INTO state_meta(k, v) VALUES('schema_version', '` + schemaVersion + `');`,
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// orderClause renders position.OrderBy as SQL so persisted order equals in-memory order. rowid
// breaks the remaining ties the same way a stable sort over insertion order does.
func orderClause(cfg position.Config) string {
	cols := position.OrderBy(cfg)
	parts := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		parts = append(parts, c+" ASC")
	}
	parts = append(parts, "rowid ASC")
	return " ORDER BY " + strings.Join(parts, ", ")
}

// Meta reads a state_meta value; missing keys return "".
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM state_meta WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO state_meta(k, v) VALUES(?, ?)`, key, value)
	return err
}
