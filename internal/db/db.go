// Package db owns the SQLite database backing plan state: connection
// setup, session pragmas, and schema migrations.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB is the open SQLite handle plus its resolved file path.
type DB struct {
	sql  *sql.DB
	path string
}

// DefaultPath puts the database under the user's data directory.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "planforge", "planforge.db")
}

// Open connects to the database at path, falling back to DefaultPath
// when empty. The file and its directory are created on first use and
// the schema is brought up to date before the handle is returned.
func Open(path string) (*DB, error) {
	if path == "" {
		path = DefaultPath()
	}
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating db dir: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	if err := setup(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &DB{sql: conn, path: path}, nil
}

// setup verifies the connection, applies the session pragmas, and runs
// pending migrations.
func setup(conn *sql.DB) error {
	if err := conn.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			return fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}
	return Migrate(conn)
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// SQL exposes the raw handle for the store's queries.
func (d *DB) SQL() *sql.DB {
	if d == nil {
		return nil
	}
	return d.sql
}

// Path returns the resolved database file path.
func (d *DB) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
