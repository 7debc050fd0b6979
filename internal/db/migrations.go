package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: plans, plan_phases, plan_metadata, deliverables, tasks, task_steps, findings",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "add recipe_key column to plans",
		SQL:         migration002SQL,
	},
	{
		Version:     3,
		Description: "add archived_at column and findings lookup index",
		SQL:         migration003SQL,
	},
}

const migration001SQL = `
CREATE TABLE plans (
    id            TEXT PRIMARY KEY,
    title         TEXT NOT NULL,
    current_phase TEXT NOT NULL,
    domains       TEXT NOT NULL DEFAULT '[]',
    archived      INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL
);

CREATE TABLE plan_phases (
    plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    phase   TEXT NOT NULL,
    ord     INTEGER NOT NULL,
    status  TEXT NOT NULL,
    PRIMARY KEY (plan_id, phase)
);

CREATE TABLE plan_metadata (
    plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    key     TEXT NOT NULL,
    value   TEXT NOT NULL,
    PRIMARY KEY (plan_id, key)
);

CREATE TABLE deliverables (
    plan_id          TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    ordinal          INTEGER NOT NULL,
    title            TEXT NOT NULL,
    change_type      TEXT NOT NULL,
    execution_mode   TEXT NOT NULL,
    domain           TEXT NOT NULL,
    module           TEXT NOT NULL,
    profiles         TEXT NOT NULL,
    affected_files   TEXT NOT NULL,
    file_changes     TEXT NOT NULL,
    verify_command   TEXT NOT NULL,
    verify_criteria  TEXT NOT NULL,
    success_criteria TEXT NOT NULL,
    PRIMARY KEY (plan_id, ordinal)
);

CREATE TABLE tasks (
    plan_id     TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    number      INTEGER NOT NULL,
    deliverable INTEGER NOT NULL,
    domain      TEXT NOT NULL,
    module      TEXT NOT NULL,
    profile     TEXT NOT NULL,
    skills      TEXT NOT NULL,
    manual      INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL,
    depends_on  INTEGER,
    PRIMARY KEY (plan_id, number)
);

CREATE TABLE task_steps (
    plan_id     TEXT NOT NULL,
    task_number INTEGER NOT NULL,
    ord         INTEGER NOT NULL,
    description TEXT NOT NULL,
    done        INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (plan_id, task_number, ord),
    FOREIGN KEY (plan_id, task_number) REFERENCES tasks(plan_id, number) ON DELETE CASCADE
);

CREATE TABLE findings (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    plan_id    TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    phase      TEXT NOT NULL,
    source     TEXT NOT NULL,
    type       TEXT NOT NULL,
    title      TEXT NOT NULL,
    detail     TEXT NOT NULL,
    resolved   INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);

CREATE INDEX idx_tasks_plan_status ON tasks(plan_id, status, number);
`

const migration002SQL = `
ALTER TABLE plans ADD COLUMN recipe_key TEXT NOT NULL DEFAULT '';
`

const migration003SQL = `
ALTER TABLE plans ADD COLUMN archived_at DATETIME;

CREATE INDEX IF NOT EXISTS idx_findings_plan_phase ON findings(plan_id, phase, resolved);
`

// Migrate runs all pending migrations inside transactions.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		log.Printf("db: applied migration %d: %s", migration.Version, migration.Description)
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}
