// Package store persists plan state so work can resume after
// interruption. Every phase transition and task status change is
// written before the engine takes its next step: restarting the driver
// against the same plan id reproduces the same next action. All write
// operations are idempotent on retry with the same arguments.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/planforge/internal/db"
	"github.com/marcus/planforge/internal/phase"
)

// ErrNotFound is returned when a plan id does not exist.
var ErrNotFound = errors.New("plan not found")

// Store is the plan state store. It owns a plan's record exclusively for
// the duration of its active phases; single-writer discipline comes from
// the phase machine, not from locks here.
type Store struct {
	db *db.DB
}

// New creates a store over an open database.
func New(d *db.DB) (*Store, error) {
	if d == nil || d.SQL() == nil {
		return nil, errors.New("store: nil db")
	}
	return &Store{db: d}, nil
}

// PlanRecord is the persisted state of one plan.
type PlanRecord struct {
	ID        string
	Title     string
	Progress  phase.Progress
	Domains   []string
	Metadata  map[string]string
	RecipeKey string
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Create persists a new plan in its initial state: init in_progress,
// everything else pending. With an empty id a fresh one is generated.
// Retrying with the same id and title returns the existing record
// unchanged; the same id with a different title is a conflict.
func (s *Store) Create(id, title, recipeKey string) (*PlanRecord, error) {
	if title == "" {
		return nil, errors.New("store: plan title is required")
	}
	if id == "" {
		id = "plan-" + uuid.NewString()
	}

	if existing, err := s.Read(id); err == nil {
		if existing.Title != title {
			return nil, fmt.Errorf("store: plan %s already exists with title %q", id, existing.Title)
		}
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	progress := phase.NewProgress()

	tx, err := s.db.SQL().Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO plans (id, title, current_phase, domains, recipe_key, created_at, updated_at)
		 VALUES (?, ?, ?, '[]', ?, ?, ?)`,
		id, title, progress.Current.String(), recipeKey, now, now,
	); err != nil {
		return nil, fmt.Errorf("store: insert plan: %w", err)
	}

	for i, ph := range phase.All() {
		if _, err := tx.Exec(
			`INSERT INTO plan_phases (plan_id, phase, ord, status) VALUES (?, ?, ?, ?)`,
			id, ph.String(), i, string(progress.Of(ph)),
		); err != nil {
			return nil, fmt.Errorf("store: insert phase row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit create: %w", err)
	}

	return s.Read(id)
}

// Read reconstructs a plan record. Two reads with no intervening write
// return identical state.
func (s *Store) Read(id string) (*PlanRecord, error) {
	row := s.db.SQL().QueryRow(
		`SELECT id, title, current_phase, domains, recipe_key, archived, created_at, updated_at
		 FROM plans WHERE id = ?`, id)

	var rec PlanRecord
	var current, domains string
	var archived int
	if err := row.Scan(&rec.ID, &rec.Title, &current, &domains, &rec.RecipeKey, &archived, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("store: read plan: %w", err)
	}
	rec.Archived = archived != 0

	cur, err := phase.Parse(current)
	if err != nil {
		return nil, fmt.Errorf("store: plan %s: %w", id, err)
	}
	rec.Progress.Current = cur

	if err := json.Unmarshal([]byte(domains), &rec.Domains); err != nil {
		return nil, fmt.Errorf("store: plan %s domains: %w", id, err)
	}

	rows, err := s.db.SQL().Query(
		`SELECT phase, status FROM plan_phases WHERE plan_id = ? ORDER BY ord`, id)
	if err != nil {
		return nil, fmt.Errorf("store: read phases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, status string
		if err := rows.Scan(&name, &status); err != nil {
			return nil, fmt.Errorf("store: scan phase: %w", err)
		}
		ph, err := phase.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("store: plan %s: %w", id, err)
		}
		st, err := phase.ParseStatus(status)
		if err != nil {
			return nil, fmt.Errorf("store: plan %s phase %s: %w", id, name, err)
		}
		rec.Progress.Status[ph] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read phases: %w", err)
	}

	rec.Metadata, err = s.metadata(id)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) metadata(id string) (map[string]string, error) {
	rows, err := s.db.SQL().Query(
		`SELECT key, value FROM plan_metadata WHERE plan_id = ? ORDER BY key`, id)
	if err != nil {
		return nil, fmt.Errorf("store: read metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: scan metadata: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// SetPhaseStatus updates one phase's status and, when the status is
// in_progress, moves the current phase pointer with it.
func (s *Store) SetPhaseStatus(id string, ph phase.Phase, status phase.Status) error {
	tx, err := s.db.SQL().Begin()
	if err != nil {
		return fmt.Errorf("store: begin update-phase: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(
		`UPDATE plan_phases SET status = ? WHERE plan_id = ? AND phase = ?`,
		string(status), id, ph.String())
	if err != nil {
		return fmt.Errorf("store: update phase: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if status == phase.StatusInProgress {
		if _, err := tx.Exec(
			`UPDATE plans SET current_phase = ?, updated_at = ? WHERE id = ?`,
			ph.String(), time.Now().UTC().Truncate(time.Second), id); err != nil {
			return fmt.Errorf("store: update current phase: %w", err)
		}
	} else {
		if err := touch(tx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ApplyProgress persists a full progress snapshot in one transaction.
// This is what the phase machine's successful transitions and loop-backs
// write through.
func (s *Store) ApplyProgress(id string, progress phase.Progress) error {
	tx, err := s.db.SQL().Begin()
	if err != nil {
		return fmt.Errorf("store: begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(
		`UPDATE plans SET current_phase = ?, updated_at = ? WHERE id = ?`,
		progress.Current.String(), time.Now().UTC().Truncate(time.Second), id)
	if err != nil {
		return fmt.Errorf("store: update plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	for _, ph := range phase.All() {
		if _, err := tx.Exec(
			`UPDATE plan_phases SET status = ? WHERE plan_id = ? AND phase = ?`,
			string(progress.Of(ph)), id, ph.String()); err != nil {
			return fmt.Errorf("store: update phase %s: %w", ph, err)
		}
	}
	return tx.Commit()
}

// SetDomains replaces the plan's domain set. Domains are stored sorted
// so reads are stable.
func (s *Store) SetDomains(id string, domains []string) error {
	sorted := append([]string(nil), domains...)
	sort.Strings(sorted)
	encoded, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("store: encode domains: %w", err)
	}

	res, err := s.db.SQL().Exec(
		`UPDATE plans SET domains = ?, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now().UTC().Truncate(time.Second), id)
	if err != nil {
		return fmt.Errorf("store: set domains: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// SetMetadata writes one metadata key with append/overwrite semantics.
func (s *Store) SetMetadata(id, key, value string) error {
	if _, err := s.Read(id); err != nil {
		return err
	}
	_, err := s.db.SQL().Exec(
		`INSERT INTO plan_metadata (plan_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (plan_id, key) DO UPDATE SET value = excluded.value`,
		id, key, value)
	if err != nil {
		return fmt.Errorf("store: set metadata: %w", err)
	}
	return nil
}

// Archive marks a plan archived. Only legal after the terminal phase
// completed.
func (s *Store) Archive(id string) error {
	rec, err := s.Read(id)
	if err != nil {
		return err
	}
	if !rec.Progress.Terminal() {
		return fmt.Errorf("store: plan %s is in %s, only finalized plans can be archived", id, rec.Progress.Current)
	}

	_, err = s.db.SQL().Exec(
		`UPDATE plans SET archived = 1, archived_at = ?, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Truncate(time.Second), time.Now().UTC().Truncate(time.Second), id)
	if err != nil {
		return fmt.Errorf("store: archive: %w", err)
	}
	return nil
}

// Summary is one row of a plan listing.
type Summary struct {
	ID           string
	Title        string
	CurrentPhase phase.Phase
	Archived     bool
	UpdatedAt    time.Time
}

// List returns plan summaries, most recently updated first.
func (s *Store) List(includeArchived bool) ([]Summary, error) {
	query := `SELECT id, title, current_phase, archived, updated_at FROM plans`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY updated_at DESC, id`

	rows, err := s.db.SQL().Query(query)
	if err != nil {
		return nil, fmt.Errorf("store: list plans: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var current string
		var archived int
		if err := rows.Scan(&sum.ID, &sum.Title, &current, &archived, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan plan: %w", err)
		}
		sum.Archived = archived != 0
		if sum.CurrentPhase, err = phase.Parse(current); err != nil {
			return nil, fmt.Errorf("store: plan %s: %w", sum.ID, err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func touch(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(
		`UPDATE plans SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Truncate(time.Second), id); err != nil {
		return fmt.Errorf("store: touch plan: %w", err)
	}
	return nil
}
