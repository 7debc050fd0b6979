package store

import (
	"fmt"
	"time"

	"github.com/marcus/planforge/internal/phase"
)

// FindingRecord is one persisted entry of the append-only findings log.
type FindingRecord struct {
	ID        int64
	Finding   phase.Finding
	Resolved  bool
	CreatedAt time.Time
}

// AppendFindings adds findings to the log. The log is append-only:
// entries are never rewritten, only marked resolved when a fresh
// correction cycle starts.
func (s *Store) AppendFindings(id string, findings []phase.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	if _, err := s.Read(id); err != nil {
		return err
	}

	tx, err := s.db.SQL().Begin()
	if err != nil {
		return fmt.Errorf("store: begin append findings: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Truncate(time.Second)
	for _, f := range findings {
		if _, err := tx.Exec(
			`INSERT INTO findings (plan_id, phase, source, type, title, detail, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, f.Phase.String(), f.Source, f.Type, f.Title, f.Detail, now,
		); err != nil {
			return fmt.Errorf("store: insert finding: %w", err)
		}
	}
	if err := touch(tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Findings queries the log by phase. With onlyPending, resolved entries
// are filtered out. A nil phase filter returns all phases.
func (s *Store) Findings(id string, ph *phase.Phase, onlyPending bool) ([]FindingRecord, error) {
	query := `SELECT id, phase, source, type, title, detail, resolved, created_at FROM findings WHERE plan_id = ?`
	args := []any{id}
	if ph != nil {
		query += ` AND phase = ?`
		args = append(args, ph.String())
	}
	if onlyPending {
		query += ` AND resolved = 0`
	}
	query += ` ORDER BY id`

	rows, err := s.db.SQL().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: read findings: %w", err)
	}
	defer rows.Close()

	var out []FindingRecord
	for rows.Next() {
		var rec FindingRecord
		var phaseName string
		var resolved int
		if err := rows.Scan(&rec.ID, &phaseName, &rec.Finding.Source, &rec.Finding.Type,
			&rec.Finding.Title, &rec.Finding.Detail, &resolved, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan finding: %w", err)
		}
		if rec.Finding.Phase, err = phase.Parse(phaseName); err != nil {
			return nil, fmt.Errorf("store: finding %d: %w", rec.ID, err)
		}
		rec.Resolved = resolved != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PendingFindingCount counts unresolved findings for one phase.
func (s *Store) PendingFindingCount(id string, ph phase.Phase) (int, error) {
	var n int
	err := s.db.SQL().QueryRow(
		`SELECT COUNT(*) FROM findings WHERE plan_id = ? AND phase = ? AND resolved = 0`,
		id, ph.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count findings: %w", err)
	}
	return n, nil
}

// ResolveFindings marks all of a phase's pending findings resolved,
// clearing the slate for a fresh correction cycle.
func (s *Store) ResolveFindings(id string, ph phase.Phase) error {
	_, err := s.db.SQL().Exec(
		`UPDATE findings SET resolved = 1 WHERE plan_id = ? AND phase = ? AND resolved = 0`,
		id, ph.String())
	if err != nil {
		return fmt.Errorf("store: resolve findings: %w", err)
	}
	return nil
}
