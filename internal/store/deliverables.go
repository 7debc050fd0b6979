package store

import (
	"encoding/json"
	"fmt"

	"github.com/marcus/planforge/internal/outline"
)

// SaveDeliverables replaces the plan's deliverables in one transaction.
// Called after outline generation and after each quality-gate
// correction run; once the plan advances past outline the driver stops
// calling it, which is what makes deliverables immutable from there on.
func (s *Store) SaveDeliverables(id string, deliverables []outline.Deliverable) error {
	if _, err := s.Read(id); err != nil {
		return err
	}

	tx, err := s.db.SQL().Begin()
	if err != nil {
		return fmt.Errorf("store: begin save deliverables: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM deliverables WHERE plan_id = ?`, id); err != nil {
		return fmt.Errorf("store: clear deliverables: %w", err)
	}

	for _, d := range deliverables {
		profiles, err := json.Marshal(d.Profiles)
		if err != nil {
			return fmt.Errorf("store: encode profiles: %w", err)
		}
		files, err := json.Marshal(d.AffectedFiles)
		if err != nil {
			return fmt.Errorf("store: encode affected files: %w", err)
		}
		changes, err := json.Marshal(d.FileChanges)
		if err != nil {
			return fmt.Errorf("store: encode file changes: %w", err)
		}
		criteria, err := json.Marshal(d.SuccessCriteria)
		if err != nil {
			return fmt.Errorf("store: encode success criteria: %w", err)
		}

		if _, err := tx.Exec(
			`INSERT INTO deliverables
			 (plan_id, ordinal, title, change_type, execution_mode, domain, module,
			  profiles, affected_files, file_changes, verify_command, verify_criteria, success_criteria)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, d.Ordinal, d.Title, string(d.ChangeType), string(d.ExecutionMode),
			d.Domain, d.Module, string(profiles), string(files), string(changes),
			d.Verification.Command, d.Verification.Criteria, string(criteria),
		); err != nil {
			return fmt.Errorf("store: insert deliverable %d: %w", d.Ordinal, err)
		}
	}

	if err := touch(tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Deliverables reads the plan's deliverables in ordinal order.
func (s *Store) Deliverables(id string) ([]outline.Deliverable, error) {
	rows, err := s.db.SQL().Query(
		`SELECT ordinal, title, change_type, execution_mode, domain, module,
		        profiles, affected_files, file_changes, verify_command, verify_criteria, success_criteria
		 FROM deliverables WHERE plan_id = ? ORDER BY ordinal`, id)
	if err != nil {
		return nil, fmt.Errorf("store: read deliverables: %w", err)
	}
	defer rows.Close()

	var out []outline.Deliverable
	for rows.Next() {
		var d outline.Deliverable
		var changeType, mode, profiles, files, changes, criteria string
		if err := rows.Scan(&d.Ordinal, &d.Title, &changeType, &mode, &d.Domain, &d.Module,
			&profiles, &files, &changes, &d.Verification.Command, &d.Verification.Criteria, &criteria); err != nil {
			return nil, fmt.Errorf("store: scan deliverable: %w", err)
		}
		d.ChangeType = outline.ChangeType(changeType)
		d.ExecutionMode = outline.ExecutionMode(mode)
		if err := json.Unmarshal([]byte(profiles), &d.Profiles); err != nil {
			return nil, fmt.Errorf("store: decode profiles: %w", err)
		}
		if err := json.Unmarshal([]byte(files), &d.AffectedFiles); err != nil {
			return nil, fmt.Errorf("store: decode affected files: %w", err)
		}
		if err := json.Unmarshal([]byte(changes), &d.FileChanges); err != nil {
			return nil, fmt.Errorf("store: decode file changes: %w", err)
		}
		if err := json.Unmarshal([]byte(criteria), &d.SuccessCriteria); err != nil {
			return nil, fmt.Errorf("store: decode success criteria: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
