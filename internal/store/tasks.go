package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/marcus/planforge/internal/tasks"
)

// SaveTasks replaces the plan's tasks and steps in one transaction.
// Expansion writes the initial set; verify/finalize loop-backs append
// remediation tasks through AppendTasks instead.
func (s *Store) SaveTasks(id string, list []tasks.Task) error {
	if _, err := s.Read(id); err != nil {
		return err
	}

	tx, err := s.db.SQL().Begin()
	if err != nil {
		return fmt.Errorf("store: begin save tasks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM task_steps WHERE plan_id = ?`, id); err != nil {
		return fmt.Errorf("store: clear steps: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM tasks WHERE plan_id = ?`, id); err != nil {
		return fmt.Errorf("store: clear tasks: %w", err)
	}

	for _, t := range list {
		if err := insertTask(tx, id, t); err != nil {
			return err
		}
	}

	if err := touch(tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendTasks adds remediation tasks created by a verify or finalize
// loop-back. Numbers must continue the plan's existing sequence.
func (s *Store) AppendTasks(id string, list []tasks.Task) error {
	existing, err := s.Tasks(id)
	if err != nil {
		return err
	}
	next := len(existing) + 1
	for i, t := range list {
		if t.Number != next+i {
			return fmt.Errorf("store: appended task number %d breaks sequence, want %d", t.Number, next+i)
		}
	}

	tx, err := s.db.SQL().Begin()
	if err != nil {
		return fmt.Errorf("store: begin append tasks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range list {
		if err := insertTask(tx, id, t); err != nil {
			return err
		}
	}
	if err := touch(tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTask(tx *sql.Tx, id string, t tasks.Task) error {
	skills, err := json.Marshal(t.Skills)
	if err != nil {
		return fmt.Errorf("store: encode skills: %w", err)
	}

	var dependsOn any
	if t.DependsOn != 0 {
		dependsOn = t.DependsOn
	}
	manual := 0
	if t.Manual {
		manual = 1
	}

	if _, err := tx.Exec(
		`INSERT INTO tasks (plan_id, number, deliverable, domain, module, profile, skills, manual, status, depends_on)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, t.Number, t.Deliverable, t.Domain, t.Module, t.Profile,
		string(skills), manual, string(t.Status), dependsOn,
	); err != nil {
		return fmt.Errorf("store: insert task %d: %w", t.Number, err)
	}

	for ord, step := range t.Steps {
		done := 0
		if step.Done {
			done = 1
		}
		if _, err := tx.Exec(
			`INSERT INTO task_steps (plan_id, task_number, ord, description, done) VALUES (?, ?, ?, ?, ?)`,
			id, t.Number, ord, step.Description, done,
		); err != nil {
			return fmt.Errorf("store: insert step %d/%d: %w", t.Number, ord, err)
		}
	}
	return nil
}

// Tasks reads the plan's tasks in ascending number order, steps
// included.
func (s *Store) Tasks(id string) ([]tasks.Task, error) {
	rows, err := s.db.SQL().Query(
		`SELECT number, deliverable, domain, module, profile, skills, manual, status, depends_on
		 FROM tasks WHERE plan_id = ? ORDER BY number`, id)
	if err != nil {
		return nil, fmt.Errorf("store: read tasks: %w", err)
	}
	defer rows.Close()

	var out []tasks.Task
	for rows.Next() {
		var t tasks.Task
		var skills, status string
		var manual int
		var dependsOn *int
		if err := rows.Scan(&t.Number, &t.Deliverable, &t.Domain, &t.Module, &t.Profile,
			&skills, &manual, &status, &dependsOn); err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		if err := json.Unmarshal([]byte(skills), &t.Skills); err != nil {
			return nil, fmt.Errorf("store: decode skills: %w", err)
		}
		t.Manual = manual != 0
		t.Status = tasks.Status(status)
		if dependsOn != nil {
			t.DependsOn = *dependsOn
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read tasks: %w", err)
	}

	for i := range out {
		steps, err := s.steps(id, out[i].Number)
		if err != nil {
			return nil, err
		}
		out[i].Steps = steps
	}
	return out, nil
}

func (s *Store) steps(id string, number int) ([]tasks.Step, error) {
	rows, err := s.db.SQL().Query(
		`SELECT description, done FROM task_steps WHERE plan_id = ? AND task_number = ? ORDER BY ord`,
		id, number)
	if err != nil {
		return nil, fmt.Errorf("store: read steps: %w", err)
	}
	defer rows.Close()

	var out []tasks.Step
	for rows.Next() {
		var step tasks.Step
		var done int
		if err := rows.Scan(&step.Description, &done); err != nil {
			return nil, fmt.Errorf("store: scan step: %w", err)
		}
		step.Done = done != 0
		out = append(out, step)
	}
	return out, rows.Err()
}

// SetTaskStatus updates one task's status.
func (s *Store) SetTaskStatus(id string, number int, status tasks.Status) error {
	res, err := s.db.SQL().Exec(
		`UPDATE tasks SET status = ? WHERE plan_id = ? AND number = ?`,
		string(status), id, number)
	if err != nil {
		return fmt.Errorf("store: set task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: plan %s has no task %d", id, number)
	}
	return nil
}

// SetStepDone marks a single step done. Persisted immediately so a
// crash mid-task loses at most the in-flight step.
func (s *Store) SetStepDone(id string, number, ord int) error {
	res, err := s.db.SQL().Exec(
		`UPDATE task_steps SET done = 1 WHERE plan_id = ? AND task_number = ? AND ord = ?`,
		id, number, ord)
	if err != nil {
		return fmt.Errorf("store: set step done: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: plan %s task %d has no step %d", id, number, ord)
	}
	return nil
}
