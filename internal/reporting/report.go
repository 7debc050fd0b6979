// Package reporting renders plan run reports. Reports are generated as
// markdown from persisted plan state and can be saved to disk or dumped
// as structured JSON.
package reporting

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/planforge/internal/phase"
	"github.com/marcus/planforge/internal/store"
	"github.com/marcus/planforge/internal/tasks"
)

// Report is the assembled view of one plan's run: the phase table, the
// task list, and the findings log, plus the loop counters the driver
// persisted in metadata.
type Report struct {
	Plan        *store.PlanRecord
	Tasks       []tasks.Task
	Findings    []store.FindingRecord
	GeneratedAt time.Time
}

// Build assembles a report from the store.
func Build(s *store.Store, planID string) (*Report, error) {
	rec, err := s.Read(planID)
	if err != nil {
		return nil, err
	}
	list, err := s.Tasks(planID)
	if err != nil {
		return nil, err
	}
	findings, err := s.Findings(planID, nil, false)
	if err != nil {
		return nil, err
	}
	return &Report{
		Plan:        rec,
		Tasks:       list,
		Findings:    findings,
		GeneratedAt: time.Now(),
	}, nil
}

// Render produces the markdown report.
func (r *Report) Render() string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Plan Report - %s\n\n", r.Plan.Title)
	fmt.Fprintf(&buf, "- ID: %s\n", r.Plan.ID)
	fmt.Fprintf(&buf, "- Current phase: %s\n", r.Plan.Progress.Current)
	if len(r.Plan.Domains) > 0 {
		fmt.Fprintf(&buf, "- Domains: %s\n", strings.Join(r.Plan.Domains, ", "))
	}
	if r.Plan.RecipeKey != "" {
		fmt.Fprintf(&buf, "- Recipe: %s\n", r.Plan.RecipeKey)
	}
	fmt.Fprintf(&buf, "- Created: %s\n", r.Plan.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&buf, "- Updated: %s\n\n", r.Plan.UpdatedAt.Format("2006-01-02 15:04"))

	buf.WriteString("## Phases\n")
	for _, ph := range phase.All() {
		marker := " "
		switch r.Plan.Progress.Of(ph) {
		case phase.StatusDone:
			marker = "x"
		case phase.StatusInProgress:
			marker = ">"
		}
		fmt.Fprintf(&buf, "- [%s] %s\n", marker, ph)
	}
	buf.WriteString("\n")

	if iterations := r.loopCounters(); len(iterations) > 0 {
		buf.WriteString("## Correction Loops\n")
		for _, line := range iterations {
			fmt.Fprintf(&buf, "- %s\n", line)
		}
		buf.WriteString("\n")
	}

	if len(r.Tasks) > 0 {
		done := 0
		for _, t := range r.Tasks {
			if t.Status == tasks.StatusDone {
				done++
			}
		}
		fmt.Fprintf(&buf, "## Tasks (%d/%d done)\n", done, len(r.Tasks))
		for _, t := range r.Tasks {
			marker := " "
			switch t.Status {
			case tasks.StatusDone:
				marker = "x"
			case tasks.StatusInProgress:
				marker = ">"
			}
			label := fmt.Sprintf("%d. [%s] %s/%s %s", t.Number, marker, t.Domain, t.Module, t.Profile)
			if t.Manual {
				label += " (manual)"
			}
			if t.DependsOn != 0 {
				label += fmt.Sprintf(" (after %d)", t.DependsOn)
			}
			buf.WriteString(label + "\n")
		}
		buf.WriteString("\n")
	}

	if len(r.Findings) > 0 {
		open := 0
		for _, f := range r.Findings {
			if !f.Resolved {
				open++
			}
		}
		fmt.Fprintf(&buf, "## Findings (%d open of %d)\n", open, len(r.Findings))
		for _, f := range r.Findings {
			state := "resolved"
			if !f.Resolved {
				state = "open"
			}
			fmt.Fprintf(&buf, "- [%s] %s/%s: %s", state, f.Finding.Phase, f.Finding.Type, f.Finding.Title)
			if f.Finding.Detail != "" {
				fmt.Fprintf(&buf, " - %s", f.Finding.Detail)
			}
			buf.WriteString("\n")
		}
		buf.WriteString("\n")
	}

	fmt.Fprintf(&buf, "---\n*Generated %s*\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	return buf.String()
}

// loopCounters formats the persisted correction-loop counters.
func (r *Report) loopCounters() []string {
	type counter struct {
		key, label string
		ceiling    int
	}
	counters := []counter{
		{"qgate_iterations", "Q-Gate", phase.QGateMaxIterations},
		{"verify_iterations", "Verify", phase.VerifyMaxIterations},
		{"finalize_iterations", "Finalize", phase.FinalizeMaxIterations},
	}

	var out []string
	for _, c := range counters {
		raw, ok := r.Plan.Metadata[c.key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %d of %d iterations used", c.label, n, c.ceiling))
	}
	return out
}

// Save writes the rendered report to a file.
func (r *Report) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(r.Render()), 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// DefaultReportPath returns the default location for a plan's report.
func DefaultReportPath(planID string) string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "planforge", "reports",
		fmt.Sprintf("%s.md", planID))
}
