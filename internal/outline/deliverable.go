// Package outline defines reviewed deliverables and the quality gate
// that stands between outline generation and plan expansion.
package outline

import "fmt"

// ChangeType classifies what kind of change a deliverable makes.
type ChangeType string

const (
	ChangeAnalysis     ChangeType = "analysis"
	ChangeFeature      ChangeType = "feature"
	ChangeEnhancement  ChangeType = "enhancement"
	ChangeBugFix       ChangeType = "bug_fix"
	ChangeTechDebt     ChangeType = "tech_debt"
	ChangeVerification ChangeType = "verification"
)

// ParseChangeType converts a change type name to a ChangeType.
func ParseChangeType(s string) (ChangeType, error) {
	switch ChangeType(s) {
	case ChangeAnalysis, ChangeFeature, ChangeEnhancement, ChangeBugFix, ChangeTechDebt, ChangeVerification:
		return ChangeType(s), nil
	}
	return "", fmt.Errorf("unknown change type: %q", s)
}

// ExecutionMode says whether a deliverable's tasks run automatically,
// need a human, or both.
type ExecutionMode string

const (
	ModeAutomated ExecutionMode = "automated"
	ModeManual    ExecutionMode = "manual"
	ModeMixed     ExecutionMode = "mixed"
)

// ParseExecutionMode converts an execution mode name to an ExecutionMode.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch ExecutionMode(s) {
	case ModeAutomated, ModeManual, ModeMixed:
		return ExecutionMode(s), nil
	}
	return "", fmt.Errorf("unknown execution mode: %q", s)
}

// Verification pairs the command that checks a deliverable with the
// criteria its output must satisfy.
type Verification struct {
	Command  string `json:"command"`
	Criteria string `json:"criteria"`
}

// Deliverable is one reviewed unit of planned change, produced during
// the outline phase before human approval. Once the plan advances past
// outline approval a deliverable is immutable except through the
// quality-gate correction loop.
type Deliverable struct {
	Ordinal         int               `json:"ordinal"`
	Title           string            `json:"title"`
	ChangeType      ChangeType        `json:"change_type"`
	ExecutionMode   ExecutionMode     `json:"execution_mode"`
	Domain          string            `json:"domain"`
	Module          string            `json:"module"`
	Profiles        []string          `json:"profiles"`
	AffectedFiles   []string          `json:"affected_files"`
	FileChanges     map[string]string `json:"file_changes,omitempty"` // file path -> change description
	Verification    Verification      `json:"verification"`
	SuccessCriteria []string          `json:"success_criteria"`
}
