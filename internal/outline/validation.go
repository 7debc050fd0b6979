package outline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidationError reports a deliverable missing a required field or
// violating a cross-deliverable invariant. It blocks the phase
// transition: the author fixes the outline, the engine never
// auto-repairs.
type ValidationError struct {
	Ordinal int    // deliverable ordinal, -1 for cross-deliverable violations
	Field   string // offending field, empty for cross-deliverable violations
	Rule    string
	Detail  string
}

func (e *ValidationError) Error() string {
	if e.Ordinal < 0 {
		return fmt.Sprintf("validation failure (%s): %s", e.Rule, e.Detail)
	}
	return fmt.Sprintf("validation failure: deliverable %d, field %s (%s): %s", e.Ordinal, e.Field, e.Rule, e.Detail)
}

// Validation rule identifiers.
const (
	RuleRequired       = "required"
	RuleBadEnum        = "bad-enum"
	RuleGlob           = "no-globs"
	RuleMissingFile    = "file-not-found"
	RuleOverlap        = "overlapping-deliverables"
	RuleOrdinal        = "bad-ordinal"
	RuleChangeMissing  = "change-description-missing"
	RuleEmptyProfiles  = "empty-profiles"
	RuleEmptyFiles     = "empty-affected-files"
	RuleEmptyCriteria  = "empty-success-criteria"
	RuleNoVerification = "verification-missing"
)

// Validate checks every deliverable for completeness and the set as a
// whole for the overlap anti-pattern. Affected files are resolved
// against root and must exist; glob patterns are rejected outright.
// The first violation found is returned.
func Validate(root string, deliverables []Deliverable) error {
	for i, d := range deliverables {
		if err := validateOne(root, i, d); err != nil {
			return err
		}
	}
	return detectOverlap(deliverables)
}

func validateOne(root string, index int, d Deliverable) error {
	fail := func(field, rule, detail string) error {
		return &ValidationError{Ordinal: d.Ordinal, Field: field, Rule: rule, Detail: detail}
	}

	if d.Ordinal != index {
		return &ValidationError{Ordinal: d.Ordinal, Field: "ordinal", Rule: RuleOrdinal,
			Detail: fmt.Sprintf("ordinal %d at position %d", d.Ordinal, index)}
	}
	if strings.TrimSpace(d.Title) == "" {
		return fail("title", RuleRequired, "title is required")
	}
	if _, err := ParseChangeType(string(d.ChangeType)); err != nil {
		return fail("change_type", RuleBadEnum, err.Error())
	}
	if _, err := ParseExecutionMode(string(d.ExecutionMode)); err != nil {
		return fail("execution_mode", RuleBadEnum, err.Error())
	}
	if d.Domain == "" {
		return fail("domain", RuleRequired, "domain is required")
	}
	if d.Module == "" {
		return fail("module", RuleRequired, "module is required")
	}
	if len(d.Profiles) == 0 {
		return fail("profiles", RuleEmptyProfiles, "at least one profile is required")
	}
	if len(d.AffectedFiles) == 0 {
		return fail("affected_files", RuleEmptyFiles, "at least one affected file is required")
	}

	for _, file := range d.AffectedFiles {
		if strings.ContainsAny(file, "*?[") {
			return fail("affected_files", RuleGlob, fmt.Sprintf("%q looks like a glob; list concrete paths", file))
		}
		resolved := file
		if !filepath.IsAbs(file) && root != "" {
			resolved = filepath.Join(root, file)
		}
		if info, err := os.Stat(resolved); err != nil || info.IsDir() {
			return fail("affected_files", RuleMissingFile, fmt.Sprintf("%q does not reference an existing file", file))
		}
		if _, ok := d.FileChanges[file]; !ok {
			return fail("file_changes", RuleChangeMissing, fmt.Sprintf("no change description for %q", file))
		}
	}

	if d.Verification.Command == "" || d.Verification.Criteria == "" {
		return fail("verification", RuleNoVerification, "verification command and criteria are required")
	}
	if len(d.SuccessCriteria) == 0 {
		return fail("success_criteria", RuleEmptyCriteria, "at least one success criterion is required")
	}

	return nil
}

// DetectOverlap exposes the overlap check on its own so task expansion
// can refuse to run against an outline that regressed after validation.
func DetectOverlap(deliverables []Deliverable) error {
	return detectOverlap(deliverables)
}

// detectOverlap flags pairs of deliverables whose affected-files sets
// intersect while sharing a profile. That combination yields redundant
// tasks; it is reported to the author, never silently deduplicated.
func detectOverlap(deliverables []Deliverable) error {
	for i := 0; i < len(deliverables); i++ {
		for j := i + 1; j < len(deliverables); j++ {
			a, b := deliverables[i], deliverables[j]

			shared := sharedProfile(a.Profiles, b.Profiles)
			if shared == "" {
				continue
			}
			file := sharedFile(a.AffectedFiles, b.AffectedFiles)
			if file == "" {
				continue
			}

			return &ValidationError{
				Ordinal: -1,
				Rule:    RuleOverlap,
				Detail: fmt.Sprintf(
					"deliverables %d and %d both touch %q under profile %s; merge them or split the files",
					a.Ordinal, b.Ordinal, file, shared),
			}
		}
	}
	return nil
}

func sharedProfile(a, b []string) string {
	set := make(map[string]struct{}, len(a))
	for _, p := range a {
		set[p] = struct{}{}
	}
	for _, p := range b {
		if _, ok := set[p]; ok {
			return p
		}
	}
	return ""
}

func sharedFile(a, b []string) string {
	set := make(map[string]struct{}, len(a))
	for _, f := range a {
		set[filepath.Clean(f)] = struct{}{}
	}
	for _, f := range b {
		if _, ok := set[filepath.Clean(f)]; ok {
			return f
		}
	}
	return ""
}
