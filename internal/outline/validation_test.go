package outline

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testDeliverable returns a complete deliverable touching files that
// exist under root.
func testDeliverable(t *testing.T, root string, ordinal int, files ...string) Deliverable {
	t.Helper()
	changes := make(map[string]string, len(files))
	for _, f := range files {
		full := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
		changes[f] = "update " + f
	}
	return Deliverable{
		Ordinal:       ordinal,
		Title:         "deliverable",
		ChangeType:    ChangeFeature,
		ExecutionMode: ModeAutomated,
		Domain:        "java",
		Module:        "core",
		Profiles:      []string{"implementation"},
		AffectedFiles: files,
		FileChanges:   changes,
		Verification: Verification{
			Command:  "mvn -pl core test",
			Criteria: "exit zero",
		},
		SuccessCriteria: []string{"feature works"},
	}
}

func TestValidateAccepts(t *testing.T) {
	root := t.TempDir()
	d := testDeliverable(t, root, 0, "src/Main.java")

	if err := Validate(root, []Deliverable{d}); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	root := t.TempDir()

	mutations := []struct {
		name   string
		mutate func(*Deliverable)
		rule   string
	}{
		{"empty title", func(d *Deliverable) { d.Title = " " }, RuleRequired},
		{"bad change type", func(d *Deliverable) { d.ChangeType = "rewrite" }, RuleBadEnum},
		{"bad execution mode", func(d *Deliverable) { d.ExecutionMode = "auto" }, RuleBadEnum},
		{"missing domain", func(d *Deliverable) { d.Domain = "" }, RuleRequired},
		{"missing module", func(d *Deliverable) { d.Module = "" }, RuleRequired},
		{"no profiles", func(d *Deliverable) { d.Profiles = nil }, RuleEmptyProfiles},
		{"no affected files", func(d *Deliverable) { d.AffectedFiles = nil }, RuleEmptyFiles},
		{"missing change description", func(d *Deliverable) { d.FileChanges = nil }, RuleChangeMissing},
		{"no verification", func(d *Deliverable) { d.Verification.Command = "" }, RuleNoVerification},
		{"no success criteria", func(d *Deliverable) { d.SuccessCriteria = nil }, RuleEmptyCriteria},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			d := testDeliverable(t, root, 0, "src/Main.java")
			tt.mutate(&d)

			err := Validate(root, []Deliverable{d})
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if verr.Rule != tt.rule {
				t.Errorf("rule = %q, want %q", verr.Rule, tt.rule)
			}
		})
	}
}

func TestValidateRejectsGlobs(t *testing.T) {
	root := t.TempDir()
	d := testDeliverable(t, root, 0, "src/Main.java")
	d.AffectedFiles = []string{"src/*.java"}

	err := Validate(root, []Deliverable{d})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Rule != RuleGlob {
		t.Fatalf("Validate() = %v, want %q violation", err, RuleGlob)
	}
}

func TestValidateRejectsMissingFile(t *testing.T) {
	root := t.TempDir()
	d := testDeliverable(t, root, 0, "src/Main.java")
	d.AffectedFiles = append(d.AffectedFiles, "src/Gone.java")
	d.FileChanges["src/Gone.java"] = "edit"

	err := Validate(root, []Deliverable{d})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Rule != RuleMissingFile {
		t.Fatalf("Validate() = %v, want %q violation", err, RuleMissingFile)
	}
}

func TestValidateOverlap(t *testing.T) {
	root := t.TempDir()
	d1 := testDeliverable(t, root, 0, "src/Main.java", "src/Util.java")
	d2 := testDeliverable(t, root, 1, "src/Util.java")

	err := Validate(root, []Deliverable{d1, d2})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Rule != RuleOverlap {
		t.Fatalf("Validate() = %v, want %q violation", err, RuleOverlap)
	}
	if !strings.Contains(verr.Detail, "Util.java") {
		t.Errorf("overlap detail %q does not name the shared file", verr.Detail)
	}
}

func TestValidateOverlapDifferentProfilesAllowed(t *testing.T) {
	root := t.TempDir()
	d1 := testDeliverable(t, root, 0, "src/Main.java")
	d2 := testDeliverable(t, root, 1, "src/Main.java")
	d2.Profiles = []string{"module_testing"}

	// Same file but disjoint profiles is not the anti-pattern.
	if err := Validate(root, []Deliverable{d1, d2}); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestValidateOrdinalMismatch(t *testing.T) {
	root := t.TempDir()
	d := testDeliverable(t, root, 3, "src/Main.java")

	err := Validate(root, []Deliverable{d})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Rule != RuleOrdinal {
		t.Fatalf("Validate() = %v, want %q violation", err, RuleOrdinal)
	}
}
