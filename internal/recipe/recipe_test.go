package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marcus/planforge/internal/config"
	"github.com/marcus/planforge/internal/outline"
)

func TestPackageSourceDerivation(t *testing.T) {
	tests := []struct {
		profile string
		explicit string
		want    string
		wantErr bool
	}{
		{profile: "implementation", want: "packages"},
		{profile: "module_testing", want: "test_packages"},
		{profile: "quality", explicit: "docs", want: "docs"},
		{profile: "quality", wantErr: true},
		{profile: "", wantErr: true},
	}

	for _, tt := range tests {
		r := config.Recipe{Key: "k", Profile: tt.profile, PackageSource: tt.explicit}
		got, err := PackageSource(r)
		if tt.wantErr {
			if err == nil {
				t.Errorf("PackageSource(profile=%q) = %q, want error", tt.profile, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("PackageSource(profile=%q) error: %v", tt.profile, err)
			continue
		}
		if got != tt.want {
			t.Errorf("PackageSource(profile=%q) = %q, want %q", tt.profile, got, tt.want)
		}
	}
}

func recipeSnapshot() *config.Snapshot {
	return &config.Snapshot{
		Domains: map[string]config.DomainScope{
			"java": {
				Capabilities: map[string]config.CapabilityScope{
					config.ScopeCore:          {Default: []string{"java-core"}},
					config.ScopeModuleTesting: {Default: []string{"java-module-testing"}},
				},
			},
		},
	}
}

// writeTree lays out two modules under the given package source.
func writeTree(t *testing.T, root, source string) {
	t.Helper()
	for _, f := range []string{
		source + "/billing/BillingTest.java",
		source + "/billing/InvoiceTest.java",
		source + "/auth/AuthTest.java",
	} {
		full := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestEnumerateUnitsScopeGranularity(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "packages")
	// A nested package inside the billing module.
	nested := filepath.Join(root, "packages", "billing", "ledger", "LedgerTest.java")
	if err := os.MkdirAll(filepath.Dir(nested), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(nested, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	modules, err := EnumerateUnits(root, "packages", ScopeModule)
	if err != nil {
		t.Fatalf("module scope: %v", err)
	}
	if len(modules) != 2 {
		t.Fatalf("module scope units = %d, want 2", len(modules))
	}
	if modules[0].Module != "auth" || modules[1].Module != "billing" {
		t.Errorf("module units = %s, %s; want auth, billing", modules[0].Module, modules[1].Module)
	}
	if len(modules[1].Files) != 3 {
		t.Errorf("billing module files = %d, want 3 (nested file included)", len(modules[1].Files))
	}

	packages, err := EnumerateUnits(root, "packages", ScopePackage)
	if err != nil {
		t.Fatalf("package scope: %v", err)
	}
	want := []string{"auth", "billing", "billing/ledger"}
	if len(packages) != len(want) {
		t.Fatalf("package scope units = %d, want %d", len(packages), len(want))
	}
	for i, w := range want {
		if packages[i].Module != w {
			t.Errorf("package unit %d = %s, want %s", i, packages[i].Module, w)
		}
	}
	if len(packages[1].Files) != 2 {
		t.Errorf("billing package files = %d, want 2 (nested dir excluded)", len(packages[1].Files))
	}

	// Empty scope falls back to module granularity.
	fallback, err := EnumerateUnits(root, "packages", "")
	if err != nil {
		t.Fatalf("empty scope: %v", err)
	}
	if len(fallback) != 2 {
		t.Errorf("empty scope units = %d, want 2", len(fallback))
	}

	if _, err := EnumerateUnits(root, "packages", "repository"); err == nil {
		t.Error("unknown scope accepted, want error")
	}
}

func TestGeneratePackageScope(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "test_packages")
	nested := filepath.Join(root, "test_packages", "billing", "ledger", "LedgerTest.java")
	if err := os.MkdirAll(filepath.Dir(nested), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(nested, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := config.Recipe{
		Key:               "java-package-tests",
		Name:              "Package tests",
		Skill:             "java-module-testing",
		DefaultChangeType: "verification",
		Scope:             "package",
		Domain:            "java",
		Profile:           "module_testing",
	}

	got, err := Generate(recipeSnapshot(), r, root)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(deliverables) = %d, want one per package", len(got))
	}
	if got[2].Module != "billing/ledger" {
		t.Errorf("deliverable 2 module = %s, want billing/ledger", got[2].Module)
	}
	if err := outline.Validate(root, got); err != nil {
		t.Errorf("generated deliverables fail validation: %v", err)
	}
}

func TestGenerate(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "test_packages")

	r := config.Recipe{
		Key:               "java-module-tests",
		Name:              "Module tests",
		Skill:             "java-module-testing",
		DefaultChangeType: "verification",
		Scope:             "module",
		Domain:            "java",
		Profile:           "module_testing",
	}

	got, err := Generate(recipeSnapshot(), r, root)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	// One deliverable per module, sorted by module name.
	if len(got) != 2 {
		t.Fatalf("len(deliverables) = %d, want 2", len(got))
	}
	if got[0].Module != "auth" || got[1].Module != "billing" {
		t.Errorf("modules = %s, %s; want auth, billing", got[0].Module, got[1].Module)
	}

	for i, d := range got {
		if d.Ordinal != i {
			t.Errorf("deliverable %d ordinal = %d", i, d.Ordinal)
		}
		if d.ChangeType != outline.ChangeVerification {
			t.Errorf("change type = %s, want verification (fixed by recipe)", d.ChangeType)
		}
		if len(d.Profiles) != 1 || d.Profiles[0] != "module_testing" {
			t.Errorf("profiles = %v, want [module_testing]", d.Profiles)
		}
	}

	// Generated deliverables must survive outline validation unchanged.
	if err := outline.Validate(root, got); err != nil {
		t.Errorf("generated deliverables fail validation: %v", err)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "packages")

	r := config.Recipe{
		Key: "java-refresh", Name: "Refresh", Skill: "java-core",
		DefaultChangeType: "tech_debt", Domain: "java", Profile: "implementation",
	}
	snap := recipeSnapshot()
	snap.Domains["java"].Capabilities[config.ScopeImplementation] = config.CapabilityScope{Default: []string{"java-implementation"}}

	first, err := Generate(snap, r, root)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	second, err := Generate(snap, r, root)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("runs differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Title != second[i].Title || first[i].Module != second[i].Module {
			t.Errorf("deliverable %d differs between runs", i)
		}
	}
}

func TestGenerateMissingDomain(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "packages")

	r := config.Recipe{
		Key: "rust-refresh", Name: "Refresh", Skill: "rust-core",
		DefaultChangeType: "tech_debt", Domain: "rust", Profile: "implementation",
	}
	if _, err := Generate(recipeSnapshot(), r, root); err == nil {
		t.Error("Generate() for unknown domain succeeded, want resolution failure")
	}
}

func TestGenerateEmptyScope(t *testing.T) {
	r := config.Recipe{
		Key: "java-module-tests", Name: "Module tests", Skill: "s",
		DefaultChangeType: "verification", Domain: "java", Profile: "module_testing",
	}
	if _, err := Generate(recipeSnapshot(), r, t.TempDir()); err == nil {
		t.Error("Generate() with no scope units succeeded, want error")
	}
}
