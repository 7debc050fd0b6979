package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validConfig = `
system:
  workflow:
    init: workflow-init
    refine: workflow-refine
    outline: workflow-outline
    plan: workflow-plan
    execute: workflow-execute
    verify: workflow-verify
    finalize: workflow-finalize
  executors:
    implementation: executor-implementation
    module_testing: executor-module-testing
  gates:
    build: true
    module_tests: true
    quality: false

domains:
  java:
    capabilities:
      core:
        default: [java-core]
      implementation:
        default: [java-implementation]
        optional: [java-migration]
      module_testing:
        default: [java-module-testing]
    extensions:
      outline: java-outline
      triage: java-triage
    recipes:
      - key: java-module-tests
        name: Module tests for every package
        skill: java-module-testing
        default_change_type: verification
        scope: module
        profile: module_testing
  go:
    capabilities:
      core:
        default: [go-core]

settings:
  db_path: /tmp/planforge.db
  schedule:
    cron: "0 2 * * *"
  logging:
    level: debug
    format: text
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ProjectConfigName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	snap, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if got := snap.System.Workflow["outline"]; got != "workflow-outline" {
		t.Errorf("workflow[outline] = %q, want workflow-outline", got)
	}
	if !snap.System.Gates["build"] {
		t.Error("gates[build] = false, want true")
	}
	if snap.System.Gates["quality"] {
		t.Error("gates[quality] = true, want false")
	}

	java, ok := snap.Domains["java"]
	if !ok {
		t.Fatal("domain java missing")
	}
	if got := java.Extensions[ExtensionTriage]; got != "java-triage" {
		t.Errorf("java triage extension = %q, want java-triage", got)
	}
	if len(java.Recipes) != 1 || java.Recipes[0].Key != "java-module-tests" {
		t.Errorf("java recipes = %+v, want one entry java-module-tests", java.Recipes)
	}
	if got := java.Recipes[0].DefaultChangeType; got != "verification" {
		t.Errorf("recipe default_change_type = %q, want verification", got)
	}

	if got := snap.Settings.Logging.Level; got != "debug" {
		t.Errorf("settings.logging.level = %q, want debug", got)
	}
}

func TestLoadMissingWorkflowPhase(t *testing.T) {
	cfg := `
system:
  workflow:
    init: workflow-init
`
	if _, err := Load(writeConfig(t, cfg)); err == nil {
		t.Error("Load() with incomplete workflow succeeded, want error")
	}
}

func TestValidateUnknownScope(t *testing.T) {
	snap, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	scope := snap.Domains["java"]
	scope.Capabilities["deployment"] = CapabilityScope{Default: []string{"x"}}
	snap.Domains["java"] = scope

	if err := snap.Validate(); err == nil {
		t.Error("Validate() with unknown scope succeeded, want error")
	}
}

func TestValidateDuplicateRecipeKey(t *testing.T) {
	snap, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	scope := snap.Domains["go"]
	scope.Recipes = append(scope.Recipes, Recipe{
		Key: "java-module-tests", Skill: "go-module-testing", DefaultChangeType: "verification",
	})
	snap.Domains["go"] = scope

	if err := snap.Validate(); err == nil {
		t.Error("Validate() with duplicate recipe key succeeded, want error")
	}
}

func TestValidateUnknownExtensionKind(t *testing.T) {
	snap, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	scope := snap.Domains["java"]
	scope.Extensions["deploy"] = "java-deploy"
	snap.Domains["java"] = scope

	if err := snap.Validate(); err == nil {
		t.Error("Validate() with unknown extension kind succeeded, want error")
	}
}

func TestDomainNames(t *testing.T) {
	snap, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	names := snap.DomainNames()
	if len(names) != 2 || names[0] != "go" || names[1] != "java" {
		t.Errorf("DomainNames() = %v, want [go java]", names)
	}
}

func TestWatcherReload(t *testing.T) {
	path := writeConfig(t, validConfig)

	loaded := make(chan *Snapshot, 4)
	w, err := NewWatcher(path, func(s *Snapshot) { loaded <- s }, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	// Initial load is delivered synchronously.
	select {
	case s := <-loaded:
		if len(s.Domains) != 2 {
			t.Errorf("initial snapshot has %d domains, want 2", len(s.Domains))
		}
	default:
		t.Fatal("no initial snapshot delivered")
	}

	// A broken rewrite keeps the last good snapshot.
	if err := os.WriteFile(path, []byte("system: {workflow: {}}"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			// No reload observed is acceptable on platforms with slow
			// notification delivery; Current must still be the good one.
			if w.Current() == nil || len(w.Current().Domains) != 2 {
				t.Error("Current() lost the last good snapshot")
			}
			return
		case <-loaded:
			t.Fatal("broken config produced a snapshot")
		case <-time.After(50 * time.Millisecond):
			if len(w.Current().Domains) != 2 {
				t.Fatal("Current() lost the last good snapshot")
			}
			return
		}
	}
}
