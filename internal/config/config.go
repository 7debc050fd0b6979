// Package config loads and validates planforge configuration.
// The loaded document is an immutable Snapshot: resolution code receives
// it explicitly and never reaches for process-wide state, so the same
// snapshot always yields the same answer. Config file changes produce a
// new snapshot (see Watcher); nothing mutates a loaded one.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// ProjectConfigName is the per-project config file name.
const ProjectConfigName = "planforge.yaml"

// Profile scope names a domain may configure capabilities for.
const (
	ScopeCore               = "core"
	ScopeImplementation     = "implementation"
	ScopeModuleTesting      = "module_testing"
	ScopeIntegrationTesting = "integration_testing"
	ScopeQuality            = "quality"
)

// Extension kinds a domain may override.
const (
	ExtensionOutline = "outline"
	ExtensionTriage  = "triage"
)

// Snapshot is one immutable view of the layered configuration document:
// a system scope plus per-domain scopes.
type Snapshot struct {
	System   SystemScope            `mapstructure:"system"`
	Domains  map[string]DomainScope `mapstructure:"domains"`
	Settings Settings               `mapstructure:"settings"`
}

// SystemScope holds the engine-wide tables.
type SystemScope struct {
	// Workflow maps each of the seven phase names to the capability
	// driving that phase.
	Workflow map[string]string `mapstructure:"workflow"`
	// Executors maps a profile to the capability that executes its tasks.
	Executors map[string]string `mapstructure:"executors"`
	// Gates toggles named verify/finalize pipeline steps.
	Gates map[string]bool `mapstructure:"gates"`
}

// DomainScope holds one domain's capability sets, extension overrides,
// and registered recipes.
type DomainScope struct {
	Capabilities map[string]CapabilityScope `mapstructure:"capabilities"`
	Extensions   map[string]string          `mapstructure:"extensions"`
	Recipes      []Recipe                   `mapstructure:"recipes"`
}

// CapabilityScope lists the default and optional capabilities of one
// profile scope within a domain.
type CapabilityScope struct {
	Default  []string `mapstructure:"default"`
	Optional []string `mapstructure:"optional"`
}

// Recipe is a pre-authored, deterministic plan-generation template.
type Recipe struct {
	Key               string `mapstructure:"key"`
	Name              string `mapstructure:"name"`
	Skill             string `mapstructure:"skill"`
	DefaultChangeType string `mapstructure:"default_change_type"`
	Scope             string `mapstructure:"scope"`
	Domain            string `mapstructure:"domain,omitempty"`
	Profile           string `mapstructure:"profile,omitempty"`
	PackageSource     string `mapstructure:"package_source,omitempty"`
}

// Settings carries engine-level options that ride along with the
// resolution document.
type Settings struct {
	DBPath   string           `mapstructure:"db_path"`
	WorkDir  string           `mapstructure:"workdir"`
	Schedule ScheduleSettings `mapstructure:"schedule"`
	Logging  LoggingSettings  `mapstructure:"logging"`
}

// ScheduleSettings configures daemon-mode runs: a cron expression or a
// fixed interval, optionally bounded by a time-of-day window.
type ScheduleSettings struct {
	Cron     string          `mapstructure:"cron"`
	Interval string          `mapstructure:"interval"`
	Window   *WindowSettings `mapstructure:"window,omitempty"`
}

// WindowSettings bounds scheduled runs to a daily window. Start and End
// are HH:MM; a window that ends before it starts spans midnight.
type WindowSettings struct {
	Start    string `mapstructure:"start"`
	End      string `mapstructure:"end"`
	Timezone string `mapstructure:"timezone"`
}

// LoggingSettings configures the structured logger.
type LoggingSettings struct {
	Level         string `mapstructure:"level"`
	Path          string `mapstructure:"path"`
	Format        string `mapstructure:"format"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// GlobalConfigPath returns the global config file location.
func GlobalConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "planforge", "config.yaml")
}

// FindConfig locates the config file: an explicit path wins, then the
// project file in the working directory, then the global file.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err == nil {
		project := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(project); err == nil {
			return project, nil
		}
	}

	global := GlobalConfigPath()
	if _, err := os.Stat(global); err == nil {
		return global, nil
	}

	return "", fmt.Errorf("no config found: create %s or %s", ProjectConfigName, GlobalConfigPath())
}

// Load reads, unmarshals, and validates a snapshot from the given file.
func Load(path string) (*Snapshot, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PLANFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var snap Snapshot
	if err := v.Unmarshal(&snap); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if snap.Domains == nil {
		snap.Domains = make(map[string]DomainScope)
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

var phaseNames = []string{"init", "refine", "outline", "plan", "execute", "verify", "finalize"}

var knownScopes = map[string]bool{
	ScopeCore:               true,
	ScopeImplementation:     true,
	ScopeModuleTesting:      true,
	ScopeIntegrationTesting: true,
	ScopeQuality:            true,
}

// Validate checks the structural invariants of the document: the system
// workflow covers all seven phases, domain scopes use known profile
// names, extension kinds are outline/triage, and recipe keys are unique.
func (s *Snapshot) Validate() error {
	for _, name := range phaseNames {
		if s.System.Workflow[name] == "" {
			return fmt.Errorf("config: system.workflow missing phase %q", name)
		}
	}

	recipeKeys := make(map[string]string)
	for domain, scope := range s.Domains {
		for scopeName := range scope.Capabilities {
			if !knownScopes[scopeName] {
				return fmt.Errorf("config: domain %s: unknown capability scope %q", domain, scopeName)
			}
		}
		for kind := range scope.Extensions {
			if kind != ExtensionOutline && kind != ExtensionTriage {
				return fmt.Errorf("config: domain %s: unknown extension kind %q", domain, kind)
			}
		}
		for _, r := range scope.Recipes {
			if r.Key == "" {
				return fmt.Errorf("config: domain %s: recipe with empty key", domain)
			}
			if prev, dup := recipeKeys[r.Key]; dup {
				return fmt.Errorf("config: recipe key %q registered by both %s and %s", r.Key, prev, domain)
			}
			recipeKeys[r.Key] = domain
			if r.Skill == "" {
				return fmt.Errorf("config: recipe %s: missing skill", r.Key)
			}
			if r.DefaultChangeType == "" {
				return fmt.Errorf("config: recipe %s: missing default_change_type", r.Key)
			}
			switch r.Scope {
			case "", "module", "package":
			default:
				return fmt.Errorf("config: recipe %s: unknown scope %q", r.Key, r.Scope)
			}
		}
	}

	return nil
}

// DomainNames returns the configured domains in sorted order.
func (s *Snapshot) DomainNames() []string {
	names := make([]string, 0, len(s.Domains))
	for name := range s.Domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
