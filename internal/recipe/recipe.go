// Package recipe implements the deterministic plan-generation path.
// A recipe's output shape is fully determined by configuration, so
// recipe-sourced outlines skip discovery and skip the quality-gate loop
// entirely: generation feeds the plan phase directly. That bypass is
// deliberate and load-bearing, not an oversight.
package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/marcus/planforge/internal/config"
	"github.com/marcus/planforge/internal/outline"
	"github.com/marcus/planforge/internal/resolver"
)

// Package sources derivable from a profile.
const (
	SourcePackages     = "packages"
	SourceTestPackages = "test_packages"
)

// Scope granularities a recipe may enumerate at.
const (
	ScopeModule  = "module"
	ScopePackage = "package"
)

// PackageSource derives where a recipe's scope units live. An explicit
// package_source on the recipe wins; otherwise implementation maps to
// "packages" and module_testing to "test_packages". Any other profile
// must carry an explicit source.
func PackageSource(r config.Recipe) (string, error) {
	if r.PackageSource != "" {
		return r.PackageSource, nil
	}
	switch r.Profile {
	case config.ScopeImplementation:
		return SourcePackages, nil
	case config.ScopeModuleTesting:
		return SourceTestPackages, nil
	}
	return "", fmt.Errorf("recipe %s: no package_source and profile %q derives none", r.Key, r.Profile)
}

// Unit is one enumerated scope unit: a module directory and the files
// it contains.
type Unit struct {
	Module string
	Files  []string // paths relative to the scan root
}

// EnumerateUnits lists the recipe's scope units under root/packageSource.
// Module scope yields one unit per immediate subdirectory, all files
// below it included; package scope yields one unit per directory that
// directly contains files, however deep. Files are sorted for
// reproducible output.
func EnumerateUnits(root, packageSource, scope string) ([]Unit, error) {
	switch scope {
	case "", ScopeModule:
		return moduleUnits(root, packageSource)
	case ScopePackage:
		return packageUnits(root, packageSource)
	}
	return nil, fmt.Errorf("unknown recipe scope %q", scope)
}

func moduleUnits(root, packageSource string) ([]Unit, error) {
	base := filepath.Join(root, packageSource)
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("enumerating %s: %w", packageSource, err)
	}

	var units []Unit
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		unit := Unit{Module: entry.Name()}
		err := filepath.WalkDir(filepath.Join(base, entry.Name()), func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			unit.Files = append(unit.Files, rel)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning unit %s: %w", entry.Name(), err)
		}
		if len(unit.Files) == 0 {
			continue
		}
		sort.Strings(unit.Files)
		units = append(units, unit)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].Module < units[j].Module })
	return units, nil
}

func packageUnits(root, packageSource string) ([]Unit, error) {
	base := filepath.Join(root, packageSource)
	byDir := make(map[string]*Unit)
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		dir, err := filepath.Rel(base, filepath.Dir(path))
		if err != nil {
			return err
		}
		if dir == "." {
			// Files directly under the source root belong to no package.
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(dir)
		unit, ok := byDir[name]
		if !ok {
			unit = &Unit{Module: name}
			byDir[name] = unit
		}
		unit.Files = append(unit.Files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerating %s: %w", packageSource, err)
	}

	units := make([]Unit, 0, len(byDir))
	for _, unit := range byDir {
		sort.Strings(unit.Files)
		units = append(units, *unit)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Module < units[j].Module })
	return units, nil
}

// Generate produces one deliverable per scope unit with change_type
// fixed to the recipe's default. The deliverables are complete: they
// carry profiles, per-file change descriptions, and a verification
// pair, so they validate and expand exactly like reviewed ones.
func Generate(snap *config.Snapshot, r config.Recipe, root string) ([]outline.Deliverable, error) {
	if r.Domain == "" {
		return nil, fmt.Errorf("recipe %s: no domain", r.Key)
	}
	if r.Profile == "" {
		return nil, fmt.Errorf("recipe %s: no profile", r.Key)
	}

	changeType, err := outline.ParseChangeType(r.DefaultChangeType)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: %w", r.Key, err)
	}

	// Fail early if the (domain, profile) pair cannot resolve; the
	// expander would hit the same wall later with less context.
	if _, err := resolver.DomainCapabilities(snap, r.Domain, r.Profile); err != nil {
		return nil, fmt.Errorf("recipe %s: %w", r.Key, err)
	}

	source, err := PackageSource(r)
	if err != nil {
		return nil, err
	}

	units, err := EnumerateUnits(root, source, r.Scope)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("recipe %s: no scope units under %s", r.Key, source)
	}

	deliverables := make([]outline.Deliverable, 0, len(units))
	for i, unit := range units {
		changes := make(map[string]string, len(unit.Files))
		for _, f := range unit.Files {
			changes[f] = fmt.Sprintf("%s: %s", r.Name, f)
		}
		deliverables = append(deliverables, outline.Deliverable{
			Ordinal:       i,
			Title:         fmt.Sprintf("%s: %s", r.Name, unit.Module),
			ChangeType:    changeType,
			ExecutionMode: outline.ModeAutomated,
			Domain:        r.Domain,
			Module:        unit.Module,
			Profiles:      []string{r.Profile},
			AffectedFiles: unit.Files,
			FileChanges:   changes,
			Verification: outline.Verification{
				Command:  fmt.Sprintf("%s verify --module %s", r.Skill, unit.Module),
				Criteria: "exit status zero",
			},
			SuccessCriteria: []string{fmt.Sprintf("%s applied to module %s", r.Name, unit.Module)},
		})
	}
	return deliverables, nil
}
