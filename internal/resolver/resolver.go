// Package resolver answers capability lookups against a configuration
// snapshot. Every lookup is a pure function of (snapshot, arguments):
// no side effects, no process state, so the same snapshot always yields
// the same answer. Expected misses (an absent extension, an unknown
// recipe key) are modeled as explicit return values; only a hole in the
// system scope, which the config loader is supposed to exclude, is an
// error.
package resolver

import (
	"fmt"
	"sort"

	"github.com/marcus/planforge/internal/config"
	"github.com/marcus/planforge/internal/phase"
)

// ResolutionError reports a capability, extension, or recipe key that
// does not exist in the snapshot. Always recoverable: the caller must
// choose a fallback or prompt the user, never silently default.
type ResolutionError struct {
	Kind   string // "workflow", "executor", "domain", "recipe"
	Key    string
	Domain string // empty for system-scope lookups
}

func (e *ResolutionError) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("resolution failure: no %s %q configured for domain %s", e.Kind, e.Key, e.Domain)
	}
	return fmt.Sprintf("resolution failure: no %s capability for %q", e.Kind, e.Key)
}

// WorkflowCapability resolves the capability driving a phase. The system
// scope maps every phase to exactly one capability, so a miss here means
// the snapshot bypassed validation.
func WorkflowCapability(snap *config.Snapshot, ph phase.Phase) (string, error) {
	id := snap.System.Workflow[ph.String()]
	if id == "" {
		return "", &ResolutionError{Kind: "workflow", Key: ph.String()}
	}
	return id, nil
}

// ProfileExecutor resolves the executor capability for a profile.
func ProfileExecutor(snap *config.Snapshot, profile string) (string, error) {
	id := snap.System.Executors[profile]
	if id == "" {
		return "", &ResolutionError{Kind: "executor", Key: profile}
	}
	return id, nil
}

// Extension resolves a per-domain outline or triage override. Absence is
// not an error: ok is false and the caller uses the generic fallback for
// the change type.
func Extension(snap *config.Snapshot, domain, kind string) (string, bool) {
	scope, exists := snap.Domains[domain]
	if !exists {
		return "", false
	}
	id, exists := scope.Extensions[kind]
	return id, exists && id != ""
}

// CapabilitySet is the resolved capability sets for a (domain, profile)
// pair: the union of the domain's core scope and the requested profile
// scope, defaults and optionals kept apart. Both lists are sorted and
// deduplicated so the expansion they feed is reproducible.
type CapabilitySet struct {
	Defaults  []string
	Optionals []string
}

// DomainCapabilities resolves the capability set for a profile within a
// domain. The domain must exist; an unconfigured profile scope within an
// existing domain contributes nothing beyond core.
func DomainCapabilities(snap *config.Snapshot, domain, profile string) (CapabilitySet, error) {
	scope, exists := snap.Domains[domain]
	if !exists {
		return CapabilitySet{}, &ResolutionError{Kind: "domain", Key: profile, Domain: domain}
	}

	core := scope.Capabilities[config.ScopeCore]
	prof := scope.Capabilities[profile]

	return CapabilitySet{
		Defaults:  mergeSorted(core.Default, prof.Default),
		Optionals: mergeSorted(core.Optional, prof.Optional),
	}, nil
}

// RecipeByKey finds a registered recipe across all domain scopes.
func RecipeByKey(snap *config.Snapshot, key string) (config.Recipe, bool) {
	for _, domain := range snap.DomainNames() {
		for _, r := range snap.Domains[domain].Recipes {
			if r.Key == key {
				if r.Domain == "" {
					r.Domain = domain
				}
				return r, true
			}
		}
	}
	return config.Recipe{}, false
}

// Recipes enumerates every registered recipe, ordered by domain then
// registration order.
func Recipes(snap *config.Snapshot) []config.Recipe {
	var out []config.Recipe
	for _, domain := range snap.DomainNames() {
		for _, r := range snap.Domains[domain].Recipes {
			if r.Domain == "" {
				r.Domain = domain
			}
			out = append(out, r)
		}
	}
	return out
}

// GateEnabled reports whether a named verify/finalize pipeline step is
// switched on in the system scope.
func GateEnabled(snap *config.Snapshot, step string) bool {
	return snap.System.Gates[step]
}

func mergeSorted(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, v := range list {
			if v == "" {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
