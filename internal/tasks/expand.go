package tasks

import (
	"fmt"

	"github.com/marcus/planforge/internal/config"
	"github.com/marcus/planforge/internal/outline"
	"github.com/marcus/planforge/internal/resolver"
)

// Expand derives tasks from reviewed deliverables: one task per
// (deliverable, profile) pair, emitted in deliverable order then
// profile-list order, numbered sequentially from 1. The function is
// pure over its inputs; because capability resolution is deterministic
// for a given snapshot, the same outline always expands to the same
// tasks.
//
// Within one deliverable, each task after the first depends on the task
// before it, so a module_testing profile never runs ahead of the
// implementation profile it is listed after.
func Expand(snap *config.Snapshot, deliverables []outline.Deliverable) ([]Task, error) {
	if err := outline.DetectOverlap(deliverables); err != nil {
		return nil, err
	}

	var out []Task
	number := 0
	for _, d := range deliverables {
		prev := 0
		for _, profile := range d.Profiles {
			set, err := resolver.DomainCapabilities(snap, d.Domain, profile)
			if err != nil {
				return nil, fmt.Errorf("expanding deliverable %d: %w", d.Ordinal, err)
			}

			number++
			out = append(out, Task{
				Number:      number,
				Deliverable: d.Ordinal,
				Domain:      d.Domain,
				Module:      d.Module,
				Profile:     profile,
				Skills:      set.Defaults,
				Manual:      d.ExecutionMode == outline.ModeManual,
				Steps:       buildSteps(d),
				Status:      StatusPending,
				DependsOn:   prev,
			})
			prev = number
		}
	}
	return out, nil
}

// buildSteps derives the task checklist from the deliverable: one step
// per affected file plus the verification step.
func buildSteps(d outline.Deliverable) []Step {
	steps := make([]Step, 0, len(d.AffectedFiles)+1)
	for _, file := range d.AffectedFiles {
		change := d.FileChanges[file]
		if change == "" {
			change = "apply planned change"
		}
		steps = append(steps, Step{Description: fmt.Sprintf("%s: %s", file, change)})
	}
	steps = append(steps, Step{
		Description: fmt.Sprintf("verify: %s (%s)", d.Verification.Command, d.Verification.Criteria),
	})
	return steps
}
