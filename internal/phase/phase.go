// Package phase implements the plan phase state machine.
// A plan moves through seven ordered phases; transitions are gated by
// preconditions and the only legal loop-backs are verify->execute and
// finalize->execute.
package phase

import "fmt"

// Phase is one of the seven ordered plan phases.
type Phase int

const (
	Init Phase = iota
	Refine
	Outline
	Plan
	Execute
	Verify
	Finalize
)

// Count is the number of phases in the sequence.
const Count = 7

var phaseNames = [Count]string{"init", "refine", "outline", "plan", "execute", "verify", "finalize"}

func (p Phase) String() string {
	if p < Init || p > Finalize {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalJSON serializes a phase as its name.
func (p Phase) MarshalJSON() ([]byte, error) {
	if p < Init || p > Finalize {
		return nil, fmt.Errorf("cannot marshal %s", p)
	}
	return []byte(`"` + phaseNames[p] + `"`), nil
}

// UnmarshalJSON parses a phase from its quoted name.
func (p *Phase) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("phase must be a JSON string: %s", data)
	}
	parsed, err := Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Parse converts a phase name to a Phase.
func Parse(name string) (Phase, error) {
	for i, n := range phaseNames {
		if n == name {
			return Phase(i), nil
		}
	}
	return Init, fmt.Errorf("unknown phase: %q", name)
}

// All returns the phases in order.
func All() []Phase {
	out := make([]Phase, Count)
	for i := range out {
		out[i] = Phase(i)
	}
	return out
}

// Next returns the phase following p. ok is false for the terminal phase.
func (p Phase) Next() (Phase, bool) {
	if p >= Finalize {
		return Finalize, false
	}
	return p + 1, true
}

// Status is the sub-status a plan holds for each phase.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// ParseStatus converts a status name to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusDone:
		return Status(s), nil
	}
	return StatusPending, fmt.Errorf("unknown phase status: %q", s)
}

// Progress tracks a plan's position in the phase sequence: the current
// phase plus one status per phase.
type Progress struct {
	Current Phase
	Status  [Count]Status
}

// NewProgress returns the initial progress for a freshly created plan:
// init in_progress, everything else pending.
func NewProgress() Progress {
	p := Progress{Current: Init}
	for i := range p.Status {
		p.Status[i] = StatusPending
	}
	p.Status[Init] = StatusInProgress
	return p
}

// Terminal reports whether the plan has completed its final phase.
func (p Progress) Terminal() bool {
	return p.Status[Finalize] == StatusDone
}

// Of returns the status of a single phase.
func (p Progress) Of(ph Phase) Status {
	return p.Status[ph]
}
