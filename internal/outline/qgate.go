package outline

import (
	"fmt"

	"github.com/marcus/planforge/internal/phase"
)

// QGate is the bounded correction loop that runs inside the outline
// phase, before plan is reachable. Automated quality failures and
// user-supplied change requests feed the same findings list and the
// same iteration counter: manual feedback and automated failures share
// one correction mechanism and one ceiling.
type QGate struct {
	Loop *phase.Loop
}

// NewQGate returns a quality gate with the standard three-iteration
// ceiling.
func NewQGate() *QGate {
	return &QGate{Loop: phase.NewLoop(phase.QGateMaxIterations)}
}

// BeginCycle clears the findings of the previous iteration. Called
// before each outline (re-)run; findings are append-only within one
// iteration.
func (g *QGate) BeginCycle() {
	g.Loop.Record(nil)
}

// Report appends automated quality-gate findings for this iteration.
func (g *QGate) Report(findings ...phase.Finding) {
	g.Loop.Append(findings...)
}

// UserFeedback converts operator change requests into findings so they
// travel the same loop as automated failures.
func (g *QGate) UserFeedback(requests ...string) {
	for i, req := range requests {
		g.Loop.Append(phase.Finding{
			Phase:  phase.Outline,
			Source: "user",
			Type:   "change_request",
			Title:  fmt.Sprintf("change request %d", i+1),
			Detail: req,
		})
	}
}

// Advance closes the current iteration: success when no findings are
// outstanding, continue while the ceiling allows another re-run,
// exhausted when three iterations have run with findings remaining.
// Exhaustion is a required decision point, not a fatal error: the
// findings go to the operator verbatim.
func (g *QGate) Advance() phase.LoopResult {
	return g.Loop.Advance()
}

// Outstanding returns the findings of the current iteration.
func (g *QGate) Outstanding() []phase.Finding {
	return g.Loop.Findings
}

// Iteration returns how many iterations have run.
func (g *QGate) Iteration() int {
	return g.Loop.Iteration
}

// Remaining returns iterations left before exhaustion.
func (g *QGate) Remaining() int {
	return g.Loop.Remaining()
}
