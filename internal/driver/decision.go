package driver

import (
	"fmt"

	"github.com/marcus/planforge/internal/phase"
)

// DecisionKind names the point at which a run suspended.
type DecisionKind string

const (
	// DecisionQGateEscalation: the outline quality gate exhausted its
	// iterations with findings outstanding. The findings are presented
	// verbatim; the operator either accepts the outline as-is or feeds
	// change requests back through Resume.
	DecisionQGateEscalation DecisionKind = "qgate_escalation"

	// DecisionManualTask: the next runnable task is flagged manual. The
	// run resumes once the operator marks it done.
	DecisionManualTask DecisionKind = "manual_task"

	// DecisionLoopExhausted: a verify or finalize correction loop hit
	// its ceiling with findings still open.
	DecisionLoopExhausted DecisionKind = "loop_exhausted"
)

// PendingDecision is a suspension, not a failure: the driver stopped at
// a point where only a human may choose the next action. The plan state
// on disk is complete, so a later Resume against the same plan id picks
// up exactly here.
type PendingDecision struct {
	Kind       DecisionKind
	PlanID     string
	Phase      phase.Phase
	TaskNumber int // for DecisionManualTask
	Findings   []phase.Finding
	Message    string
}

func (d *PendingDecision) Error() string {
	return fmt.Sprintf("plan %s suspended in %s: %s (%s)", d.PlanID, d.Phase, d.Message, d.Kind)
}

// Decision is the operator's answer handed to Resume.
type Decision struct {
	// Accept closes the suspension as-is: accept the outline despite
	// findings, confirm the manual task done, or abandon the
	// exhausted loop's findings.
	Accept bool

	// ChangeRequests, for a Q-Gate escalation, re-enter the gate as
	// user findings instead of accepting.
	ChangeRequests []string
}
