package phase

import "fmt"

// Rejection describes why a transition was refused. It is a normal return
// value, not an error: every rejection names the precondition that failed
// so the caller can fix it instead of retrying blindly.
type Rejection struct {
	Phase  Phase  // the phase whose completion was rejected
	Rule   string // short rule identifier, e.g. "outstanding-findings"
	Detail string
}

func (r *Rejection) String() string {
	return fmt.Sprintf("transition out of %s rejected (%s): %s", r.Phase, r.Rule, r.Detail)
}

// Rule identifiers used in rejections.
const (
	RuleNotCurrent          = "not-current"
	RuleTerminal            = "terminal"
	RuleNoDomains           = "no-domains"
	RuleOutstandingFindings = "outstanding-findings"
	RuleNoTasks             = "no-tasks"
	RuleTasksRemaining      = "tasks-remaining"
	RuleIllegalLoopBack     = "illegal-loop-back"
)

// Preconditions carries the external facts a transition is gated on.
// The caller assembles it from the plan's persisted state.
type Preconditions struct {
	DomainCount         int // domains discovered so far
	OutstandingFindings int // pending findings for the completing phase
	TaskCount           int // tasks expanded for the plan
	TasksRemaining      int // tasks not yet done
}

// Transition marks completed as done and advances Current to the next
// ordered phase. It succeeds only if completed is the current phase and
// its preconditions hold; otherwise Progress is untouched and the
// returned Rejection says which rule failed.
func Transition(p *Progress, completed Phase, pre Preconditions) *Rejection {
	if p.Terminal() {
		return &Rejection{Phase: completed, Rule: RuleTerminal, Detail: "plan already finalized"}
	}
	if completed != p.Current {
		return &Rejection{
			Phase: completed,
			Rule:  RuleNotCurrent,
			Detail: fmt.Sprintf("current phase is %s, not %s", p.Current, completed),
		}
	}
	if rej := checkGate(completed, pre); rej != nil {
		return rej
	}

	p.Status[completed] = StatusDone
	next, ok := completed.Next()
	if !ok {
		// finalize done: terminal state, Current stays on finalize.
		return nil
	}
	p.Current = next
	p.Status[next] = StatusInProgress
	return nil
}

// checkGate enforces the per-phase completion preconditions.
func checkGate(completed Phase, pre Preconditions) *Rejection {
	switch completed {
	case Refine:
		if pre.DomainCount < 1 {
			return &Rejection{Phase: completed, Rule: RuleNoDomains,
				Detail: "at least one domain must be identified before outline"}
		}
	case Outline:
		if pre.OutstandingFindings > 0 {
			return &Rejection{Phase: completed, Rule: RuleOutstandingFindings,
				Detail: fmt.Sprintf("%d quality-gate findings outstanding", pre.OutstandingFindings)}
		}
	case Plan:
		if pre.TaskCount < 1 {
			return &Rejection{Phase: completed, Rule: RuleNoTasks,
				Detail: "plan phase requires at least one expanded task"}
		}
	case Execute:
		if pre.TasksRemaining > 0 {
			return &Rejection{Phase: completed, Rule: RuleTasksRemaining,
				Detail: fmt.Sprintf("%d tasks not yet done", pre.TasksRemaining)}
		}
	case Verify, Finalize:
		if pre.OutstandingFindings > 0 {
			return &Rejection{Phase: completed, Rule: RuleOutstandingFindings,
				Detail: fmt.Sprintf("%d findings unresolved", pre.OutstandingFindings)}
		}
	}
	return nil
}

// LoopBack re-opens the execute phase from verify or finalize. These are
// the only two legal loop-back edges: execute may be re-marked
// in_progress after it was done so remediation tasks can run. The
// originating phase drops back to pending and will re-run once execute
// completes again.
func LoopBack(p *Progress, from Phase) *Rejection {
	if from != Verify && from != Finalize {
		return &Rejection{Phase: from, Rule: RuleIllegalLoopBack,
			Detail: fmt.Sprintf("loop-back is only legal from verify or finalize, not %s", from)}
	}
	if p.Current != from {
		return &Rejection{Phase: from, Rule: RuleNotCurrent,
			Detail: fmt.Sprintf("current phase is %s, not %s", p.Current, from)}
	}

	// Phases between execute and the origin drop back to pending.
	for ph := Execute; ph <= from; ph++ {
		p.Status[ph] = StatusPending
	}
	p.Status[Execute] = StatusInProgress
	p.Current = Execute
	return nil
}
