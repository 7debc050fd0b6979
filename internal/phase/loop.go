package phase

// Iteration ceilings for the three bounded correction loops.
const (
	QGateMaxIterations    = 3
	VerifyMaxIterations   = 5
	FinalizeMaxIterations = 3
)

// LoopResult is the tagged outcome of one loop iteration.
type LoopResult int

const (
	LoopContinue LoopResult = iota
	LoopSuccess
	LoopExhausted
)

func (r LoopResult) String() string {
	switch r {
	case LoopContinue:
		return "continue"
	case LoopSuccess:
		return "success"
	case LoopExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Loop is the state of one bounded correction loop. Iteration is strictly
// monotonic; the loop never recurses and never runs past MaxIterations.
type Loop struct {
	Iteration     int
	MaxIterations int
	Findings      []Finding
}

// NewLoop returns a loop with the given ceiling and no iterations run.
func NewLoop(max int) *Loop {
	return &Loop{MaxIterations: max}
}

// Record replaces the loop's findings with the outcome of the iteration
// that just ran. Within an iteration findings accumulate via Append.
func (l *Loop) Record(findings []Finding) {
	l.Findings = findings
}

// Append adds findings to the current iteration.
func (l *Loop) Append(findings ...Finding) {
	l.Findings = append(l.Findings, findings...)
}

// Advance accounts for one completed iteration and reports whether the
// loop is clean, should run again, or has hit its ceiling. With no
// findings outstanding the result is LoopSuccess. Otherwise the result
// is LoopContinue until Iteration reaches MaxIterations, at which point
// it is LoopExhausted: the engine must stop and hand the findings to the
// operator, never attempt another run.
func (l *Loop) Advance() LoopResult {
	l.Iteration++
	if len(l.Findings) == 0 {
		return LoopSuccess
	}
	if l.Iteration >= l.MaxIterations {
		return LoopExhausted
	}
	return LoopContinue
}

// Remaining returns how many iterations are left before exhaustion.
// Surfaced in every user-visible loop failure so urgency is judgeable.
func (l *Loop) Remaining() int {
	if l.Iteration >= l.MaxIterations {
		return 0
	}
	return l.MaxIterations - l.Iteration
}
