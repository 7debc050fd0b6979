package driver

import (
	"time"

	"github.com/marcus/planforge/internal/phase"
)

// EventType classifies driver lifecycle events.
type EventType int

const (
	EventRunStart  EventType = iota // driver attached to a plan
	EventPhaseStart
	EventPhaseEnd
	EventLoopIteration // new iteration of a correction loop
	EventLoopBack      // verify/finalize sent the plan back to execute
	EventTaskStart
	EventTaskEnd
	EventDecision // run suspended on a human decision
	EventLog
	EventRunEnd
)

// Event carries data about a driver lifecycle event.
type Event struct {
	Type       EventType
	Time       time.Time
	PlanID     string
	Phase      phase.Phase
	Iteration  int // current correction-loop iteration (1-based)
	MaxIter    int
	TaskNumber int
	TaskTitle  string
	Message    string
	Level      string // "info", "warn", "error"
	Fields     map[string]any
	Duration   time.Duration // for EventPhaseEnd/EventRunEnd
	Error      string
}

// EventHandler is a callback that receives driver events.
type EventHandler func(Event)
