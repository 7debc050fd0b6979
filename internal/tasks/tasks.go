// Package tasks defines executable tasks and the expansion that derives
// them from reviewed deliverables.
package tasks

// Status is a task's overall execution state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Step is one checklist item within a task. Steps are marked done
// incrementally so a crash mid-task loses at most the in-flight step.
type Step struct {
	Description string
	Done        bool
}

// Task is one executable unit derived from a (deliverable, profile)
// pair. Numbers are sequential and unique within a plan, starting at 1.
// A task is mutated only by the execute phase driver, one task owned at
// a time.
type Task struct {
	Number      int
	Deliverable int // ordinal of the originating deliverable
	Domain      string
	Module      string
	Profile     string
	Skills      []string // resolved capability identifiers
	Manual      bool     // block for human action instead of invoking capabilities
	Steps       []Step
	Status      Status
	DependsOn   int // number of the task that must be done first; 0 means none
}

// Remaining counts tasks that are not yet done.
func Remaining(list []Task) int {
	n := 0
	for _, t := range list {
		if t.Status != StatusDone {
			n++
		}
	}
	return n
}

// NextRunnable returns the lowest-numbered pending task whose declared
// dependency, if any, is done. blocked reports whether pending tasks
// exist that are all waiting on dependencies.
func NextRunnable(list []Task) (next *Task, blocked bool) {
	done := make(map[int]bool, len(list))
	for _, t := range list {
		if t.Status == StatusDone {
			done[t.Number] = true
		}
	}

	pending := 0
	for i := range list {
		t := &list[i]
		if t.Status != StatusPending {
			continue
		}
		pending++
		if t.DependsOn != 0 && !done[t.DependsOn] {
			continue
		}
		return t, false
	}
	return nil, pending > 0
}
