// Package driver runs plans through the seven-phase lifecycle. It owns
// no domain knowledge of its own: phase gating comes from the phase
// state machine, capability lookups from the resolver, persistence from
// the store, and the actual work from external executors. Every phase
// transition and task status change is persisted before the next step
// begins, so killing the process at any point and re-running against
// the same plan id reproduces the same next action.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marcus/planforge/internal/capability"
	"github.com/marcus/planforge/internal/config"
	"github.com/marcus/planforge/internal/logging"
	"github.com/marcus/planforge/internal/phase"
	"github.com/marcus/planforge/internal/resolver"
	"github.com/marcus/planforge/internal/store"
	"github.com/marcus/planforge/internal/tasks"
)

// Metadata keys the driver persists loop counters under. Counters live
// in plan metadata so a restarted process keeps honoring the ceiling.
const (
	metaQGateIterations    = "qgate_iterations"
	metaVerifyIterations   = "verify_iterations"
	metaFinalizeIterations = "finalize_iterations"
)

// Driver coordinates one plan at a time. The configuration snapshot is
// handed in at construction and treated as read-only.
type Driver struct {
	store        *store.Store
	snap         *config.Snapshot
	invoker      capability.Invoker
	logger       *logging.Logger
	eventHandler EventHandler
	workDir      string
}

// Option configures a Driver.
type Option func(*Driver)

// WithStore sets the plan state store.
func WithStore(s *store.Store) Option {
	return func(d *Driver) {
		d.store = s
	}
}

// WithSnapshot sets the configuration snapshot.
func WithSnapshot(snap *config.Snapshot) Option {
	return func(d *Driver) {
		d.snap = snap
	}
}

// WithInvoker sets the capability invoker.
func WithInvoker(inv capability.Invoker) Option {
	return func(d *Driver) {
		d.invoker = inv
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// WithEventHandler sets an optional callback for real-time driver events.
func WithEventHandler(h EventHandler) Option {
	return func(d *Driver) {
		d.eventHandler = h
	}
}

// WithWorkDir sets the working directory handed to executors and used
// for outline file validation.
func WithWorkDir(dir string) Option {
	return func(d *Driver) {
		d.workDir = dir
	}
}

// New creates a driver with the given options.
func New(opts ...Option) *Driver {
	d := &Driver{
		logger: logging.Component("driver"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.invoker == nil {
		d.invoker = capability.NewInvoker(capability.WithWorkDir(d.workDir))
	}
	return d
}

// RunResult summarizes where a run stopped.
type RunResult struct {
	PlanID    string
	Phase     phase.Phase // phase the run stopped in
	Completed bool
	Decision  *PendingDecision // non-nil when suspended on a human choice
	Duration  time.Duration
}

// emit sends an event to the registered handler, if any.
func (d *Driver) emit(e Event) {
	if d.eventHandler != nil {
		e.Time = time.Now()
		d.eventHandler(e)
	}
}

// Run drives a plan forward until it finalizes, suspends on a human
// decision, or fails. Running an already-finalized plan is a no-op.
func (d *Driver) Run(ctx context.Context, planID string) (*RunResult, error) {
	if d.store == nil {
		return nil, errors.New("driver: no store configured")
	}
	if d.snap == nil {
		return nil, errors.New("driver: no configuration snapshot")
	}

	start := time.Now()
	d.emit(Event{Type: EventRunStart, PlanID: planID})

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rec, err := d.store.Read(planID)
		if err != nil {
			return nil, err
		}

		if rec.Progress.Terminal() {
			result := &RunResult{PlanID: planID, Phase: phase.Finalize, Completed: true, Duration: time.Since(start)}
			d.emit(Event{Type: EventRunEnd, PlanID: planID, Phase: phase.Finalize, Duration: result.Duration})
			return result, nil
		}

		current := rec.Progress.Current
		d.emit(Event{Type: EventPhaseStart, PlanID: planID, Phase: current})
		phaseStart := time.Now()

		switch current {
		case phase.Init:
			err = d.runInit(ctx, rec)
		case phase.Refine:
			err = d.runRefine(ctx, rec)
		case phase.Outline:
			err = d.runOutline(ctx, rec)
		case phase.Plan:
			err = d.runPlan(ctx, rec)
		case phase.Execute:
			err = d.runExecute(ctx, rec)
		case phase.Verify:
			err = d.runVerify(ctx, rec)
		case phase.Finalize:
			err = d.runFinalize(ctx, rec)
		default:
			err = fmt.Errorf("driver: plan %s in unknown phase %s", planID, current)
		}

		if err != nil {
			var dec *PendingDecision
			if errors.As(err, &dec) {
				d.logger.WarnCtx("run suspended", map[string]any{
					"plan": planID, "phase": current.String(), "kind": string(dec.Kind),
				})
				d.emit(Event{Type: EventDecision, PlanID: planID, Phase: current, Message: dec.Message})
				return &RunResult{PlanID: planID, Phase: current, Decision: dec, Duration: time.Since(start)}, nil
			}
			d.emit(Event{Type: EventPhaseEnd, PlanID: planID, Phase: current, Duration: time.Since(phaseStart), Error: err.Error()})
			return nil, fmt.Errorf("driver: plan %s phase %s: %w", planID, current, err)
		}

		d.emit(Event{Type: EventPhaseEnd, PlanID: planID, Phase: current, Duration: time.Since(phaseStart)})
	}
}

// Resume applies an operator decision to a suspended plan and continues
// the run. The suspension point is re-derived from persisted state, so
// Resume works even if the suspending process is long gone.
func (d *Driver) Resume(ctx context.Context, planID string, dec Decision) (*RunResult, error) {
	if d.store == nil {
		return nil, errors.New("driver: no store configured")
	}
	rec, err := d.store.Read(planID)
	if err != nil {
		return nil, err
	}

	switch rec.Progress.Current {
	case phase.Outline:
		if err := d.resumeQGate(rec, dec); err != nil {
			return nil, err
		}
	case phase.Execute:
		if err := d.resumeManualTask(rec, dec); err != nil {
			return nil, err
		}
	case phase.Verify, phase.Finalize:
		if err := d.resumeExhaustedLoop(rec, dec); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("driver: plan %s has no pending decision in phase %s", planID, rec.Progress.Current)
	}

	return d.Run(ctx, planID)
}

// resumeQGate handles the outline escalation point: accept the last
// outline despite findings, or feed change requests back through a
// fresh gate cycle.
func (d *Driver) resumeQGate(rec *store.PlanRecord, dec Decision) error {
	if len(dec.ChangeRequests) > 0 {
		var findings []phase.Finding
		for i, req := range dec.ChangeRequests {
			findings = append(findings, phase.Finding{
				Phase:  phase.Outline,
				Source: "user",
				Type:   "change_request",
				Title:  fmt.Sprintf("change request %d", i+1),
				Detail: req,
			})
		}
		if err := d.store.AppendFindings(rec.ID, findings); err != nil {
			return err
		}
		// A fresh escalation round gets a fresh ceiling.
		return d.store.SetMetadata(rec.ID, metaQGateIterations, "0")
	}
	if !dec.Accept {
		return fmt.Errorf("driver: plan %s: decision carries neither accept nor change requests", rec.ID)
	}
	if err := d.store.ResolveFindings(rec.ID, phase.Outline); err != nil {
		return err
	}
	return nil
}

// resumeManualTask confirms the blocking manual task done.
func (d *Driver) resumeManualTask(rec *store.PlanRecord, dec Decision) error {
	if !dec.Accept {
		return fmt.Errorf("driver: plan %s: manual task not confirmed", rec.ID)
	}
	list, err := d.store.Tasks(rec.ID)
	if err != nil {
		return err
	}
	next, _ := tasks.NextRunnable(list)
	if next == nil || !next.Manual {
		return fmt.Errorf("driver: plan %s: no manual task waiting", rec.ID)
	}
	for ord := range next.Steps {
		if err := d.store.SetStepDone(rec.ID, next.Number, ord); err != nil {
			return err
		}
	}
	return d.store.SetTaskStatus(rec.ID, next.Number, tasks.StatusDone)
}

// resumeExhaustedLoop abandons the exhausted loop's findings so the
// phase can complete.
func (d *Driver) resumeExhaustedLoop(rec *store.PlanRecord, dec Decision) error {
	if !dec.Accept {
		return fmt.Errorf("driver: plan %s: exhausted %s loop not accepted", rec.ID, rec.Progress.Current)
	}
	ph := rec.Progress.Current
	if err := d.store.ResolveFindings(rec.ID, ph); err != nil {
		return err
	}
	progress := rec.Progress
	if rej := phase.Transition(&progress, ph, phase.Preconditions{}); rej != nil {
		return fmt.Errorf("driver: plan %s: %s", rec.ID, rej)
	}
	return d.store.ApplyProgress(rec.ID, progress)
}

// executorFor resolves the command line for an executor table key,
// falling back to the "default" entry.
func (d *Driver) executorFor(key string) (string, error) {
	if cmd, err := resolver.ProfileExecutor(d.snap, key); err == nil {
		return cmd, nil
	}
	return resolver.ProfileExecutor(d.snap, "default")
}

// loopCounter reads a persisted loop iteration count from plan metadata.
func loopCounter(rec *store.PlanRecord, key string) int {
	n, err := strconv.Atoi(rec.Metadata[key])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// transition completes the current phase and persists the result.
func (d *Driver) transition(rec *store.PlanRecord, completed phase.Phase, pre phase.Preconditions) error {
	progress := rec.Progress
	if rej := phase.Transition(&progress, completed, pre); rej != nil {
		return fmt.Errorf("%s", rej)
	}
	return d.store.ApplyProgress(rec.ID, progress)
}
