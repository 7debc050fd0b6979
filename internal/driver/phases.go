package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/marcus/planforge/internal/capability"
	"github.com/marcus/planforge/internal/config"
	"github.com/marcus/planforge/internal/outline"
	"github.com/marcus/planforge/internal/phase"
	"github.com/marcus/planforge/internal/recipe"
	"github.com/marcus/planforge/internal/resolver"
	"github.com/marcus/planforge/internal/store"
	"github.com/marcus/planforge/internal/tasks"
)

// invokeWorkflow runs the capability configured for a phase in the
// system workflow table.
func (d *Driver) invokeWorkflow(ctx context.Context, rec *store.PlanRecord, ph phase.Phase, req capability.Request) (*capability.Response, error) {
	capID, err := resolver.WorkflowCapability(d.snap, ph)
	if err != nil {
		return nil, err
	}
	cmd, err := d.executorFor("workflow")
	if err != nil {
		return nil, err
	}
	req.PlanID = rec.ID
	req.Phase = ph.String()
	req.Capability = capID
	return d.invoker.Invoke(ctx, cmd, req)
}

// runInit establishes the plan context. There is no gate on leaving
// init; a failing init capability fails the run outright.
func (d *Driver) runInit(ctx context.Context, rec *store.PlanRecord) error {
	resp, err := d.invokeWorkflow(ctx, rec, phase.Init, capability.Request{
		Params: map[string]string{"title": rec.Title},
	})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("init capability reported failure")
	}
	for k, v := range resp.Outputs {
		if err := d.store.SetMetadata(rec.ID, k, v); err != nil {
			return err
		}
	}
	return d.transition(rec, phase.Init, phase.Preconditions{})
}

// runRefine discovers which configured domains the plan touches. The
// per-domain scans are independent and read-only, so they run as a
// fork-join group: each writes only its own slot, the parent merges
// after all complete.
func (d *Driver) runRefine(ctx context.Context, rec *store.PlanRecord) error {
	if len(rec.Domains) > 0 {
		return d.transition(rec, phase.Refine, phase.Preconditions{DomainCount: len(rec.Domains)})
	}

	names := d.snap.DomainNames()
	relevant := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			resp, err := d.invokeWorkflow(gctx, rec, phase.Refine, capability.Request{
				Domain: name,
				Params: map[string]string{"title": rec.Title},
			})
			if err != nil {
				return fmt.Errorf("scan domain %s: %w", name, err)
			}
			relevant[i] = resp.OK && resp.Outputs["relevant"] == "true"
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var domains []string
	for i, name := range names {
		if relevant[i] {
			domains = append(domains, name)
		}
	}
	if len(domains) == 0 {
		return fmt.Errorf("no configured domain is relevant to this plan")
	}
	if err := d.store.SetDomains(rec.ID, domains); err != nil {
		return err
	}
	return d.transition(rec, phase.Refine, phase.Preconditions{DomainCount: len(domains)})
}

// runOutline produces the reviewed deliverables. Recipe-backed plans
// bypass the quality gate entirely: the output shape is fully
// determined by configuration, so generation goes straight to plan.
// Free-form plans run the outline capability through the Q-Gate loop.
func (d *Driver) runOutline(ctx context.Context, rec *store.PlanRecord) error {
	if rec.RecipeKey != "" {
		return d.runRecipeOutline(ctx, rec)
	}

	// A prior run may have already settled the outline; only the
	// presence of pending findings keeps the gate open.
	pending, err := d.store.PendingFindingCount(rec.ID, phase.Outline)
	if err != nil {
		return err
	}
	if pending == 0 {
		if existing, err := d.store.Deliverables(rec.ID); err == nil && len(existing) > 0 {
			return d.transition(rec, phase.Outline, phase.Preconditions{OutstandingFindings: 0})
		}
	}

	// A spent gate stays suspended: re-raise the escalation with the
	// stored findings instead of granting an extra outline attempt.
	if iter := loopCounter(rec, metaQGateIterations); pending > 0 && iter >= phase.QGateMaxIterations {
		stored, err := d.store.Findings(rec.ID, ptr(phase.Outline), true)
		if err != nil {
			return err
		}
		return &PendingDecision{
			Kind:     DecisionQGateEscalation,
			PlanID:   rec.ID,
			Phase:    phase.Outline,
			Findings: recordedFindings(stored),
			Message:  fmt.Sprintf("quality gate exhausted after %d iterations", iter),
		}
	}

	gate := outline.NewQGate()
	gate.Loop.Iteration = loopCounter(rec, metaQGateIterations)

	for {
		prior, err := d.store.Findings(rec.ID, ptr(phase.Outline), true)
		if err != nil {
			return err
		}

		gate.BeginCycle()
		deliverables, findings, err := d.produceOutline(ctx, rec, prior)
		if err != nil {
			return err
		}
		gate.Report(findings...)

		if len(deliverables) > 0 {
			// Persist the latest attempt even when findings remain, so
			// an escalation can be accepted as-is.
			if err := d.store.SaveDeliverables(rec.ID, deliverables); err != nil {
				return err
			}
		}

		if err := d.store.ResolveFindings(rec.ID, phase.Outline); err != nil {
			return err
		}
		if err := d.store.AppendFindings(rec.ID, gate.Outstanding()); err != nil {
			return err
		}

		result := gate.Advance()
		if err := d.store.SetMetadata(rec.ID, metaQGateIterations, strconv.Itoa(gate.Iteration())); err != nil {
			return err
		}

		switch result {
		case phase.LoopSuccess:
			return d.transition(rec, phase.Outline, phase.Preconditions{OutstandingFindings: 0})
		case phase.LoopContinue:
			d.emit(Event{
				Type: EventLoopIteration, PlanID: rec.ID, Phase: phase.Outline,
				Iteration: gate.Iteration(), MaxIter: phase.QGateMaxIterations,
				Message: fmt.Sprintf("%d findings, %d iterations left", len(gate.Outstanding()), gate.Remaining()),
			})
		case phase.LoopExhausted:
			return &PendingDecision{
				Kind:     DecisionQGateEscalation,
				PlanID:   rec.ID,
				Phase:    phase.Outline,
				Findings: gate.Outstanding(),
				Message:  fmt.Sprintf("quality gate exhausted after %d iterations", gate.Iteration()),
			}
		}
	}
}

// produceOutline runs one outline attempt and validates its output.
// Validation failures become findings, not errors: they travel the
// same correction loop as capability-reported quality failures.
func (d *Driver) produceOutline(ctx context.Context, rec *store.PlanRecord, prior []store.FindingRecord) ([]outline.Deliverable, []phase.Finding, error) {
	req := capability.Request{Params: map[string]string{"title": rec.Title}}
	for _, fr := range prior {
		req.Findings = append(req.Findings, fr.Finding)
	}
	// A domain outline extension, when configured, overrides the
	// generic workflow capability for single-domain plans.
	if len(rec.Domains) == 1 {
		if ext, ok := resolver.Extension(d.snap, rec.Domains[0], config.ExtensionOutline); ok {
			req.Capability = ext
		}
	}

	var resp *capability.Response
	var err error
	if req.Capability != "" {
		cmd, cmdErr := d.executorFor("workflow")
		if cmdErr != nil {
			return nil, nil, cmdErr
		}
		req.PlanID = rec.ID
		req.Phase = phase.Outline.String()
		resp, err = d.invoker.Invoke(ctx, cmd, req)
	} else {
		resp, err = d.invokeWorkflow(ctx, rec, phase.Outline, req)
	}
	if err != nil {
		return nil, nil, err
	}

	findings := make([]phase.Finding, 0, len(resp.Findings))
	for _, f := range resp.Findings {
		f.Phase = phase.Outline
		findings = append(findings, f)
	}

	var deliverables []outline.Deliverable
	raw := resp.Outputs["deliverables"]
	if raw == "" {
		if len(findings) == 0 {
			findings = append(findings, phase.Finding{
				Phase: phase.Outline, Source: "engine", Type: "quality",
				Title: "no deliverables produced",
			})
		}
		return nil, findings, nil
	}
	if err := json.Unmarshal([]byte(raw), &deliverables); err != nil {
		findings = append(findings, phase.Finding{
			Phase: phase.Outline, Source: "engine", Type: "quality",
			Title: "unparseable deliverables", Detail: err.Error(),
		})
		return nil, findings, nil
	}

	if err := outline.Validate(d.workDir, deliverables); err != nil {
		var verr *outline.ValidationError
		detail := err.Error()
		title := "deliverable validation failed"
		if errors.As(err, &verr) {
			title = fmt.Sprintf("deliverable %d: %s", verr.Ordinal, verr.Rule)
		}
		findings = append(findings, phase.Finding{
			Phase: phase.Outline, Source: "engine", Type: "validation",
			Title: title, Detail: detail,
		})
	}
	return deliverables, findings, nil
}

// runRecipeOutline generates deliverables from the plan's recipe. No
// quality gate: recipe output is deterministic, so it goes directly to
// the plan phase with the gate counter recorded as zero.
func (d *Driver) runRecipeOutline(_ context.Context, rec *store.PlanRecord) error {
	if existing, err := d.store.Deliverables(rec.ID); err == nil && len(existing) > 0 {
		return d.transition(rec, phase.Outline, phase.Preconditions{OutstandingFindings: 0})
	}

	r, ok := resolver.RecipeByKey(d.snap, rec.RecipeKey)
	if !ok {
		return fmt.Errorf("unknown recipe %q", rec.RecipeKey)
	}
	deliverables, err := recipe.Generate(d.snap, r, d.workDir)
	if err != nil {
		return fmt.Errorf("recipe %s: %w", rec.RecipeKey, err)
	}
	if err := d.store.SaveDeliverables(rec.ID, deliverables); err != nil {
		return err
	}
	if err := d.store.SetMetadata(rec.ID, metaQGateIterations, "0"); err != nil {
		return err
	}
	d.logger.InfoCtx("recipe outline generated", map[string]any{
		"plan": rec.ID, "recipe": rec.RecipeKey, "deliverables": len(deliverables),
	})
	return d.transition(rec, phase.Outline, phase.Preconditions{OutstandingFindings: 0})
}

// runPlan expands deliverables into the numbered task list.
func (d *Driver) runPlan(_ context.Context, rec *store.PlanRecord) error {
	existing, err := d.store.Tasks(rec.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return d.transition(rec, phase.Plan, phase.Preconditions{TaskCount: len(existing)})
	}

	deliverables, err := d.store.Deliverables(rec.ID)
	if err != nil {
		return err
	}
	list, err := tasks.Expand(d.snap, deliverables)
	if err != nil {
		return err
	}
	if err := d.store.SaveTasks(rec.ID, list); err != nil {
		return err
	}
	return d.transition(rec, phase.Plan, phase.Preconditions{TaskCount: len(list)})
}

// runExecute drains the task list in ascending number order, honoring
// declared dependencies. Steps are marked done as they complete, so a
// crash mid-task loses at most the in-flight step.
func (d *Driver) runExecute(ctx context.Context, rec *store.PlanRecord) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		list, err := d.store.Tasks(rec.ID)
		if err != nil {
			return err
		}
		next, blocked := tasks.NextRunnable(list)
		if next == nil {
			// A previous process may have died mid-task; pick the
			// in-flight task back up before declaring the phase done.
			for i := range list {
				if list[i].Status == tasks.StatusInProgress {
					next = &list[i]
					break
				}
			}
		}
		if next == nil {
			if blocked {
				return fmt.Errorf("tasks remain but none are runnable: dependency deadlock")
			}
			return d.transition(rec, phase.Execute, phase.Preconditions{TasksRemaining: tasks.Remaining(list)})
		}

		if next.Manual {
			return &PendingDecision{
				Kind:       DecisionManualTask,
				PlanID:     rec.ID,
				Phase:      phase.Execute,
				TaskNumber: next.Number,
				Message:    fmt.Sprintf("task %d requires human action", next.Number),
			}
		}

		if err := d.runTask(ctx, rec, next); err != nil {
			return err
		}
	}
}

// runTask invokes the profile executor once per open step.
func (d *Driver) runTask(ctx context.Context, rec *store.PlanRecord, t *tasks.Task) error {
	title := t.Domain + "/" + t.Module
	d.emit(Event{Type: EventTaskStart, PlanID: rec.ID, Phase: phase.Execute, TaskNumber: t.Number, TaskTitle: title})

	if t.Status != tasks.StatusInProgress {
		if err := d.store.SetTaskStatus(rec.ID, t.Number, tasks.StatusInProgress); err != nil {
			return err
		}
	}

	cmd, err := d.executorFor(t.Profile)
	if err != nil {
		return fmt.Errorf("task %d: %w", t.Number, err)
	}

	for ord, step := range t.Steps {
		if step.Done {
			continue
		}
		resp, err := d.invoker.Invoke(ctx, cmd, capability.Request{
			PlanID:     rec.ID,
			Phase:      phase.Execute.String(),
			Capability: t.Profile,
			Domain:     t.Domain,
			Module:     t.Module,
			Skills:     t.Skills,
			Params: map[string]string{
				"task": strconv.Itoa(t.Number),
				"step": step.Description,
			},
		})
		if err != nil {
			return fmt.Errorf("task %d step %d: %w", t.Number, ord, err)
		}
		if !resp.OK {
			for i := range resp.Findings {
				resp.Findings[i].Phase = phase.Execute
			}
			if err := d.store.AppendFindings(rec.ID, resp.Findings); err != nil {
				return err
			}
			return fmt.Errorf("task %d step %d: executor reported failure", t.Number, ord)
		}
		if err := d.store.SetStepDone(rec.ID, t.Number, ord); err != nil {
			return err
		}
	}

	if err := d.store.SetTaskStatus(rec.ID, t.Number, tasks.StatusDone); err != nil {
		return err
	}
	d.emit(Event{Type: EventTaskEnd, PlanID: rec.ID, Phase: phase.Execute, TaskNumber: t.Number, TaskTitle: title})
	return nil
}

// Fixed pipeline steps. Entries with gated=true only run when switched
// on in the system gates table; the rest always run.
var verifySteps = []pipelineStep{
	{name: "build"},
	{name: "test"},
	{name: "lint", gated: true},
	{name: "review", gated: true},
}

var finalizeSteps = []pipelineStep{
	{name: "consolidate"},
	{name: "changelog"},
	{name: "release_notes", gated: true},
	{name: "cleanup", gated: true},
}

type pipelineStep struct {
	name  string
	gated bool
}

// runVerify runs the verification pipeline once per entry into the
// phase. Findings loop the plan back to execute with remediation tasks
// until the ceiling is hit; the iteration counter is persisted so
// restarts keep counting.
func (d *Driver) runVerify(ctx context.Context, rec *store.PlanRecord) error {
	return d.runCorrectionPhase(ctx, rec, phase.Verify, verifySteps, metaVerifyIterations, phase.VerifyMaxIterations)
}

// runFinalize mirrors verify with its own pipeline and ceiling.
// Completing it finalizes the plan.
func (d *Driver) runFinalize(ctx context.Context, rec *store.PlanRecord) error {
	return d.runCorrectionPhase(ctx, rec, phase.Finalize, finalizeSteps, metaFinalizeIterations, phase.FinalizeMaxIterations)
}

func (d *Driver) runCorrectionPhase(ctx context.Context, rec *store.PlanRecord, ph phase.Phase, steps []pipelineStep, counterKey string, ceiling int) error {
	loop := phase.NewLoop(ceiling)
	loop.Iteration = loopCounter(rec, counterKey)

	// An exhausted loop waits for the operator; re-raise the suspension
	// with the stored findings intact rather than burning another cycle.
	if loop.Iteration >= ceiling {
		stored, err := d.store.Findings(rec.ID, ptr(ph), true)
		if err != nil {
			return err
		}
		if len(stored) > 0 {
			return &PendingDecision{
				Kind:     DecisionLoopExhausted,
				PlanID:   rec.ID,
				Phase:    ph,
				Findings: recordedFindings(stored),
				Message:  fmt.Sprintf("%s loop exhausted after %d iterations", ph, loop.Iteration),
			}
		}
	}

	// Previous iteration's findings are part of a cycle that already
	// produced remediation tasks; clear them before re-checking.
	if err := d.store.ResolveFindings(rec.ID, ph); err != nil {
		return err
	}

	findings, err := d.runPipeline(ctx, rec, ph, steps)
	if err != nil {
		return err
	}
	loop.Record(findings)

	if err := d.store.AppendFindings(rec.ID, findings); err != nil {
		return err
	}

	result := loop.Advance()
	if err := d.store.SetMetadata(rec.ID, counterKey, strconv.Itoa(loop.Iteration)); err != nil {
		return err
	}

	switch result {
	case phase.LoopSuccess:
		return d.transition(rec, ph, phase.Preconditions{OutstandingFindings: 0})
	case phase.LoopContinue:
		if err := d.appendRemediationTasks(rec, findings); err != nil {
			return err
		}
		progress := rec.Progress
		if rej := phase.LoopBack(&progress, ph); rej != nil {
			return fmt.Errorf("%s", rej)
		}
		d.emit(Event{
			Type: EventLoopBack, PlanID: rec.ID, Phase: ph,
			Iteration: loop.Iteration, MaxIter: ceiling,
			Message: fmt.Sprintf("%d findings, %d iterations left", len(findings), loop.Remaining()),
		})
		return d.store.ApplyProgress(rec.ID, progress)
	default:
		return &PendingDecision{
			Kind:     DecisionLoopExhausted,
			PlanID:   rec.ID,
			Phase:    ph,
			Findings: findings,
			Message:  fmt.Sprintf("%s loop exhausted after %d iterations", ph, loop.Iteration),
		}
	}
}

// runPipeline runs the fixed gated steps, then the per-domain triage
// extensions, collecting findings from each.
func (d *Driver) runPipeline(ctx context.Context, rec *store.PlanRecord, ph phase.Phase, steps []pipelineStep) ([]phase.Finding, error) {
	var findings []phase.Finding

	collect := func(resp *capability.Response, source string) {
		for _, f := range resp.Findings {
			f.Phase = ph
			if f.Source == "" {
				f.Source = source
			}
			findings = append(findings, f)
		}
	}

	for _, step := range steps {
		if step.gated && !resolver.GateEnabled(d.snap, step.name) {
			continue
		}
		resp, err := d.invokeWorkflow(ctx, rec, ph, capability.Request{
			Params: map[string]string{"step": step.name},
		})
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.name, err)
		}
		collect(resp, step.name)
	}

	for _, domain := range rec.Domains {
		ext, ok := resolver.Extension(d.snap, domain, config.ExtensionTriage)
		if !ok {
			continue
		}
		cmd, err := d.executorFor("workflow")
		if err != nil {
			return nil, err
		}
		resp, err := d.invoker.Invoke(ctx, cmd, capability.Request{
			PlanID:     rec.ID,
			Phase:      ph.String(),
			Capability: ext,
			Domain:     domain,
		})
		if err != nil {
			return nil, fmt.Errorf("triage %s: %w", domain, err)
		}
		collect(resp, ext)
	}

	return findings, nil
}

// appendRemediationTasks turns a correction cycle's findings into new
// execute-phase tasks, continuing the existing number sequence.
func (d *Driver) appendRemediationTasks(rec *store.PlanRecord, findings []phase.Finding) error {
	existing, err := d.store.Tasks(rec.ID)
	if err != nil {
		return err
	}

	domain := ""
	if len(rec.Domains) > 0 {
		domain = rec.Domains[0]
	}
	var skills []string
	if domain != "" {
		if set, err := resolver.DomainCapabilities(d.snap, domain, config.ScopeImplementation); err == nil {
			skills = set.Defaults
		}
	}

	next := len(existing) + 1
	var remediation []tasks.Task
	for _, f := range findings {
		remediation = append(remediation, tasks.Task{
			Number:  next,
			Domain:  domain,
			Profile: config.ScopeImplementation,
			Skills:  skills,
			Steps: []tasks.Step{
				{Description: fmt.Sprintf("resolve finding: %s", f.Title)},
			},
			Status: tasks.StatusPending,
		})
		next++
	}
	return d.store.AppendTasks(rec.ID, remediation)
}

func ptr(ph phase.Phase) *phase.Phase {
	return &ph
}

func recordedFindings(records []store.FindingRecord) []phase.Finding {
	out := make([]phase.Finding, len(records))
	for i, r := range records {
		out[i] = r.Finding
	}
	return out
}
