package store

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/marcus/planforge/internal/db"
	"github.com/marcus/planforge/internal/outline"
	"github.com/marcus/planforge/internal/phase"
	"github.com/marcus/planforge/internal/tasks"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "planforge.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	s, err := New(d)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestCreateInitialState(t *testing.T) {
	s := testStore(t)

	rec, err := s.Create("plan-001", "Ship auth module", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID != "plan-001" {
		t.Errorf("id = %q", rec.ID)
	}
	if rec.Progress.Current != phase.Init {
		t.Errorf("current phase = %v, want init", rec.Progress.Current)
	}
	if got := rec.Progress.Of(phase.Init); got != phase.StatusInProgress {
		t.Errorf("init status = %v, want in_progress", got)
	}
	for _, ph := range phase.All()[1:] {
		if got := rec.Progress.Of(ph); got != phase.StatusPending {
			t.Errorf("%v status = %v, want pending", ph, got)
		}
	}
}

func TestCreateGeneratesID(t *testing.T) {
	s := testStore(t)

	rec, err := s.Create("", "Untitled work", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected a generated id")
	}
}

func TestCreateIdempotent(t *testing.T) {
	s := testStore(t)

	first, err := s.Create("plan-001", "Ship auth module", "")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := s.Create("plan-001", "Ship auth module", "")
	if err != nil {
		t.Fatalf("retry create: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("retry returned different record:\nfirst  %+v\nsecond %+v", first, second)
	}

	if _, err := s.Create("plan-001", "Different title", ""); err == nil {
		t.Error("expected conflict for same id with different title")
	}
}

func TestReadTwiceIdentical(t *testing.T) {
	s := testStore(t)

	if _, err := s.Create("plan-001", "Ship auth module", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetDomains("plan-001", []string{"java", "web"}); err != nil {
		t.Fatalf("set domains: %v", err)
	}
	if err := s.SetMetadata("plan-001", "branch", "feature/auth"); err != nil {
		t.Fatalf("set metadata: %v", err)
	}

	a, err := s.Read("plan-001")
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	b, err := s.Read("plan-001")
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("reads differ:\na %+v\nb %+v", a, b)
	}
}

func TestReadNotFound(t *testing.T) {
	s := testStore(t)

	if _, err := s.Read("plan-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetPhaseStatusMovesCurrent(t *testing.T) {
	s := testStore(t)

	if _, err := s.Create("plan-001", "Ship auth module", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetPhaseStatus("plan-001", phase.Init, phase.StatusDone); err != nil {
		t.Fatalf("finish init: %v", err)
	}
	if err := s.SetPhaseStatus("plan-001", phase.Refine, phase.StatusInProgress); err != nil {
		t.Fatalf("start refine: %v", err)
	}

	rec, err := s.Read("plan-001")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.Progress.Current != phase.Refine {
		t.Errorf("current = %v, want refine", rec.Progress.Current)
	}
	if got := rec.Progress.Of(phase.Init); got != phase.StatusDone {
		t.Errorf("init = %v, want done", got)
	}
}

func TestApplyProgressRoundTrip(t *testing.T) {
	s := testStore(t)

	if _, err := s.Create("plan-001", "Ship auth module", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	p := phase.NewProgress()
	for _, ph := range []phase.Phase{phase.Init, phase.Refine, phase.Outline, phase.Plan} {
		if rej := phase.Transition(&p, ph, phase.Preconditions{DomainCount: 1, TaskCount: 1}); rej != nil {
			t.Fatalf("transition past %v: %v", ph, rej)
		}
	}
	if err := s.ApplyProgress("plan-001", p); err != nil {
		t.Fatalf("apply: %v", err)
	}

	rec, err := s.Read("plan-001")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(rec.Progress, p) {
		t.Errorf("progress = %+v, want %+v", rec.Progress, p)
	}
}

func TestDeliverablesRoundTrip(t *testing.T) {
	s := testStore(t)

	if _, err := s.Create("plan-001", "Ship auth module", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	want := []outline.Deliverable{
		{
			Ordinal:       1,
			Title:         "Token validation",
			ChangeType:    outline.ChangeFeature,
			ExecutionMode: outline.ModeAutomated,
			Domain:        "java",
			Module:        "auth",
			Profiles:      []string{"implementation", "module_testing"},
			AffectedFiles: []string{"auth/token.go"},
			FileChanges:   map[string]string{"auth/token.go": "add expiry check"},
			Verification: outline.Verification{
				Command:  "planforge verify --module auth",
				Criteria: "all checks pass",
			},
			SuccessCriteria: []string{"expired tokens rejected"},
		},
	}
	if err := s.SaveDeliverables("plan-001", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Deliverables("plan-001")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("deliverables = %+v, want %+v", got, want)
	}
}

func TestTasksAndSteps(t *testing.T) {
	s := testStore(t)

	if _, err := s.Create("plan-001", "Ship auth module", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	list := []tasks.Task{
		{
			Number:      1,
			Deliverable: 1,
			Domain:      "java",
			Module:      "auth",
			Profile:     "implementation",
			Skills:      []string{"java-core", "java-implementation"},
			Steps: []tasks.Step{
				{Description: "modify auth/token.go"},
				{Description: "run verification"},
			},
			Status: tasks.StatusPending,
		},
		{
			Number:      2,
			Deliverable: 1,
			Domain:      "java",
			Module:      "auth",
			Profile:     "module_testing",
			Skills:      []string{"java-core", "java-module-testing"},
			Steps:       []tasks.Step{{Description: "run verification"}},
			Status:      tasks.StatusPending,
			DependsOn:   1,
		},
	}
	if err := s.SaveTasks("plan-001", list); err != nil {
		t.Fatalf("save tasks: %v", err)
	}

	if err := s.SetTaskStatus("plan-001", 1, tasks.StatusInProgress); err != nil {
		t.Fatalf("start task: %v", err)
	}
	if err := s.SetStepDone("plan-001", 1, 0); err != nil {
		t.Fatalf("finish step: %v", err)
	}

	got, err := s.Tasks("plan-001")
	if err != nil {
		t.Fatalf("load tasks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d tasks, want 2", len(got))
	}
	if got[0].Status != tasks.StatusInProgress {
		t.Errorf("task 1 status = %v", got[0].Status)
	}
	if !got[0].Steps[0].Done {
		t.Error("expected first step persisted as done")
	}
	if got[0].Steps[1].Done {
		t.Error("second step should still be open")
	}
	if got[1].DependsOn != 1 {
		t.Errorf("task 2 depends_on = %d, want 1", got[1].DependsOn)
	}
}

func TestAppendTasksSequence(t *testing.T) {
	s := testStore(t)

	if _, err := s.Create("plan-001", "Ship auth module", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SaveTasks("plan-001", []tasks.Task{
		{Number: 1, Deliverable: 1, Domain: "java", Module: "auth", Profile: "implementation", Status: tasks.StatusPending},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.AppendTasks("plan-001", []tasks.Task{
		{Number: 5, Deliverable: 2, Domain: "java", Module: "auth", Profile: "quality", Status: tasks.StatusPending},
	}); err == nil {
		t.Error("expected gap in task numbering to be rejected")
	}

	if err := s.AppendTasks("plan-001", []tasks.Task{
		{Number: 2, Deliverable: 2, Domain: "java", Module: "auth", Profile: "quality", Status: tasks.StatusPending},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.Tasks("plan-001")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[1].Number != 2 {
		t.Errorf("unexpected task list: %+v", got)
	}
}

func TestFindingsLog(t *testing.T) {
	s := testStore(t)

	if _, err := s.Create("plan-001", "Ship auth module", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.AppendFindings("plan-001", []phase.Finding{
		{Phase: phase.Verify, Source: "verifier", Type: "test_failure", Title: "auth tests failing"},
		{Phase: phase.Verify, Source: "verifier", Type: "lint", Title: "unused import"},
		{Phase: phase.Outline, Source: "user", Type: "change_request", Title: "split deliverable"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	verify := phase.Verify
	pending, err := s.Findings("plan-001", &verify, true)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending verify findings = %d, want 2", len(pending))
	}

	if err := s.ResolveFindings("plan-001", phase.Verify); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	n, err := s.PendingFindingCount("plan-001", phase.Verify)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("pending after resolve = %d, want 0", n)
	}

	// Resolution never deletes: the full log stays queryable.
	all, err := s.Findings("plan-001", nil, false)
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("total findings = %d, want 3", len(all))
	}
	outlinePending, err := s.PendingFindingCount("plan-001", phase.Outline)
	if err != nil {
		t.Fatalf("count outline: %v", err)
	}
	if outlinePending != 1 {
		t.Errorf("outline finding should be untouched, pending = %d", outlinePending)
	}
}

func TestArchiveRequiresTerminal(t *testing.T) {
	s := testStore(t)

	if _, err := s.Create("plan-001", "Ship auth module", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Archive("plan-001"); err == nil {
		t.Error("expected archive of unfinished plan to fail")
	}

	p := phase.NewProgress()
	for _, ph := range phase.All() {
		p.Status[ph] = phase.StatusDone
	}
	p.Current = phase.Finalize
	if err := s.ApplyProgress("plan-001", p); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Archive("plan-001"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	active, err := s.List(false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("archived plan still listed: %+v", active)
	}
	all, err := s.List(true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || !all[0].Archived {
		t.Errorf("unexpected full listing: %+v", all)
	}
}
