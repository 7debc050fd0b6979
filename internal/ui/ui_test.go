package ui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/planforge/internal/driver"
	"github.com/marcus/planforge/internal/phase"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
		return
	}

	if m.width != 80 {
		t.Errorf("expected width 80, got %d", m.width)
	}
	if m.height != 24 {
		t.Errorf("expected height 24, got %d", m.height)
	}
	if m.activePanel != PanelStatus {
		t.Errorf("expected activePanel PanelStatus, got %d", m.activePanel)
	}
	if m.runStatus != StatusIdle {
		t.Errorf("expected runStatus StatusIdle, got %d", m.runStatus)
	}
	if m.styles == nil {
		t.Error("expected styles to be initialized")
	}
}

func TestApplyEventRunLifecycle(t *testing.T) {
	m := New()

	m.ApplyEvent(driver.Event{Type: driver.EventRunStart, PlanID: "plan-1", Time: time.Now()})
	if m.runStatus != StatusRunning {
		t.Errorf("expected StatusRunning after run start, got %v", m.runStatus)
	}
	if m.planID != "plan-1" {
		t.Errorf("expected planID plan-1, got %s", m.planID)
	}

	m.ApplyEvent(driver.Event{Type: driver.EventPhaseStart, Phase: phase.Outline, Time: time.Now()})
	if m.currentPhase != phase.Outline {
		t.Errorf("expected currentPhase Outline, got %v", m.currentPhase)
	}

	m.ApplyEvent(driver.Event{Type: driver.EventRunEnd})
	if m.runStatus != StatusDone {
		t.Errorf("expected StatusDone after run end, got %v", m.runStatus)
	}
}

func TestApplyEventRunFailure(t *testing.T) {
	m := New()
	m.ApplyEvent(driver.Event{Type: driver.EventRunStart, PlanID: "plan-1"})
	m.ApplyEvent(driver.Event{Type: driver.EventRunEnd, Error: "boom"})
	if m.runStatus != StatusFailed {
		t.Errorf("expected StatusFailed, got %v", m.runStatus)
	}
}

func TestApplyEventSuspension(t *testing.T) {
	m := New()
	m.ApplyEvent(driver.Event{Type: driver.EventRunStart, PlanID: "plan-1"})
	m.ApplyEvent(driver.Event{Type: driver.EventDecision, Message: "quality gate escalation"})
	if m.runStatus != StatusSuspended {
		t.Errorf("expected StatusSuspended, got %v", m.runStatus)
	}

	// Run end after a suspension keeps the suspended state visible.
	m.ApplyEvent(driver.Event{Type: driver.EventRunEnd})
	if m.runStatus != StatusSuspended {
		t.Errorf("expected StatusSuspended after run end, got %v", m.runStatus)
	}
}

func TestApplyEventTasks(t *testing.T) {
	m := New()

	m.ApplyEvent(driver.Event{Type: driver.EventTaskStart, TaskNumber: 1, TaskTitle: "Add handler"})
	if len(m.tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(m.tasks))
	}
	if m.tasks[0].Status != TaskRunning {
		t.Errorf("expected TaskRunning, got %v", m.tasks[0].Status)
	}

	m.ApplyEvent(driver.Event{Type: driver.EventTaskEnd, TaskNumber: 1, TaskTitle: "Add handler"})
	if m.tasks[0].Status != TaskCompleted {
		t.Errorf("expected TaskCompleted, got %v", m.tasks[0].Status)
	}

	m.ApplyEvent(driver.Event{Type: driver.EventTaskStart, TaskNumber: 2, TaskTitle: "Fix tests"})
	m.ApplyEvent(driver.Event{Type: driver.EventTaskEnd, TaskNumber: 2, Error: "step failed"})
	if m.tasks[1].Status != TaskFailed {
		t.Errorf("expected TaskFailed, got %v", m.tasks[1].Status)
	}
}

func TestApplyEventLoopIteration(t *testing.T) {
	m := New()
	m.ApplyEvent(driver.Event{
		Type:      driver.EventLoopIteration,
		Phase:     phase.Verify,
		Iteration: 2,
		MaxIter:   5,
		Message:   "2 findings open",
	})
	if m.loopIter != 2 || m.loopMax != 5 {
		t.Errorf("expected loop 2/5, got %d/%d", m.loopIter, m.loopMax)
	}
	if m.loopName != "verify" {
		t.Errorf("expected loopName verify, got %s", m.loopName)
	}
}

func TestEventMsgThroughUpdate(t *testing.T) {
	m := New()
	model, _ := m.Update(EventMsg{Event: driver.Event{Type: driver.EventRunStart, PlanID: "plan-9"}})
	updated := model.(Model)
	if updated.runStatus != StatusRunning {
		t.Errorf("expected StatusRunning after EventMsg, got %v", updated.runStatus)
	}
	if updated.planID != "plan-9" {
		t.Errorf("expected planID plan-9, got %s", updated.planID)
	}
}

func TestTaskManagement(t *testing.T) {
	m := New()

	m.AddTask(TaskItem{Number: 1, Title: "Add endpoint", Status: TaskPending})
	if len(m.tasks) != 1 {
		t.Errorf("expected 1 task, got %d", len(m.tasks))
	}
	if m.tasks[0].Number != 1 {
		t.Errorf("expected task number 1, got %d", m.tasks[0].Number)
	}

	m.UpdateTask(1, TaskRunning)
	if m.tasks[0].Status != TaskRunning {
		t.Errorf("expected task status TaskRunning, got %d", m.tasks[0].Status)
	}

	m.ClearTasks()
	if len(m.tasks) != 0 {
		t.Errorf("expected 0 tasks after clear, got %d", len(m.tasks))
	}
}

func TestLogManagement(t *testing.T) {
	m := New()

	m.AddLog("info", "Test message")
	if len(m.logs) != 1 {
		t.Errorf("expected 1 log, got %d", len(m.logs))
	}
	if m.logs[0].Level != "info" {
		t.Errorf("expected log level 'info', got %s", m.logs[0].Level)
	}
	if m.logs[0].Message != "Test message" {
		t.Errorf("expected log message 'Test message', got %s", m.logs[0].Message)
	}

	m.ClearLogs()
	if len(m.logs) != 0 {
		t.Errorf("expected 0 logs after clear, got %d", len(m.logs))
	}
}

func TestInit(t *testing.T) {
	m := New()
	cmd := m.Init()
	if cmd == nil {
		t.Error("Init() should return a command")
	}
}

func TestUpdateWindowSize(t *testing.T) {
	m := New()
	model, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	updated := model.(Model)

	if updated.width != 120 {
		t.Errorf("expected width 120, got %d", updated.width)
	}
	if updated.height != 40 {
		t.Errorf("expected height 40, got %d", updated.height)
	}
}

func TestKeyHandlingQuit(t *testing.T) {
	m := New()
	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	updated := model.(Model)

	if !updated.quitting {
		t.Error("expected quitting to be true after 'q' key")
	}
	if cmd == nil {
		t.Error("expected quit command")
	}
}

func TestKeyHandlingPanelSwitch(t *testing.T) {
	m := New()

	// Tab should switch panels
	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	updated := model.(Model)
	if updated.activePanel != PanelTasks {
		t.Errorf("expected PanelTasks after tab, got %d", updated.activePanel)
	}

	// Another tab
	model, _ = updated.Update(tea.KeyMsg{Type: tea.KeyTab})
	updated = model.(Model)
	if updated.activePanel != PanelLogs {
		t.Errorf("expected PanelLogs after second tab, got %d", updated.activePanel)
	}

	// Another tab should cycle back
	model, _ = updated.Update(tea.KeyMsg{Type: tea.KeyTab})
	updated = model.(Model)
	if updated.activePanel != PanelStatus {
		t.Errorf("expected PanelStatus after third tab, got %d", updated.activePanel)
	}
}

func TestView(t *testing.T) {
	m := New()
	m.SetRunStatus(StatusRunning)
	m.SetPlan("plan-auth")
	m.SetPhase(phase.Execute)
	m.AddTask(TaskItem{Number: 1, Title: "Add handler", Status: TaskRunning})
	m.AddLog("info", "Starting task")

	view := m.View()
	if view == "" {
		t.Error("View() returned empty string")
	}

	// Basic content checks
	if !containsAny(view, "Planforge", "Status") {
		t.Error("View missing status panel content")
	}
	if !containsAny(view, "Tasks") {
		t.Error("View missing task panel content")
	}
	if !containsAny(view, "Logs") {
		t.Error("View missing log panel content")
	}
}

func TestViewWhenQuitting(t *testing.T) {
	m := New()
	m.quitting = true
	view := m.View()
	if view != "" {
		t.Error("View() should return empty string when quitting")
	}
}

func TestRunStatusStrings(t *testing.T) {
	tests := []struct {
		status   RunStatus
		expected string
	}{
		{StatusIdle, "Idle"},
		{StatusRunning, "Running"},
		{StatusSuspended, "Suspended"},
		{StatusDone, "Done"},
		{StatusFailed, "Failed"},
		{RunStatus(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("RunStatus(%d).String() = %s, want %s", tt.status, got, tt.expected)
		}
	}
}

func TestTaskStatusStrings(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		expected string
	}{
		{TaskPending, "pending"},
		{TaskRunning, "running"},
		{TaskCompleted, "done"},
		{TaskFailed, "failed"},
		{TaskStatus(99), "?"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("TaskStatus(%d).String() = %s, want %s", tt.status, got, tt.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{48 * time.Hour, "2d"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.duration); got != tt.expected {
			t.Errorf("formatDuration(%v) = %s, want %s", tt.duration, got, tt.expected)
		}
	}
}

func TestSpinner(t *testing.T) {
	m := New()
	frames := []string{"|", "/", "-", "\\"}

	for i := 0; i < 8; i++ {
		m.progressTick = i
		got := m.spinner()
		expected := frames[i%4]
		if got != expected {
			t.Errorf("spinner at tick %d = %s, want %s", i, got, expected)
		}
	}
}

func TestProgressBar(t *testing.T) {
	m := New()

	bar0 := m.renderProgressBar(0, 20)
	if !containsAny(bar0, "[", "]") {
		t.Error("Progress bar missing brackets")
	}

	bar50 := m.renderProgressBar(50, 20)
	if !containsAny(bar50, "=", "-") {
		t.Error("Progress bar missing fill characters")
	}

	bar100 := m.renderProgressBar(100, 20)
	if !containsAny(bar100, "=") {
		t.Error("Full progress bar should have fill")
	}
}

func TestHandleNavigation(t *testing.T) {
	m := New()
	m.activePanel = PanelTasks
	m.AddTask(TaskItem{Number: 1, Title: "Task 1"})
	m.AddTask(TaskItem{Number: 2, Title: "Task 2"})
	m.AddTask(TaskItem{Number: 3, Title: "Task 3"})

	// Down navigation
	result := m.handleDown()
	if result.selectedTask != 1 {
		t.Errorf("expected selectedTask 1 after down, got %d", result.selectedTask)
	}

	// Up navigation
	result = result.handleUp()
	if result.selectedTask != 0 {
		t.Errorf("expected selectedTask 0 after up, got %d", result.selectedTask)
	}

	// Home navigation
	result.selectedTask = 2
	result = result.handleHome()
	if result.selectedTask != 0 {
		t.Errorf("expected selectedTask 0 after home, got %d", result.selectedTask)
	}

	// End navigation
	result = result.handleEnd()
	if result.selectedTask != 2 {
		t.Errorf("expected selectedTask 2 after end, got %d", result.selectedTask)
	}
}

// containsAny checks if s contains any of the given substrings.
func containsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if len(substr) > 0 && len(s) >= len(substr) {
			for i := 0; i <= len(s)-len(substr); i++ {
				if s[i:i+len(substr)] == substr {
					return true
				}
			}
		}
	}
	return false
}
