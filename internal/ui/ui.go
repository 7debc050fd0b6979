// Package ui provides a terminal UI for monitoring planforge runs.
// Uses Bubbletea for interactive display of phase progress, tasks, and logs.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/planforge/internal/driver"
	"github.com/marcus/planforge/internal/phase"
)

// Panel represents which panel is currently focused.
type Panel int

const (
	PanelStatus Panel = iota
	PanelTasks
	PanelLogs
)

// RunStatus represents the state of the monitored run.
type RunStatus int

const (
	StatusIdle RunStatus = iota
	StatusRunning
	StatusSuspended
	StatusDone
	StatusFailed
)

func (s RunStatus) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusRunning:
		return "Running"
	case StatusSuspended:
		return "Suspended"
	case StatusDone:
		return "Done"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// TaskStatus represents a task's current state in the list.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskRunning
	TaskCompleted
	TaskFailed
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "done"
	case TaskFailed:
		return "failed"
	default:
		return "?"
	}
}

// TaskItem represents a task in the task list.
type TaskItem struct {
	Number int
	Title  string
	Status TaskStatus
}

// LogEntry represents a log line.
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// EventMsg wraps a driver event for delivery through the Bubbletea
// update loop. Send with Program.Send from the driver's event handler.
type EventMsg struct {
	Event driver.Event
}

// Model holds the TUI state.
type Model struct {
	// Display state
	width       int
	height      int
	activePanel Panel
	quitting    bool

	// Status panel
	runStatus    RunStatus
	planID       string
	currentPhase phase.Phase
	phaseStarted time.Time
	loopName     string
	loopIter     int
	loopMax      int
	runStarted   time.Time

	// Task list
	tasks        []TaskItem
	taskScroll   int
	selectedTask int

	// Logs
	logs      []LogEntry
	logScroll int

	// Progress
	progressTick int

	// Styles
	styles *Styles
}

// Styles holds lipgloss styles for the UI.
type Styles struct {
	// Panel borders
	ActiveBorder   lipgloss.Style
	InactiveBorder lipgloss.Style

	// Text styles
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Highlight lipgloss.Style
	Muted     lipgloss.Style

	// Status indicators
	StatusOK      lipgloss.Style
	StatusWarn    lipgloss.Style
	StatusError   lipgloss.Style
	StatusRunning lipgloss.Style

	// Task list
	TaskSelected lipgloss.Style
	TaskNormal   lipgloss.Style

	// Log levels
	LogDebug lipgloss.Style
	LogInfo  lipgloss.Style
	LogWarn  lipgloss.Style
	LogError lipgloss.Style

	// Help bar
	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

// newStyles creates the default style set.
func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}
	blue := lipgloss.AdaptiveColor{Light: "#0366d6", Dark: "#58a6ff"}

	return &Styles{
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight),

		InactiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),

		Subtitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#333", Dark: "#ccc"}),

		Label: lipgloss.NewStyle().
			Foreground(subtle),

		Value: lipgloss.NewStyle().
			Bold(true),

		Highlight: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(subtle),

		StatusOK: lipgloss.NewStyle().
			Foreground(green).
			Bold(true),

		StatusWarn: lipgloss.NewStyle().
			Foreground(yellow).
			Bold(true),

		StatusError: lipgloss.NewStyle().
			Foreground(red).
			Bold(true),

		StatusRunning: lipgloss.NewStyle().
			Foreground(blue).
			Bold(true),

		TaskSelected: lipgloss.NewStyle().
			Background(highlight).
			Foreground(lipgloss.Color("#fff")).
			Bold(true),

		TaskNormal: lipgloss.NewStyle(),

		LogDebug: lipgloss.NewStyle().Foreground(subtle),
		LogInfo:  lipgloss.NewStyle().Foreground(blue),
		LogWarn:  lipgloss.NewStyle().Foreground(yellow),
		LogError: lipgloss.NewStyle().Foreground(red),

		HelpKey: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		HelpText: lipgloss.NewStyle().
			Foreground(subtle),
	}
}

// tickMsg is sent periodically to update the UI.
type tickMsg time.Time

// New creates a new TUI model.
func New() *Model {
	return &Model{
		width:       80,
		height:      24,
		activePanel: PanelStatus,
		runStatus:   StatusIdle,
		tasks:       make([]TaskItem, 0),
		logs:        make([]LogEntry, 0),
		styles:      newStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

// tickCmd returns a command that ticks every second.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case EventMsg:
		m.ApplyEvent(msg.Event)
		return m, nil

	case tickMsg:
		m.progressTick++
		return m, tickCmd()
	}

	return m, nil
}

// ApplyEvent folds a driver event into the model state.
func (m *Model) ApplyEvent(ev driver.Event) {
	switch ev.Type {
	case driver.EventRunStart:
		m.runStatus = StatusRunning
		m.planID = ev.PlanID
		m.runStarted = ev.Time
		m.AddLog("info", fmt.Sprintf("run started for plan %s", ev.PlanID))

	case driver.EventPhaseStart:
		m.currentPhase = ev.Phase
		m.phaseStarted = ev.Time
		m.loopName = ""
		m.loopIter = 0
		m.loopMax = 0
		m.AddLog("info", fmt.Sprintf("phase %s started", ev.Phase))

	case driver.EventPhaseEnd:
		m.AddLog("info", fmt.Sprintf("phase %s completed", ev.Phase))

	case driver.EventLoopIteration:
		m.loopName = ev.Phase.String()
		m.loopIter = ev.Iteration
		m.loopMax = ev.MaxIter
		m.AddLog("warn", fmt.Sprintf("%s iteration %d of %d: %s",
			ev.Phase, ev.Iteration, ev.MaxIter, ev.Message))

	case driver.EventLoopBack:
		m.AddLog("warn", fmt.Sprintf("looping back from %s to execution", ev.Phase))

	case driver.EventTaskStart:
		m.upsertTask(ev.TaskNumber, ev.TaskTitle, TaskRunning)
		m.AddLog("info", fmt.Sprintf("task %d: %s", ev.TaskNumber, ev.TaskTitle))

	case driver.EventTaskEnd:
		status := TaskCompleted
		if ev.Error != "" {
			status = TaskFailed
		}
		m.upsertTask(ev.TaskNumber, ev.TaskTitle, status)

	case driver.EventDecision:
		m.runStatus = StatusSuspended
		m.AddLog("warn", fmt.Sprintf("awaiting decision: %s", ev.Message))

	case driver.EventLog:
		level := ev.Level
		if level == "" {
			level = "info"
		}
		m.AddLog(level, ev.Message)

	case driver.EventRunEnd:
		if ev.Error != "" {
			m.runStatus = StatusFailed
			m.AddLog("error", "run failed: "+ev.Error)
		} else if m.runStatus != StatusSuspended {
			m.runStatus = StatusDone
			m.AddLog("info", "run completed")
		}
	}
}

// upsertTask updates a task entry by number, appending if unseen.
func (m *Model) upsertTask(number int, title string, status TaskStatus) {
	for i := range m.tasks {
		if m.tasks[i].Number == number {
			m.tasks[i].Status = status
			if title != "" {
				m.tasks[i].Title = title
			}
			return
		}
	}
	m.tasks = append(m.tasks, TaskItem{Number: number, Title: title, Status: status})
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "right", "l":
		m.activePanel = (m.activePanel + 1) % 3
		return m, nil

	case "shift+tab", "left", "h":
		m.activePanel = (m.activePanel + 2) % 3
		return m, nil

	case "up", "k":
		return m.handleUp(), nil

	case "down", "j":
		return m.handleDown(), nil

	case "home", "g":
		return m.handleHome(), nil

	case "end", "G":
		return m.handleEnd(), nil
	}

	return m, nil
}

// handleUp handles up arrow / k key.
func (m Model) handleUp() Model {
	switch m.activePanel {
	case PanelTasks:
		if m.selectedTask > 0 {
			m.selectedTask--
		}
	case PanelLogs:
		if m.logScroll > 0 {
			m.logScroll--
		}
	}
	return m
}

// handleDown handles down arrow / j key.
func (m Model) handleDown() Model {
	switch m.activePanel {
	case PanelTasks:
		if m.selectedTask < len(m.tasks)-1 {
			m.selectedTask++
		}
	case PanelLogs:
		maxScroll := len(m.logs) - 1
		if m.logScroll < maxScroll {
			m.logScroll++
		}
	}
	return m
}

// handleHome handles home / g key.
func (m Model) handleHome() Model {
	switch m.activePanel {
	case PanelTasks:
		m.selectedTask = 0
	case PanelLogs:
		m.logScroll = 0
	}
	return m
}

// handleEnd handles end / G key.
func (m Model) handleEnd() Model {
	switch m.activePanel {
	case PanelTasks:
		if len(m.tasks) > 0 {
			m.selectedTask = len(m.tasks) - 1
		}
	case PanelLogs:
		if len(m.logs) > 0 {
			m.logScroll = len(m.logs) - 1
		}
	}
	return m
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	// Calculate panel dimensions
	topHeight := m.height / 2
	bottomHeight := m.height - topHeight - 3 // -3 for help bar and padding
	leftWidth := m.width / 2
	rightWidth := m.width - leftWidth

	// Build panels
	statusPanel := m.renderStatusPanel(leftWidth-2, topHeight-2)
	taskPanel := m.renderTaskPanel(rightWidth-2, topHeight-2)
	logPanel := m.renderLogPanel(m.width-2, bottomHeight-2)

	// Apply borders
	statusBorder := m.getBorder(PanelStatus).Width(leftWidth - 2).Height(topHeight - 2)
	taskBorder := m.getBorder(PanelTasks).Width(rightWidth - 2).Height(topHeight - 2)
	logBorder := m.getBorder(PanelLogs).Width(m.width - 2).Height(bottomHeight - 2)

	// Layout
	topRow := lipgloss.JoinHorizontal(
		lipgloss.Top,
		statusBorder.Render(statusPanel),
		taskBorder.Render(taskPanel),
	)

	helpBar := m.renderHelpBar()

	return lipgloss.JoinVertical(
		lipgloss.Left,
		topRow,
		logBorder.Render(logPanel),
		helpBar,
	)
}

// getBorder returns the appropriate border style for a panel.
func (m Model) getBorder(panel Panel) lipgloss.Style {
	if m.activePanel == panel {
		return m.styles.ActiveBorder
	}
	return m.styles.InactiveBorder
}

// renderStatusPanel renders the status panel content.
func (m Model) renderStatusPanel(width, height int) string {
	var b strings.Builder

	// Title
	b.WriteString(m.styles.Title.Render("Planforge Status"))
	b.WriteString("\n\n")

	// Run status
	var statusStyle lipgloss.Style
	switch m.runStatus {
	case StatusIdle:
		statusStyle = m.styles.Muted
	case StatusRunning:
		statusStyle = m.styles.StatusRunning
	case StatusSuspended:
		statusStyle = m.styles.StatusWarn
	case StatusDone:
		statusStyle = m.styles.StatusOK
	case StatusFailed:
		statusStyle = m.styles.StatusError
	}

	b.WriteString(m.styles.Label.Render("Run: "))
	b.WriteString(statusStyle.Render(m.runStatus.String()))
	b.WriteString("\n\n")

	// Plan
	b.WriteString(m.styles.Label.Render("Plan: "))
	if m.planID != "" {
		b.WriteString(m.styles.Value.Render(m.planID))
	} else {
		b.WriteString(m.styles.Muted.Render("None"))
	}
	b.WriteString("\n\n")

	// Phase
	b.WriteString(m.styles.Label.Render("Phase: "))
	if m.runStatus != StatusIdle {
		b.WriteString(m.styles.Highlight.Render(m.currentPhase.String()))
		if !m.phaseStarted.IsZero() {
			b.WriteString(m.styles.Muted.Render(
				fmt.Sprintf("  (%s)", formatDuration(time.Since(m.phaseStarted)))))
		}
	} else {
		b.WriteString(m.styles.Muted.Render("-"))
	}
	b.WriteString("\n\n")

	// Correction loop progress, when one is active
	if m.loopMax > 0 {
		b.WriteString(m.styles.Label.Render(
			fmt.Sprintf("%s loop: ", m.loopName)))
		b.WriteString(m.styles.Value.Render(
			fmt.Sprintf("%d / %d iterations", m.loopIter, m.loopMax)))
		b.WriteString("\n")
		b.WriteString(m.renderProgressBar(m.loopIter*100/m.loopMax, width-4))
		b.WriteString("\n\n")
	}

	// Run duration
	b.WriteString(m.styles.Label.Render("Elapsed: "))
	if !m.runStarted.IsZero() {
		b.WriteString(m.styles.Value.Render(formatDuration(time.Since(m.runStarted))))
	} else {
		b.WriteString(m.styles.Muted.Render("-"))
	}
	b.WriteString("\n")

	// Task counts
	done := 0
	for _, t := range m.tasks {
		if t.Status == TaskCompleted {
			done++
		}
	}
	b.WriteString(m.styles.Label.Render("Tasks: "))
	b.WriteString(m.styles.Value.Render(fmt.Sprintf("%d / %d done", done, len(m.tasks))))

	return b.String()
}

// renderProgressBar renders a progress bar.
func (m Model) renderProgressBar(pct, width int) string {
	if width < 10 {
		width = 10
	}

	filled := width * pct / 100
	if filled > width {
		filled = width
	}

	bar := strings.Repeat("=", filled) + strings.Repeat("-", width-filled)

	// Color based on percentage
	style := m.styles.StatusOK
	if pct > 80 {
		style = m.styles.StatusError
	} else if pct > 50 {
		style = m.styles.StatusWarn
	}

	return "[" + style.Render(bar) + "]"
}

// renderTaskPanel renders the task list panel.
func (m Model) renderTaskPanel(width, height int) string {
	var b strings.Builder

	// Title
	b.WriteString(m.styles.Title.Render("Tasks"))
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(m.styles.Muted.Render("No tasks yet"))
		return b.String()
	}

	// Calculate visible tasks
	visibleTasks := height - 4 // Account for title and padding
	if visibleTasks < 1 {
		visibleTasks = 1
	}

	// Adjust scroll if selected task is out of view
	if m.selectedTask < m.taskScroll {
		m.taskScroll = m.selectedTask
	} else if m.selectedTask >= m.taskScroll+visibleTasks {
		m.taskScroll = m.selectedTask - visibleTasks + 1
	}

	// Render visible tasks
	for i := m.taskScroll; i < len(m.tasks) && i < m.taskScroll+visibleTasks; i++ {
		task := m.tasks[i]

		// Status indicator
		var statusIcon string
		var statusStyle lipgloss.Style
		switch task.Status {
		case TaskPending:
			statusIcon = "o"
			statusStyle = m.styles.Muted
		case TaskRunning:
			statusIcon = m.spinner()
			statusStyle = m.styles.StatusRunning
		case TaskCompleted:
			statusIcon = "*"
			statusStyle = m.styles.StatusOK
		case TaskFailed:
			statusIcon = "x"
			statusStyle = m.styles.StatusError
		}

		// Build task line
		line := fmt.Sprintf(" %s %2d. %s", statusStyle.Render(statusIcon), task.Number, task.Title)

		// Highlight selected task
		if i == m.selectedTask && m.activePanel == PanelTasks {
			line = m.styles.TaskSelected.Render(line)
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	// Scroll indicator
	if len(m.tasks) > visibleTasks {
		scrollInfo := fmt.Sprintf(" [%d/%d]", m.taskScroll+1, len(m.tasks))
		b.WriteString(m.styles.Muted.Render(scrollInfo))
	}

	return b.String()
}

// spinner returns a spinner character based on the current tick.
func (m Model) spinner() string {
	frames := []string{"|", "/", "-", "\\"}
	return frames[m.progressTick%len(frames)]
}

// renderLogPanel renders the log viewer panel.
func (m Model) renderLogPanel(width, height int) string {
	var b strings.Builder

	// Title
	b.WriteString(m.styles.Title.Render("Logs"))
	b.WriteString("\n\n")

	if len(m.logs) == 0 {
		b.WriteString(m.styles.Muted.Render("No logs yet"))
		return b.String()
	}

	// Calculate visible logs
	visibleLogs := height - 4
	if visibleLogs < 1 {
		visibleLogs = 1
	}

	// Render visible logs
	start := m.logScroll
	if start+visibleLogs > len(m.logs) {
		start = len(m.logs) - visibleLogs
		if start < 0 {
			start = 0
		}
	}

	for i := start; i < len(m.logs) && i < start+visibleLogs; i++ {
		entry := m.logs[i]

		// Time
		timeStr := entry.Time.Format("15:04:05")

		// Level with color
		var levelStyle lipgloss.Style
		switch entry.Level {
		case "debug":
			levelStyle = m.styles.LogDebug
		case "info":
			levelStyle = m.styles.LogInfo
		case "warn":
			levelStyle = m.styles.LogWarn
		case "error":
			levelStyle = m.styles.LogError
		default:
			levelStyle = m.styles.Muted
		}

		// Truncate message if needed
		maxMsgLen := width - 20
		msg := entry.Message
		if len(msg) > maxMsgLen && maxMsgLen > 3 {
			msg = msg[:maxMsgLen-3] + "..."
		}

		line := fmt.Sprintf("%s %s %s",
			m.styles.Muted.Render(timeStr),
			levelStyle.Render(fmt.Sprintf("[%-5s]", entry.Level)),
			msg,
		)

		b.WriteString(line)
		b.WriteString("\n")
	}

	// Scroll indicator
	if len(m.logs) > visibleLogs {
		scrollInfo := fmt.Sprintf(" [%d/%d]", m.logScroll+1, len(m.logs))
		b.WriteString(m.styles.Muted.Render(scrollInfo))
	}

	return b.String()
}

// renderHelpBar renders the help bar at the bottom.
func (m Model) renderHelpBar() string {
	helpItems := []struct {
		key  string
		desc string
	}{
		{"tab", "switch panel"},
		{"j/k", "up/down"},
		{"q", "quit"},
	}

	var parts []string
	for _, item := range helpItems {
		parts = append(parts, fmt.Sprintf("%s %s",
			m.styles.HelpKey.Render(item.key),
			m.styles.HelpText.Render(item.desc),
		))
	}

	return "  " + strings.Join(parts, "  |  ")
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// SetRunStatus updates the run status.
func (m *Model) SetRunStatus(status RunStatus) {
	m.runStatus = status
}

// SetPlan updates the plan being monitored.
func (m *Model) SetPlan(id string) {
	m.planID = id
}

// SetPhase updates the current phase display.
func (m *Model) SetPhase(ph phase.Phase) {
	m.currentPhase = ph
	m.phaseStarted = time.Now()
}

// AddTask adds a task to the task list.
func (m *Model) AddTask(task TaskItem) {
	m.tasks = append(m.tasks, task)
}

// UpdateTask updates an existing task by number.
func (m *Model) UpdateTask(number int, status TaskStatus) {
	for i := range m.tasks {
		if m.tasks[i].Number == number {
			m.tasks[i].Status = status
			break
		}
	}
}

// ClearTasks removes all tasks.
func (m *Model) ClearTasks() {
	m.tasks = make([]TaskItem, 0)
	m.selectedTask = 0
	m.taskScroll = 0
}

// AddLog adds a log entry.
func (m *Model) AddLog(level, message string) {
	m.logs = append(m.logs, LogEntry{
		Time:    time.Now(),
		Level:   level,
		Message: message,
	})
	// Auto-scroll to bottom if not actively scrolling
	if m.logScroll == len(m.logs)-2 || len(m.logs) == 1 {
		m.logScroll = len(m.logs) - 1
	}
}

// ClearLogs removes all logs.
func (m *Model) ClearLogs() {
	m.logs = make([]LogEntry, 0)
	m.logScroll = 0
}

// Run starts the TUI.
func (m *Model) Run() error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RunWithProgram starts the TUI and returns the program for external control.
// Driver events can then be forwarded with p.Send(EventMsg{Event: ev}).
func (m *Model) RunWithProgram() (*tea.Program, error) {
	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		_, _ = p.Run()
	}()
	return p, nil
}
