package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/lakeforge/internal/loop"
	"github.com/ShayCichocki/lakeforge/internal/orchestrator"
	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// Stage statuses shown in the stage table. Terminal ones mirror
// models.StageOutcome.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSkipped = "skipped"
)

// maxLogLines is how many activity lines stay on screen.
const maxLogLines = 8

// StageRow is the display state of one stage.
type StageRow struct {
	Name       string
	Ordinal    int
	Budget     int
	Status     string
	Iteration  int
	Dispatches int
	LastAction string
	TokensIn   int64
	TokensOut  int64
	Duration   time.Duration
	startedAt  time.Time
}

// LogEntry is one line of the activity log.
type LogEntry struct {
	Timestamp time.Time
	Stage     string
	Message   string
	Failed    bool
}

// EventMsg delivers an orchestrator event to the model.
type EventMsg struct {
	Event orchestrator.Event
}

// DoneMsg is sent when the pipeline run has returned.
type DoneMsg struct {
	Report *orchestrator.Report
	Err    error
}

// eventsClosedMsg reports that the event channel was closed.
type eventsClosedMsg struct{}

// WaitForEvent returns a command that reads the next event from ch.
func WaitForEvent(ch <-chan orchestrator.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg{Event: e}
	}
}

// PipelineApp is the bubbletea model for `lakeforge pipeline --tui`.
type PipelineApp struct {
	name    string
	stages  []*StageRow
	byName  map[string]*StageRow
	logs    []LogEntry
	events  <-chan orchestrator.Event
	spinner spinner.Model
	onQuit  func()

	width    int
	height   int
	quitting bool
	done     bool
	err      error
	report   *orchestrator.Report

	// Styles
	headerStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
	runningStyle  lipgloss.Style
	doneStyle     lipgloss.Style
	warningStyle  lipgloss.Style
	errorStyle    lipgloss.Style
	mutedStyle    lipgloss.Style
}

// NewPipelineApp creates the model for the planned stages. onQuit, when
// set, is called if the user quits before the run is over.
func NewPipelineApp(name string, planned []orchestrator.PlannedStage, events <-chan orchestrator.Event, onQuit func()) *PipelineApp {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	a := &PipelineApp{
		name:    name,
		byName:  make(map[string]*StageRow, len(planned)),
		events:  events,
		spinner: s,
		onQuit:  onQuit,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),
		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12),
		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),
		progressFull:  lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		progressEmpty: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		runningStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		doneStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("34")).Bold(true),
		warningStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		errorStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		mutedStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
	for _, p := range planned {
		row := &StageRow{Name: p.Task.Name, Ordinal: p.Task.Ordinal, Budget: p.Budget, Status: StatusPending}
		a.stages = append(a.stages, row)
		a.byName[row.Name] = row
	}
	return a
}

// Init implements tea.Model.
func (a *PipelineApp) Init() tea.Cmd {
	cmds := []tea.Cmd{a.spinner.Tick}
	if a.events != nil {
		cmds = append(cmds, WaitForEvent(a.events))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (a *PipelineApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !a.done && a.onQuit != nil {
				a.onQuit()
			}
			a.quitting = true
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.handleEvent(msg.Event)
		return a, WaitForEvent(a.events)

	case eventsClosedMsg:
		return a, nil

	case DoneMsg:
		a.done = true
		a.err = msg.Err
		a.report = msg.Report
	}
	return a, nil
}

// handleEvent folds one orchestrator event into the stage table and log.
func (a *PipelineApp) handleEvent(e orchestrator.Event) {
	switch e.Type {
	case orchestrator.EventRunStarted:
		a.log(e, fmt.Sprintf("run %s started with %d stages", shortID(e.RunID), e.Total), false)

	case orchestrator.EventStageStarted:
		row := a.row(e)
		row.Status = StatusRunning
		row.startedAt = e.Timestamp
		a.log(e, "stage started", false)

	case orchestrator.EventLoop:
		if e.Loop == nil {
			return
		}
		row := a.row(e)
		if e.Loop.Iteration > 0 {
			row.Iteration = e.Loop.Iteration
		}
		switch e.Loop.Type {
		case loop.EventActionCall:
			row.Dispatches++
			row.LastAction = e.Loop.Action
			a.log(e, "→ "+e.Loop.Action, false)
		case loop.EventActionResult:
			if e.Loop.Failed {
				a.log(e, "✗ "+e.Loop.Action+" failed", true)
			}
		case loop.EventError:
			a.log(e, e.Loop.Content, true)
		}

	case orchestrator.EventStageFinished:
		row := a.row(e)
		row.Status = string(e.Outcome)
		row.TokensIn = e.TokensIn
		row.TokensOut = e.TokensOut
		row.Duration = e.Duration
		if e.Error != nil {
			a.log(e, fmt.Sprintf("%s: %v", e.Outcome, e.Error), true)
		} else {
			a.log(e, string(e.Outcome), false)
		}

	case orchestrator.EventStageSkipped:
		a.row(e).Status = StatusSkipped

	case orchestrator.EventRunFinished:
		a.log(e, fmt.Sprintf("run %s in %s", e.Message, e.Duration.Round(time.Second)), e.Error != nil)
	}
}

// row returns the row for the event's stage, adding one for stages that
// were not planned up front.
func (a *PipelineApp) row(e orchestrator.Event) *StageRow {
	if r, ok := a.byName[e.Stage]; ok {
		return r
	}
	r := &StageRow{Name: e.Stage, Ordinal: e.Ordinal, Status: StatusPending}
	a.stages = append(a.stages, r)
	a.byName[r.Name] = r
	return r
}

func (a *PipelineApp) log(e orchestrator.Event, msg string, failed bool) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	a.logs = append(a.logs, LogEntry{Timestamp: ts, Stage: e.Stage, Message: msg, Failed: failed})
	if len(a.logs) > 200 {
		a.logs = a.logs[len(a.logs)-200:]
	}
}

// Stages returns the current stage rows.
func (a *PipelineApp) Stages() []StageRow {
	out := make([]StageRow, len(a.stages))
	for i, r := range a.stages {
		out[i] = *r
	}
	return out
}

// Logs returns the activity log.
func (a *PipelineApp) Logs() []LogEntry {
	return a.logs
}

// View implements tea.Model.
func (a *PipelineApp) View() string {
	if a.quitting && !a.done {
		return "Pipeline cancelled.\n"
	}

	var b strings.Builder
	b.WriteString(a.headerStyle.Render("=== lakeforge " + a.name + " ==="))
	b.WriteString("\n\n")

	finished := 0
	for _, r := range a.stages {
		if r.Status != StatusPending && r.Status != StatusRunning {
			finished++
		}
	}
	pct := 0.0
	if len(a.stages) > 0 {
		pct = float64(finished) / float64(len(a.stages)) * 100
	}
	b.WriteString(a.labelStyle.Render("Stages:"))
	b.WriteString(a.valueStyle.Render(fmt.Sprintf("%d/%d finished", finished, len(a.stages))))
	b.WriteString("\n")
	b.WriteString(a.renderProgressBar(pct, 30))
	b.WriteString("\n\n")

	for _, r := range a.stages {
		b.WriteString(a.renderRow(r))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(a.renderLogs())

	b.WriteString("\n")
	switch {
	case a.done && a.err != nil:
		b.WriteString(a.errorStyle.Render(fmt.Sprintf("Error: %v", a.err)))
		b.WriteString(a.mutedStyle.Render("  Press q to exit"))
	case a.done:
		b.WriteString(a.doneStyle.Render("Pipeline complete! Press q to exit."))
	default:
		b.WriteString(a.mutedStyle.Render("Press q to stop the pipeline"))
	}
	b.WriteString("\n")
	return b.String()
}

func (a *PipelineApp) renderRow(r *StageRow) string {
	var icon string
	style := a.mutedStyle
	switch r.Status {
	case StatusRunning:
		icon = a.spinner.View()
		style = a.runningStyle
	case string(models.OutcomeCompleted):
		icon = a.doneStyle.Render("✓")
		style = a.doneStyle
	case string(models.OutcomeExhausted):
		icon = a.warningStyle.Render("⚠")
		style = a.warningStyle
	case string(models.OutcomeFailed):
		icon = a.errorStyle.Render("✗")
		style = a.errorStyle
	case StatusSkipped:
		icon = a.mutedStyle.Render("-")
	default:
		icon = a.mutedStyle.Render("·")
	}

	line := fmt.Sprintf("%3d  %-26s %-10s", r.Ordinal, truncate(r.Name, 26), style.Render(r.Status))
	switch {
	case r.Status == StatusRunning:
		line += fmt.Sprintf("  iter %d/%d  %d actions", r.Iteration, r.Budget, r.Dispatches)
		if r.LastAction != "" {
			line += "  " + a.mutedStyle.Render(r.LastAction)
		}
	case r.Duration > 0:
		line += fmt.Sprintf("  %s  %s tokens", r.Duration.Round(time.Second), formatTokensCompact(r.TokensIn+r.TokensOut))
	}
	return fmt.Sprintf("  %s %s", icon, line)
}

// renderLogs renders the most recent activity.
func (a *PipelineApp) renderLogs() string {
	if len(a.logs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")).Render("Activity Log"))
	b.WriteString("\n")

	start := 0
	if len(a.logs) > maxLogLines {
		start = len(a.logs) - maxLogLines
	}
	for _, entry := range a.logs[start:] {
		ts := a.mutedStyle.Render(entry.Timestamp.Format("15:04:05"))
		stage := lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Width(26).Render(truncate(entry.Stage, 26))
		msg := entry.Message
		if entry.Failed {
			msg = a.errorStyle.Render(msg)
		}
		b.WriteString(fmt.Sprintf("  %s %s %s\n", ts, stage, msg))
	}
	return b.String()
}

// renderProgressBar renders a progress bar.
func (a *PipelineApp) renderProgressBar(pct float64, width int) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	filled := int(pct / 100 * float64(width))
	empty := width - filled

	bar := a.progressFull.Render(strings.Repeat("█", filled)) +
		a.progressEmpty.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("  %s %.0f%%", bar, pct)
}

// NewPipelineProgram creates the bubbletea program for a pipeline run.
func NewPipelineProgram(name string, planned []orchestrator.PlannedStage, events <-chan orchestrator.Event, onQuit func()) (*tea.Program, *PipelineApp) {
	app := NewPipelineApp(name, planned, events, onQuit)
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func formatTokensCompact(tokens int64) string {
	switch {
	case tokens >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(tokens)/1_000_000)
	case tokens >= 1_000:
		return fmt.Sprintf("%.1fK", float64(tokens)/1_000)
	default:
		return fmt.Sprintf("%d", tokens)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
