package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/lakeforge/internal/loop"
	"github.com/ShayCichocki/lakeforge/internal/orchestrator"
	"github.com/ShayCichocki/lakeforge/pkg/models"
)

func planned(names ...string) []orchestrator.PlannedStage {
	var out []orchestrator.PlannedStage
	for i, n := range names {
		out = append(out, orchestrator.PlannedStage{
			Task:   models.PipelineTask{Name: n, Ordinal: (i + 1) * 10},
			Budget: 25,
		})
	}
	return out
}

func send(t *testing.T, app *PipelineApp, e orchestrator.Event) {
	t.Helper()
	_, cmd := app.Update(EventMsg{Event: e})
	if cmd == nil {
		t.Fatal("EventMsg should schedule the next read")
	}
}

func TestNewPipelineApp(t *testing.T) {
	app := NewPipelineApp("pipeline", planned("etl_generator/sap_ecc", "dq_engine"), nil, nil)

	rows := app.Stages()
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Status != StatusPending || rows[1].Ordinal != 20 || rows[1].Budget != 25 {
		t.Errorf("rows = %+v", rows)
	}
	if app.Init() == nil {
		t.Error("Init should start the spinner")
	}
}

func TestPipelineApp_Events(t *testing.T) {
	ch := make(chan orchestrator.Event)
	app := NewPipelineApp("pipeline", planned("dq_engine", "mdm_matcher", "doc_writer"), ch, nil)
	now := time.Now()

	send(t, app, orchestrator.Event{Type: orchestrator.EventRunStarted, RunID: "0123456789abcdef", Total: 3, Timestamp: now})
	send(t, app, orchestrator.Event{Type: orchestrator.EventStageStarted, Stage: "dq_engine", Timestamp: now})
	send(t, app, orchestrator.Event{
		Type:  orchestrator.EventLoop,
		Stage: "dq_engine",
		Loop:  &loop.Event{Type: loop.EventActionCall, Iteration: 2, Action: "profile_data_source"},
	})
	send(t, app, orchestrator.Event{
		Type:  orchestrator.EventLoop,
		Stage: "dq_engine",
		Loop:  &loop.Event{Type: loop.EventActionResult, Iteration: 2, Action: "profile_data_source", Failed: true},
	})

	running := app.Stages()[0]
	if running.Status != StatusRunning || running.Iteration != 2 || running.Dispatches != 1 || running.LastAction != "profile_data_source" {
		t.Errorf("running row = %+v", running)
	}
	if !strings.Contains(app.View(), "iter 2/25") {
		t.Errorf("view should show iteration progress:\n%s", app.View())
	}

	send(t, app, orchestrator.Event{
		Type:      orchestrator.EventStageFinished,
		Stage:     "dq_engine",
		Outcome:   models.OutcomeExhausted,
		Error:     orchestrator.ErrStageExhausted,
		TokensIn:  1200,
		TokensOut: 300,
		Duration:  3 * time.Second,
	})
	send(t, app, orchestrator.Event{Type: orchestrator.EventStageSkipped, Stage: "mdm_matcher"})
	send(t, app, orchestrator.Event{Type: orchestrator.EventStageSkipped, Stage: "doc_writer"})

	rows := app.Stages()
	if rows[0].Status != "exhausted" || rows[0].TokensIn != 1200 {
		t.Errorf("finished row = %+v", rows[0])
	}
	if rows[1].Status != StatusSkipped || rows[2].Status != StatusSkipped {
		t.Errorf("skipped rows = %+v", rows[1:])
	}

	var failed int
	for _, l := range app.Logs() {
		if l.Failed {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("failed log lines = %d, want 2 (action failure and exhaustion)", failed)
	}

	view := app.View()
	if !strings.Contains(view, "3/3 finished") || !strings.Contains(view, "1.5K tokens") {
		t.Errorf("view =\n%s", view)
	}
}

func TestPipelineApp_UnplannedStage(t *testing.T) {
	app := NewPipelineApp("pipeline", nil, make(chan orchestrator.Event), nil)
	send(t, app, orchestrator.Event{Type: orchestrator.EventStageStarted, Stage: "adhoc", Ordinal: 1})
	if rows := app.Stages(); len(rows) != 1 || rows[0].Status != StatusRunning {
		t.Errorf("rows = %+v", rows)
	}
}

func TestPipelineApp_QuitCancelsRun(t *testing.T) {
	cancelled := 0
	app := NewPipelineApp("pipeline", planned("dq_engine"), nil, func() { cancelled++ })

	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if cancelled != 1 {
		t.Errorf("onQuit calls = %d, want 1", cancelled)
	}
	if !strings.Contains(app.View(), "cancelled") {
		t.Errorf("view = %q", app.View())
	}
}

func TestPipelineApp_QuitAfterDone(t *testing.T) {
	cancelled := 0
	app := NewPipelineApp("pipeline", planned("dq_engine"), nil, func() { cancelled++ })

	app.Update(DoneMsg{Err: errors.New("stage dq_engine failed")})
	if !strings.Contains(app.View(), "Error: stage dq_engine failed") {
		t.Errorf("view = %q", app.View())
	}
	app.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cancelled != 0 {
		t.Error("quitting after the run is over must not cancel")
	}
}

func TestWaitForEvent_Closed(t *testing.T) {
	ch := make(chan orchestrator.Event)
	close(ch)
	if _, ok := WaitForEvent(ch)().(eventsClosedMsg); !ok {
		t.Error("closed channel should yield eventsClosedMsg")
	}
}

func TestTruncateAndTokens(t *testing.T) {
	if got := truncate("etl_generator/salesforce", 10); got != "etl_gen..." {
		t.Errorf("truncate = %q", got)
	}
	if got := formatTokensCompact(2_500_000); got != "2.5M" {
		t.Errorf("formatTokensCompact = %q", got)
	}
	if got := formatTokensCompact(999); got != "999" {
		t.Errorf("formatTokensCompact = %q", got)
	}
}
