package loop

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/lakeforge/internal/capability"
	"github.com/ShayCichocki/lakeforge/internal/oracle"
	"github.com/ShayCichocki/lakeforge/pkg/models"
)

type profileArgs struct {
	Source string `json:"source" jsonschema:"required"`
	Table  string `json:"table" jsonschema:"required"`
}

type noArgs struct{}

func newTestTable(t *testing.T) *capability.Table {
	t.Helper()
	table, err := capability.NewTable(
		capability.Typed("profile_table", "Profile a source table",
			func(ctx context.Context, in profileArgs) (any, error) {
				return map[string]any{"source": in.Source, "table": in.Table, "row_count": 42}, nil
			}),
		capability.Typed("explode", "Always fails",
			func(ctx context.Context, in noArgs) (any, error) {
				return nil, errors.New("warehouse offline")
			}),
		capability.Typed("panic", "Always panics",
			func(ctx context.Context, in noArgs) (any, error) {
				panic("boom")
			}),
	)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	return table
}

func newTestLoop(o oracle.Oracle) *Loop {
	return New(Config{Oracle: o, Logger: zerolog.Nop()})
}

func lastResults(t *testing.T, turns []models.Turn) []models.ActionResult {
	t.Helper()
	for i := len(turns) - 1; i >= 0; i-- {
		if ut, ok := turns[i].(models.UserTurn); ok && len(ut.Results) > 0 {
			return ut.Results
		}
	}
	t.Fatal("no action results in transcript")
	return nil
}

func TestRun_ImmediateCompletion(t *testing.T) {
	o := oracle.NewScripted(oracle.Completed("done"))

	result, err := newTestLoop(o).Run(context.Background(), "framing", "task", newTestTable(t), 5)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Completed() {
		t.Errorf("State = %q, want %q", result.State, StateDone)
	}
	if result.Output != "done" {
		t.Errorf("Output = %q, want %q", result.Output, "done")
	}
	if o.Calls() != 1 || result.Iterations != 1 {
		t.Errorf("oracle calls = %d, iterations = %d; want 1, 1", o.Calls(), result.Iterations)
	}
	if result.Dispatches != 0 {
		t.Errorf("Dispatches = %d, want 0", result.Dispatches)
	}
}

func TestRun_ActionThenCompletion(t *testing.T) {
	o := oracle.NewScripted(
		oracle.RequestActions(oracle.Action("t1", "profile_table", map[string]string{"source": "SAP", "table": "KNA1"})),
		oracle.Completed("profiled"),
	)

	result, err := newTestLoop(o).Run(context.Background(), "framing", "profile", newTestTable(t), 5)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Output != "profiled" {
		t.Errorf("Output = %q, want %q", result.Output, "profiled")
	}
	if o.Calls() != 2 {
		t.Errorf("oracle calls = %d, want 2", o.Calls())
	}
	if result.Dispatches != 1 {
		t.Errorf("Dispatches = %d, want 1", result.Dispatches)
	}

	results := lastResults(t, result.Transcript)
	if len(results) != 1 || results[0].RequestID != "t1" || results[0].Failed {
		t.Fatalf("results = %+v", results)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(results[0].Payload), &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if payload["table"] != "KNA1" {
		t.Errorf("payload = %v", payload)
	}

	// The second oracle call sees task, request and results.
	reqs := o.Requests()
	if got := len(reqs[1].Transcript); got != 3 {
		t.Errorf("second call transcript length = %d, want 3", got)
	}
	if len(reqs[0].Capabilities) != 3 {
		t.Errorf("capabilities declared = %d, want 3", len(reqs[0].Capabilities))
	}
}

func TestRun_FinalTextJoinedByLine(t *testing.T) {
	o := oracle.NewScripted(oracle.Response{Stop: oracle.StopCompleted, Blocks: []models.ContentBlock{
		models.TextBlock{Text: "Generated 4 pipelines."},
		models.TextBlock{Text: "All tests pass."},
	}})

	result, err := newTestLoop(o).Run(context.Background(), "framing", "task", newTestTable(t), 5)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if want := "Generated 4 pipelines.\nAll tests pass."; result.Output != want {
		t.Errorf("Output = %q, want %q", result.Output, want)
	}
}

func TestRun_UnknownActionContinues(t *testing.T) {
	o := oracle.NewScripted(
		oracle.RequestActions(oracle.Action("t1", "foo", nil)),
		oracle.Completed("recovered"),
	)

	result, err := newTestLoop(o).Run(context.Background(), "framing", "task", newTestTable(t), 5)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Output != "recovered" {
		t.Errorf("Output = %q, want %q", result.Output, "recovered")
	}

	results := lastResults(t, result.Transcript)
	if !results[0].Failed {
		t.Error("unknown action should produce a failed result")
	}
	if !strings.Contains(results[0].Payload, "foo") {
		t.Errorf("payload = %q, want it to name the action", results[0].Payload)
	}
}

func TestRun_BudgetOneExhausts(t *testing.T) {
	o := oracle.NewScripted()
	repeat := oracle.RequestActions(oracle.Action("t1", "profile_table", map[string]string{"source": "SAP", "table": "KNA1"}))
	o.Repeat = &repeat

	result, err := newTestLoop(o).Run(context.Background(), "framing", "task", newTestTable(t), 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Exhausted() {
		t.Fatalf("State = %q, want %q", result.State, StateExhausted)
	}
	if result.Output != ExhaustedMessage {
		t.Errorf("Output = %q, want %q", result.Output, ExhaustedMessage)
	}
	if o.Calls() != 1 {
		t.Errorf("oracle calls = %d, want 1", o.Calls())
	}
	if result.Dispatches != 1 {
		t.Errorf("Dispatches = %d, want 1", result.Dispatches)
	}
}

func TestRun_BudgetLaw(t *testing.T) {
	for _, budget := range []int{1, 2, 5, 25} {
		o := oracle.NewScripted()
		repeat := oracle.RequestActions(oracle.Action("t", "profile_table", map[string]string{"source": "SAP", "table": "KNA1"}))
		o.Repeat = &repeat

		result, err := newTestLoop(o).Run(context.Background(), "framing", "task", newTestTable(t), budget)
		if err != nil {
			t.Fatalf("budget %d: Run failed: %v", budget, err)
		}
		if !result.Exhausted() {
			t.Errorf("budget %d: State = %q, want exhausted", budget, result.State)
		}
		if o.Calls() != budget {
			t.Errorf("budget %d: oracle calls = %d, want %d", budget, o.Calls(), budget)
		}
		if result.Iterations != budget {
			t.Errorf("budget %d: Iterations = %d", budget, result.Iterations)
		}
	}
}

func TestRun_InvalidBudget(t *testing.T) {
	o := oracle.NewScripted(oracle.Completed("done"))
	for _, budget := range []int{0, -3} {
		_, err := newTestLoop(o).Run(context.Background(), "f", "t", newTestTable(t), budget)
		if !errors.Is(err, ErrInvalidBudget) {
			t.Errorf("budget %d: err = %v, want ErrInvalidBudget", budget, err)
		}
	}
	if o.Calls() != 0 {
		t.Errorf("oracle calls = %d, want 0", o.Calls())
	}
}

func TestRun_FaultsDoNotSkipSiblings(t *testing.T) {
	o := oracle.NewScripted(
		oracle.RequestActions(
			oracle.Action("a", "explode", nil),
			oracle.Action("b", "panic", nil),
			oracle.Action("c", "nope", nil),
			oracle.Action("d", "profile_table", map[string]string{"source": "SAP", "table": "KNA1"}),
		),
		oracle.Completed("ok"),
	)

	result, err := newTestLoop(o).Run(context.Background(), "framing", "task", newTestTable(t), 5)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	results := lastResults(t, result.Transcript)
	wantIDs := []string{"a", "b", "c", "d"}
	wantFailed := []bool{true, true, true, false}
	if len(results) != len(wantIDs) {
		t.Fatalf("results = %d, want %d", len(results), len(wantIDs))
	}
	for i, r := range results {
		if r.RequestID != wantIDs[i] {
			t.Errorf("results[%d].RequestID = %q, want %q", i, r.RequestID, wantIDs[i])
		}
		if r.Failed != wantFailed[i] {
			t.Errorf("results[%d].Failed = %v, want %v", i, r.Failed, wantFailed[i])
		}
	}
	if result.Dispatches != 4 {
		t.Errorf("Dispatches = %d, want 4", result.Dispatches)
	}
}

func TestRun_FatalErrors(t *testing.T) {
	tests := []struct {
		name  string
		resp  oracle.Response
		check func(error) bool
	}{
		{
			name:  "unknown stop signal",
			resp:  oracle.Response{Stop: "max_tokens", Blocks: []models.ContentBlock{models.TextBlock{Text: "cut"}}},
			check: func(err error) bool { var pe *ProtocolError; return errors.As(err, &pe) && pe.Signal == "max_tokens" },
		},
		{
			name:  "actions requested without requests",
			resp:  oracle.Response{Stop: oracle.StopActionsRequested, Blocks: []models.ContentBlock{models.TextBlock{Text: "hmm"}}},
			check: func(err error) bool { var pe *ProtocolError; return errors.As(err, &pe) },
		},
		{
			name:  "duplicate request ids",
			resp:  oracle.RequestActions(oracle.Action("x", "profile_table", nil), oracle.Action("x", "profile_table", nil)),
			check: func(err error) bool { var pe *ProtocolError; return errors.As(err, &pe) },
		},
		{
			name:  "missing request id",
			resp:  oracle.RequestActions(oracle.Action("", "profile_table", nil)),
			check: func(err error) bool { var pe *ProtocolError; return errors.As(err, &pe) },
		},
		{
			name: "completion with pending requests",
			resp: oracle.Response{Stop: oracle.StopCompleted, Blocks: []models.ContentBlock{
				models.TextBlock{Text: "done"},
				models.ActionRequest{ID: "x", Name: "profile_table"},
			}},
			check: func(err error) bool { var pe *ProtocolError; return errors.As(err, &pe) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := oracle.NewScripted(tt.resp)
			result, err := newTestLoop(o).Run(context.Background(), "f", "t", newTestTable(t), 5)
			if err == nil {
				t.Fatal("expected a fatal error")
			}
			if !tt.check(err) {
				t.Errorf("err = %v (%T)", err, err)
			}
			if result == nil || result.Dispatches != 0 {
				t.Errorf("no actions should be dispatched, result = %+v", result)
			}
		})
	}
}

func TestRun_OracleCallFault(t *testing.T) {
	o := oracle.NewScripted()
	o.Err = errors.New("connection reset")

	result, err := newTestLoop(o).Run(context.Background(), "f", "t", newTestTable(t), 5)
	var oce *OracleCallError
	if !errors.As(err, &oce) {
		t.Fatalf("err = %v, want *OracleCallError", err)
	}
	if oce.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1", oce.Iteration)
	}
	if o.Calls() != 1 {
		t.Errorf("oracle calls = %d, want 1 (no retry)", o.Calls())
	}
	if result.Completed() || result.Exhausted() {
		t.Errorf("State = %q, want neither done nor exhausted", result.State)
	}
}

func TestRun_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := oracle.NewScripted(oracle.Completed("done"))
	_, err := newTestLoop(o).Run(ctx, "f", "t", newTestTable(t), 5)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want it to wrap context.Canceled", err)
	}
	if o.Calls() != 0 {
		t.Errorf("oracle calls = %d, want 0", o.Calls())
	}
}

// blockingOracle waits for its context before failing, like a slow network call.
type blockingOracle struct{}

func (blockingOracle) Decide(ctx context.Context, req oracle.Request) (*oracle.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_DeadlineDuringCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := newTestLoop(blockingOracle{}).Run(ctx, "f", "t", newTestTable(t), 5)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	var oce *OracleCallError
	if errors.As(err, &oce) {
		t.Error("deadline should not be reported as an oracle call fault")
	}
}

func TestRun_Idempotent(t *testing.T) {
	script := func() *oracle.Scripted {
		return oracle.NewScripted(
			oracle.RequestActions(
				oracle.Action("t1", "profile_table", map[string]string{"source": "SAP", "table": "KNA1"}),
				oracle.Action("t2", "explode", nil),
			),
			oracle.RequestActions(oracle.Action("t3", "foo", nil)),
			oracle.Completed("done"),
		)
	}

	first, err := newTestLoop(script()).Run(context.Background(), "f", "task", newTestTable(t), 10)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := newTestLoop(script()).Run(context.Background(), "f", "task", newTestTable(t), 10)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if !reflect.DeepEqual(first.Transcript, second.Transcript) {
		t.Errorf("transcripts differ:\n%+v\n%+v", first.Transcript, second.Transcript)
	}
}

func TestRun_TranscriptAlternates(t *testing.T) {
	o := oracle.NewScripted(
		oracle.RequestActions(oracle.Action("t1", "profile_table", map[string]string{"source": "SAP", "table": "KNA1"})),
		oracle.RequestActions(oracle.Action("t2", "explode", nil)),
		oracle.Completed("done"),
	)

	result, err := newTestLoop(o).Run(context.Background(), "f", "task", newTestTable(t), 10)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// task, oracle, results, oracle, results, oracle
	if len(result.Transcript) != 6 {
		t.Fatalf("transcript length = %d, want 6", len(result.Transcript))
	}
	for i, turn := range result.Transcript {
		want := models.RoleUser
		if i%2 == 1 {
			want = models.RoleOracle
		}
		if turn.Role() != want {
			t.Errorf("turn %d role = %q, want %q", i, turn.Role(), want)
		}
	}
}

func TestRun_TokensAndEvents(t *testing.T) {
	first := oracle.RequestActions(oracle.Action("t1", "profile_table", map[string]string{"source": "SAP", "table": "KNA1"}))
	first.Usage = oracle.Usage{InputTokens: 100, OutputTokens: 20}
	second := oracle.Completed("done")
	second.Usage = oracle.Usage{InputTokens: 150, OutputTokens: 10}

	var events []EventType
	l := New(Config{
		Oracle:  oracle.NewScripted(first, second),
		Logger:  zerolog.Nop(),
		OnEvent: func(e Event) { events = append(events, e.Type) },
	})

	result, err := l.Run(context.Background(), "f", "task", newTestTable(t), 5)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.TokensIn != 250 || result.TokensOut != 30 {
		t.Errorf("tokens = %d/%d, want 250/30", result.TokensIn, result.TokensOut)
	}

	want := []EventType{EventOracleCall, EventActionCall, EventActionResult, EventOracleCall, EventText, EventDone}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"abc", 0, "abc"},
		{"ééééé", 3, "é..."},
		{"Müller GmbH", 2, "M..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if got := truncate(tt.in, tt.n); !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) = %q is not valid UTF-8", tt.in, tt.n, got)
		}
	}
}
