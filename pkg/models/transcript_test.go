package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewTranscript(t *testing.T) {
	tr := NewTranscript("profile KNA1")

	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tr.Len())
	}
	ut, ok := tr.Last().(UserTurn)
	if !ok {
		t.Fatalf("first turn is %T, want UserTurn", tr.Last())
	}
	if ut.Text != "profile KNA1" {
		t.Errorf("Text = %q, want %q", ut.Text, "profile KNA1")
	}
}

func TestTranscript_AppendAlternation(t *testing.T) {
	tr := NewTranscript("task")

	err := tr.Append(UserTurn{Text: "again"})
	if !errors.Is(err, ErrTranscriptOrder) {
		t.Errorf("user after user: err = %v, want ErrTranscriptOrder", err)
	}

	oracle := OracleTurn{Blocks: []ContentBlock{
		TextBlock{Text: "thinking"},
		ActionRequest{ID: "a1", Name: "query_database", Arguments: json.RawMessage(`{}`)},
	}}
	if err := tr.Append(oracle); err != nil {
		t.Fatalf("Append(oracle) error = %v", err)
	}
	if err := tr.Append(oracle); !errors.Is(err, ErrTranscriptOrder) {
		t.Errorf("oracle after oracle: err = %v, want ErrTranscriptOrder", err)
	}
}

func TestTranscript_AppendResultMatching(t *testing.T) {
	tests := []struct {
		name    string
		results []ActionResult
		wantErr bool
	}{
		{
			name:    "matching ids in order",
			results: []ActionResult{{RequestID: "a1"}, {RequestID: "a2", Failed: true}},
		},
		{
			name:    "missing result",
			results: []ActionResult{{RequestID: "a1"}},
			wantErr: true,
		},
		{
			name:    "swapped order",
			results: []ActionResult{{RequestID: "a2"}, {RequestID: "a1"}},
			wantErr: true,
		},
		{
			name:    "foreign id",
			results: []ActionResult{{RequestID: "a1"}, {RequestID: "zz"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTranscript("task")
			if err := tr.Append(OracleTurn{Blocks: []ContentBlock{
				ActionRequest{ID: "a1", Name: "x"},
				ActionRequest{ID: "a2", Name: "y"},
			}}); err != nil {
				t.Fatalf("Append(oracle) error = %v", err)
			}

			err := tr.Append(UserTurn{Results: tt.results})
			if tt.wantErr && !errors.Is(err, ErrResultMismatch) {
				t.Errorf("err = %v, want ErrResultMismatch", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestTranscript_TurnsIsCopy(t *testing.T) {
	tr := NewTranscript("task")
	turns := tr.Turns()
	turns[0] = OracleTurn{}

	if _, ok := tr.Turns()[0].(UserTurn); !ok {
		t.Error("mutating Turns() result changed the transcript")
	}
}

func TestOracleTurn_TextAndRequests(t *testing.T) {
	turn := OracleTurn{Blocks: []ContentBlock{
		TextBlock{Text: "Profiled KNA1."},
		ActionRequest{ID: "1", Name: "a"},
		TextBlock{Text: "Null rate is 2%."},
		ActionRequest{ID: "2", Name: "b"},
	}}

	if got, want := turn.Text(), "Profiled KNA1.\nNull rate is 2%."; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
	if got := (OracleTurn{Blocks: []ContentBlock{ActionRequest{ID: "1"}}}).Text(); got != "" {
		t.Errorf("Text() without text blocks = %q, want empty", got)
	}

	reqs := turn.Requests()
	if len(reqs) != 2 || reqs[0].ID != "1" || reqs[1].ID != "2" {
		t.Errorf("Requests() = %+v, want ids [1 2]", reqs)
	}
}

func TestStageOutcome_Valid(t *testing.T) {
	for _, o := range []StageOutcome{OutcomeCompleted, OutcomeExhausted, OutcomeFailed} {
		if !o.Valid() {
			t.Errorf("%q should be valid", o)
		}
	}
	if StageOutcome("skipped").Valid() {
		t.Error("unknown outcome should be invalid")
	}
	if OutcomeExhausted.Succeeded() {
		t.Error("exhausted must not count as success")
	}
}
