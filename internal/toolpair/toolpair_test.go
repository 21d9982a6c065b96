package toolpair

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
)

func quietEngine() *Engine {
	return NewEngine(NewIDCache(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestIDCache_Resolve(t *testing.T) {
	t.Run("tool id passes through", func(t *testing.T) {
		c := NewIDCache()
		for _, id := range []string{"toolu_01", "call_abc", "x"} {
			block := &domain.ToolBlock{ID: "b", ToolID: id}
			if got := c.Resolve(block); got != id {
				t.Errorf("Resolve() = %q, want %q", got, id)
			}
		}
		if c.Len() != 0 {
			t.Errorf("tool ids should not be cached, have %d entries", c.Len())
		}
	})

	t.Run("stable within a cache", func(t *testing.T) {
		c := NewIDCache()
		block := &domain.ToolBlock{ID: "b1"}
		first := c.Resolve(block)
		if !strings.HasPrefix(first, "call_") {
			t.Errorf("synthesized id %q lacks call_ prefix", first)
		}
		if again := c.Resolve(block); again != first {
			t.Errorf("second Resolve() = %q, want %q", again, first)
		}
		// Same durable id, different instance.
		if copyID := c.Resolve(&domain.ToolBlock{ID: "b1"}); copyID != first {
			t.Errorf("Resolve() on reloaded block = %q, want %q", copyID, first)
		}
	})

	t.Run("anonymous blocks keyed by instance", func(t *testing.T) {
		c := NewIDCache()
		a, b := &domain.ToolBlock{}, &domain.ToolBlock{}
		idA, idB := c.Resolve(a), c.Resolve(b)
		if idA == idB {
			t.Errorf("distinct anonymous blocks share id %q", idA)
		}
		if c.Resolve(a) != idA {
			t.Error("anonymous block id not stable")
		}
	})

	t.Run("separate caches do not share ids", func(t *testing.T) {
		block := &domain.ToolBlock{ID: "b1"}
		first, second := NewIDCache(), NewIDCache()
		if first.Resolve(block) == second.Resolve(block) {
			t.Error("ids leaked across compilations")
		}
	})

	t.Run("clear", func(t *testing.T) {
		c := NewIDCache()
		block := &domain.ToolBlock{ID: "b1"}
		before := c.Resolve(block)
		c.Clear()
		if c.Len() != 0 {
			t.Fatalf("Len() after Clear = %d", c.Len())
		}
		if after := c.Resolve(block); after == before {
			t.Error("Clear kept the old id")
		}
	})

	t.Run("concurrent", func(t *testing.T) {
		c := NewIDCache()
		block := &domain.ToolBlock{ID: "shared"}
		ids := make([]string, 16)
		var wg sync.WaitGroup
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ids[i] = c.Resolve(block)
			}(i)
		}
		wg.Wait()
		for _, id := range ids {
			if id != ids[0] {
				t.Fatalf("concurrent Resolve returned %q and %q", ids[0], id)
			}
		}
	})
}

func TestSerializeResult(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   domain.ToolOutput
		wantOK bool
	}{
		{
			name:   "object keeps key order",
			raw:    `{"data":"value","number":42}`,
			want:   domain.ToolOutput{Type: domain.ToolOutputJSON, Value: `{"data":"value","number":42}`},
			wantOK: true,
		},
		{
			name:   "object compacted",
			raw:    "{\n  \"z\": 1,\n  \"a\": [1, 2]\n}",
			want:   domain.ToolOutput{Type: domain.ToolOutputJSON, Value: `{"z":1,"a":[1,2]}`},
			wantOK: true,
		},
		{
			name:   "string verbatim",
			raw:    `"sunny, 21°C"`,
			want:   domain.ToolOutput{Type: domain.ToolOutputText, Value: "sunny, 21°C"},
			wantOK: true,
		},
		{
			name:   "string with escapes",
			raw:    `"line1\nline2"`,
			want:   domain.ToolOutput{Type: domain.ToolOutputText, Value: "line1\nline2"},
			wantOK: true,
		},
		{
			name:   "number",
			raw:    `3.5`,
			want:   domain.ToolOutput{Type: domain.ToolOutputJSON, Value: "3.5"},
			wantOK: true,
		},
		{name: "null", raw: "null"},
		{name: "absent", raw: ""},
		{name: "empty string", raw: `""`},
		{name: "blank string", raw: `"  \n "`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SerializeResult(json.RawMessage(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("SerializeResult() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEngine_InlineParts(t *testing.T) {
	both := &domain.ToolBlock{
		ID: "b1", ToolID: "call_1", ToolName: "search",
		Arguments: json.RawMessage(`{"q":"go"}`),
		Content:   json.RawMessage(`{"data":"value","number":42}`),
		Status:    domain.ToolStatusDone,
	}
	callOnly := &domain.ToolBlock{
		ID: "b2", ToolID: "call_2",
		Arguments: json.RawMessage(`{"path": "/tmp"}`),
		Status:    domain.ToolStatusPending,
	}
	empty := &domain.ToolBlock{ID: "b3", ToolID: "call_3", Arguments: json.RawMessage(`{}`)}
	blankResult := &domain.ToolBlock{
		ID: "b4", ToolID: "call_4", ToolName: "calc",
		Arguments: json.RawMessage(`{"x":1}`),
		Content:   json.RawMessage(`""`),
		Status:    domain.ToolStatusDone,
	}
	serverSide := &domain.ToolBlock{
		ID: "b5", ToolID: "srv_1", ToolName: "web_search",
		Arguments:      json.RawMessage(`{"q":"go"}`),
		Content:        json.RawMessage(`"hits"`),
		Status:         domain.ToolStatusDone,
		ServerExecuted: true,
	}

	result1 := domain.ToolResultPart{
		ID: "call_1", Name: "search",
		Output: domain.ToolOutput{Type: domain.ToolOutputJSON, Value: `{"data":"value","number":42}`},
	}
	call1 := domain.ToolCallPart{ID: "call_1", Name: "search", Input: json.RawMessage(`{"q":"go"}`)}
	call2 := domain.ToolCallPart{ID: "call_2", Name: UnknownToolName, Input: json.RawMessage(`{"path":"/tmp"}`)}
	call4 := domain.ToolCallPart{ID: "call_4", Name: "calc", Input: json.RawMessage(`{"x":1}`)}

	tests := []struct {
		name     string
		strategy Strategy
		blocks   []*domain.ToolBlock
		want     []domain.Part
	}{
		{
			name:     "prefer result emits only the result",
			strategy: PreferResult,
			blocks:   []*domain.ToolBlock{both},
			want:     []domain.Part{result1},
		},
		{
			name:     "prefer result falls back to call",
			strategy: PreferResult,
			blocks:   []*domain.ToolBlock{both, callOnly},
			want:     []domain.Part{result1, call2},
		},
		{
			name:     "independent emits call before result",
			strategy: Independent,
			blocks:   []*domain.ToolBlock{both, callOnly},
			want:     []domain.Part{call1, result1, call2},
		},
		{
			name:     "empty block contributes nothing",
			strategy: PreferResult,
			blocks:   []*domain.ToolBlock{empty},
		},
		{
			name:     "empty block contributes nothing independently",
			strategy: Independent,
			blocks:   []*domain.ToolBlock{empty},
		},
		{
			name:     "blank result keeps the call",
			strategy: PreferResult,
			blocks:   []*domain.ToolBlock{blankResult},
			want:     []domain.Part{call4},
		},
		{
			name:     "blank result emits call only independently",
			strategy: Independent,
			blocks:   []*domain.ToolBlock{blankResult},
			want:     []domain.Part{call4},
		},
		{
			name:     "server executed skipped",
			strategy: PreferResult,
			blocks:   []*domain.ToolBlock{serverSide, both},
			want:     []domain.Part{result1},
		},
		{
			name:     "server executed skipped independently",
			strategy: Independent,
			blocks:   []*domain.ToolBlock{serverSide},
		},
		{
			name:     "replay has no inline parts",
			strategy: Replay,
			blocks:   []*domain.ToolBlock{both},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := quietEngine().InlineParts(tt.blocks, tt.strategy)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d parts, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if !reflect.DeepEqual(got[i], tt.want[i]) {
					t.Errorf("part %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEngine_InlineParts_SynthesizedIDsMatch(t *testing.T) {
	block := &domain.ToolBlock{
		ID:        "b1",
		ToolName:  "calc",
		Arguments: json.RawMessage(`{"x":1}`),
		Content:   json.RawMessage(`2`),
	}
	e := quietEngine()
	parts := e.InlineParts([]*domain.ToolBlock{block}, Independent)
	if len(parts) != 2 {
		t.Fatalf("expected call and result, got %+v", parts)
	}
	call := parts[0].(domain.ToolCallPart)
	result := parts[1].(domain.ToolResultPart)
	if call.ID == "" || call.ID != result.ID {
		t.Errorf("call id %q and result id %q differ", call.ID, result.ID)
	}

	again := e.InlineParts([]*domain.ToolBlock{block}, PreferResult)
	if again[0].(domain.ToolResultPart).ID != call.ID {
		t.Error("second materialization produced a new id")
	}
}

func TestEngine_History(t *testing.T) {
	blocks := []*domain.ToolBlock{
		{ID: "1", ToolID: "c1", ToolName: "read", Arguments: json.RawMessage(`{"f":"a"}`), Content: json.RawMessage(`"contents"`), Status: domain.ToolStatusDone},
		{ID: "2", ToolID: "c2", ToolName: "web_search", Arguments: json.RawMessage(`{"q":"x"}`), Content: json.RawMessage(`{"hits":1}`), Status: domain.ToolStatusDone, ServerExecuted: true},
		{ID: "3", ToolID: "c3", ToolName: "write", Status: domain.ToolStatusCancelled},
		{ID: "4", ToolID: "c4", ToolName: "exec", Content: json.RawMessage(`"exit 1"`), Status: domain.ToolStatusError},
		{ID: "5", ToolID: "c5", ToolName: "wait", Status: domain.ToolStatusPending},
		{ID: "6", ToolID: "c6", ToolName: "stat", Status: domain.ToolStatusError},
		{ID: "7", ToolID: "c7", ToolName: "touch", Content: json.RawMessage(`""`), Status: domain.ToolStatusDone},
		{ID: "8", ToolID: "c8", ToolName: "kill", Content: json.RawMessage(`" "`), Status: domain.ToolStatusCancelled},
	}

	msgs := quietEngine().History(blocks)
	if len(msgs) != 2 {
		t.Fatalf("expected assistant and tool messages, got %d", len(msgs))
	}

	if msgs[0].Role != domain.RoleAssistant || msgs[1].Role != domain.RoleTool {
		t.Fatalf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}

	var callIDs []string
	for _, p := range msgs[0].Content.Parts {
		call, ok := p.(domain.ToolCallPart)
		if !ok {
			t.Fatalf("assistant history holds %T", p)
		}
		callIDs = append(callIDs, call.ID)
	}
	if want := []string{"c1", "c3", "c4", "c5", "c6", "c7", "c8"}; !reflect.DeepEqual(callIDs, want) {
		t.Errorf("call ids = %v, want %v", callIDs, want)
	}

	wantResults := []domain.ToolResultPart{
		{ID: "c1", Name: "read", Output: domain.ToolOutput{Type: domain.ToolOutputText, Value: "contents"}},
		{ID: "c3", Name: "write", Output: domain.ToolOutput{Type: domain.ToolOutputErrorText, Value: "cancelled"}},
		{ID: "c4", Name: "exec", Output: domain.ToolOutput{Type: domain.ToolOutputErrorText, Value: "exit 1"}},
		{ID: "c6", Name: "stat", Output: domain.ToolOutput{Type: domain.ToolOutputErrorText, Value: "error"}},
		{ID: "c7", Name: "touch", Output: domain.ToolOutput{Type: domain.ToolOutputText}},
		{ID: "c8", Name: "kill", Output: domain.ToolOutput{Type: domain.ToolOutputErrorText, Value: "cancelled"}},
	}
	if len(msgs[1].Content.Parts) != len(wantResults) {
		t.Fatalf("got %d results, want %d", len(msgs[1].Content.Parts), len(wantResults))
	}
	for i, p := range msgs[1].Content.Parts {
		if p != wantResults[i] {
			t.Errorf("result %d = %+v, want %+v", i, p, wantResults[i])
		}
	}
}

func TestEngine_History_Empty(t *testing.T) {
	server := []*domain.ToolBlock{{ID: "1", ServerExecuted: true, Status: domain.ToolStatusDone}}
	if msgs := quietEngine().History(server); len(msgs) != 0 {
		t.Errorf("expected no history, got %+v", msgs)
	}

	pending := []*domain.ToolBlock{{ID: "1", ToolID: "c1", Status: domain.ToolStatusPending}}
	msgs := quietEngine().History(pending)
	if len(msgs) != 1 || msgs[0].Role != domain.RoleAssistant {
		t.Errorf("expected a lone call message, got %+v", msgs)
	}
}

func TestEngine_ToolResults(t *testing.T) {
	var logs bytes.Buffer
	e := NewEngine(NewIDCache(), slog.New(slog.NewTextHandler(&logs, nil)))

	blocks := []*domain.ToolBlock{
		{ID: "1", ToolID: "c1", ToolName: "lookup", Content: json.RawMessage(`{"data":"value","number":42}`), Status: domain.ToolStatusDone},
		{ID: "2", ToolID: "c2", ToolName: "lookup", Arguments: json.RawMessage(`{"k":1}`)},
		{ID: "3", ToolID: "c3", Content: json.RawMessage(`null`)},
		{ID: "4", ToolID: "c4", ToolName: "lookup", Content: json.RawMessage(`""`), Status: domain.ToolStatusDone},
		{ID: "5", ToolID: "c5", Content: json.RawMessage(`"   "`)},
	}

	parts := e.ToolResults(context.Background(), blocks)
	if len(parts) != 1 {
		t.Fatalf("expected 1 result, got %d", len(parts))
	}
	want := domain.ToolResultPart{
		ID: "c1", Name: "lookup",
		Output: domain.ToolOutput{Type: domain.ToolOutputJSON, Value: `{"data":"value","number":42}`},
	}
	if parts[0] != want {
		t.Errorf("result = %+v, want %+v", parts[0], want)
	}
	if n := strings.Count(logs.String(), "dropping tool block without result"); n != 4 {
		t.Errorf("expected 4 warnings, got %d: %s", n, logs.String())
	}

	if empty := e.ToolResults(context.Background(), nil); empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{in: "", want: PreferResult},
		{in: "prefer_result", want: PreferResult},
		{in: "Independent", want: Independent},
		{in: " replay ", want: Replay},
		{in: "both", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStrategy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
