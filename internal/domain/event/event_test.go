package event

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func envelope(state PersistenceState) Envelope {
	return Envelope{
		EventID:          "ev-1",
		SessionID:        "s1",
		Timestamp:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		EventIndex:       0,
		PersistenceState: state,
	}
}

func TestValidate(t *testing.T) {
	seq := int64(4)
	tests := []struct {
		name    string
		ev      AgentEvent
		wantErr bool
	}{
		{"session start", &SessionStart{Envelope: envelope(StateTransient), UserID: "u1"}, false},
		{"session start persisted", &SessionStart{Envelope: envelope(StatePersisted)}, true},
		{"user message", &UserMessageConfirmed{Envelope: envelope(StatePersisted), Content: "hi", MessageID: "m1"}, false},
		{"user message transient", &UserMessageConfirmed{Envelope: envelope(StateTransient), MessageID: "m1"}, true},
		{"user message no id", &UserMessageConfirmed{Envelope: envelope(StatePersisted)}, true},
		{"thinking pending", &ThinkingComplete{Envelope: envelope(StatePending), Content: "hmm"}, false},
		{"thinking persisted without seq", &ThinkingComplete{Envelope: envelope(StatePersisted)}, true},
		{"thinking persisted", &ThinkingComplete{Envelope: envelope(StatePersisted), SequenceNumber: &seq}, false},
		{"tool use", &ToolUse{Envelope: envelope(StateTransient), ToolUseID: "t1", ToolName: "search"}, false},
		{"tool use no id", &ToolUse{Envelope: envelope(StateTransient)}, true},
		{"tool result", &ToolResult{Envelope: envelope(StatePending), ToolUseID: "t1", Success: true}, false},
		{"tool result transient", &ToolResult{Envelope: envelope(StateTransient), ToolUseID: "t1"}, true},
		{"chunk", &MessageChunk{Envelope: envelope(StateTransient), Delta: "a"}, false},
		{"message", &Message{Envelope: envelope(StatePersisted), Role: "assistant", MessageID: "m2"}, false},
		{"message wrong role", &Message{Envelope: envelope(StatePersisted), Role: "user", MessageID: "m2"}, true},
		{"complete", &Complete{Envelope: envelope(StateTransient), Reason: ReasonSuccess}, false},
		{"complete bad reason", &Complete{Envelope: envelope(StateTransient), Reason: "done"}, true},
		{"error", &Error{Envelope: envelope(StateTransient), Error: "boom"}, false},
		{"error empty", &Error{Envelope: envelope(StateTransient)}, true},
		{"missing event id", &SessionStart{Envelope: Envelope{SessionID: "s1", Timestamp: time.Now(), PersistenceState: StateTransient}}, true},
		{"missing session id", &SessionStart{Envelope: Envelope{EventID: "e", Timestamp: time.Now(), PersistenceState: StateTransient}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEvent) {
					t.Fatalf("expected ErrInvalidEvent, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMarshalAddsTypeTag(t *testing.T) {
	ev := &ToolUse{
		Envelope:  envelope(StateTransient),
		ToolUseID: "toolu_1",
		ToolName:  "search",
		Args:      map[string]any{"q": "go"},
	}
	data, err := Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.HasPrefix(string(data), `{"type":"tool_use",`) {
		t.Fatalf("expected type tag first, got %s", data)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	for _, key := range []string{"eventId", "sessionId", "timestamp", "eventIndex", "persistenceState", "toolUseId", "args"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	if decoded["timestamp"] != "2026-01-02T03:04:05Z" {
		t.Errorf("expected ISO-8601 timestamp, got %v", decoded["timestamp"])
	}
}

func TestCompleteReasonValid(t *testing.T) {
	for _, r := range []CompleteReason{ReasonSuccess, ReasonError, ReasonMaxTurns, ReasonUserCancelled} {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if CompleteReason("end_turn").Valid() {
		t.Error("raw provider reason must not be valid")
	}
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := &Clock{now: func() time.Time { return fixed }}

	prev := c.Now()
	for range 100 {
		next := c.Now()
		if !next.After(prev) {
			t.Fatalf("timestamp %v not after %v", next, prev)
		}
		prev = next
	}
}

func TestSequenceRangeContains(t *testing.T) {
	from, to := int64(2), int64(4)
	r := SequenceRange{From: &from, To: &to}
	for seq, want := range map[int64]bool{1: false, 2: true, 3: true, 4: true, 5: false} {
		if got := r.Contains(seq); got != want {
			t.Errorf("Contains(%d) = %v, want %v", seq, got, want)
		}
	}
	if !(SequenceRange{}).Contains(99) {
		t.Error("open range should contain everything")
	}
}
