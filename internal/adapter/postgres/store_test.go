package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/turnforge/internal/adapter/postgres"
	"github.com/Strob0t/turnforge/internal/domain"
	"github.com/Strob0t/turnforge/internal/domain/conversation"
	"github.com/Strob0t/turnforge/internal/domain/event"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

func newSessionID() string { return "sess-" + uuid.NewString()[:8] }

func insertEvent(t *testing.T, s *postgres.Store, sessionID string, seq int64, ts time.Time) *event.StoredEvent {
	t.Helper()
	ev := &event.StoredEvent{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		EventType:      event.StoredUserMessage,
		SequenceNumber: seq,
		Timestamp:      ts,
		Data:           json.RawMessage(`{"content":"hi"}`),
	}
	if err := s.InsertEvent(context.Background(), ev); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	return ev
}

func TestStore_NextSequence(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	sid := newSessionID()

	next, err := s.NextSequence(ctx, sid)
	if err != nil {
		t.Fatalf("NextSequence: %v", err)
	}
	if next != 0 {
		t.Fatalf("empty session next = %d, want 0", next)
	}

	now := time.Now().UTC()
	insertEvent(t, s, sid, 0, now)
	insertEvent(t, s, sid, 4, now)

	next, err = s.NextSequence(ctx, sid)
	if err != nil {
		t.Fatalf("NextSequence: %v", err)
	}
	if next != 5 {
		t.Fatalf("next = %d, want 5", next)
	}
}

func TestStore_ListEventsRange(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	sid := newSessionID()

	now := time.Now().UTC()
	for seq := int64(4); seq >= 0; seq-- {
		insertEvent(t, s, sid, seq, now)
	}

	all, err := s.ListEvents(ctx, sid, event.SequenceRange{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d events, want 5", len(all))
	}
	for i, ev := range all {
		if ev.SequenceNumber != int64(i) {
			t.Errorf("events[%d].SequenceNumber = %d", i, ev.SequenceNumber)
		}
	}

	from, to := int64(1), int64(3)
	got, err := s.ListEvents(ctx, sid, event.SequenceRange{From: &from, To: &to})
	if err != nil {
		t.Fatalf("ListEvents range: %v", err)
	}
	if len(got) != 3 || got[0].SequenceNumber != 1 || got[2].SequenceNumber != 3 {
		t.Fatalf("range [1,3] returned %+v", got)
	}

	other, err := s.ListEvents(ctx, newSessionID(), event.SequenceRange{})
	if err != nil {
		t.Fatalf("ListEvents other session: %v", err)
	}
	if other == nil || len(other) != 0 {
		t.Fatalf("other session = %v, want empty non-nil", other)
	}
}

func TestStore_UnprocessedAndMark(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	sid := newSessionID()

	base := time.Now().UTC().Truncate(time.Millisecond)
	late := insertEvent(t, s, sid, 0, base.Add(2*time.Second))
	early := insertEvent(t, s, sid, 1, base)

	pending, err := s.ListUnprocessedEvents(ctx, sid)
	if err != nil {
		t.Fatalf("ListUnprocessedEvents: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != early.ID || pending[1].ID != late.ID {
		t.Fatalf("unprocessed not ordered by timestamp: %+v", pending)
	}

	if err := s.MarkEventProcessed(ctx, early.ID); err != nil {
		t.Fatalf("MarkEventProcessed: %v", err)
	}
	if err := s.MarkEventProcessed(ctx, early.ID); err != nil {
		t.Fatalf("second MarkEventProcessed: %v", err)
	}

	pending, err = s.ListUnprocessedEvents(ctx, sid)
	if err != nil {
		t.Fatalf("ListUnprocessedEvents: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != late.ID {
		t.Fatalf("after mark got %+v", pending)
	}

	err = s.MarkEventProcessed(ctx, uuid.NewString())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown id err = %v, want ErrNotFound", err)
	}
}

func TestStore_MessagesAndCitations(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	sid := newSessionID()

	ev := insertEvent(t, s, sid, 0, time.Now().UTC())
	user, err := s.CreateMessage(ctx, &conversation.Message{
		SessionID:      sid,
		EventID:        ev.ID,
		SequenceNumber: 0,
		Role:           conversation.RoleUser,
		Content:        "Hello",
	})
	if err != nil {
		t.Fatalf("CreateMessage user: %v", err)
	}
	if user.ID == "" || user.EventID != ev.ID || user.Type != conversation.TypeText {
		t.Fatalf("user message = %+v", user)
	}

	agent, err := s.CreateMessage(ctx, &conversation.Message{
		SessionID:      sid,
		SequenceNumber: 1,
		Role:           conversation.RoleAssistant,
		Content:        "Hi there",
		StopReason:     "end_turn",
		TokensIn:       12,
		TokensOut:      3,
		Model:          "claude-sonnet",
		Metadata:       json.RawMessage(`{"k":"v"}`),
	})
	if err != nil {
		t.Fatalf("CreateMessage agent: %v", err)
	}
	if agent.EventID != "" {
		t.Errorf("EventID = %q, want empty for unlinked row", agent.EventID)
	}

	msgs, err := s.ListMessages(ctx, sid)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != user.ID || msgs[1].TokensOut != 3 {
		t.Fatalf("ListMessages = %+v", msgs)
	}

	idx := 2
	err = s.CreateCitations(ctx, []conversation.Citation{
		{MessageID: agent.ID, Text: "quote", Source: "doc.pdf", DocumentIndex: &idx, Location: "page:1-2"},
		{MessageID: agent.ID, Text: "other", Source: "web"},
	})
	if err != nil {
		t.Fatalf("CreateCitations: %v", err)
	}

	cites, err := s.ListCitations(ctx, agent.ID)
	if err != nil {
		t.Fatalf("ListCitations: %v", err)
	}
	if len(cites) != 2 {
		t.Fatalf("got %d citations, want 2", len(cites))
	}
	if cites[0].DocumentIndex == nil || *cites[0].DocumentIndex != 2 || cites[0].Location != "page:1-2" {
		t.Errorf("first citation = %+v", cites[0])
	}
	if cites[1].DocumentIndex != nil {
		t.Errorf("second citation index = %v, want nil", *cites[1].DocumentIndex)
	}
}

func TestStore_CreateCitationsRollsBack(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	err := s.CreateCitations(ctx, []conversation.Citation{{MessageID: uuid.NewString(), Text: "orphan"}})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
	if err := s.CreateCitations(ctx, nil); err != nil {
		t.Fatalf("empty CreateCitations: %v", err)
	}
}
