package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	cfotel "github.com/Strob0t/turnforge/internal/adapter/otel"
	"github.com/Strob0t/turnforge/internal/config"
	"github.com/Strob0t/turnforge/internal/domain/conversation"
	"github.com/Strob0t/turnforge/internal/domain/event"
	"github.com/Strob0t/turnforge/internal/domain/stream"
	"github.com/Strob0t/turnforge/internal/port/database"
	"github.com/Strob0t/turnforge/internal/port/eventstore"
)

// PersistResult identifies the durable records behind a synchronous write.
type PersistResult struct {
	SequenceNumber int64
	EventID        string
	MessageID      string
	Timestamp      time.Time
}

// AgentMessage is the final assistant output of a turn.
type AgentMessage struct {
	Content    string
	StopReason string
	Model      string
	Usage      conversation.TokenUsage
}

// PersistenceCoordinator decides when turn records reach storage. User and
// agent messages are written before their events are emitted; tool events
// and citations are written in the background.
type PersistenceCoordinator struct {
	events   eventstore.Store
	messages database.MessageStore
	cfg      config.Persistence
	sem      *semaphore.Weighted
	metrics  *cfotel.Metrics
}

// NewPersistenceCoordinator creates a coordinator. cfg.MaxBackground bounds
// concurrent background writes across all turns.
func NewPersistenceCoordinator(events eventstore.Store, messages database.MessageStore, cfg config.Persistence) *PersistenceCoordinator {
	if cfg.MaxBackground < 1 {
		cfg.MaxBackground = 1
	}
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = 30 * time.Second
	}
	return &PersistenceCoordinator{
		events:   events,
		messages: messages,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxBackground)),
	}
}

// SetMetrics records background failures on m.
func (c *PersistenceCoordinator) SetMetrics(m *cfotel.Metrics) { c.metrics = m }

// AwaitBackground reports whether turns should drain background writes
// before returning.
func (c *PersistenceCoordinator) AwaitBackground() bool { return c.cfg.AwaitBackground }

// BeginTurn returns the persistence handle for one turn of sessionID.
func (c *PersistenceCoordinator) BeginTurn(sessionID string) *TurnPersistence {
	return &TurnPersistence{c: c, sessionID: sessionID}
}

// TurnPersistence tracks the writes of one turn, including the background
// writes still in flight.
type TurnPersistence struct {
	c         *PersistenceCoordinator
	sessionID string

	group    errgroup.Group
	failures atomic.Int64
}

// PersistUserMessage durably stores the prompt. A failure is fatal to the turn.
func (t *TurnPersistence) PersistUserMessage(ctx context.Context, content, userID string) (*PersistResult, error) {
	data := map[string]any{"content": content}
	if userID != "" {
		data["userId"] = userID
	}
	return t.writeMessage(ctx, event.StoredUserMessage, data, &conversation.Message{
		Role:    conversation.RoleUser,
		Type:    conversation.TypeText,
		Content: content,
	})
}

// PersistAgentMessage durably stores the final assistant message. A failure
// is fatal to the turn.
func (t *TurnPersistence) PersistAgentMessage(ctx context.Context, m AgentMessage) (*PersistResult, error) {
	data := map[string]any{
		"content":    m.Content,
		"stopReason": m.StopReason,
		"usage":      m.Usage,
	}
	return t.writeMessage(ctx, event.StoredAgentMessage, data, &conversation.Message{
		Role:       conversation.RoleAssistant,
		Type:       conversation.TypeText,
		Content:    m.Content,
		StopReason: m.StopReason,
		TokensIn:   m.Usage.InputTokens,
		TokensOut:  m.Usage.OutputTokens,
		Model:      m.Model,
	})
}

// PersistThinking stores one finished reasoning block. Under the sync policy
// it writes before returning and yields the result; under the async policy it
// schedules the write and returns (nil, nil).
func (t *TurnPersistence) PersistThinking(ctx context.Context, content string) (*PersistResult, error) {
	msg := func() *conversation.Message {
		return &conversation.Message{
			Role:    conversation.RoleAssistant,
			Type:    conversation.TypeThinking,
			Content: content,
		}
	}
	data := map[string]any{"content": content}

	if t.c.cfg.ThinkingMode == config.ThinkingAsync {
		t.background(ctx, "thinking", func(ctx context.Context) error {
			_, err := t.writeMessage(ctx, event.StoredThinking, data, msg())
			return err
		})
		return nil, nil
	}
	return t.writeMessage(ctx, event.StoredThinking, data, msg())
}

// PersistToolEventsAsync schedules the request and completion records of a
// tool batch. Within the batch records are written in order, so each
// request precedes its completion in the session log.
func (t *TurnPersistence) PersistToolEventsAsync(ctx context.Context, agentName string, execs []stream.ToolExecutionRecord) {
	if len(execs) == 0 {
		return
	}
	t.background(ctx, "tool_events", func(ctx context.Context) error {
		for i := range execs {
			if err := t.writeToolExecution(ctx, agentName, execs[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *TurnPersistence) writeToolExecution(ctx context.Context, agentName string, ex stream.ToolExecutionRecord) error {
	args, err := json.Marshal(ex.Args)
	if err != nil {
		return fmt.Errorf("encode args of %s: %w", ex.ToolUseID, err)
	}

	if _, err := t.writeMessage(ctx, event.StoredToolUseRequested, map[string]any{
		"toolUseId": ex.ToolUseID,
		"toolName":  ex.ToolName,
		"args":      ex.Args,
		"agentName": agentName,
	}, &conversation.Message{
		Role:      conversation.RoleAssistant,
		Type:      conversation.TypeToolUse,
		Content:   string(args),
		ToolUseID: ex.ToolUseID,
	}); err != nil {
		return err
	}

	_, err = t.writeMessage(ctx, event.StoredToolUseCompleted, map[string]any{
		"toolUseId": ex.ToolUseID,
		"toolName":  ex.ToolName,
		"result":    ex.Result,
		"success":   ex.Success,
		"error":     ex.Error,
	}, &conversation.Message{
		Role:      conversation.RoleTool,
		Type:      conversation.TypeText,
		Content:   ex.Result,
		ToolUseID: ex.ToolUseID,
	})
	return err
}

// PersistCitationsAsync schedules the citations extracted for messageID.
func (t *TurnPersistence) PersistCitationsAsync(ctx context.Context, messageID string, citations []stream.Citation) {
	if len(citations) == 0 {
		return
	}
	rows := make([]conversation.Citation, 0, len(citations))
	for _, c := range citations {
		rows = append(rows, conversation.Citation{
			MessageID:     messageID,
			Text:          c.Text,
			Source:        c.Source,
			DocumentIndex: c.DocumentIndex,
			Location:      formatLocation(c.Location),
		})
	}
	t.background(ctx, "citations", func(ctx context.Context) error {
		if _, err := t.c.events.AppendEvent(ctx, t.sessionID, event.StoredCitationsExtracted, map[string]any{
			"messageId": messageID,
			"citations": citations,
		}); err != nil {
			return err
		}
		return t.c.messages.CreateCitations(ctx, rows)
	})
}

// PersistErrorAsync schedules an error_occurred record.
func (t *TurnPersistence) PersistErrorAsync(ctx context.Context, message, code string) {
	t.background(ctx, "error", func(ctx context.Context) error {
		_, err := t.c.events.AppendEvent(ctx, t.sessionID, event.StoredErrorOccurred, map[string]any{
			"error": message,
			"code":  code,
		})
		return err
	})
}

// AwaitPersistence blocks until every background write scheduled so far has
// finished, or ctx ends. Background failures are not returned; see Failures.
func (t *TurnPersistence) AwaitPersistence(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = t.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failures returns how many background writes of this turn failed.
func (t *TurnPersistence) Failures() int64 { return t.failures.Load() }

// background runs fn detached from the caller's cancellation, bounded by the
// background timeout and the coordinator-wide concurrency limit. Errors are
// logged and counted, never returned to the turn.
func (t *TurnPersistence) background(ctx context.Context, kind string, fn func(context.Context) error) {
	detached := context.WithoutCancel(ctx)
	t.group.Go(func() error {
		bctx, cancel := context.WithTimeout(detached, t.c.cfg.BackgroundTimeout)
		defer cancel()

		if err := t.c.sem.Acquire(bctx, 1); err != nil {
			t.fail(bctx, kind, err)
			return nil
		}
		defer t.c.sem.Release(1)

		if err := fn(bctx); err != nil {
			t.fail(bctx, kind, err)
		}
		return nil
	})
}

func (t *TurnPersistence) fail(ctx context.Context, kind string, err error) {
	t.failures.Add(1)
	slog.ErrorContext(ctx, "background persistence failed",
		"session_id", t.sessionID, "kind", kind, "error", err)
	if t.c.metrics != nil {
		t.c.metrics.BackgroundFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// writeMessage appends the event-log record and then the linked message row.
func (t *TurnPersistence) writeMessage(ctx context.Context, typ event.StoredType, data any, msg *conversation.Message) (*PersistResult, error) {
	ctx, span := cfotel.StartPersistSpan(ctx, t.sessionID, string(typ))
	defer span.End()

	stored, err := t.c.events.AppendEvent(ctx, t.sessionID, typ, data)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist %s: %w", typ, err)
	}

	msg.SessionID = t.sessionID
	msg.EventID = stored.ID
	msg.SequenceNumber = stored.SequenceNumber
	msg.CreatedAt = stored.Timestamp
	created, err := t.c.messages.CreateMessage(ctx, msg)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist %s message: %w", typ, err)
	}

	return &PersistResult{
		SequenceNumber: stored.SequenceNumber,
		EventID:        stored.ID,
		MessageID:      created.ID,
		Timestamp:      stored.Timestamp,
	}, nil
}

func formatLocation(loc *stream.CitationLocation) string {
	if loc == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d-%d", loc.Kind, loc.Start, loc.End)
}
