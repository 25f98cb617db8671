package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/Strob0t/turnforge/internal/domain/event"
)

// eventColumns is the SELECT column list for message_events queries.
const eventColumns = `id::text, session_id, event_type, sequence_number, timestamp, data, processed`

func scanEvent(row scannable, ev *event.StoredEvent) error {
	return row.Scan(&ev.ID, &ev.SessionID, &ev.EventType, &ev.SequenceNumber, &ev.Timestamp, &ev.Data, &ev.Processed)
}

// InsertEvent appends one row to the session's event log.
func (s *Store) InsertEvent(ctx context.Context, ev *event.StoredEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO message_events (id, session_id, event_type, sequence_number, timestamp, data, processed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.SessionID, string(ev.EventType), ev.SequenceNumber, ev.Timestamp, []byte(ev.Data), ev.Processed)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.EventType, err)
	}
	return nil
}

// NextSequence returns max(sequence_number)+1 for the session, 0 when empty.
func (s *Store) NextSequence(ctx context.Context, sessionID string) (int64, error) {
	var next int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number) + 1, 0) FROM message_events WHERE session_id = $1`,
		sessionID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next sequence for %s: %w", sessionID, err)
	}
	return next, nil
}

// ListEvents returns the session's events ordered by sequence number,
// bounded by r.
func (s *Store) ListEvents(ctx context.Context, sessionID string, r event.SequenceRange) ([]event.StoredEvent, error) {
	var (
		where = []string{"session_id = $1"}
		args  = []any{sessionID}
	)
	if r.From != nil {
		args = append(args, *r.From)
		where = append(where, fmt.Sprintf("sequence_number >= $%d", len(args)))
	}
	if r.To != nil {
		args = append(args, *r.To)
		where = append(where, fmt.Sprintf("sequence_number <= $%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM message_events WHERE %s ORDER BY sequence_number ASC, timestamp ASC`,
		eventColumns, strings.Join(where, " AND "))
	return s.queryEvents(ctx, "list events", query, args...)
}

// ListUnprocessedEvents returns unprocessed events ordered by arrival.
func (s *Store) ListUnprocessedEvents(ctx context.Context, sessionID string) ([]event.StoredEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM message_events WHERE session_id = $1 AND NOT processed ORDER BY timestamp ASC`,
		eventColumns)
	return s.queryEvents(ctx, "list unprocessed events", query, sessionID)
}

// MarkEventProcessed sets processed=true. Marking an already processed event
// succeeds; an unknown id yields domain.ErrNotFound.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE message_events SET processed = TRUE WHERE id = $1`, eventID)
	return execExpectOne(tag, err, "mark event %s processed", eventID)
}

func (s *Store) queryEvents(ctx context.Context, op, query string, args ...any) ([]event.StoredEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var events []event.StoredEvent
	for rows.Next() {
		var ev event.StoredEvent
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return orEmpty(events), nil
}
