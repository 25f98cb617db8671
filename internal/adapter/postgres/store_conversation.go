package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/turnforge/internal/domain/conversation"
)

const messageColumns = `id::text, session_id, COALESCE(event_id::text, ''), sequence_number, role, message_type, content,
	metadata, tool_use_id, stop_reason, tokens_in, tokens_out, model, created_at`

func scanMessage(row scannable, m *conversation.Message) error {
	return row.Scan(&m.ID, &m.SessionID, &m.EventID, &m.SequenceNumber, &m.Role, &m.Type, &m.Content,
		&m.Metadata, &m.ToolUseID, &m.StopReason, &m.TokensIn, &m.TokensOut, &m.Model, &m.CreatedAt)
}

// CreateMessage inserts m and returns the stored row with its generated id.
func (s *Store) CreateMessage(ctx context.Context, m *conversation.Message) (*conversation.Message, error) {
	msgType := m.Type
	if msgType == "" {
		msgType = conversation.TypeText
	}

	var created conversation.Message
	row := s.pool.QueryRow(ctx,
		`INSERT INTO messages (session_id, event_id, sequence_number, role, message_type, content, metadata,
		                       tool_use_id, stop_reason, tokens_in, tokens_out, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($13, now()))
		 RETURNING `+messageColumns,
		m.SessionID, nullIfEmpty(m.EventID), m.SequenceNumber, string(m.Role), string(msgType), m.Content,
		nullJSON(m.Metadata), m.ToolUseID, m.StopReason, m.TokensIn, m.TokensOut, m.Model, nullTime(m.CreatedAt))
	if err := scanMessage(row, &created); err != nil {
		return nil, fmt.Errorf("create %s message: %w", m.Role, err)
	}
	return &created, nil
}

// ListMessages returns the session's messages in sequence order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = $1 ORDER BY sequence_number ASC, created_at ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var result []conversation.Message
	for rows.Next() {
		var m conversation.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return orEmpty(result), nil
}

// CreateCitations inserts all citations in one transaction.
func (s *Store) CreateCitations(ctx context.Context, citations []conversation.Citation) error {
	if len(citations) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	batch := &pgx.Batch{}
	for i := range citations {
		c := &citations[i]
		batch.Queue(
			`INSERT INTO message_citations (message_id, text, source, document_index, location)
			 VALUES ($1, $2, $3, $4, $5)`,
			c.MessageID, c.Text, c.Source, c.DocumentIndex, c.Location)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert citations: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit citations: %w", err)
	}
	return nil
}

// ListCitations returns the citations of messageID.
func (s *Store) ListCitations(ctx context.Context, messageID string) ([]conversation.Citation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT message_id::text, text, source, document_index, location
		 FROM message_citations WHERE message_id = $1 ORDER BY id ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list citations: %w", err)
	}
	defer rows.Close()

	var result []conversation.Citation
	for rows.Next() {
		var c conversation.Citation
		if err := rows.Scan(&c.MessageID, &c.Text, &c.Source, &c.DocumentIndex, &c.Location); err != nil {
			return nil, fmt.Errorf("scan citation: %w", err)
		}
		result = append(result, c)
	}
	return orEmpty(result), rows.Err()
}
