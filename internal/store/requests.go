package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/forgegate/forgegate/pkg/models"
)

// InsertRequest persists a completed or failed request row (§3: "created
// at turn start, updated once at turn end"). Callers assemble the full
// record once the provider adapter's iterations finish, so this is a
// single insert rather than an insert-then-update pair.
func (s *Store) InsertRequest(ctx context.Context, r models.RequestRecord) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	db := s.conn()
	_, err := db.ExecContext(ctx, `
		INSERT INTO requests (
			id, conversation_id, user_id, source_instance_id, model, provider,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
			cost_usd, status, latency_ms, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, r.ID, r.ConversationID, r.UserID, r.SourceInstanceID, r.Model, r.Provider,
		r.InputTokens, r.OutputTokens, r.CacheReadTokens, r.CacheWriteTokens,
		r.CostUSD, string(r.Status), r.LatencyMS, r.CreatedAt)
	if err != nil {
		return "", classifyError(err)
	}
	return r.ID, nil
}

// GetRequest returns a request row by id, or ErrNotFound.
func (s *Store) GetRequest(ctx context.Context, id string) (*models.RequestRecord, error) {
	db := s.conn()
	row := db.QueryRowContext(ctx, `
		SELECT id, conversation_id, user_id, source_instance_id, model, provider,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
			cost_usd, status, latency_ms, created_at
		FROM requests WHERE id = $1
	`, id)

	var r models.RequestRecord
	var status string
	if err := row.Scan(&r.ID, &r.ConversationID, &r.UserID, &r.SourceInstanceID, &r.Model, &r.Provider,
		&r.InputTokens, &r.OutputTokens, &r.CacheReadTokens, &r.CacheWriteTokens,
		&r.CostUSD, &status, &r.LatencyMS, &r.CreatedAt); err != nil {
		return nil, classifyError(err)
	}
	r.Status = models.RequestStatus(status)
	return &r, nil
}

// ListRequestsByConversation returns every request for a conversation,
// oldest first.
func (s *Store) ListRequestsByConversation(ctx context.Context, conversationID string) ([]models.RequestRecord, error) {
	db := s.conn()
	rows, err := db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, source_instance_id, model, provider,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
			cost_usd, status, latency_ms, created_at
		FROM requests WHERE conversation_id = $1 ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var out []models.RequestRecord
	for rows.Next() {
		var r models.RequestRecord
		var status string
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.UserID, &r.SourceInstanceID, &r.Model, &r.Provider,
			&r.InputTokens, &r.OutputTokens, &r.CacheReadTokens, &r.CacheWriteTokens,
			&r.CostUSD, &status, &r.LatencyMS, &r.CreatedAt); err != nil {
			return nil, classifyError(err)
		}
		r.Status = models.RequestStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertMessages persists the (role, content) messages attached to a
// request, in a single transaction (§3: "foreign-key-linked set of
// messages").
func (s *Store) InsertMessages(ctx context.Context, requestID, conversationID string, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	db := s.conn()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(err)
	}
	if err := insertMessagesTx(ctx, tx, requestID, conversationID, messages); err != nil {
		tx.Rollback()
		return err
	}
	return classifyError(tx.Commit())
}

func insertMessagesTx(ctx context.Context, tx *sql.Tx, requestID, conversationID string, messages []models.Message) error {
	for _, m := range messages {
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, request_id, conversation_id, role, content, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, id, requestID, conversationID, string(m.Role), m.Text(), createdAt); err != nil {
			return classifyError(err)
		}
	}
	return nil
}

// ListMessagesByConversation returns a conversation's persisted messages,
// oldest first.
func (s *Store) ListMessagesByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	db := s.conn()
	rows, err := db.QueryContext(ctx, `
		SELECT id, role, content, created_at FROM messages
		WHERE conversation_id = $1 ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, classifyError(err)
		}
		m.Role = models.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertToolCalls persists a request's tool-call records, append-only (§3).
func (s *Store) InsertToolCalls(ctx context.Context, requestID string, calls []models.ToolCallRecord) error {
	if len(calls) == 0 {
		return nil
	}
	db := s.conn()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(err)
	}
	for _, c := range calls {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tool_calls (id, request_id, tool_name, parameters, result_text, success, execution_ms, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, id, requestID, c.ToolName, c.Parameters, c.ResultText, c.Success, c.ExecutionMS, createdAt); err != nil {
			tx.Rollback()
			return classifyError(err)
		}
	}
	return classifyError(tx.Commit())
}

// ListToolCallsByRequest returns a request's tool calls in insertion order.
func (s *Store) ListToolCallsByRequest(ctx context.Context, requestID string) ([]models.ToolCallRecord, error) {
	db := s.conn()
	rows, err := db.QueryContext(ctx, `
		SELECT id, request_id, tool_name, parameters, result_text, success, execution_ms, created_at
		FROM tool_calls WHERE request_id = $1 ORDER BY created_at ASC
	`, requestID)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var out []models.ToolCallRecord
	for rows.Next() {
		var c models.ToolCallRecord
		if err := rows.Scan(&c.ID, &c.RequestID, &c.ToolName, &c.Parameters, &c.ResultText, &c.Success, &c.ExecutionMS, &c.CreatedAt); err != nil {
			return nil, classifyError(err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
