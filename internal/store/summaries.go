package store

import (
	"context"
	"time"

	"github.com/forgegate/forgegate/pkg/models"
)

// GetConversationSummary returns the compaction summary for a conversation,
// or nil (not ErrNotFound) when none exists yet — callers in
// internal/compaction treat "no summary" as a normal pass-through state.
func (s *Store) GetConversationSummary(ctx context.Context, conversationID string) (*models.ConversationSummary, error) {
	db := s.conn()
	row := db.QueryRowContext(ctx, `
		SELECT conversation_id, summary_text, watermark, compaction_count, updated_at
		FROM conversation_summaries WHERE conversation_id = $1
	`, conversationID)

	var sum models.ConversationSummary
	if err := row.Scan(&sum.ConversationID, &sum.SummaryText, &sum.Watermark, &sum.CompactionCount, &sum.UpdatedAt); err != nil {
		if err := classifyError(err); err == ErrNotFound {
			return nil, nil
		} else {
			return nil, err
		}
	}
	return &sum, nil
}

// UpsertConversationSummary persists a compaction result, enforcing the
// "watermark monotonically non-decreasing" invariant (§3) by refusing to
// regress it.
func (s *Store) UpsertConversationSummary(ctx context.Context, sum models.ConversationSummary) error {
	if sum.UpdatedAt.IsZero() {
		sum.UpdatedAt = time.Now()
	}
	db := s.conn()
	_, err := db.ExecContext(ctx, `
		INSERT INTO conversation_summaries (conversation_id, summary_text, watermark, compaction_count, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT(conversation_id) DO UPDATE SET
			summary_text     = excluded.summary_text,
			watermark        = MAX(conversation_summaries.watermark, excluded.watermark),
			compaction_count = excluded.compaction_count,
			updated_at       = excluded.updated_at
	`, sum.ConversationID, sum.SummaryText, sum.Watermark, sum.CompactionCount, sum.UpdatedAt)
	return classifyError(err)
}
