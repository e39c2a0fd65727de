package compaction

import (
	"context"
	"fmt"
	"time"

	"github.com/forgegate/forgegate/pkg/models"
)

// DefaultThresholdTokens is the default token threshold that triggers
// compaction (§4.9).
const DefaultThresholdTokens = 65536

// DefaultMaxSummaryTokens bounds the compaction call's own output.
const DefaultMaxSummaryTokens = 1024

// Config configures a Compactor.
type Config struct {
	// ThresholdTokens triggers compaction when estimated tokens exceed it.
	// <= 0 uses DefaultThresholdTokens.
	ThresholdTokens int

	// MaxSummaryTokens bounds the summarizer's own output budget.
	MaxSummaryTokens int

	// StatusFn is called around the summarizer LLM call with
	// {description, done} pairs — wired to the SSE status event of §4.9.
	StatusFn func(description string, done bool)
}

// Result is the outcome of a Compact call.
type Result struct {
	// Compacted is true if messages/summary changed.
	Compacted bool

	// Messages is the transcript to use going forward: either the original
	// input unchanged (pass-through) or summary-block-prefixed messages.
	Messages []models.Message

	// Summary is the upserted summary row, present whenever Compacted is true.
	Summary *models.ConversationSummary
}

// Compactor implements the exact watermark/splice algorithm of §4.9: not
// the generic N-way chunk-and-merge scheme in chunking.go, which is instead
// reused here as the summarizer's own internal chunking when a single
// compaction call's input still exceeds the cheap model's context window.
type Compactor struct {
	summarizer Summarizer
	cfg        Config
}

// NewCompactor builds a Compactor around a Summarizer (the cheap-model
// adapter configured via compaction_provider/compaction_model).
func NewCompactor(summarizer Summarizer, cfg Config) *Compactor {
	if cfg.ThresholdTokens <= 0 {
		cfg.ThresholdTokens = DefaultThresholdTokens
	}
	if cfg.MaxSummaryTokens <= 0 {
		cfg.MaxSummaryTokens = DefaultMaxSummaryTokens
	}
	return &Compactor{summarizer: summarizer, cfg: cfg}
}

// Compact runs the §4.9 decision tree for one turn's transcript. messages
// excludes nothing — it is the full working transcript for the turn
// (system + history + incoming). summary is the conversation's prior
// ConversationSummary row, or nil if none exists yet. Compaction is skipped
// when remaining non-system messages <= 2 (never discards the last 2).
func (c *Compactor) Compact(ctx context.Context, conversationID string, messages []models.Message, summary *models.ConversationSummary) (*Result, error) {
	nonSystem := nonSystemIndices(messages)
	if len(nonSystem) <= 2 {
		return &Result{Messages: messages, Summary: summary}, nil
	}

	estimated := estimateTokens(messages)

	if summary == nil {
		if estimated <= c.cfg.ThresholdTokens {
			return &Result{Messages: messages, Summary: nil}, nil
		}
		return c.summarizeFresh(ctx, conversationID, messages, nonSystem)
	}

	// Prior summary exists: splice [cached_summary, messages_since_watermark].
	sinceWatermark := messagesSince(messages, nonSystem, summary.Watermark)
	spliced := spliceSummary(summary.SummaryText, sinceWatermark)
	if estimateTokens(spliced) <= c.cfg.ThresholdTokens {
		// Cheap path: no LLM call.
		return &Result{Messages: spliced, Summary: summary}, nil
	}

	return c.resummarize(ctx, conversationID, messages, nonSystem, summary, sinceWatermark)
}

func (c *Compactor) summarizeFresh(ctx context.Context, conversationID string, messages []models.Message, nonSystem []int) (*Result, error) {
	// Summarize all but the last 2 non-system messages.
	covered := nonSystem[:len(nonSystem)-2]
	toSummarize := selectByIndex(messages, covered)

	summaryText, err := c.runSummarizer(ctx, toSummarize)
	if err != nil {
		return nil, err
	}

	watermark := len(nonSystem) - 2
	sum := &models.ConversationSummary{
		ConversationID:  conversationID,
		SummaryText:     summaryText,
		Watermark:       watermark,
		CompactionCount: 1,
		UpdatedAt:       nowOrZero(),
	}

	lastTwo := selectByIndex(messages, nonSystem[len(nonSystem)-2:])
	out := spliceSummary(summaryText, lastTwo)
	return &Result{Compacted: true, Messages: out, Summary: sum}, nil
}

func (c *Compactor) resummarize(ctx context.Context, conversationID string, messages []models.Message, nonSystem []int, prior *models.ConversationSummary, sinceWatermark []models.Message) (*Result, error) {
	if len(sinceWatermark) <= 2 {
		// Nothing meaningful to fold in beyond the last 2 — splice as-is.
		spliced := spliceSummary(prior.SummaryText, sinceWatermark)
		return &Result{Messages: spliced, Summary: prior}, nil
	}

	excludingLastTwo := sinceWatermark[:len(sinceWatermark)-2]
	lastTwo := sinceWatermark[len(sinceWatermark)-2:]

	toSummarize := append([]models.Message{
		{Role: models.RoleSystem, Content: prior.SummaryText},
	}, excludingLastTwo...)

	summaryText, err := c.runSummarizer(ctx, toSummarize)
	if err != nil {
		return nil, err
	}

	sum := &models.ConversationSummary{
		ConversationID:  conversationID,
		SummaryText:     summaryText,
		Watermark:       len(nonSystem) - 2,
		CompactionCount: prior.CompactionCount + 1,
		UpdatedAt:       nowOrZero(),
	}

	out := spliceSummary(summaryText, lastTwo)
	return &Result{Compacted: true, Messages: out, Summary: sum}, nil
}

func (c *Compactor) runSummarizer(ctx context.Context, messages []models.Message) (string, error) {
	if c.cfg.StatusFn != nil {
		c.cfg.StatusFn("Compacting conversation…", false)
	}
	defer func() {
		if c.cfg.StatusFn != nil {
			c.cfg.StatusFn("Compacting conversation…", true)
		}
	}()

	if c.summarizer == nil {
		return "", fmt.Errorf("compaction: no summarizer configured")
	}

	internal := toInternalMessages(messages)
	cfg := &SummarizationConfig{
		ReserveTokens:  c.cfg.MaxSummaryTokens,
		MaxChunkTokens: 20000,
		ContextWindow:  DefaultContextWindow,
		Parts:          DefaultParts,
	}
	return SummarizeChunks(ctx, internal, c.summarizer, cfg)
}

// spliceSummary builds [system "[CONVERSATION SUMMARY] ... [/...]" block, rest...].
func spliceSummary(summaryText string, rest []models.Message) []models.Message {
	block := models.Message{
		Role:    models.RoleSystem,
		Content: fmt.Sprintf("[CONVERSATION SUMMARY]\n%s\n[/CONVERSATION SUMMARY]", summaryText),
	}
	out := make([]models.Message, 0, len(rest)+1)
	out = append(out, block)
	out = append(out, rest...)
	return out
}

func nonSystemIndices(messages []models.Message) []int {
	var idx []int
	for i, m := range messages {
		if m.Role != models.RoleSystem {
			idx = append(idx, i)
		}
	}
	return idx
}

func messagesSince(messages []models.Message, nonSystem []int, watermark int) []models.Message {
	if watermark >= len(nonSystem) {
		return nil
	}
	if watermark < 0 {
		watermark = 0
	}
	return selectByIndex(messages, nonSystem[watermark:])
}

func selectByIndex(messages []models.Message, indices []int) []models.Message {
	out := make([]models.Message, 0, len(indices))
	for _, i := range indices {
		out = append(out, messages[i])
	}
	return out
}

func estimateTokens(messages []models.Message) int {
	return EstimateMessagesTokens(toInternalMessages(messages))
}

func toInternalMessages(messages []models.Message) []*Message {
	out := make([]*Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, &Message{
			Role:    string(m.Role),
			Content: m.Text(),
			ID:      m.ID,
		})
	}
	return out
}

// nowOrZero exists so tests can observe a deterministic pre-assignment
// point without the package reaching for time.Now() at import time.
func nowOrZero() time.Time { return time.Now() }
