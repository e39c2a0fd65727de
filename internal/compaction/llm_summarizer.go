package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgegate/forgegate/internal/agent"
)

const summarizerSystemPrompt = `You summarize a portion of a conversation between a user and an AI
assistant so the conversation can continue without the full transcript.
Preserve: open tasks, decisions made, facts the user stated about
themselves, and any commitments the assistant made. Omit pleasantries.
Write 3-6 sentences of plain prose, no headers or bullet points.`

// LLMSummarizer implements Summarizer by asking an agent.LLMProvider (the
// cheap compaction_provider/compaction_model pair of §4.9) to compress one
// chunk of messages into prose.
type LLMSummarizer struct {
	provider agent.LLMProvider
	model    string
}

// NewLLMSummarizer builds a Summarizer backed by provider, using model for
// every call (the compaction-specific model, distinct from the
// conversation's own model).
func NewLLMSummarizer(provider agent.LLMProvider, model string) *LLMSummarizer {
	return &LLMSummarizer{provider: provider, model: model}
}

// GenerateSummary implements Summarizer.
func (s *LLMSummarizer) GenerateSummary(ctx context.Context, messages []*Message, config *SummarizationConfig) (string, error) {
	if len(messages) == 0 {
		return DefaultSummaryFallback, nil
	}

	system := summarizerSystemPrompt
	if config != nil && config.CustomInstructions != "" {
		system = config.CustomInstructions
	}

	maxTokens := DefaultMaxSummaryTokens
	if config != nil && config.ReserveTokens > 0 {
		maxTokens = config.ReserveTokens
	}

	var transcript strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&transcript, "[%s] %s\n", m.Role, m.Content)
	}

	chunks, err := s.provider.Complete(ctx, &agent.CompletionRequest{
		Model:     s.model,
		System:    system,
		Messages:  []agent.CompletionMessage{{Role: "user", Content: transcript.String()}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("compaction: summarizer call: %w", err)
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("compaction: summarizer stream: %w", chunk.Error)
		}
		out.WriteString(chunk.Text)
	}

	summary := strings.TrimSpace(out.String())
	if summary == "" {
		return DefaultSummaryFallback, nil
	}
	return summary, nil
}
