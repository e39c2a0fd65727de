// Package pipeline implements the per-request preparation sequence of
// §4.8: allow-list gating, image normalization, length guarding, system
// prompt assembly, compaction, and hard trim, before a request is
// dispatched to a Provider Adapter.
package pipeline

import "github.com/forgegate/forgegate/pkg/models"

// Token-estimation constants from §4.8: a fast approximation, distinct
// from internal/compaction's own (coarser) internal chunking estimate.
const (
	charsPerToken        = 3.2
	tokensPerImageBlock  = 500
	tokensPerToolDef     = 350
	tokensPerMessageOverhead = 15
)

// estimateTextTokens approximates token count for a string.
func estimateTextTokens(s string) int {
	if s == "" {
		return 0
	}
	return int(float64(len(s))/charsPerToken) + 1
}

// estimateMessageTokens approximates one message's token footprint:
// text content plus a fixed cost per image block and per-message
// overhead.
func estimateMessageTokens(m models.Message) int {
	total := tokensPerMessageOverhead
	total += estimateTextTokens(m.Text())
	for _, b := range m.Blocks {
		if b.Type == models.BlockImageRef {
			total += tokensPerImageBlock
		}
	}
	return total
}

// EstimateRequestTokens approximates the full dispatched request's size:
// every message plus a fixed cost per tool definition.
func EstimateRequestTokens(messages []models.Message, toolDefCount int) int {
	total := toolDefCount * tokensPerToolDef
	for _, m := range messages {
		total += estimateMessageTokens(m)
	}
	return total
}
