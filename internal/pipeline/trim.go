package pipeline

import "github.com/forgegate/forgegate/pkg/models"

// hardTrim implements §4.8 step 6: drop the oldest non-system, non-last
// messages until the estimated request size fits maxInputTokens. System
// messages and the last message (the turn's user input) are inviolable.
func hardTrim(messages []models.Message, toolDefCount, maxInputTokens int) []models.Message {
	if maxInputTokens <= 0 || len(messages) == 0 {
		return messages
	}

	out := append([]models.Message(nil), messages...)
	for EstimateRequestTokens(out, toolDefCount) > maxInputTokens {
		victim := -1
		for i := 0; i < len(out)-1; i++ {
			if out[i].Role != models.RoleSystem {
				victim = i
				break
			}
		}
		if victim == -1 {
			// Nothing left that's safe to drop.
			break
		}
		out = append(out[:victim], out[victim+1:]...)
	}
	return out
}
