package pipeline

import "github.com/forgegate/forgegate/pkg/models"

// lengthGuardNotice replaces an over-length user message's text (§4.8
// step 3).
const lengthGuardNotice = "[Message omitted: exceeded the maximum allowed length]"

// applyLengthGuard replaces any user message whose estimated token size
// exceeds maxUserMessageTokens with a short notice. Applied to every
// request since history arrives fully re-sent from the caller.
func applyLengthGuard(messages []models.Message, maxUserMessageTokens int) []models.Message {
	if maxUserMessageTokens <= 0 {
		return messages
	}
	out := make([]models.Message, len(messages))
	for i, m := range messages {
		if m.Role == models.RoleUser && estimateTextTokens(m.Text()) > maxUserMessageTokens {
			m.Content = lengthGuardNotice
			m.Blocks = nil
		}
		out[i] = m
	}
	return out
}
