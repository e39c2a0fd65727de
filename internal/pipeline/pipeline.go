package pipeline

import (
	"context"
	"fmt"

	"github.com/forgegate/forgegate/internal/agent"
	"github.com/forgegate/forgegate/internal/compaction"
	"github.com/forgegate/forgegate/pkg/models"
)

// ErrNotAuthorizedInstance is returned by Prepare when the source
// instance fails the allow-list check (§4.8 step 1, §7: "Not-authorized-
// instance").
var ErrNotAuthorizedInstance = fmt.Errorf("pipeline: source instance not authorized")

// Config bounds a Pipeline's behavior; mirrors config.GatewayConfig plus
// the allow-list and data root it needs but that otherwise live under
// config.AuthConfig/config.DatabaseConfig.
type Config struct {
	AllowedInstances     []string
	DataRoot             string
	MaxInputTokens       int
	MaxUserMessageTokens int
	EnableCompaction     bool
}

// Request is one inbound chat turn, already decoded from the gateway's
// JSON body (§6 "Chat request").
type Request struct {
	ConversationID      string
	UserID              string
	SourceInstance      string
	Messages            []models.Message
	Model               string
	CustomSystemPrompt  string
	UserMemories        []string
	SandboxEnabled      bool
	DownloadURLTemplate string
	PriorSummary        *models.ConversationSummary
	ToolDefCount        int
	MaxTokens           int
}

// Pipeline runs the seven-step request preparation sequence of §4.8.
type Pipeline struct {
	cfg        Config
	normalizer *Normalizer
	compactor  *compaction.Compactor
}

// New builds a Pipeline. compactor may be nil to disable compaction
// regardless of cfg.EnableCompaction.
func New(cfg Config, compactor *compaction.Compactor) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		normalizer: NewNormalizer(cfg.DataRoot),
		compactor:  compactor,
	}
}

// Prepare runs the allow-list check, image normalization, length guard,
// system-prompt assembly, compaction, and hard trim, returning the
// CompletionRequest ready for dispatch to a Provider Adapter plus a
// cleanup closure the caller MUST invoke once the turn completes
// (success or failure) to delete any proxy image files created along
// the way.
func (p *Pipeline) Prepare(ctx context.Context, req Request) (*agent.CompletionRequest, func(), error) {
	noop := func() {}

	// Step 1: allow-list.
	if !AllowListMatches(p.cfg.AllowedInstances, req.SourceInstance) {
		return nil, noop, ErrNotAuthorizedInstance
	}

	// Step 2: image normalization.
	messages, cleanup, err := p.normalizer.Normalize(ctx, req.UserID, req.ConversationID, req.Messages)
	if err != nil {
		return nil, noop, fmt.Errorf("pipeline: normalize images: %w", err)
	}

	// Step 3: user-message length guard.
	messages = applyLengthGuard(messages, p.cfg.MaxUserMessageTokens)

	// Step 4: system-prompt assembly.
	existingSystem, messages := extractSystemMessage(messages)
	assembled := AssembleSystemPrompt(existingSystem, SystemPromptOptions{
		CustomPrompt:        req.CustomSystemPrompt,
		UserMemories:        req.UserMemories,
		SandboxEnabled:      req.SandboxEnabled,
		DownloadURLTemplate: req.DownloadURLTemplate,
	})

	// Step 5: compaction.
	if p.cfg.EnableCompaction && p.compactor != nil {
		withSystem := messages
		if assembled != "" {
			withSystem = append([]models.Message{{Role: models.RoleSystem, Content: assembled}}, messages...)
		}
		result, err := p.compactor.Compact(ctx, req.ConversationID, withSystem, req.PriorSummary)
		if err != nil {
			cleanup()
			return nil, noop, fmt.Errorf("pipeline: compact: %w", err)
		}
		messages = result.Messages
		if assembled != "" && len(messages) > 0 && messages[0].Role == models.RoleSystem && messages[0].Content == assembled {
			messages = messages[1:]
		}
	}

	// Step 6: hard trim.
	messages = hardTrim(messages, req.ToolDefCount, p.cfg.MaxInputTokens)

	// Step 7: dispatch.
	completion := &agent.CompletionRequest{
		Model:     req.Model,
		System:    assembled,
		Messages:  toCompletionMessages(messages),
		MaxTokens: req.MaxTokens,
	}
	return completion, cleanup, nil
}

// extractSystemMessage pulls the first system-role message's text out of
// messages (nil if absent), returning the remaining messages unchanged.
func extractSystemMessage(messages []models.Message) (string, []models.Message) {
	for i, m := range messages {
		if m.Role == models.RoleSystem {
			rest := make([]models.Message, 0, len(messages)-1)
			rest = append(rest, messages[:i]...)
			rest = append(rest, messages[i+1:]...)
			return m.Text(), rest
		}
	}
	return "", messages
}

// toCompletionMessages flattens the canonical Message/Block shape into
// the provider-facing CompletionMessage shape: text content, image
// blocks become Attachments, tool-use/tool-result blocks become
// ToolCalls/ToolResults.
func toCompletionMessages(messages []models.Message) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(messages))
	for _, m := range messages {
		cm := agent.CompletionMessage{
			Role:    string(m.Role),
			Content: m.Text(),
		}
		for _, b := range m.Blocks {
			switch b.Type {
			case models.BlockImageRef:
				if b.ImageRef == nil {
					continue
				}
				cm.Attachments = append(cm.Attachments, models.Attachment{
					Type:     "image",
					URL:      b.ImageRef.URL,
					MimeType: b.ImageRef.MediaType,
				})
			case models.BlockToolUse:
				if b.ToolUse != nil {
					cm.ToolCalls = append(cm.ToolCalls, *b.ToolUse)
				}
			case models.BlockToolResult:
				if b.ToolResultBlock != nil {
					cm.ToolResults = append(cm.ToolResults, *b.ToolResultBlock)
				}
			}
		}
		out = append(out, cm)
	}
	return out
}
