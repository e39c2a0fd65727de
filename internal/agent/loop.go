package agent

import (
	"context"
	"fmt"

	"github.com/forgegate/forgegate/internal/observability"
	"github.com/forgegate/forgegate/pkg/models"
)

// DefaultMaxIterations is the default bound on Tool-Use Loop iterations (§4.4).
const DefaultMaxIterations = 5

// ErrMaxIterationsExceeded is returned when the loop exhausts its iteration
// budget without the model producing a final, tool-call-free turn.
var ErrMaxIterationsExceeded = fmt.Errorf("agent: max iterations exceeded")

// LoopConfig configures a Loop's bound and logging.
type LoopConfig struct {
	// MaxIterations bounds INVOKE/TOOL_USE cycles. <= 0 uses DefaultMaxIterations.
	MaxIterations int

	// Logger receives structured diagnostics for each iteration. Optional.
	Logger *observability.Logger

	// ToolExecConfig configures the executor used to run tool calls.
	ToolExecConfig ToolExecConfig
}

// Loop drives the bounded Tool-Use Loop state machine of §4.4:
// INVOKE -> WAIT -> (DONE | TOOL_USE -> EXECUTE_TOOLS -> INVOKE).
// It lives above the three provider adapters (Design Note 9: "the loop
// lives above them") even though each adapter runs its own internal
// per-call streaming translation.
type Loop struct {
	provider LLMProvider
	registry *ToolRegistry
	executor *ToolExecutor
	cfg      LoopConfig
}

// NewLoop builds a Loop over the given provider and tool registry.
func NewLoop(provider LLMProvider, registry *ToolRegistry, cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Loop{
		provider: provider,
		registry: registry,
		executor: NewToolExecutor(registry, cfg.ToolExecConfig),
		cfg:      cfg,
	}
}

// Run drives the loop to completion, streaming ResponseChunks on the
// returned channel. The channel is closed when the run finishes (DONE),
// fails, or exceeds MaxIterations. req.Messages is treated as the initial
// transcript; the loop appends assistant and tool-role turns to its own
// working copy as iterations proceed.
func (l *Loop) Run(ctx context.Context, req *CompletionRequest) <-chan *ResponseChunk {
	out := make(chan *ResponseChunk, 16)

	go func() {
		defer close(out)

		transcript := make([]CompletionMessage, len(req.Messages))
		copy(transcript, req.Messages)

		for iter := 0; iter < l.cfg.MaxIterations; iter++ {
			if l.cfg.Logger != nil {
				l.cfg.Logger.Debug(ctx, "agent loop iteration", "iteration", iter)
			}

			iterReq := *req
			iterReq.Messages = transcript

			chunks, err := l.provider.Complete(ctx, &iterReq)
			if err != nil {
				out <- &ResponseChunk{Error: err}
				return
			}

			var assistantText string
			var toolCalls []models.ToolCall
			var streamErr error

			for chunk := range chunks {
				if chunk.Error != nil {
					streamErr = chunk.Error
					continue
				}
				if chunk.Text != "" {
					assistantText += chunk.Text
					out <- &ResponseChunk{Text: chunk.Text}
				}
				if chunk.Thinking != "" || chunk.ThinkingStart || chunk.ThinkingEnd {
					out <- &ResponseChunk{
						Thinking:      chunk.Thinking,
						ThinkingStart: chunk.ThinkingStart,
						ThinkingEnd:   chunk.ThinkingEnd,
					}
				}
				if chunk.ToolCall != nil {
					toolCalls = append(toolCalls, *chunk.ToolCall)
					// Marker emission strictly precedes tool invocation (§5 ordering guarantee).
					out <- &ResponseChunk{Event: models.NewToolEvent(models.EventToolQueued, chunk.ToolCall.Name, chunk.ToolCall.ID)}
				}
			}

			if streamErr != nil {
				out <- &ResponseChunk{Error: streamErr}
				return
			}

			// DONE: the model produced a final turn with no tool calls.
			if len(toolCalls) == 0 {
				return
			}

			// TOOL_USE -> EXECUTE_TOOLS: sequential, declaration-order
			// execution within one assistant turn (§4.4, §9 Open Question).
			transcript = append(transcript, CompletionMessage{
				Role:      "assistant",
				Content:   assistantText,
				ToolCalls: toolCalls,
			})

			for _, c := range toolCalls {
				out <- &ResponseChunk{Event: models.NewToolEvent(models.EventToolStarted, c.Name, c.ID)}
			}

			results := l.executor.ExecuteSequentially(ctx, toolCalls)

			toolResults := make([]models.ToolResult, 0, len(results))
			for _, r := range results {
				toolResults = append(toolResults, r.Result)
				out <- &ResponseChunk{ToolResult: &r.Result}
			}

			transcript = append(transcript, CompletionMessage{
				Role:        "tool",
				ToolResults: toolResults,
			})

			// INVOKE: loop continues to the next iteration.
		}

		out <- &ResponseChunk{Error: ErrMaxIterationsExceeded}
	}()

	return out
}
