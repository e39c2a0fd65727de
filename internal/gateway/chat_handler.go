package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/forgegate/forgegate/internal/agent"
	"github.com/forgegate/forgegate/internal/observability"
	"github.com/forgegate/forgegate/internal/pipeline"
	"github.com/forgegate/forgegate/pkg/models"
)

// chatRequest is the JSON body of POST /api/v1/chat (§6).
type chatRequest struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []models.Message  `json:"messages"`
	Config         chatRequestConfig `json:"config"`
	UserEmail      string            `json:"user_email"`
	OWUIInstance   string            `json:"owui_instance"`
	Stream         bool              `json:"stream"`
}

type chatRequestConfig struct {
	Provider            string          `json:"provider"`
	Model               string          `json:"model"`
	UseTools            bool            `json:"use_tools"`
	Tools               map[string]bool `json:"tools"`
	CustomSystemPrompt  string          `json:"custom_system_prompt"`
	EnableCompaction    bool            `json:"enable_compaction"`
	CompactionProvider  string          `json:"compaction_provider"`
	CompactionModel     string          `json:"compaction_model"`
	FileRecallInstance  string          `json:"file_recall_instance_id"`
	ToolsetAPIURL       string          `json:"toolset_api_url"`
}

// chatCompletionEnvelope mirrors the OpenAI chat-completion chunk/response
// shape (§4.10, §6): streaming chunks set Choices[0].Delta, the final
// non-streaming response sets Choices[0].Message.
type chatCompletionEnvelope struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int           `json:"index"`
	Delta        *chatDelta    `json:"delta,omitempty"`
	Message      *chatMessage  `json:"message,omitempty"`
	FinishReason string        `json:"finish_reason"`
}

type chatDelta struct {
	Content string `json:"content,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func newCompletionID() string {
	return "chatcmpl-" + ulid.Make().String()
}

// handleChat runs the full request pipeline (§4.8) and dispatches to the
// agent loop, framing the response as SSE (streaming) or a single JSON
// body (non-streaming) per §4.10/§6.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<20)).Decode(&req); err != nil {
		writeValidationError(w, "malformed request body: "+err.Error())
		return
	}
	if req.ConversationID == "" || len(req.Messages) == 0 {
		writeValidationError(w, "conversation_id and messages are required")
		return
	}

	userID := req.UserEmail
	if userID == "" {
		userID = req.ConversationID
	}

	// Carry conversation/user identity on ctx: sandbox_execute and the
	// structured logger both key off these (observability.GetSessionID
	// doubles as the sandbox-per-conversation key per §4.5).
	ctx = observability.AddSessionID(ctx, req.ConversationID)
	ctx = observability.AddUserID(ctx, userID)

	var toolDefs []string
	if req.Config.UseTools && s.deps.ToolRegistry != nil {
		for _, t := range s.deps.ToolRegistry.List() {
			toolDefs = append(toolDefs, t.Name())
		}
	}

	var userMemories []string
	if s.deps.Memory != nil {
		if mems, err := s.deps.Memory.List(ctx, userID); err == nil {
			for _, m := range mems {
				userMemories = append(userMemories, m.Content)
			}
		}
	}

	var priorSummary *models.ConversationSummary
	if s.deps.Store != nil {
		priorSummary, _ = s.deps.Store.GetConversationSummary(ctx, req.ConversationID)
	}

	completion, cleanup, err := s.deps.Pipeline.Prepare(ctx, pipeline.Request{
		ConversationID:     req.ConversationID,
		UserID:             userID,
		SourceInstance:     r.Header.Get(sourceInstanceHeader),
		Messages:           req.Messages,
		Model:              req.Config.Model,
		CustomSystemPrompt: req.Config.CustomSystemPrompt,
		UserMemories:       userMemories,
		SandboxEnabled:     req.Config.Tools["sandbox_execute"],
		PriorSummary:       priorSummary,
		ToolDefCount:       len(toolDefs),
	})
	defer cleanup()

	if err != nil {
		if err == pipeline.ErrNotAuthorizedInstance {
			http.Error(w, fmt.Sprintf(`{"error":"source instance not authorized","instance":%q}`, r.Header.Get(sourceInstanceHeader)), http.StatusForbidden)
			return
		}
		s.deps.Logger.Error(ctx, "pipeline prepare failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	chunks := s.deps.Loop.Run(ctx, completion)

	if req.Stream {
		s.streamChat(ctx, w, req.Config.Model, chunks)
		return
	}
	s.respondChat(ctx, w, req.Config.Model, chunks)
}

// streamChat frames each ResponseChunk as an SSE data event, plus named
// status/source out-of-band events, terminating with a synthetic
// finish_reason:"stop" envelope and a [DONE] marker (§4.10).
func (s *Server) streamChat(ctx context.Context, w http.ResponseWriter, model string, chunks <-chan *agent.ResponseChunk) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := newCompletionID()
	created := time.Now().Unix()
	bw := bufio.NewWriter(w)

	writeData := func(v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			return true
		}
		if _, err := fmt.Fprintf(bw, "data: %s\n\n", data); err != nil {
			return false
		}
		bw.Flush()
		flusher.Flush()
		return true
	}

	writeNamedEvent := func(event string, v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			return true
		}
		if _, err := fmt.Fprintf(bw, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return false
		}
		bw.Flush()
		flusher.Flush()
		return true
	}

	for chunk := range chunks {
		if chunk.Error != nil {
			writeData(chatCompletionEnvelope{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []chatChoice{{Index: 0, Delta: &chatDelta{Content: "[error] " + chunk.Error.Error()}, FinishReason: "error"}},
			})
			break
		}
		if chunk.Event != nil {
			if !writeNamedEvent("status", map[string]any{"description": chunk.Event.Message, "type": chunk.Event.Type}) {
				return
			}
			continue
		}
		if chunk.Artifacts != nil {
			if !writeNamedEvent("source", chunk.Artifacts) {
				return
			}
		}
		if chunk.Text == "" {
			continue
		}
		if !writeData(chatCompletionEnvelope{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
			Choices: []chatChoice{{Index: 0, Delta: &chatDelta{Content: chunk.Text}}},
		}) {
			return
		}
	}

	writeData(chatCompletionEnvelope{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []chatChoice{{Index: 0, Delta: &chatDelta{}, FinishReason: "stop"}},
	})
	fmt.Fprint(bw, "data: [DONE]\n\n")
	bw.Flush()
	flusher.Flush()
}

// respondChat accumulates the full response and writes a single
// non-streaming JSON body (§6).
func (s *Server) respondChat(ctx context.Context, w http.ResponseWriter, model string, chunks <-chan *agent.ResponseChunk) {
	var text string
	var lastErr error
	for chunk := range chunks {
		if chunk.Error != nil {
			lastErr = chunk.Error
			continue
		}
		text += chunk.Text
	}

	if lastErr != nil {
		s.deps.Logger.Error(ctx, "chat completion failed", "error", lastErr)
		http.Error(w, fmt.Sprintf(`{"error":%q}`, lastErr.Error()), http.StatusBadGateway)
		return
	}

	resp := chatCompletionEnvelope{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoice{{
			Index:        0,
			Message:      &chatMessage{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
		Usage: &chatUsage{},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.deps.Logger.Error(ctx, "chat response encode failed", "error", err)
	}
}

func writeValidationError(w http.ResponseWriter, msg string) {
	http.Error(w, fmt.Sprintf(`{"error":%q}`, msg), http.StatusBadRequest)
}

// handleProcess is the document-extraction side-channel (§4.10): out of
// core scope, it records the request and acknowledges receipt without a
// content-extraction collaborator to delegate to.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 256<<20))
	if err != nil {
		writeValidationError(w, "failed to read body")
		return
	}
	s.deps.Logger.Info(r.Context(), "process request received", "bytes", len(body))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))
}
