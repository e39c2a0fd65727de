package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/forgegate/forgegate/internal/agent"
	"github.com/forgegate/forgegate/internal/pipeline"
)

// fakeChatProvider replays one scripted turn of completion chunks,
// mirroring internal/agent's own loop_test.go fakeProvider.
type fakeChatProvider struct {
	turn []*agent.CompletionChunk
}

func (p *fakeChatProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	out := make(chan *agent.CompletionChunk, len(p.turn))
	for _, c := range p.turn {
		out <- c
	}
	close(out)
	return out, nil
}

func (p *fakeChatProvider) Name() string          { return "fake" }
func (p *fakeChatProvider) Models() []agent.Model { return nil }
func (p *fakeChatProvider) SupportsTools() bool   { return true }

func newChatTestServer(t *testing.T) *Server {
	t.Helper()
	srv, _, dataRoot := newTestServer(t)

	provider := &fakeChatProvider{turn: []*agent.CompletionChunk{
		{Text: "hello "}, {Text: "world"}, {Done: true},
	}}
	registry := agent.NewToolRegistry()
	loop := agent.NewLoop(provider, registry, agent.LoopConfig{})
	pl := pipeline.New(pipeline.Config{
		AllowedInstances: []string{"*"},
		DataRoot:         dataRoot,
		MaxInputTokens:   8192,
	}, nil)

	srv.deps.Pipeline = pl
	srv.deps.Loop = loop
	srv.deps.ToolRegistry = registry
	return srv
}

func TestHandleChat_NonStreaming(t *testing.T) {
	srv := newChatTestServer(t)

	body := `{
		"conversation_id": "conv-1",
		"messages": [{"role": "user", "content": "hi"}],
		"config": {"model": "fake-model"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var envelope chatCompletionEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(envelope.Choices) != 1 || envelope.Choices[0].Message == nil {
		t.Fatalf("envelope = %+v, want one choice with a message", envelope)
	}
	if got := envelope.Choices[0].Message.Content; got != "hello world" {
		t.Errorf("content = %q, want %q", got, "hello world")
	}
}

func TestHandleChat_MissingFields(t *testing.T) {
	srv := newChatTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.handleChat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleChat_StreamingProducesSSE(t *testing.T) {
	srv := newChatTestServer(t)

	body := `{
		"conversation_id": "conv-2",
		"messages": [{"role": "user", "content": "hi"}],
		"config": {"model": "fake-model"},
		"stream": true
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "data:") {
		t.Errorf("expected SSE data frames, got: %s", out)
	}
	if !strings.Contains(out, "[DONE]") {
		t.Errorf("expected a terminal [DONE] marker, got: %s", out)
	}
}
