// Package memory adapts internal/memory.Store into agent.Tool
// implementations: memory_retrieve, memory_create, memory_update, and
// memory_delete (§3.5, §3.8). Each tool resolves the owning user from
// context via observability.GetUserID, mirroring internal/tools/sandbox's
// convention of keying per-request state off the request context rather
// than a constructor argument.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forgegate/forgegate/internal/agent"
	"github.com/forgegate/forgegate/internal/memory"
	"github.com/forgegate/forgegate/internal/observability"
)

// store is the slice of *memory.Store these tools depend on.
type store interface {
	List(ctx context.Context, userID string) ([]memoryRow, error)
	Create(ctx context.Context, userID, content string) (*memoryRow, error)
	Update(ctx context.Context, userID, id, content string) (*memoryRow, error)
	Delete(ctx context.Context, userID, id string) error
}

// memoryRow mirrors models.UserMemory's fields the tools actually render.
type memoryRow struct {
	ID      string
	Content string
}

// storeAdapter satisfies store against the real *memory.Store, whose
// methods return pkg/models.UserMemory rather than the narrowed memoryRow.
type storeAdapter struct{ s *memory.Store }

func (a storeAdapter) List(ctx context.Context, userID string) ([]memoryRow, error) {
	mems, err := a.s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows := make([]memoryRow, len(mems))
	for i, m := range mems {
		rows[i] = memoryRow{ID: m.ID, Content: m.Content}
	}
	return rows, nil
}

func (a storeAdapter) Create(ctx context.Context, userID, content string) (*memoryRow, error) {
	m, err := a.s.Create(ctx, userID, content)
	if err != nil {
		return nil, err
	}
	return &memoryRow{ID: m.ID, Content: m.Content}, nil
}

func (a storeAdapter) Update(ctx context.Context, userID, id, content string) (*memoryRow, error) {
	m, err := a.s.Update(ctx, userID, id, content)
	if err != nil {
		return nil, err
	}
	return &memoryRow{ID: m.ID, Content: m.Content}, nil
}

func (a storeAdapter) Delete(ctx context.Context, userID, id string) error {
	return a.s.Delete(ctx, userID, id)
}

// RetrieveTool implements memory_retrieve: lists every memory owned by the
// requesting user.
type RetrieveTool struct{ store store }

// NewRetrieveTool builds memory_retrieve over s.
func NewRetrieveTool(s *memory.Store) *RetrieveTool { return &RetrieveTool{store: storeAdapter{s}} }

func (t *RetrieveTool) Name() string { return "memory_retrieve" }

func (t *RetrieveTool) Description() string {
	return "Lists the user's saved long-term memories (facts, preferences, commitments)."
}

func (t *RetrieveTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *RetrieveTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	userID := observability.GetUserID(ctx)
	if userID == "" {
		return &agent.ToolResult{Content: "memory_retrieve: no user id in context", IsError: true}, nil
	}
	rows, err := t.store.List(ctx, userID)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if len(rows) == 0 {
		return &agent.ToolResult{Content: "no memories saved yet"}, nil
	}
	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to format memories: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(out)}, nil
}

// CreateTool implements memory_create.
type CreateTool struct{ store store }

// NewCreateTool builds memory_create over s.
func NewCreateTool(s *memory.Store) *CreateTool { return &CreateTool{store: storeAdapter{s}} }

func (t *CreateTool) Name() string { return "memory_create" }

func (t *CreateTool) Description() string {
	return "Saves a new long-term memory for the user, rejected if it would exceed their character budget."
}

func (t *CreateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"content": {"type": "string"}},
		"required": ["content"]
	}`)
}

type createParams struct {
	Content string `json:"content"`
}

func (t *CreateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID := observability.GetUserID(ctx)
	if userID == "" {
		return &agent.ToolResult{Content: "memory_create: no user id in context", IsError: true}, nil
	}
	var p createParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.Content == "" {
		return &agent.ToolResult{Content: "content must not be empty", IsError: true}, nil
	}
	row, err := t.store.Create(ctx, userID, p.Content)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("saved memory %s", row.ID)}, nil
}

// UpdateTool implements memory_update.
type UpdateTool struct{ store store }

// NewUpdateTool builds memory_update over s.
func NewUpdateTool(s *memory.Store) *UpdateTool { return &UpdateTool{store: storeAdapter{s}} }

func (t *UpdateTool) Name() string { return "memory_update" }

func (t *UpdateTool) Description() string {
	return "Replaces the content of an existing memory owned by the user."
}

func (t *UpdateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string"},
			"content": {"type": "string"}
		},
		"required": ["id", "content"]
	}`)
}

type updateParams struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (t *UpdateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID := observability.GetUserID(ctx)
	if userID == "" {
		return &agent.ToolResult{Content: "memory_update: no user id in context", IsError: true}, nil
	}
	var p updateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.ID == "" || p.Content == "" {
		return &agent.ToolResult{Content: "id and content are required", IsError: true}, nil
	}
	if _, err := t.store.Update(ctx, userID, p.ID, p.Content); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return &agent.ToolResult{Content: "memory not found", IsError: true}, nil
		}
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("updated memory %s", p.ID)}, nil
}

// DeleteTool implements memory_delete.
type DeleteTool struct{ store store }

// NewDeleteTool builds memory_delete over s.
func NewDeleteTool(s *memory.Store) *DeleteTool { return &DeleteTool{store: storeAdapter{s}} }

func (t *DeleteTool) Name() string { return "memory_delete" }

func (t *DeleteTool) Description() string {
	return "Deletes a memory owned by the user."
}

func (t *DeleteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"id": {"type": "string"}},
		"required": ["id"]
	}`)
}

type deleteParams struct {
	ID string `json:"id"`
}

func (t *DeleteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	userID := observability.GetUserID(ctx)
	if userID == "" {
		return &agent.ToolResult{Content: "memory_delete: no user id in context", IsError: true}, nil
	}
	var p deleteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.ID == "" {
		return &agent.ToolResult{Content: "id is required", IsError: true}, nil
	}
	if err := t.store.Delete(ctx, userID, p.ID); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return &agent.ToolResult{Content: "memory not found", IsError: true}, nil
		}
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("deleted memory %s", p.ID)}, nil
}
