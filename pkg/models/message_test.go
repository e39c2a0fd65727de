package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestMessage_Text_PrefersContent(t *testing.T) {
	m := Message{Role: RoleUser, Content: "hello", Blocks: []Block{NewTextBlock("ignored")}}
	if got := m.Text(); got != "hello" {
		t.Errorf("Text() = %q, want %q", got, "hello")
	}
}

func TestMessage_Text_FromBlocks(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		Blocks: []Block{
			NewTextBlock("part one "),
			NewToolUseBlock(ToolCall{ID: "tc-1", Name: "web_search"}),
			NewTextBlock("part two"),
		},
	}
	if got := m.Text(); got != "part one part two" {
		t.Errorf("Text() = %q, want %q", got, "part one part two")
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := Message{
		ID:   "msg-123",
		Role: RoleAssistant,
		Blocks: []Block{
			NewTextBlock("Hello!"),
			NewImageBlock(ImageRef{URL: "https://example.com/img.png"}),
			NewToolUseBlock(ToolCall{ID: "tc-1", Name: "search", Input: json.RawMessage(`{"q":"test"}`)}),
			NewToolResultBlock(ToolResult{ToolCallID: "tc-1", Content: "result"}),
		},
		Metadata:  map[string]any{"source": "test"},
		CreatedAt: now,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, original.ID)
	}
	if len(decoded.Blocks) != 4 {
		t.Fatalf("Blocks length = %d, want 4", len(decoded.Blocks))
	}
	if decoded.Blocks[0].Type != BlockText || decoded.Blocks[0].Text != "Hello!" {
		t.Errorf("Blocks[0] = %+v, want text block %q", decoded.Blocks[0], "Hello!")
	}
	if decoded.Blocks[1].Type != BlockImageRef || decoded.Blocks[1].ImageRef == nil {
		t.Errorf("Blocks[1] = %+v, want image_ref block", decoded.Blocks[1])
	}
	if decoded.Blocks[2].Type != BlockToolUse || decoded.Blocks[2].ToolUse.Name != "search" {
		t.Errorf("Blocks[2] = %+v, want tool_use block", decoded.Blocks[2])
	}
	if decoded.Blocks[3].Type != BlockToolResult || decoded.Blocks[3].ToolResultBlock.ToolCallID != "tc-1" {
		t.Errorf("Blocks[3] = %+v, want tool_result block", decoded.Blocks[3])
	}
}

func TestAttachment_Struct(t *testing.T) {
	att := Attachment{
		ID:       "att-123",
		Type:     "image",
		URL:      "http://example.com/image.png",
		Filename: "image.png",
		MimeType: "image/png",
		Size:     1024,
	}

	if att.ID != "att-123" {
		t.Errorf("ID = %q, want %q", att.ID, "att-123")
	}
	if att.Size != 1024 {
		t.Errorf("Size = %d, want 1024", att.Size)
	}
}

func TestToolCall_Struct(t *testing.T) {
	tc := ToolCall{
		ID:    "tc-123",
		Name:  "web_search",
		Input: json.RawMessage(`{"query": "test query"}`),
	}

	if tc.ID != "tc-123" {
		t.Errorf("ID = %q, want %q", tc.ID, "tc-123")
	}
	if tc.Name != "web_search" {
		t.Errorf("Name = %q, want %q", tc.Name, "web_search")
	}
}

func TestToolResult_Struct(t *testing.T) {
	tr := ToolResult{ToolCallID: "tc-123", Content: "Search results here"}
	if tr.IsError {
		t.Error("IsError should be false")
	}

	trError := ToolResult{ToolCallID: "tc-456", Content: "Error occurred", IsError: true}
	if !trError.IsError {
		t.Error("IsError should be true")
	}
}
