package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestUserMemory_Struct(t *testing.T) {
	now := time.Now()
	mem := UserMemory{
		ID:        "mem-123",
		UserID:    "user-456",
		Content:   "prefers dark mode",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if mem.ID != "mem-123" {
		t.Errorf("ID = %q, want %q", mem.ID, "mem-123")
	}
	if mem.UserID != "user-456" {
		t.Errorf("UserID = %q, want %q", mem.UserID, "user-456")
	}
}

func TestUserMemory_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := UserMemory{
		ID:        "mem-123",
		UserID:    "user-456",
		Content:   "prefers dark mode",
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded UserMemory
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, original.ID)
	}
	if decoded.Content != original.Content {
		t.Errorf("Content = %q, want %q", decoded.Content, original.Content)
	}
}
