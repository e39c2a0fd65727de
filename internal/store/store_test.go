package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/forgegate/forgegate/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RequestLifecycleAndCascadingDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.InsertRequest(ctx, models.RequestRecord{
		ConversationID: "conv-1",
		UserID:         "user-1",
		Model:          "claude-sonnet-4-5",
		Provider:       "anthropic",
		InputTokens:    100,
		OutputTokens:   50,
		CostUSD:        0.001,
		Status:         models.RequestCompleted,
	})
	if err != nil {
		t.Fatalf("InsertRequest: %v", err)
	}

	if err := s.InsertMessages(ctx, id, "conv-1", []models.Message{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi"},
	}); err != nil {
		t.Fatalf("InsertMessages: %v", err)
	}
	if err := s.InsertToolCalls(ctx, id, []models.ToolCallRecord{
		{ToolName: "web_search", Parameters: `{"query":"x"}`, ResultText: "ok", Success: true},
	}); err != nil {
		t.Fatalf("InsertToolCalls: %v", err)
	}

	got, err := s.GetRequest(ctx, id)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.ConversationID != "conv-1" || got.Status != models.RequestCompleted {
		t.Errorf("GetRequest = %+v, unexpected", got)
	}

	msgs, err := s.ListMessagesByConversation(ctx, "conv-1")
	if err != nil || len(msgs) != 2 {
		t.Fatalf("ListMessagesByConversation = %v, %v", msgs, err)
	}
	calls, err := s.ListToolCallsByRequest(ctx, id)
	if err != nil || len(calls) != 1 {
		t.Fatalf("ListToolCallsByRequest = %v, %v", calls, err)
	}

	// Deleting the request cascades to its messages and tool calls.
	db := s.conn()
	if _, err := db.ExecContext(ctx, `DELETE FROM requests WHERE id = $1`, id); err != nil {
		t.Fatalf("delete request: %v", err)
	}
	msgs, err = s.ListMessagesByConversation(ctx, "conv-1")
	if err != nil || len(msgs) != 0 {
		t.Errorf("messages not cascade-deleted: %v, %v", msgs, err)
	}
	calls, err = s.ListToolCallsByRequest(ctx, id)
	if err != nil || len(calls) != 0 {
		t.Errorf("tool calls not cascade-deleted: %v, %v", calls, err)
	}
}

func TestStore_GetRequest_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRequest(context.Background(), "missing")
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ConversationSummary_WatermarkNonDecreasing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertConversationSummary(ctx, models.ConversationSummary{
		ConversationID: "conv-1", SummaryText: "first", Watermark: 10, CompactionCount: 1,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// A regression in watermark must not move it backwards.
	if err := s.UpsertConversationSummary(ctx, models.ConversationSummary{
		ConversationID: "conv-1", SummaryText: "second", Watermark: 5, CompactionCount: 2,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	sum, err := s.GetConversationSummary(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sum.Watermark != 10 {
		t.Errorf("Watermark = %d, want 10 (non-decreasing)", sum.Watermark)
	}
	if sum.SummaryText != "second" {
		t.Errorf("SummaryText = %q, want the latest text", sum.SummaryText)
	}
}

func TestStore_ConversationSummary_NoneReturnsNilNoError(t *testing.T) {
	s := openTestStore(t)
	sum, err := s.GetConversationSummary(context.Background(), "no-such-conv")
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if sum != nil {
		t.Errorf("sum = %+v, want nil", sum)
	}
}

func TestStore_MemoryRepository_CRUDAndOwnership(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mem := models.UserMemory{ID: "m1", UserID: "alice", Content: "likes go", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.Insert(ctx, mem); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Get(ctx, "alice", "m1")
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if other, err := s.Get(ctx, "bob", "m1"); err != nil || other != nil {
		t.Errorf("Get by wrong owner should return nil, got %v, %v", other, err)
	}

	mem.Content = "likes rust too"
	if err := s.Update(ctx, mem); err != nil {
		t.Fatalf("Update: %v", err)
	}
	list, err := s.List(ctx, "alice")
	if err != nil || len(list) != 1 || list[0].Content != "likes rust too" {
		t.Errorf("List = %+v, %v", list, err)
	}

	if err := s.Delete(ctx, "alice", "m1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "alice", "m1"); err != ErrNotFound {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestStore_FileRecall_ContentHashDedupUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertInstance(ctx, models.FileRecallInstance{ID: "docs", DisplayName: "Docs", AccessToken: "tok"}); err != nil {
		t.Fatalf("InsertInstance: %v", err)
	}

	f := models.FileRecallFile{
		ID: "f1", InstanceID: "docs", OriginalFilename: "a.txt", StorageName: "abcd1234.txt",
		ContentSHA256: "abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234",
		Size: 10, MediaType: "text/plain", Status: models.FileRecallProcessing,
	}
	if err := s.InsertFile(ctx, f); err != nil {
		t.Fatalf("InsertFile: %v", err)
	}

	dup := f
	dup.ID = "f2"
	if err := s.InsertFile(ctx, dup); err == nil {
		t.Error("expected a unique-constraint violation for duplicate (instance, hash)")
	}

	if err := s.UpdateFileStatus(ctx, "f1", models.FileRecallReady, "upstream-1", "vec-1", ""); err != nil {
		t.Fatalf("UpdateFileStatus: %v", err)
	}
	got, err := s.GetFileByHash(ctx, "docs", f.ContentSHA256)
	if err != nil {
		t.Fatalf("GetFileByHash: %v", err)
	}
	if got.Status != models.FileRecallReady || got.UpstreamFileID != "upstream-1" {
		t.Errorf("got = %+v, unexpected", got)
	}

	if err := s.UpdateInstanceDisplayName(ctx, "docs", "Docs Renamed"); err != nil {
		t.Fatalf("UpdateInstanceDisplayName: %v", err)
	}
	renamed, err := s.GetInstance(ctx, "docs")
	if err != nil || renamed.DisplayName != "Docs Renamed" {
		t.Errorf("GetInstance after rename = %+v, %v", renamed, err)
	}
	if err := s.UpdateInstanceDisplayName(ctx, "missing", "x"); err != ErrNotFound {
		t.Errorf("UpdateInstanceDisplayName(missing) = %v, want ErrNotFound", err)
	}

	// Deleting the instance cascades to its files.
	if err := s.DeleteInstance(ctx, "docs"); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	files, err := s.ListFilesByInstance(ctx, "docs")
	if err != nil || len(files) != 0 {
		t.Errorf("files not cascade-deleted: %v, %v", files, err)
	}
}

func TestStore_SettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetSetting(ctx, "anthropic.claude-sonnet.input_price", "3.0"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	got, err := s.GetSetting(ctx, "anthropic.claude-sonnet.input_price")
	if err != nil || got != "3.0" {
		t.Fatalf("GetSetting = %q, %v", got, err)
	}

	if err := s.SetSetting(ctx, "anthropic.claude-sonnet.input_price", "3.5"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	got, _ = s.GetSetting(ctx, "anthropic.claude-sonnet.input_price")
	if got != "3.5" {
		t.Errorf("GetSetting after overwrite = %q, want 3.5", got)
	}

	if _, err := s.GetSetting(ctx, "missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Purge_RemovesOldRequests(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := models.RequestRecord{
		ConversationID: "c", UserID: "u", Model: "m", Provider: "p",
		Status: models.RequestCompleted, CreatedAt: time.Now().Add(-72 * time.Hour),
	}
	recent := old
	recent.CreatedAt = time.Now()

	if _, err := s.InsertRequest(ctx, old); err != nil {
		t.Fatalf("InsertRequest old: %v", err)
	}
	if _, err := s.InsertRequest(ctx, recent); err != nil {
		t.Fatalf("InsertRequest recent: %v", err)
	}

	n, err := s.Purge(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("Purge removed %d rows, want 1", n)
	}
}

func TestStore_Reload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertRequest(ctx, models.RequestRecord{
		ConversationID: "c", UserID: "u", Model: "m", Provider: "p", Status: models.RequestCompleted,
	}); err != nil {
		t.Fatalf("InsertRequest: %v", err)
	}
	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	reqs, err := s.ListRequestsByConversation(ctx, "c")
	if err != nil || len(reqs) != 1 {
		t.Errorf("after Reload, ListRequestsByConversation = %v, %v", reqs, err)
	}
}

func TestClassifyError_NotFoundVsOther(t *testing.T) {
	if classifyError(nil) != nil {
		t.Error("classifyError(nil) should be nil")
	}
}
