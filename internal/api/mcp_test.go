package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mkurman/synthlabs-sub004/internal/events"
	"github.com/mkurman/synthlabs-sub004/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tracker := events.NewTracker(nil)
	tracker.Start(5)

	return MCPDeps{Store: store, Tracker: tracker}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_GenerationStatus(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Tracker.ItemStarted()
	deps.Tracker.ItemFinished("done")
	handler := mcpGenerationStatus(deps)

	result, err := handler(context.Background(), makeCallToolRequest("generation_status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var status struct {
		Progress struct {
			Current int `json:"current"`
			Total   int `json:"total"`
		} `json:"progress"`
		Counts struct {
			Done int `json:"done"`
		} `json:"counts"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &status); err != nil {
		t.Fatalf("parsing status: %v", err)
	}
	if status.Progress.Current != 1 || status.Progress.Total != 5 {
		t.Errorf("progress = %+v", status.Progress)
	}
	if status.Counts.Done != 1 {
		t.Errorf("done = %d, want 1", status.Counts.Done)
	}
}

func TestMCPTool_ListFailedItems(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	if err := store.CreateSession(storage.Session{ID: "sess-1", Status: "completed", Model: "m"}); err != nil {
		t.Fatal(err)
	}
	records := []storage.ResultRecord{
		{ID: "ok", SessionID: "sess-1", Seq: 0, Status: "done"},
		{ID: "bad", SessionID: "sess-1", Seq: 1, Status: "error", Query: "q", ErrorMessage: "boom"},
		{ID: "slow", SessionID: "sess-1", Seq: 2, Status: "timeout", ErrorMessage: "Timed out after 300 seconds"},
	}
	for _, r := range records {
		if err := store.SaveResult(r); err != nil {
			t.Fatal(err)
		}
	}
	handler := mcpListFailedItems(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_failed_items", map[string]interface{}{
		"session_id": "sess-1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var items []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &items); err != nil {
		t.Fatalf("parsing items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d failed items, want 2", len(items))
	}
	for _, item := range items {
		if item.ID == "ok" {
			t.Error("done item listed as failed")
		}
	}
}

func TestMCPTool_ListFailedItems_RequiresSessionID(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpListFailedItems(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_failed_items", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing session_id")
	}
}

func TestMCPTool_ListSessions(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	for _, id := range []string{"a", "b"} {
		if err := store.CreateSession(storage.Session{ID: id, Status: "completed", Model: "m"}); err != nil {
			t.Fatal(err)
		}
	}
	handler := mcpListSessions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_sessions", map[string]interface{}{"limit": 10}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sessions []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &sessions); err != nil {
		t.Fatalf("parsing sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
}
