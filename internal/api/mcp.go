package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mkurman/synthlabs-sub004/internal/events"
	"github.com/mkurman/synthlabs-sub004/internal/prefetch"
	"github.com/mkurman/synthlabs-sub004/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Tracker  *events.Tracker
	Prefetch *prefetch.Manager // optional
}

// NewMCPServer creates an MCP server exposing the batch status and result
// inspection tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"synthgen",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("synthgen — batched synthetic data generation. Inspect running batches, sessions, and failed items."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generation_status",
			mcp.WithDescription("Report the current batch's progress: items done, failures, timeouts, and the prefetch buffer state if a dataset source is in use."),
		),
		mcpGenerationStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List recent generation sessions."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default 10)")),
		),
		mcpListSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("list_failed_items",
			mcp.WithDescription("List the failed (error or timeout) items of a session, with their error messages."),
			mcp.WithString("session_id", mcp.Description("Session to inspect"), mcp.Required()),
		),
		mcpListFailedItems(deps),
	)

	return s
}

func mcpGenerationStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Tracker == nil {
			return mcpText("no batch is running"), nil
		}

		out := map[string]any{
			"progress":     deps.Tracker.Snapshot(),
			"counts":       deps.Tracker.Counts(),
			"failure_rate": deps.Tracker.FailureRate(),
		}
		if deps.Prefetch != nil {
			out["prefetch"] = deps.Prefetch.Snapshot()
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		sessions, err := deps.Store.ListSessions(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing sessions failed: %v", err)), nil
		}

		type sessionResult struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Model    string `json:"model"`
			TaskType string `json:"task_type,omitempty"`
			Total    int    `json:"total"`
			Created  string `json:"created_at"`
		}
		out := make([]sessionResult, len(sessions))
		for i, sess := range sessions {
			out[i] = sessionResult{
				ID:       sess.ID,
				Status:   sess.Status,
				Model:    sess.Model,
				TaskType: sess.TaskType,
				Total:    sess.Total,
				Created:  sess.CreatedAt.Format("2006-01-02 15:04:05"),
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListFailedItems(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		failed, err := deps.Store.ListFailed(sessionID)
		if err != nil {
			return mcpError(fmt.Sprintf("listing failed items: %v", err)), nil
		}
		if len(failed) == 0 {
			return mcpText("[]"), nil
		}

		type failedResult struct {
			ID      string `json:"id"`
			Seq     int    `json:"seq"`
			Status  string `json:"status"`
			Query   string `json:"query"`
			Error   string `json:"error"`
			Elapsed int64  `json:"duration_ms"`
		}
		out := make([]failedResult, len(failed))
		for i, r := range failed {
			out[i] = failedResult{
				ID:      r.ID,
				Seq:     r.Seq,
				Status:  r.Status,
				Query:   r.Query,
				Error:   r.ErrorMessage,
				Elapsed: r.DurationMs,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal items: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
