package main

import (
	"context"

	"github.com/mkurman/synthlabs-sub004/internal/generation"
	"github.com/mkurman/synthlabs-sub004/internal/llm"
	"github.com/mkurman/synthlabs-sub004/internal/storage"
)

// llmCaller adapts the OpenAI-compatible client to the engine's Caller
// interface.
type llmCaller struct {
	client   *llm.Client
	model    string
	jsonMode bool
}

func (c *llmCaller) Invoke(ctx context.Context, messages []llm.Message, onChunk llm.ChunkFunc) (llm.Completion, error) {
	req := llm.ChatRequest{
		Model:    c.model,
		Messages: messages,
	}
	if c.jsonMode {
		req.ResponseFormat = &llm.ResponseFormat{Type: "json_object"}
	}
	if onChunk == nil {
		return c.client.Chat(ctx, req)
	}
	return c.client.ChatStream(ctx, req, onChunk)
}

// storeSink persists engine results into a session's rows. Both paths go
// through the same upsert, so retried items update in place.
type storeSink struct {
	store     *storage.Store
	sessionID string
}

func (s *storeSink) Append(r generation.Result) error {
	return s.store.SaveResult(s.toRecord(r))
}

func (s *storeSink) UpdateByID(id string, r generation.Result) error {
	r.ID = id
	return s.store.SaveResult(s.toRecord(r))
}

func (s *storeSink) MarkStatus(id, status string) error {
	return s.store.UpdateResultStatus(id, status)
}

func (s *storeSink) toRecord(r generation.Result) storage.ResultRecord {
	return storage.ResultRecord{
		ID:           r.ID,
		SessionID:    s.sessionID,
		Seq:          r.Seq,
		Status:       string(r.Status),
		Query:        r.Query,
		Reasoning:    r.Reasoning,
		Answer:       r.Answer,
		ErrorMessage: r.Err,
		DurationMs:   r.Duration.Milliseconds(),
		TokenCount:   r.TokenCount,
	}
}
