// Package generation drives batches of LLM calls that turn seed content
// into (query, reasoning, answer) triples.
package generation

import (
	"context"
	"time"

	"github.com/mkurman/synthlabs-sub004/internal/dataset"
	"github.com/mkurman/synthlabs-sub004/internal/extract"
	"github.com/mkurman/synthlabs-sub004/internal/llm"
)

// Status is the terminal state of one work item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusError    Status = "error"
	StatusTimeout  Status = "timeout"
	StatusAborted  Status = "aborted"
	StatusRetrying Status = "retrying"
)

// IsFailure reports whether the status counts toward the failure rate.
// Aborted items are cancellations, not failures.
func (s Status) IsFailure() bool {
	return s == StatusError || s == StatusTimeout
}

// RowKind discriminates the payload shapes a dataset row can take.
type RowKind string

const (
	// RowKindRecord is a plain field/value record.
	RowKindRecord RowKind = "record"
	// RowKindMessages is a chat-message sequence.
	RowKindMessages RowKind = "messages"
)

// RowPayload is a tagged variant over the known row shapes. Kind is the
// explicit discriminator; exactly one of Record/Messages is set.
type RowPayload struct {
	Kind     RowKind
	Record   dataset.Row
	Messages []llm.Message
}

// WorkItem is one unit of seed content to be turned into a generation
// result. The ID is stable across retries.
type WorkItem struct {
	ID      string
	Seq     int
	Content string
	Row     *RowPayload
}

// Result is the terminal record for one work item.
type Result struct {
	ID         string
	Seq        int
	Status     Status
	Query      string
	Reasoning  string
	Answer     string
	Turns      []extract.Turn
	Duration   time.Duration
	TokenCount int
	Err        string
}

// Caller invokes the external model with a streaming chunk sink. The
// transport itself (HTTP, SSE framing) lives behind this interface.
type Caller interface {
	Invoke(ctx context.Context, messages []llm.Message, onChunk llm.ChunkFunc) (llm.Completion, error)
}

// Sink persists results. Append and UpdateByID are idempotent on id;
// at-least-once delivery is tolerated. MarkStatus touches only the
// status of a stored record, leaving its other fields intact.
type Sink interface {
	Append(Result) error
	UpdateByID(id string, r Result) error
	MarkStatus(id, status string) error
}
