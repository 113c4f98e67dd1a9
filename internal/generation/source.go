package generation

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mkurman/synthlabs-sub004/internal/dataset"
	"github.com/mkurman/synthlabs-sub004/internal/llm"
	"github.com/mkurman/synthlabs-sub004/internal/prefetch"
)

// WorkSource hands out work items to the pool. Next returns (nil, nil)
// when no more work is available.
type WorkSource interface {
	Next(ctx context.Context) (*WorkItem, error)
}

// StaticSource serves a fixed, pre-loaded slice of seeds. Safe for
// concurrent Next calls.
type StaticSource struct {
	items []WorkItem
	next  atomic.Int64
}

// NewStaticSource builds a source from raw seed strings. Each seed gets a
// fresh stable id.
func NewStaticSource(seeds []string) *StaticSource {
	items := make([]WorkItem, len(seeds))
	for i, s := range seeds {
		items[i] = WorkItem{
			ID:      uuid.New().String(),
			Seq:     i,
			Content: s,
		}
	}
	return &StaticSource{items: items}
}

// Next pops the next item, or (nil, nil) when exhausted.
func (s *StaticSource) Next(_ context.Context) (*WorkItem, error) {
	idx := s.next.Add(1) - 1
	if int(idx) >= len(s.items) {
		return nil, nil
	}
	item := s.items[idx]
	return &item, nil
}

// Peek returns up to n items without consuming them. The auto-router
// samples from here before the batch starts.
func (s *StaticSource) Peek(n int) []WorkItem {
	if n > len(s.items) {
		n = len(s.items)
	}
	out := make([]WorkItem, n)
	copy(out, s.items[:n])
	return out
}

// Len reports the total number of items the source will serve.
func (s *StaticSource) Len() int { return len(s.items) }

// DatasetSource pulls rows through a prefetch manager and converts them to
// work items.
type DatasetSource struct {
	mgr *prefetch.Manager
	// ContentField names the record field holding the seed text. Empty
	// falls back through the common candidates.
	ContentField string

	seq atomic.Int64
}

// NewDatasetSource wraps a prefetch manager.
func NewDatasetSource(mgr *prefetch.Manager, contentField string) *DatasetSource {
	return &DatasetSource{mgr: mgr, ContentField: contentField}
}

// contentFieldCandidates are tried in order when no field is configured.
var contentFieldCandidates = []string{"text", "content", "question", "prompt", "instruction", "input"}

// Next blocks on the prefetch buffer and converts the delivered row.
func (d *DatasetSource) Next(ctx context.Context) (*WorkItem, error) {
	row, err := d.mgr.Next(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	seq := int(d.seq.Add(1) - 1)
	return RowToItem(row, seq, d.ContentField)
}

// RowToItem classifies a raw row into the tagged payload shapes. A row
// with a "messages" list becomes a chat continuation; anything else is a
// record whose content field seeds the prompt.
func RowToItem(row dataset.Row, seq int, contentField string) (*WorkItem, error) {
	item := &WorkItem{
		ID:  uuid.New().String(),
		Seq: seq,
	}

	if raw, ok := row["messages"]; ok {
		msgs, err := coerceMessages(raw)
		if err != nil {
			return nil, &ValidationError{Field: "messages", Reason: err.Error()}
		}
		item.Row = &RowPayload{Kind: RowKindMessages, Messages: msgs}
		// Seed content for messages rows is the last user message.
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == "user" {
				item.Content = msgs[i].Content
				break
			}
		}
		return item, nil
	}

	content, err := recordContent(row, contentField)
	if err != nil {
		return nil, err
	}
	item.Content = content
	item.Row = &RowPayload{Kind: RowKindRecord, Record: row}
	return item, nil
}

func recordContent(row dataset.Row, field string) (string, error) {
	candidates := contentFieldCandidates
	if field != "" {
		candidates = []string{field}
	}
	for _, name := range candidates {
		if v, ok := row[name]; ok {
			s, ok := v.(string)
			if !ok {
				return "", &ValidationError{Field: name, Reason: fmt.Sprintf("expected string, got %T", v)}
			}
			return s, nil
		}
	}
	return "", &ValidationError{Field: "row", Reason: "no content field found"}
}

func coerceMessages(raw any) ([]llm.Message, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", raw)
	}
	msgs := make([]llm.Message, 0, len(list))
	for i, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("message %d: expected object, got %T", i, entry)
		}
		role, _ := obj["role"].(string)
		content, _ := obj["content"].(string)
		if role == "" {
			return nil, fmt.Errorf("message %d: missing role", i)
		}
		msgs = append(msgs, llm.Message{Role: role, Content: content})
	}
	return msgs, nil
}
