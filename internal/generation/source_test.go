package generation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mkurman/synthlabs-sub004/internal/dataset"
)

func TestStaticSource_ServesEachItemOnce(t *testing.T) {
	src := NewStaticSource([]string{"a", "b", "c"})

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := src.Next(context.Background())
				if err != nil {
					t.Error(err)
					return
				}
				if item == nil {
					return
				}
				mu.Lock()
				seen[item.Content]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 3 {
		t.Fatalf("saw %d distinct items, want 3", len(seen))
	}
	for content, n := range seen {
		if n != 1 {
			t.Errorf("item %q served %d times", content, n)
		}
	}
}

func TestStaticSource_PeekDoesNotConsume(t *testing.T) {
	src := NewStaticSource([]string{"a", "b", "c"})

	peeked := src.Peek(2)
	if len(peeked) != 2 || peeked[0].Content != "a" {
		t.Fatalf("peek returned %+v", peeked)
	}

	var served int
	for {
		item, _ := src.Next(context.Background())
		if item == nil {
			break
		}
		served++
	}
	if served != 3 {
		t.Errorf("served %d items after peek, want 3", served)
	}
}

func TestRowToItem_RecordUsesContentField(t *testing.T) {
	item, err := RowToItem(dataset.Row{"text": "hello", "label": 1}, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if item.Content != "hello" {
		t.Errorf("content = %q", item.Content)
	}
	if item.Row.Kind != RowKindRecord {
		t.Errorf("kind = %s", item.Row.Kind)
	}
}

func TestRowToItem_ExplicitFieldWins(t *testing.T) {
	item, err := RowToItem(dataset.Row{"text": "nope", "problem": "solve this"}, 0, "problem")
	if err != nil {
		t.Fatal(err)
	}
	if item.Content != "solve this" {
		t.Errorf("content = %q", item.Content)
	}
}

func TestRowToItem_MessagesRow(t *testing.T) {
	row := dataset.Row{"messages": []any{
		map[string]any{"role": "system", "content": "be brief"},
		map[string]any{"role": "user", "content": "hi there"},
	}}
	item, err := RowToItem(row, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if item.Row.Kind != RowKindMessages {
		t.Fatalf("kind = %s", item.Row.Kind)
	}
	if len(item.Row.Messages) != 2 {
		t.Fatalf("got %d messages", len(item.Row.Messages))
	}
	if item.Content != "hi there" {
		t.Errorf("content = %q, want last user message", item.Content)
	}
}

func TestRowToItem_MalformedRowsAreValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		row  dataset.Row
	}{
		{"no content field", dataset.Row{"label": 1}},
		{"non-string content", dataset.Row{"text": 42}},
		{"messages not a list", dataset.Row{"messages": "oops"}},
		{"message missing role", dataset.Row{"messages": []any{map[string]any{"content": "x"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := RowToItem(tc.row, 0, "")
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if IsRetryable(err) {
				t.Error("validation errors must not be retryable")
			}
		})
	}
}
