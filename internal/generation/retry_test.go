package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkurman/synthlabs-sub004/internal/llm"
)

var errTestBoom = errors.New("boom")

func TestRetryFailed_ReusesOriginalIDs(t *testing.T) {
	caller := &fakeCaller{}
	sink := newMemorySink()
	sched := NewScheduler(caller, sink, nil, nil)

	items := []WorkItem{
		{ID: "id-1", Seq: 0, Content: "first"},
		{ID: "id-2", Seq: 1, Content: "second"},
	}
	summary, err := sched.RetryFailed(context.Background(), items, nil, RetryOptions{
		Concurrency: 2,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Attempted != 2 || summary.Succeeded != 2 {
		t.Fatalf("summary = %+v", summary)
	}

	if sink.appends != 0 {
		t.Errorf("retry used Append %d times; results must update by id", sink.appends)
	}
	for _, id := range []string{"id-1", "id-2"} {
		r, ok := sink.get(id)
		if !ok {
			t.Fatalf("no record for %s", id)
		}
		if r.Status != StatusDone {
			t.Errorf("%s: status = %s", id, r.Status)
		}
	}
}

func TestRetryFailed_SecondPassUpdatesNotDuplicates(t *testing.T) {
	caller := &fakeCaller{}
	sink := newMemorySink()
	sched := NewScheduler(caller, sink, nil, nil)

	items := []WorkItem{{ID: "id-1", Seq: 0, Content: "seed"}}
	opts := RetryOptions{Concurrency: 1, Timeout: 5 * time.Second}
	if _, err := sched.RetryFailed(context.Background(), items, nil, opts); err != nil {
		t.Fatal(err)
	}
	if _, err := sched.RetryFailed(context.Background(), items, nil, opts); err != nil {
		t.Fatal(err)
	}

	sink.mu.Lock()
	records := len(sink.byID)
	sink.mu.Unlock()
	if records != 1 {
		t.Fatalf("have %d records for one id, want 1", records)
	}
}

func TestRetryFailed_SkipsValidationFailures(t *testing.T) {
	caller := &fakeCaller{}
	sink := newMemorySink()
	sched := NewScheduler(caller, sink, nil, nil)

	items := []WorkItem{
		{ID: "bad", Seq: 0, Content: "x"},
		{ID: "good", Seq: 1, Content: "y"},
	}
	priorErrs := map[string]string{
		"bad": "invalid input: row: no content field found",
	}
	summary, err := sched.RetryFailed(context.Background(), items, priorErrs, RetryOptions{
		Concurrency: 1,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 1 || summary.Attempted != 1 || summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if _, ok := sink.get("bad"); ok {
		t.Error("skipped item was written to the sink")
	}
}

func TestRetryFailed_IndependentFailuresDoNotCancelRest(t *testing.T) {
	caller := &fakeCaller{
		respond: func(call int, _ []llm.Message) (string, error) {
			if call == 1 {
				return "", errTestBoom
			}
			return "<think>r</think>a", nil
		},
	}
	sink := newMemorySink()
	sched := NewScheduler(caller, sink, nil, nil)

	items := []WorkItem{
		{ID: "a", Seq: 0, Content: "x"},
		{ID: "b", Seq: 1, Content: "y"},
		{ID: "c", Seq: 2, Content: "z"},
	}
	summary, err := sched.RetryFailed(context.Background(), items, nil, RetryOptions{
		Concurrency: 1,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRetryFailed_RetryingMarkKeepsStoredFields(t *testing.T) {
	sink := newMemorySink()
	sink.byID["id-1"] = Result{
		ID:     "id-1",
		Seq:    0,
		Status: StatusError,
		Query:  "original question",
		Err:    "boom",
	}

	caller := &fakeCaller{
		respond: func(_ int, _ []llm.Message) (string, error) {
			r, ok := sink.get("id-1")
			if !ok {
				t.Error("record vanished while retrying")
			}
			if r.Status != StatusRetrying {
				t.Errorf("mid-retry status = %s, want %s", r.Status, StatusRetrying)
			}
			if r.Query != "original question" {
				t.Errorf("mid-retry query = %q; the mark must not clobber stored fields", r.Query)
			}
			return "<think>r</think>a", nil
		},
	}
	sched := NewScheduler(caller, sink, nil, nil)

	items := []WorkItem{{ID: "id-1", Seq: 0, Content: "original question"}}
	summary, err := sched.RetryFailed(context.Background(), items, nil, RetryOptions{
		Concurrency: 1,
		Timeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if r, _ := sink.get("id-1"); r.Status != StatusDone {
		t.Errorf("final status = %s", r.Status)
	}
}
