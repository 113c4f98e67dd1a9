package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(t *testing.T, s *Store) Session {
	t.Helper()
	sess := Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Model:     "test-model",
		Total:     10,
	}
	if err := s.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func TestMigrationsApply(t *testing.T) {
	s := openTestStore(t)
	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n); err != nil {
		t.Fatalf("querying schema_version: %v", err)
	}
	if n == 0 {
		t.Fatal("no migrations recorded")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	sess := newTestSession(t, s)

	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Model != "test-model" || got.Total != 10 {
		t.Errorf("got %+v", got)
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want running (default)", got.Status)
	}

	if err := s.UpdateSessionStatus(sess.ID, "completed"); err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}
	got, _ = s.GetSession(sess.ID)
	if got.Status != "completed" {
		t.Errorf("Status = %q after update", got.Status)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSession("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveResult_UpsertIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	sess := newTestSession(t, s)

	rec := ResultRecord{
		ID:           "item-1",
		SessionID:    sess.ID,
		Seq:          0,
		Status:       "error",
		Query:        "what is 2+2",
		ErrorMessage: "connection reset",
	}
	if err := s.SaveResult(rec); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	// Retry with the same id succeeds: the row is updated, not duplicated.
	rec.Status = "done"
	rec.Reasoning = "add the numbers"
	rec.Answer = "4"
	rec.ErrorMessage = ""
	if err := s.SaveResult(rec); err != nil {
		t.Fatalf("SaveResult (retry): %v", err)
	}

	results, err := s.ListResults(sess.ID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d rows for retried id, want 1", len(results))
	}
	got := results[0]
	if got.Status != "done" || got.Answer != "4" || got.ErrorMessage != "" {
		t.Errorf("got %+v", got)
	}
}

func TestListFailed_ExcludesAborted(t *testing.T) {
	s := openTestStore(t)
	sess := newTestSession(t, s)

	for i, status := range []string{"done", "error", "timeout", "aborted"} {
		rec := ResultRecord{
			ID:        uuid.New().String(),
			SessionID: sess.ID,
			Seq:       i,
			Status:    status,
		}
		if err := s.SaveResult(rec); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}

	failed, err := s.ListFailed(sess.ID)
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("got %d failed rows, want 2 (error + timeout)", len(failed))
	}
	for _, f := range failed {
		if f.Status != "error" && f.Status != "timeout" {
			t.Errorf("unexpected status %q in failed list", f.Status)
		}
	}
}

func TestCountByStatus(t *testing.T) {
	s := openTestStore(t)
	sess := newTestSession(t, s)

	for i, status := range []string{"done", "done", "error"} {
		if err := s.SaveResult(ResultRecord{ID: uuid.New().String(), SessionID: sess.ID, Seq: i, Status: status}); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}

	counts, err := s.CountByStatus(sess.ID)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts["done"] != 2 || counts["error"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestUpdateResultStatus(t *testing.T) {
	s := openTestStore(t)
	sess := newTestSession(t, s)

	if err := s.SaveResult(ResultRecord{ID: "r1", SessionID: sess.ID, Status: "timeout"}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := s.UpdateResultStatus("r1", "retrying"); err != nil {
		t.Fatalf("UpdateResultStatus: %v", err)
	}
	got, err := s.GetResult("r1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.Status != "retrying" {
		t.Errorf("Status = %q", got.Status)
	}

	if err := s.UpdateResultStatus("missing", "done"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
