package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mkurman/synthlabs-sub004/internal/events"
	"github.com/mkurman/synthlabs-sub004/internal/storage"
)

type fakePool struct {
	paused atomic.Bool
}

func (f *fakePool) Pause()       { f.paused.Store(true) }
func (f *fakePool) Resume()      { f.paused.Store(false) }
func (f *fakePool) Paused() bool { return f.paused.Load() }

func newTestStatusDeps(t *testing.T) (StatusDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tracker := events.NewTracker(nil)
	tracker.Start(10)

	return StatusDeps{
		Store:   store,
		Tracker: tracker,
		Pool:    &fakePool{},
	}, store
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	deps, _ := newTestStatusDeps(t)
	h := NewStatusHandler(deps)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestProgress(t *testing.T) {
	deps, _ := newTestStatusDeps(t)
	deps.Tracker.ItemStarted()
	deps.Tracker.ItemFinished("done")
	deps.Tracker.ItemStarted()
	deps.Tracker.ItemFinished("error")
	h := NewStatusHandler(deps)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	progress := body["progress"].(map[string]any)
	if progress["current"].(float64) != 2 {
		t.Errorf("current = %v, want 2", progress["current"])
	}
	if body["failure_rate"].(float64) != 0.5 {
		t.Errorf("failure_rate = %v, want 0.5", body["failure_rate"])
	}
}

func TestPrefetch_NotActive(t *testing.T) {
	deps, _ := newTestStatusDeps(t)
	h := NewStatusHandler(deps)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/prefetch", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSessionsAndResults(t *testing.T) {
	deps, store := newTestStatusDeps(t)
	sess := storage.Session{ID: "sess-1", CreatedAt: time.Now().UTC(), Status: "running", Model: "m", Total: 2}
	if err := store.CreateSession(sess); err != nil {
		t.Fatal(err)
	}
	records := []storage.ResultRecord{
		{ID: "r1", SessionID: "sess-1", Seq: 0, Status: "done", Answer: "a"},
		{ID: "r2", SessionID: "sess-1", Seq: 1, Status: "timeout", ErrorMessage: "Timed out after 300 seconds"},
	}
	for _, rec := range records {
		if err := store.SaveResult(rec); err != nil {
			t.Fatal(err)
		}
	}
	h := NewStatusHandler(deps)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/sess-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get session: status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	counts := body["counts"].(map[string]any)
	if counts["done"].(float64) != 1 || counts["timeout"].(float64) != 1 {
		t.Errorf("counts = %v", counts)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/sess-1/results?failed=true", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: status = %d", rec.Code)
	}
	results := decodeBody(t, rec)["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("got %d failed results, want 1", len(results))
	}
}

func TestGetSession_NotFound(t *testing.T) {
	deps, _ := newTestStatusDeps(t)
	h := NewStatusHandler(deps)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPauseResume(t *testing.T) {
	deps, _ := newTestStatusDeps(t)
	h := NewStatusHandler(deps)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/control/pause", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: status = %d", rec.Code)
	}
	if !deps.Pool.Paused() {
		t.Error("pool not paused after pause call")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/control/resume", nil))
	if deps.Pool.Paused() {
		t.Error("pool still paused after resume call")
	}
}

func TestBearerAuth(t *testing.T) {
	deps, _ := newTestStatusDeps(t)
	deps.Token = "secret"
	h := NewStatusHandler(deps)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token: status = %d, want 200", rec.Code)
	}
}

func TestGetResult(t *testing.T) {
	deps, store := newTestStatusDeps(t)
	sess := storage.Session{ID: "sess-1", CreatedAt: time.Now().UTC(), Status: "running", Model: "m", Total: 1}
	if err := store.CreateSession(sess); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveResult(storage.ResultRecord{
		ID: "r1", SessionID: "sess-1", Seq: 0, Status: "done", Query: "q", Answer: "a",
	}); err != nil {
		t.Fatal(err)
	}
	h := NewStatusHandler(deps)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/results/r1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	result := decodeBody(t, rec)["result"].(map[string]any)
	if result["Answer"] != "a" {
		t.Errorf("result = %v", result)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/results/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d for missing result", rec.Code)
	}
}
