// Package api exposes the engine's observability surfaces: a small HTTP
// status API and an MCP server.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mkurman/synthlabs-sub004/internal/events"
	"github.com/mkurman/synthlabs-sub004/internal/prefetch"
	"github.com/mkurman/synthlabs-sub004/internal/storage"
)

// PoolController is the slice of the scheduler the API is allowed to touch.
type PoolController interface {
	Pause()
	Resume()
	Paused() bool
}

type StatusDeps struct {
	Store    *storage.Store
	Tracker  *events.Tracker
	Bus      *events.Bus
	Prefetch *prefetch.Manager // nil in static-seed mode
	Pool     PoolController    // nil disables the control endpoints
	Token    string            // empty disables auth
}

// NewStatusHandler builds the HTTP status API.
func NewStatusHandler(deps StatusDeps) http.Handler {
	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(bearerAuth(deps.Token))
	}

	r.Get("/health", handleHealth)
	r.Get("/v1/progress", handleProgress(deps))
	r.Get("/v1/prefetch", handlePrefetch(deps))
	r.Get("/v1/sessions", handleListSessions(deps))
	r.Get("/v1/sessions/{id}", handleGetSession(deps))
	r.Get("/v1/sessions/{id}/results", handleListResults(deps))
	r.Get("/v1/results/{id}", handleGetResult(deps))
	r.Post("/v1/control/pause", handlePause(deps, true))
	r.Post("/v1/control/resume", handlePause(deps, false))
	r.Get("/v1/events", handleEvents(deps))

	return r
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleProgress(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Tracker == nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "no batch is running")
			return
		}
		snap := deps.Tracker.Snapshot()
		counts := deps.Tracker.Counts()
		paused := false
		if deps.Pool != nil {
			paused = deps.Pool.Paused()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"progress":     snap,
			"counts":       counts,
			"failure_rate": deps.Tracker.FailureRate(),
			"paused":       paused,
		})
	}
}

func handlePrefetch(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Prefetch == nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "prefetch is not active for this run")
			return
		}
		writeJSON(w, http.StatusOK, deps.Prefetch.Snapshot())
	}
}

func handleListSessions(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit: %q", raw)
				return
			}
			limit = n
		}
		sessions, err := deps.Store.ListSessions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing sessions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
	}
}

func handleGetSession(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sess, err := deps.Store.GetSession(id)
		if err == storage.ErrNotFound {
			httpError(w, http.StatusNotFound, "invalid_request_error", "no session %s", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading session: %v", err)
			return
		}
		counts, err := deps.Store.CountByStatus(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "counting results: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "counts": counts})
	}
}

func handleListResults(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var (
			results []storage.ResultRecord
			err     error
		)
		if r.URL.Query().Get("failed") == "true" {
			results, err = deps.Store.ListFailed(id)
		} else {
			results, err = deps.Store.ListResults(id)
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing results: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

func handleGetResult(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, err := deps.Store.GetResult(id)
		if err == storage.ErrNotFound {
			httpError(w, http.StatusNotFound, "invalid_request_error", "no result %s", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading result: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": rec})
	}
}

func handlePause(deps StatusDeps, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Pool == nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "no batch is running")
			return
		}
		if pause {
			deps.Pool.Pause()
		} else {
			deps.Pool.Resume()
		}
		writeJSON(w, http.StatusOK, map[string]any{"paused": deps.Pool.Paused()})
	}
}

// handleEvents streams bus events as server-sent events until the client
// disconnects.
func handleEvents(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Bus == nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "event stream is not available")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming unsupported")
			return
		}

		ch, unsubscribe := deps.Bus.Subscribe(256)
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-ch:
				if !open {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
