package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/runnerr0/webchronicle/internal/logging"
	"github.com/runnerr0/webchronicle/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := storage.SessionQuery{
		Limit:  pageSize(r),
		Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
	}
	if raw := r.URL.Query().Get("site_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "site_id must be a positive integer")
			return
		}
		q.SiteID = id
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	sessions, err := s.store.ListSessions(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list sessions: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get session: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get session: %v", err)
		return
	}

	events, err := s.store.ListInteractions(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list events: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"events":     events,
	})
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListVisitedSites(r.Context(), pageSize(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list sites: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get stats: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// requestLogger attaches the server logger to the request context and logs
// each API request once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithContext(r.Context(), s.logger)
		ctx = logging.WithComponent(ctx, "api")

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.FromContext(ctx).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(started)).
			Msg("request")
	})
}

func pageSize(r *http.Request) int {
	n := parseIntDefault(r.URL.Query().Get("limit"), defaultPageSize)
	if n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

func parseIntDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": strings.TrimSpace(fmt.Sprintf(format, args...)),
			"status":  status,
		},
	})
}
