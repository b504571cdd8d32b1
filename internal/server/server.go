// Package server exposes the schema cache as a JSON-over-HTTP tool
// surface for AI-assistant clients.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dbcontext-go/dbcontext/internal/errs"
	"github.com/dbcontext-go/dbcontext/internal/logger"
	"github.com/dbcontext-go/dbcontext/internal/metadata"
)

// defaultSearchLimit bounds search responses when the client sends no
// limit; tool callers rarely want more than a page of tables at once.
const defaultSearchLimit = 20

// Server routes tool requests to a metadata.Manager.
type Server struct {
	manager *metadata.Manager
	log     *logger.Logger
}

// New creates a Server around manager.
func New(manager *metadata.Manager, log *logger.Logger) *Server {
	if log == nil {
		log = logger.New(nil)
	}
	return &Server{manager: manager, log: log}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/tables", s.handleSearchTables)
		r.Post("/tables/batch", s.handleGetTables)
		r.Get("/tables/{name}", s.handleGetTable)
		r.Get("/tables/{name}/related", s.handleRelated)
		r.Get("/columns", s.handleSearchColumns)
		r.Post("/cache/rebuild", s.handleRebuild)
		r.Get("/cache/stats", s.handleStats)
		r.Get("/vendor", s.handleVendor)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Ping(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	detail, err := s.manager.GetTable(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

// batchRequest is the body of POST /v1/tables/batch.
type batchRequest struct {
	Tables []string `json:"tables"`
}

// batchEntry is one per-name result: detail on success, error kind
// otherwise. A missing table never fails the whole batch.
type batchEntry struct {
	Detail *metadata.TableDetail `json:"detail,omitempty"`
	Error  string                `json:"error,omitempty"`
}

func (s *Server) handleGetTables(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err))
		return
	}
	if len(req.Tables) == 0 {
		s.writeError(w, errs.New(errs.ErrKindInvalidInput, "tables must not be empty"))
		return
	}

	results := s.manager.GetTables(r.Context(), req.Tables)

	// Response keys echo the caller's spelling; the cache itself keys by
	// normalized name.
	out := make(map[string]batchEntry, len(req.Tables))
	for _, name := range req.Tables {
		res, ok := results[metadata.Normalize(name)]
		if !ok {
			continue
		}
		entry := batchEntry{Detail: res.Detail}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		out[name] = entry
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tables": out})
}

func (s *Server) handleSearchTables(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	limit := parseLimit(r.URL.Query().Get("limit"), defaultSearchLimit)

	details, err := s.manager.SearchTables(r.Context(), pattern, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tables": details})
}

func (s *Server) handleSearchColumns(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	limit := parseLimit(r.URL.Query().Get("limit"), 50)

	cols, err := s.manager.SearchColumns(r.Context(), pattern, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"columns": cols})
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	related, err := s.manager.Related(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, related)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.Rebuild(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) handleVendor(w http.ResponseWriter, r *http.Request) {
	info, err := s.manager.VendorInfo(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warnf("response encoding failed: %v", err)
	}
}

// writeError maps error kinds to HTTP statuses. The response carries the
// wrapped message only; raw backend error text stays in the logs.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsNotFound(err):
		status = http.StatusNotFound
	case errs.IsInvalidInput(err):
		status = http.StatusBadRequest
	case errs.IsTimeout(err):
		status = http.StatusGatewayTimeout
	case errs.IsFetchFailed(err), errs.IsConnectionFailed(err), errs.IsQueryFailed(err):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		s.log.Errorf("request failed: %v", err)
	}

	msg := http.StatusText(status)
	var e *errs.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}
