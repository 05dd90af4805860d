package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shelfkeeper/internal/metrics"
	"shelfkeeper/internal/util"
	"shelfkeeper/pkg/datasource"
	"shelfkeeper/pkg/domain"
	"shelfkeeper/pkg/events"
	"shelfkeeper/pkg/query"
	"shelfkeeper/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store           store.Store
	Publisher       events.Publisher
	DefaultPageSize int
	AllowedOrigins  []string
	Metrics         *metrics.Metrics
}

// Server exposes json-server shaped collections.
type Server struct {
	store          store.Store
	publisher      events.Publisher
	pageSize       int
	allowedOrigins []string
	metrics        *metrics.Metrics
	mux            *http.ServeMux
	now            func() time.Time
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	pageSize := cfg.DefaultPageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	s := &Server{
		store:          cfg.Store,
		publisher:      cfg.Publisher,
		pageSize:       pageSize,
		allowedOrigins: cfg.AllowedOrigins,
		metrics:        cfg.Metrics,
		mux:            http.NewServeMux(),
		now:            time.Now,
	}
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
	s.mux.HandleFunc("/", s.handleCollection)
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("catalog", util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.metrics.Middleware(s.mux)))))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// /{resource} or /{resource}/{id}
func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	resource := parts[0]
	if resource == "" || len(parts) > 2 || !datasource.ValidResource(resource) {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleList(w, r, resource)
		case http.MethodPost:
			s.handleCreate(w, r, resource)
		default:
			methodNotAllowed(w)
		}
		return
	}

	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		rec, err := s.store.Get(r.Context(), resource, id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut, http.MethodPatch:
		body, ok := decodeRecord(w, r)
		if !ok {
			return
		}
		var rec domain.Record
		if r.Method == http.MethodPut {
			rec, err = s.store.Replace(r.Context(), resource, id, body)
		} else {
			rec, err = s.store.Patch(r.Context(), resource, id, body)
		}
		if err != nil {
			writeStoreError(w, err)
			return
		}
		s.publish(r.Context(), resource, id, domain.OpUpdate)
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		if err := s.store.Delete(r.Context(), resource, id); err != nil {
			writeStoreError(w, err)
			return
		}
		s.publish(r.Context(), resource, id, domain.OpDelete)
		writeJSON(w, http.StatusOK, map[string]any{})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, resource string) {
	q := query.Parse(r.URL.Query())
	if q.Page > 0 && q.Limit <= 0 {
		q.Limit = s.pageSize
	}
	records, err := s.store.List(r.Context(), resource)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	page, total := q.Apply(records)
	if q.Limit > 0 {
		w.Header().Set("X-Total-Count", strconv.Itoa(total))
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, resource string) {
	body, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	rec, err := s.store.Create(r.Context(), resource, body)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	id, _ := query.ID(rec)
	s.publish(r.Context(), resource, id, domain.OpCreate)
	writeJSON(w, http.StatusCreated, rec)
}

// publish announces an accepted write. Delivery failures never fail the write.
func (s *Server) publish(ctx context.Context, resource string, id int64, op domain.ChangeOp) {
	change := domain.Change{Resource: resource, ID: id, Op: op, At: s.now().UTC()}
	s.metrics.Change(resource, string(op))
	if err := s.publisher.Publish(ctx, change); err != nil {
		util.LoggerFromContext(ctx).Warn("change publish failed", "resource", resource, "id", id, "op", op, "err", err)
	}
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (domain.Record, bool) {
	var rec domain.Record
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&rec); err != nil || rec == nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	return rec, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		notFound(w, "not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "duplicate id")
	case errors.Is(err, store.ErrInvalid):
		writeError(w, http.StatusBadRequest, "invalid record")
	default:
		slog.Error("store failure", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "CATALOG_INVALID_RECORD"
	case http.StatusNotFound:
		return "CATALOG_NOT_FOUND"
	case http.StatusConflict:
		return "CATALOG_DUPLICATE_ID"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}
