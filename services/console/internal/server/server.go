package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"shelfkeeper/internal/metrics"
	"shelfkeeper/internal/ratelimit"
	"shelfkeeper/internal/util"
	"shelfkeeper/pkg/authz"
	"shelfkeeper/pkg/inventory"
	"shelfkeeper/pkg/query"
	"shelfkeeper/services/console/internal/app"
	"shelfkeeper/services/console/internal/security"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	LoginLimiter   *ratelimit.FixedWindowLimiter
	Alerter        *security.AuditAlerter
	TrustedProxies *util.TrustedProxies
	AllowedOrigins []string
	Metrics        *metrics.Metrics
}

// Server exposes the console API.
type Server struct {
	app            *app.App
	loginLimiter   *ratelimit.FixedWindowLimiter
	alerter        *security.AuditAlerter
	trustedProxies *util.TrustedProxies
	allowedOrigins []string
	metrics        *metrics.Metrics
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:            cfg.App,
		loginLimiter:   cfg.LoginLimiter,
		alerter:        cfg.Alerter,
		trustedProxies: cfg.TrustedProxies,
		allowedOrigins: cfg.AllowedOrigins,
		metrics:        cfg.Metrics,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("console", util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.metrics.Middleware(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	// session
	s.mux.HandleFunc("/api/session", s.handleSession)
	s.mux.HandleFunc("/api/session/login", s.handleLogin)
	s.mux.HandleFunc("/api/session/logout", s.handleLogout)
	s.mux.HandleFunc("/api/routes/", s.handleRoute)

	// screens
	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/authors", s.handleAuthors)
	s.mux.HandleFunc("/api/stores", s.handleStores)
	s.mux.HandleFunc("/api/stores/", s.handleStoreInventory)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Session())
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	ip := util.ClientIP(r, s.trustedProxies)
	if d := s.loginLimiter.Allow(r.Context(), ip); !d.Allowed {
		s.audit(r, "console.login", "rate_limited")
		s.metrics.Login("rate_limited")
		w.Header().Set("Retry-After", retryAfterSeconds(d))
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "console.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	identity, err := s.app.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.audit(r, "console.login", "fail")
		s.metrics.Login("fail")
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err := s.loginLimiter.Reset(r.Context(), ip); err != nil {
		util.LoggerFromContext(r.Context()).Warn("login limiter reset failed", "err", err)
	}
	s.audit(r, "console.login", "success", "user_id", identity.ID)
	s.metrics.Login("success")
	writeJSON(w, http.StatusOK, s.app.Session())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.app.Logout(r.Context())
	s.audit(r, "console.logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

type routeResponse struct {
	Requested  string `json:"requested"`
	Route      string `json:"route"`
	Redirected bool   `json:"redirected"`
}

// /api/routes/{name}
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/routes/")
	if !authz.KnownRoute(name) {
		notFound(w, "not found")
		return
	}
	route, redirected := s.app.ResolveRoute(name)
	status := http.StatusOK
	if redirected {
		w.Header().Set("Location", "/api/routes/"+route)
		status = http.StatusSeeOther
	}
	writeJSON(w, status, routeResponse{Requested: name, Route: route, Redirected: redirected})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Books(r.Context(), query.Parse(r.URL.Query())))
}

func (s *Server) handleAuthors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Authors(r.Context(), query.Parse(r.URL.Query())))
}

func (s *Server) handleStores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Stores(r.Context(), query.Parse(r.URL.Query())))
}

// /api/stores/{id}/inventory, /api/stores/{id}/inventory/candidates,
// /api/stores/{id}/inventory/reload or /api/stores/{id}/inventory/{entryId}
func (s *Server) handleStoreInventory(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/stores/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[1] != "inventory" {
		notFound(w, "not found")
		return
	}
	storeID, ok := parseID(parts[0])
	if !ok {
		notFound(w, "not found")
		return
	}
	switch {
	case len(parts) == 2:
		s.handleInventory(w, r, storeID)
	case len(parts) == 3 && parts[2] == "candidates":
		s.handleCandidates(w, r, storeID)
	case len(parts) == 3 && parts[2] == "reload":
		s.handleReload(w, r)
	case len(parts) == 3:
		entryID, ok := parseID(parts[2])
		if !ok {
			notFound(w, "not found")
			return
		}
		s.handleEntry(w, r, storeID, entryID)
	default:
		notFound(w, "not found")
	}
}

type addEntryRequest struct {
	BookID int64    `json:"bookId"`
	Price  *float64 `json:"price"`
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request, storeID int64) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.app.Inventory(r.Context(), storeID, r.URL.Query().Get("q")))
	case http.MethodPost:
		var req addEntryRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.BookID <= 0 || req.Price == nil {
			writeError(w, http.StatusBadRequest, "bookId and price are required")
			return
		}
		entry, err := s.app.AddEntry(r.Context(), storeID, req.BookID, *req.Price)
		s.metrics.Mutation("add", mutationOutcome(err))
		if err != nil {
			s.writeInventoryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request, storeID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.app.Gate().CanMutate() {
		s.audit(r, "console.inventory", "unauthorized")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, s.app.Candidates(r.Context(), storeID, r.URL.Query().Get("q")))
}

type updateEntryRequest struct {
	Price *float64 `json:"price"`
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request, storeID, entryID int64) {
	switch r.Method {
	case http.MethodPut, http.MethodPatch:
		var req updateEntryRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Price == nil {
			writeError(w, http.StatusBadRequest, "price is required")
			return
		}
		entry, err := s.app.UpdateEntryPrice(r.Context(), storeID, entryID, *req.Price)
		s.metrics.Mutation("update", mutationOutcome(err))
		if err != nil {
			s.writeInventoryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case http.MethodDelete:
		err := s.app.RemoveEntry(r.Context(), storeID, entryID)
		s.metrics.Mutation("remove", mutationOutcome(err))
		if err != nil {
			s.writeInventoryError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.app.Gate().CanMutate() {
		s.audit(r, "console.inventory", "unauthorized")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.app.Reload()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trustedProxies)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		slog.Warn("security alert evaluation failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		slog.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

func retryAfterSeconds(d ratelimit.Decision) string {
	secs := int64(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func mutationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, inventory.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, inventory.ErrDuplicateEntry):
		return "duplicate"
	case errors.Is(err, inventory.ErrNotFound):
		return "not_found"
	case errors.Is(err, inventory.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, inventory.ErrRemote):
		return "remote_error"
	default:
		return "error"
	}
}

func (s *Server) writeInventoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, inventory.ErrUnauthorized):
		s.audit(r, "console.inventory", "unauthorized")
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, inventory.ErrDuplicateEntry):
		writeError(w, http.StatusConflict, "book already stocked in this store")
	case errors.Is(err, inventory.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, inventory.ErrInvalidPrice):
		writeError(w, http.StatusUnprocessableEntity, "invalid price")
	case errors.Is(err, inventory.ErrRemote):
		writeError(w, http.StatusBadGateway, "data source unavailable")
	default:
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
		Code:      errorCodeFor(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "invalid username or password":
		return "AUTH_INVALID_CREDENTIALS"
	case message == "too many login attempts":
		return "AUTH_RATE_LIMITED"
	case message == "unauthorized":
		return "AUTH_REQUIRED"
	case message == "book already stocked in this store":
		return "INVENTORY_DUPLICATE"
	case message == "invalid price":
		return "INVENTORY_INVALID_PRICE"
	case message == "data source unavailable":
		return "DATASOURCE_UNAVAILABLE"
	case message == "invalid json body", strings.HasSuffix(message, "required"):
		return "CONSOLE_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "CONSOLE_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_REQUIRED"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusConflict:
		return "INVENTORY_DUPLICATE"
	case http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	case http.StatusBadGateway:
		return "DATASOURCE_UNAVAILABLE"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}
