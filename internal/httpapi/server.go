package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/ordersync/internal/ordersync"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultOrdersPageSize = 25
	maxOrdersPageSize     = 250
)

// SyncService is the part of the orchestrator the API drives.
type SyncService interface {
	RunBoundedSync(ctx context.Context, pageLimit int) (ordersync.BoundedResult, error)
	StartFullSync(ctx context.Context) (string, error)
	ListOrders(ctx context.Context, limit, offset int) (ordersync.OrderListing, error)
}

type JobReader interface {
	Get(ctx context.Context, jobID string) (ordersync.SyncJob, error)
}

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	AllowedOrigins  []string
	// WatchInterval is how often a job watch stream polls the job record.
	WatchInterval time.Duration
	Logger        *slog.Logger
}

type Server struct {
	sync        SyncService
	jobs        JobReader
	cfg         ServerConfig
	logger      *slog.Logger
	rateLimiter *rateLimiter
	wsOrigins   []string
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(syncService SyncService, jobs JobReader) *Server {
	return NewServerWithConfig(syncService, jobs, ServerConfig{})
}

func NewServerWithConfig(syncService SyncService, jobs JobReader, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		sync:        syncService,
		jobs:        jobs,
		cfg:         cfg,
		logger:      logger,
		rateLimiter: limiter,
		wsOrigins:   originHosts(cfg.AllowedOrigins),
	}
}

// Handler wraps the server with CORS for the configured origins.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Correlation-Id"},
		ExposedHeaders:   []string{"X-Correlation-Id", "Retry-After"},
		AllowCredentials: true,
	}).Handler(s)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	w.Header().Set("X-Correlation-Id", correlationID)

	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	var requiredScope string
	var route string
	switch {
	case len(parts) == 3 && parts[1] == "sync" && parts[2] == "orders" && r.Method == http.MethodPost:
		requiredScope = ScopeSyncTrigger
		route = "sync_bounded"
	case len(parts) == 4 && parts[1] == "sync" && parts[2] == "orders" && parts[3] == "full" && r.Method == http.MethodPost:
		requiredScope = ScopeSyncTrigger
		route = "sync_full"
	case len(parts) == 4 && parts[1] == "sync" && parts[2] == "jobs" && r.Method == http.MethodGet:
		requiredScope = ScopeSyncRead
		route = "job"
	case len(parts) == 5 && parts[1] == "sync" && parts[2] == "jobs" && parts[4] == "watch" && r.Method == http.MethodGet:
		requiredScope = ScopeSyncRead
		route = "job_watch"
	case len(parts) == 2 && parts[1] == "orders" && r.Method == http.MethodGet:
		requiredScope = ScopeOrdersRead
		route = "orders"
	case len(parts) == 3 && parts[1] == "orders" && parts[2] == "all" && r.Method == http.MethodGet:
		requiredScope = ScopeOrdersRead
		route = "orders_all"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	now := time.Now().UTC()
	var (
		claims  tokenClaims
		authErr *authError
	)
	if route == "job_watch" && r.Header.Get("Authorization") == "" && r.URL.Query().Get("access_token") != "" {
		// Browsers cannot set headers on a websocket upgrade.
		claims, authErr = authorizeToken(r.URL.Query().Get("access_token"), s.cfg.JWTSecret, requiredScope, now)
	} else {
		claims, authErr = authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, requiredScope, now)
	}
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if s.rateLimiter != nil && requiredScope == ScopeSyncTrigger {
		if !s.rateLimiter.allow(claims.Subject, now) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	switch route {
	case "sync_bounded":
		s.handleBoundedSync(w, r, correlationID)
	case "sync_full":
		s.handleFullSync(w, r, claims, correlationID)
	case "job":
		s.handleJob(w, r, parts[3], correlationID)
	case "job_watch":
		s.handleJobWatch(w, r, parts[3], correlationID)
	case "orders":
		s.handleOrders(w, r, correlationID)
	case "orders_all":
		s.handleAllOrders(w, r, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) handleBoundedSync(w http.ResponseWriter, r *http.Request, correlationID string) {
	limit := parseBoundedInt(r.URL.Query().Get("limit"), ordersync.DefaultBoundedLimit, 1, ordersync.MaxPageSize)
	result, err := s.sync.RunBoundedSync(r.Context(), limit)
	if err != nil {
		s.logger.Error("bounded sync failed", "error", err, "correlation_id", correlationID)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success":       false,
			"message":       "failed to sync orders",
			"error":         err.Error(),
			"correlationId": correlationID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Synced %d orders", result.Synced),
		"synced":  result.Synced,
		"errors":  result.Errors,
	})
}

func (s *Server) handleFullSync(w http.ResponseWriter, r *http.Request, claims tokenClaims, correlationID string) {
	jobID, err := s.sync.StartFullSync(r.Context())
	if err != nil {
		s.logger.Error("start full sync failed", "error", err, "correlation_id", correlationID)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	s.logger.Info("full sync started", "job_id", jobID, "subject", claims.Subject, "correlation_id", correlationID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Full sync started",
		"jobId":   jobID,
	})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request, jobID, correlationID string) {
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.writeJobError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleJobWatch streams the job record over a websocket each time it
// changes, and closes the stream once the job is finished.
func (s *Server) handleJobWatch(w http.ResponseWriter, r *http.Request, jobID, correlationID string) {
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.writeJobError(w, err, correlationID)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.wsOrigins})
	if err != nil {
		s.logger.Warn("job watch upgrade failed", "error", err, "job_id", jobID)
		return
	}
	defer conn.CloseNow()
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(s.cfg.WatchInterval)
	defer ticker.Stop()
	var sent *ordersync.SyncJob
	for {
		if sent == nil || jobChanged(*sent, job) {
			if err := wsjson.Write(ctx, conn, job); err != nil {
				return
			}
			snapshot := job
			sent = &snapshot
		}
		if job.Status.Terminal() {
			_ = conn.Close(websocket.StatusNormalClosure, "job "+string(job.Status))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		job, err = s.jobs.Get(ctx, jobID)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("job watch lookup failed", "error", err, "job_id", jobID)
				_ = conn.Close(websocket.StatusInternalError, "job lookup failed")
			}
			return
		}
	}
}

func jobChanged(prev, next ordersync.SyncJob) bool {
	return prev.Status != next.Status ||
		!prev.LastUpdated.Equal(next.LastUpdated) ||
		prev.SyncedOrders != next.SyncedOrders ||
		prev.SkippedOrders != next.SkippedOrders ||
		prev.Errors != next.Errors
}

func (s *Server) writeJobError(w http.ResponseWriter, err error, correlationID string) {
	if errors.Is(err, ordersync.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
		return
	}
	s.logger.Error("job lookup failed", "error", err, "correlation_id", correlationID)
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request, correlationID string) {
	q := r.URL.Query()
	pageSize := parseBoundedInt(q.Get("pageSize"), defaultOrdersPageSize, 1, maxOrdersPageSize)
	offset := parseBoundedInt(q.Get("offset"), 0, 0, math.MaxInt32)
	listing, err := s.sync.ListOrders(r.Context(), pageSize, offset)
	if err != nil {
		s.writeListingError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleAllOrders(w http.ResponseWriter, r *http.Request, correlationID string) {
	listing, err := s.sync.ListOrders(r.Context(), 0, 0)
	if err != nil {
		s.writeListingError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) writeListingError(w http.ResponseWriter, err error, correlationID string) {
	s.logger.Error("list orders failed", "error", err, "correlation_id", correlationID)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success":       false,
		"count":         0,
		"orders":        []any{},
		"error":         err.Error(),
		"correlationId": correlationID,
	})
}

// getCorrelationID echoes the caller's id or allocates one.
func getCorrelationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-Id")); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}

func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		parsed, err := url.Parse(strings.TrimSpace(origin))
		if err != nil || parsed.Host == "" {
			continue
		}
		out = append(out, parsed.Host)
	}
	return out
}
