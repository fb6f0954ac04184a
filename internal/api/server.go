package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"paydash/internal/analytics"
	"paydash/internal/config"
	"paydash/internal/health"
	"paydash/internal/logging"
	"paydash/internal/models"
	"paydash/internal/ratelimit"
)

// QueueView serves the reconciled queue.
type QueueView interface {
	View(ctx context.Context, limit int) ([]models.QueueObject, error)
	Stats(ctx context.Context) (models.QueueStats, error)
}

// QueueClearer wipes the fast store.
type QueueClearer interface {
	Clear(ctx context.Context) error
}

// AuditReader answers audit queries.
type AuditReader interface {
	ForObject(ctx context.Context, objectType, objectID string, limit int) ([]models.AuditEntry, error)
	Recent(ctx context.Context, limit int) ([]models.AuditEntry, error)
	ByParent(ctx context.Context, parentID string, limit int) ([]models.AuditEntry, error)
	ItemStats(ctx context.Context, parentID string) (models.ItemAuditStats, error)
}

// Analytics is the metrics store read surface.
type Analytics interface {
	Ping(ctx context.Context) error
	TodaySummary(ctx context.Context) (analytics.TodaySummary, error)
	CompanyBreakdown(ctx context.Context) ([]analytics.CompanyBreakdown, error)
	HourlyTrends(ctx context.Context) ([]analytics.HourlyTrend, error)
	RecentEvents(ctx context.Context, limit int) ([]analytics.RecentEvent, error)
	Performance(ctx context.Context) (analytics.PerformanceMetrics, error)
	EventCount(ctx context.Context) (int64, error)
}

// Deps are the collaborators behind the HTTP surface. Analytics and Limiter may be nil.
type Deps struct {
	Queue     QueueView
	Clearer   QueueClearer
	Audit     AuditReader
	Analytics Analytics
	Health    *health.Checker
	Limiter   *ratelimit.TokenBucket
}

// Server wires HTTP handlers for the dashboard API.
type Server struct {
	cfg     config.Config
	deps    Deps
	log     *logrus.Entry
	version string
}

// New constructs the API server.
func New(cfg config.Config, deps Deps, version string) *Server {
	return &Server{
		cfg:     cfg,
		deps:    deps,
		log:     logging.Component("api"),
		version: version,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "OK", "timestamp": time.Now().UTC()})
	})

	r.Route("/api", func(r chi.Router) {
		if s.deps.Limiter != nil && s.cfg.RateLimitCapacity > 0 {
			r.Use(s.deps.Limiter.Middleware(s.log))
		}

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.handleQueue)
			r.Get("/stats", s.handleQueueStats)
			r.Delete("/clear", s.handleQueueClear)
			r.Get("/stream", s.handleQueueStream)
			r.Get("/stats/stream", s.handleQueueStatsStream)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", s.handleAuditRecent)
			r.Get("/stream", s.handleAuditStream)
			r.Get("/object/{objectType}/{objectId}", s.handleAuditObject)
			r.Get("/items/parent/{parentId}", s.handleAuditItems)
			r.Get("/items/parent/{parentId}/stats", s.handleAuditItemStats)
		})

		r.Route("/metrics", func(r chi.Router) {
			r.Get("/today-summary", s.handleTodaySummary)
			r.Get("/company-breakdown", s.handleCompanyBreakdown)
			r.Get("/hourly-trends", s.handleHourlyTrends)
			r.Get("/live-events", s.handleLiveEvents)
			r.Get("/performance", s.handlePerformance)
			r.Get("/health", s.handleMetricsHealth)
			r.Get("/stream", s.handleMetricsStream)
		})

		r.Route("/monitoring", func(r chi.Router) {
			r.Get("/health", s.handleMonitoringHealth)
			r.Get("/health/{service}", s.handleMonitoringService)
			r.Get("/info", s.handleInfo)
			r.Get("/readiness", s.handleReadiness)
			r.Get("/liveness", s.handleLiveness)
			r.Handle("/metrics", s.metricsHandler())
		})

		r.Get("/lifecycle", s.handleLifecycle)

		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusNotFound, errorBody{Message: "API route not found", Error: CodeNotFound})
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{Message: "Method not allowed", Error: CodeMethodNotAllowed})
		})
	})

	r.NotFound(s.handleStatic)
	return r
}

// storeCtx bounds a single store call so a dead dependency cannot hang a request.
func (s *Server) storeCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
}

// handleStatic serves the built dashboard with an index.html fallback for client-side routes.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if s.cfg.StaticDir == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Message: "Not found", Error: CodeNotFound})
		return
	}
	root := filepath.Clean(s.cfg.StaticDir)
	path := filepath.Join(root, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		http.ServeFile(w, r, path)
		return
	}
	http.ServeFile(w, r, filepath.Join(root, "index.html"))
}

// cors allows the configured dashboard origins.
func (s *Server) cors(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.cfg.CORSOrigins))
	for _, o := range s.cfg.CORSOrigins {
		allowed[strings.TrimSpace(o)] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Cache-Control")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// queryLimit reads ?limit=, falling back to def when absent or unparsable and clamping to max.
func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		n = def
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
