package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"paydash/internal/health"
	"paydash/internal/telemetry"
)

// handleMonitoringHealth answers 503 only when a required dependency is down.
// A degraded report (optional analytics missing) still serves 200.
func (s *Server) handleMonitoringHealth(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Health.Run(r.Context())
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) handleMonitoringService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")
	res, ok := s.deps.Health.Service(r.Context(), name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"status":    "not_found",
			"message":   "Service '" + name + "' not found",
			"timestamp": time.Now().UTC(),
		})
		return
	}
	code := http.StatusOK
	if res.Status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	features := []string{"queue", "audit", "lifecycle", "monitoring"}
	if s.cfg.Durable() {
		features = append(features, "durable-store")
	}
	if s.deps.Analytics != nil {
		features = append(features, "metrics")
	}
	if s.deps.Limiter != nil && s.cfg.RateLimitCapacity > 0 {
		features = append(features, "rate-limit")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "Paydash Backend",
		"version":     s.version,
		"environment": s.cfg.Env,
		"mode":        s.cfg.Mode,
		"uptime":      time.Since(telemetry.StartedAt()).Seconds(),
		"timestamp":   time.Now().UTC(),
		"features":    features,
		"services":    s.deps.Health.Names(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Health.Run(r.Context())
	ready := report.Status != health.StatusUnhealthy
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ready":     ready,
		"timestamp": report.Timestamp,
		"details":   report.Checks,
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alive": true, "timestamp": time.Now().UTC()})
}

func (s *Server) metricsHandler() http.Handler {
	return telemetry.Handler()
}
