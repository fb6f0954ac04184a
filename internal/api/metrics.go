package api

import (
	"context"
	"net/http"
	"time"

	"paydash/internal/analytics"
)

const (
	defaultLiveEvents = 20
	maxLiveEvents     = 100
	streamBreakdown   = 5
	streamRecent      = 5
)

type metricsResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// metricsUnavailable answers every metrics route when ClickHouse is not configured.
func (s *Server) metricsUnavailable(w http.ResponseWriter) bool {
	if s.deps.Analytics != nil {
		return false
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"success": false,
		"error":   "Metrics service unavailable",
		"message": "ClickHouse connection failed",
	})
	return true
}

// serveMetric runs one analytics read and writes the standard envelope.
func serveMetric[T any](s *Server, w http.ResponseWriter, r *http.Request, what string, load func(ctx context.Context) (T, error)) {
	if s.metricsUnavailable(w) {
		return
	}
	ctx, cancel := s.storeCtx(r)
	defer cancel()

	data, err := load(ctx)
	if err != nil {
		s.writeError(w, r, "Failed to fetch "+what, err)
		return
	}
	writeJSON(w, http.StatusOK, metricsResponse{Success: true, Data: data, Timestamp: time.Now().UTC()})
}

func (s *Server) handleTodaySummary(w http.ResponseWriter, r *http.Request) {
	serveMetric(s, w, r, "today summary", func(ctx context.Context) (analytics.TodaySummary, error) {
		return s.deps.Analytics.TodaySummary(ctx)
	})
}

func (s *Server) handleCompanyBreakdown(w http.ResponseWriter, r *http.Request) {
	serveMetric(s, w, r, "company breakdown", func(ctx context.Context) ([]analytics.CompanyBreakdown, error) {
		return s.deps.Analytics.CompanyBreakdown(ctx)
	})
}

func (s *Server) handleHourlyTrends(w http.ResponseWriter, r *http.Request) {
	serveMetric(s, w, r, "hourly trends", func(ctx context.Context) ([]analytics.HourlyTrend, error) {
		return s.deps.Analytics.HourlyTrends(ctx)
	})
}

func (s *Server) handleLiveEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultLiveEvents, maxLiveEvents)
	serveMetric(s, w, r, "live events", func(ctx context.Context) ([]analytics.RecentEvent, error) {
		return s.deps.Analytics.RecentEvents(ctx, limit)
	})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	serveMetric(s, w, r, "performance metrics", func(ctx context.Context) (analytics.PerformanceMetrics, error) {
		return s.deps.Analytics.Performance(ctx)
	})
}

type metricsHealth struct {
	Status              string    `json:"status"`
	ClickHouseConnected bool      `json:"clickhouse_connected"`
	TotalEvents         int64     `json:"total_events"`
	LastCheck           time.Time `json:"last_check"`
	Error               string    `json:"error,omitempty"`
}

func (s *Server) handleMetricsHealth(w http.ResponseWriter, r *http.Request) {
	if s.metricsUnavailable(w) {
		return
	}
	ctx, cancel := s.storeCtx(r)
	defer cancel()

	h := metricsHealth{Status: "healthy", ClickHouseConnected: true, LastCheck: time.Now().UTC()}
	n, err := s.deps.Analytics.EventCount(ctx)
	if err != nil {
		s.log.WithError(err).Warn("metrics health check failed")
		h.Status = "unhealthy"
		h.ClickHouseConnected = false
		h.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, metricsResponse{Success: false, Data: h, Timestamp: h.LastCheck})
		return
	}
	h.TotalEvents = n
	writeJSON(w, http.StatusOK, metricsResponse{Success: true, Data: h, Timestamp: h.LastCheck})
}

type metricsEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
}

type metricsSnapshot struct {
	Summary   analytics.TodaySummary       `json:"summary"`
	Breakdown []analytics.CompanyBreakdown `json:"breakdown"`
	Recent    []analytics.RecentEvent      `json:"recent"`
}

func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	if s.metricsUnavailable(w) {
		return
	}
	connected := metricsEvent{Type: "connected", Timestamp: time.Now().UTC()}
	s.stream(w, r, "metrics", s.cfg.MetricsStreamInterval, connected, func(ctx context.Context) any {
		snap, err := s.metricsSnapshot(ctx)
		if err != nil {
			s.log.WithError(err).Error("metrics stream tick failed")
			return metricsEvent{Type: "error", Timestamp: time.Now().UTC(), Message: "Failed to fetch metrics"}
		}
		return metricsEvent{Type: "metrics-update", Timestamp: time.Now().UTC(), Data: snap}
	})
}

func (s *Server) metricsSnapshot(ctx context.Context) (metricsSnapshot, error) {
	summary, err := s.deps.Analytics.TodaySummary(ctx)
	if err != nil {
		return metricsSnapshot{}, err
	}
	breakdown, err := s.deps.Analytics.CompanyBreakdown(ctx)
	if err != nil {
		return metricsSnapshot{}, err
	}
	if len(breakdown) > streamBreakdown {
		breakdown = breakdown[:streamBreakdown]
	}
	recent, err := s.deps.Analytics.RecentEvents(ctx, streamRecent)
	if err != nil {
		return metricsSnapshot{}, err
	}
	return metricsSnapshot{Summary: summary, Breakdown: nonNil(breakdown), Recent: nonNil(recent)}, nil
}
