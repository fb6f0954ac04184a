package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once      sync.Once
	startedAt = time.Now()

	ObjectsCreated   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "paydash_objects_created_total", Help: "Queue objects created"}, []string{"type"})
	Transitions      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "paydash_transitions_total", Help: "Status transitions applied"}, []string{"from", "to"})
	DriverErrors     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "paydash_driver_errors_total", Help: "Synthetic driver ticks that failed"}, []string{"timer"})
	WriteErrors      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "paydash_store_write_errors_total", Help: "Failed writes by store"}, []string{"store"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "paydash_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	SSEClients       = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "paydash_sse_clients", Help: "Connected stream clients"}, []string{"stream"})
	HTTPRequests     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "paydash_http_requests_total", Help: "HTTP requests served"}, []string{"route", "code"})
	HealthStatus     = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "paydash_dependency_up", Help: "1 when a dependency check passes"}, []string{"service"})
	Uptime           = prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "paydash_uptime_seconds", Help: "Seconds since process start"}, func() float64 {
		return time.Since(startedAt).Seconds()
	})
)

// Register adds all collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ObjectsCreated,
			Transitions,
			DriverErrors,
			WriteErrors,
			RateLimitRejects,
			SSEClients,
			HTTPRequests,
			HealthStatus,
			Uptime,
		)
	})
}

// Handler exposes the Prometheus text exposition with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// StartedAt reports process start time.
func StartedAt() time.Time {
	return startedAt
}
