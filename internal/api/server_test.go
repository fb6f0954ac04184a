package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paydash/internal/analytics"
	"paydash/internal/config"
	"paydash/internal/health"
	"paydash/internal/models"
	"paydash/internal/reconcile"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig(mode string) config.Config {
	return config.Config{
		Env:                   "test",
		Mode:                  mode,
		StoreTimeout:          time.Second,
		DurableFetchLimit:     1000,
		OverlayFetchLimit:     100,
		StatsScanLimit:        1000,
		QueueStreamInterval:   10 * time.Millisecond,
		StatsStreamInterval:   10 * time.Millisecond,
		AuditStreamInterval:   10 * time.Millisecond,
		MetricsStreamInterval: 10 * time.Millisecond,
		SSERetry:              5 * time.Second,
	}
}

func obj(id string, status models.Status, updated time.Duration) models.QueueObject {
	return models.QueueObject{
		ObjectID:   id,
		ObjectType: models.TypeBatch,
		Status:     status,
		Records:    1,
		Created:    base,
		Updated:    base.Add(updated),
	}
}

func source(objs []models.QueueObject, err error) reconcile.ObjectSourceFunc {
	return func(_ context.Context, limit int) ([]models.QueueObject, error) {
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(objs) > limit {
			return objs[:limit], nil
		}
		return objs, nil
	}
}

type fakeClearer struct{ cleared bool }

func (f *fakeClearer) Clear(context.Context) error {
	f.cleared = true
	return nil
}

type fakeAudit struct {
	entries []models.AuditEntry
	err     error
}

func (f fakeAudit) ForObject(_ context.Context, objectType, objectID string, _ int) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for _, e := range f.entries {
		if e.ObjectType == objectType && e.ObjectID == objectID {
			out = append(out, e)
		}
	}
	return out, f.err
}

func (f fakeAudit) Recent(_ context.Context, limit int) ([]models.AuditEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.entries) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f fakeAudit) ByParent(_ context.Context, parentID string, _ int) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for _, e := range f.entries {
		if e.ParentID == parentID {
			out = append(out, e)
		}
	}
	return out, f.err
}

func (f fakeAudit) ItemStats(ctx context.Context, parentID string) (models.ItemAuditStats, error) {
	entries, err := f.ByParent(ctx, parentID, 0)
	return models.ItemAuditStats{ParentID: parentID, TotalItems: len(entries)}, err
}

type fakeAnalytics struct {
	err error
}

func (f fakeAnalytics) Ping(context.Context) error { return f.err }

func (f fakeAnalytics) TodaySummary(context.Context) (analytics.TodaySummary, error) {
	return analytics.TodaySummary{TotalEvents: 7, SuccessEvents: 6, FailureEvents: 1}, f.err
}

func (f fakeAnalytics) CompanyBreakdown(context.Context) ([]analytics.CompanyBreakdown, error) {
	out := make([]analytics.CompanyBreakdown, 8)
	for i := range out {
		out[i] = analytics.CompanyBreakdown{CompanyID: fmt.Sprintf("c%d", i)}
	}
	return out, f.err
}

func (f fakeAnalytics) HourlyTrends(context.Context) ([]analytics.HourlyTrend, error) {
	return []analytics.HourlyTrend{}, f.err
}

func (f fakeAnalytics) RecentEvents(_ context.Context, limit int) ([]analytics.RecentEvent, error) {
	return make([]analytics.RecentEvent, limit), f.err
}

func (f fakeAnalytics) Performance(context.Context) (analytics.PerformanceMetrics, error) {
	return analytics.PerformanceMetrics{TotalProcessed: 7}, f.err
}

func (f fakeAnalytics) EventCount(context.Context) (int64, error) { return 7, f.err }

func newTestServer(cfg config.Config, deps Deps) http.Handler {
	if deps.Health == nil {
		deps.Health = health.NewChecker(time.Second)
	}
	if deps.Audit == nil {
		deps.Audit = fakeAudit{}
	}
	return New(cfg, deps, "test").Router()
}

func get(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestQueueServesMergedView(t *testing.T) {
	durable := []models.QueueObject{obj("a", models.StatusValidating, time.Second), obj("b", models.StatusReceived, 0)}
	overlay := []models.QueueObject{obj("a", models.StatusEnriching, 3*time.Second)}
	svc := reconcile.NewService(source(durable, nil), source(overlay, nil), reconcile.Limits{Durable: 1000, Overlay: 100, Stats: 1000}, nil)
	h := newTestServer(testConfig(config.ModeDurable), Deps{Queue: svc})

	rec, body := get(t, h, http.MethodGet, "/api/queue")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 2, body["count"])

	data := body["data"].([]any)
	first := data[0].(map[string]any)
	assert.Equal(t, "a", first["objectId"])
	assert.Equal(t, string(models.StatusEnriching), first["status"])

	rec, body = get(t, h, http.MethodGet, "/api/queue?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
}

func TestQueueStats(t *testing.T) {
	durable := []models.QueueObject{obj("a", models.StatusComplete, time.Second), obj("b", models.StatusReceived, 0)}
	svc := reconcile.NewService(source(durable, nil), source(nil, nil), reconcile.Limits{Durable: 1000, Overlay: 100, Stats: 1000}, nil)
	h := newTestServer(testConfig(config.ModeDurable), Deps{Queue: svc})

	rec, body := get(t, h, http.MethodGet, "/api/queue/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 2, data["total"])
}

func TestQueueDurableFailureIs503(t *testing.T) {
	svc := reconcile.NewService(source(nil, &net503{}), source(nil, nil), reconcile.Limits{Durable: 10, Overlay: 10, Stats: 10}, nil)
	h := newTestServer(testConfig(config.ModeDurable), Deps{Queue: svc})

	rec, body := get(t, h, http.MethodGet, "/api/queue")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, string(CodeDependencyUnavailable), body["error"])
}

type net503 struct{}

func (*net503) Error() string { return "connection refused" }
func (*net503) Unwrap() error { return syscall.ECONNREFUSED }

func TestClearDependsOnMode(t *testing.T) {
	svc := reconcile.NewService(nil, source(nil, nil), reconcile.Limits{Durable: 10, Overlay: 10, Stats: 10}, nil)

	clearer := &fakeClearer{}
	h := newTestServer(testConfig(config.ModeDurable), Deps{Queue: svc, Clearer: clearer})
	rec, _ := get(t, h, http.MethodDelete, "/api/queue/clear")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, clearer.cleared)

	h = newTestServer(testConfig(config.ModeCache), Deps{Queue: svc, Clearer: clearer})
	rec, body := get(t, h, http.MethodDelete, "/api/queue/clear")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.True(t, clearer.cleared)
}

func TestUnknownAPIRouteIsJSON404(t *testing.T) {
	h := newTestServer(testConfig(config.ModeCache), Deps{})
	rec, body := get(t, h, http.MethodGet, "/api/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "API route not found", body["message"])
}

func TestRootHealth(t *testing.T) {
	h := newTestServer(testConfig(config.ModeCache), Deps{})
	rec, body := get(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", body["status"])
}

func TestAuditObjectValidatesType(t *testing.T) {
	entries := []models.AuditEntry{
		{AuditID: "1", ObjectID: "b1", ObjectType: models.TypeBatch, Action: models.ActionCreated, NewStatus: models.StatusReceived, Timestamp: base},
		{AuditID: "2", ObjectID: "i1", ObjectType: models.TypeItem, ParentID: "b1", Action: models.ActionCreated, NewStatus: models.StatusReceived, Timestamp: base},
	}
	h := newTestServer(testConfig(config.ModeCache), Deps{Audit: fakeAudit{entries: entries}})

	rec, _ := get(t, h, http.MethodGet, "/api/audit/object/widget/b1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := get(t, h, http.MethodGet, "/api/audit/object/batch/b1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, "batch", body["objectType"])

	rec, body = get(t, h, http.MethodGet, "/api/audit/object/item/missing")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["data"])

	rec, body = get(t, h, http.MethodGet, "/api/audit/items/parent/b1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, "b1", body["parentId"])
	assert.NotNil(t, body["stats"])
}

func TestMetricsUnavailableWithoutAnalytics(t *testing.T) {
	h := newTestServer(testConfig(config.ModeCache), Deps{})
	for _, path := range []string{"/api/metrics/today-summary", "/api/metrics/health", "/api/metrics/stream"} {
		rec, body := get(t, h, http.MethodGet, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Equal(t, "Metrics service unavailable", body["error"], path)
	}
}

func TestMetricsEnvelope(t *testing.T) {
	h := newTestServer(testConfig(config.ModeCache), Deps{Analytics: fakeAnalytics{}})

	rec, body := get(t, h, http.MethodGet, "/api/metrics/today-summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 7, body["data"].(map[string]any)["total_events"])

	rec, body = get(t, h, http.MethodGet, "/api/metrics/live-events?limit=500")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], maxLiveEvents)

	rec, body = get(t, h, http.MethodGet, "/api/metrics/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["data"].(map[string]any)["clickhouse_connected"])
}

func TestMetricsHealthReportsFailure(t *testing.T) {
	h := newTestServer(testConfig(config.ModeCache), Deps{Analytics: fakeAnalytics{err: errors.New("boom")}})
	rec, body := get(t, h, http.MethodGet, "/api/metrics/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["data"].(map[string]any)["status"])
}

func TestMonitoringHealth(t *testing.T) {
	checker := health.NewChecker(time.Second)
	checker.Require("redis", health.PingFunc(func(context.Context) error { return nil }))
	checker.Optional("clickhouse", health.PingFunc(func(context.Context) error { return errors.New("down") }))
	h := newTestServer(testConfig(config.ModeCache), Deps{Health: checker})

	rec, body := get(t, h, http.MethodGet, "/api/monitoring/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, health.StatusDegraded, body["status"])

	rec, _ = get(t, h, http.MethodGet, "/api/monitoring/health/clickhouse")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, body = get(t, h, http.MethodGet, "/api/monitoring/health/kafka")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["status"])

	rec, body = get(t, h, http.MethodGet, "/api/monitoring/readiness")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ready"])

	rec, body = get(t, h, http.MethodGet, "/api/monitoring/info")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Paydash Backend", body["name"])
}

func TestMonitoringUnhealthyIs503(t *testing.T) {
	checker := health.NewChecker(time.Second)
	checker.Require("redis", health.PingFunc(func(context.Context) error { return errors.New("down") }))
	h := newTestServer(testConfig(config.ModeCache), Deps{Health: checker})

	rec, _ := get(t, h, http.MethodGet, "/api/monitoring/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec, body := get(t, h, http.MethodGet, "/api/monitoring/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["ready"])
}

func TestPrometheusExposition(t *testing.T) {
	h := newTestServer(testConfig(config.ModeCache), Deps{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/monitoring/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "paydash_uptime_seconds")
}

func TestLifecycleDescribesStateMachine(t *testing.T) {
	h := newTestServer(testConfig(config.ModeCache), Deps{})
	rec, body := get(t, h, http.MethodGet, "/api/lifecycle")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Len(t, data["statuses"], len(models.Statuses))
	assert.Len(t, data["outcomes"], 2)
}

// runStream drives an SSE handler for roughly d and returns what it wrote.
func runStream(t *testing.T, h http.Handler, path string, d time.Duration) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()
	time.Sleep(d)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after client disconnect")
	}
	return rec
}

func TestQueueStreamFrames(t *testing.T) {
	svc := reconcile.NewService(nil, source([]models.QueueObject{obj("a", models.StatusReceived, 0)}, nil), reconcile.Limits{Durable: 10, Overlay: 10, Stats: 10}, nil)
	h := newTestServer(testConfig(config.ModeCache), Deps{Queue: svc})

	rec := runStream(t, h, "/api/queue/stream", 60*time.Millisecond)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.True(t, strings.HasPrefix(out, "retry: 5000\n\n"))
	frames := strings.Count(out, "data: ")
	assert.GreaterOrEqual(t, frames, 2, "immediate frame plus at least one tick")
	assert.Contains(t, out, `"objectId":"a"`)
}

func TestStreamReportsErrorsInBand(t *testing.T) {
	h := newTestServer(testConfig(config.ModeCache), Deps{Audit: fakeAudit{err: errors.New("redis down")}})

	rec := runStream(t, h, "/api/audit/stream", 30*time.Millisecond)
	out := rec.Body.String()
	assert.Contains(t, out, `"success":false`)
	assert.Contains(t, out, "Failed to fetch audit data")
}

func TestMetricsStreamSendsConnectedThenUpdates(t *testing.T) {
	h := newTestServer(testConfig(config.ModeCache), Deps{Analytics: fakeAnalytics{}})

	rec := runStream(t, h, "/api/metrics/stream", 30*time.Millisecond)
	out := rec.Body.String()
	connected := strings.Index(out, `"type":"connected"`)
	update := strings.Index(out, `"type":"metrics-update"`)
	require.GreaterOrEqual(t, connected, 0)
	require.Greater(t, update, connected)

	line := out[strings.LastIndex(out[:update], "data: ")+len("data: "):]
	line = line[:strings.Index(line, "\n")]
	var ev struct {
		Data metricsSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &ev))
	assert.Len(t, ev.Data.Breakdown, streamBreakdown)
	assert.Len(t, ev.Data.Recent, streamRecent)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, CodeDependencyUnavailable, Classify(context.DeadlineExceeded))
	assert.Equal(t, CodeDependencyUnavailable, Classify(fmt.Errorf("read: %w", syscall.ECONNREFUSED)))
	assert.Equal(t, CodeDependencyUnavailable, Classify(ErrDependencyUnavailable))
	assert.Equal(t, CodeInvalidInput, Classify(newAPIError(CodeInvalidInput, "bad", nil)))
	assert.Equal(t, CodeInternal, Classify(errors.New("boom")))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(CodeDependencyUnavailable))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(CodeInternal))
}
