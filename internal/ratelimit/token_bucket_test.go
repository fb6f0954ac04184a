package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenBucket(client, capacity, refill, time.Minute), mr
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newBucket(t, 2, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return now }

	allowed, left, err := bucket.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.InDelta(t, 1.0, left, 0.001)

	allowed, _, _ = bucket.Allow(ctx, "10.0.0.1")
	assert.True(t, allowed)
	allowed, _, _ = bucket.Allow(ctx, "10.0.0.1")
	assert.False(t, allowed, "bucket exhausted")

	allowed, _, _ = bucket.Allow(ctx, "10.0.0.2")
	assert.True(t, allowed, "keys are independent")

	now = now.Add(1500 * time.Millisecond)
	allowed, left, _ = bucket.Allow(ctx, "10.0.0.1")
	assert.True(t, allowed, "refilled after time passes")
	assert.InDelta(t, 0.5, left, 0.001)
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	bucket, _ := newBucket(t, 1, 0.001)
	h := bucket.Middleware(logrus.NewEntry(logrus.New()))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.RemoteAddr = "192.0.2.1:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	bucket, mr := newBucket(t, 1, 1)
	mr.Close()
	h := bucket.Middleware(logrus.NewEntry(logrus.New()))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
