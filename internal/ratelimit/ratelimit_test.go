package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycops/pkg/requestcontext"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestInMemoryAllow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	store := NewInMemory(WithClock(clock.Now))
	ctx := context.Background()
	start := clock.now

	for i := range 3 {
		res, err := store.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
		assert.Equal(t, start.Add(time.Minute), res.ResetAt)
		clock.Advance(10 * time.Second)
	}

	res, err := store.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 30*time.Second, res.RetryAfter(clock.now))

	res, err = store.Allow(ctx, "other", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "keys are independent")

	clock.Advance(31 * time.Second)
	res, err = store.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "oldest request left the window")
}

func TestInMemorySweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	store := NewInMemory(WithClock(clock.Now))
	_, _ = store.Allow(context.Background(), "a", 5, time.Minute)
	_, _ = store.Allow(context.Background(), "b", 5, time.Hour)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, store.Sweep())
	assert.Len(t, store.buckets, 1)
}

func TestRetryAfterFloor(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Second, Result{ResetAt: now}.RetryAfter(now))
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (Result, error) {
	return Result{}, errors.New("redis down")
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	do := func(h http.Handler, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
		ctx := requestcontext.WithClientMetadata(req.Context(), ip, "test")
		ctx = requestcontext.WithTime(ctx, now)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req.WithContext(ctx))
		return rec
	}

	t.Run("rejects past the class budget", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		metrics := NewMetrics(reg)
		store := NewInMemory(WithClock(func() time.Time { return now }))
		m := New(store, logger, WithLimit(ClassUpload, Limit{Requests: 2, Window: 15 * time.Minute}), WithMetrics(metrics))
		h := m.RateLimit(ClassUpload)(ok)

		assert.Equal(t, http.StatusOK, do(h, "192.0.2.1").Code)
		rec := do(h, "192.0.2.1")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

		rec = do(h, "192.0.2.1")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "900", rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "Too many uploads, please try again later")

		assert.Equal(t, http.StatusOK, do(h, "192.0.2.2").Code, "other clients unaffected")
		assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Decisions.WithLabelValues("upload", "allowed")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Decisions.WithLabelValues("upload", "rejected")))
	})

	t.Run("api class uses its own message", func(t *testing.T) {
		store := NewInMemory(WithClock(func() time.Time { return now }))
		m := New(store, logger, WithLimit(ClassAPI, Limit{Requests: 1, Window: time.Minute}))
		h := m.RateLimit(ClassAPI)(ok)
		do(h, "192.0.2.1")
		rec := do(h, "192.0.2.1")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Contains(t, rec.Body.String(), "Too many requests, please try again later")
	})

	t.Run("store failure fails open", func(t *testing.T) {
		h := New(failingStore{}, logger).RateLimit(ClassAPI)(ok)
		assert.Equal(t, http.StatusOK, do(h, "192.0.2.1").Code)
	})

	t.Run("disabled passes everything", func(t *testing.T) {
		store := NewInMemory()
		h := New(store, logger, WithDisabled(true), WithLimit(ClassAPI, Limit{Requests: 1, Window: time.Minute})).RateLimit(ClassAPI)(ok)
		for range 5 {
			assert.Equal(t, http.StatusOK, do(h, "192.0.2.1").Code)
		}
	})
}
