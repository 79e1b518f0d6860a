package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycops/internal/alerting"
	"kycops/internal/monitoring/metrics"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Dispatch(_ context.Context, e alerting.Event) alerting.Results {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return nil
}

type observation struct {
	method, route string
	status        int
}

type recordingObserver struct{ seen []observation }

func (o *recordingObserver) ObserveRequest(method, route string, status int, _ time.Duration) {
	o.seen = append(o.seen, observation{method, route, status})
}

type steppingClock struct{ now time.Time }

func (c *steppingClock) Now() time.Time {
	c.now = c.now.Add(250 * time.Millisecond)
	return c.now
}

func newRouter(t *testing.T) (http.Handler, *metrics.Aggregator, *recordingDispatcher, *recordingObserver) {
	t.Helper()
	agg := metrics.NewAggregator()
	disp := &recordingDispatcher{}
	obs := &recordingObserver{}
	clock := &steppingClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	mon := New(agg,
		WithDispatcher(disp),
		WithObserver(obs),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(clock.Now),
		WithAsync(func(f func()) { f() }),
	)

	r := chi.NewRouter()
	r.Use(mon.Handler)
	r.Post("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	r.Get("/api/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r, agg, disp, obs
}

func TestUploadsAreRecorded(t *testing.T) {
	h, agg, disp, _ := newRouter(t)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/upload", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/upload?fail=1", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	snap := agg.Snapshot()
	assert.Equal(t, int64(2), snap.Uploads.Total)
	assert.Equal(t, int64(1), snap.Uploads.Success)
	assert.Equal(t, int64(1), snap.Uploads.Failed)
	assert.Equal(t, []float64{250, 250}, snap.Performance.UploadTimes)
	assert.Empty(t, snap.Errors)
	assert.Empty(t, disp.events)
}

func TestServerErrorsRaiseCriticalAlert(t *testing.T) {
	h, agg, disp, obs := newRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/boom", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	assert.Equal(t, map[string]int64{"ServiceUnavailable": 1}, agg.Snapshot().Errors)
	require.Len(t, disp.events, 1)
	e := disp.events[0]
	assert.Equal(t, alerting.LevelCritical, e.Level())
	assert.Equal(t, "Application Error", e.Title())
	assert.Equal(t, "GET /api/boom returned 503", e.Message())
	assert.Equal(t, "/api/boom", e.Details()["path"])

	require.Len(t, obs.seen, 1)
	assert.Equal(t, observation{http.MethodGet, "/api/boom", http.StatusServiceUnavailable}, obs.seen[0])
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "InternalServerError", ErrorKind(500))
	assert.Equal(t, "GatewayTimeout", ErrorKind(504))
	assert.Equal(t, "HTTP599", ErrorKind(599))
}
