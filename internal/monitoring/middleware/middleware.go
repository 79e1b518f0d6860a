// Package middleware observes every HTTP request: it logs the outcome, feeds
// upload and error counts to the metrics aggregator and raises a critical
// alert when a request fails on the server side.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"kycops/internal/alerting"
	"kycops/pkg/requestcontext"
)

const alertTimeout = 30 * time.Second

// Recorder receives request-derived operational metrics.
type Recorder interface {
	RecordUpload(success bool, duration time.Duration)
	RecordError(kind string)
}

// Dispatcher raises alerts.
type Dispatcher interface {
	Dispatch(ctx context.Context, event alerting.Event) alerting.Results
}

// RequestObserver exports per-route latency, e.g. to Prometheus.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

type Monitor struct {
	recorder   Recorder
	dispatcher Dispatcher
	observer   RequestObserver
	logger     *slog.Logger
	now        func() time.Time
	async      func(func())
}

type Option func(*Monitor)

func WithDispatcher(d Dispatcher) Option {
	return func(m *Monitor) { m.dispatcher = d }
}

func WithObserver(o RequestObserver) Option {
	return func(m *Monitor) { m.observer = o }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithClock overrides time.Now for request durations.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithAsync replaces the goroutine used for alert dispatch. Tests pass a
// synchronous runner.
func WithAsync(run func(func())) Option {
	return func(m *Monitor) { m.async = run }
}

func New(recorder Recorder, opts ...Option) *Monitor {
	m := &Monitor{
		recorder: recorder,
		logger:   slog.Default(),
		now:      time.Now,
		async:    func(f func()) { go f() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps next with request monitoring.
func (m *Monitor) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := m.now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := m.now().Sub(start)
		ctx := r.Context()

		m.logger.InfoContext(ctx, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", requestcontext.RequestID(ctx),
		)

		if strings.Contains(r.URL.Path, "/upload") {
			m.recorder.RecordUpload(status == http.StatusOK, duration)
		}
		if m.observer != nil {
			m.observer.ObserveRequest(r.Method, routePattern(r), status, duration)
		}
		if status >= http.StatusInternalServerError {
			m.serverError(ctx, r, status)
		}
	})
}

func (m *Monitor) serverError(ctx context.Context, r *http.Request, status int) {
	kind := ErrorKind(status)
	m.recorder.RecordError(kind)
	m.logger.ErrorContext(ctx, "Application error",
		"kind", kind,
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"request_id", requestcontext.RequestID(ctx),
	)
	if m.dispatcher == nil {
		return
	}

	event, err := alerting.NewEvent(alerting.LevelCritical, "Application Error",
		fmt.Sprintf("%s %s returned %d", r.Method, r.URL.Path, status),
		map[string]any{
			"path":       r.URL.Path,
			"method":     r.Method,
			"status":     status,
			"request_id": requestcontext.RequestID(ctx),
		},
		requestcontext.Now(ctx),
	)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to build error alert", "error", err)
		return
	}

	// Detached from the request so the alert outlives the response.
	alertCtx := context.WithoutCancel(ctx)
	m.async(func() {
		alertCtx, cancel := context.WithTimeout(alertCtx, alertTimeout)
		defer cancel()
		m.dispatcher.Dispatch(alertCtx, event)
	})
}

// ErrorKind names a server error status, e.g. "InternalServerError".
func ErrorKind(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return fmt.Sprintf("HTTP%d", status)
	}
	return strings.ReplaceAll(text, " ", "")
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
