package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	dErrors "kycops/pkg/domain-errors"
)

// DefaultChannelTimeout bounds a single channel delivery.
const DefaultChannelTimeout = 10 * time.Second

// ErrorKindDeliveryFailure is the error kind recorded for a failed delivery.
const ErrorKindDeliveryFailure = "DeliveryFailure"

// Channel delivers one alert event. Implementations report failure through
// the returned error and must honour ctx cancellation.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// ErrorRecorder counts error kinds. Satisfied by the metrics aggregator.
type ErrorRecorder interface {
	RecordError(kind string)
}

// Result is the outcome of one channel delivery.
type Result struct {
	Channel  string
	Err      error
	Duration time.Duration
}

// OK reports whether the delivery succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Results is the per-channel outcome of one dispatch, in channel registration order.
type Results []Result

// Failed returns the number of failed deliveries.
func (rs Results) Failed() int {
	n := 0
	for _, r := range rs {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Succeeded returns the number of successful deliveries.
func (rs Results) Succeeded() int {
	return len(rs) - rs.Failed()
}

// Dispatcher fans alert events out to every registered channel concurrently.
// Each delivery runs under its own timeout; a failing or slow channel never
// affects another channel's attempt, and Dispatch never returns an error.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	logger   *slog.Logger
	errors   ErrorRecorder
	metrics  *Metrics
	tracer   trace.Tracer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithChannelTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithErrorRecorder(r ErrorRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.errors = r
	}
}

func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a dispatcher. Nil channels are skipped.
func NewDispatcher(channels []Channel, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		timeout: DefaultChannelTimeout,
		logger:  slog.Default(),
		tracer:  otel.Tracer("kycops/alerting"),
	}
	for _, ch := range channels {
		if ch != nil {
			d.channels = append(d.channels, ch)
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Channels returns the names of the registered channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.Name()
	}
	return names
}

// Dispatch delivers event to every channel and waits for all of them.
// Invalid events are logged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) Results {
	if !event.Valid() {
		d.logger.ErrorContext(ctx, "alert dropped: invalid event",
			"level", string(event.Level()),
			"title", event.Title(),
		)
		return nil
	}

	ctx, span := d.tracer.Start(ctx, "alert.dispatch", trace.WithAttributes(
		attribute.String("alert.level", string(event.Level())),
		attribute.String("alert.title", event.Title()),
		attribute.Int("alert.channels", len(d.channels)),
	))
	defer span.End()

	d.logger.WarnContext(ctx, "alert",
		"alert_id", event.ID(),
		"level", string(event.Level()),
		"title", event.Title(),
		"message", event.Message(),
		"timestamp", event.TimestampString(),
	)
	d.metrics.incDispatched(event.Level())

	results := make(Results, len(d.channels))
	var g errgroup.Group
	for i, ch := range d.channels {
		g.Go(func() error {
			results[i] = d.deliver(ctx, ch, event)
			return nil
		})
	}
	_ = g.Wait()

	if failed := results.Failed(); failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d channels failed", failed, len(results)))
	}
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, event Event) (res Result) {
	name := ch.Name()
	res.Channel = name
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("channel panicked: %v", r)
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Err = dErrors.Wrap(res.Err, dErrors.CodeDeliveryFailed, fmt.Sprintf("deliver alert via %s", name))
			d.logger.ErrorContext(ctx, "alert delivery failed",
				"channel", name,
				"alert_id", event.ID(),
				"title", event.Title(),
				"duration_ms", res.Duration.Milliseconds(),
				"error", res.Err,
			)
			if d.errors != nil {
				d.errors.RecordError(ErrorKindDeliveryFailure)
			}
		} else {
			d.logger.DebugContext(ctx, "alert delivered",
				"channel", name,
				"alert_id", event.ID(),
				"duration_ms", res.Duration.Milliseconds(),
			)
		}
		d.metrics.observeDelivery(name, res.Err, res.Duration)
	}()

	res.Err = ch.Deliver(ctx, event)
	return res
}
