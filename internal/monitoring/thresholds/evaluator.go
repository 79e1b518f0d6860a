// Package thresholds compares aggregated metrics against configured limits
// and raises alert events for every breached condition.
package thresholds

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"kycops/internal/alerting"
	"kycops/internal/monitoring/metrics"
)

// ErrorKindProbeUnavailable is recorded when the resource probe fails.
const ErrorKindProbeUnavailable = "ProbeUnavailable"

const defaultProbeTimeout = 5 * time.Second

// Thresholds are the breach limits. Every comparison is exclusive.
type Thresholds struct {
	ErrorRate      float64       // percent
	UploadFailRate float64       // percent
	ResponseTime   time.Duration // mean successful upload duration
	DiskUsage      float64       // percent
}

// DefaultThresholds returns 10% / 20% / 5s / 90%.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorRate:      10,
		UploadFailRate: 20,
		ResponseTime:   5 * time.Second,
		DiskUsage:      90,
	}
}

// SnapshotSource supplies metrics snapshots and counts absorbed errors.
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
	RecordError(kind string)
}

// ResourceProbe reports external resource pressure as a percentage.
type ResourceProbe interface {
	CurrentUsagePercent(ctx context.Context) (float64, error)
}

// AlertSink delivers fired events.
type AlertSink interface {
	Dispatch(ctx context.Context, event alerting.Event) alerting.Results
}

// Evaluator runs the threshold conditions against one snapshot per call.
type Evaluator struct {
	source       SnapshotSource
	probe        ResourceProbe
	sink         AlertSink
	limits       Thresholds
	probeTimeout time.Duration
	clock        func() time.Time
	logger       *slog.Logger
	breaches     *prometheus.CounterVec
}

// Option configures an Evaluator.
type Option func(*Evaluator)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.probeTimeout = d
		}
	}
}

// WithRegisterer exports a breach counter by condition.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Evaluator) {
		e.breaches = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "kycops_threshold_breaches_total",
			Help: "Threshold breaches by condition",
		}, []string{"condition"})
	}
}

// New creates an evaluator. probe may be nil to skip the resource check;
// sink may be nil when events are only collected.
func New(source SnapshotSource, probe ResourceProbe, sink AlertSink, limits Thresholds, opts ...Option) *Evaluator {
	e := &Evaluator{
		source:       source,
		probe:        probe,
		sink:         sink,
		limits:       limits,
		probeTimeout: defaultProbeTimeout,
		clock:        time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate takes one snapshot and returns an event for each breached
// condition. Conditions are independent; none suppresses another.
// Metrics state is never mutated beyond counting a failed probe.
func (e *Evaluator) Evaluate(ctx context.Context) []alerting.Event {
	snap := e.source.Snapshot()
	now := e.clock()
	var fired []alerting.Event

	add := func(condition string, level alerting.Level, title, message string, details map[string]any) {
		ev, err := alerting.NewEvent(level, title, message, details, now)
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to build threshold alert", "condition", condition, "error", err)
			return
		}
		if e.breaches != nil {
			e.breaches.WithLabelValues(condition).Inc()
		}
		fired = append(fired, ev)
	}

	// Success rate is 0 with no uploads, so an idle process reports a 100% error rate.
	if rate := snap.ErrorRate(); rate > e.limits.ErrorRate {
		add("error_rate", alerting.LevelWarning, "High Error Rate Detected",
			fmt.Sprintf("Error rate is %.2f%%, exceeding threshold of %g%%", rate, e.limits.ErrorRate),
			map[string]any{"metrics": snap})
	}

	if snap.Uploads.Total > 0 {
		if rate := snap.UploadFailureRate(); rate > e.limits.UploadFailRate {
			add("upload_failure_rate", alerting.LevelCritical, "High Upload Failure Rate",
				fmt.Sprintf("Upload failure rate is %.2f%%", rate),
				map[string]any{"uploads": snap.Uploads})
		}
	}

	limitMs := float64(e.limits.ResponseTime) / float64(time.Millisecond)
	if snap.AvgUploadTime > limitMs {
		add("response_time", alerting.LevelWarning, "Slow Response Times",
			fmt.Sprintf("Average upload time is %.2fs", snap.AvgUploadTime/1000),
			map[string]any{"performance": snap.Performance, "avgUploadTime": snap.AvgUploadTime})
	}

	if usage := e.resourceUsage(ctx); usage > e.limits.DiskUsage {
		add("disk_usage", alerting.LevelCritical, "Low Disk Space",
			fmt.Sprintf("Disk usage is at %.2f%%", usage),
			map[string]any{"diskUsage": usage})
	}

	return fired
}

// Check evaluates and dispatches every fired event. It returns the number of
// events fired.
func (e *Evaluator) Check(ctx context.Context) int {
	fired := e.Evaluate(ctx)
	if e.sink != nil {
		for _, ev := range fired {
			e.sink.Dispatch(ctx, ev)
		}
	}
	return len(fired)
}

// resourceUsage treats a failing probe as zero usage.
func (e *Evaluator) resourceUsage(ctx context.Context) float64 {
	if e.probe == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	usage, err := e.probe.CurrentUsagePercent(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "resource probe unavailable, treating usage as 0", "error", err)
		e.source.RecordError(ErrorKindProbeUnavailable)
		return 0
	}
	return usage
}
