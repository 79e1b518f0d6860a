package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"kycops/internal/alerting"
	"kycops/internal/monitoring/metrics"
)

// Job names used by the server and the CLI.
const (
	JobThresholdCheck = "threshold_check"
	JobDailySummary   = "daily_summary"
	JobHeartbeat      = "heartbeat"
)

// Checker evaluates thresholds and dispatches fired alerts.
type Checker interface {
	Check(ctx context.Context) int
}

// Summarizer exposes aggregated metrics and their reset.
type Summarizer interface {
	Snapshot() metrics.Snapshot
	SnapshotAndReset() metrics.Snapshot
}

// AlertSink delivers alert events.
type AlertSink interface {
	Dispatch(ctx context.Context, event alerting.Event) alerting.Results
}

// ThresholdCheck runs one threshold evaluation.
func ThresholdCheck(checker Checker, logger *slog.Logger) JobFunc {
	return func(ctx context.Context) error {
		logger.InfoContext(ctx, "running scheduled health check")
		fired := checker.Check(ctx)
		if fired > 0 {
			logger.InfoContext(ctx, "threshold check raised alerts", "alerts", fired)
		}
		return nil
	}
}

// DailySummary takes the full snapshot and resets the aggregator in one step,
// then emits the daily report. The reset stands even when every channel failed.
func DailySummary(source Summarizer, sink AlertSink, clock func() time.Time) JobFunc {
	if clock == nil {
		clock = time.Now
	}
	return func(ctx context.Context) error {
		snap := source.SnapshotAndReset()
		event, err := alerting.NewEvent(alerting.LevelInfo,
			"Daily Metrics Report",
			"Here is your daily KYC system report",
			map[string]any{"metrics": snap},
			clock(),
		)
		if err != nil {
			return fmt.Errorf("build daily report: %w", err)
		}
		sink.Dispatch(ctx, event)
		return nil
	}
}

// Heartbeat writes one observability line. It never raises alerts.
func Heartbeat(source Summarizer, logger *slog.Logger) JobFunc {
	return func(ctx context.Context) error {
		snap := source.Snapshot()
		logger.InfoContext(ctx, "Health check",
			"uptime_minutes", math.Floor(snap.Uptime.Minutes()),
			"success_rate", snap.SuccessRate,
			"total_uploads", snap.Uploads.Total,
			"total_submissions", snap.Submissions.Total,
			"errors", len(snap.Errors),
		)
		return nil
	}
}
