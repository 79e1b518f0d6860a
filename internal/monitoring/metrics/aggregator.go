// Package metrics aggregates operational counters and latency samples for
// document uploads and application submissions.
package metrics

import (
	"maps"
	"math"
	"sync"
	"time"

	"kycops/internal/registry/models"
)

// DefaultSampleRetention bounds each latency sample sequence between resets.
const DefaultSampleRetention = 1000

// UploadCounts are the upload counters. Success + Failed == Total.
type UploadCounts struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

// SubmissionCounts are the submission counters, one per lifecycle status.
type SubmissionCounts struct {
	Total    int64 `json:"total"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Pending  int64 `json:"pending"`
}

// Performance holds the retained latency samples in milliseconds, oldest first.
type Performance struct {
	UploadTimes     []float64 `json:"uploadTimes"`
	ProcessingTimes []float64 `json:"processingTimes"`
}

// Snapshot is a point-in-time read-only view of the aggregated metrics.
type Snapshot struct {
	Uploads       UploadCounts     `json:"uploads"`
	Submissions   SubmissionCounts `json:"submissions"`
	Errors        map[string]int64 `json:"errors"`
	Performance   Performance      `json:"performance"`
	Uptime        time.Duration    `json:"-"`
	UptimeMs      int64            `json:"uptime"`
	SuccessRate   float64          `json:"successRate"`
	AvgUploadTime float64          `json:"avgUploadTime"`
	TakenAt       time.Time        `json:"takenAt"`
}

// ErrorRate is 100 minus the upload success rate.
func (s Snapshot) ErrorRate() float64 {
	return 100 - s.SuccessRate
}

// UploadFailureRate is the failed upload percentage, 0 when nothing was uploaded.
func (s Snapshot) UploadFailureRate() float64 {
	if s.Uploads.Total == 0 {
		return 0
	}
	return float64(s.Uploads.Failed) / float64(s.Uploads.Total) * 100
}

// Aggregator accumulates counters and latency samples. All methods are safe
// for concurrent use.
type Aggregator struct {
	mu          sync.Mutex
	uploads     UploadCounts
	submissions SubmissionCounts
	errors      map[string]int64
	uploadTimes *sampleRing
	procTimes   *sampleRing

	startedAt time.Time
	clock     func() time.Time
	retention int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithSampleRetention bounds each latency sample sequence to n entries.
func WithSampleRetention(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.retention = n
		}
	}
}

// WithClock sets the time source used for uptime.
func WithClock(clock func() time.Time) Option {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewAggregator creates an empty aggregator. Process start is recorded here.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		clock:     time.Now,
		retention: DefaultSampleRetention,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.startedAt = a.clock()
	a.errors = make(map[string]int64)
	a.uploadTimes = newSampleRing(a.retention)
	a.procTimes = newSampleRing(a.retention)
	return a
}

// RecordUpload counts one upload. Only successful uploads contribute a latency sample.
func (a *Aggregator) RecordUpload(success bool, duration time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.uploads.Total++
	if success {
		a.uploads.Success++
		a.uploadTimes.push(millis(duration))
	} else {
		a.uploads.Failed++
	}
}

// RecordSubmission counts one submission under status and always records a
// processing sample. Unknown statuses only increment the total.
func (a *Aggregator) RecordSubmission(status models.Status, duration time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.submissions.Total++
	switch status {
	case models.StatusPending:
		a.submissions.Pending++
	case models.StatusApproved:
		a.submissions.Approved++
	case models.StatusRejected:
		a.submissions.Rejected++
	}
	a.procTimes.push(millis(duration))
}

// RecordError increments the counter for kind.
func (a *Aggregator) RecordError(kind string) {
	if kind == "" {
		kind = "UnknownError"
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors[kind]++
}

// Snapshot computes a read-only view of the current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// SnapshotAndReset returns the current view and clears counters and samples
// under one lock, so nothing recorded in between is lost.
func (a *Aggregator) SnapshotAndReset() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := a.snapshotLocked()
	a.resetLocked()
	return snap
}

func (a *Aggregator) snapshotLocked() Snapshot {
	now := a.clock()
	uptime := now.Sub(a.startedAt)
	snap := Snapshot{
		Uploads:     a.uploads,
		Submissions: a.submissions,
		Errors:      maps.Clone(a.errors),
		Performance: Performance{
			UploadTimes:     a.uploadTimes.values(),
			ProcessingTimes: a.procTimes.values(),
		},
		Uptime:        uptime,
		UptimeMs:      uptime.Milliseconds(),
		AvgUploadTime: a.uploadTimes.mean(),
		TakenAt:       now,
	}
	if a.uploads.Total > 0 {
		snap.SuccessRate = round2(float64(a.uploads.Success) / float64(a.uploads.Total) * 100)
	}
	return snap
}

// Reset clears counters and samples. Process start is kept.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Aggregator) resetLocked() {
	a.uploads = UploadCounts{}
	a.submissions = SubmissionCounts{}
	a.errors = make(map[string]int64)
	a.uploadTimes.clear()
	a.procTimes.clear()
}

// StartedAt returns the process start recorded at construction.
func (a *Aggregator) StartedAt() time.Time {
	return a.startedAt
}

// DroppedSamples returns how many latency samples were evicted since the last reset.
func (a *Aggregator) DroppedSamples() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uploadTimes.dropped + a.procTimes.dropped
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
