package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycops/internal/registry/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSnapshotCountsAndRates(t *testing.T) {
	agg := NewAggregator()
	agg.RecordUpload(true, 100*time.Millisecond)
	agg.RecordUpload(false, 200*time.Millisecond)

	snap := agg.Snapshot()
	assert.Equal(t, UploadCounts{Total: 2, Success: 1, Failed: 1}, snap.Uploads)
	assert.Equal(t, 50.00, snap.SuccessRate)
	assert.Equal(t, 100.0, snap.AvgUploadTime, "failed uploads contribute no latency sample")
	assert.Equal(t, []float64{100}, snap.Performance.UploadTimes)
	assert.Equal(t, 50.0, snap.UploadFailureRate())
	assert.Equal(t, 50.0, snap.ErrorRate())
}

func TestEmptySnapshotHasNoDivideByZero(t *testing.T) {
	snap := NewAggregator().Snapshot()
	assert.Zero(t, snap.SuccessRate)
	assert.Zero(t, snap.AvgUploadTime)
	assert.Zero(t, snap.UploadFailureRate())
	assert.Empty(t, snap.Errors)
}

func TestSuccessRateRoundsToTwoDecimals(t *testing.T) {
	agg := NewAggregator()
	agg.RecordUpload(true, time.Millisecond)
	agg.RecordUpload(true, time.Millisecond)
	agg.RecordUpload(false, time.Millisecond)
	assert.Equal(t, 66.67, agg.Snapshot().SuccessRate)
}

func TestRecordSubmission(t *testing.T) {
	agg := NewAggregator()
	agg.RecordSubmission(models.StatusPending, 40*time.Millisecond)
	agg.RecordSubmission(models.StatusApproved, 0)
	agg.RecordSubmission(models.StatusRejected, 0)
	agg.RecordSubmission(models.StatusPending, 60*time.Millisecond)

	snap := agg.Snapshot()
	assert.Equal(t, SubmissionCounts{Total: 4, Approved: 1, Rejected: 1, Pending: 2}, snap.Submissions)
	assert.Equal(t, []float64{40, 0, 0, 60}, snap.Performance.ProcessingTimes)
}

func TestRecordError(t *testing.T) {
	agg := NewAggregator()
	agg.RecordError("DeliveryFailure")
	agg.RecordError("DeliveryFailure")
	agg.RecordError("")

	snap := agg.Snapshot()
	assert.Equal(t, map[string]int64{"DeliveryFailure": 2, "UnknownError": 1}, snap.Errors)

	snap.Errors["DeliveryFailure"] = 99
	assert.Equal(t, int64(2), agg.Snapshot().Errors["DeliveryFailure"], "snapshot must not alias state")
}

func TestResetKeepsStartTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	agg := NewAggregator(WithClock(clock.Now))
	agg.RecordUpload(true, time.Second)
	agg.RecordSubmission(models.StatusPending, time.Second)
	agg.RecordError("x")

	clock.Advance(90 * time.Minute)
	agg.Reset()

	snap := agg.Snapshot()
	assert.Zero(t, snap.Uploads.Total)
	assert.Zero(t, snap.Submissions.Total)
	assert.Empty(t, snap.Errors)
	assert.Empty(t, snap.Performance.UploadTimes)
	assert.Equal(t, 90*time.Minute, snap.Uptime)
	assert.Equal(t, int64(90*60*1000), snap.UptimeMs)
}

func TestSnapshotAndResetKeepsEveryRecord(t *testing.T) {
	agg := NewAggregator()
	const writers, perWriter = 8, 250

	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWriter {
				agg.RecordUpload(true, time.Millisecond)
			}
		}()
	}

	var seen int64
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for waiting := true; waiting; {
		select {
		case <-done:
			waiting = false
		default:
			seen += agg.SnapshotAndReset().Uploads.Total
		}
	}
	seen += agg.SnapshotAndReset().Uploads.Total

	assert.Equal(t, int64(writers*perWriter), seen)
	assert.Zero(t, agg.Snapshot().Uploads.Total)
}

func TestSampleRetentionIsBounded(t *testing.T) {
	agg := NewAggregator(WithSampleRetention(3))
	for i := 1; i <= 5; i++ {
		agg.RecordUpload(true, time.Duration(i)*time.Millisecond)
	}
	snap := agg.Snapshot()
	assert.Equal(t, []float64{3, 4, 5}, snap.Performance.UploadTimes)
	assert.Equal(t, 4.0, snap.AvgUploadTime)
	assert.Equal(t, int64(5), snap.Uploads.Total, "counters are not bounded by retention")
	assert.Equal(t, int64(2), agg.DroppedSamples())
}

func TestConcurrentRecording(t *testing.T) {
	agg := NewAggregator()
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Go(func() {
			agg.RecordUpload(i%4 != 0, time.Millisecond)
			agg.RecordError("e")
			_ = agg.Snapshot()
		})
	}
	wg.Wait()

	snap := agg.Snapshot()
	assert.Equal(t, int64(100), snap.Uploads.Total)
	assert.Equal(t, int64(75), snap.Uploads.Success)
	assert.Equal(t, snap.Uploads.Total, snap.Uploads.Success+snap.Uploads.Failed)
	assert.Equal(t, int64(100), snap.Errors["e"])
}

func TestCollectorMirrorsSnapshot(t *testing.T) {
	agg := NewAggregator()
	agg.RecordUpload(true, 10*time.Millisecond)
	agg.RecordUpload(false, 0)
	agg.RecordError("Timeout")

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(agg)))

	expected := `
# HELP kycops_uploads Document uploads since the last reset, by outcome
# TYPE kycops_uploads gauge
kycops_uploads{outcome="failed"} 1
kycops_uploads{outcome="success"} 1
# HELP kycops_errors Errors since the last reset, by kind
# TYPE kycops_errors gauge
kycops_errors{kind="Timeout"} 1
# HELP kycops_upload_success_rate_percent Upload success rate since the last reset
# TYPE kycops_upload_success_rate_percent gauge
kycops_upload_success_rate_percent 50
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"kycops_uploads", "kycops_errors", "kycops_upload_success_rate_percent")
	assert.NoError(t, err)
}
