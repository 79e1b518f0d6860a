package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	uploadsDesc = prometheus.NewDesc(
		"kycops_uploads",
		"Document uploads since the last reset, by outcome",
		[]string{"outcome"}, nil,
	)
	submissionsDesc = prometheus.NewDesc(
		"kycops_submissions",
		"Application submissions since the last reset, by status",
		[]string{"status"}, nil,
	)
	errorsDesc = prometheus.NewDesc(
		"kycops_errors",
		"Errors since the last reset, by kind",
		[]string{"kind"}, nil,
	)
	successRateDesc = prometheus.NewDesc(
		"kycops_upload_success_rate_percent",
		"Upload success rate since the last reset",
		nil, nil,
	)
	avgUploadDesc = prometheus.NewDesc(
		"kycops_upload_avg_duration_ms",
		"Mean of retained successful upload durations in milliseconds",
		nil, nil,
	)
	uptimeDesc = prometheus.NewDesc(
		"kycops_uptime_seconds",
		"Seconds since process start",
		nil, nil,
	)
)

// Collector exposes the aggregator snapshot to Prometheus on every scrape.
type Collector struct {
	agg *Aggregator
}

// NewCollector wraps agg as a prometheus.Collector.
func NewCollector(agg *Aggregator) *Collector {
	return &Collector{agg: agg}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- uploadsDesc
	ch <- submissionsDesc
	ch <- errorsDesc
	ch <- successRateDesc
	ch <- avgUploadDesc
	ch <- uptimeDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.agg.Snapshot()

	ch <- prometheus.MustNewConstMetric(uploadsDesc, prometheus.GaugeValue, float64(snap.Uploads.Success), "success")
	ch <- prometheus.MustNewConstMetric(uploadsDesc, prometheus.GaugeValue, float64(snap.Uploads.Failed), "failed")

	ch <- prometheus.MustNewConstMetric(submissionsDesc, prometheus.GaugeValue, float64(snap.Submissions.Pending), "pending")
	ch <- prometheus.MustNewConstMetric(submissionsDesc, prometheus.GaugeValue, float64(snap.Submissions.Approved), "approved")
	ch <- prometheus.MustNewConstMetric(submissionsDesc, prometheus.GaugeValue, float64(snap.Submissions.Rejected), "rejected")

	for kind, n := range snap.Errors {
		ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.GaugeValue, float64(n), kind)
	}

	ch <- prometheus.MustNewConstMetric(successRateDesc, prometheus.GaugeValue, snap.SuccessRate)
	ch <- prometheus.MustNewConstMetric(avgUploadDesc, prometheus.GaugeValue, snap.AvgUploadTime)
	ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, snap.Uptime.Seconds())
}
