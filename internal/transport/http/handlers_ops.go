package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kycops/internal/monitoring/metrics"
	"kycops/pkg/platform/httputil"
	"kycops/pkg/requestcontext"
)

// SnapshotSource exposes the live operational metrics.
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
	StartedAt() time.Time
}

// JobRunner triggers a scheduled job on demand.
type JobRunner interface {
	RunNow(ctx context.Context, name string) error
}

// OpsHandler serves health, metrics and manual job triggers.
type OpsHandler struct {
	metrics SnapshotSource
	jobs    JobRunner
	logger  *slog.Logger
}

func NewOpsHandler(source SnapshotSource, jobs JobRunner, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{metrics: source, jobs: jobs, logger: logger}
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string           `json:"status"`
	Uptime    float64          `json:"uptime"`
	Timestamp string           `json:"timestamp"`
	Metrics   metrics.Snapshot `json:"metrics"`
}

type jobRunResponse struct {
	Success bool   `json:"success"`
	Job     string `json:"job"`
	Message string `json:"message"`
}

func (h *OpsHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	now := requestcontext.Now(r.Context())
	httputil.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Uptime:    now.Sub(h.metrics.StartedAt()).Seconds(),
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Metrics:   h.metrics.Snapshot(),
	})
}

func (h *OpsHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.metrics.Snapshot())
}

func (h *OpsHandler) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	if err := h.jobs.RunNow(ctx, name); err != nil {
		h.logger.WarnContext(ctx, "manual job run failed",
			"job", name,
			"error", err,
			"approver", requestcontext.Approver(ctx),
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "manual job run",
		"job", name,
		"approver", requestcontext.Approver(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, jobRunResponse{Success: true, Job: name, Message: "Job completed"})
}
