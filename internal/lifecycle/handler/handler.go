package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kycops/internal/lifecycle"
	"kycops/internal/registry/models"
	dErrors "kycops/pkg/domain-errors"
	"kycops/pkg/platform/httputil"
	"kycops/pkg/requestcontext"
)

// Service defines the lifecycle operations exposed over HTTP.
type Service interface {
	Submit(ctx context.Context, cmd lifecycle.SubmitCommand) (*models.Record, error)
	Approve(ctx context.Context, id, approver string) (*models.Record, error)
	Reject(ctx context.Context, id, approver, reason string) (*models.Record, error)
	Get(ctx context.Context, id string) (*models.Record, error)
	List(ctx context.Context) ([]*models.Record, error)
}

// Handler serves the public submission endpoint and the admin review endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New creates a lifecycle Handler.
func New(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterPublic registers the applicant-facing routes.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/kyc/submit", h.HandleSubmit)
}

// RegisterAdmin registers the review routes. The caller mounts them behind
// admin authentication.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/applications", h.HandleList)
	r.Get("/applications/{id}", h.HandleGet)
	r.Post("/applications/{id}/approve", h.HandleApprove)
	r.Post("/applications/{id}/reject", h.HandleReject)
}

// HandleSubmit stores a new pending application.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rec, err := h.service.Submit(ctx, req.Command(sourceFromContext(ctx)))
	if err != nil {
		h.logFailure(ctx, "submit", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSubmitResponse(rec))
}

// HandleList returns every application ordered by submission time.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recs, err := h.service.List(ctx)
	if err != nil {
		h.logFailure(ctx, "list", err)
		httputil.WriteError(w, err)
		return
	}
	if recs == nil {
		recs = []*models.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, recs)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure(ctx, "get", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// HandleApprove approves a pending application as the authenticated admin.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.service.Approve(ctx, chi.URLParam(r, "id"), requestcontext.Approver(ctx))
	if err != nil {
		h.logFailure(ctx, "approve", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DecisionResponse{
		Success: true,
		Message: "Application approved",
		AgentID: rec.AgentID,
	})
}

// HandleReject rejects a pending application. The body may carry a reason.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var reason string
	if r.ContentLength != 0 {
		req, ok := httputil.DecodeAndPrepare[RejectRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
		reason = req.Reason
	}

	if _, err := h.service.Reject(ctx, chi.URLParam(r, "id"), requestcontext.Approver(ctx), reason); err != nil {
		h.logFailure(ctx, "reject", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DecisionResponse{
		Success: true,
		Message: "Application rejected",
	})
}

// logFailure logs server-side failures at error level and client mistakes
// at info level.
func (h *Handler) logFailure(ctx context.Context, operation string, err error) {
	code := dErrors.CodeOf(err)
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"operation", operation,
		"code", string(code),
		"error", err,
	}
	if httputil.StatusFor(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "application request failed", attrs...)
		return
	}
	h.logger.InfoContext(ctx, "application request rejected", attrs...)
}
