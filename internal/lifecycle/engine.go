// Package lifecycle owns the application state machine: submission with
// per-contact rate limiting, approval and rejection. Notifications and the
// downstream relay run after the transition is committed and never affect
// its outcome.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kycops/internal/notify"
	"kycops/internal/registry/models"
	"kycops/internal/registry/store"
	dErrors "kycops/pkg/domain-errors"
	"kycops/pkg/platform/sentinel"
	"kycops/pkg/requestcontext"
)

const (
	DefaultRateLimit  = 3
	DefaultRateWindow = time.Hour
)

// RegistryStore persists application records.
type RegistryStore interface {
	Put(ctx context.Context, rec *models.Record) error
	Get(ctx context.Context, id string) (*models.Record, error)
	List(ctx context.Context) ([]*models.Record, error)
	CountRecentByContact(ctx context.Context, contact string, window time.Duration) (store.RecentCount, error)
	Update(ctx context.Context, id string, validate store.ValidateFunc, apply store.ApplyFunc) (*models.Record, error)
}

// Notifier delivers one message to one recipient.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Relay hands a new record to downstream processing.
type Relay interface {
	Forward(ctx context.Context, rec *models.Record) error
}

// MetricsRecorder receives submission counts and absorbed error kinds.
type MetricsRecorder interface {
	RecordSubmission(status models.Status, duration time.Duration)
	ErrorRecorder
}

// ErrorRecorder counts error kinds.
type ErrorRecorder interface {
	RecordError(kind string)
}

// SubmitCommand is a validated-at-the-edge submission payload.
type SubmitCommand struct {
	Applicant models.Applicant
	Documents models.Documents
	Source    models.SourceInfo
}

// MissingFields lists the required fields that are empty.
func (c SubmitCommand) MissingFields() []string {
	required := []struct {
		name  string
		value string
	}{
		{"full_name", c.Applicant.FullName},
		{"email", c.Applicant.Email},
		{"id_number", c.Applicant.IDNumber},
		{"phone", c.Applicant.Phone},
		{"address", c.Applicant.Address},
		{"id_front_url", c.Documents.IDFront},
		{"id_back_url", c.Documents.IDBack},
		{"proof_of_address_url", c.Documents.ProofOfAddress},
		{"passport_photo_url", c.Documents.PassportPhoto},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Engine drives application records through pending -> approved | rejected.
type Engine struct {
	store    RegistryStore
	queue    *Queue
	notifier Notifier
	composer notify.Composer
	relay    Relay
	recorder MetricsRecorder
	admins   []string

	rateLimit  int
	rateWindow time.Duration

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithRecorder sets the aggregator receiving submission counts.
func WithRecorder(r MetricsRecorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithNotifier sets the transport for applicant and admin messages.
func WithNotifier(n Notifier, composer notify.Composer) Option {
	return func(e *Engine) {
		e.notifier = n
		e.composer = composer
	}
}

// WithAdminRecipients sets who receives new-application notices.
func WithAdminRecipients(addrs ...string) Option {
	return func(e *Engine) {
		e.admins = append(e.admins[:0], addrs...)
	}
}

func WithRelay(r Relay) Option {
	return func(e *Engine) {
		e.relay = r
	}
}

// WithRateLimit admits at most limit submissions per contact within window.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.rateLimit = limit
		}
		if window > 0 {
			e.rateWindow = window
		}
	}
}

// New creates an engine. Side effects are submitted to queue; a nil queue
// disables them.
func New(st RegistryStore, queue *Queue, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		queue:      queue,
		rateLimit:  DefaultRateLimit,
		rateWindow: DefaultRateWindow,
		logger:     slog.Default(),
		tracer:     otel.Tracer("kycops/lifecycle"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit validates the payload, enforces the per-contact rate limit, and
// stores a pending record. The limit check and the insert are separate
// steps, so concurrent submissions for one contact can overshoot the limit
// slightly.
func (e *Engine) Submit(ctx context.Context, cmd SubmitCommand) (*models.Record, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "lifecycle.submit")
	defer span.End()

	rec, err := e.submit(ctx, cmd)
	e.finish(ctx, span, "submit", err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("application.id", rec.ID))

	if e.recorder != nil {
		e.recorder.RecordSubmission(models.StatusPending, time.Since(start))
	}
	e.logger.InfoContext(ctx, "application submitted",
		"request_id", requestcontext.RequestID(ctx),
		"application_id", rec.ID,
		"applicant", rec.Applicant.FullName,
		"email", rec.Applicant.Email,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	e.notify(ctx, rec, "application_received", rec.Applicant.Email, e.composer.Received)
	for _, admin := range e.admins {
		e.notify(ctx, rec, "admin_new_application", admin, e.composer.AdminNewApplication)
	}
	e.forward(ctx, rec)
	return rec, nil
}

func (e *Engine) submit(ctx context.Context, cmd SubmitCommand) (*models.Record, error) {
	if missing := cmd.MissingFields(); len(missing) > 0 {
		return nil, dErrors.NewValidation("missing required fields: "+strings.Join(missing, ", "), missing...)
	}

	now := requestcontext.Now(ctx)
	recent, err := e.store.CountRecentByContact(ctx, cmd.Applicant.Email, e.rateWindow)
	if err != nil {
		return nil, translateStoreError(err, "check submission rate")
	}
	if recent.Count >= e.rateLimit {
		retryAfter := recent.Oldest.Add(e.rateWindow).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		e.logger.WarnContext(ctx, "submission rate limit exceeded",
			"request_id", requestcontext.RequestID(ctx),
			"email", cmd.Applicant.Email,
			"recent", recent.Count,
			"retry_after_s", int(retryAfter.Seconds()),
		)
		return nil, dErrors.NewRateLimited("too many submissions, please try again later", retryAfter)
	}

	rec, err := models.NewRecord(cmd.Applicant, cmd.Documents, cmd.Source, now)
	if err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, rec); err != nil {
		return nil, translateStoreError(err, "store application")
	}
	return rec, nil
}

// Approve moves a pending record to approved, stamps the decision and assigns
// the agent id. Approval and welcome messages follow the commit.
func (e *Engine) Approve(ctx context.Context, id, approver string) (*models.Record, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.approve", trace.WithAttributes(attribute.String("application.id", id)))
	defer span.End()

	rec, err := e.decide(ctx, id, approver, (*models.Record).CanApprove, func(r *models.Record, now time.Time) {
		r.ApplyApproval(approver, now)
	})
	e.finish(ctx, span, "approve", err)
	if err != nil {
		return nil, err
	}

	if e.recorder != nil {
		e.recorder.RecordSubmission(models.StatusApproved, 0)
	}
	e.logger.InfoContext(ctx, "application approved",
		"request_id", requestcontext.RequestID(ctx),
		"application_id", rec.ID,
		"approved_by", approver,
		"agent_id", rec.AgentID,
	)

	e.notify(ctx, rec, "application_approved", rec.Applicant.Email, e.composer.Approved)
	e.notify(ctx, rec, "welcome", rec.Applicant.Email, e.composer.Welcome)
	return rec, nil
}

// Reject moves a pending record to rejected. One rejection message carrying
// the reason follows the commit.
func (e *Engine) Reject(ctx context.Context, id, approver, reason string) (*models.Record, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.reject", trace.WithAttributes(attribute.String("application.id", id)))
	defer span.End()

	rec, err := e.decide(ctx, id, approver, (*models.Record).CanReject, func(r *models.Record, now time.Time) {
		r.ApplyRejection(approver, reason, now)
	})
	e.finish(ctx, span, "reject", err)
	if err != nil {
		return nil, err
	}

	if e.recorder != nil {
		e.recorder.RecordSubmission(models.StatusRejected, 0)
	}
	e.logger.InfoContext(ctx, "application rejected",
		"request_id", requestcontext.RequestID(ctx),
		"application_id", rec.ID,
		"rejected_by", approver,
		"reason", reason,
	)

	e.notify(ctx, rec, "application_rejected", rec.Applicant.Email, e.composer.Rejected)
	return rec, nil
}

func (e *Engine) decide(
	ctx context.Context,
	id, approver string,
	validate store.ValidateFunc,
	apply func(*models.Record, time.Time),
) (*models.Record, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "approver identity is required")
	}
	now := requestcontext.Now(ctx)
	rec, err := e.store.Update(ctx, id, validate, func(r *models.Record) {
		apply(r, now)
	})
	if err != nil {
		return nil, translateStoreError(err, "update application")
	}
	return rec, nil
}

// Get returns one record.
func (e *Engine) Get(ctx context.Context, id string) (*models.Record, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "get application")
	}
	return rec, nil
}

// List returns every record ordered by submission time.
func (e *Engine) List(ctx context.Context) ([]*models.Record, error) {
	recs, err := e.store.List(ctx)
	if err != nil {
		return nil, translateStoreError(err, "list applications")
	}
	return recs, nil
}

func (e *Engine) finish(ctx context.Context, span trace.Span, operation string, err error) {
	if err == nil {
		e.metrics.observeTransition(operation, "success")
		return
	}
	code := dErrors.CodeOf(err)
	e.metrics.observeTransition(operation, string(code))
	span.SetStatus(codes.Error, string(code))
	if code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		span.RecordError(err)
		e.logger.ErrorContext(ctx, "lifecycle operation failed",
			"request_id", requestcontext.RequestID(ctx),
			"operation", operation,
			"error", err,
		)
	}
}

// notify queues one rendered message. Rendering happens in the worker so a
// template failure is handled like a delivery failure.
func (e *Engine) notify(ctx context.Context, rec *models.Record, kind, recipient string, compose func(*models.Record) (notify.Message, error)) {
	if e.queue == nil || e.notifier == nil || recipient == "" {
		return
	}
	snapshot := rec.Clone()
	e.queue.Enqueue(ctx, Task{
		Kind:          kind,
		ApplicationID: rec.ID,
		Run: func(ctx context.Context) error {
			msg, err := compose(snapshot)
			if err != nil {
				return err
			}
			return e.notifier.Send(ctx, recipient, msg.Subject, msg.Body)
		},
	})
}

func (e *Engine) forward(ctx context.Context, rec *models.Record) {
	if e.queue == nil || e.relay == nil {
		return
	}
	snapshot := rec.Clone()
	e.queue.Enqueue(ctx, Task{
		Kind:          "relay_forward",
		ApplicationID: rec.ID,
		Run: func(ctx context.Context) error {
			return e.relay.Forward(ctx, snapshot)
		},
	})
}

// translateStoreError maps store sentinels to domain errors. Coded errors
// returned by transition checks pass through unchanged.
func translateStoreError(err error, action string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "application not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "application already exists")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvalidState, "invalid application state")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, action)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("failed to %s", action))
	}
}
