// Package httptransport assembles the HTTP API: public applicant routes,
// JWT-protected admin routes, health and Prometheus endpoints.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"kycops/internal/ratelimit"
	authmw "kycops/pkg/platform/middleware/auth"
	"kycops/pkg/platform/middleware/metadata"
	"kycops/pkg/platform/middleware/request"
	"kycops/pkg/platform/middleware/requesttime"
)

// RouteRegistrar mounts a module's routes on a router.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// LifecycleRoutes is implemented by the lifecycle handler.
type LifecycleRoutes interface {
	RegisterPublic(r chi.Router)
	RegisterAdmin(r chi.Router)
}

// Deps are the collaborators the router mounts. Lifecycle, Ops and Admin are
// required; any other nil field switches the matching feature off.
type Deps struct {
	Logger    *slog.Logger
	Lifecycle LifecycleRoutes
	Documents RouteRegistrar
	Ops       *OpsHandler
	Admin     authmw.AdminValidator
	Limiter   *ratelimit.Middleware
	// Monitor wraps every request; typically the monitoring middleware.
	Monitor        func(http.Handler) http.Handler
	Prometheus     http.Handler
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter wires all endpoints.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(request.RequestID)
	r.Use(request.Recovery(d.Logger))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	if len(d.AllowedOrigins) > 0 {
		r.Use(request.CORS(d.AllowedOrigins))
	}
	if d.Monitor != nil {
		r.Use(d.Monitor)
	}
	if d.RequestTimeout > 0 {
		r.Use(chimw.Timeout(d.RequestTimeout))
	}

	if d.Prometheus != nil {
		r.Method(http.MethodGet, "/metrics", d.Prometheus)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", d.Ops.HandleHealth)

		r.Group(func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(d.Limiter.RateLimit(ratelimit.ClassUpload))
			}
			if d.Documents != nil {
				d.Documents.Register(r)
			}
		})

		r.Group(func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(d.Limiter.RateLimit(ratelimit.ClassAPI))
			}
			d.Lifecycle.RegisterPublic(r)

			r.Route("/admin", func(r chi.Router) {
				r.Use(authmw.RequireAdmin(d.Admin, d.Logger))
				d.Lifecycle.RegisterAdmin(r)
				r.Get("/metrics", d.Ops.HandleMetrics)
				r.Post("/jobs/{name}/run", d.Ops.HandleRunJob)
			})
		})
	})

	return r
}
