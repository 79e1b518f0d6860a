package testutil

import (
	"net/http"
	"time"

	"kycops/pkg/requestcontext"
)

// AsAdmin marks the request as coming from an authenticated administrator,
// the state the admin auth middleware leaves behind.
func AsAdmin(req *http.Request, email string) *http.Request {
	return req.WithContext(requestcontext.WithApprover(req.Context(), email))
}

// FromClient attaches client IP and User-Agent as the metadata middleware would.
func FromClient(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}

// At pins the request-scoped clock.
func At(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
