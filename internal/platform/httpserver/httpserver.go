package httpserver

import (
	"net/http"
	"time"

	"kycops/internal/platform/config"
)

const (
	headerTimeout = 5 * time.Second
	// uploadWindow bounds one 10 MB document upload on a slow link.
	uploadWindow   = 2 * time.Minute
	maxHeaderBytes = 1 << 20
)

// New returns the API server for cfg.Addr. Body reads and writes get the
// longer of the request timeout and the upload window.
func New(cfg config.Server, handler http.Handler) *http.Server {
	bodyTimeout := max(cfg.RequestTimeout, uploadWindow)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: headerTimeout,
		ReadTimeout:       bodyTimeout,
		WriteTimeout:      bodyTimeout,
		IdleTimeout:       bodyTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
}
