// Package relay forwards accepted applications to downstream processing.
// Forwarding is best-effort: callers log failures and never retry here.
package relay

import (
	"context"
	"errors"
	"time"

	"kycops/internal/registry/models"
)

// ErrCircuitOpen is returned while the downstream is considered unhealthy.
var ErrCircuitOpen = errors.New("relay: circuit open")

// Envelope is the JSON document sent downstream.
type Envelope struct {
	Event       string         `json:"event"`
	ForwardedAt time.Time      `json:"forwarded_at"`
	Application *models.Record `json:"application"`
}

// EventSubmitted names the envelope for a new application.
const EventSubmitted = "kyc.application.submitted"

// Noop accepts every record without forwarding it.
type Noop struct{}

func (Noop) Forward(context.Context, *models.Record) error { return nil }

// Forwarder hands one record to downstream processing.
type Forwarder interface {
	Forward(ctx context.Context, rec *models.Record) error
}

// Fanout forwards to every relay and joins their errors.
type Fanout []Forwarder

func (f Fanout) Forward(ctx context.Context, rec *models.Record) error {
	var errs []error
	for _, r := range f {
		if err := r.Forward(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
