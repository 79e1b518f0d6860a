// Package store holds RegistryStore implementations: an in-memory table for
// single-process deployments and Postgres/Redis variants for records that must
// survive a restart.
package store

import (
	"time"

	"kycops/internal/registry/models"
)

// RecentCount describes a contact's submissions within a window.
// Oldest is zero when Count is zero.
type RecentCount struct {
	Count  int
	Oldest time.Time
}

// ValidateFunc inspects a record before mutation. A non-nil error aborts the
// update and is returned unchanged.
type ValidateFunc func(*models.Record) error

// ApplyFunc mutates a record after validation succeeded.
type ApplyFunc func(*models.Record)
