package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"kycops/internal/registry/models"
	"kycops/pkg/platform/sentinel"
	"kycops/pkg/requestcontext"
)

// InMemory is a mutex-guarded record table. Records are cloned on the way in
// and out so callers never alias the stored slot.
type InMemory struct {
	mu        sync.RWMutex
	records   map[string]*models.Record
	byContact map[string][]string // normalized contact -> record ids, in insertion order
}

// NewInMemory creates an empty in-memory registry.
func NewInMemory() *InMemory {
	return &InMemory{
		records:   make(map[string]*models.Record),
		byContact: make(map[string][]string),
	}
}

// Put inserts a new record. Returns sentinel.ErrAlreadyUsed if the id exists.
func (s *InMemory) Put(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("application %s: %w", rec.ID, sentinel.ErrAlreadyUsed)
	}
	s.records[rec.ID] = rec.Clone()
	key := rec.ContactKey()
	s.byContact[key] = append(s.byContact[key], rec.ID)
	return nil
}

// Get returns a copy of the record or sentinel.ErrNotFound.
func (s *InMemory) Get(_ context.Context, id string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns all records ordered by submission time.
func (s *InMemory) List(_ context.Context) ([]*models.Record, error) {
	s.mu.RLock()
	out := make([]*models.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *models.Record) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// CountRecentByContact counts records for contact submitted within window of
// the request time, regardless of status.
func (s *InMemory) CountRecentByContact(ctx context.Context, contact string, window time.Duration) (RecentCount, error) {
	cutoff := requestcontext.Now(ctx).Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rc RecentCount
	for _, id := range s.byContact[models.NormalizeContact(contact)] {
		rec := s.records[id]
		if rec == nil || !rec.SubmittedAt.After(cutoff) {
			continue
		}
		rc.Count++
		if rc.Oldest.IsZero() || rec.SubmittedAt.Before(rc.Oldest) {
			rc.Oldest = rec.SubmittedAt
		}
	}
	return rc, nil
}

// Update validates and mutates a record under the write lock, so the check and
// the transition are atomic against concurrent updates of the same record.
// The mutation runs on a copy and is committed only when validate passes.
func (s *InMemory) Update(_ context.Context, id string, validate ValidateFunc, apply ApplyFunc) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	next := current.Clone()
	if validate != nil {
		if err := validate(next); err != nil {
			return nil, err
		}
	}
	apply(next)
	s.records[id] = next
	return next.Clone(), nil
}

// Len returns the number of stored records.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
