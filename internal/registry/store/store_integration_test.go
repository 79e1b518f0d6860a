//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kycops/internal/registry/models"
	dErrors "kycops/pkg/domain-errors"
	"kycops/pkg/platform/sentinel"
	"kycops/pkg/requestcontext"
	"kycops/pkg/testutil/containers"
)

// registry is the method set shared by every backend under test.
type registry interface {
	Put(ctx context.Context, rec *models.Record) error
	Get(ctx context.Context, id string) (*models.Record, error)
	List(ctx context.Context) ([]*models.Record, error)
	CountRecentByContact(ctx context.Context, contact string, window time.Duration) (RecentCount, error)
	Update(ctx context.Context, id string, validate ValidateFunc, apply ApplyFunc) (*models.Record, error)
}

type BackendSuite struct {
	suite.Suite
	newStore func() registry
	store    registry
	ctx      context.Context
	now      time.Time
}

func TestPostgresStore(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	s := &BackendSuite{newStore: func() registry {
		st := NewPostgres(pg.DB)
		if err := st.EnsureSchema(context.Background()); err != nil {
			t.Fatalf("ensure schema: %v", err)
		}
		if _, err := pg.DB.Exec(`TRUNCATE kyc_applications`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return st
	}}
	suite.Run(t, s)
}

func TestRedisStore(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	s := &BackendSuite{newStore: func() registry {
		if err := rc.FlushAll(context.Background()); err != nil {
			t.Fatalf("flush: %v", err)
		}
		return NewRedis(rc.Client)
	}}
	suite.Run(t, s)
}

func (s *BackendSuite) SetupTest() {
	s.store = s.newStore()
	s.now = time.Now().UTC().Truncate(time.Millisecond)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *BackendSuite) put(idNumber, email string, at time.Time) *models.Record {
	rec, err := models.NewRecord(
		models.Applicant{FullName: "Integration", Email: email, IDNumber: idNumber},
		models.Documents{IDFront: "f", IDBack: "b", ProofOfAddress: "p", PassportPhoto: "pp"},
		models.SourceInfo{Channel: "web_form"},
		at,
	)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Put(s.ctx, rec))
	return rec
}

func (s *BackendSuite) TestPutGetDuplicate() {
	rec := s.put("1", "a@example.com", s.now)

	found, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.Applicant, found.Applicant)
	s.True(rec.SubmittedAt.Equal(found.SubmittedAt))

	s.ErrorIs(s.store.Put(s.ctx, rec), sentinel.ErrAlreadyUsed)

	_, err = s.store.Get(s.ctx, "APP-none-0")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *BackendSuite) TestCountRecentByContact() {
	s.put("10", "Repeat@example.com", s.now.Add(-2*time.Hour))
	older := s.put("11", "repeat@example.com", s.now.Add(-30*time.Minute))
	s.put("12", "repeat@example.com", s.now.Add(-5*time.Minute))

	rc, err := s.store.CountRecentByContact(s.ctx, "REPEAT@example.com", time.Hour)
	s.Require().NoError(err)
	s.Equal(2, rc.Count)
	s.True(older.SubmittedAt.Equal(rc.Oldest))
}

func (s *BackendSuite) TestUpdateAndList() {
	a := s.put("20", "a@example.com", s.now.Add(-time.Second))
	b := s.put("21", "b@example.com", s.now)

	updated, err := s.store.Update(s.ctx, a.ID, (*models.Record).CanApprove, func(r *models.Record) {
		r.ApplyApproval("admin", s.now)
	})
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, updated.Status)

	_, err = s.store.Update(s.ctx, a.ID, (*models.Record).CanReject, func(r *models.Record) {
		r.ApplyRejection("admin", "late", s.now)
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = s.store.Update(s.ctx, "APP-none-0", nil, func(*models.Record) {})
	s.ErrorIs(err, sentinel.ErrNotFound)

	all, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(a.ID, all[0].ID)
	s.Equal(models.StatusApproved, all[0].Status)
	s.Equal(b.ID, all[1].ID)
}

func (s *BackendSuite) TestConcurrentDecisions() {
	rec := s.put("30", "race@example.com", s.now)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 10 {
		wg.Go(func() {
			_, err := s.store.Update(s.ctx, rec.ID, (*models.Record).CanApprove, func(r *models.Record) {
				r.ApplyApproval("admin", s.now)
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	s.Equal(1, wins)
}
