package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"kycops/internal/registry/models"
	"kycops/pkg/platform/sentinel"
	"kycops/pkg/requestcontext"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS kyc_applications (
	id           TEXT PRIMARY KEY,
	email        TEXT NOT NULL,
	status       TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	payload      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS kyc_applications_email_submitted_idx
	ON kyc_applications (email, submitted_at);
`

// Postgres persists application records in PostgreSQL. The full record is
// stored as JSONB; email, status and submitted_at are mirrored into columns
// for the rate-limit query.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed registry.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the applications table if it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Put inserts a new record. Returns sentinel.ErrAlreadyUsed if the id exists.
func (s *Postgres) Put(ctx context.Context, rec *models.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal application: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kyc_applications (id, email, status, submitted_at, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.ContactKey(), string(rec.Status), rec.SubmittedAt, payload)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("application %s: %w", rec.ID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

// Get returns the record or sentinel.ErrNotFound.
func (s *Postgres) Get(ctx context.Context, id string) (*models.Record, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM kyc_applications WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return decodeRecord(payload)
}

// List returns all records ordered by submission time.
func (s *Postgres) List(ctx context.Context) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM kyc_applications ORDER BY submitted_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}
	return out, nil
}

// CountRecentByContact counts records for contact submitted within window of
// the request time, regardless of status.
func (s *Postgres) CountRecentByContact(ctx context.Context, contact string, window time.Duration) (RecentCount, error) {
	cutoff := requestcontext.Now(ctx).Add(-window)

	var count int
	var oldest sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*), min(submitted_at)
		FROM kyc_applications
		WHERE email = $1 AND submitted_at > $2
	`, models.NormalizeContact(contact), cutoff).Scan(&count, &oldest)
	if err != nil {
		return RecentCount{}, fmt.Errorf("count recent applications: %w", err)
	}
	rc := RecentCount{Count: count}
	if oldest.Valid {
		rc.Oldest = oldest.Time
	}
	return rc, nil
}

// Update locks the row, validates and applies the mutation in one transaction.
func (s *Postgres) Update(ctx context.Context, id string, validate ValidateFunc, apply ApplyFunc) (*models.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var payload []byte
	err = tx.QueryRowContext(ctx, `SELECT payload FROM kyc_applications WHERE id = $1 FOR UPDATE`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock application: %w", err)
	}
	rec, err := decodeRecord(payload)
	if err != nil {
		return nil, err
	}
	if validate != nil {
		if err := validate(rec); err != nil {
			return nil, err
		}
	}
	apply(rec)

	next, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal application: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE kyc_applications SET status = $2, payload = $3 WHERE id = $1
	`, id, string(rec.Status), next); err != nil {
		return nil, fmt.Errorf("update application: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return rec, nil
}

func decodeRecord(payload []byte) (*models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode application: %w", err)
	}
	return &rec, nil
}
