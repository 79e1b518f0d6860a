package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"kycops/internal/registry/models"
	"kycops/pkg/platform/sentinel"
	"kycops/pkg/requestcontext"
)

const (
	recordKeyPrefix  = "kyc:app:"
	contactKeyPrefix = "kyc:contact:"
	recordIndexKey   = "kyc:apps"

	maxUpdateRetries = 5
)

// Redis stores records as JSON strings with two sorted-set indexes scored by
// submission time in unix milliseconds: one per contact and one global.
type Redis struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed registry.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func recordKey(id string) string { return recordKeyPrefix + id }

func contactKey(contact string) string { return contactKeyPrefix + models.NormalizeContact(contact) }

// Put inserts a new record. Returns sentinel.ErrAlreadyUsed if the id exists.
func (s *Redis) Put(ctx context.Context, rec *models.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal application: %w", err)
	}
	ok, err := s.client.SetNX(ctx, recordKey(rec.ID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	if !ok {
		return fmt.Errorf("application %s: %w", rec.ID, sentinel.ErrAlreadyUsed)
	}

	score := float64(rec.SubmittedAt.UnixMilli())
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, contactKey(rec.Applicant.Email), redis.Z{Score: score, Member: rec.ID})
		pipe.ZAdd(ctx, recordIndexKey, redis.Z{Score: score, Member: rec.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("index application: %w", err)
	}
	return nil
}

// Get returns the record or sentinel.ErrNotFound.
func (s *Redis) Get(ctx context.Context, id string) (*models.Record, error) {
	payload, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return decodeRecord(payload)
}

// List returns all records ordered by submission time.
func (s *Redis) List(ctx context.Context) ([]*models.Record, error) {
	ids, err := s.client.ZRange(ctx, recordIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load applications: %w", err)
	}
	out := make([]*models.Record, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// CountRecentByContact counts records for contact submitted within window of
// the request time, regardless of status.
func (s *Redis) CountRecentByContact(ctx context.Context, contact string, window time.Duration) (RecentCount, error) {
	cutoff := requestcontext.Now(ctx).Add(-window).UnixMilli()
	entries, err := s.client.ZRangeByScoreWithScores(ctx, contactKey(contact), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return RecentCount{}, fmt.Errorf("count recent applications: %w", err)
	}
	rc := RecentCount{Count: len(entries)}
	if len(entries) > 0 {
		rc.Oldest = time.UnixMilli(int64(entries[0].Score))
	}
	return rc, nil
}

// Update uses optimistic locking: the record key is watched and the write is
// retried when another client modified it in between.
func (s *Redis) Update(ctx context.Context, id string, validate ValidateFunc, apply ApplyFunc) (*models.Record, error) {
	key := recordKey(id)
	var result *models.Record

	txf := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get application: %w", err)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return err
		}
		if validate != nil {
			if err := validate(rec); err != nil {
				return err
			}
		}
		apply(rec)
		next, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal application: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = rec
		return nil
	}

	for range maxUpdateRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("update application %s: %w", id, sentinel.ErrUnavailable)
}
