//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycops/pkg/testutil/containers"
)

func TestRedisAllow(t *testing.T) {
	ctx := context.Background()
	rc := containers.NewRedisContainer(t)
	store := NewRedis(rc.Client)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	for i := range 3 {
		res, err := store.Allow(ctx, "upload:192.0.2.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
		now = now.Add(time.Second)
	}

	res, err := store.Allow(ctx, "upload:192.0.2.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 1, 0, 0, time.UTC), res.ResetAt.UTC())

	now = now.Add(time.Minute)
	res, err = store.Allow(ctx, "upload:192.0.2.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
