package probe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskUsageInRange(t *testing.T) {
	p := NewDisk(t.TempDir())
	pct, err := p.CurrentUsagePercent(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pct, 0.0)
	assert.LessOrEqual(t, pct, 100.0)
}

func TestDiskUsageMissingPath(t *testing.T) {
	_, err := NewDisk("/definitely/not/a/mount/point").CurrentUsagePercent(context.Background())
	assert.Error(t, err)
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, "/", NewDisk("").Path)
}
