package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kycops/pkg/domain-errors"
)

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	details := map[string]any{"diskUsage": 93.5}

	ev, err := NewEvent(LevelCritical, "Low Disk Space", "Disk usage is at 93.50%", details, at)
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID())
	assert.Equal(t, LevelCritical, ev.Level())
	assert.Equal(t, at, ev.Timestamp())
	assert.Equal(t, "2026-05-01T09:00:00.000Z", ev.TimestampString())
	assert.True(t, ev.Valid())

	details["diskUsage"] = 1.0
	assert.Equal(t, 93.5, ev.Details()["diskUsage"], "event must not alias caller map")

	got := ev.Details()
	got["extra"] = true
	assert.NotContains(t, ev.Details(), "extra")
}

func TestNewEventRejectsInvalidInput(t *testing.T) {
	_, err := NewEvent("fatal", "title", "", nil, time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = NewEvent(LevelInfo, "   ", "", nil, time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	assert.False(t, Event{}.Valid())
}
