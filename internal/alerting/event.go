// Package alerting builds alert events and fans them out to independently
// configured delivery channels.
package alerting

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "kycops/pkg/domain-errors"
)

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// IsValid reports whether l is a known level.
func (l Level) IsValid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelCritical:
		return true
	}
	return false
}

// Upper returns the level in upper case, as used in subjects.
func (l Level) Upper() string {
	return strings.ToUpper(string(l))
}

// Event is an immutable alert. Construct with NewEvent; the zero value is
// never delivered.
type Event struct {
	id        string
	level     Level
	title     string
	message   string
	timestamp time.Time
	details   map[string]any
}

// NewEvent validates and constructs an alert. details is copied.
func NewEvent(level Level, title, message string, details map[string]any, at time.Time) (Event, error) {
	if !level.IsValid() {
		return Event{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid alert level %q", level))
	}
	if strings.TrimSpace(title) == "" {
		return Event{}, dErrors.New(dErrors.CodeValidation, "alert title cannot be empty")
	}
	if at.IsZero() {
		at = time.Now()
	}
	return Event{
		id:        uuid.NewString(),
		level:     level,
		title:     title,
		message:   message,
		timestamp: at.UTC(),
		details:   maps.Clone(details),
	}, nil
}

func (e Event) ID() string           { return e.id }
func (e Event) Level() Level         { return e.level }
func (e Event) Title() string        { return e.title }
func (e Event) Message() string      { return e.message }
func (e Event) Timestamp() time.Time { return e.timestamp }

// Details returns a shallow copy of the operator context.
func (e Event) Details() map[string]any {
	return maps.Clone(e.details)
}

// Valid reports whether the event carries a non-empty title and a valid level.
func (e Event) Valid() bool {
	return e.level.IsValid() && strings.TrimSpace(e.title) != ""
}

// TimestampString formats the timestamp as RFC 3339 with milliseconds.
func (e Event) TimestampString() string {
	return e.timestamp.Format("2006-01-02T15:04:05.000Z07:00")
}
