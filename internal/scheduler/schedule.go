package scheduler

import (
	"fmt"
	"time"
)

// Schedule yields the next run time strictly after the given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Every fires at a fixed interval measured from the previous run.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}

func (e Every) String() string {
	return "every " + time.Duration(e).String()
}

// DailyAt fires once a day at Hour:Minute in Location (UTC when nil).
type DailyAt struct {
	Hour     int
	Minute   int
	Location *time.Location
}

func (d DailyAt) Next(after time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	local := after.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.Hour, d.Minute, 0, 0, loc)
	}
	return next
}

func (d DailyAt) String() string {
	return fmt.Sprintf("daily at %02d:%02d", d.Hour, d.Minute)
}

// ParseDaily parses "HH:MM" into a DailyAt.
func ParseDaily(raw string, loc *time.Location) (DailyAt, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return DailyAt{}, fmt.Errorf("parse daily time %q: %w", raw, err)
	}
	return DailyAt{Hour: t.Hour(), Minute: t.Minute(), Location: loc}, nil
}
