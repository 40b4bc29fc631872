package appointments

import (
	"fmt"
	"strings"
	"time"
)

// Clock performs civil-time arithmetic in the clinic's timezone.
//
// In legacy mode the zone is a fixed offset chosen by month (+02:00 from April
// through October, +01:00 otherwise) instead of real transition dates. Data
// written by older deployments assumed that rule.
type Clock struct {
	loc    *time.Location
	legacy bool
	now    func() time.Time
}

// NewClock loads the named zone from the tz database.
func NewClock(tz string, legacy bool) (*Clock, error) {
	if tz == "" {
		tz = "Europe/Madrid"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("appointments: load timezone %q: %w", tz, err)
	}
	return &Clock{loc: loc, legacy: legacy, now: time.Now}, nil
}

// NewClockAt builds a clock pinned to a fixed instant. Used by tests and one-off runs.
func NewClockAt(loc *time.Location, legacy bool, now time.Time) *Clock {
	return &Clock{loc: loc, legacy: legacy, now: func() time.Time { return now }}
}

// LegacyOffset returns the month-based UTC offset used in legacy mode.
func LegacyOffset(m time.Month) time.Duration {
	if m >= time.April && m <= time.October {
		return 2 * time.Hour
	}
	return time.Hour
}

func legacyZone(m time.Month) *time.Location {
	off := LegacyOffset(m)
	return time.FixedZone(fmt.Sprintf("UTC+%d", int(off.Hours())), int(off.Seconds()))
}

// Now returns the current instant expressed in the clinic zone.
func (c *Clock) Now() time.Time {
	return c.Local(c.now())
}

// Local converts an instant to clinic civil time.
func (c *Clock) Local(t time.Time) time.Time {
	if c.legacy {
		u := t.UTC()
		// The month is judged on the shifted time so month boundaries match local dates.
		return u.In(legacyZone(u.Add(LegacyOffset(u.Month())).Month()))
	}
	return t.In(c.loc)
}

// Location returns the zone that applies to the given civil date.
func (c *Clock) Location(year int, month time.Month) *time.Location {
	if c.legacy {
		return legacyZone(month)
	}
	return c.loc
}

// Date builds a clinic-local instant from civil components.
func (c *Clock) Date(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, c.Location(year, month))
}

// Today returns local midnight of the current day.
func (c *Clock) Today() time.Time {
	n := c.Now()
	return c.Date(n.Year(), n.Month(), n.Day(), 0, 0)
}

// Tomorrow returns local midnight of the next day.
func (c *Clock) Tomorrow() time.Time {
	t := c.Today()
	return c.Date(t.Year(), t.Month(), t.Day()+1, 0, 0)
}

// DayBounds returns [start, end) of the civil day containing date.
func (c *Clock) DayBounds(date time.Time) (time.Time, time.Time) {
	y, m, d := date.Date()
	start := c.Date(y, m, d, 0, 0)
	end := c.Date(y, m, d+1, 0, 0)
	return start, end
}

// ParseDate parses YYYY-MM-DD as local midnight.
func (c *Clock) ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidTime, raw)
	}
	return c.Date(d.Year(), d.Month(), d.Day(), 0, 0), nil
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseLocal parses an ISO-8601 timestamp. An explicit offset is honored;
// naive timestamps are read as clinic civil time.
func (c *Clock) ParseLocal(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return c.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()).Add(time.Duration(t.Second()) * time.Second), nil
		}
	}
	if t, err := c.ParseDate(raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrInvalidTime, raw)
}

// ParseClock parses an HH:MM time of day.
func ParseClock(raw string) (hour, min int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time of day %q", ErrInvalidTime, raw)
	}
	return t.Hour(), t.Minute(), nil
}
