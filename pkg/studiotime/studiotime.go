// Package studiotime handles the studio's wall-clock math. Schedules are
// authored in the studio's local time, which is a fixed UTC offset with no
// daylight saving, while everything is stored and compared as UTC instants.
package studiotime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock converts between UTC instants and the studio's local wall clock.
type Clock struct {
	loc *time.Location
}

// NewClock builds a Clock for the given fixed UTC offset in hours.
func NewClock(utcOffsetHours int) *Clock {
	name := fmt.Sprintf("UTC%+d", utcOffsetHours)
	return &Clock{loc: time.FixedZone(name, utcOffsetHours*3600)}
}

// Location returns the studio's fixed-offset location.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// StartOfDay returns the UTC instant at which t's studio-local day begins.
func (c *Clock) StartOfDay(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc).UTC()
}

// SameDay reports whether a and b fall on the same studio-local calendar day.
func (c *Clock) SameDay(a, b time.Time) bool {
	la, lb := a.In(c.loc), b.In(c.loc)
	return la.Year() == lb.Year() && la.YearDay() == lb.YearDay()
}

// Weekday returns t's weekday on the studio's wall clock.
func (c *Clock) Weekday(t time.Time) time.Weekday {
	return t.In(c.loc).Weekday()
}

// At combines day's studio-local calendar date with a "HH:MM" wall-clock time
// and returns the resulting UTC instant.
func (c *Clock) At(day time.Time, wall string) (time.Time, error) {
	hour, minute, err := parseWall(wall)
	if err != nil {
		return time.Time{}, err
	}
	local := day.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, c.loc).UTC(), nil
}

func parseWall(wall string) (int, int, error) {
	parts := strings.SplitN(wall, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid wall-clock time %q", wall)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", wall)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", wall)
	}
	return hour, minute, nil
}

// HoursUntil returns the whole and fractional hours from now until t.
func HoursUntil(now, t time.Time) float64 {
	return t.Sub(now).Hours()
}
