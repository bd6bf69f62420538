// Package econcalendar flags upcoming high-impact economic events (CPI,
// FOMC rate decisions, NFP) that the AI adapter (C8) treats as a
// market-safety override window, adapted from the teacher's
// markethours.IsHoliday fixed-schedule/date-key lookup — instead of
// excluding a trading session entirely, a hit here only suppresses new
// entries for a short window around the event.
package econcalendar

import "time"

// Event is a single scheduled high-impact release.
type Event struct {
	Name string
	At   time.Time
}

// BlackoutWindow bounds how long before/after an event entries are blocked
// (§4.8: "a flagged upcoming economic event window").
const BlackoutWindow = 30 * time.Minute

// Calendar holds a fixed, operator-maintained schedule of upcoming events.
type Calendar struct {
	events []Event
}

func New(events []Event) *Calendar {
	c := &Calendar{events: append([]Event{}, events...)}
	return c
}

// InBlackout reports whether now falls within BlackoutWindow of any
// scheduled event.
func (c *Calendar) InBlackout(now time.Time) (bool, *Event) {
	for i := range c.events {
		e := c.events[i]
		diff := e.At.Sub(now)
		if diff < 0 {
			diff = -diff
		}
		if diff <= BlackoutWindow {
			return true, &e
		}
	}
	return false, nil
}

// Upcoming returns events within the given horizon, ordered as stored.
func (c *Calendar) Upcoming(now time.Time, horizon time.Duration) []Event {
	var out []Event
	for _, e := range c.events {
		if e.At.After(now) && e.At.Before(now.Add(horizon)) {
			out = append(out, e)
		}
	}
	return out
}
