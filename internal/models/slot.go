package models

import (
	"fmt"
	"time"
)

type Slot struct {
	ID          int64     `json:"id"`
	Date        time.Time `json:"date"`
	StartTime   string    `json:"start_time"`
	IsAvailable bool      `json:"is_available"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// StartsAt combines the slot date and start time in loc.
func (s Slot) StartsAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	clock, err := time.Parse(TimeLayout, s.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse start time %q: %w", s.StartTime, err)
	}
	return time.Date(s.Date.Year(), s.Date.Month(), s.Date.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

type SlotFilter struct {
	From          time.Time
	To            time.Time
	AvailableOnly bool
	Limit         int
}
