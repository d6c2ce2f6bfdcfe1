package models

import "time"

// Status is a booking lifecycle state.
type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusPaymentFailed Status = "payment_failed"
	StatusConfirmed     Status = "confirmed"
	StatusRescheduled   Status = "rescheduled"
	StatusInProgress    Status = "in_progress"
	StatusCompleted     Status = "completed"
	StatusDeclined      Status = "declined"
	StatusCancelled     Status = "cancelled"
	StatusNoShow        Status = "no_show"
)

// transitions lists the allowed targets for each source status.
// Statuses missing from the map are terminal.
var transitions = map[Status][]Status{
	StatusPending:       {StatusConfirmed, StatusCancelled, StatusProcessing, StatusDeclined},
	StatusProcessing:    {StatusConfirmed, StatusCancelled, StatusPaymentFailed},
	StatusPaymentFailed: {StatusCancelled},
	StatusConfirmed:     {StatusInProgress, StatusCancelled, StatusRescheduled},
	StatusRescheduled:   {StatusInProgress, StatusCancelled},
	StatusInProgress:    {StatusCompleted, StatusCancelled, StatusNoShow},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusPending, StatusProcessing, StatusPaymentFailed, StatusConfirmed, StatusRescheduled,
		StatusInProgress, StatusCompleted, StatusDeclined, StatusCancelled, StatusNoShow,
	}
}

func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	return s, s.Valid()
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// IsActive reports whether a booking in this status still occupies its slot
// for a future or ongoing appointment.
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusPaymentFailed, StatusConfirmed, StatusRescheduled, StatusInProgress:
		return true
	default:
		return false
	}
}

func (s Status) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// HoldsSlot reports whether the linked slot must be unavailable.
// Completed bookings keep the slot consumed.
func (s Status) HoldsSlot() bool {
	return s.IsActive() || s == StatusCompleted
}

// Reschedulable reports whether a booking may be moved to another slot.
func (s Status) Reschedulable() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusRescheduled
}

func (s Status) AllowedTargets() []Status {
	return append([]Status(nil), transitions[s]...)
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

const (
	// DateLayout is the persisted form of a slot date.
	DateLayout = "2006-01-02"
	// TimeLayout is the persisted form of a slot start time.
	TimeLayout = "15:04"
)

const (
	DefaultReferencePrefix = "MB"
	DefaultMaxCASAttempts  = 3

	// WorkerQueueSize is the in-memory notification queue capacity.
	WorkerQueueSize = 128

	DefaultRateLimitWindow = time.Minute
	DefaultListLimit       = 100
	MaxListLimit           = 1000
)
