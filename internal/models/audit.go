package models

import "time"

const (
	AuditBookingCreated = "booking_created"
	AuditStatusChanged  = "status_changed"
	AuditStatusOverride = "status_override"
	AuditSlotReleased   = "slot_released"
)

// AuditEntry is an immutable record of a lifecycle action.
type AuditEntry struct {
	ID        int64          `json:"id"`
	BookingID int64          `json:"booking_id"`
	Action    string         `json:"action"`
	Detail    map[string]any `json:"detail,omitempty"`
	Actor     string         `json:"actor"`
	CreatedAt time.Time      `json:"created_at"`
}
