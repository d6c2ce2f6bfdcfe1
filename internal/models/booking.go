package models

import "time"

type Booking struct {
	ID                  int64       `json:"id"`
	Reference           string      `json:"reference"`
	SlotID              int64       `json:"slot_id"`
	CustomerID          string      `json:"customer_id"`
	VehicleID           string      `json:"vehicle_id,omitempty"`
	AddressID           string      `json:"address_id,omitempty"`
	ServiceID           string      `json:"service_id,omitempty"`
	TotalPrice          int64       `json:"total_price"` // minor currency units
	Currency            string      `json:"currency,omitempty"`
	PriceBreakdown      []PriceLine `json:"price_breakdown,omitempty"`
	SpecialInstructions string      `json:"special_instructions,omitempty"`
	Status              Status      `json:"status"`
	CancellationReason  string      `json:"cancellation_reason,omitempty"`
	IdempotencyKey      string      `json:"idempotency_key,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
	ConfirmedAt         *time.Time  `json:"confirmed_at,omitempty"`
	CompletedAt         *time.Time  `json:"completed_at,omitempty"`
	CancelledAt         *time.Time  `json:"cancelled_at,omitempty"`
	Version             int64       `json:"version"`
}

// BookingDraft is everything a reservation needs besides the slot.
// The price is computed by the pricing collaborator before the draft reaches the engine.
type BookingDraft struct {
	CustomerID          string      `json:"customer_id"`
	VehicleID           string      `json:"vehicle_id,omitempty"`
	AddressID           string      `json:"address_id,omitempty"`
	ServiceID           string      `json:"service_id,omitempty"`
	TotalPrice          int64       `json:"total_price"`
	Currency            string      `json:"currency,omitempty"`
	PriceBreakdown      []PriceLine `json:"price_breakdown,omitempty"`
	SpecialInstructions string      `json:"special_instructions,omitempty"`
	IdempotencyKey      string      `json:"idempotency_key,omitempty"`
}

// StatusUpdate describes a status write. The store derives the lifecycle
// timestamp columns from Status.
type StatusUpdate struct {
	Status Status
	Reason string
	At     time.Time
}

type BookingFilter struct {
	CustomerID string
	SlotID     int64
	Statuses   []Status
	Limit      int
}
