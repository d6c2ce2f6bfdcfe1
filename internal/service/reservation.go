package service

import (
	"context"
	"errors"
	"strings"

	"mobibook/internal/database"
	"mobibook/internal/events"
	"mobibook/internal/metrics"
	"mobibook/internal/models"
)

var errIdempotencyConflict = validationError("idempotency key already used")

// Reserve claims the slot and creates a pending booking for draft.
// Of any number of concurrent calls for one slot exactly one succeeds;
// the others get ErrSlotUnavailable.
func (s *BookingService) Reserve(ctx context.Context, slotID int64, draft models.BookingDraft) (*models.Booking, error) {
	const op = "Reserve"

	if err := validateDraft(slotID, draft); err != nil {
		metrics.IncReservation("invalid")
		return nil, err
	}
	if err := s.allow(ctx, ActionReserve); err != nil {
		metrics.IncReservation("rate_limited")
		return nil, err
	}

	if existing, ok, err := s.replay(ctx, op, slotID, draft.IdempotencyKey); err != nil || ok {
		if ok {
			metrics.IncReservation("replayed")
		}
		return existing, err
	}

	booking := &models.Booking{
		Reference:           s.newReference(),
		SlotID:              slotID,
		CustomerID:          draft.CustomerID,
		VehicleID:           draft.VehicleID,
		AddressID:           draft.AddressID,
		ServiceID:           draft.ServiceID,
		TotalPrice:          draft.TotalPrice,
		Currency:            draft.Currency,
		PriceBreakdown:      draft.PriceBreakdown,
		SpecialInstructions: draft.SpecialInstructions,
		Status:              models.StatusPending,
		IdempotencyKey:      draft.IdempotencyKey,
	}

	err := s.runSteps(ctx, op, []step{
		{
			name: "claim slot",
			do: func(ctx context.Context) error {
				return storeError(op+" - claim slot", s.slots.ClaimSlot(ctx, slotID))
			},
			undo: func(ctx context.Context) error {
				return s.slots.ReleaseSlot(ctx, slotID)
			},
		},
		{
			name: "insert booking",
			do: func(ctx context.Context) error {
				err := s.bookings.CreateBooking(ctx, booking)
				if errors.Is(err, database.ErrDuplicateIdempotencyKey) {
					return errIdempotencyConflict
				}
				return storeError(op+" - insert booking", err)
			},
		},
	})
	if err != nil {
		// A concurrent call with the same key won; hand back its booking.
		if draft.IdempotencyKey != "" && !errors.Is(err, ErrCompensationFailed) &&
			(errors.Is(err, errIdempotencyConflict) || errors.Is(err, ErrSlotUnavailable)) {
			if existing, ok, rerr := s.replay(ctx, op, slotID, draft.IdempotencyKey); rerr == nil && ok {
				metrics.IncReservation("replayed")
				return existing, nil
			}
		}
		s.countReserveFailure(err)
		return nil, err
	}

	metrics.IncReservation("ok")
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("slot_id", slotID).
		Str("reference", booking.Reference).
		Msg("booking reserved")

	s.record(ctx, booking.ID, models.AuditBookingCreated, map[string]any{
		"slot_id":     slotID,
		"reference":   booking.Reference,
		"total_price": booking.TotalPrice,
		"currency":    booking.Currency,
	})
	s.publishEvent(ctx, events.EventBookingCreated, booking, nil, "")
	return booking, nil
}

func validateDraft(slotID int64, draft models.BookingDraft) error {
	if slotID <= 0 {
		return validationError("slot id is required")
	}
	if strings.TrimSpace(draft.CustomerID) == "" {
		return validationError("customer id is required")
	}
	if draft.TotalPrice < 0 {
		return validationError("total price must not be negative")
	}
	return nil
}

// replay returns the booking already created under key, if any.
func (s *BookingService) replay(ctx context.Context, op string, slotID int64, key string) (*models.Booking, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	existing, err := s.bookings.GetBookingByIdempotencyKey(ctx, key)
	if errors.Is(err, database.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError(op+" - idempotency lookup", err)
	}
	if existing.SlotID != slotID {
		return nil, false, validationError("idempotency key %q belongs to a booking for slot %d", key, existing.SlotID)
	}
	return existing, true, nil
}

func (s *BookingService) countReserveFailure(err error) {
	switch {
	case errors.Is(err, ErrCompensationFailed):
		metrics.IncReservation("compensation_failed")
	case errors.Is(err, ErrSlotUnavailable):
		metrics.IncReservation("slot_unavailable")
	case errors.Is(err, ErrNotFound):
		metrics.IncReservation("not_found")
	default:
		metrics.IncReservation("error")
	}
}
