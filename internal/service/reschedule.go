package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mobibook/internal/events"
	"mobibook/internal/metrics"
	"mobibook/internal/models"
)

// Reschedule moves a booking to newSlotID. The new slot is claimed before
// the old one is released, so a failed claim leaves everything untouched.
func (s *BookingService) Reschedule(ctx context.Context, bookingID, newSlotID int64, reason string) (*models.Booking, error) {
	const op = "Reschedule"

	if newSlotID <= 0 {
		return nil, validationError("new slot id is required")
	}
	if err := s.allow(ctx, ActionReschedule); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.bookings.GetBooking(ctx, bookingID)
		if err != nil {
			return nil, storeError(op+" - load booking", err)
		}
		if !current.Status.Reschedulable() {
			return nil, &InvalidTransitionError{From: current.Status, To: models.StatusRescheduled}
		}
		if current.SlotID == newSlotID {
			return nil, validationError("booking %d is already on slot %d", bookingID, newSlotID)
		}

		updated, err := s.moveBooking(ctx, op, current, newSlotID, reason)
		if errors.Is(err, ErrConcurrentModification) && !errors.Is(err, ErrCompensationFailed) {
			continue
		}
		if err != nil {
			return nil, err
		}

		metrics.IncTransition(string(current.Status), string(updated.Status))
		s.logger.Info().
			Int64("booking_id", bookingID).
			Int64("old_slot_id", current.SlotID).
			Int64("new_slot_id", newSlotID).
			Msg("booking rescheduled")

		s.record(ctx, bookingID, models.AuditSlotReleased, map[string]any{
			"slot_id":     current.SlotID,
			"new_slot_id": newSlotID,
			"reason":      reason,
		})
		s.record(ctx, bookingID, models.AuditStatusChanged, map[string]any{
			"old_status": string(current.Status),
			"new_status": string(updated.Status),
			"reason":     reason,
		})
		s.publishEvent(ctx, events.EventBookingRescheduled, updated, current, reason)
		return updated, nil
	}

	return nil, fmt.Errorf("%w: booking %d after %d attempts", ErrConcurrentModification, bookingID, s.maxAttempts)
}

func (s *BookingService) moveBooking(ctx context.Context, op string, current *models.Booking, newSlotID int64, reason string) (*models.Booking, error) {
	update := models.StatusUpdate{Status: models.StatusRescheduled, Reason: reason, At: time.Now().UTC()}

	var updated *models.Booking
	err := s.runSteps(ctx, op, []step{
		{
			name: "claim new slot",
			do: func(ctx context.Context) error {
				return storeError(op+" - claim new slot", s.slots.ClaimSlot(ctx, newSlotID))
			},
			undo: func(ctx context.Context) error {
				return s.slots.ReleaseSlot(ctx, newSlotID)
			},
		},
		{
			name: "repoint booking",
			do: func(ctx context.Context) error {
				b, err := s.bookings.RepointBooking(ctx, current.ID, current.Version, newSlotID, update)
				if err != nil {
					return storeError(op+" - repoint booking", err)
				}
				updated = b
				return nil
			},
			undo: func(ctx context.Context) error {
				return s.bookings.RestoreBooking(ctx, current, updated.Version)
			},
		},
		{
			name: "release old slot",
			do: func(ctx context.Context) error {
				return storeError(op+" - release old slot", s.slots.ReleaseSlot(ctx, current.SlotID))
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
