package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mobibook/internal/auth"
	"mobibook/internal/events"
	"mobibook/internal/metrics"
	"mobibook/internal/models"
)

type TransitionOptions struct {
	Reason string
	Notes  string
	// Override skips the transition table. It needs an override role and a Justification.
	Override      bool
	Justification string
}

// Transition moves a booking to target and keeps the slot in step with it:
// leaving the slot-holding statuses frees the slot, entering them claims it.
// Lost version races are retried from a fresh read.
func (s *BookingService) Transition(ctx context.Context, bookingID int64, target models.Status, opts TransitionOptions) (*models.Booking, error) {
	const op = "Transition"

	if !target.Valid() {
		return nil, validationError("unknown status %q", target)
	}
	if opts.Override {
		id, _ := auth.FromContext(ctx)
		if !id.HasRole(s.overrideRoles...) {
			return nil, fmt.Errorf("%w: status override requires one of roles %s", ErrForbidden, strings.Join(s.overrideRoles, ", "))
		}
		if strings.TrimSpace(opts.Justification) == "" {
			return nil, validationError("status override requires a justification")
		}
	}
	if err := s.allow(ctx, ActionTransition); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.bookings.GetBooking(ctx, bookingID)
		if err != nil {
			return nil, storeError(op+" - load booking", err)
		}

		tableAllowed := current.Status.CanTransitionTo(target)
		switch {
		case opts.Override && current.Status == target:
			return nil, validationError("booking is already %s", target)
		case !opts.Override && !tableAllowed:
			return nil, &InvalidTransitionError{From: current.Status, To: target}
		}

		updated, released, err := s.applyTransition(ctx, op, current, target, opts)
		if errors.Is(err, ErrConcurrentModification) && !errors.Is(err, ErrCompensationFailed) {
			s.logger.Debug().Int64("booking_id", bookingID).Int("attempt", attempt).Msg("version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}

		s.afterTransition(ctx, current, updated, released, tableAllowed, opts)
		return updated, nil
	}

	return nil, fmt.Errorf("%w: booking %d after %d attempts", ErrConcurrentModification, bookingID, s.maxAttempts)
}

func (s *BookingService) applyTransition(ctx context.Context, op string, current *models.Booking, target models.Status, opts TransitionOptions) (*models.Booking, bool, error) {
	claims := !current.Status.HoldsSlot() && target.HoldsSlot()
	releases := current.Status.HoldsSlot() && !target.HoldsSlot()

	reason := opts.Reason
	if reason == "" && opts.Override {
		reason = opts.Justification
	}
	update := models.StatusUpdate{Status: target, Reason: reason, At: time.Now().UTC()}

	var (
		updated *models.Booking
		steps   []step
	)
	if claims {
		steps = append(steps, step{
			name: "claim slot",
			do: func(ctx context.Context) error {
				return storeError(op+" - claim slot", s.slots.ClaimSlot(ctx, current.SlotID))
			},
			undo: func(ctx context.Context) error {
				return s.slots.ReleaseSlot(ctx, current.SlotID)
			},
		})
	}
	steps = append(steps, step{
		name: "update status",
		do: func(ctx context.Context) error {
			b, err := s.bookings.UpdateBookingStatus(ctx, current.ID, current.Version, update)
			if err != nil {
				return storeError(op+" - update status", err)
			}
			updated = b
			return nil
		},
		undo: func(ctx context.Context) error {
			return s.bookings.RestoreBooking(ctx, current, updated.Version)
		},
	})
	if releases {
		steps = append(steps, step{
			name: "release slot",
			do: func(ctx context.Context) error {
				return storeError(op+" - release slot", s.slots.ReleaseSlot(ctx, current.SlotID))
			},
		})
	}

	if err := s.runSteps(ctx, op, steps); err != nil {
		return nil, false, err
	}
	return updated, releases, nil
}

func (s *BookingService) afterTransition(ctx context.Context, prev, updated *models.Booking, released, tableAllowed bool, opts TransitionOptions) {
	metrics.IncTransition(string(prev.Status), string(updated.Status))

	log := s.logger.Info().
		Int64("booking_id", updated.ID).
		Str("from", string(prev.Status)).
		Str("to", string(updated.Status))
	if opts.Override {
		log = log.Bool("override", true).Bool("table_allowed", tableAllowed)
	}
	log.Msg("booking status changed")

	eventType := events.EventBookingStatusChanged
	if opts.Override {
		eventType = events.EventBookingOverridden
		s.record(ctx, updated.ID, models.AuditStatusOverride, map[string]any{
			"old_status":    string(prev.Status),
			"new_status":    string(updated.Status),
			"justification": opts.Justification,
			"table_allowed": tableAllowed,
		})
	} else {
		s.record(ctx, updated.ID, models.AuditStatusChanged, map[string]any{
			"old_status": string(prev.Status),
			"new_status": string(updated.Status),
			"reason":     opts.Reason,
			"notes":      opts.Notes,
		})
	}
	if released {
		s.record(ctx, updated.ID, models.AuditSlotReleased, map[string]any{
			"slot_id": prev.SlotID,
			"reason":  updated.CancellationReason,
		})
	}

	s.publishEvent(ctx, eventType, updated, prev, updated.CancellationReason)
}

func (s *BookingService) Confirm(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return s.Transition(ctx, bookingID, models.StatusConfirmed, TransitionOptions{})
}

func (s *BookingService) Decline(ctx context.Context, bookingID int64, reason string) (*models.Booking, error) {
	return s.Transition(ctx, bookingID, models.StatusDeclined, TransitionOptions{Reason: reason})
}

func (s *BookingService) Cancel(ctx context.Context, bookingID int64, reason string) (*models.Booking, error) {
	return s.Transition(ctx, bookingID, models.StatusCancelled, TransitionOptions{Reason: reason})
}

// StartService marks the crew as on site.
func (s *BookingService) StartService(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return s.Transition(ctx, bookingID, models.StatusInProgress, TransitionOptions{})
}

func (s *BookingService) Complete(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return s.Transition(ctx, bookingID, models.StatusCompleted, TransitionOptions{})
}

func (s *BookingService) MarkNoShow(ctx context.Context, bookingID int64, reason string) (*models.Booking, error) {
	return s.Transition(ctx, bookingID, models.StatusNoShow, TransitionOptions{Reason: reason})
}

func (s *BookingService) BeginPayment(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return s.Transition(ctx, bookingID, models.StatusProcessing, TransitionOptions{})
}

func (s *BookingService) FailPayment(ctx context.Context, bookingID int64, reason string) (*models.Booking, error) {
	return s.Transition(ctx, bookingID, models.StatusPaymentFailed, TransitionOptions{Reason: reason})
}
