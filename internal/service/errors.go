package service

import (
	"context"
	"errors"
	"fmt"

	"mobibook/internal/database"
	"mobibook/internal/models"
)

var (
	ErrSlotUnavailable        = errors.New("that time is no longer available, please choose another")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrNotFound               = errors.New("not found")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrValidation             = errors.New("validation failed")
	ErrForbidden              = errors.New("forbidden")
	ErrConcurrentModification = errors.New("booking was modified concurrently, please retry")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrCompensationFailed     = errors.New("compensation failed")
)

var sentinels = []error{
	ErrSlotUnavailable, ErrInvalidTransition, ErrNotFound, ErrStoreUnavailable, ErrValidation,
	ErrForbidden, ErrConcurrentModification, ErrRateLimited, ErrCompensationFailed,
}

// InvalidTransitionError reports a status change the transition table does not allow.
type InvalidTransitionError struct {
	From models.Status
	To   models.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change booking status from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeError translates a store failure into the service taxonomy.
// Unknown errors keep their text but leave the errors.Is chain.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return err
		}
	}

	switch {
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, database.ErrSlotClaimed):
		return ErrSlotUnavailable
	case errors.Is(err, database.ErrConcurrentModification):
		return fmt.Errorf("%s: %w", op, ErrConcurrentModification)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
