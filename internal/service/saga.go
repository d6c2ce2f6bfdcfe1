package service

import (
	"context"
	"errors"
	"fmt"

	"mobibook/internal/metrics"
)

// step is one store write of a multi-write operation. undo reverses a
// completed do and is only used when no TxManager is wired.
type step struct {
	name string
	do   func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// runSteps executes steps atomically. With a TxManager they share one
// transaction. Without one, completed steps are undone in reverse order.
func (s *BookingService) runSteps(ctx context.Context, op string, steps []step) error {
	if s.tx != nil {
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			for _, st := range steps {
				if err := st.do(ctx); err != nil {
					return err
				}
			}
			return nil
		})
		return storeError(op, err)
	}

	done := make([]step, 0, len(steps))
	for _, st := range steps {
		if err := st.do(ctx); err != nil {
			return s.compensate(ctx, op, err, done)
		}
		done = append(done, st)
	}
	return nil
}

func (s *BookingService) compensate(ctx context.Context, op string, cause error, done []step) error {
	// A caller deadline must not stop an undo half way.
	ctx = context.WithoutCancel(ctx)

	var failures []error
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.undo == nil {
			continue
		}
		if err := s.retry.Do(ctx, st.undo); err != nil {
			failures = append(failures, fmt.Errorf("undo %s: %v", st.name, err))
		}
	}

	if len(failures) == 0 {
		metrics.IncCompensation("ok")
		return cause
	}

	metrics.IncCompensation("failed")
	joined := errors.Join(append([]error{cause, ErrCompensationFailed}, failures...)...)
	s.logger.Error().
		Str("op", op).
		Err(joined).
		Msg("compensation failed, store needs operator attention")
	return joined
}
