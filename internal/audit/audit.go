// Package audit records booking lifecycle actions. Writes are best effort:
// a failed append is logged and counted, and callers decide whether to care.
package audit

import (
	"context"
	"fmt"

	"mobibook/internal/domain"
	"mobibook/internal/metrics"
	"mobibook/internal/models"

	"github.com/rs/zerolog"
)

type Logger struct {
	store  domain.AuditStore
	logger *zerolog.Logger
}

func New(store domain.AuditStore, logger *zerolog.Logger) *Logger {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Logger{store: store, logger: logger}
}

func (l *Logger) Append(ctx context.Context, entry *models.AuditEntry) error {
	if err := l.store.AppendAudit(ctx, entry); err != nil {
		metrics.IncAuditFailure()
		l.logger.Error().
			Err(err).
			Int64("booking_id", entry.BookingID).
			Str("action", entry.Action).
			Str("actor", entry.Actor).
			Msg("audit append failed")
		return fmt.Errorf("append audit %s: %w", entry.Action, err)
	}
	return nil
}

// Trail lists the entries of a booking in insertion order.
func (l *Logger) Trail(ctx context.Context, bookingID int64) ([]*models.AuditEntry, error) {
	return l.store.ListAudit(ctx, bookingID)
}
