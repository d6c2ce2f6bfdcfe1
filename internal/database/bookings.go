package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mobibook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var bookingColumns = []string{
	"id", "reference", "slot_id", "customer_id", "vehicle_id", "address_id", "service_id",
	"total_price", "currency", "price_breakdown", "special_instructions", "status",
	"cancellation_reason", "idempotency_key", "created_at", "updated_at",
	"confirmed_at", "completed_at", "cancelled_at", "version",
}

func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	breakdown, err := encodeBreakdown(booking.PriceBreakdown)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = booking.CreatedAt

	query := `INSERT INTO bookings (
				reference, slot_id, customer_id, vehicle_id, address_id, service_id,
				total_price, currency, price_breakdown, special_instructions, status,
				cancellation_reason, idempotency_key, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
	result, err := db.conn(ctx).ExecContext(ctx, query,
		booking.Reference,
		booking.SlotID,
		booking.CustomerID,
		booking.VehicleID,
		booking.AddressID,
		booking.ServiceID,
		booking.TotalPrice,
		booking.Currency,
		breakdown,
		booking.SpecialInstructions,
		string(booking.Status),
		booking.CancellationReason,
		nullString(booking.IdempotencyKey),
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, "idempotency_key"):
			return ErrDuplicateIdempotencyKey
		case isForeignKeyViolation(err):
			return ErrNotFound
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return db.getBookingBy(ctx, sq.Eq{"id": id})
}

func (db *DB) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	return db.getBookingBy(ctx, sq.Eq{"reference": reference})
}

func (db *DB) GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return db.getBookingBy(ctx, sq.Eq{"idempotency_key": key})
}

func (db *DB) getBookingBy(ctx context.Context, where sq.Sqlizer) (*models.Booking, error) {
	query, args, err := sq.Select(bookingColumns...).From("bookings").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build booking query: %w", err)
	}

	booking, err := scanBooking(db.conn(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func (db *DB) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	q := sq.Select(bookingColumns...).From("bookings").OrderBy("created_at DESC", "id DESC")
	if filter.CustomerID != "" {
		q = q.Where(sq.Eq{"customer_id": filter.CustomerID})
	}
	if filter.SlotID != 0 {
		q = q.Where(sq.Eq{"slot_id": filter.SlotID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	q = q.Limit(uint64(clampLimit(filter.Limit)))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build bookings query: %w", err)
	}

	rows, err := db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// UpdateBookingStatus writes a new status if the row is still at version.
func (db *DB) UpdateBookingStatus(ctx context.Context, id, version int64, update models.StatusUpdate) (*models.Booking, error) {
	q := statusUpdate(id, version, update)
	if err := db.execVersioned(ctx, id, q); err != nil {
		return nil, err
	}
	return db.GetBooking(ctx, id)
}

// RepointBooking moves the booking to slotID and writes a new status in one versioned update.
func (db *DB) RepointBooking(ctx context.Context, id, version, slotID int64, update models.StatusUpdate) (*models.Booking, error) {
	q := statusUpdate(id, version, update).Set("slot_id", slotID)
	if err := db.execVersioned(ctx, id, q); err != nil {
		return nil, err
	}
	return db.GetBooking(ctx, id)
}

// RestoreBooking puts the mutable lifecycle columns of snapshot back.
// The version still moves forward.
func (db *DB) RestoreBooking(ctx context.Context, snapshot *models.Booking, version int64) error {
	q := sq.Update("bookings").
		Set("slot_id", snapshot.SlotID).
		Set("status", string(snapshot.Status)).
		Set("cancellation_reason", snapshot.CancellationReason).
		Set("confirmed_at", nullTime(snapshot.ConfirmedAt)).
		Set("completed_at", nullTime(snapshot.CompletedAt)).
		Set("cancelled_at", nullTime(snapshot.CancelledAt)).
		Set("updated_at", time.Now().UTC()).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": snapshot.ID, "version": version})
	return db.execVersioned(ctx, snapshot.ID, q)
}

func statusUpdate(id, version int64, update models.StatusUpdate) sq.UpdateBuilder {
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	q := sq.Update("bookings").
		Set("status", string(update.Status)).
		Set("updated_at", at).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": id, "version": version})

	switch update.Status {
	case models.StatusConfirmed:
		q = q.Set("confirmed_at", at)
	case models.StatusCompleted:
		q = q.Set("completed_at", at)
	case models.StatusCancelled, models.StatusDeclined, models.StatusNoShow:
		q = q.Set("cancelled_at", at).Set("cancellation_reason", update.Reason)
	}
	return q
}

func (db *DB) execVersioned(ctx context.Context, id int64, q sq.UpdateBuilder) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build booking update: %w", err)
	}

	result, err := db.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var n int
	if err := db.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("failed to check booking: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConcurrentModification
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                 models.Booking
		status, breakdown string
		idempotencyKey    sql.NullString
		confirmedAt       sql.NullTime
		completedAt       sql.NullTime
		cancelledAt       sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.Reference, &b.SlotID, &b.CustomerID, &b.VehicleID, &b.AddressID, &b.ServiceID,
		&b.TotalPrice, &b.Currency, &breakdown, &b.SpecialInstructions, &status,
		&b.CancellationReason, &idempotencyKey, &b.CreatedAt, &b.UpdatedAt,
		&confirmedAt, &completedAt, &cancelledAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.Status = models.Status(status)
	b.IdempotencyKey = idempotencyKey.String
	b.ConfirmedAt = timePtr(confirmedAt)
	b.CompletedAt = timePtr(completedAt)
	b.CancelledAt = timePtr(cancelledAt)
	if breakdown != "" {
		if err := json.Unmarshal([]byte(breakdown), &b.PriceBreakdown); err != nil {
			return nil, fmt.Errorf("failed to decode price breakdown: %w", err)
		}
	}
	return &b, nil
}

func encodeBreakdown(lines []models.PriceLine) (string, error) {
	if len(lines) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return "", fmt.Errorf("failed to encode price breakdown: %w", err)
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
