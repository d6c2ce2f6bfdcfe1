package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mobibook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

var slotColumns = []string{"id", "date", "start_time", "is_available", "notes", "created_at"}

func (db *DB) CreateSlot(ctx context.Context, slot *models.Slot) error {
	if _, err := time.Parse(models.TimeLayout, slot.StartTime); err != nil {
		return fmt.Errorf("invalid start time %q: %w", slot.StartTime, err)
	}

	query := `INSERT INTO slots (date, start_time, is_available, notes, created_at) VALUES (?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.conn(ctx).ExecContext(ctx, query,
		slot.Date.Format(models.DateLayout),
		slot.StartTime,
		true,
		slot.Notes,
		now,
	)
	if err != nil {
		if isUniqueViolation(err, "slots.") {
			return ErrDuplicateSlot
		}
		return fmt.Errorf("failed to create slot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	slot.ID = id
	slot.IsAvailable = true
	slot.CreatedAt = now
	return nil
}

func (db *DB) GetSlot(ctx context.Context, id int64) (*models.Slot, error) {
	query, args, err := sq.Select(slotColumns...).From("slots").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build slot query: %w", err)
	}

	slot, err := scanSlot(db.conn(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

func (db *DB) ListSlots(ctx context.Context, filter models.SlotFilter) ([]*models.Slot, error) {
	q := sq.Select(slotColumns...).From("slots").OrderBy("date ASC", "start_time ASC")
	if !filter.From.IsZero() {
		q = q.Where(sq.GtOrEq{"date": filter.From.Format(models.DateLayout)})
	}
	if !filter.To.IsZero() {
		q = q.Where(sq.LtOrEq{"date": filter.To.Format(models.DateLayout)})
	}
	if filter.AvailableOnly {
		q = q.Where(sq.Eq{"is_available": true})
	}
	q = q.Limit(uint64(clampLimit(filter.Limit)))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build slots query: %w", err)
	}

	rows, err := db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	defer rows.Close()

	var slots []*models.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// ClaimSlot marks an available slot unavailable with a single conditional update.
// Exactly one of any number of concurrent callers gets a nil error.
func (db *DB) ClaimSlot(ctx context.Context, id int64) error {
	result, err := db.conn(ctx).ExecContext(ctx,
		`UPDATE slots SET is_available = 0 WHERE id = ? AND is_available = 1`, id)
	if err != nil {
		return fmt.Errorf("failed to claim slot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result: %w", err)
	}
	if rows == 1 {
		return nil
	}

	exists, err := db.slotExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrSlotClaimed
}

// ReleaseSlot makes the slot available again. Releasing a free slot is a no-op.
func (db *DB) ReleaseSlot(ctx context.Context, id int64) error {
	result, err := db.conn(ctx).ExecContext(ctx, `UPDATE slots SET is_available = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to release slot: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSlot removes a slot that was never booked.
func (db *DB) DeleteSlot(ctx context.Context, id int64) error {
	result, err := db.conn(ctx).ExecContext(ctx,
		`DELETE FROM slots WHERE id = ? AND is_available = 1
           AND NOT EXISTS (SELECT 1 FROM bookings WHERE slot_id = ?)`, id, id)
	if err != nil {
		return fmt.Errorf("failed to delete slot: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 1 {
		return nil
	}

	exists, err := db.slotExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrSlotInUse
}

func (db *DB) slotExists(ctx context.Context, id int64) (bool, error) {
	var n int
	if err := db.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM slots WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check slot: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (*models.Slot, error) {
	var (
		slot    models.Slot
		dateStr string
	)
	if err := row.Scan(&slot.ID, &dateStr, &slot.StartTime, &slot.IsAvailable, &slot.Notes, &slot.CreatedAt); err != nil {
		return nil, err
	}
	date, err := time.Parse(models.DateLayout, dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse slot date %s: %w", dateStr, err)
	}
	slot.Date = date
	return &slot, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return models.DefaultListLimit
	case limit > models.MaxListLimit:
		return models.MaxListLimit
	default:
		return limit
	}
}
