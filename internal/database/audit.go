package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mobibook/internal/models"
)

func (db *DB) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	detail := []byte("{}")
	if len(entry.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(entry.Detail); err != nil {
			return fmt.Errorf("failed to encode audit detail: %w", err)
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := db.conn(ctx).ExecContext(ctx,
		`INSERT INTO audit_log (booking_id, action, detail, actor, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.BookingID, entry.Action, string(detail), entry.Actor, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// ListAudit returns the trail of a booking in insertion order.
func (db *DB) ListAudit(ctx context.Context, bookingID int64) ([]*models.AuditEntry, error) {
	rows, err := db.conn(ctx).QueryContext(ctx,
		`SELECT id, booking_id, action, detail, actor, created_at FROM audit_log WHERE booking_id = ? ORDER BY id ASC`,
		bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var (
			e      models.AuditEntry
			detail string
		)
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Action, &detail, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to decode audit detail: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
