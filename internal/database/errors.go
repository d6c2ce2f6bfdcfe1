package database

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound                = errors.New("record not found")
	ErrSlotClaimed             = errors.New("slot already claimed")
	ErrDuplicateSlot           = errors.New("slot already exists for date and start time")
	ErrDuplicateIdempotencyKey = errors.New("booking with this idempotency key already exists")
	ErrConcurrentModification  = errors.New("booking was modified concurrently")
	ErrSlotInUse               = errors.New("slot is referenced by a booking")
)

// isUniqueViolation reports whether err is a sqlite UNIQUE failure mentioning column.
func isUniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique && sqliteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
		return false
	}
	return column == "" || strings.Contains(sqliteErr.Error(), column)
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
