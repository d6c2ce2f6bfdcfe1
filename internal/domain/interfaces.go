package domain

import (
	"context"
	"time"

	"mobibook/internal/models"
)

type SlotStore interface {
	GetSlot(ctx context.Context, id int64) (*models.Slot, error)
	// ClaimSlot flips an available slot to unavailable in one conditional write.
	ClaimSlot(ctx context.Context, id int64) error
	ReleaseSlot(ctx context.Context, id int64) error
}

type BookingStore interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id int64, version int64, update models.StatusUpdate) (*models.Booking, error)
	RepointBooking(ctx context.Context, id int64, version int64, slotID int64, update models.StatusUpdate) (*models.Booking, error)
	// RestoreBooking writes snapshot back over the row if it is still at version.
	RestoreBooking(ctx context.Context, snapshot *models.Booking, version int64) error
}

// TxManager runs fn inside one store transaction carried by ctx.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditAppender interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
}

type AuditStore interface {
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, bookingID int64) ([]*models.AuditEntry, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type RateLimitStore interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type Pricer interface {
	Quote(ctx context.Context, req models.PriceRequest) (*models.PriceQuote, error)
}

type NotificationQueue interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]*models.NotificationTask, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error)
}

// AuditLog appends entries and reads a booking's trail back in insertion order.
type AuditLog interface {
	AuditAppender
	Trail(ctx context.Context, bookingID int64) ([]*models.AuditEntry, error)
}
