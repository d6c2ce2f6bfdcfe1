package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mobibook/internal/auth"
	"mobibook/internal/config"
	"mobibook/internal/domain"
	"mobibook/internal/events"
	"mobibook/internal/logging"
	"mobibook/internal/models"
	"mobibook/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Rate limited actions.
const (
	ActionReserve    = "reserve"
	ActionTransition = "transition"
	ActionReschedule = "reschedule"
)

// Deps are the collaborators of BookingService. Tx is optional: when nil,
// multi-write operations run as compensating steps.
type Deps struct {
	Slots      domain.SlotStore
	Bookings   domain.BookingStore
	Tx         domain.TxManager
	Audit      domain.AuditLog
	Events     domain.EventPublisher
	RateLimits domain.RateLimitStore
	Logger     *zerolog.Logger
}

type Options struct {
	ReferencePrefix string
	OverrideRoles   []string
	MaxCASAttempts  int
	Compensation    worker.RetryPolicy
	RateLimits      map[string]config.ActionLimit
}

// OptionsFromConfig maps the booking and rate limit sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		ReferencePrefix: cfg.Booking.ReferencePrefix,
		OverrideRoles:   cfg.Booking.OverrideRoles,
		MaxCASAttempts:  cfg.Booking.MaxCASAttempts,
		Compensation:    worker.PolicyFromConfig(cfg.Booking.Compensation),
	}
	if cfg.RateLimits.Enabled {
		opts.RateLimits = cfg.RateLimits.Actions
	}
	return opts
}

type BookingService struct {
	slots         domain.SlotStore
	bookings      domain.BookingStore
	tx            domain.TxManager
	audit         domain.AuditLog
	eventBus      domain.EventPublisher
	rateLimits    domain.RateLimitStore
	limits        map[string]config.ActionLimit
	prefix        string
	overrideRoles []string
	maxAttempts   int
	retry         worker.RetryPolicy
	logger        *zerolog.Logger
}

func NewBookingService(deps Deps, opts Options) *BookingService {
	if opts.ReferencePrefix == "" {
		opts.ReferencePrefix = models.DefaultReferencePrefix
	}
	if opts.MaxCASAttempts <= 0 {
		opts.MaxCASAttempts = models.DefaultMaxCASAttempts
	}
	if len(opts.OverrideRoles) == 0 {
		opts.OverrideRoles = []string{auth.RoleAdmin}
	}
	return &BookingService{
		slots:         deps.Slots,
		bookings:      deps.Bookings,
		tx:            deps.Tx,
		audit:         deps.Audit,
		eventBus:      deps.Events,
		rateLimits:    deps.RateLimits,
		limits:        opts.RateLimits,
		prefix:        opts.ReferencePrefix,
		overrideRoles: opts.OverrideRoles,
		maxAttempts:   opts.MaxCASAttempts,
		retry:         opts.Compensation,
		logger:        logging.Component(deps.Logger, "booking_service"),
	}
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, storeError("GetBooking", err)
	}
	return b, nil
}

func (s *BookingService) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	b, err := s.bookings.GetBookingByReference(ctx, reference)
	if err != nil {
		return nil, storeError("GetBookingByReference", err)
	}
	return b, nil
}

func (s *BookingService) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, validationError("unknown status %q", st)
		}
	}
	list, err := s.bookings.ListBookings(ctx, filter)
	if err != nil {
		return nil, storeError("ListBookings", err)
	}
	return list, nil
}

// AuditTrail returns the audit entries of an existing booking.
func (s *BookingService) AuditTrail(ctx context.Context, bookingID int64) ([]*models.AuditEntry, error) {
	if _, err := s.GetBooking(ctx, bookingID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return nil, nil
	}
	entries, err := s.audit.Trail(ctx, bookingID)
	if err != nil {
		return nil, storeError("AuditTrail", err)
	}
	return entries, nil
}

func (s *BookingService) newReference() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return s.prefix + "-" + strings.ToUpper(id[:8])
}

// allow checks the per-actor action limit. Limiter failures let the call through.
func (s *BookingService) allow(ctx context.Context, action string) error {
	if s.rateLimits == nil {
		return nil
	}
	limit, ok := s.limits[action]
	if !ok {
		return nil
	}

	actor := auth.Actor(ctx)
	allowed, err := s.rateLimits.CheckRateLimit(ctx, actor+":"+action, limit.Limit, limit.Window)
	if err != nil {
		s.logger.Warn().Err(err).Str("actor", actor).Str("action", action).Msg("rate limit check failed, allowing")
		return nil
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrRateLimited, action)
	}
	return nil
}

// record appends an audit entry after the primary write committed.
// A failure is already logged by the audit logger.
func (s *BookingService) record(ctx context.Context, bookingID int64, action string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Append(ctx, &models.AuditEntry{
		BookingID: bookingID,
		Action:    action,
		Detail:    detail,
		Actor:     auth.Actor(ctx),
		CreatedAt: time.Now().UTC(),
	})
}

func (s *BookingService) publishEvent(ctx context.Context, eventType string, booking *models.Booking, prev *models.Booking, reason string) {
	if s.eventBus == nil {
		return
	}

	snapshot := *booking
	payload := events.BookingEventPayload{
		Booking:    &snapshot,
		BookingID:  booking.ID,
		Reference:  booking.Reference,
		CustomerID: booking.CustomerID,
		SlotID:     booking.SlotID,
		Status:     string(booking.Status),
		Reason:     reason,
		ChangedBy:  auth.Actor(ctx),
		OccurredAt: booking.UpdatedAt,
	}
	if prev != nil {
		payload.PreviousStatus = string(prev.Status)
		if prev.SlotID != booking.SlotID {
			payload.PreviousSlotID = prev.SlotID
		}
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}
