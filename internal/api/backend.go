package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mobibook/internal/auth"
	"mobibook/internal/domain"
	"mobibook/internal/models"
	"mobibook/internal/service"
	"mobibook/internal/slots"
)

// SlotAdmin is the slot store surface exposed over the API.
type SlotAdmin interface {
	ListSlots(ctx context.Context, filter models.SlotFilter) ([]*models.Slot, error)
	DeleteSlot(ctx context.Context, id int64) error
}

// Backend holds the operations shared by the HTTP and gRPC front ends.
type Backend struct {
	bookings  *service.BookingService
	slots     SlotAdmin
	generator *slots.Generator
	pricer    domain.Pricer
}

// NewBackend wires the front-end operations. pricer may be nil, in which case
// only staff callers can reserve, and they must carry their own total.
func NewBackend(bookings *service.BookingService, slotAdmin SlotAdmin, generator *slots.Generator, pricer domain.Pricer) *Backend {
	return &Backend{bookings: bookings, slots: slotAdmin, generator: generator, pricer: pricer}
}

type reserveRequest struct {
	SlotID              int64   `json:"slot_id"`
	CustomerID          string  `json:"customer_id"`
	VehicleID           string  `json:"vehicle_id"`
	AddressID           string  `json:"address_id"`
	ServiceID           string  `json:"service_id"`
	VehicleSize         string  `json:"vehicle_size"`
	DistanceKm          float64 `json:"distance_km"`
	TotalPrice          int64   `json:"total_price"`
	Currency            string  `json:"currency"`
	SpecialInstructions string  `json:"special_instructions"`
	IdempotencyKey      string  `json:"idempotency_key"`
}

type transitionRequest struct {
	BookingID     int64  `json:"booking_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	Notes         string `json:"notes"`
	Override      bool   `json:"override"`
	Justification string `json:"justification"`
}

type rescheduleRequest struct {
	BookingID int64  `json:"booking_id"`
	SlotID    int64  `json:"slot_id"`
	Reason    string `json:"reason"`
}

type bookingQuery struct {
	BookingID int64  `json:"booking_id"`
	Reference string `json:"reference"`
}

type slotQuery struct {
	DateFrom  string `json:"date_from"`
	DateTo    string `json:"date_to"`
	Available bool   `json:"available"`
	Limit     int    `json:"limit"`
}

// customerScope returns the caller's customer id when the caller is a
// customer. Customers only see and act on their own bookings.
func customerScope(ctx context.Context) (string, bool) {
	id, ok := auth.FromContext(ctx)
	if !ok || id.Role != auth.RoleCustomer {
		return "", false
	}
	return id.ActorID, true
}

// authorize fails with ErrForbidden when the caller lacks perm. Calls that
// carry no principal are not checked.
func authorize(ctx context.Context, perm string) error {
	if p, ok := principalFrom(ctx); ok && !p.can(perm) {
		return fmt.Errorf("%w: %s required", service.ErrForbidden, perm)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", service.ErrValidation, fmt.Sprintf(format, args...))
}

// reserve prices the draft and claims the slot. Customers always get the
// pricer's quote; only staff callers may name a total themselves.
func (b *Backend) reserve(ctx context.Context, req reserveRequest) (*models.Booking, error) {
	draft := models.BookingDraft{
		CustomerID:          strings.TrimSpace(req.CustomerID),
		VehicleID:           req.VehicleID,
		AddressID:           req.AddressID,
		ServiceID:           strings.TrimSpace(req.ServiceID),
		TotalPrice:          req.TotalPrice,
		Currency:            req.Currency,
		SpecialInstructions: req.SpecialInstructions,
		IdempotencyKey:      strings.TrimSpace(req.IdempotencyKey),
	}
	customer, scoped := customerScope(ctx)
	if scoped {
		if draft.CustomerID != "" && draft.CustomerID != customer {
			return nil, fmt.Errorf("%w: cannot book for another customer", service.ErrForbidden)
		}
		if draft.ServiceID == "" {
			return nil, invalid("service_id is required")
		}
		draft.CustomerID = customer
		draft.TotalPrice = 0
		draft.Currency = ""
	}

	switch {
	case draft.ServiceID != "" && b.pricer != nil:
		quote, err := b.pricer.Quote(ctx, models.PriceRequest{
			ServiceID:   draft.ServiceID,
			VehicleSize: req.VehicleSize,
			DistanceKm:  req.DistanceKm,
		})
		if err != nil {
			return nil, err
		}
		draft.TotalPrice = quote.Total
		draft.Currency = quote.Currency
		draft.PriceBreakdown = quote.Lines
	case scoped:
		return nil, fmt.Errorf("%w: pricing is not configured", service.ErrStoreUnavailable)
	}

	return b.bookings.Reserve(ctx, req.SlotID, draft)
}

// booking loads by id or reference and hides other customers' bookings.
func (b *Backend) booking(ctx context.Context, q bookingQuery) (*models.Booking, error) {
	var (
		booking *models.Booking
		err     error
	)
	switch {
	case q.BookingID > 0:
		booking, err = b.bookings.GetBooking(ctx, q.BookingID)
	case strings.TrimSpace(q.Reference) != "":
		booking, err = b.bookings.GetBookingByReference(ctx, strings.TrimSpace(q.Reference))
	default:
		return nil, invalid("booking_id or reference is required")
	}
	if err != nil {
		return nil, err
	}
	if customer, ok := customerScope(ctx); ok && booking.CustomerID != customer {
		return nil, fmt.Errorf("booking %d: %w", booking.ID, service.ErrNotFound)
	}
	return booking, nil
}

func (b *Backend) listBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	if customer, ok := customerScope(ctx); ok {
		filter.CustomerID = customer
	}
	return b.bookings.ListBookings(ctx, filter)
}

// transition lets write:bookings callers cancel. Any other target needs
// manage:bookings, and overrides need override:bookings.
func (b *Backend) transition(ctx context.Context, req transitionRequest) (*models.Booking, error) {
	if _, err := b.booking(ctx, bookingQuery{BookingID: req.BookingID}); err != nil {
		return nil, err
	}
	target := models.Status(strings.TrimSpace(req.Status))
	switch {
	case req.Override:
		if err := authorize(ctx, permOverride); err != nil {
			return nil, err
		}
	case target != models.StatusCancelled:
		if err := authorize(ctx, permManageBookings); err != nil {
			return nil, err
		}
	}
	return b.bookings.Transition(ctx, req.BookingID, target, service.TransitionOptions{
		Reason:        req.Reason,
		Notes:         req.Notes,
		Override:      req.Override,
		Justification: req.Justification,
	})
}

// act runs one of the named lifecycle verbs. Every verb except cancel needs
// manage:bookings.
func (b *Backend) act(ctx context.Context, bookingID int64, action, reason string) (*models.Booking, error) {
	if _, err := b.booking(ctx, bookingQuery{BookingID: bookingID}); err != nil {
		return nil, err
	}
	if action != "cancel" {
		if err := authorize(ctx, permManageBookings); err != nil {
			return nil, err
		}
	}
	switch action {
	case "confirm":
		return b.bookings.Confirm(ctx, bookingID)
	case "decline":
		return b.bookings.Decline(ctx, bookingID, reason)
	case "cancel":
		return b.bookings.Cancel(ctx, bookingID, reason)
	case "start":
		return b.bookings.StartService(ctx, bookingID)
	case "complete":
		return b.bookings.Complete(ctx, bookingID)
	case "no-show":
		return b.bookings.MarkNoShow(ctx, bookingID, reason)
	case "begin-payment":
		return b.bookings.BeginPayment(ctx, bookingID)
	case "fail-payment":
		return b.bookings.FailPayment(ctx, bookingID, reason)
	default:
		return nil, fmt.Errorf("action %q: %w", action, service.ErrNotFound)
	}
}

func (b *Backend) reschedule(ctx context.Context, req rescheduleRequest) (*models.Booking, error) {
	if _, err := b.booking(ctx, bookingQuery{BookingID: req.BookingID}); err != nil {
		return nil, err
	}
	if err := authorize(ctx, permManageBookings); err != nil {
		return nil, err
	}
	return b.bookings.Reschedule(ctx, req.BookingID, req.SlotID, req.Reason)
}

func (b *Backend) auditTrail(ctx context.Context, bookingID int64) ([]*models.AuditEntry, error) {
	if _, err := b.booking(ctx, bookingQuery{BookingID: bookingID}); err != nil {
		return nil, err
	}
	return b.bookings.AuditTrail(ctx, bookingID)
}

func (b *Backend) listSlots(ctx context.Context, q slotQuery) ([]*models.Slot, error) {
	filter := models.SlotFilter{AvailableOnly: q.Available, Limit: q.Limit}
	if q.DateFrom != "" {
		from, err := time.Parse(models.DateLayout, q.DateFrom)
		if err != nil {
			return nil, invalid("date_from %q is not YYYY-MM-DD", q.DateFrom)
		}
		filter.From = from
	}
	if q.DateTo != "" {
		to, err := time.Parse(models.DateLayout, q.DateTo)
		if err != nil {
			return nil, invalid("date_to %q is not YYYY-MM-DD", q.DateTo)
		}
		filter.To = to
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, invalid("date_from is after date_to")
	}

	list, err := b.slots.ListSlots(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list slots: %v", service.ErrStoreUnavailable, err)
	}
	return list, nil
}

func (b *Backend) generateSlots(ctx context.Context, plan slots.Plan) (*slots.Result, error) {
	if b.generator == nil {
		return nil, fmt.Errorf("%w: slot generation is not configured", service.ErrStoreUnavailable)
	}
	return b.generator.Generate(ctx, plan)
}

func (b *Backend) deleteSlot(ctx context.Context, id int64) error {
	if id <= 0 {
		return invalid("slot id must be positive")
	}
	return b.slots.DeleteSlot(ctx, id)
}
