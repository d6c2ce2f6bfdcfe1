package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"mobibook/internal/auth"
	"mobibook/internal/config"
	"mobibook/internal/database"
	"mobibook/internal/models"
	"mobibook/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSlots struct {
	mock.Mock
}

func (m *mockSlots) GetSlot(ctx context.Context, id int64) (*models.Slot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Slot), args.Error(1)
}
func (m *mockSlots) ClaimSlot(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockSlots) ReleaseSlot(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type mockBookings struct {
	mock.Mock
}

func (m *mockBookings) CreateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockBookings) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockBookings) GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockBookings) GetBookingByReference(ctx context.Context, ref string) (*models.Booking, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockBookings) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockBookings) UpdateBookingStatus(ctx context.Context, id, version int64, u models.StatusUpdate) (*models.Booking, error) {
	args := m.Called(ctx, id, version, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockBookings) RepointBooking(ctx context.Context, id, version, slotID int64, u models.StatusUpdate) (*models.Booking, error) {
	args := m.Called(ctx, id, version, slotID, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockBookings) RestoreBooking(ctx context.Context, snapshot *models.Booking, version int64) error {
	return m.Called(ctx, snapshot, version).Error(0)
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

var fastRetry = worker.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func newMockService(slots *mockSlots, bookings *mockBookings, limiter *mockLimiter) *BookingService {
	deps := Deps{Slots: slots, Bookings: bookings}
	if limiter != nil {
		deps.RateLimits = limiter
	}
	return NewBookingService(deps, Options{
		Compensation: fastRetry,
		RateLimits:   map[string]config.ActionLimit{ActionReserve: {Limit: 2, Window: time.Minute}},
	})
}

func TestReserve_ReleasesClaimWhenInsertFails(t *testing.T) {
	slots := new(mockSlots)
	bookings := new(mockBookings)
	svc := newMockService(slots, bookings, nil)
	ctx := context.Background()
	diskFull := errors.New("disk full")

	slots.On("ClaimSlot", mock.Anything, int64(7)).Return(nil).Once()
	bookings.On("CreateBooking", mock.Anything, mock.AnythingOfType("*models.Booking")).Return(diskFull).Once()
	slots.On("ReleaseSlot", mock.Anything, int64(7)).Return(nil).Once()

	b, err := svc.Reserve(ctx, 7, models.BookingDraft{CustomerID: "cust-1", TotalPrice: 4500})
	assert.Nil(t, b)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrCompensationFailed)
	assert.False(t, errors.Is(err, diskFull), "raw store error must not leak into the chain")
	assert.Contains(t, err.Error(), "disk full")

	slots.AssertExpectations(t)
	bookings.AssertExpectations(t)
}

func TestReserve_FailedCompensationJoinsErrors(t *testing.T) {
	slots := new(mockSlots)
	bookings := new(mockBookings)
	svc := newMockService(slots, bookings, nil)

	slots.On("ClaimSlot", mock.Anything, int64(7)).Return(nil).Once()
	bookings.On("CreateBooking", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	slots.On("ReleaseSlot", mock.Anything, int64(7)).Return(errors.New("database is locked"))

	_, err := svc.Reserve(context.Background(), 7, models.BookingDraft{CustomerID: "cust-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompensationFailed)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "undo claim slot: database is locked")

	// one attempt plus two retries
	slots.AssertNumberOfCalls(t, "ReleaseSlot", 3)
}

func TestReserve_CompensationIgnoresCallerCancel(t *testing.T) {
	slots := new(mockSlots)
	bookings := new(mockBookings)
	svc := newMockService(slots, bookings, nil)
	ctx, cancel := context.WithCancel(context.Background())

	slots.On("ClaimSlot", mock.Anything, int64(7)).Return(nil).Once()
	bookings.On("CreateBooking", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(context.Canceled).Once()
	slots.On("ReleaseSlot", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), int64(7)).Return(nil).Once()

	_, err := svc.Reserve(ctx, 7, models.BookingDraft{CustomerID: "cust-1"})
	assert.ErrorIs(t, err, context.Canceled)
	slots.AssertExpectations(t)
}

func TestReserve_ClaimedSlot(t *testing.T) {
	slots := new(mockSlots)
	bookings := new(mockBookings)
	svc := newMockService(slots, bookings, nil)

	slots.On("ClaimSlot", mock.Anything, int64(3)).Return(database.ErrSlotClaimed).Once()

	_, err := svc.Reserve(context.Background(), 3, models.BookingDraft{CustomerID: "cust-1"})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, "that time is no longer available, please choose another", err.Error())
	bookings.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
}

func TestReserve_MissingSlot(t *testing.T) {
	slots := new(mockSlots)
	bookings := new(mockBookings)
	svc := newMockService(slots, bookings, nil)

	slots.On("ClaimSlot", mock.Anything, int64(3)).Return(database.ErrNotFound).Once()

	_, err := svc.Reserve(context.Background(), 3, models.BookingDraft{CustomerID: "cust-1"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrSlotUnavailable)
}

func TestReserve_Validation(t *testing.T) {
	tests := []struct {
		name   string
		slotID int64
		draft  models.BookingDraft
	}{
		{name: "missing slot", slotID: 0, draft: models.BookingDraft{CustomerID: "c"}},
		{name: "missing customer", slotID: 1, draft: models.BookingDraft{CustomerID: "  "}},
		{name: "negative price", slotID: 1, draft: models.BookingDraft{CustomerID: "c", TotalPrice: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots := new(mockSlots)
			svc := newMockService(slots, new(mockBookings), nil)
			_, err := svc.Reserve(context.Background(), tt.slotID, tt.draft)
			assert.ErrorIs(t, err, ErrValidation)
			slots.AssertNotCalled(t, "ClaimSlot", mock.Anything, mock.Anything)
		})
	}
}

func TestReserve_RateLimited(t *testing.T) {
	slots := new(mockSlots)
	limiter := new(mockLimiter)
	svc := newMockService(slots, new(mockBookings), limiter)
	ctx := auth.WithIdentity(context.Background(), auth.Identity{ActorID: "cust-1", Role: auth.RoleCustomer})

	limiter.On("CheckRateLimit", mock.Anything, "cust-1:reserve", 2, time.Minute).Return(false, nil).Once()

	_, err := svc.Reserve(ctx, 1, models.BookingDraft{CustomerID: "cust-1"})
	assert.ErrorIs(t, err, ErrRateLimited)
	slots.AssertNotCalled(t, "ClaimSlot", mock.Anything, mock.Anything)
	limiter.AssertExpectations(t)
}

func TestReserve_LimiterFailureAllows(t *testing.T) {
	slots := new(mockSlots)
	bookings := new(mockBookings)
	limiter := new(mockLimiter)
	svc := newMockService(slots, bookings, limiter)

	limiter.On("CheckRateLimit", mock.Anything, "anonymous:reserve", 2, time.Minute).Return(false, errors.New("redis down")).Once()
	slots.On("ClaimSlot", mock.Anything, int64(1)).Return(nil).Once()
	bookings.On("CreateBooking", mock.Anything, mock.Anything).Return(nil).Once()

	b, err := svc.Reserve(context.Background(), 1, models.BookingDraft{CustomerID: "cust-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Regexp(t, `^MB-[0-9A-F]{8}$`, b.Reference)
}

func TestReserve_ReplaysIdempotencyKey(t *testing.T) {
	slots := new(mockSlots)
	bookings := new(mockBookings)
	svc := newMockService(slots, bookings, nil)
	existing := &models.Booking{ID: 9, SlotID: 4, Status: models.StatusPending, IdempotencyKey: "k1"}

	bookings.On("GetBookingByIdempotencyKey", mock.Anything, "k1").Return(existing, nil)

	b, err := svc.Reserve(context.Background(), 4, models.BookingDraft{CustomerID: "c", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Same(t, existing, b)
	slots.AssertNotCalled(t, "ClaimSlot", mock.Anything, mock.Anything)

	_, err = svc.Reserve(context.Background(), 5, models.BookingDraft{CustomerID: "c", IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTransition_RetriesVersionConflict(t *testing.T) {
	slots := new(mockSlots)
	bookings := new(mockBookings)
	svc := newMockService(slots, bookings, nil)

	bookings.On("GetBooking", mock.Anything, int64(1)).Return(&models.Booking{ID: 1, SlotID: 2, Status: models.StatusPending, Version: 1}, nil).Once()
	bookings.On("GetBooking", mock.Anything, int64(1)).Return(&models.Booking{ID: 1, SlotID: 2, Status: models.StatusPending, Version: 2}, nil).Once()
	bookings.On("UpdateBookingStatus", mock.Anything, int64(1), int64(1), mock.Anything).Return(nil, database.ErrConcurrentModification).Once()
	bookings.On("UpdateBookingStatus", mock.Anything, int64(1), int64(2), mock.Anything).
		Return(&models.Booking{ID: 1, SlotID: 2, Status: models.StatusConfirmed, Version: 3}, nil).Once()

	b, err := svc.Confirm(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	bookings.AssertExpectations(t)
	slots.AssertNotCalled(t, "ReleaseSlot", mock.Anything, mock.Anything)
}

func TestTransition_GivesUpAfterMaxAttempts(t *testing.T) {
	bookings := new(mockBookings)
	svc := newMockService(new(mockSlots), bookings, nil)

	bookings.On("GetBooking", mock.Anything, int64(1)).Return(&models.Booking{ID: 1, Status: models.StatusPending, Version: 1}, nil)
	bookings.On("UpdateBookingStatus", mock.Anything, int64(1), int64(1), mock.Anything).Return(nil, database.ErrConcurrentModification)

	_, err := svc.Confirm(context.Background(), 1)
	assert.ErrorIs(t, err, ErrConcurrentModification)
	bookings.AssertNumberOfCalls(t, "GetBooking", models.DefaultMaxCASAttempts)
}

func TestTransition_CancelRestoresBookingWhenReleaseFails(t *testing.T) {
	slots := new(mockSlots)
	bookings := new(mockBookings)
	svc := newMockService(slots, bookings, nil)
	current := &models.Booking{ID: 1, SlotID: 2, Status: models.StatusConfirmed, Version: 4}

	bookings.On("GetBooking", mock.Anything, int64(1)).Return(current, nil).Once()
	bookings.On("UpdateBookingStatus", mock.Anything, int64(1), int64(4), mock.Anything).
		Return(&models.Booking{ID: 1, SlotID: 2, Status: models.StatusCancelled, Version: 5}, nil).Once()
	slots.On("ReleaseSlot", mock.Anything, int64(2)).Return(errors.New("io error")).Once()
	bookings.On("RestoreBooking", mock.Anything, current, int64(5)).Return(nil).Once()

	_, err := svc.Cancel(context.Background(), 1, "changed plans")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrCompensationFailed)
	bookings.AssertExpectations(t)
}

func TestTransition_OverrideGate(t *testing.T) {
	bookings := new(mockBookings)
	svc := newMockService(new(mockSlots), bookings, nil)
	customer := auth.WithIdentity(context.Background(), auth.Identity{ActorID: "c", Role: auth.RoleCustomer})
	admin := auth.WithIdentity(context.Background(), auth.Identity{ActorID: "a", Role: auth.RoleAdmin})

	_, err := svc.Transition(customer, 1, models.StatusConfirmed, TransitionOptions{Override: true, Justification: "support ticket"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Transition(admin, 1, models.StatusConfirmed, TransitionOptions{Override: true})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Transition(admin, 1, models.Status("archived"), TransitionOptions{})
	assert.ErrorIs(t, err, ErrValidation)

	bookings.AssertNotCalled(t, "GetBooking", mock.Anything, mock.Anything)
}

func TestReschedule_UndoesStepsInReverse(t *testing.T) {
	slots := new(mockSlots)
	bookings := new(mockBookings)
	svc := newMockService(slots, bookings, nil)
	current := &models.Booking{ID: 1, SlotID: 10, Status: models.StatusConfirmed, Version: 2}

	var order []string
	bookings.On("GetBooking", mock.Anything, int64(1)).Return(current, nil).Once()
	slots.On("ClaimSlot", mock.Anything, int64(11)).Return(nil).Once()
	bookings.On("RepointBooking", mock.Anything, int64(1), int64(2), int64(11), mock.Anything).
		Return(&models.Booking{ID: 1, SlotID: 11, Status: models.StatusRescheduled, Version: 3}, nil).Once()
	slots.On("ReleaseSlot", mock.Anything, int64(10)).Return(errors.New("io error")).Once()
	bookings.On("RestoreBooking", mock.Anything, current, int64(3)).Run(func(mock.Arguments) { order = append(order, "restore") }).Return(nil).Once()
	slots.On("ReleaseSlot", mock.Anything, int64(11)).Run(func(mock.Arguments) { order = append(order, "release new") }).Return(nil).Once()

	_, err := svc.Reschedule(context.Background(), 1, 11, "customer request")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, []string{"restore", "release new"}, order)
	slots.AssertExpectations(t)
	bookings.AssertExpectations(t)
}

func TestReschedule_Rejections(t *testing.T) {
	bookings := new(mockBookings)
	slots := new(mockSlots)
	svc := newMockService(slots, bookings, nil)

	bookings.On("GetBooking", mock.Anything, int64(1)).Return(&models.Booking{ID: 1, SlotID: 10, Status: models.StatusInProgress}, nil).Once()
	_, err := svc.Reschedule(context.Background(), 1, 11, "")
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, models.StatusInProgress, ite.From)
	assert.Equal(t, models.StatusRescheduled, ite.To)

	bookings.On("GetBooking", mock.Anything, int64(2)).Return(&models.Booking{ID: 2, SlotID: 10, Status: models.StatusPending}, nil).Once()
	_, err = svc.Reschedule(context.Background(), 2, 10, "")
	assert.ErrorIs(t, err, ErrValidation)

	slots.AssertNotCalled(t, "ClaimSlot", mock.Anything, mock.Anything)
}

func TestStoreError(t *testing.T) {
	raw := errors.New("boom")
	err := storeError("op", raw)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, errors.Is(err, raw))
	assert.Equal(t, "store unavailable: op: boom", err.Error())

	assert.Nil(t, storeError("op", nil))
	assert.Same(t, ErrSlotUnavailable, storeError("op", database.ErrSlotClaimed))
	assert.ErrorIs(t, storeError("op", database.ErrNotFound), ErrNotFound)
	assert.ErrorIs(t, storeError("op", context.DeadlineExceeded), context.DeadlineExceeded)

	ite := &InvalidTransitionError{From: models.StatusPending, To: models.StatusCompleted}
	assert.ErrorIs(t, ite, ErrInvalidTransition)
	assert.Equal(t, "cannot change booking status from pending to completed", ite.Error())
}
