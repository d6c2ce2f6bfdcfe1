package api

import (
	"context"
	"testing"
	"time"

	"mobibook/internal/audit"
	"mobibook/internal/auth"
	"mobibook/internal/config"
	"mobibook/internal/database"
	"mobibook/internal/events"
	"mobibook/internal/models"
	"mobibook/internal/pricing"
	"mobibook/internal/service"
	"mobibook/internal/slots"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret = "0123456789abcdef0123"
	testIssuer    = "mobibook"
)

type testEnv struct {
	db      *database.DB
	backend *Backend
	cfg     *config.APIConfig
}

func testAPIConfig() *config.APIConfig {
	return &config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "ops-key", Extra: "ops-extra", Name: "ops", Role: auth.RoleOperator},
				{Key: "admin-key", Extra: "admin-extra", Name: "root", Role: auth.RoleAdmin},
				{Key: "ro-key", Extra: "ro-extra", Name: "viewer", Permissions: []string{permReadSlots, permReadBookings}},
			},
			JWT: config.JWTConfig{
				Enabled: true,
				Secret:  testJWTSecret,
				Issuer:  testIssuer,
				RolePermissions: map[string][]string{
					auth.RoleCustomer: {permReadSlots, permReadBookings, permWriteBookings},
				},
			},
		},
	}
}

func newTestEnv(t *testing.T, cfg *config.APIConfig) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.Open(":memory:", database.Options{}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := service.NewBookingService(service.Deps{
		Slots:    db,
		Bookings: db,
		Tx:       db,
		Audit:    audit.New(db, &logger),
		Events:   events.NewEventBus(),
		Logger:   &logger,
	}, service.Options{})

	pricer := pricing.NewTablePricer(config.PricingConfig{
		Currency:        "USD",
		Services:        map[string]int64{"wash": 4000},
		SizeMultipliers: map[string]float64{"suv": 1.25},
	})

	backend := NewBackend(svc, db, slots.NewGenerator(db, &logger), pricer)
	return &testEnv{db: db, backend: backend, cfg: cfg}
}

func (e *testEnv) slot(t *testing.T, date, start string) *models.Slot {
	t.Helper()
	d, err := time.Parse(models.DateLayout, date)
	require.NoError(t, err)
	s := &models.Slot{Date: d, StartTime: start}
	require.NoError(t, e.db.CreateSlot(context.Background(), s))
	return s
}

func (e *testEnv) available(t *testing.T, slotID int64) bool {
	t.Helper()
	s, err := e.db.GetSlot(context.Background(), slotID)
	require.NoError(t, err)
	return s.IsAvailable
}

func customerToken(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()
	return roleToken(t, subject, auth.RoleCustomer, ttl)
}

func roleToken(t *testing.T, subject, role string, ttl time.Duration) string {
	t.Helper()
	claims := auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}
