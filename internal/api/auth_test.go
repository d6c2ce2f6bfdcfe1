package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"mobibook/internal/auth"
	"mobibook/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator(t *testing.T) {
	a := NewAuthenticator(testAPIConfig().Auth)
	require.True(t, a.Enabled())

	t.Run("APIKey", func(t *testing.T) {
		p, err := a.authenticate("ops-key", "ops-extra", "")
		require.NoError(t, err)
		assert.Equal(t, auth.Identity{ActorID: "ops", Role: auth.RoleOperator}, p.identity)
		assert.Equal(t, "ops-key", p.key)
		assert.True(t, p.can(permOverride))
	})

	t.Run("DefaultRole", func(t *testing.T) {
		p, err := a.authenticate("ro-key", "ro-extra", "")
		require.NoError(t, err)
		assert.Equal(t, auth.RoleOperator, p.identity.Role)
		assert.True(t, p.can(permReadBookings))
		assert.False(t, p.can(permWriteBookings))
	})

	t.Run("WrongKey", func(t *testing.T) {
		_, err := a.authenticate("nope", "ops-extra", "")
		assert.True(t, errors.Is(err, errInvalidAPIKey))
	})

	t.Run("WrongExtra", func(t *testing.T) {
		_, err := a.authenticate("ops-key", "wrong", "")
		assert.True(t, errors.Is(err, errInvalidExtra))
	})

	t.Run("Bearer", func(t *testing.T) {
		p, err := a.authenticate("", "", "Bearer "+customerToken(t, "cust-1", time.Hour))
		require.NoError(t, err)
		assert.Equal(t, auth.Identity{ActorID: "cust-1", Role: auth.RoleCustomer}, p.identity)
		assert.Equal(t, "sub:cust-1", p.key)
		assert.True(t, p.can(permWriteBookings))
		assert.False(t, p.can(permManageBookings))
		assert.False(t, p.can(permOverride))
		assert.False(t, p.can(permWriteSlots))
	})

	t.Run("UnmappedRole", func(t *testing.T) {
		p, err := a.authenticate("", "", "Bearer "+roleToken(t, "someone", "guest", time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "guest", p.identity.Role)
		assert.False(t, p.can(permReadSlots))
		assert.False(t, p.can(permWriteSlots))
		assert.False(t, p.can(permWriteBookings))
	})

	t.Run("ExpiredBearer", func(t *testing.T) {
		_, err := a.authenticate("", "", "Bearer "+customerToken(t, "cust-1", -time.Minute))
		assert.True(t, errors.Is(err, auth.ErrInvalidToken))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := a.authenticate("", "", "")
		assert.True(t, errors.Is(err, errMissingCredentials))
	})
}

func TestPrincipalContext(t *testing.T) {
	p := principal{identity: auth.Identity{ActorID: "ops", Role: auth.RoleOperator}, key: "ops-key"}
	ctx := withPrincipal(context.Background(), p)

	got, ok := principalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, p.key, got.key)
	assert.Equal(t, "ops", auth.Actor(ctx))

	_, ok = principalFrom(context.Background())
	assert.False(t, ok)
}

func TestPrincipalWildcard(t *testing.T) {
	p := principal{permissions: []string{" * "}}
	assert.True(t, p.can(permOverride))
	assert.True(t, principal{permissions: []string{permReadSlots}}.can(""))
	assert.False(t, principal{}.can(permReadSlots))
	assert.True(t, principal{unrestricted: true}.can(permOverride))
	assert.True(t, anonymous("127.0.0.1").can(permWriteSlots))
}

func TestRequiredPermission(t *testing.T) {
	cases := map[string]string{
		"Reserve":    permWriteBookings,
		"Transition": permWriteBookings,
		"Reschedule": permManageBookings,
		"GetBooking": permReadBookings,
		"AuditTrail": permReadBookings,
		"ListSlots":  permReadSlots,
	}
	for method, want := range cases {
		assert.Equal(t, want, requiredPermission("/"+BookingServiceName+"/"+method), method)
	}
	assert.Empty(t, requiredPermission("/grpc.health.v1.Health/Check"))
}

func TestRateLimiter(t *testing.T) {
	l := newRateLimiter(testAPIConfig().RateLimit)
	assert.False(t, l.enabled())
	assert.True(t, l.allow("anyone"))

	l = newRateLimiter(config.APIRateLimitConfig{RPS: 0.001, Burst: 2})
	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"), "buckets are per key")
}
