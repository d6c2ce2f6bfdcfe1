package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"mobibook/internal/auth"
	"mobibook/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	authorizationHeader   = "authorization"
	clientKeyUnknown      = "unknown"

	permReadSlots      = "read:slots"
	permWriteSlots     = "write:slots"
	permReadBookings   = "read:bookings"
	permWriteBookings  = "write:bookings"
	permManageBookings = "manage:bookings"
	permOverride       = "override:bookings"
	permissionWildcard = "*"
)

var (
	errMissingCredentials = errors.New("missing api key headers or bearer token")
	errInvalidAPIKey      = errors.New("invalid api key")
	errInvalidExtra       = errors.New("invalid extra header")
	errPermissionDenied   = errors.New("permission denied")
)

// principal is an authenticated caller.
type principal struct {
	identity auth.Identity
	// key identifies the caller for per-client rate limiting.
	key         string
	permissions []string
	// unrestricted holds every permission. Set for API keys configured
	// without a permission list and for the anonymous principal.
	unrestricted bool
}

// can reports whether p holds perm.
func (p principal) can(perm string) bool {
	if perm == "" || p.unrestricted {
		return true
	}
	for _, granted := range p.permissions {
		granted = strings.TrimSpace(granted)
		if granted == perm || granted == permissionWildcard {
			return true
		}
	}
	return false
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p principal) context.Context {
	return auth.WithIdentity(context.WithValue(ctx, principalKey{}, p), p.identity)
}

func principalFrom(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalKey{}).(principal)
	return p, ok
}

// Authenticator resolves API key pairs and JWT bearer tokens into principals.
// It is shared by the HTTP and gRPC front ends.
type Authenticator struct {
	cfg          config.APIAuthConfig
	apiKeyHeader string
	extraHeader  string
	clients      map[string]config.APIClientKey
	tokens       *auth.TokenParser
}

func NewAuthenticator(cfg config.APIAuthConfig) *Authenticator {
	m := make(map[string]config.APIClientKey, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		m[k.Key] = k
	}

	a := &Authenticator{
		cfg:          cfg,
		apiKeyHeader: headerName(cfg.HeaderAPIKey, apiKeyHeaderDefault),
		extraHeader:  headerName(cfg.HeaderExtra, apiExtraHeaderDefault),
		clients:      m,
	}
	if cfg.JWT.Enabled {
		a.tokens = auth.NewTokenParser(cfg.JWT.Secret, cfg.JWT.Issuer)
	}
	return a
}

func headerName(raw, fallback string) string {
	h := strings.ToLower(strings.TrimSpace(raw))
	if h == "" {
		return fallback
	}
	return h
}

// Enabled reports whether callers must present credentials.
func (a *Authenticator) Enabled() bool {
	return a.cfg.Enabled
}

// authenticate checks the API key pair first and falls back to a bearer token.
func (a *Authenticator) authenticate(apiKey, extra, authorization string) (principal, error) {
	apiKey = strings.TrimSpace(apiKey)
	extra = strings.TrimSpace(extra)

	if apiKey != "" {
		client, ok := a.clients[apiKey]
		if !ok {
			return principal{}, errInvalidAPIKey
		}
		if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
			return principal{}, errInvalidExtra
		}
		role := client.Role
		if role == "" {
			role = auth.RoleOperator
		}
		return principal{
			identity:     auth.Identity{ActorID: client.Name, Role: role},
			key:          apiKey,
			permissions:  client.Permissions,
			unrestricted: len(client.Permissions) == 0,
		}, nil
	}

	if token, ok := auth.BearerToken(authorization); ok && a.tokens != nil {
		id, err := a.tokens.Parse(token)
		if err != nil {
			return principal{}, err
		}
		// Roles come from the token, so an unmapped role holds nothing.
		return principal{
			identity:    id,
			key:         "sub:" + id.ActorID,
			permissions: a.cfg.JWT.RolePermissions[id.Role],
		}, nil
	}

	return principal{}, errMissingCredentials
}

// anonymous is the principal used while authentication is disabled. It has
// no role, so it is neither customer scoped nor allowed to override.
func anonymous(key string) principal {
	return principal{identity: auth.Identity{ActorID: "anonymous"}, key: key, unrestricted: true}
}

// AuthInterceptor authenticates gRPC calls, checks method permissions and
// applies the per-client limiter.
type AuthInterceptor struct {
	authn   *Authenticator
	limiter *rateLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{
		authn:   NewAuthenticator(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		p := anonymous(remoteKey(ctx))
		if a.authn.Enabled() {
			md, ok := metadata.FromIncomingContext(ctx)
			if !ok {
				return nil, status.Error(codes.Unauthenticated, "missing metadata")
			}
			var err error
			p, err = a.authn.authenticate(
				first(md.Get(a.authn.apiKeyHeader)),
				first(md.Get(a.authn.extraHeader)),
				first(md.Get(authorizationHeader)),
			)
			if err != nil {
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
			if !p.can(requiredPermission(info.FullMethod)) {
				return nil, status.Error(codes.PermissionDenied, errPermissionDenied.Error())
			}
		}

		if !a.limiter.allow(p.key) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(withPrincipal(ctx, p), req)
	}
}

func requiredPermission(fullMethod string) string {
	switch strings.TrimPrefix(fullMethod, "/"+BookingServiceName+"/") {
	case "Reserve", "Transition":
		return permWriteBookings
	case "Reschedule":
		return permManageBookings
	case "GetBooking", "AuditTrail":
		return permReadBookings
	case "ListSlots":
		return permReadSlots
	default:
		return ""
	}
}

func remoteKey(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
