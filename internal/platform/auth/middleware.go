package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/shopsite/fulfillment/internal/platform/httpx"
)

const (
	claimRole   = "role"
	claimEmail  = "email"
	claimLocale = "locale"

	defaultVerifyTimeout = 5 * time.Second
)

var (
	ErrTokenExpired = errors.New("auth: id token expired")
	ErrTokenInvalid = errors.New("auth: id token invalid")
)

var (
	errNoBearer      = httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized)
	errNoVerifier    = httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized)
	errExpired       = httpx.NewError("token_expired", "id token expired", http.StatusUnauthorized)
	errInvalid       = httpx.NewError("invalid_token", "id token invalid", http.StatusUnauthorized)
	errUnverifiable  = httpx.NewError("invalid_token", "id token verification failed", http.StatusUnauthorized)
	errNoIdentity    = httpx.NewError("invalid_token", "token carries no usable identity", http.StatusUnauthorized)
	errRoleForbidden = httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden)
)

// TokenVerifier checks a bearer token. Firebase and the dev HS256 verifier both
// return Firebase-shaped tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier     TokenVerifier
	roleClaim    string
	fallbackRole string
	timeout      time.Duration
}

type Option func(*Authenticator)

// WithRoleClaim reads roles from a different custom claim.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithFallbackRole is granted to tokens without a role claim. Defaults to customer.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		if role = normaliseRole(role); role != "" {
			a.fallbackRole = role
		}
	}
}

func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		roleClaim:    claimRole,
		fallbackRole: RoleCustomer,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth rejects requests without a valid bearer token with 401. When roles are
// given, identities holding none of them get 403.
func (a *Authenticator) RequireAuth(roles ...string) func(http.Handler) http.Handler {
	required := normaliseRoles(roles)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, failure := a.authenticate(ctx, r.Header.Get("Authorization"))
			if failure != nil {
				httpx.WriteError(ctx, w, *failure)
				return
			}
			if len(required) > 0 && !identity.HasAnyRole(required...) {
				httpx.WriteError(ctx, w, errRoleForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, header string) (*Identity, *httpx.Error) {
	raw, ok := bearerToken(header)
	if !ok {
		return nil, &errNoBearer
	}
	if a == nil || a.verifier == nil {
		return nil, &errNoVerifier
	}

	verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	token, err := a.verifier.VerifyIDToken(verifyCtx, raw)
	switch {
	case errors.Is(err, ErrTokenExpired):
		return nil, &errExpired
	case errors.Is(err, ErrTokenInvalid):
		return nil, &errInvalid
	case err != nil || token == nil:
		return nil, &errUnverifiable
	}

	identity := &Identity{
		UID:    strings.TrimSpace(token.UID),
		Email:  stringClaim(token.Claims, claimEmail),
		Locale: stringClaim(token.Claims, claimLocale),
		Roles:  rolesClaim(token.Claims[a.roleClaim]),
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{a.fallbackRole}
	}
	if identity.UID == "" {
		return nil, &errNoIdentity
	}
	return identity, nil
}

// rolesClaim accepts a single role, a list of roles, or a {role: true} map.
func rolesClaim(raw any) []string {
	var names []string
	switch v := raw.(type) {
	case string:
		names = []string{v}
	case []string:
		names = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	case map[string]any:
		for name, granted := range v {
			if b, ok := granted.(bool); ok && b {
				names = append(names, name)
			}
		}
		slices.Sort(names)
	}
	return normaliseRoles(names)
}

func normaliseRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" && !slices.Contains(out, role) {
			out = append(out, role)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
