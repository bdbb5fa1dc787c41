package auth

import (
	"context"
	"slices"
	"strings"

	domain "github.com/shopsite/fulfillment/internal/domain"
)

// Values of the role custom claim.
const (
	RoleCustomer = "customer"
	RoleMerchant = "merchant"
	RoleAdmin    = "admin"
)

// callerRoles maps claim roles to order-service roles, strongest first.
var callerRoles = []struct {
	claim string
	role  domain.Role
}{
	{RoleAdmin, domain.RoleAdmin},
	{RoleMerchant, domain.RoleMerchant},
	{RoleCustomer, domain.RoleCustomer},
}

// Identity is the principal behind a verified bearer token.
type Identity struct {
	UID    string
	Email  string
	Roles  []string
	Locale string
}

// HasRole compares case-insensitively. A nil identity has no roles.
func (i *Identity) HasRole(role string) bool {
	role = normaliseRole(role)
	if i == nil || role == "" {
		return false
	}
	return slices.ContainsFunc(i.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

// Caller is the explicit principal handed to the order services. Identities without
// a known role act as customers.
func (i *Identity) Caller() domain.Caller {
	if i == nil {
		return domain.Caller{}
	}
	caller := domain.Caller{UserID: i.UID, Role: domain.RoleCustomer, Locale: i.Locale}
	for _, candidate := range callerRoles {
		if i.HasRole(candidate.claim) {
			caller.Role = candidate.role
			break
		}
	}
	return caller
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext reports false when no identity, or a nil one, was stored.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}
