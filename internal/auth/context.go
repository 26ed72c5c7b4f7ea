package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/domain"
)

// SystemUserID identifies requests authenticated with the admin API key
var SystemUserID = uuid.MustParse("00000000-0000-0000-0000-000000000000")

// UserContext holds authenticated user information
type UserContext struct {
	UserID      uuid.UUID
	DisplayName string
	Email       string
	Roles       []domain.UserRoleType
}

type contextKey string

const userContextKey contextKey = "userContext"

// WithUserContext adds user context to the context
func WithUserContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// FromContext extracts user context from the context
func FromContext(ctx context.Context) (*UserContext, bool) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	return user, ok && user != nil
}

// MustFromContext extracts user context or panics
func MustFromContext(ctx context.Context) *UserContext {
	user, ok := FromContext(ctx)
	if !ok {
		panic("user context not found in context")
	}
	return user
}

// HasRole checks if user has a specific role
func (u *UserContext) HasRole(role domain.UserRoleType) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks if user has any of the specified roles
func (u *UserContext) HasAnyRole(roles ...domain.UserRoleType) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user bypasses ownership checks
func (u *UserContext) IsAdmin() bool {
	return u.HasAnyRole(domain.RoleAdmin, domain.RoleAPIService)
}

// CanApprove reports whether the user may decide approvals at the given level
func (u *UserContext) CanApprove(level domain.ApprovalLevel) bool {
	switch level {
	case domain.ApprovalLevelAdmin:
		return u.IsAdmin()
	case domain.ApprovalLevelManager:
		return u.IsAdmin() || u.HasRole(domain.RoleManager)
	default:
		return u.IsAdmin() || u.HasAnyRole(domain.RoleManager, domain.RoleAccountant)
	}
}

// CanManage reports whether the user owns the record or is an admin
func (u *UserContext) CanManage(ownerID uuid.UUID) bool {
	return u.IsAdmin() || u.UserID == ownerID
}

// OwnerScope returns the owner id lists should be restricted to, or nil for admins
func (u *UserContext) OwnerScope() *uuid.UUID {
	if u.IsAdmin() {
		return nil
	}
	id := u.UserID
	return &id
}

// RolesAsStrings returns roles as string slice (for logging)
func (u *UserContext) RolesAsStrings() []string {
	out := make([]string, len(u.Roles))
	for i, r := range u.Roles {
		out[i] = string(r)
	}
	return out
}
