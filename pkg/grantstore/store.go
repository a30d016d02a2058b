// Package grantstore persists per-user role and permission grants.
//
// The store holds raw grant tokens only; it does not validate that a role or
// permission exists. Role expansion is the hierarchy's job and command
// permission lookup is the registry's.
package grantstore

import (
	"context"
)

// Grants is the set of role and direct-permission tokens held by one user.
type Grants struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// HasRole reports whether the role token is present.
func (g Grants) HasRole(role string) bool {
	for _, r := range g.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the direct-permission token is present.
func (g Grants) HasPermission(perm string) bool {
	for _, p := range g.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Empty reports whether the user holds no grants at all.
func (g Grants) Empty() bool {
	return len(g.Roles) == 0 && len(g.Permissions) == 0
}

// Store defines the grant storage interface.
// Revokes are idempotent: revoking an absent grant succeeds as a no-op.
type Store interface {
	// GrantRole assigns a role to a user.
	GrantRole(ctx context.Context, user, role string) error
	// GrantPermission assigns a direct permission to a user.
	GrantPermission(ctx context.Context, user, perm string) error
	// RevokeRole removes a role from a user.
	RevokeRole(ctx context.Context, user, role string) error
	// RevokePermission removes a direct permission from a user.
	RevokePermission(ctx context.Context, user, perm string) error
	// ListGrants returns all grants for a user. A user with no grants
	// yields an empty Grants, not an error.
	ListGrants(ctx context.Context, user string) (Grants, error)
}

// UserLister is implemented by stores that can enumerate the users holding
// at least one grant. Optional: admin listings degrade gracefully without it.
type UserLister interface {
	Users(ctx context.Context) ([]string, error)
}
