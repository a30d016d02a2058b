// Package mgmt provides the management API for operating the permission
// system over HTTP.
package mgmt

import (
	"time"

	"github.com/p-blackswan/permbot/internal/audit"
)

// ProblemDetail is an RFC 7807 error response body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// GrantsResponse is the payload for GET /api/v1/grants/:user.
type GrantsResponse struct {
	User                 string   `json:"user"`
	Roles                []string `json:"roles"`
	DirectPermissions    []string `json:"direct_permissions"`
	EffectivePermissions []string `json:"effective_permissions"`
}

// GrantRequest is the payload for grant mutations.
type GrantRequest struct {
	Role       string `json:"role,omitempty"`
	Permission string `json:"permission,omitempty"`
}

// GrantResult acknowledges a grant mutation.
type GrantResult struct {
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Value     string    `json:"value"`
	AppliedAt time.Time `json:"applied_at"`
}

// UsersResponse is the payload for GET /api/v1/users.
type UsersResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// AuditResponse is the payload for GET /api/v1/audit.
type AuditResponse struct {
	Entries []audit.Entry `json:"entries"`
	Count   int           `json:"count"`
}

// MenuEntry is one command in a menu preview.
type MenuEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Permission  string `json:"permission,omitempty"`
}

// MenuSection groups menu entries by category.
type MenuSection struct {
	Category string      `json:"category"`
	Commands []MenuEntry `json:"commands"`
}

// MenuResponse is the payload for GET /api/v1/menu/:user.
type MenuResponse struct {
	User     string        `json:"user"`
	Sections []MenuSection `json:"sections"`
}

// RoleInfo describes one role in the hierarchy dump.
type RoleInfo struct {
	Name                 string   `json:"name"`
	Permissions          []string `json:"permissions"`
	Inherits             []string `json:"inherits,omitempty"`
	EffectivePermissions []string `json:"effective_permissions"`
}

// HierarchyResponse is the payload for GET /api/v1/hierarchy.
type HierarchyResponse struct {
	Roles []RoleInfo `json:"roles"`
}
