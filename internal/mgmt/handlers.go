package mgmt

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/permbot/internal/audit"
	perrors "github.com/p-blackswan/permbot/internal/errors"
	"github.com/p-blackswan/permbot/internal/health"
	"github.com/p-blackswan/permbot/internal/menu"
	"github.com/p-blackswan/permbot/internal/rbac"
	"github.com/p-blackswan/permbot/pkg/grantstore"
)

// Handlers implements the management API endpoints.
type Handlers struct {
	perms    *rbac.Manager
	store    grantstore.Store
	menu     *menu.Builder
	auditLog *audit.Log
	checker  *health.Checker
	logger   zerolog.Logger
}

// NewHandlers creates the management API handlers.
func NewHandlers(perms *rbac.Manager, store grantstore.Store, menuBuilder *menu.Builder, auditLog *audit.Log, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		perms:    perms,
		store:    store,
		menu:     menuBuilder,
		auditLog: auditLog,
		checker:  checker,
		logger:   logger.With().Str("component", "mgmt.handlers").Logger(),
	}
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())
	ready := true
	for _, status := range results {
		if status == health.StatusDown {
			ready = false
			break
		}
	}
	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready", "checks": results})
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": results})
}

// GetGrants handles GET /api/v1/grants/:user.
func (h *Handlers) GetGrants(c *fiber.Ctx) error {
	user := c.Params("user")

	grants, err := h.store.ListGrants(c.Context(), user)
	if err != nil {
		return h.storeProblem(c, err)
	}
	effective, err := h.perms.EffectivePermissions(c.Context(), user)
	if err != nil {
		return h.storeProblem(c, err)
	}

	return c.JSON(GrantsResponse{
		User:                 user,
		Roles:                grants.Roles,
		DirectPermissions:    grants.Permissions,
		EffectivePermissions: effective,
	})
}

// GrantRole handles POST /api/v1/grants/:user/roles.
func (h *Handlers) GrantRole(c *fiber.Ctx) error {
	return h.mutate(c, "grant_role", func(caller, user string, req GrantRequest) (string, error) {
		return req.Role, h.perms.GrantRole(c.Context(), caller, user, req.Role)
	})
}

// RevokeRole handles DELETE /api/v1/grants/:user/roles/:role.
func (h *Handlers) RevokeRole(c *fiber.Ctx) error {
	role := c.Params("role")
	return h.mutate(c, "revoke_role", func(caller, user string, _ GrantRequest) (string, error) {
		return role, h.perms.RevokeRole(c.Context(), caller, user, role)
	})
}

// GrantPermission handles POST /api/v1/grants/:user/permissions.
func (h *Handlers) GrantPermission(c *fiber.Ctx) error {
	return h.mutate(c, "grant_permission", func(caller, user string, req GrantRequest) (string, error) {
		return req.Permission, h.perms.GrantPermission(c.Context(), caller, user, req.Permission)
	})
}

// RevokePermission handles DELETE /api/v1/grants/:user/permissions/:perm.
func (h *Handlers) RevokePermission(c *fiber.Ctx) error {
	perm := c.Params("perm")
	return h.mutate(c, "revoke_permission", func(caller, user string, _ GrantRequest) (string, error) {
		return perm, h.perms.RevokePermission(c.Context(), caller, user, perm)
	})
}

// mutate implements the shared shape of grant mutations: resolve the
// caller, parse the body (for POSTs), apply, map errors to problem
// responses.
func (h *Handlers) mutate(c *fiber.Ctx, action string, apply func(caller, user string, req GrantRequest) (string, error)) error {
	caller := callerID(c)
	if caller == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_caller", "Bad Request",
			"Caller identity is required (JWT subject or X-Caller-ID header)")
	}
	user := c.Params("user")

	var req GrantRequest
	if c.Method() == fiber.MethodPost {
		if err := c.BodyParser(&req); err != nil {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_body", "Bad Request",
				"Request body must be valid JSON")
		}
		if req.Role == "" && req.Permission == "" {
			return problemResponse(c, fiber.StatusBadRequest,
				"missing_value", "Bad Request",
				"A role or permission value is required")
		}
	}

	value, err := apply(caller, user, req)
	switch {
	case err == nil:
	case errors.Is(err, perrors.ErrUnauthorized):
		return problemResponse(c, fiber.StatusForbidden,
			"not_admin", "Forbidden",
			"Caller does not hold the admin permission")
	case errors.Is(err, perrors.ErrNotFound):
		return problemResponse(c, fiber.StatusUnprocessableEntity,
			"unknown_role", "Unprocessable Entity",
			"The named role is not defined in the hierarchy")
	default:
		return h.storeProblem(c, err)
	}

	h.logger.Info().
		Str("caller", caller).
		Str("user", user).
		Str("action", action).
		Str("value", value).
		Msg("grant mutated")

	return c.JSON(GrantResult{User: user, Action: action, Value: value, AppliedAt: time.Now().UTC()})
}

// ListUsers handles GET /api/v1/users.
func (h *Handlers) ListUsers(c *fiber.Ctx) error {
	lister, ok := h.store.(grantstore.UserLister)
	if !ok {
		return problemResponse(c, fiber.StatusNotImplemented,
			"not_supported", "Not Implemented",
			"The configured grant store cannot enumerate users")
	}
	users, err := lister.Users(c.Context())
	if err != nil {
		return h.storeProblem(c, err)
	}
	return c.JSON(UsersResponse{Users: users, Count: len(users)})
}

// QueryAudit handles GET /api/v1/audit?user=&limit=.
func (h *Handlers) QueryAudit(c *fiber.Ctx) error {
	user := c.Query("user")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_limit", "Bad Request",
				"limit must be a positive integer")
		}
		limit = n
	}

	entries := h.auditLog.Entries(user, limit)
	return c.JSON(AuditResponse{Entries: entries, Count: len(entries)})
}

// PreviewMenu handles GET /api/v1/menu/:user. It renders the same filtered
// menu the user would see in Slack.
func (h *Handlers) PreviewMenu(c *fiber.Ctx) error {
	user := c.Params("user")

	sections := h.menu.Build(c.Context(), user)
	resp := MenuResponse{User: user, Sections: make([]MenuSection, 0, len(sections))}
	for _, group := range sections {
		section := MenuSection{Category: group.Category, Commands: make([]MenuEntry, 0, len(group.Commands))}
		for _, cmd := range group.Commands {
			section.Commands = append(section.Commands, MenuEntry{
				Name:        cmd.Name,
				Description: cmd.Description,
				Permission:  cmd.Permission,
			})
		}
		resp.Sections = append(resp.Sections, section)
	}
	return c.JSON(resp)
}

// GetHierarchy handles GET /api/v1/hierarchy.
func (h *Handlers) GetHierarchy(c *fiber.Ctx) error {
	hierarchy := h.perms.Hierarchy()
	effective := hierarchy.Describe()

	resp := HierarchyResponse{Roles: make([]RoleInfo, 0, len(effective))}
	for _, name := range hierarchy.Roles() {
		def, _ := hierarchy.Def(name)
		resp.Roles = append(resp.Roles, RoleInfo{
			Name:                 name,
			Permissions:          def.Permissions,
			Inherits:             def.Inherits,
			EffectivePermissions: effective[name],
		})
	}
	return c.JSON(resp)
}

func (h *Handlers) storeProblem(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("store operation failed")
	return problemResponse(c, fiber.StatusBadGateway,
		"store_unavailable", "Bad Gateway",
		"The grant store did not respond")
}
