package rbac

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/permbot/internal/cache"
	perrors "github.com/p-blackswan/permbot/internal/errors"
	"github.com/p-blackswan/permbot/internal/metrics"
	"github.com/p-blackswan/permbot/pkg/grantstore"
)

// ManagerConfig holds permission manager settings.
type ManagerConfig struct {
	// AdminPermission is the bootstrap permission required to mutate grants.
	AdminPermission string
	// DefaultRole is implicitly held by every user. Empty disables it.
	DefaultRole string
	// CacheTTL bounds how long a computed permission set may be served.
	CacheTTL time.Duration
	// CacheSize bounds the number of users with cached permission sets.
	CacheSize int
}

// DefaultManagerConfig returns the standard manager settings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		AdminPermission: "admin",
		DefaultRole:     "user",
		CacheTTL:        5 * time.Minute,
		CacheSize:       1024,
	}
}

// Manager answers "can user U exercise permission P" by expanding store
// grants through the role hierarchy. Every lookup failure resolves to deny.
type Manager struct {
	store     grantstore.Store
	hierarchy *Hierarchy
	cfg       ManagerConfig
	cache     *cache.Cache[string, map[string]struct{}]
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewManager creates a permission manager.
func NewManager(store grantstore.Store, hierarchy *Hierarchy, cfg ManagerConfig, m *metrics.Metrics, logger zerolog.Logger) *Manager {
	if cfg.CacheSize < 1 {
		cfg.CacheSize = 1024
	}
	return &Manager{
		store:     store,
		hierarchy: hierarchy,
		cfg:       cfg,
		cache:     cache.New[string, map[string]struct{}](cfg.CacheSize, cfg.CacheTTL),
		metrics:   m,
		logger:    logger.With().Str("component", "rbac").Logger(),
	}
}

// CheckPermission reports whether the user's effective permission set
// contains perm. Any store fault resolves to deny.
func (m *Manager) CheckPermission(ctx context.Context, user, perm string) bool {
	if user == "" || perm == "" {
		m.metrics.RecordPermissionCheck("denied")
		return false
	}

	perms, err := m.effective(ctx, user)
	if err != nil {
		m.logger.Error().Err(err).Str("user", user).Msg("permission lookup failed, denying")
		m.metrics.RecordPermissionCheck("error")
		return false
	}

	_, ok := perms[perm]
	if ok {
		m.metrics.RecordPermissionCheck("allowed")
	} else {
		m.metrics.RecordPermissionCheck("denied")
	}
	return ok
}

// EffectivePermissions returns the user's full permission set, sorted.
// Used by admin tooling; command gating goes through CheckPermission.
func (m *Manager) EffectivePermissions(ctx context.Context, user string) ([]string, error) {
	perms, err := m.effective(ctx, user)
	if err != nil {
		return nil, err
	}
	return sortedKeys(perms), nil
}

// effective returns the cached or freshly computed permission set.
func (m *Manager) effective(ctx context.Context, user string) (map[string]struct{}, error) {
	if perms, ok := m.cache.Get(user); ok {
		m.metrics.RecordCacheLookup("hit")
		return perms, nil
	}
	m.metrics.RecordCacheLookup("miss")

	grants, err := m.store.ListGrants(ctx, user)
	if err != nil {
		return nil, perrors.NewStoreError("list", user, err)
	}

	perms := make(map[string]struct{})

	roles := grants.Roles
	if m.cfg.DefaultRole != "" {
		roles = append([]string{m.cfg.DefaultRole}, roles...)
	}
	for _, role := range roles {
		rolePerms, ok := m.hierarchy.EffectivePermissions(role)
		if !ok {
			// A granted role that is no longer configured contributes
			// nothing. Logged because it usually means a stale grant.
			m.logger.Warn().Str("user", user).Str("role", role).Msg("grant references unknown role")
			continue
		}
		for p := range rolePerms {
			perms[p] = struct{}{}
		}
	}
	for _, p := range grants.Permissions {
		perms[p] = struct{}{}
	}

	m.cache.Put(user, perms)
	return perms, nil
}

// GrantRole assigns a role to target. Caller must hold the admin permission.
func (m *Manager) GrantRole(ctx context.Context, caller, target, role string) error {
	if err := m.requireAdmin(ctx, caller); err != nil {
		return err
	}
	if !m.hierarchy.HasRole(role) {
		return perrors.ErrNotFound
	}
	if err := m.store.GrantRole(ctx, target, role); err != nil {
		return perrors.NewStoreError("grant", target, err)
	}
	m.invalidate(target)
	m.logger.Info().Str("caller", caller).Str("target", target).Str("role", role).Msg("role granted")
	return nil
}

// RevokeRole removes a role from target. Caller must hold the admin permission.
func (m *Manager) RevokeRole(ctx context.Context, caller, target, role string) error {
	if err := m.requireAdmin(ctx, caller); err != nil {
		return err
	}
	if err := m.store.RevokeRole(ctx, target, role); err != nil {
		return perrors.NewStoreError("revoke", target, err)
	}
	m.invalidate(target)
	m.logger.Info().Str("caller", caller).Str("target", target).Str("role", role).Msg("role revoked")
	return nil
}

// GrantPermission assigns a direct permission to target. Caller must hold
// the admin permission.
func (m *Manager) GrantPermission(ctx context.Context, caller, target, perm string) error {
	if err := m.requireAdmin(ctx, caller); err != nil {
		return err
	}
	if err := m.store.GrantPermission(ctx, target, perm); err != nil {
		return perrors.NewStoreError("grant", target, err)
	}
	m.invalidate(target)
	m.logger.Info().Str("caller", caller).Str("target", target).Str("permission", perm).Msg("permission granted")
	return nil
}

// RevokePermission removes a direct permission from target. Caller must hold
// the admin permission.
func (m *Manager) RevokePermission(ctx context.Context, caller, target, perm string) error {
	if err := m.requireAdmin(ctx, caller); err != nil {
		return err
	}
	if err := m.store.RevokePermission(ctx, target, perm); err != nil {
		return perrors.NewStoreError("revoke", target, err)
	}
	m.invalidate(target)
	m.logger.Info().Str("caller", caller).Str("target", target).Str("permission", perm).Msg("permission revoked")
	return nil
}

// Bootstrap grants the admin role to the configured admin users and bypasses
// the caller check. Runs once at startup before any request is served. A
// misconfigured admin role would leave every admin operation unreachable, so
// it is rejected here instead of surfacing as per-check denials later.
func (m *Manager) Bootstrap(ctx context.Context, adminUsers []string, adminRole string) error {
	rolePerms, ok := m.hierarchy.EffectivePermissions(adminRole)
	if !ok {
		return fmt.Errorf("bootstrap admin role %q: %w", adminRole, perrors.ErrNotFound)
	}
	if _, ok := rolePerms[m.cfg.AdminPermission]; !ok {
		return fmt.Errorf("bootstrap admin role %q does not grant %q", adminRole, m.cfg.AdminPermission)
	}
	for _, user := range adminUsers {
		if err := m.store.GrantRole(ctx, user, adminRole); err != nil {
			return perrors.NewStoreError("grant", user, err)
		}
		m.invalidate(user)
		m.logger.Info().Str("user", user).Msg("bootstrap admin configured")
	}
	return nil
}

// Hierarchy exposes the role hierarchy for diagnostic tooling.
func (m *Manager) Hierarchy() *Hierarchy {
	return m.hierarchy
}

// AdminPermission returns the configured bootstrap admin permission token.
func (m *Manager) AdminPermission() string {
	return m.cfg.AdminPermission
}

// requireAdmin verifies the caller holds the bootstrap admin permission.
func (m *Manager) requireAdmin(ctx context.Context, caller string) error {
	if !m.CheckPermission(ctx, caller, m.cfg.AdminPermission) {
		return perrors.ErrUnauthorized
	}
	return nil
}

// invalidate drops the cached permission set so the next check recomputes.
// Write-through: a revoke is visible immediately, never after TTL expiry.
func (m *Manager) invalidate(user string) {
	m.cache.Delete(user)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
