// Package menu derives the personalized command menu for a user.
package menu

import (
	"context"

	"github.com/p-blackswan/permbot/internal/command"
	"github.com/p-blackswan/permbot/internal/metrics"
)

// PermissionChecker answers whether a user holds a permission.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, user, perm string) bool
}

// Builder produces the filtered, ordered menu of commands a user may invoke.
// Build is a pure read: it touches neither rate-limit nor audit state.
type Builder struct {
	registry *command.Registry
	perms    PermissionChecker
	metrics  *metrics.Metrics
}

// NewBuilder creates a menu builder.
func NewBuilder(registry *command.Registry, perms PermissionChecker, m *metrics.Metrics) *Builder {
	return &Builder{registry: registry, perms: perms, metrics: m}
}

// Build returns the menu sections visible to the user: public commands plus
// those the user holds the required permission for. Categories with no
// visible commands are omitted. Ordering follows the registry (categories in
// configured display order, commands in registration order).
func (b *Builder) Build(ctx context.Context, user string) []command.CategoryGroup {
	b.metrics.RecordMenuBuild()

	var sections []command.CategoryGroup
	for _, group := range b.registry.ListByCategory() {
		var visible []command.Command
		for _, cmd := range group.Commands {
			if cmd.Public() || b.perms.CheckPermission(ctx, user, cmd.Permission) {
				visible = append(visible, cmd)
			}
		}
		if len(visible) > 0 {
			sections = append(sections, command.CategoryGroup{
				Category: group.Category,
				Commands: visible,
			})
		}
	}
	return sections
}
