package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/p-blackswan/permbot/internal/audit"
	"github.com/p-blackswan/permbot/internal/command"
	perrors "github.com/p-blackswan/permbot/internal/errors"
	"github.com/p-blackswan/permbot/internal/gate"
	"github.com/p-blackswan/permbot/internal/health"
	"github.com/p-blackswan/permbot/internal/rbac"
	"github.com/p-blackswan/permbot/pkg/grantstore"
)

// Deps carries the collaborators the built-in handlers need.
type Deps struct {
	Perms    *rbac.Manager
	Store    grantstore.Store
	Registry *command.Registry
	Audit    *audit.Log
	Health   *health.Checker
	Version  string
	started  time.Time
}

// RegisterBuiltins registers the built-in command set with both the
// registry (for menu and permission metadata) and the mux (for execution).
func RegisterBuiltins(registry *command.Registry, mux *Mux, deps Deps) error {
	deps.started = time.Now()

	builtins := []struct {
		cmd     command.Command
		handler HandlerFunc
	}{
		{command.Command{Name: "status", Permission: "read_status", Category: "Monitoring", Description: "Check system status and health"}, deps.handleStatus},
		{command.Command{Name: "health", Permission: "read_status", Category: "Monitoring", Description: "Detailed health check"}, deps.handleHealth},
		{command.Command{Name: "version", Permission: "read_status", Category: "Monitoring", Description: "Show bot version"}, deps.handleVersion},
		{command.Command{Name: "deploy", Permission: "deployment", Category: "Development", Description: "Deploy application to production"}, deps.handleDeploy},
		{command.Command{Name: "build", Permission: "deployment", Category: "Development", Description: "Build application artifacts"}, deps.handleBuild},
		{command.Command{Name: "logs", Permission: "read_logs", Category: "Development", Description: "View application logs"}, deps.handleLogs},
		{command.Command{Name: "admin", Permission: "admin", Category: "Administration", Description: "Admin control panel"}, deps.handleAdmin},
		{command.Command{Name: "permissions", Permission: "manage_permissions", Category: "Administration", Description: "Manage user permissions"}, deps.handlePermissions},
		{command.Command{Name: "users", Permission: "admin", Category: "Administration", Description: "Manage users"}, deps.handleUsers},
	}

	for _, b := range builtins {
		if err := registry.Register(b.cmd); err != nil {
			return fmt.Errorf("registering %q: %w", b.cmd.Name, err)
		}
		mux.Handle(b.cmd.Name, b.handler)
	}
	return nil
}

func (d Deps) handleStatus(ctx context.Context, inv gate.Invocation) (gate.Response, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	text := fmt.Sprintf(
		"📊 *System Status*\n*Status:* operational\n*Uptime:* %s\n*Goroutines:* %d\n*Memory:* %.1f MB",
		time.Since(d.started).Round(time.Second),
		runtime.NumGoroutine(),
		float64(mem.Alloc)/(1<<20),
	)
	return gate.Response{Text: text}, nil
}

func (d Deps) handleHealth(ctx context.Context, inv gate.Invocation) (gate.Response, error) {
	if d.Health == nil {
		return gate.Response{Text: "🏥 *Health Check*\nNo dependency checks registered."}, nil
	}

	results := d.Health.RunAll(ctx)
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("🏥 *Health Check*\n")
	for _, name := range names {
		icon := "✅"
		if results[name] == health.StatusDown {
			icon = "❌"
		} else if results[name] == health.StatusDegraded {
			icon = "⚠️"
		}
		fmt.Fprintf(&sb, "%s *%s:* %s\n", icon, name, results[name])
	}
	return gate.Response{Text: strings.TrimRight(sb.String(), "\n")}, nil
}

func (d Deps) handleVersion(ctx context.Context, inv gate.Invocation) (gate.Response, error) {
	version := d.Version
	if version == "" {
		version = "dev"
	}
	return gate.Response{Text: fmt.Sprintf("🤖 permbot %s (%s)", version, runtime.Version())}, nil
}

func (d Deps) handleDeploy(ctx context.Context, inv gate.Invocation) (gate.Response, error) {
	target := "production"
	if len(inv.Args) > 0 {
		target = inv.Args[0]
	}
	text := fmt.Sprintf(
		"✅ *Deployment Successful!*\nApplication deployed to %s.\n_Deployed by <@%s> at %s_",
		target, inv.UserID, time.Now().UTC().Format("15:04:05 UTC"),
	)
	return gate.Response{Text: text}, nil
}

func (d Deps) handleBuild(ctx context.Context, inv gate.Invocation) (gate.Response, error) {
	text := "🔨 *Build Complete*\n*Status:* success\n*Artifacts:* app.tar.gz\n_Triggered by <@" + inv.UserID + ">_"
	return gate.Response{Text: text}, nil
}

func (d Deps) handleLogs(ctx context.Context, inv gate.Invocation) (gate.Response, error) {
	if d.Audit == nil {
		return gate.Response{Text: "📋 *Recent Activity*\nNo activity recorded yet."}, nil
	}

	entries := d.Audit.Entries("", 10)
	if len(entries) == 0 {
		return gate.Response{Text: "📋 *Recent Activity*\nNo activity recorded yet."}, nil
	}

	var sb strings.Builder
	sb.WriteString("📋 *Recent Activity*\n")
	for _, e := range entries {
		line := fmt.Sprintf("`%s` <@%s> ran `%s` → %s", e.Timestamp.UTC().Format("15:04:05"), e.UserID, e.Command, e.Decision)
		if e.Reason != "" {
			line += " (" + e.Reason + ")"
		}
		sb.WriteString(line + "\n")
	}
	return gate.Response{Text: strings.TrimRight(sb.String(), "\n")}, nil
}

func (d Deps) handleAdmin(ctx context.Context, inv gate.Invocation) (gate.Response, error) {
	totalUsers := "n/a"
	if lister, ok := d.Store.(grantstore.UserLister); ok {
		if users, err := lister.Users(ctx); err == nil {
			totalUsers = fmt.Sprintf("%d", len(users))
		}
	}

	auditCount := 0
	if d.Audit != nil {
		auditCount = d.Audit.Count()
	}

	text := fmt.Sprintf(
		"⚙️ *Admin Control Panel*\n*Users with grants:* %s\n*Registered commands:* %d\n*Roles:* %s\n*Audit entries:* %d\n\nUse `permissions` to manage grants, `users` to list users.",
		totalUsers,
		d.Registry.Len(),
		strings.Join(d.Perms.Hierarchy().Roles(), ", "),
		auditCount,
	)
	return gate.Response{Text: text}, nil
}

const permissionsUsage = "Usage:\n" +
	"`permissions show <user>`\n" +
	"`permissions grant role <user> <role>`\n" +
	"`permissions grant perm <user> <permission>`\n" +
	"`permissions revoke role <user> <role>`\n" +
	"`permissions revoke perm <user> <permission>`"

func (d Deps) handlePermissions(ctx context.Context, inv gate.Invocation) (gate.Response, error) {
	args := inv.Args
	if len(args) == 0 {
		return gate.Response{Text: permissionsUsage}, nil
	}

	switch args[0] {
	case "show":
		if len(args) != 2 {
			return gate.Response{Text: permissionsUsage}, nil
		}
		return d.showGrants(ctx, args[1])

	case "grant", "revoke":
		if len(args) != 4 {
			return gate.Response{Text: permissionsUsage}, nil
		}
		return d.mutateGrant(ctx, inv.UserID, args[0], args[1], args[2], args[3])

	default:
		return gate.Response{Text: permissionsUsage}, nil
	}
}

func (d Deps) showGrants(ctx context.Context, target string) (gate.Response, error) {
	target = normalizeUserRef(target)

	grants, err := d.Store.ListGrants(ctx, target)
	if err != nil {
		return gate.Response{}, err
	}
	perms, err := d.Perms.EffectivePermissions(ctx, target)
	if err != nil {
		return gate.Response{}, err
	}

	text := fmt.Sprintf(
		"🔐 *Grants for <@%s>*\n*Roles:* %s\n*Direct permissions:* %s\n*Effective permissions:* %s",
		target, orNone(grants.Roles), orNone(grants.Permissions), orNone(perms),
	)
	return gate.Response{Text: text}, nil
}

func (d Deps) mutateGrant(ctx context.Context, caller, verb, kind, target, value string) (gate.Response, error) {
	target = normalizeUserRef(target)

	var err error
	switch {
	case verb == "grant" && kind == "role":
		err = d.Perms.GrantRole(ctx, caller, target, value)
	case verb == "grant" && kind == "perm":
		err = d.Perms.GrantPermission(ctx, caller, target, value)
	case verb == "revoke" && kind == "role":
		err = d.Perms.RevokeRole(ctx, caller, target, value)
	case verb == "revoke" && kind == "perm":
		err = d.Perms.RevokePermission(ctx, caller, target, value)
	default:
		return gate.Response{Text: permissionsUsage}, nil
	}

	switch {
	case err == nil:
		return gate.Response{Text: fmt.Sprintf("✅ %sed %s `%s` for <@%s>", verb, kind, value, target)}, nil
	case errors.Is(err, perrors.ErrUnauthorized):
		return gate.Response{Text: "❌ You don't have permission to manage grants."}, nil
	case errors.Is(err, perrors.ErrNotFound):
		return gate.Response{Text: fmt.Sprintf("❌ Unknown role `%s`.", value)}, nil
	default:
		return gate.Response{}, err
	}
}

func (d Deps) handleUsers(ctx context.Context, inv gate.Invocation) (gate.Response, error) {
	lister, ok := d.Store.(grantstore.UserLister)
	if !ok {
		return gate.Response{Text: "👥 *Users*\nThe configured grant store cannot enumerate users."}, nil
	}

	users, err := lister.Users(ctx)
	if err != nil {
		return gate.Response{}, err
	}
	if len(users) == 0 {
		return gate.Response{Text: "👥 *Users*\nNo users have explicit grants yet."}, nil
	}
	sort.Strings(users)

	var sb strings.Builder
	sb.WriteString("👥 *Users with grants*\n")
	for _, user := range users {
		grants, err := d.Store.ListGrants(ctx, user)
		if err != nil {
			return gate.Response{}, err
		}
		fmt.Fprintf(&sb, "<@%s>: roles: %s, permissions: %s\n", user, orNone(grants.Roles), orNone(grants.Permissions))
	}
	return gate.Response{Text: strings.TrimRight(sb.String(), "\n")}, nil
}

// normalizeUserRef strips Slack mention syntax (<@U123> or <@U123|name>)
// down to the raw user ID.
func normalizeUserRef(ref string) string {
	ref = strings.TrimPrefix(ref, "<@")
	ref = strings.TrimSuffix(ref, ">")
	if i := strings.IndexByte(ref, '|'); i >= 0 {
		ref = ref[:i]
	}
	return ref
}

func orNone(list []string) string {
	if len(list) == 0 {
		return "_none_"
	}
	return "`" + strings.Join(list, "`, `") + "`"
}
