package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/permbot/internal/audit"
	"github.com/p-blackswan/permbot/internal/command"
	perrors "github.com/p-blackswan/permbot/internal/errors"
	"github.com/p-blackswan/permbot/internal/gate"
	"github.com/p-blackswan/permbot/internal/rbac"
	"github.com/p-blackswan/permbot/pkg/grantstore"
)

func newDeps(t *testing.T) (Deps, *Mux, *command.Registry) {
	t.Helper()

	store := grantstore.NewMemoryStore()
	mgr := rbac.NewManager(store, rbac.DefaultHierarchy(), rbac.ManagerConfig{
		AdminPermission: "admin",
		DefaultRole:     "user",
		CacheTTL:        time.Minute,
	}, nil, zerolog.Nop())
	require.NoError(t, mgr.Bootstrap(context.Background(), []string{"UADMIN"}, "admin"))

	registry := command.NewRegistry()
	mux := NewMux(zerolog.Nop())
	deps := Deps{
		Perms:    mgr,
		Store:    store,
		Registry: registry,
		Audit:    audit.NewLog(zerolog.Nop()),
		Version:  "1.2.3",
	}
	require.NoError(t, RegisterBuiltins(registry, mux, deps))
	return deps, mux, registry
}

func TestRegisterBuiltinsPopulatesRegistry(t *testing.T) {
	_, _, registry := newDeps(t)

	assert.Equal(t, 9, registry.Len())

	cmd, err := registry.Get("deploy")
	require.NoError(t, err)
	assert.Equal(t, "deployment", cmd.Permission)
	assert.Equal(t, "Development", cmd.Category)

	groups := registry.ListByCategory()
	require.Len(t, groups, 3)
	assert.Equal(t, "Monitoring", groups[0].Category)
	assert.Equal(t, "Development", groups[1].Category)
	assert.Equal(t, "Administration", groups[2].Category)
}

func TestDispatchUnknownCommand(t *testing.T) {
	_, mux, _ := newDeps(t)

	_, err := mux.Dispatch(context.Background(), gate.Invocation{UserID: "U1", Command: "nope"})
	assert.True(t, errors.Is(err, perrors.ErrUnknownCommand))
}

func TestStatusCommand(t *testing.T) {
	_, mux, _ := newDeps(t)

	resp, err := mux.Dispatch(context.Background(), gate.Invocation{UserID: "U1", Command: "status"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "System Status")
	assert.Contains(t, resp.Text, "operational")
}

func TestVersionCommand(t *testing.T) {
	_, mux, _ := newDeps(t)

	resp, err := mux.Dispatch(context.Background(), gate.Invocation{UserID: "U1", Command: "version"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "1.2.3")
}

func TestDeployCommandNamesTarget(t *testing.T) {
	_, mux, _ := newDeps(t)

	resp, err := mux.Dispatch(context.Background(), gate.Invocation{UserID: "U1", Command: "deploy", Args: []string{"staging"}})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "staging")
	assert.Contains(t, resp.Text, "<@U1>")
}

func TestLogsCommandShowsAuditTrail(t *testing.T) {
	deps, mux, _ := newDeps(t)

	require.NoError(t, deps.Audit.Append(audit.Entry{UserID: "U7", Command: "deploy", Decision: audit.DecisionDenied, Reason: "forbidden"}))

	resp, err := mux.Dispatch(context.Background(), gate.Invocation{UserID: "U1", Command: "logs"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "deploy")
	assert.Contains(t, resp.Text, "forbidden")
}

func TestPermissionsGrantAndShow(t *testing.T) {
	_, mux, _ := newDeps(t)
	ctx := context.Background()

	resp, err := mux.Dispatch(ctx, gate.Invocation{
		UserID:  "UADMIN",
		Command: "permissions",
		Args:    []string{"grant", "role", "<@UDEV>", "developer"},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "✅")

	resp, err = mux.Dispatch(ctx, gate.Invocation{
		UserID:  "UADMIN",
		Command: "permissions",
		Args:    []string{"show", "UDEV"},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "developer")
	assert.Contains(t, resp.Text, "deployment")
}

func TestPermissionsGrantByNonAdmin(t *testing.T) {
	_, mux, _ := newDeps(t)

	resp, err := mux.Dispatch(context.Background(), gate.Invocation{
		UserID:  "UNOBODY",
		Command: "permissions",
		Args:    []string{"grant", "role", "UDEV", "developer"},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "❌")
}

func TestPermissionsUnknownRole(t *testing.T) {
	_, mux, _ := newDeps(t)

	resp, err := mux.Dispatch(context.Background(), gate.Invocation{
		UserID:  "UADMIN",
		Command: "permissions",
		Args:    []string{"grant", "role", "UDEV", "superuser"},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "Unknown role")
}

func TestPermissionsUsage(t *testing.T) {
	_, mux, _ := newDeps(t)

	resp, err := mux.Dispatch(context.Background(), gate.Invocation{UserID: "UADMIN", Command: "permissions"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "Usage")
}

func TestUsersCommandListsGrants(t *testing.T) {
	_, mux, _ := newDeps(t)

	resp, err := mux.Dispatch(context.Background(), gate.Invocation{UserID: "UADMIN", Command: "users"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "<@UADMIN>")
	assert.Contains(t, resp.Text, "admin")
}

func TestAdminPanel(t *testing.T) {
	_, mux, _ := newDeps(t)

	resp, err := mux.Dispatch(context.Background(), gate.Invocation{UserID: "UADMIN", Command: "admin"})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "Admin Control Panel")
	assert.Contains(t, resp.Text, "developer")
}

func TestNormalizeUserRef(t *testing.T) {
	assert.Equal(t, "U123", normalizeUserRef("<@U123>"))
	assert.Equal(t, "U123", normalizeUserRef("<@U123|jess>"))
	assert.Equal(t, "U123", normalizeUserRef("U123"))
}
