package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/permbot/internal/audit"
	"github.com/p-blackswan/permbot/internal/command"
	"github.com/p-blackswan/permbot/internal/ratelimit"
	"github.com/p-blackswan/permbot/internal/rbac"
	"github.com/p-blackswan/permbot/pkg/grantstore"
)

type capturingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *capturingSink) Append(entry audit.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *capturingSink) all() []audit.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Entry(nil), c.entries...)
}

type testHarness struct {
	gate    *Gate
	store   *grantstore.MemoryStore
	limiter *ratelimit.Limiter
	sink    *capturingSink
	calls   *int
}

func newHarness(t *testing.T, dispatch DispatcherFunc) *testHarness {
	t.Helper()

	registry := command.NewRegistry()
	registry.MustRegister(command.Command{Name: "menu", Category: "General", Description: "Show available commands"})
	registry.MustRegister(command.Command{Name: "status", Permission: "read_status", Category: "Monitoring", Description: "System status"})
	registry.MustRegister(command.Command{Name: "deploy", Permission: "deployment", Category: "Development", Description: "Deploy a service"})

	store := grantstore.NewMemoryStore()
	mgr := rbac.NewManager(store, rbac.DefaultHierarchy(), rbac.ManagerConfig{
		AdminPermission: "admin",
		DefaultRole:     "user",
		CacheTTL:        time.Minute,
		CacheSize:       64,
	}, nil, zerolog.Nop())

	limiter := ratelimit.New(10, time.Minute)
	sink := &capturingSink{}
	calls := 0

	if dispatch == nil {
		dispatch = func(ctx context.Context, inv Invocation) (Response, error) {
			return Response{Text: "ok: " + inv.Command}, nil
		}
	}
	counted := func(ctx context.Context, inv Invocation) (Response, error) {
		calls++
		return dispatch(ctx, inv)
	}

	g := New(registry, mgr, limiter, DispatcherFunc(counted), sink, nil, zerolog.Nop())
	return &testHarness{gate: g, store: store, limiter: limiter, sink: sink, calls: &calls}
}

func TestExecuteDispatchesAllowedCommand(t *testing.T) {
	h := newHarness(t, nil)

	res := h.gate.Execute(context.Background(), Invocation{UserID: "U1", Command: "status"})

	assert.Equal(t, DecisionDispatched, res.Decision)
	assert.Empty(t, res.Reason)
	assert.Equal(t, "ok: status", res.Message)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, 1, *h.calls)
}

func TestExecuteDeniesMissingPermission(t *testing.T) {
	h := newHarness(t, nil)

	res := h.gate.Execute(context.Background(), Invocation{UserID: "U1", Command: "deploy"})

	assert.Equal(t, DecisionDenied, res.Decision)
	assert.Equal(t, ReasonForbidden, res.Reason)
	assert.Equal(t, 0, *h.calls)

	// The denial message must not leak which permission was required.
	assert.NotContains(t, res.Message, "deployment")
}

func TestExecuteGrantUnlocksCommand(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.store.GrantRole(ctx, "U1", "developer"))

	res := h.gate.Execute(ctx, Invocation{UserID: "U1", Command: "deploy"})
	assert.Equal(t, DecisionDispatched, res.Decision)
}

func TestExecutePublicCommandNeedsNoGrant(t *testing.T) {
	h := newHarness(t, nil)

	res := h.gate.Execute(context.Background(), Invocation{UserID: "stranger", Command: "menu"})
	assert.Equal(t, DecisionDispatched, res.Decision)
}

func TestExecuteUnknownCommand(t *testing.T) {
	h := newHarness(t, nil)

	res := h.gate.Execute(context.Background(), Invocation{UserID: "U1", Command: "launch-missiles"})

	assert.Equal(t, DecisionDenied, res.Decision)
	assert.Equal(t, ReasonUnknownCommand, res.Reason)
	assert.Equal(t, 0, *h.calls)
}

func TestExecuteRateLimitShortCircuits(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res := h.gate.Execute(ctx, Invocation{UserID: "U1", Command: "status"})
		require.Equal(t, DecisionDispatched, res.Decision)
	}

	res := h.gate.Execute(ctx, Invocation{UserID: "U1", Command: "status"})
	assert.Equal(t, DecisionDenied, res.Decision)
	assert.Equal(t, ReasonRateLimited, res.Reason)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.Equal(t, 10, *h.calls)
}

func TestExecuteRateLimitBeforePermissionCheck(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		h.gate.Execute(ctx, Invocation{UserID: "U1", Command: "menu"})
	}

	// Even an unknown command is reported as rate limited once the window
	// is exhausted, so a flooding user cannot probe the registry.
	res := h.gate.Execute(ctx, Invocation{UserID: "U1", Command: "does-not-exist"})
	assert.Equal(t, ReasonRateLimited, res.Reason)
}

func TestExecuteDispatchFailureDenies(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, inv Invocation) (Response, error) {
		return Response{}, errors.New("backend exploded")
	})

	res := h.gate.Execute(context.Background(), Invocation{UserID: "U1", Command: "status"})

	assert.Equal(t, DecisionDenied, res.Decision)
	assert.Equal(t, ReasonDispatchFailed, res.Reason)
	assert.NotContains(t, res.Message, "exploded")
}

func TestExecuteExactlyOneAuditEntryPerDecision(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.gate.Execute(ctx, Invocation{UserID: "U1", Command: "status"})
	h.gate.Execute(ctx, Invocation{UserID: "U1", Command: "deploy"})
	h.gate.Execute(ctx, Invocation{UserID: "U1", Command: "bogus"})

	entries := h.sink.all()
	require.Len(t, entries, 3)

	assert.Equal(t, audit.DecisionDispatched, entries[0].Decision)
	assert.Equal(t, audit.DecisionDenied, entries[1].Decision)
	assert.Equal(t, ReasonForbidden, entries[1].Reason)
	assert.Equal(t, ReasonUnknownCommand, entries[2].Reason)
	for _, e := range entries {
		assert.NotEmpty(t, e.RequestID)
		assert.Equal(t, "U1", e.UserID)
	}
}

func TestExecuteEmptyUserDenied(t *testing.T) {
	h := newHarness(t, nil)

	res := h.gate.Execute(context.Background(), Invocation{UserID: "", Command: "status"})
	assert.Equal(t, DecisionDenied, res.Decision)
	assert.Equal(t, ReasonForbidden, res.Reason)
}
