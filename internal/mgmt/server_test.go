package mgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/permbot/internal/audit"
	"github.com/p-blackswan/permbot/internal/command"
	"github.com/p-blackswan/permbot/internal/health"
	"github.com/p-blackswan/permbot/internal/menu"
	"github.com/p-blackswan/permbot/internal/rbac"
	"github.com/p-blackswan/permbot/pkg/grantstore"
)

// testApp creates a Fiber app with all routes for testing. The returned
// audit log is pre-populated with one entry.
func testApp(t *testing.T, authMode, apiKey string) *fiber.App {
	return newTestApp(t, AuthConfig{Mode: authMode, APIKey: apiKey})
}

func testAppJWT(t *testing.T, secret string) *fiber.App {
	return newTestApp(t, AuthConfig{Mode: "jwt", JWTSecret: secret})
}

func newTestApp(t *testing.T, authCfg AuthConfig) *fiber.App {
	t.Helper()
	logger := zerolog.Nop()

	store := grantstore.NewMemoryStore()
	mgr := rbac.NewManager(store, rbac.DefaultHierarchy(), rbac.ManagerConfig{
		AdminPermission: "admin",
		DefaultRole:     "user",
		CacheTTL:        time.Minute,
	}, nil, logger)
	require.NoError(t, mgr.Bootstrap(context.Background(), []string{"UADMIN"}, "admin"))

	registry := command.NewRegistry()
	registry.MustRegister(command.Command{Name: "status", Permission: "read_status", Category: "Monitoring", Description: "System status"})
	registry.MustRegister(command.Command{Name: "deploy", Permission: "deployment", Category: "Development", Description: "Deploy"})

	auditLog := audit.NewLog(logger)
	require.NoError(t, auditLog.Append(audit.Entry{UserID: "U1", Command: "status", Decision: audit.DecisionDispatched}))

	checker := health.NewChecker(logger)
	checker.Register("store", func(context.Context) health.Status { return health.StatusOK })

	handlers := NewHandlers(mgr, store, menu.NewBuilder(registry, mgr, nil), auditLog, checker, logger)
	srv := NewServer(ServerConfig{
		ListenAddr: ":0",
		AuthConfig: authCfg,
		RateLimit:  RateLimitConfig{RPS: 100, Burst: 200},
	}, handlers, nil, logger)

	return srv.App()
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestProbesNeedNoAuth(t *testing.T) {
	app := testApp(t, "api-key", "secret")

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp := doJSON(t, app, "GET", path, nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "path: %s", path)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	app := testApp(t, "api-key", "secret")

	resp := doJSON(t, app, "GET", "/api/v1/hierarchy", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var problem ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	assert.Equal(t, "missing_auth", problem.Type)
}

func TestAPIKeyInvalid(t *testing.T) {
	app := testApp(t, "api-key", "secret")

	resp := doJSON(t, app, "GET", "/api/v1/hierarchy", nil, map[string]string{
		"Authorization": "Bearer wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGetHierarchy(t *testing.T) {
	app := testApp(t, "none", "")

	resp := doJSON(t, app, "GET", "/api/v1/hierarchy", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body HierarchyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Roles, 3)
	assert.Equal(t, "admin", body.Roles[0].Name)
	assert.Contains(t, body.Roles[0].EffectivePermissions, "read_status")
}

func TestGrantRoleAndReadBack(t *testing.T) {
	app := testApp(t, "none", "")

	resp := doJSON(t, app, "POST", "/api/v1/grants/UDEV/roles", GrantRequest{Role: "developer"}, map[string]string{
		"X-Caller-ID": "UADMIN",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, "GET", "/api/v1/grants/UDEV", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var grants GrantsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&grants))
	assert.Contains(t, grants.Roles, "developer")
	assert.Contains(t, grants.EffectivePermissions, "deployment")
}

func TestGrantRoleWithoutCaller(t *testing.T) {
	app := testApp(t, "none", "")

	resp := doJSON(t, app, "POST", "/api/v1/grants/UDEV/roles", GrantRequest{Role: "developer"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGrantRoleByNonAdmin(t *testing.T) {
	app := testApp(t, "none", "")

	resp := doJSON(t, app, "POST", "/api/v1/grants/UDEV/roles", GrantRequest{Role: "developer"}, map[string]string{
		"X-Caller-ID": "UNOBODY",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGrantUnknownRole(t *testing.T) {
	app := testApp(t, "none", "")

	resp := doJSON(t, app, "POST", "/api/v1/grants/UDEV/roles", GrantRequest{Role: "superuser"}, map[string]string{
		"X-Caller-ID": "UADMIN",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRevokeRole(t *testing.T) {
	app := testApp(t, "none", "")
	headers := map[string]string{"X-Caller-ID": "UADMIN"}

	resp := doJSON(t, app, "POST", "/api/v1/grants/UDEV/roles", GrantRequest{Role: "developer"}, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, "DELETE", "/api/v1/grants/UDEV/roles/developer", nil, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, "GET", "/api/v1/grants/UDEV", nil, nil)
	var grants GrantsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&grants))
	assert.NotContains(t, grants.Roles, "developer")
}

func TestQueryAudit(t *testing.T) {
	app := testApp(t, "none", "")

	resp := doJSON(t, app, "GET", "/api/v1/audit?user=U1&limit=10", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body AuditResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "status", body.Entries[0].Command)
}

func TestQueryAuditBadLimit(t *testing.T) {
	app := testApp(t, "none", "")

	resp := doJSON(t, app, "GET", "/api/v1/audit?limit=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPreviewMenuFiltered(t *testing.T) {
	app := testApp(t, "none", "")

	resp := doJSON(t, app, "GET", "/api/v1/menu/UPLAIN", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body MenuResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Sections, 1)
	assert.Equal(t, "Monitoring", body.Sections[0].Category)
}

func TestListUsers(t *testing.T) {
	app := testApp(t, "none", "")

	resp := doJSON(t, app, "GET", "/api/v1/users", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body UsersResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Users, "UADMIN")
}
