package mgmt

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTValid(t *testing.T) {
	subject, err := validateJWT(signToken(t, "s3cret", "UADMIN", time.Now().Add(time.Hour)), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "UADMIN", subject)
}

func TestJWTExpired(t *testing.T) {
	_, err := validateJWT(signToken(t, "s3cret", "UADMIN", time.Now().Add(-time.Hour)), "s3cret")
	assert.Error(t, err)
}

func TestJWTWrongSecret(t *testing.T) {
	_, err := validateJWT(signToken(t, "other", "UADMIN", time.Now().Add(time.Hour)), "s3cret")
	assert.Error(t, err)
}

func TestJWTMissingSubject(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = validateJWT(signed, "s3cret")
	assert.Error(t, err)
}

func TestJWTAuthModeEndToEnd(t *testing.T) {
	app := testAppJWT(t, "s3cret")

	// No token
	resp := doJSON(t, app, "GET", "/api/v1/hierarchy", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Valid token; the subject becomes the mutation caller
	token := signToken(t, "s3cret", "UADMIN", time.Now().Add(time.Hour))
	resp = doJSON(t, app, "POST", "/api/v1/grants/UDEV/roles", GrantRequest{Role: "developer"}, map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Valid token for a non-admin subject
	token = signToken(t, "s3cret", "UNOBODY", time.Now().Add(time.Hour))
	resp = doJSON(t, app, "POST", "/api/v1/grants/UDEV/roles", GrantRequest{Role: "developer"}, map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
