package mgmt

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// AuthConfig holds authentication configuration for the management API.
type AuthConfig struct {
	Mode      string // "api-key", "jwt", "none"
	APIKey    string // from env MGMT_API_KEY
	JWTSecret string // HS256 secret for "jwt" mode
}

// probe endpoints bypass auth and rate limiting
func isProbePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// NewAuthMiddleware returns a Fiber middleware that validates the
// Authorization header. In "jwt" mode the token's subject becomes the
// caller identity for grant mutations; in "api-key" mode the caller comes
// from the X-Caller-ID header.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Mode == "none" {
			if caller := c.Get("X-Caller-ID"); caller != "" {
				c.Locals("caller", caller)
			}
			return c.Next()
		}
		if isProbePath(c.Path()) {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		switch cfg.Mode {
		case "api-key":
			if cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) == 1 {
				if caller := c.Get("X-Caller-ID"); caller != "" {
					c.Locals("caller", caller)
				}
				return c.Next()
			}
			logger.Warn().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unauthorized request: invalid API key")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_api_key", "Unauthorized",
				"Invalid API key")

		case "jwt":
			subject, err := validateJWT(token, cfg.JWTSecret)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("path", c.Path()).
					Str("method", c.Method()).
					Msg("unauthorized request: invalid token")
				return problemResponse(c, fiber.StatusUnauthorized,
					"invalid_token", "Unauthorized",
					"Invalid or expired token")
			}
			c.Locals("caller", subject)
			return c.Next()

		default:
			return problemResponse(c, fiber.StatusUnauthorized,
				"unknown_auth_mode", "Unauthorized",
				"Unknown auth mode")
		}
	}
}

// validateJWT parses an HS256 token and returns its subject.
func validateJWT(token, secret string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", fmt.Errorf("token invalid")
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return subject, nil
}

// callerID returns the authenticated caller identity for grant mutations.
func callerID(c *fiber.Ctx) string {
	caller, _ := c.Locals("caller").(string)
	return caller
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
