// Package config loads application configuration from environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`

	// Slack (optional; the bot starts without Slack in mgmt-only mode)
	SlackBotToken string `envconfig:"BOT_SLACK_BOT_TOKEN"`
	SlackAppToken string `envconfig:"BOT_SLACK_APP_TOKEN"` // xapp- token for Socket Mode
	// Comma-separated channel IDs the bot may post to. Empty denies all.
	SlackAllowedChannels string `envconfig:"SLACK_ALLOWED_CHANNELS"`

	// Permissions
	AdminUsers      string `envconfig:"ADMIN_USERS"` // Comma-separated user IDs bootstrapped into AdminRole
	AdminRole       string `envconfig:"ADMIN_ROLE" default:"admin"`
	AdminPermission string `envconfig:"ADMIN_PERMISSION" default:"admin"`
	DefaultRole     string `envconfig:"DEFAULT_ROLE" default:"user"`
	RolesFile       string `envconfig:"ROLES_FILE"` // YAML hierarchy; built-in roles when empty

	// Permission cache
	PermissionCacheTTL  time.Duration `envconfig:"PERMISSION_CACHE_TTL" default:"300s"`
	PermissionCacheSize int           `envconfig:"PERMISSION_CACHE_SIZE" default:"1024"`

	// Rate limiting (per user, fixed window)
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`

	// Grant store: "memory" or "redis"
	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	RedisAddr    string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB      int    `envconfig:"REDIS_DB" default:"0"`

	// Audit
	AuditQueueSize int `envconfig:"AUDIT_QUEUE_SIZE" default:"256"`

	// Management API
	MgmtListenAddr   string `envconfig:"MGMT_LISTEN_ADDR" default:":8090"`
	MgmtAuthMode     string `envconfig:"MGMT_AUTH_MODE" default:"api-key"` // "api-key", "jwt", or "none"
	MgmtAPIKey       string `envconfig:"MGMT_API_KEY"`
	MgmtJWTSecret    string `envconfig:"MGMT_JWT_SECRET"`
	MgmtRateLimitRPS int    `envconfig:"MGMT_RATE_LIMIT_RPS" default:"100"`
}

// SlackEnabled returns true if Slack tokens are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// AdminUserList returns the parsed list of bootstrap admin user IDs.
func (c *Config) AdminUserList() []string {
	return splitList(c.AdminUsers)
}

// SlackAllowedChannelList returns the parsed channel allowlist.
func (c *Config) SlackAllowedChannelList() []string {
	return splitList(c.SlackAllowedChannels)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the application cannot run with.
func (c *Config) Validate() error {
	if c.RateLimitRequests < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1, got %d", c.RateLimitRequests)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow)
	}
	if c.PermissionCacheTTL <= 0 {
		return fmt.Errorf("PERMISSION_CACHE_TTL must be positive, got %s", c.PermissionCacheTTL)
	}
	switch c.StoreBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("STORE_BACKEND must be \"memory\" or \"redis\", got %q", c.StoreBackend)
	}
	switch c.MgmtAuthMode {
	case "api-key":
		// An empty key is allowed; every request is denied until one is set.
	case "jwt":
		if c.MgmtJWTSecret == "" {
			return fmt.Errorf("MGMT_JWT_SECRET is required when MGMT_AUTH_MODE=jwt")
		}
	case "none":
	default:
		return fmt.Errorf("MGMT_AUTH_MODE must be \"api-key\", \"jwt\", or \"none\", got %q", c.MgmtAuthMode)
	}
	return nil
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
