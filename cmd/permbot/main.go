package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/permbot/internal/audit"
	"github.com/p-blackswan/permbot/internal/command"
	"github.com/p-blackswan/permbot/internal/commands"
	"github.com/p-blackswan/permbot/internal/config"
	"github.com/p-blackswan/permbot/internal/gate"
	"github.com/p-blackswan/permbot/internal/health"
	"github.com/p-blackswan/permbot/internal/menu"
	"github.com/p-blackswan/permbot/internal/metrics"
	"github.com/p-blackswan/permbot/internal/mgmt"
	"github.com/p-blackswan/permbot/internal/ratelimit"
	"github.com/p-blackswan/permbot/internal/rbac"
	slackpkg "github.com/p-blackswan/permbot/internal/slack"
	"github.com/p-blackswan/permbot/pkg/grantstore"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("version", version).
		Str("environment", cfg.Environment).
		Str("store_backend", cfg.StoreBackend).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting permbot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.New()
	checker := health.NewChecker(logger)

	// Grant store
	var store grantstore.Store
	switch cfg.StoreBackend {
	case "redis":
		redisStore, err := grantstore.NewRedisStoreAddr(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		checker.Register("store", health.PingCheck(redisStore.Ping))
		store = redisStore
	default:
		store = grantstore.NewMemoryStore()
		checker.Register("store", func(context.Context) health.Status { return health.StatusOK })
	}

	// Role hierarchy: YAML file or the built-in defaults
	hierarchy := rbac.DefaultHierarchy()
	if cfg.RolesFile != "" {
		hierarchy, err = rbac.LoadHierarchy(cfg.RolesFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.RolesFile).Msg("failed to load role hierarchy")
		}
		logger.Info().Str("path", cfg.RolesFile).Strs("roles", hierarchy.Roles()).Msg("role hierarchy loaded")
	}

	// Permission manager + admin bootstrap
	manager := rbac.NewManager(store, hierarchy, rbac.ManagerConfig{
		AdminPermission: cfg.AdminPermission,
		DefaultRole:     cfg.DefaultRole,
		CacheTTL:        cfg.PermissionCacheTTL,
		CacheSize:       cfg.PermissionCacheSize,
	}, m, logger)

	if admins := cfg.AdminUserList(); len(admins) > 0 {
		if err := manager.Bootstrap(ctx, admins, cfg.AdminRole); err != nil {
			logger.Fatal().Err(err).Msg("failed to bootstrap admin users")
		}
		logger.Info().Strs("admins", admins).Str("role", cfg.AdminRole).Msg("admin users bootstrapped")
	}

	// Rate limiter with background janitor
	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)
	janitorStop := make(chan struct{})
	go limiter.Janitor(cfg.RateLimitWindow, janitorStop)

	// Audit: in-memory log behind an async queue
	auditLog := audit.NewLog(logger)
	auditSink := audit.NewAsyncSink(auditLog, cfg.AuditQueueSize, m, logger)

	// Command registry and built-in handlers
	registry := command.NewRegistry()
	mux := commands.NewMux(logger)
	if err := commands.RegisterBuiltins(registry, mux, commands.Deps{
		Perms:    manager,
		Store:    store,
		Registry: registry,
		Audit:    auditLog,
		Health:   checker,
		Version:  version,
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to register commands")
	}

	// The gate: rate limit, permission check, dispatch, audit
	g := gate.New(registry, manager, limiter, mux, auditSink, m, logger)
	menuBuilder := menu.NewBuilder(registry, manager, m)

	// HTTP server for probes
	probeMux := http.NewServeMux()
	probeMux.HandleFunc("/health", health.LivenessHandler())
	probeMux.HandleFunc("/ready", checker.ReadinessHandler())
	probeMux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      probeMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup

	// Management API
	mgmtHandlers := mgmt.NewHandlers(manager, store, menuBuilder, auditLog, checker, logger)
	mgmtServer := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr: cfg.MgmtListenAddr,
		AuthConfig: mgmt.AuthConfig{
			Mode:      cfg.MgmtAuthMode,
			APIKey:    cfg.MgmtAPIKey,
			JWTSecret: cfg.MgmtJWTSecret,
		},
		RateLimit: mgmt.RateLimitConfig{RPS: cfg.MgmtRateLimitRPS},
	}, mgmtHandlers, m, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mgmtServer.Start(); err != nil {
			logger.Error().Err(err).Msg("management API server error")
		}
	}()

	// Slack Socket Mode (optional, only if tokens provided)
	if cfg.SlackEnabled() {
		handler := slackpkg.NewHandler(g, menuBuilder, logger)
		app, slackErr := slackpkg.NewApp(cfg.SlackBotToken, cfg.SlackAppToken, cfg.SlackAllowedChannelList(), logger, handler)
		if slackErr != nil {
			logger.Error().Err(slackErr).Msg("failed to init Slack app (non-fatal)")
		} else {
			checker.Register("slack", func(context.Context) health.Status {
				if _, err := app.API().AuthTest(); err != nil {
					return health.StatusDown
				}
				return health.StatusOK
			})

			logger.Info().Msg("Slack Socket Mode enabled")
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := app.Run(ctx); err != nil {
					logger.Error().Err(err).Msg("Slack Socket Mode error")
				}
			}()
		}
	} else {
		logger.Info().Msg("Slack not configured, running in API-only mode")
	}

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()
	close(janitorStop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := mgmtServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("management API server shutdown error")
	}

	// Drain queued audit entries before exit
	auditSink.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("permbot stopped")
}
