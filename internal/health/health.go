// Package health provides liveness and readiness probes for the bot's
// dependencies (grant store, Slack connection).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status represents the health of a single dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) Status

// Checker runs named health checks concurrently.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
	logger  zerolog.Logger
}

// NewChecker creates a health checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RunAll executes all checks concurrently, each under its own timeout.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	results := make(map[string]Status, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			status := fn(checkCtx)
			if status == StatusDown {
				c.logger.Warn().Str("check", name).Msg("dependency down")
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	return results
}

// IsReady reports whether every check is passing.
func (c *Checker) IsReady(ctx context.Context) bool {
	for _, status := range c.RunAll(ctx) {
		if status == StatusDown {
			return false
		}
	}
	return true
}

// LivenessHandler serves the liveness probe. Always OK while the process
// can serve HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// ReadinessHandler serves the readiness probe, running every registered
// check and reporting per-dependency results.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		results := c.RunAll(r.Context())

		ready := true
		for _, status := range results {
			if status == StatusDown {
				ready = false
				break
			}
		}

		resp := map[string]any{"checks": results}
		if ready {
			resp["status"] = "ready"
			w.WriteHeader(http.StatusOK)
		} else {
			resp["status"] = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}

// PingCheck adapts a Ping-style dependency (Redis client, database) into a
// health check.
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Status {
		if err := ping(ctx); err != nil {
			return StatusDown
		}
		return StatusOK
	}
}
