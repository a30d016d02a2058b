// Package gate routes command invocations through rate limiting and
// permission checks before handing them to a dispatcher. Every invocation
// ends in exactly one terminal decision, and every terminal decision
// produces exactly one audit entry.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/permbot/internal/audit"
	"github.com/p-blackswan/permbot/internal/command"
	perrors "github.com/p-blackswan/permbot/internal/errors"
	"github.com/p-blackswan/permbot/internal/metrics"
	"github.com/p-blackswan/permbot/internal/ratelimit"
	"github.com/p-blackswan/permbot/internal/rbac"
	"github.com/p-blackswan/permbot/internal/requestid"
)

// Decision is the terminal state of an invocation.
type Decision string

const (
	DecisionDispatched Decision = "dispatched"
	DecisionDenied     Decision = "denied"
)

// Denial reasons recorded in audit entries and metrics labels.
const (
	ReasonRateLimited    = "rate_limited"
	ReasonForbidden      = "forbidden"
	ReasonUnknownCommand = "unknown_command"
	ReasonDispatchFailed = "dispatch_failed"
)

// User-facing denial text. Deliberately generic: a denied user learns that
// access was refused, not which permission was missing.
const (
	msgForbidden      = "Sorry, you don't have permission to run that command."
	msgUnknownCommand = "I don't recognize that command. Try `menu` to see what's available."
	msgDispatchFailed = "Something went wrong running that command. Please try again."
)

// Invocation is one command request attributed to a user.
type Invocation struct {
	UserID  string
	Command string
	Args    []string
	// Channel identifies where the invocation originated, for dispatchers
	// that respond in place. Optional.
	Channel string
}

// Response is the dispatcher's reply, forwarded to the caller unchanged.
type Response struct {
	Text string
	// Blocks carries transport-specific rich content (Slack Block Kit).
	// Opaque to the gate.
	Blocks any
}

// Result is the outcome of routing one invocation. Denials are ordinary
// results, not errors.
type Result struct {
	Decision Decision
	Reason   string
	// Message is user-facing text for a denial, or the dispatcher response
	// text for a dispatch.
	Message string
	// RetryAfter hints when a rate-limited user may try again.
	RetryAfter time.Duration
	// Response holds the full dispatcher reply on a dispatch.
	Response Response
	// RequestID correlates the result with its audit entry.
	RequestID string
}

// Dispatcher executes a command that has passed every check.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv Invocation) (Response, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, inv Invocation) (Response, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, inv Invocation) (Response, error) {
	return f(ctx, inv)
}

// Gate is the authorization front door for command execution.
type Gate struct {
	registry   *command.Registry
	perms      *rbac.Manager
	limiter    *ratelimit.Limiter
	dispatcher Dispatcher
	sink       audit.Sink
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// New wires a gate from its collaborators. All are required except metrics,
// which may be nil.
func New(registry *command.Registry, perms *rbac.Manager, limiter *ratelimit.Limiter, dispatcher Dispatcher, sink audit.Sink, m *metrics.Metrics, logger zerolog.Logger) *Gate {
	return &Gate{
		registry:   registry,
		perms:      perms,
		limiter:    limiter,
		dispatcher: dispatcher,
		sink:       sink,
		metrics:    m,
		logger:     logger.With().Str("component", "gate").Logger(),
	}
}

// Execute routes one invocation: rate check, then permission check, then
// dispatch. The rate check runs first so a flooding user cannot probe
// permissions. Exactly one audit entry is recorded per call.
func (g *Gate) Execute(ctx context.Context, inv Invocation) Result {
	start := time.Now()
	ctx, reqID := contextWithRequestID(ctx)

	result := g.route(ctx, inv)
	result.RequestID = reqID

	g.audit(inv, result)
	g.metrics.RecordCommand(inv.Command, string(result.Decision))
	g.metrics.ObserveCommandDuration(inv.Command, time.Since(start).Seconds())

	g.logger.Info().
		Str("request_id", reqID).
		Str("user_id", inv.UserID).
		Str("command", inv.Command).
		Str("decision", string(result.Decision)).
		Str("reason", result.Reason).
		Dur("elapsed", time.Since(start)).
		Msg("invocation routed")

	return result
}

func (g *Gate) route(ctx context.Context, inv Invocation) Result {
	if !g.limiter.Allow(inv.UserID) {
		g.metrics.RecordRateLimitHit()
		retryAfter := g.limiter.RetryAfter(inv.UserID)
		return Result{
			Decision:   DecisionDenied,
			Reason:     ReasonRateLimited,
			Message:    rateLimitMessage(retryAfter),
			RetryAfter: retryAfter,
		}
	}

	cmd, err := g.registry.Get(inv.Command)
	if err != nil {
		if errors.Is(err, perrors.ErrUnknownCommand) {
			return Result{Decision: DecisionDenied, Reason: ReasonUnknownCommand, Message: msgUnknownCommand}
		}
		return Result{Decision: DecisionDenied, Reason: ReasonDispatchFailed, Message: msgDispatchFailed}
	}

	if !cmd.Public() && !g.perms.CheckPermission(ctx, inv.UserID, cmd.Permission) {
		return Result{Decision: DecisionDenied, Reason: ReasonForbidden, Message: msgForbidden}
	}

	resp, err := g.dispatcher.Dispatch(ctx, inv)
	if err != nil {
		g.logger.Error().Err(err).Str("command", inv.Command).Msg("dispatch failed")
		return Result{Decision: DecisionDenied, Reason: ReasonDispatchFailed, Message: msgDispatchFailed}
	}

	return Result{Decision: DecisionDispatched, Message: resp.Text, Response: resp}
}

func (g *Gate) audit(inv Invocation, result Result) {
	entry := audit.Entry{
		Timestamp: time.Now(),
		UserID:    inv.UserID,
		Command:   inv.Command,
		Decision:  audit.Decision(result.Decision),
		Reason:    result.Reason,
		RequestID: result.RequestID,
	}
	if err := g.sink.Append(entry); err != nil {
		// Audit is observability, never a gate on the decision itself.
		g.logger.Error().Err(err).Str("request_id", result.RequestID).Msg("audit append failed")
	}
}

func contextWithRequestID(ctx context.Context) (context.Context, string) {
	id := requestid.FromContext(ctx)
	return requestid.WithRequestID(ctx, id), id
}

func rateLimitMessage(retryAfter time.Duration) string {
	secs := int(retryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("You're sending commands too quickly. Try again in about %d seconds.", secs)
}
