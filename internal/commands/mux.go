// Package commands implements the built-in command handlers and the mux
// that dispatches invocations to them.
package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/permbot/internal/errors"
	"github.com/p-blackswan/permbot/internal/gate"
)

// HandlerFunc executes one command. The invocation has already passed rate
// limiting and permission checks.
type HandlerFunc func(ctx context.Context, inv gate.Invocation) (gate.Response, error)

// Mux routes invocations to registered handlers. It satisfies the gate's
// Dispatcher interface.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   zerolog.Logger
}

// NewMux creates an empty command mux.
func NewMux(logger zerolog.Logger) *Mux {
	return &Mux{
		handlers: make(map[string]HandlerFunc),
		logger:   logger.With().Str("component", "commands").Logger(),
	}
}

// Handle registers a handler for a command name, replacing any previous one.
func (m *Mux) Handle(name string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = fn
}

// Dispatch runs the handler for the invocation's command.
func (m *Mux) Dispatch(ctx context.Context, inv gate.Invocation) (gate.Response, error) {
	m.mu.RLock()
	fn, ok := m.handlers[inv.Command]
	m.mu.RUnlock()

	if !ok {
		return gate.Response{}, fmt.Errorf("%w: no handler for %q", perrors.ErrUnknownCommand, inv.Command)
	}

	resp, err := fn(ctx, inv)
	if err != nil {
		m.logger.Error().Err(err).Str("command", inv.Command).Str("user_id", inv.UserID).Msg("handler failed")
		return gate.Response{}, err
	}
	return resp, nil
}
