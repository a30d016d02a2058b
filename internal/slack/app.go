// Package slack binds the permission gate to Slack over Socket Mode.
package slack

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// BotAPI abstracts the Slack API client for testing.
type BotAPI interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	AuthTest() (*slack.AuthTestResponse, error)
}

// SafeClient wraps the Slack API with a channel allowlist. Posting to a
// channel outside the list fails closed; an empty list denies every channel.
type SafeClient struct {
	inner   BotAPI
	allowed map[string]bool
	logger  zerolog.Logger
}

// NewSafeClient creates a restricted Slack client. allowedChannels are the
// channel IDs the bot may write to.
func NewSafeClient(inner BotAPI, allowedChannels []string, logger zerolog.Logger) *SafeClient {
	allowed := make(map[string]bool, len(allowedChannels))
	for _, ch := range allowedChannels {
		allowed[ch] = true
	}
	return &SafeClient{
		inner:   inner,
		allowed: allowed,
		logger:  logger.With().Str("component", "slack.safe_client").Logger(),
	}
}

// PostMessage sends a message only if the channel is in the allowlist.
func (s *SafeClient) PostMessage(channelID string, options ...slack.MsgOption) (string, string, error) {
	if !s.allowed[channelID] {
		s.logger.Warn().
			Str("channel", channelID).
			Msg("blocked post to non-allowlisted channel")
		return "", "", fmt.Errorf("channel %s is not in the allowed channels list", channelID)
	}
	return s.inner.PostMessage(channelID, options...)
}

// AuthTest tests the bot token.
func (s *SafeClient) AuthTest() (*slack.AuthTestResponse, error) {
	return s.inner.AuthTest()
}

// App is the Slack bot application using Socket Mode.
type App struct {
	api     *slack.Client
	socket  *socketmode.Client
	logger  zerolog.Logger
	handler *Handler
}

// NewApp creates a new Slack bot app and verifies the tokens.
// allowedChannels restricts which channels the bot can write to.
func NewApp(botToken, appToken string, allowedChannels []string, logger zerolog.Logger, handler *Handler) (*App, error) {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	auth, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack auth test: %w", err)
	}

	socket := socketmode.New(api)
	handler.api = NewSafeClient(api, allowedChannels, logger)
	handler.SetSocket(socket)
	handler.SetSelfID(auth.UserID)

	return &App{
		api:     api,
		socket:  socket,
		logger:  logger.With().Str("component", "slack").Logger(),
		handler: handler,
	}, nil
}

// API returns the underlying Slack client, for health checks.
func (a *App) API() *slack.Client {
	return a.api
}

// Run starts the Socket Mode event loop. Blocks until context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info().Msg("starting Slack Socket Mode connection")

	go func() {
		for evt := range a.socket.Events {
			a.handler.HandleEvent(ctx, evt)
		}
	}()

	go func() {
		<-ctx.Done()
		a.logger.Info().Msg("shutting down Slack Socket Mode")
	}()

	if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("socket mode error: %w", err)
	}
	return nil
}
