package slack

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/p-blackswan/permbot/internal/command"
	"github.com/p-blackswan/permbot/internal/gate"
	"github.com/p-blackswan/permbot/internal/menu"
)

// Handler processes Socket Mode events: slash commands, mentions, DMs, and
// menu button clicks. Every command goes through the gate; the handler only
// parses, routes, and renders.
type Handler struct {
	api    BotAPI
	socket *socketmode.Client
	gate   *gate.Gate
	menu   *menu.Builder
	logger zerolog.Logger
	selfID string
}

// NewHandler creates a new event handler.
func NewHandler(g *gate.Gate, m *menu.Builder, logger zerolog.Logger) *Handler {
	return &Handler{
		gate:   g,
		menu:   m,
		logger: logger.With().Str("component", "slack.handler").Logger(),
	}
}

// SetSocket sets the Socket Mode client for acknowledging events.
func (h *Handler) SetSocket(s *socketmode.Client) {
	h.socket = s
}

// SetSelfID records the bot's own user ID so its messages are ignored.
func (h *Handler) SetSelfID(id string) {
	h.selfID = id
}

// HandleEvent routes Socket Mode events to the appropriate handler.
func (h *Handler) HandleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeSlashCommand:
		h.handleSlashCommand(ctx, evt)
	case socketmode.EventTypeEventsAPI:
		h.handleEventsAPI(ctx, evt)
	case socketmode.EventTypeInteractive:
		h.handleInteraction(ctx, evt)
	default:
		h.logger.Debug().Str("type", string(evt.Type)).Msg("unhandled event type")
	}
}

func (h *Handler) handleSlashCommand(ctx context.Context, evt socketmode.Event) {
	// Slack requires the ack within 3 seconds.
	if h.socket != nil && evt.Request != nil {
		h.socket.Ack(*evt.Request)
	}

	cmd, ok := evt.Data.(slack.SlashCommand)
	if !ok {
		h.logger.Warn().Msg("failed to cast slash command data")
		return
	}

	name := strings.TrimPrefix(cmd.Command, "/")
	args := splitArgs(cmd.Text)
	// "/permbot status ..." nests the real command in the text.
	if name == "permbot" && len(args) > 0 {
		name, args = args[0], args[1:]
	}

	h.runCommand(ctx, cmd.UserID, cmd.ChannelID, name, args)
}

func (h *Handler) handleEventsAPI(ctx context.Context, evt socketmode.Event) {
	if h.socket != nil && evt.Request != nil {
		h.socket.Ack(*evt.Request)
	}

	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		h.logger.Warn().Str("type", string(evt.Type)).Msg("failed to cast events_api data")
		return
	}
	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		text := stripMention(ev.Text)
		h.handleText(ctx, ev.User, ev.Channel, text)

	case *slackevents.MessageEvent:
		// Skip bot messages and message_changed/deleted subtypes.
		if ev.User == "" || ev.User == h.selfID || ev.SubType != "" {
			return
		}
		if ev.ChannelType == "im" {
			h.handleText(ctx, ev.User, ev.Channel, ev.Text)
		}

	default:
		h.logger.Debug().Str("inner_type", eventsAPIEvent.InnerEvent.Type).Msg("unhandled callback event type")
	}
}

func (h *Handler) handleInteraction(ctx context.Context, evt socketmode.Event) {
	if h.socket != nil && evt.Request != nil {
		h.socket.Ack(*evt.Request)
	}

	callback, ok := evt.Data.(slack.InteractionCallback)
	if !ok {
		return
	}

	for _, action := range callback.ActionCallback.BlockActions {
		if !strings.HasPrefix(action.ActionID, "run_command_") {
			continue
		}
		name := strings.TrimPrefix(action.ActionID, "run_command_")
		h.logger.Info().
			Str("action", action.ActionID).
			Str("user", callback.User.ID).
			Msg("menu button clicked")
		h.runCommand(ctx, callback.User.ID, callback.Channel.ID, name, nil)
	}
}

// handleText interprets a free-form message: empty text or "menu" shows the
// menu, "help" shows usage, anything else runs as a command.
func (h *Handler) handleText(ctx context.Context, userID, channelID, text string) {
	args := splitArgs(text)
	if len(args) == 0 {
		h.postMenu(ctx, userID, channelID)
		return
	}
	h.runCommand(ctx, userID, channelID, args[0], args[1:])
}

func (h *Handler) runCommand(ctx context.Context, userID, channelID, name string, args []string) {
	switch name {
	case "menu":
		h.postMenu(ctx, userID, channelID)
		return
	case "help":
		h.post(channelID, "Help", BuildHelpBlocks())
		return
	}

	result := h.gate.Execute(ctx, gate.Invocation{
		UserID:  userID,
		Command: name,
		Args:    args,
		Channel: channelID,
	})

	switch {
	case result.Decision == gate.DecisionDispatched:
		if blocks, ok := result.Response.Blocks.([]slack.Block); ok && len(blocks) > 0 {
			h.post(channelID, result.Message, blocks)
		} else {
			h.post(channelID, result.Message, nil)
		}
	case result.Reason == gate.ReasonRateLimited:
		h.post(channelID, result.Message, BuildRateLimitBlocks(result.RetryAfter))
	default:
		h.post(channelID, result.Message, BuildDenialBlocks(result.Message))
	}
}

func (h *Handler) postMenu(ctx context.Context, userID, channelID string) {
	sections := h.menu.Build(ctx, userID)
	h.post(channelID, "Available Commands", BuildMenuBlocks(sections))
}

func (h *Handler) post(channelID, fallback string, blocks []slack.Block) {
	if h.api == nil {
		return
	}
	opts := []slack.MsgOption{slack.MsgOptionText(fallback, false)}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	if _, _, err := h.api.PostMessage(channelID, opts...); err != nil {
		h.logger.Error().Err(err).Str("channel", channelID).Msg("failed to post message")
	}
}

// MenuSections exposes the user's menu for other surfaces (mgmt preview).
func (h *Handler) MenuSections(ctx context.Context, userID string) []command.CategoryGroup {
	return h.menu.Build(ctx, userID)
}

// splitArgs splits message text on whitespace, dropping empty tokens.
func splitArgs(text string) []string {
	return strings.Fields(strings.TrimSpace(text))
}

// stripMention removes the leading bot mention from an app_mention text.
func stripMention(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "<@") {
		if i := strings.IndexByte(text, '>'); i >= 0 {
			text = text[i+1:]
		}
	}
	return strings.TrimSpace(text)
}
