package slack

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/p-blackswan/permbot/internal/command"
)

var categoryEmoji = map[string]string{
	"General":        "📋",
	"Development":    "🚀",
	"Administration": "⚙️",
	"Monitoring":     "📊",
}

var commandEmoji = map[string]string{
	"status":      "📊",
	"health":      "💚",
	"version":     "🏷️",
	"deploy":      "🚀",
	"build":       "🔨",
	"logs":        "📝",
	"admin":       "⚙️",
	"permissions": "🔐",
	"users":       "👥",
	"menu":        "📋",
	"help":        "💡",
}

func emojiFor(m map[string]string, key, fallback string) string {
	if e, ok := m[key]; ok {
		return e
	}
	return fallback
}

// BuildMenuBlocks renders the personalized command menu: header, one section
// per category, a button per command, and a footer tip. An empty menu gets
// the locked-out message instead.
func BuildMenuBlocks(sections []command.CategoryGroup) []slack.Block {
	if len(sections) == 0 {
		return buildNoCommandsBlocks()
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", "🤖 Available Commands", false, false)),
		slack.NewDividerBlock(),
	}

	for _, section := range sections {
		if section.Category != "General" {
			blocks = append(blocks, slack.NewSectionBlock(
				slack.NewTextBlockObject("mrkdwn",
					fmt.Sprintf("*%s %s*", emojiFor(categoryEmoji, section.Category, "📋"), section.Category),
					false, false),
				nil, nil,
			))
		}
		for _, cmd := range section.Commands {
			blocks = append(blocks, buildCommandBlock(cmd))
		}
	}

	blocks = append(blocks,
		slack.NewDividerBlock(),
		slack.NewContextBlock("menu_footer",
			slack.NewTextBlockObject("mrkdwn", "💡 *Tip:* You can also type commands directly (e.g., `status`)", false, false),
		),
	)
	return blocks
}

func buildCommandBlock(cmd command.Command) slack.Block {
	title := strings.ToUpper(cmd.Name[:1]) + cmd.Name[1:]
	text := fmt.Sprintf("%s *%s*\n%s", emojiFor(commandEmoji, cmd.Name, "▪️"), title, cmd.Description)

	button := slack.NewButtonBlockElement(
		"run_command_"+cmd.Name,
		cmd.Name,
		slack.NewTextBlockObject("plain_text", "Run "+cmd.Name, false, false),
	)
	return slack.NewSectionBlock(
		slack.NewTextBlockObject("mrkdwn", text, false, false),
		nil,
		slack.NewAccessory(button),
	)
}

func buildNoCommandsBlocks() []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn",
				"🔒 *No Commands Available*\n\nYou don't have permission to use any commands yet.\nContact an administrator to request access.",
				false, false),
			nil, nil,
		),
		slack.NewContextBlock("no_commands_footer",
			slack.NewTextBlockObject("mrkdwn", "📞 Need help? Type `help` for more information", false, false),
		),
	}
}

// BuildDenialBlocks renders a generic access-denied message. The text never
// names the missing permission.
func BuildDenialBlocks(message string) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", "❌ "+message, false, false),
			nil, nil,
		),
		slack.NewContextBlock("denial_footer",
			slack.NewTextBlockObject("mrkdwn", "Type `menu` to see the commands available to you.", false, false),
		),
	}
}

// BuildRateLimitBlocks renders the slow-down message with the retry hint.
func BuildRateLimitBlocks(retryAfter time.Duration) []slack.Block {
	secs := int(retryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn",
				fmt.Sprintf("🐢 *Slow down!*\nYou're sending commands too quickly. Try again in about %d seconds.", secs),
				false, false),
			nil, nil,
		),
	}
}

// BuildHelpBlocks renders static usage help.
func BuildHelpBlocks() []slack.Block {
	var sb strings.Builder
	sb.WriteString("💡 *How to use this bot*\n\n")
	sb.WriteString("• Type `menu` or mention me to see the commands you can run\n")
	sb.WriteString("• Type a command name directly (e.g., `status`)\n")
	sb.WriteString("• Commands you lack permission for won't appear in your menu\n")
	sb.WriteString("• Admins manage access with `permissions grant role <user> <role>`")

	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", sb.String(), false, false),
			nil, nil,
		),
	}
}
