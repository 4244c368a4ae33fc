package notify

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// MaxMessageLength is Discord's limit for a single message.
const MaxMessageLength = 2000

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(ctx context.Context, message string) error {
	return nil
}

type Discord struct {
	session   *discordgo.Session
	channelID string
}

// NewDiscord returns Nop when the bot token or channel is missing.
func NewDiscord(token, channelID string) (Notifier, error) {
	if token == "" || channelID == "" {
		slog.Debug("Discord notifications disabled")
		return Nop{}, nil
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	return &Discord{session: session, channelID: channelID}, nil
}

func (d *Discord) Notify(ctx context.Context, message string) error {
	if _, err := d.session.ChannelMessageSend(d.channelID, Truncate(message, MaxMessageLength), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	return nil
}

// Truncate shortens message to at most limit runes, marking the cut with an ellipsis.
func Truncate(message string, limit int) string {
	if utf8.RuneCountInString(message) <= limit {
		return message
	}
	runes := []rune(message)
	return string(runes[:limit-1]) + "…"
}
