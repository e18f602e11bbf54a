package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/aide/internal/bus"
)

// DiscordAdapter delivers notifications over a Discord bot session. The
// session is used send-only; inbound gateway events belong to the chat
// adapter, not this process.
type DiscordAdapter struct {
	session *discordgo.Session
}

func NewDiscordAdapter(botToken string) (*DiscordAdapter, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordAdapter{session: session}, nil
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) Deliver(ctx context.Context, n bus.Notification) error {
	// A Discord thread is itself a channel; prefer it when routed.
	channelID := n.PlatformChannelID
	if n.PlatformThreadID != nil && *n.PlatformThreadID != "" {
		channelID = *n.PlatformThreadID
	}
	if _, err := a.session.ChannelMessageSend(channelID, n.Content); err != nil {
		return fmt.Errorf("send to channel %s: %w", channelID, err)
	}
	return nil
}
