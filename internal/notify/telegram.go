package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/aide/internal/bus"
)

// TelegramAdapter delivers notifications over a Telegram bot.
type TelegramAdapter struct {
	bot *telego.Bot
}

func NewTelegramAdapter(botToken string) (*TelegramAdapter, error) {
	bot, err := telego.NewBot(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramAdapter{bot: bot}, nil
}

func (a *TelegramAdapter) Platform() string { return "telegram" }

func (a *TelegramAdapter) Deliver(ctx context.Context, n bus.Notification) error {
	chatID, err := strconv.ParseInt(n.PlatformChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", n.PlatformChannelID, err)
	}
	msg := tu.Message(tu.ID(chatID), n.Content)

	// Telegram threads are forum topics addressed by message thread id.
	if n.PlatformThreadID != nil && *n.PlatformThreadID != "" {
		threadID, err := strconv.Atoi(*n.PlatformThreadID)
		if err != nil {
			return fmt.Errorf("parse thread id %q: %w", *n.PlatformThreadID, err)
		}
		msg.MessageThreadID = threadID
	}

	if _, err := a.bot.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	return nil
}
