// Package notify sends operational messages to the admin chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Notify(ctx context.Context, text string)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts to a single admin chat. Delivery failures are logged only.
type Telegram struct {
	bot    sender
	chatID int64
	log    *slog.Logger
}

func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegram(bot, chatID, log), nil
}

func newTelegram(bot sender, chatID int64, log *slog.Logger) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, log: log}
}

func (t *Telegram) Notify(ctx context.Context, text string) {
	if ctx.Err() != nil {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		t.log.Error("send admin notification", "chat", t.chatID, "err", err)
	}
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, string) {}
