// Package notify sends operator messages when an airdrop finishes.
package notify

import (
	"context"
	"net/http"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"github.com/onemorebsmith/spl-airdrop/src/cashier"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Noop struct{}

func (Noop) Notify(ctx context.Context, msg string) error { return nil }

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

var _ cashier.Notifier = (*Telegram)(nil)

func NewTelegram(token, chatID string, logger *zap.Logger) (*Telegram, error) {
	return NewTelegramWithClient(token, chatID, &http.Client{}, logger)
}

func NewTelegramWithClient(token, chatID string, client *http.Client, logger *zap.Logger) (*Telegram, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid telegram chat id %q", chatID)
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, client)
	if err != nil {
		return nil, errors.Wrap(err, "failed connecting telegram bot")
	}
	logger = logger.Named("telegram")
	logger.Info("telegram notifications enabled", zap.String("bot", bot.Self.UserName), zap.Int64("chat", id))
	return &Telegram{bot: bot, chatID: id, logger: logger}, nil
}

func (t *Telegram) Notify(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, msg)); err != nil {
		return errors.Wrap(err, "failed sending telegram message")
	}
	return nil
}

// FromEnv builds a Telegram notifier from TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID, or a Noop
// when either is unset.
func FromEnv(logger *zap.Logger) (cashier.Notifier, error) {
	token, chat := os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID")
	if token == "" || chat == "" {
		return Noop{}, nil
	}
	return NewTelegram(token, chat, logger)
}
