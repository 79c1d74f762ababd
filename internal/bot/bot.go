// Package bot is the Telegram side of dealfinder: the chat commands used to submit
// and inspect alerts, and the notifier that posts deals back to a chat.
package bot

import (
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of *tgbotapi.BotAPI used to post messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Init connects to Telegram with the bot token.
func Init(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		if err.Error() == "Unauthorized" {
			return nil, errors.New("telegram rejected the bot token; ask @BotFather for a new TELEGRAM_BOT_TOKEN")
		}
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}

	api.Debug = false
	slog.Info("telegram bot authorized", "username", api.Self.UserName)
	return api, nil
}
