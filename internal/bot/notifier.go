package bot

import (
	"context"
	"fmt"
	"strings"

	"dealfinder/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier posts deal notifications to Telegram. Messages carrying a chat id go to
// that chat; the rest go to the default chat.
type Notifier struct {
	sender        Sender
	defaultChatID int64
}

// NewNotifier creates a Telegram notifier. defaultChatID may be zero when every
// alert is created from a chat.
func NewNotifier(sender Sender, defaultChatID int64) *Notifier {
	return &Notifier{sender: sender, defaultChatID: defaultChatID}
}

func (n *Notifier) Send(ctx context.Context, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID := msg.ChatID
	if chatID == 0 {
		chatID = n.defaultChatID
	}
	if chatID == 0 {
		return fmt.Errorf("telegram: %w: no chat id for message", notify.ErrNotConfigured)
	}

	out := tgbotapi.NewMessage(chatID, formatMessage(msg))
	out.ParseMode = tgbotapi.ModeHTML
	if _, err := n.sender.Send(out); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func formatMessage(msg notify.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 <b>%s</b>\n", escapeHTML(msg.Title))
	if msg.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", escapeHTML(msg.Description))
	}
	for _, f := range msg.Fields {
		fmt.Fprintf(&b, "\n<b>%s</b>\n%s\n", escapeHTML(f.Name), escapeHTML(f.Value))
	}
	if msg.URL != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Original product</a>", escapeHTML(msg.URL))
	}
	return b.String()
}

// escapeHTML escapes the characters Telegram's HTML parse mode reserves.
func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	text = strings.ReplaceAll(text, `"`, "&quot;")
	return text
}
