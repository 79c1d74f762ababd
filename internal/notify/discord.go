package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	discordColor    = 0x2ecc71
	discordUsername = "DealFinder"

	// Discord embed limits.
	maxEmbedFields     = 25
	maxEmbedFieldValue = 1024
	maxEmbedTitle      = 256
)

// webhookExecutor is the part of *discordgo.Session the notifier needs.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts notifications as embeds through a channel webhook.
type Discord struct {
	session   webhookExecutor
	webhookID string
	token     string
}

// NewDiscord parses a webhook URL of the form https://discord.com/api/webhooks/{id}/{token}.
func NewDiscord(webhookURL string) (*Discord, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Client.Timeout = 15 * time.Second
	return &Discord{session: session, webhookID: id, token: token}, nil
}

func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("discord webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord webhook url %q has no /webhooks/{id}/{token} path", raw)
}

func (d *Discord) Send(ctx context.Context, msg Message) error {
	params := &discordgo.WebhookParams{
		Username: discordUsername,
		Embeds:   []*discordgo.MessageEmbed{buildEmbed(msg)},
	}
	if _, err := d.session.WebhookExecute(d.webhookID, d.token, true, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}

func buildEmbed(msg Message) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       truncate(msg.Title, maxEmbedTitle),
		Description: msg.Description,
		URL:         msg.URL,
		Color:       discordColor,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if msg.Image != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: msg.Image}
	}
	for i, f := range msg.Fields {
		if i == maxEmbedFields {
			break
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  truncate(f.Value, maxEmbedFieldValue),
			Inline: f.Inline,
		})
	}
	return embed
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
