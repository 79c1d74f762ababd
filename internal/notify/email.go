package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

const defaultSMTPPort = 587

// SMTPConfig describes the outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string // default recipients
}

// deliverFunc hands a rendered email to the mail server.
type deliverFunc func(ctx context.Context, to []string, subject, htmlBody, textBody string) error

// Email sends notifications over SMTP. A message carrying an address goes to that
// address only; the rest go to the default recipients.
type Email struct {
	defaultTo []string
	deliver   deliverFunc
}

// NewEmail creates an SMTP notifier. Authentication is used when a username is set.
func NewEmail(cfg SMTPConfig) (*Email, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("email: %w: SMTP host and sender are required", ErrNotConfigured)
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultSMTPPort
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(15 * time.Second),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("email client: %w", err)
	}

	from := cfg.From
	deliver := func(ctx context.Context, to []string, subject, htmlBody, textBody string) error {
		m := mail.NewMsg()
		if err := m.From(from); err != nil {
			return fmt.Errorf("sender %q: %w", from, err)
		}
		if err := m.To(to...); err != nil {
			return fmt.Errorf("recipients %v: %w", to, err)
		}
		m.Subject(subject)
		m.SetBodyString(mail.TypeTextHTML, htmlBody)
		m.AddAlternativeString(mail.TypeTextPlain, textBody)
		return client.DialAndSendWithContext(ctx, m)
	}
	return &Email{defaultTo: cfg.To, deliver: deliver}, nil
}

func (e *Email) Send(ctx context.Context, msg Message) error {
	to := e.defaultTo
	if msg.Email != "" {
		to = []string{msg.Email}
	}
	if len(to) == 0 {
		return fmt.Errorf("email: %w: no recipient for message", ErrNotConfigured)
	}
	if err := e.deliver(ctx, to, msg.Title, renderHTML(msg), renderText(msg)); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

func renderHTML(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s</h2>\n", html.EscapeString(msg.Title))
	if msg.Description != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(msg.Description))
	}
	if msg.Image != "" {
		fmt.Fprintf(&b, "<p><img src=\"%s\" alt=\"\" width=\"160\"></p>\n", html.EscapeString(msg.Image))
	}
	if len(msg.Fields) > 0 {
		b.WriteString("<ul>\n")
		for _, f := range msg.Fields {
			value := strings.ReplaceAll(html.EscapeString(f.Value), "\n", "<br>")
			fmt.Fprintf(&b, "<li><b>%s</b><br>%s</li>\n", html.EscapeString(f.Name), value)
		}
		b.WriteString("</ul>\n")
	}
	if msg.URL != "" {
		fmt.Fprintf(&b, "<p><a href=\"%s\">Original product</a></p>\n", html.EscapeString(msg.URL))
	}
	return b.String()
}

func renderText(msg Message) string {
	var b strings.Builder
	b.WriteString(msg.Title + "\n")
	if msg.Description != "" {
		b.WriteString("\n" + msg.Description + "\n")
	}
	for _, f := range msg.Fields {
		fmt.Fprintf(&b, "\n%s\n%s\n", f.Name, f.Value)
	}
	if msg.URL != "" {
		b.WriteString("\n" + msg.URL + "\n")
	}
	return b.String()
}
