package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"dealfinder/internal/models"
	"dealfinder/internal/notify"
	"dealfinder/internal/scraper"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("expected a reply")
	}
	return f.sent[len(f.sent)-1]
}

type memAlerts struct {
	alerts []models.Alert
}

func (m *memAlerts) Load(ctx context.Context) ([]models.Alert, error) {
	return append([]models.Alert(nil), m.alerts...), nil
}

func (m *memAlerts) Append(ctx context.Context, a models.Alert) error {
	m.alerts = append(m.alerts, a)
	return nil
}

type fakePreviewer struct {
	preview scraper.Preview
	err     error
}

func (f fakePreviewer) Preview(ctx context.Context, rawURL string) (scraper.Preview, error) {
	return f.preview, f.err
}

type fakeChecker struct {
	records []models.PriceRecord
	checked []string
}

func (f *fakeChecker) CheckAlert(ctx context.Context, a models.Alert) []models.PriceRecord {
	f.checked = append(f.checked, a.ID)
	return f.records
}

func newTestHandler(t *testing.T, authorized int64) (*Handler, *fakeSender, *memAlerts, *fakeChecker) {
	t.Helper()
	registry, err := scraper.DefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	sender := &fakeSender{}
	alerts := &memAlerts{}
	checker := &fakeChecker{}
	preview := fakePreviewer{preview: scraper.Preview{
		URL:   "https://www.coles.com.au/product/milk-123456",
		Name:  "Full Cream Milk <2L>",
		Price: decimal.RequireFromString("3.10"),
		Store: "Coles",
	}}
	return NewHandler(sender, alerts, registry, preview, checker, authorized), sender, alerts, checker
}

func message(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{Text: text, Chat: &tgbotapi.Chat{ID: chatID}}
}

func TestParseAddArgs(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantErr    bool
		wantRate   string
		wantTarget string
		wantStores []string
	}{
		{name: "discount", args: []string{"https://x.example/p/123456", "100", "20%"}, wantRate: "20", wantTarget: "0"},
		{name: "explicit target", args: []string{"https://x.example/p/123456", "$1,299.00", "999"}, wantRate: "0", wantTarget: "999"},
		{name: "stores", args: []string{"u", "10", "5", "coles,ebay", "amazon"}, wantRate: "0", wantTarget: "5", wantStores: []string{"coles", "ebay", "amazon"}},
		{name: "too few", args: []string{"u", "10"}, wantErr: true},
		{name: "bad retail", args: []string{"u", "free", "10%"}, wantErr: true},
		{name: "discount out of range", args: []string{"u", "10", "100%"}, wantErr: true},
		{name: "bad target", args: []string{"u", "10", "soon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseAddArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", req)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !req.DiscountRate.Equal(decimal.RequireFromString(tt.wantRate)) || !req.Target.Equal(decimal.RequireFromString(tt.wantTarget)) {
				t.Errorf("got rate %s target %s", req.DiscountRate, req.Target)
			}
			if strings.Join(req.Stores, ",") != strings.Join(tt.wantStores, ",") {
				t.Errorf("got stores %v, want %v", req.Stores, tt.wantStores)
			}
		})
	}
}

func TestHandleAdd(t *testing.T) {
	h, sender, alerts, _ := newTestHandler(t, 0)

	h.HandleMessage(context.Background(), message(7, "/add https://www.coles.com.au/product/milk-123456 100 20% coles,EBAY"))

	if len(alerts.alerts) != 1 {
		t.Fatalf("expected one alert saved, got %d (reply %q)", len(alerts.alerts), sender.last(t).Text)
	}
	a := alerts.alerts[0]
	if a.SKU != "123456" || a.ChatID != 7 || !a.TargetPrice.Equal(decimal.NewFromInt(80)) {
		t.Errorf("unexpected alert %+v", a)
	}
	if strings.Join(a.Stores, ",") != "coles,ebay" {
		t.Errorf("unexpected stores %v", a.Stores)
	}
	if reply := sender.last(t); !strings.Contains(reply.Text, "Tracking SKU <b>123456</b>") || reply.ParseMode != tgbotapi.ModeHTML {
		t.Errorf("unexpected reply %+v", reply)
	}
}

func TestHandleAddRejections(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "unknown store", text: "/add https://www.coles.com.au/product/milk-123456 100 20% aldi", want: "unknown store"},
		{name: "no sku", text: "/add https://www.coles.com.au/product/milk 100 20%", want: "product number"},
		{name: "usage", text: "/add https://www.coles.com.au/product/milk-123456", want: "usage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, sender, alerts, _ := newTestHandler(t, 0)
			h.HandleMessage(context.Background(), message(7, tt.text))
			if len(alerts.alerts) != 0 {
				t.Errorf("expected nothing saved")
			}
			if reply := sender.last(t).Text; !strings.Contains(reply, tt.want) {
				t.Errorf("reply %q does not mention %q", reply, tt.want)
			}
		})
	}
}

func TestAuthorization(t *testing.T) {
	h, sender, _, _ := newTestHandler(t, 100)

	h.HandleMessage(context.Background(), message(200, "/list"))
	if reply := sender.last(t).Text; !strings.Contains(reply, "not authorized") {
		t.Errorf("expected rejection, got %q", reply)
	}

	h.HandleMessage(context.Background(), message(200, "/help@DealFinderBot"))
	if reply := sender.last(t).Text; !strings.Contains(reply, "DealFinder") {
		t.Errorf("expected help for public command, got %q", reply)
	}
}

func TestHandleListAndCheck(t *testing.T) {
	h, sender, alerts, checker := newTestHandler(t, 0)
	mine, _ := models.NewAlert("https://www.coles.com.au/product/milk-123456", "123456",
		decimal.NewFromInt(100), decimal.Zero, decimal.NewFromInt(80), []string{"coles", "ebay"}, 7)
	theirs, _ := models.NewAlert("https://www.ebay.com.au/itm/987654", "987654",
		decimal.NewFromInt(50), decimal.Zero, decimal.NewFromInt(40), []string{"ebay"}, 9)
	alerts.alerts = []models.Alert{mine, theirs}

	h.HandleMessage(context.Background(), message(7, "/list"))
	list := sender.last(t).Text
	if !strings.Contains(list, "SKU 123456") || strings.Contains(list, "987654") {
		t.Errorf("expected only this chat's alerts, got %q", list)
	}

	checker.records = []models.PriceRecord{
		{Store: "Coles", Available: true, Price: decimal.NewFromInt(75), Name: "Milk"},
		models.Unavailable("eBay", "", "price not found on page"),
	}
	h.HandleMessage(context.Background(), message(7, "/check "+mine.ID[:8]))
	if len(checker.checked) != 1 || checker.checked[0] != mine.ID {
		t.Fatalf("expected alert %s checked, got %v", mine.ID, checker.checked)
	}
	report := sender.last(t).Text
	for _, want := range []string{"✅ <b>Coles</b>: $75.00 (save $25.00, 25.0%)", "❌ <b>eBay</b>: price not found on page"} {
		if !strings.Contains(report, want) {
			t.Errorf("report %q missing %q", report, want)
		}
	}

	h.HandleMessage(context.Background(), message(7, "/check nope"))
	if reply := sender.last(t).Text; !strings.Contains(reply, "not found") {
		t.Errorf("unexpected reply %q", reply)
	}
}

func TestHandlePreview(t *testing.T) {
	h, sender, _, _ := newTestHandler(t, 0)

	h.HandleMessage(context.Background(), message(7, "/preview https://www.coles.com.au/product/milk-123456"))
	reply := sender.last(t).Text
	for _, want := range []string{"Full Cream Milk &lt;2L&gt;", "$3.10", "SKU 123456", "Coles"} {
		if !strings.Contains(reply, want) {
			t.Errorf("preview %q missing %q", reply, want)
		}
	}

	h.previewer = fakePreviewer{err: errors.New("request failed after 3 attempt(s)")}
	h.HandleMessage(context.Background(), message(7, "/preview https://www.coles.com.au/product/milk-123456"))
	if reply := sender.last(t).Text; !strings.Contains(reply, "Preview failed") {
		t.Errorf("unexpected reply %q", reply)
	}

	h.HandleMessage(context.Background(), message(7, "/preview http://127.0.0.1:8080/admin"))
	if reply := sender.last(t).Text; !strings.Contains(reply, "supported stores only") {
		t.Errorf("unexpected reply %q", reply)
	}
}

func TestReplyFallsBackToPlainText(t *testing.T) {
	h, sender, _, _ := newTestHandler(t, 0)
	sender.err = errors.New("Bad Request: can't parse entities")

	h.HandleMessage(context.Background(), message(7, "/stores"))
	if len(sender.sent) != 2 || sender.sent[0].ParseMode != tgbotapi.ModeHTML || sender.sent[1].ParseMode != "" {
		t.Errorf("expected HTML attempt then plain retry, got %+v", sender.sent)
	}
}

func TestNotifierSend(t *testing.T) {
	msg := notify.Message{
		Title:       "Deal found across 1 store(s)!",
		Description: "SKU 123456 reached the target",
		URL:         "https://www.coles.com.au/product/milk-123456?a=1&b=2",
		Fields:      []notify.Field{{Name: "Coles", Value: "Milk\nPrice: $75.00"}},
	}

	sender := &fakeSender{}
	n := NewNotifier(sender, 55)
	if err := n.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := sender.last(t)
	if out.ChatID != 55 || out.ParseMode != tgbotapi.ModeHTML {
		t.Errorf("unexpected routing %+v", out.BaseChat)
	}
	if !strings.Contains(out.Text, "<b>Coles</b>\nMilk\nPrice: $75.00") || !strings.Contains(out.Text, "a=1&amp;b=2") {
		t.Errorf("unexpected text %q", out.Text)
	}

	msg.ChatID = 7
	if err := n.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.last(t).ChatID != 7 {
		t.Error("expected the alert's chat to override the default chat")
	}

	msg.ChatID = 0
	if err := NewNotifier(sender, 0).Send(context.Background(), msg); !errors.Is(err, notify.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
