package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"dealfinder/internal/models"
	"dealfinder/internal/scraper"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
)

// AlertRepository is the alert storage the commands read and append to.
type AlertRepository interface {
	Load(ctx context.Context) ([]models.Alert, error)
	Append(ctx context.Context, alert models.Alert) error
}

// Previewer fetches a product page for /preview.
type Previewer interface {
	Preview(ctx context.Context, rawURL string) (scraper.Preview, error)
}

// Checker runs an on-demand price check for /check.
type Checker interface {
	CheckAlert(ctx context.Context, a models.Alert) []models.PriceRecord
}

// Handler answers chat commands.
type Handler struct {
	sender           Sender
	alerts           AlertRepository
	registry         *scraper.Registry
	previewer        Previewer
	checker          Checker
	authorizedChatID int64
}

// NewHandler wires the command handlers. A non-zero authorizedChatID restricts every
// command except /start and /help to that chat.
func NewHandler(sender Sender, alerts AlertRepository, registry *scraper.Registry, previewer Previewer, checker Checker, authorizedChatID int64) *Handler {
	return &Handler{
		sender:           sender,
		alerts:           alerts,
		registry:         registry,
		previewer:        previewer,
		checker:          checker,
		authorizedChatID: authorizedChatID,
	}
}

// Run handles updates until ctx is cancelled or the channel closes.
func (h *Handler) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				h.HandleMessage(ctx, update.Message)
			}
		}
	}
}

// HandleMessage dispatches one incoming message.
func (h *Handler) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.Chat == nil {
		return
	}
	parts := strings.Fields(message.Text)
	if len(parts) == 0 {
		return
	}
	chatID := message.Chat.ID

	command := strings.ToLower(parts[0])
	if idx := strings.Index(command, "@"); idx > 0 {
		command = command[:idx]
	}
	args := parts[1:]

	isPublic := command == "/start" || command == "/help"
	if !isPublic && h.authorizedChatID != 0 && chatID != h.authorizedChatID {
		h.reply(chatID, "You are not authorized to use this bot.", false)
		return
	}

	switch command {
	case "/start", "/help":
		h.handleHelp(chatID)
	case "/stores":
		h.handleStores(chatID)
	case "/add":
		h.handleAdd(ctx, chatID, args)
	case "/list":
		h.handleList(ctx, chatID)
	case "/check":
		h.handleCheck(ctx, chatID, args)
	case "/preview":
		h.handlePreview(ctx, chatID, args)
	default:
		h.reply(chatID, "Unknown command. Use /help to see what I can do.", false)
	}
}

const helpText = `🛒 <b>DealFinder</b>

<b>/add</b> &lt;url&gt; &lt;retail&gt; &lt;discount%|target&gt; [stores]
Track a product across stores.
Example: /add https://www.coles.com.au/product/milk-123456 4.50 20%
Example: /add https://www.jbhifi.com.au/products/tv-654321 999 799 jbhifi,harveynorman

<b>/list</b> - Show tracked alerts
<b>/check</b> &lt;id&gt; - Check an alert's stores right now
<b>/preview</b> &lt;url&gt; - Show name and price of a product page
<b>/stores</b> - List supported stores
<b>/help</b> - Show this message`

func (h *Handler) handleHelp(chatID int64) {
	h.reply(chatID, helpText, true)
}

func (h *Handler) handleStores(chatID int64) {
	var b strings.Builder
	b.WriteString("🏬 <b>Supported stores</b>\n\n")
	for _, key := range h.registry.Keys() {
		store, _ := h.registry.Get(key)
		fmt.Fprintf(&b, "<code>%s</code> %s\n", key, escapeHTML(store.Label))
	}
	h.reply(chatID, b.String(), true)
}

type addRequest struct {
	URL          string
	Retail       decimal.Decimal
	DiscountRate decimal.Decimal
	Target       decimal.Decimal
	Stores       []string
}

var errAddUsage = errors.New("usage: /add <url> <retail> <discount%|target> [store,store...]")

func parseAddArgs(args []string) (addRequest, error) {
	if len(args) < 3 {
		return addRequest{}, errAddUsage
	}
	req := addRequest{URL: args[0]}

	retail, ok := scraper.ParsePrice(args[1])
	if !ok || !retail.IsPositive() {
		return addRequest{}, fmt.Errorf("invalid retail price %q", args[1])
	}
	req.Retail = retail

	goal := args[2]
	if strings.HasSuffix(goal, "%") {
		rate, err := decimal.NewFromString(strings.TrimSuffix(goal, "%"))
		if err != nil || !rate.IsPositive() || rate.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return addRequest{}, fmt.Errorf("invalid discount %q: use a value between 0 and 100", goal)
		}
		req.DiscountRate = rate
	} else {
		target, ok := scraper.ParsePrice(goal)
		if !ok || !target.IsPositive() {
			return addRequest{}, fmt.Errorf("invalid target price %q", goal)
		}
		req.Target = target
	}

	for _, arg := range args[3:] {
		for _, s := range strings.Split(arg, ",") {
			if s = strings.TrimSpace(s); s != "" {
				req.Stores = append(req.Stores, s)
			}
		}
	}
	return req, nil
}

func (h *Handler) handleAdd(ctx context.Context, chatID int64, args []string) {
	req, err := parseAddArgs(args)
	if err != nil {
		h.reply(chatID, "❌ "+err.Error(), false)
		return
	}

	sku, err := scraper.ExtractSKU(req.URL)
	if err != nil {
		h.reply(chatID, "❌ Could not find a product number in that URL.", false)
		return
	}

	stores, err := h.registry.Normalize(req.Stores)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("❌ %v. Use /stores to see the supported ones.", err), false)
		return
	}

	alert, err := models.NewAlert(req.URL, sku, req.Retail, req.DiscountRate, req.Target, stores, chatID)
	if err != nil {
		h.reply(chatID, "❌ "+err.Error(), false)
		return
	}
	if err := h.alerts.Append(ctx, alert); err != nil {
		slog.Error("append alert failed", "chat_id", chatID, "error", err)
		h.reply(chatID, "❌ Could not save the alert, try again later.", false)
		return
	}
	slog.Info("alert created", "alert_id", alert.ID, "sku", sku, "chat_id", chatID)

	h.reply(chatID, fmt.Sprintf(
		"✅ Tracking SKU <b>%s</b>\n\nID: <code>%s</code>\nRetail: $%s\nTarget: $%s\nStores: %s",
		sku, shortID(alert.ID), alert.RetailPrice.StringFixed(2), alert.TargetPrice.StringFixed(2),
		strings.Join(alert.Stores, ", "),
	), true)
}

func (h *Handler) handleList(ctx context.Context, chatID int64) {
	alerts, err := h.alerts.Load(ctx)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("❌ Could not load alerts: %v", err), false)
		return
	}

	var b strings.Builder
	count := 0
	for _, a := range alerts {
		if a.ChatID != 0 && a.ChatID != chatID {
			continue
		}
		count++
		status := "⏳ watching"
		if a.Notified {
			status = "✅ notified"
			if a.TriggerTime != nil {
				status += " " + a.TriggerTime.Format("02 Jan 15:04")
			}
		}
		fmt.Fprintf(&b, "🆔 <code>%s</code> SKU %s\n🎯 $%s of $%s\n🏬 %s\n%s\n🔗 %s\n\n",
			shortID(a.ID), escapeHTML(a.SKU), a.TargetPrice.StringFixed(2), a.RetailPrice.StringFixed(2),
			strings.Join(a.Stores, ", "), status, escapeHTML(a.URL))
	}
	if count == 0 {
		h.reply(chatID, "📋 No alerts yet. Use /add to create one.", false)
		return
	}
	h.reply(chatID, "📋 <b>Tracked alerts</b>\n\n"+b.String(), true)
}

func (h *Handler) handleCheck(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 {
		h.reply(chatID, "❌ Usage: /check <id>", false)
		return
	}
	alerts, err := h.alerts.Load(ctx)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("❌ Could not load alerts: %v", err), false)
		return
	}
	alert, ok := findAlert(alerts, args[0])
	if !ok {
		h.reply(chatID, "❌ Alert not found.", false)
		return
	}

	h.reply(chatID, "⏳ Checking prices...", false)
	records := h.checker.CheckAlert(ctx, alert)

	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>SKU %s</b> target $%s\n\n", escapeHTML(alert.SKU), alert.TargetPrice.StringFixed(2))
	for _, rec := range records {
		if !rec.Available {
			fmt.Fprintf(&b, "❌ <b>%s</b>: %s\n", escapeHTML(rec.Store), escapeHTML(rec.Error))
			continue
		}
		mark := "▫️"
		if rec.Price.LessThanOrEqual(alert.TargetPrice) {
			mark = "✅"
		}
		savings, pct := alert.Savings(rec.Price)
		fmt.Fprintf(&b, "%s <b>%s</b>: $%s (save $%s, %s%%)\n%s\n",
			mark, escapeHTML(rec.Store), rec.Price.StringFixed(2), savings.StringFixed(2), pct.StringFixed(1),
			escapeHTML(models.Truncate(rec.Name, 50)))
	}
	h.reply(chatID, b.String(), true)
}

func (h *Handler) handlePreview(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 {
		h.reply(chatID, "❌ Usage: /preview <url>", false)
		return
	}
	if _, ok := h.registry.FindStore(args[0]); !ok {
		h.reply(chatID, "❌ Preview works for supported stores only. Use /stores to see them.", false)
		return
	}
	p, err := h.previewer.Preview(ctx, args[0])
	if err != nil && !errors.Is(err, scraper.ErrNoPrice) {
		h.reply(chatID, fmt.Sprintf("❌ Preview failed: %v", err), false)
		return
	}

	text := fmt.Sprintf("📦 <b>%s</b>\n", escapeHTML(p.Name))
	if p.Store != "" {
		text += fmt.Sprintf("🏬 %s\n", escapeHTML(p.Store))
	}
	if err == nil {
		text += fmt.Sprintf("💰 $%s\n", p.Price.StringFixed(2))
	} else {
		text += "💰 price not found\n"
	}
	if sku, err := scraper.ExtractSKU(p.URL); err == nil {
		text += fmt.Sprintf("🔢 SKU %s\n", sku)
	}
	h.reply(chatID, text, true)
}

// findAlert matches a full id or a unique id prefix.
func findAlert(alerts []models.Alert, id string) (models.Alert, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return models.Alert{}, false
	}
	var found []models.Alert
	for _, a := range alerts {
		if a.ID == id {
			return a, true
		}
		if strings.HasPrefix(a.ID, id) {
			found = append(found, a)
		}
	}
	if len(found) != 1 {
		return models.Alert{}, false
	}
	return found[0], true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// reply sends text, retrying without formatting when Telegram rejects the HTML.
func (h *Handler) reply(chatID int64, text string, html bool) {
	msg := tgbotapi.NewMessage(chatID, text)
	if html {
		msg.ParseMode = tgbotapi.ModeHTML
	}
	if _, err := h.sender.Send(msg); err != nil {
		slog.Warn("telegram reply failed", "chat_id", chatID, "error", err)
		if html {
			msg.ParseMode = ""
			if _, err := h.sender.Send(msg); err != nil {
				slog.Error("telegram plain reply failed", "chat_id", chatID, "error", err)
			}
		}
	}
}
