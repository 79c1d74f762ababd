// Package monitor runs the background sweep that checks alerts against store prices.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dealfinder/internal/models"
	"dealfinder/internal/notify"
	"dealfinder/internal/scraper"

	"github.com/robfig/cron/v3"
)

const (
	DefaultInterval     = 30 * time.Minute
	DefaultCooldown     = 7 * 24 * time.Hour
	DefaultSendAttempts = 3

	fieldNameLength = 50
)

// AlertStore is the persistence the monitor reads and writes once per sweep.
type AlertStore interface {
	Load(ctx context.Context) ([]models.Alert, error)
	SaveAll(ctx context.Context, alerts []models.Alert) error
}

// PriceFetcher looks up one store. It reports failures inside the record.
type PriceFetcher interface {
	FetchStorePrice(ctx context.Context, storeKey, sku string) models.PriceRecord
}

// Options tunes a Monitor. Zero values pick the defaults.
type Options struct {
	Interval     time.Duration
	Schedule     string // cron expression; replaces the fixed interval when set
	Cooldown     time.Duration
	SendAttempts int
}

// Monitor owns the alert lifecycle: pending alerts are checked each sweep, notified
// alerts sleep until the cooldown has passed and are then re-armed.
type Monitor struct {
	store    AlertStore
	fetcher  PriceFetcher
	notifier notify.Notifier

	interval     time.Duration
	schedule     string
	cooldown     time.Duration
	sendAttempts int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	sweepMu sync.Mutex
}

// New creates a monitor.
func New(store AlertStore, fetcher PriceFetcher, notifier notify.Notifier, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.SendAttempts <= 0 {
		opts.SendAttempts = DefaultSendAttempts
	}
	return &Monitor{
		store:        store,
		fetcher:      fetcher,
		notifier:     notifier,
		interval:     opts.Interval,
		schedule:     strings.TrimSpace(opts.Schedule),
		cooldown:     opts.Cooldown,
		sendAttempts: opts.SendAttempts,
		now:          time.Now,
		sleep:        scraper.SleepContext,
	}
}

// Start sweeps immediately and then keeps sweeping until ctx is cancelled, either
// on the cron schedule or every interval.
func (m *Monitor) Start(ctx context.Context) error {
	if m.schedule != "" {
		return m.runCron(ctx)
	}

	slog.Info("monitor started", "interval", m.interval.String())
	for {
		m.runSweep(ctx)
		if err := m.sleep(ctx, m.interval); err != nil {
			slog.Info("monitor stopped")
			return nil
		}
	}
}

func (m *Monitor) runCron(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(m.schedule, func() { m.runSweep(ctx) }); err != nil {
		return fmt.Errorf("invalid check schedule %q: %w", m.schedule, err)
	}

	slog.Info("monitor started", "schedule", m.schedule)
	m.runSweep(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("monitor stopped")
	return nil
}

func (m *Monitor) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := m.now()
	alerts, err := m.Sweep(ctx)
	if err != nil {
		slog.Error("sweep failed", "error", err)
		return
	}
	slog.Info("sweep finished", "alerts", len(alerts), "duration", m.now().Sub(start).String())
}

// Sweep loads every alert, advances each one through its lifecycle and writes the
// whole set back. Only a store failure makes it return an error; problems with a
// single alert are logged and leave that alert as it was.
func (m *Monitor) Sweep(ctx context.Context) ([]models.Alert, error) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	alerts, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load alerts: %w", err)
	}

	for i := range alerts {
		if ctx.Err() != nil {
			break
		}
		m.process(ctx, &alerts[i])
	}

	// Notifications already sent must be recorded even when shutdown interrupted the sweep.
	if err := m.store.SaveAll(context.WithoutCancel(ctx), alerts); err != nil {
		return nil, fmt.Errorf("save alerts: %w", err)
	}
	return alerts, nil
}

func (m *Monitor) process(ctx context.Context, a *models.Alert) {
	original := *a
	defer func() {
		if r := recover(); r != nil {
			*a = original
			slog.Error("alert check panicked", "alert_id", a.ID, "panic", fmt.Sprint(r))
		}
	}()

	if a.Notified {
		if a.TriggerTime == nil || m.now().Sub(*a.TriggerTime) >= m.cooldown {
			a.Rearm()
			slog.Info("alert re-armed", "alert_id", a.ID, "sku", a.SKU)
		}
		return
	}

	matches := Matches(*a, m.CheckAlert(ctx, *a))
	if len(matches) == 0 {
		return
	}

	if err := m.send(ctx, BuildMessage(*a, matches)); err != nil {
		slog.Error("notification failed, alert stays pending", "alert_id", a.ID, "error", err)
		return
	}
	a.MarkNotified(m.now().UTC())
	slog.Info("alert notified", "alert_id", a.ID, "sku", a.SKU, "matches", len(matches))
}

// CheckAlert fetches the alert's SKU from each of its stores in order.
func (m *Monitor) CheckAlert(ctx context.Context, a models.Alert) []models.PriceRecord {
	records := make([]models.PriceRecord, 0, len(a.Stores))
	for _, store := range a.Stores {
		if ctx.Err() != nil {
			break
		}
		rec := m.fetcher.FetchStorePrice(ctx, store, a.SKU)
		if !rec.Available {
			slog.Warn("store lookup failed", "alert_id", a.ID, "store", store, "sku", a.SKU, "error", rec.Error)
		}
		records = append(records, rec)
	}
	return records
}

func (m *Monitor) send(ctx context.Context, msg notify.Message) error {
	var errs []error
	for attempt := 0; attempt < m.sendAttempts; attempt++ {
		if attempt > 0 {
			if err := m.sleep(ctx, scraper.ExponentialBackoff(attempt-1)); err != nil {
				errs = append(errs, err)
				break
			}
		}
		err := m.notifier.Send(ctx, msg)
		if err == nil {
			return nil
		}
		slog.Warn("notification attempt failed", "attempt", attempt+1, "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Matches keeps the available records priced at or below the alert's target.
func Matches(a models.Alert, records []models.PriceRecord) []models.PriceRecord {
	var out []models.PriceRecord
	for _, rec := range records {
		if rec.Available && rec.Price.LessThanOrEqual(a.TargetPrice) {
			out = append(out, rec)
		}
	}
	return out
}

// BuildMessage summarises every matching store in one notification.
func BuildMessage(a models.Alert, matches []models.PriceRecord) notify.Message {
	title := fmt.Sprintf("Deal found across %d store(s)!", len(matches))

	desc := fmt.Sprintf("SKU %s reached the target of $%s (retail $%s).",
		a.SKU, a.TargetPrice.StringFixed(2), a.RetailPrice.StringFixed(2))
	if a.DiscountRate.IsPositive() {
		desc = fmt.Sprintf("SKU %s is at least %s%% off (target $%s, retail $%s).",
			a.SKU, a.DiscountRate.String(), a.TargetPrice.StringFixed(2), a.RetailPrice.StringFixed(2))
	}

	msg := notify.Message{
		Title:       title,
		Description: desc,
		URL:         a.URL,
		ChatID:      a.ChatID,
		Email:       a.Email,
	}
	for _, rec := range matches {
		if msg.Image == "" {
			msg.Image = rec.Image
		}
		savings, pct := a.Savings(rec.Price)
		msg.Fields = append(msg.Fields, notify.Field{
			Name: rec.Store,
			Value: fmt.Sprintf("%s\nPrice: $%s\nSavings: $%s (%s%%)\n%s",
				models.Truncate(rec.Name, fieldNameLength),
				rec.Price.StringFixed(2), savings.StringFixed(2), pct.StringFixed(1), rec.URL),
			Inline: true,
		})
	}
	return msg
}

// cronLogger routes cron's own messages into slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
