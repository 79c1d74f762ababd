package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"dealfinder/internal/models"
	"dealfinder/internal/notify"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

type memStore struct {
	mu      sync.Mutex
	alerts  []models.Alert
	loadErr error
	saves   int
}

func (s *memStore) Load(ctx context.Context) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]models.Alert(nil), s.alerts...), nil
}

func (s *memStore) SaveAll(ctx context.Context, alerts []models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append([]models.Alert(nil), alerts...)
	s.saves++
	return nil
}

type fetchFunc func(ctx context.Context, store, sku string) models.PriceRecord

func (f fetchFunc) FetchStorePrice(ctx context.Context, store, sku string) models.PriceRecord {
	return f(ctx, store, sku)
}

type recordingNotifier struct {
	failures int
	calls    int
	sent     []notify.Message
}

func (n *recordingNotifier) Send(ctx context.Context, msg notify.Message) error {
	n.calls++
	if n.calls <= n.failures {
		return errors.New("webhook unavailable")
	}
	n.sent = append(n.sent, msg)
	return nil
}

func price(store string, v string) models.PriceRecord {
	return models.PriceRecord{
		Store:     store,
		Available: true,
		Price:     decimal.RequireFromString(v),
		Name:      "Widget " + store,
		URL:       "https://" + store + ".example/search?q=123456",
	}
}

func newAlert(t *testing.T, sku string, retail, target string, stores ...string) models.Alert {
	t.Helper()
	a, err := models.NewAlert("https://shop.example/product/widget-"+sku, sku,
		decimal.RequireFromString(retail), decimal.Zero, decimal.RequireFromString(target), stores, 0)
	if err != nil {
		t.Fatalf("NewAlert: %v", err)
	}
	return a
}

func newTestMonitor(store AlertStore, fetcher PriceFetcher, n notify.Notifier, clock *time.Time) (*Monitor, *[]time.Duration) {
	m := New(store, fetcher, n, Options{})
	var slept []time.Duration
	m.now = func() time.Time { return *clock }
	m.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return m, &slept
}

func TestAlertLifecycle(t *testing.T) {
	store := &memStore{alerts: []models.Alert{newAlert(t, "123456", "100", "80", "coles")}}
	fetches := 0
	fetcher := fetchFunc(func(ctx context.Context, s, sku string) models.PriceRecord {
		fetches++
		return price(s, "75")
	})
	n := &recordingNotifier{}
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m, _ := newTestMonitor(store, fetcher, n, &clock)

	alerts, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !alerts[0].Notified || alerts[0].TriggerTime == nil || !alerts[0].TriggerTime.Equal(clock) {
		t.Fatalf("expected alert notified at %v, got %+v", clock, alerts[0])
	}
	if len(n.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(n.sent))
	}
	if !store.alerts[0].Notified {
		t.Error("expected notified state to be saved")
	}

	// Inside the cooldown nothing is fetched or sent.
	clock = clock.Add(7 * 24 * time.Hour).Add(-time.Second)
	if _, err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if fetches != 1 || len(n.sent) != 1 || !store.alerts[0].Notified {
		t.Fatalf("expected notified alert to be skipped, fetches=%d sent=%d", fetches, len(n.sent))
	}

	clock = clock.Add(2 * time.Second)
	alerts, err = m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if alerts[0].Notified || alerts[0].TriggerTime != nil {
		t.Errorf("expected alert re-armed after cooldown, got %+v", alerts[0])
	}
	if fetches != 1 {
		t.Errorf("re-arm sweep should not fetch, got %d fetches", fetches)
	}
}

func TestSweepNoMatchStaysPending(t *testing.T) {
	store := &memStore{alerts: []models.Alert{newAlert(t, "123456", "100", "80", "coles", "ebay")}}
	fetcher := fetchFunc(func(ctx context.Context, s, sku string) models.PriceRecord {
		if s == "ebay" {
			return models.Unavailable(s, "", "request failed after 3 attempt(s)")
		}
		return price(s, "80.01")
	})
	n := &recordingNotifier{}
	clock := time.Now()
	m, _ := newTestMonitor(store, fetcher, n, &clock)

	alerts, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if alerts[0].Notified || len(n.sent) != 0 {
		t.Errorf("expected alert to stay pending, got %+v", alerts[0])
	}
}

func TestSweepIsolatesPanickingAlert(t *testing.T) {
	var seeded []models.Alert
	for i := 1; i <= 10; i++ {
		seeded = append(seeded, newAlert(t, fmt.Sprintf("10000%d", i), "100", "80", "coles"))
	}
	store := &memStore{alerts: seeded}
	fetcher := fetchFunc(func(ctx context.Context, s, sku string) models.PriceRecord {
		if sku == "100004" {
			panic("selector blew up")
		}
		return price(s, "70")
	})
	n := &recordingNotifier{}
	clock := time.Now()
	m, _ := newTestMonitor(store, fetcher, n, &clock)

	alerts, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(alerts) != 10 {
		t.Fatalf("expected 10 alerts back, got %d", len(alerts))
	}
	for _, a := range alerts {
		want := a.SKU != "100004"
		if a.Notified != want {
			t.Errorf("alert %s: expected notified=%v", a.SKU, want)
		}
	}
	if len(n.sent) != 9 {
		t.Errorf("expected 9 notifications, got %d", len(n.sent))
	}
}

func TestSweepSendRetries(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		wantNotified bool
		wantSleeps   []time.Duration
	}{
		{name: "first attempt", failures: 0, wantNotified: true, wantSleeps: nil},
		{name: "recovers on retry", failures: 2, wantNotified: true, wantSleeps: []time.Duration{time.Second, 2 * time.Second}},
		{name: "all attempts fail", failures: 3, wantNotified: false, wantSleeps: []time.Duration{time.Second, 2 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{alerts: []models.Alert{newAlert(t, "123456", "100", "80", "coles")}}
			fetcher := fetchFunc(func(ctx context.Context, s, sku string) models.PriceRecord { return price(s, "60") })
			n := &recordingNotifier{failures: tt.failures}
			clock := time.Now()
			m, slept := newTestMonitor(store, fetcher, n, &clock)

			alerts, err := m.Sweep(context.Background())
			if err != nil {
				t.Fatalf("sweep: %v", err)
			}
			if alerts[0].Notified != tt.wantNotified {
				t.Errorf("expected notified=%v, got %v", tt.wantNotified, alerts[0].Notified)
			}
			if fmt.Sprint(*slept) != fmt.Sprint(tt.wantSleeps) {
				t.Errorf("expected sleeps %v, got %v", tt.wantSleeps, *slept)
			}
		})
	}
}

func TestSweepLoadFailure(t *testing.T) {
	store := &memStore{loadErr: errors.New("database is locked")}
	m, _ := newTestMonitor(store, fetchFunc(nil), &recordingNotifier{}, new(time.Time))

	if _, err := m.Sweep(context.Background()); err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("expected load error, got %v", err)
	}
	if store.saves != 0 {
		t.Error("a failed load must not write anything back")
	}
}

func TestBuildMessage(t *testing.T) {
	a := newAlert(t, "123456", "100", "80", "coles", "ebay")
	a.ChatID = 42
	a.Email = "buyer@example.com"
	long := price("coles", "75")
	long.Name = strings.Repeat("x", 80)
	long.Image = "https://cdn.example/w.png"

	msg := BuildMessage(a, []models.PriceRecord{long, price("ebay", "79.5")})
	if msg.Title != "Deal found across 2 store(s)!" {
		t.Errorf("unexpected title %q", msg.Title)
	}
	if msg.ChatID != 42 || msg.Email != "buyer@example.com" || msg.Image != long.Image || msg.URL != a.URL {
		t.Errorf("unexpected message header %+v", msg)
	}
	if len(msg.Fields) != 2 {
		t.Fatalf("expected one field per store, got %d", len(msg.Fields))
	}
	first := msg.Fields[0].Value
	for _, want := range []string{strings.Repeat("x", 47) + "...", "Price: $75.00", "Savings: $25.00 (25.0%)", long.URL} {
		if !strings.Contains(first, want) {
			t.Errorf("field %q missing %q", first, want)
		}
	}
	if !strings.Contains(msg.Fields[1].Value, "Savings: $20.50 (20.5%)") {
		t.Errorf("unexpected second field %q", msg.Fields[1].Value)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	store := &memStore{}
	m := New(store, fetchFunc(nil), &recordingNotifier{}, Options{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		store.mu.Lock()
		saves := store.saves
		store.mu.Unlock()
		if saves > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	m := New(&memStore{}, fetchFunc(nil), &recordingNotifier{}, Options{Schedule: "every tuesday"})
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected invalid schedule error")
	}
}

func TestCronLoggerWritesThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	var l cron.Logger = cronLogger{}
	l.Info("skip", "entry", 1)
	l.Error(errors.New("bad expression"), "schedule", "expr", "x")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two JSON records, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "cron: schedule" || rec["error"] != "bad expression" || rec["expr"] != "x" {
		t.Errorf("unexpected record %v", rec)
	}
}
