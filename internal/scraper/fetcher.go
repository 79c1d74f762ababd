package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"dealfinder/internal/models"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const (
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	DefaultTimeout      = 15 * time.Second
	DefaultMaxAttempts  = 3
	DefaultRequestDelay = 2 * time.Second

	maxBodyBytes = 8 << 20
)

// Options configures a Fetcher. Zero values pick the defaults above.
type Options struct {
	Client       *http.Client
	UserAgent    string
	Timeout      time.Duration
	MaxAttempts  int
	RequestDelay time.Duration // minimum spacing between requests to one host; negative disables
}

// Fetcher looks up prices on the configured storefronts.
type Fetcher struct {
	registry    *Registry
	client      *http.Client
	userAgent   string
	maxAttempts int
	limiter     *hostLimiter

	backoff func(attempt int) time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher for the stores in registry.
func NewFetcher(registry *Registry, opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RequestDelay == 0 {
		opts.RequestDelay = DefaultRequestDelay
	}

	return &Fetcher{
		registry:    registry,
		client:      opts.Client,
		userAgent:   opts.UserAgent,
		maxAttempts: opts.MaxAttempts,
		limiter:     newHostLimiter(opts.RequestDelay),
		backoff:     ExponentialBackoff,
		sleep:       SleepContext,
	}
}

// Registry returns the store table the fetcher works from.
func (f *Fetcher) Registry() *Registry {
	return f.registry
}

// FetchStorePrice searches one store for the identifier. Failures of any kind come
// back as an unavailable record; nothing is returned as an error.
func (f *Fetcher) FetchStorePrice(ctx context.Context, storeKey, sku string) models.PriceRecord {
	store, ok := f.registry.Get(storeKey)
	if !ok {
		return models.Unavailable(storeKey, "", fmt.Sprintf("%v: %s", ErrUnknownStore, storeKey))
	}

	searchURL, err := store.SearchURL(sku)
	if err != nil {
		return models.Unavailable(store.Label, "", err.Error())
	}

	doc, err := f.fetchDocument(ctx, searchURL)
	if err != nil {
		return models.Unavailable(store.Label, searchURL, err.Error())
	}

	price, ok := ResolvePrice(doc, store.Price)
	if !ok {
		return models.Unavailable(store.Label, searchURL, "price not found on page")
	}

	name, ok := ResolveName(doc, store.Name)
	if !ok {
		name = fmt.Sprintf("Product %s", sku)
	}

	page, _ := url.Parse(searchURL)
	image, _ := ResolveImage(doc, store.Image, page)

	return models.PriceRecord{
		Store:       store.Label,
		Available:   true,
		Price:       price,
		Name:        models.Truncate(name, models.MaxNameLength),
		Image:       image,
		URL:         searchURL,
		LastChecked: time.Now().UTC(),
	}
}

// fetchDocument GETs and parses a page, retrying transient failures with backoff.
func (f *Fetcher) fetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, f.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}
		attempts++

		doc, retry, err := f.get(ctx, rawURL, attempt == 0)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		slog.Warn("store request failed", "url", rawURL, "attempt", attempt, "error", err)
		if !retry {
			break
		}
	}
	return nil, fmt.Errorf("request failed after %d attempt(s): %w", attempts, lastErr)
}

// get issues one request. retry reports whether the failure is worth another attempt.
// Only the first attempt waits on the host limiter; retries are already spaced by the
// backoff and are charged to the limiter so later requests still keep their distance.
func (f *Fetcher) get(ctx context.Context, rawURL string, first bool) (doc *goquery.Document, retry bool, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false, err
	}
	if first {
		if err := f.limiter.Wait(ctx, u.Host); err != nil {
			return nil, false, err
		}
	} else {
		f.limiter.Charge(u.Host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-AU,en;q=0.9,en-US;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return nil, true, fmt.Errorf("status code: %d", code)
	default:
		return nil, false, fmt.Errorf("status code: %d", code)
	}

	doc, err = goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, fmt.Errorf("parse page: %w", err)
	}
	return doc, false, nil
}

// ExponentialBackoff waits 2^attempt seconds.
func ExponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// SleepContext sleeps for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// maxTrackedHosts bounds the limiter table; idle hosts are dropped past it.
const maxTrackedHosts = 256

// hostLimiter spaces requests to the same host by a fixed delay.
type hostLimiter struct {
	mu       sync.Mutex
	every    time.Duration
	limiters map[string]*rate.Limiter
}

func newHostLimiter(every time.Duration) *hostLimiter {
	return &hostLimiter{every: every, limiters: make(map[string]*rate.Limiter)}
}

func (h *hostLimiter) get(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if ok {
		return l
	}
	if len(h.limiters) >= maxTrackedHosts {
		for k, idle := range h.limiters {
			// A full bucket means the host has not been hit within the last delay.
			if idle.Tokens() >= 1 {
				delete(h.limiters, k)
			}
		}
	}
	l = rate.NewLimiter(rate.Every(h.every), 1)
	h.limiters[host] = l
	return l
}

// Wait blocks until a request to host is allowed.
func (h *hostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || h.every <= 0 {
		return nil
	}
	if err := h.get(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Charge records a request to host without waiting for it.
func (h *hostLimiter) Charge(host string) {
	if h == nil || h.every <= 0 {
		return
	}
	h.get(host).Reserve()
}
