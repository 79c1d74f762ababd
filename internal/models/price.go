package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxNameLength bounds product names carried in price records.
const MaxNameLength = 100

// PriceRecord is the outcome of one store lookup. Records are built once and never mutated.
type PriceRecord struct {
	Store       string          `json:"store"`
	Available   bool            `json:"available"`
	Price       decimal.Decimal `json:"price"`
	Name        string          `json:"name,omitempty"`
	Image       string          `json:"image,omitempty"`
	URL         string          `json:"url,omitempty"`
	LastChecked time.Time       `json:"lastChecked"`
	Error       string          `json:"error,omitempty"`
}

// Unavailable builds a record for a failed lookup.
func Unavailable(store, url, reason string) PriceRecord {
	return PriceRecord{
		Store:       store,
		URL:         url,
		LastChecked: time.Now().UTC(),
		Error:       reason,
	}
}

// Truncate cuts s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
