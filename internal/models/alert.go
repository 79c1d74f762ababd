package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidAlert is returned by NewAlert when the submission cannot be monitored.
var ErrInvalidAlert = errors.New("invalid alert")

var hundred = decimal.NewFromInt(100)

// Alert is a tracked product: one SKU checked across a set of stores against a target price.
type Alert struct {
	ID           string          `json:"id"`
	URL          string          `json:"url"`
	SKU          string          `json:"sku"`
	RetailPrice  decimal.Decimal `json:"retailPrice"`
	DiscountRate decimal.Decimal `json:"discountRate"` // 0-100, zero when the target was explicit
	TargetPrice  decimal.Decimal `json:"targetPrice"`
	Stores       []string        `json:"stores"`
	ChatID       int64           `json:"chatId,omitempty"` // Telegram chat that created the alert
	Email        string          `json:"email,omitempty"`  // recipient for email notifications
	Notified     bool            `json:"notified"`
	TriggerTime  *time.Time      `json:"triggerTime,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// NewAlert builds a pending alert. An explicit target wins over the discount rate;
// otherwise the target is retail × (1 − discountRate/100).
func NewAlert(url, sku string, retail, discountRate, target decimal.Decimal, stores []string, chatID int64) (Alert, error) {
	if url == "" || sku == "" {
		return Alert{}, fmt.Errorf("%w: url and sku are required", ErrInvalidAlert)
	}
	if !retail.IsPositive() {
		return Alert{}, fmt.Errorf("%w: retail price must be positive", ErrInvalidAlert)
	}
	if len(stores) == 0 {
		return Alert{}, fmt.Errorf("%w: at least one store is required", ErrInvalidAlert)
	}

	if !target.IsPositive() {
		target = TargetFromDiscount(retail, discountRate)
		if !target.IsPositive() {
			return Alert{}, fmt.Errorf("%w: discount rate %s leaves no positive target", ErrInvalidAlert, discountRate)
		}
	} else {
		discountRate = decimal.Zero
	}

	return Alert{
		ID:           uuid.New().String(),
		URL:          url,
		SKU:          sku,
		RetailPrice:  retail,
		DiscountRate: discountRate,
		TargetPrice:  target,
		Stores:       append([]string(nil), stores...),
		ChatID:       chatID,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// TargetFromDiscount returns retail × (1 − rate/100) rounded to cents.
func TargetFromDiscount(retail, rate decimal.Decimal) decimal.Decimal {
	return retail.Mul(decimal.NewFromInt(1).Sub(rate.Div(hundred))).Round(2)
}

// Savings returns the amount and percentage saved against the retail price.
func (a Alert) Savings(price decimal.Decimal) (amount, percent decimal.Decimal) {
	amount = a.RetailPrice.Sub(price)
	if a.RetailPrice.IsZero() {
		return amount, decimal.Zero
	}
	return amount, amount.Div(a.RetailPrice).Mul(hundred).Round(1)
}

// Rearm clears the notified state so the alert is checked again.
func (a *Alert) Rearm() {
	a.Notified = false
	a.TriggerTime = nil
}

// MarkNotified records a delivered notification.
func (a *Alert) MarkNotified(at time.Time) {
	a.Notified = true
	a.TriggerTime = &at
}
