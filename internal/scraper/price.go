package scraper

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	priceNoise  = regexp.MustCompile(`[^\d.,]`)
	priceNumber = regexp.MustCompile(`\d+(?:\.\d{1,2})?`)
)

// ParsePrice turns raw price text such as "$1,234.56" into a decimal.
// Commas are always thousands separators; "12,50" parses as 1250.
func ParsePrice(raw string) (decimal.Decimal, bool) {
	cleaned := strings.ReplaceAll(priceNoise.ReplaceAllString(raw, ""), ",", "")
	m := priceNumber.FindString(cleaned)
	if m == "" {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}
