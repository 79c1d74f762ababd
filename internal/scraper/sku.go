package scraper

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrSKUNotFound is returned when no identifier can be derived from a URL.
var ErrSKUNotFound = errors.New("could not extract product id from url")

// skuPatterns are tried in order; the first capture of the first match wins.
// Long numeric path segments and explicit markers come before the product-path rule.
var skuPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/(\d{5,})`),                                        // /8462360
	regexp.MustCompile(`(?i)sku[-=_](\d{4,})`),                                 // sku=12345, sku-12345
	regexp.MustCompile(`(?i)\bp-(\d{4,})`),                                     // p-12345
	regexp.MustCompile(`(?i)itemcode=(\d{4,})`),                                // ?itemcode=12345
	regexp.MustCompile(`(?i)/products?/(?:[^/?#]*?[-_])?(\d{4,})(?:[/?#.]|$)`), // /product/name-123456
}

var pathDigits = regexp.MustCompile(`\d{4,}`)

// ExtractSKU derives a storefront-agnostic identifier from a product URL.
func ExtractSKU(rawURL string) (string, error) {
	for _, re := range skuPatterns {
		if m := re.FindStringSubmatch(rawURL); m != nil {
			return m[1], nil
		}
	}

	// Last run of 4+ digits in the path; host, query and fragment are ignored.
	if runs := pathDigits.FindAllString(urlPath(rawURL), -1); len(runs) > 0 {
		return runs[len(runs)-1], nil
	}
	return "", ErrSKUNotFound
}

func urlPath(rawURL string) string {
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
		return u.Path
	}
	path := rawURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return path
}
