package scraper

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// minNameLength filters out stray matches such as icons or single characters.
const minNameLength = 3

// firstMatch walks the selectors in order and returns the first value accepted by keep.
func firstMatch(doc *goquery.Document, selectors []Selector, read func(*goquery.Selection, Selector) string, keep func(string) (string, bool)) (string, bool) {
	for _, sel := range selectors {
		if sel.CSS == "" {
			continue
		}
		var (
			found string
			hit   bool
		)
		doc.Find(sel.CSS).EachWithBreak(func(i int, s *goquery.Selection) bool {
			found, hit = keep(read(s, sel))
			return !hit
		})
		if hit {
			return found, true
		}
	}
	return "", false
}

func readText(s *goquery.Selection, sel Selector) string {
	if sel.Attr != "" {
		return collapseSpace(s.AttrOr(sel.Attr, ""))
	}
	return collapseSpace(s.Text())
}

func readImage(s *goquery.Selection, sel Selector) string {
	if sel.Attr != "" {
		return strings.TrimSpace(s.AttrOr(sel.Attr, ""))
	}
	for _, attr := range []string{"src", "data-src"} {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ResolvePrice returns the first selector value that parses as a price.
func ResolvePrice(doc *goquery.Document, selectors []Selector) (decimal.Decimal, bool) {
	var price decimal.Decimal
	_, ok := firstMatch(doc, selectors, readText, func(v string) (string, bool) {
		p, ok := ParsePrice(v)
		if !ok {
			return "", false
		}
		price = p
		return v, true
	})
	return price, ok
}

// ResolveName returns the first non-trivial product name.
func ResolveName(doc *goquery.Document, selectors []Selector) (string, bool) {
	return firstMatch(doc, selectors, readText, func(v string) (string, bool) {
		return v, len([]rune(v)) >= minNameLength
	})
}

// ResolveImage returns the first image reference, made absolute against page.
func ResolveImage(doc *goquery.Document, selectors []Selector, page *url.URL) (string, bool) {
	return firstMatch(doc, selectors, readImage, func(v string) (string, bool) {
		return absoluteURL(page, v)
	})
}

func absoluteURL(page *url.URL, ref string) (string, bool) {
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if page != nil {
		u = page.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}
