package scraper

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"dealfinder/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned by Preview when the page carries no recognisable price.
var ErrNoPrice = errors.New("price not found on page")

const fallbackProductName = "Unknown product"

// Generic selectors for arbitrary product pages, most specific first.
var (
	previewPrice = []Selector{
		{CSS: "meta[property='product:price:amount']", Attr: "content"},
		{CSS: "meta[property='og:price:amount']", Attr: "content"},
		{CSS: "[itemprop='price']", Attr: "content"},
		{CSS: "[itemprop='price']"},
		{CSS: "[data-testid='price']"},
		{CSS: ".price"},
		{CSS: "[class*='price']"},
	}
	previewName = []Selector{
		{CSS: "meta[property='og:title']", Attr: "content"},
		{CSS: "h1"},
		{CSS: "[itemprop='name']"},
		{CSS: "title"},
	}
	previewImage = []Selector{
		{CSS: "meta[property='og:image']", Attr: "content"},
		{CSS: "img[itemprop='image']"},
		{CSS: "img"},
	}

	ldPrice = regexp.MustCompile(`"price"\s*:\s*"?([0-9][0-9.,]*)"?`)
	ldName  = regexp.MustCompile(`"name"\s*:\s*"([^"]+)"`)
)

// Preview is a point-in-time summary of a product page.
type Preview struct {
	URL   string          `json:"url"`
	Name  string          `json:"name"`
	Image string          `json:"image,omitempty"`
	Price decimal.Decimal `json:"price"`
	Store string          `json:"store,omitempty"`
}

// Preview fetches the product page itself and extracts name, image and price with
// generic selectors. When only the price is missing the partial preview is returned
// together with ErrNoPrice.
func (f *Fetcher) Preview(ctx context.Context, rawURL string) (Preview, error) {
	page, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (page.Scheme != "http" && page.Scheme != "https") {
		return Preview{}, errors.New("url must be an absolute http(s) address")
	}

	doc, err := f.fetchDocument(ctx, page.String())
	if err != nil {
		return Preview{}, err
	}

	p := Preview{URL: page.String()}
	if store, ok := f.registry.FindStore(p.URL); ok {
		p.Store = store.Label
	}

	name, ok := ResolveName(doc, previewName)
	if !ok {
		name = jsonLD(doc, ldName)
	}
	if name == "" {
		name = fallbackProductName
	}
	p.Name = models.Truncate(name, models.MaxNameLength)
	p.Image, _ = ResolveImage(doc, previewImage, page)

	price, ok := ResolvePrice(doc, previewPrice)
	if !ok {
		price, ok = ParsePrice(jsonLD(doc, ldPrice))
	}
	if !ok {
		return p, ErrNoPrice
	}
	p.Price = price
	return p, nil
}

// jsonLD returns the first capture of re across the page's JSON-LD blocks.
func jsonLD(doc *goquery.Document, re *regexp.Regexp) string {
	var out string
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if m := re.FindStringSubmatch(s.Text()); m != nil {
			out = m[1]
			return false
		}
		return true
	})
	return out
}
