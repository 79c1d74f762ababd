package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPreview(t *testing.T) {
	tests := []struct {
		name      string
		page      string
		wantName  string
		wantImage string
		wantPrice string
	}{
		{
			name: "open graph and product meta",
			page: `<head>
				<meta property="og:title" content="Noise Cancelling Headphones">
				<meta property="og:image" content="https://cdn.example/h.jpg">
				<meta property="product:price:amount" content="349.00">
			</head>`,
			wantName:  "Noise Cancelling Headphones",
			wantImage: "https://cdn.example/h.jpg",
			wantPrice: "349",
		},
		{
			name:      "plain markup",
			page:      `<h1>Kettle 1.7L</h1><img src="/k.png"><div class="price-box"><span class="price">$1,049.95</span></div>`,
			wantName:  "Kettle 1.7L",
			wantImage: "/k.png",
			wantPrice: "1049.95",
		},
		{
			name:      "json-ld only",
			page:      `<script type="application/ld+json">{"@type":"Product","name":"Toaster","offers":{"price":"59.00"}}</script>`,
			wantName:  "Toaster",
			wantPrice: "59",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.page)
			}))
			defer srv.Close()

			f, _ := newTestFetcher(testStore("https://store.example"), srv.Client())
			p, err := f.Preview(context.Background(), srv.URL+"/product/thing-1234")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name != tt.wantName {
				t.Errorf("expected name %q, got %q", tt.wantName, p.Name)
			}
			wantImage := tt.wantImage
			if len(wantImage) > 0 && wantImage[0] == '/' {
				wantImage = srv.URL + wantImage
			}
			if p.Image != wantImage {
				t.Errorf("expected image %q, got %q", wantImage, p.Image)
			}
			if !p.Price.Equal(decimal.RequireFromString(tt.wantPrice)) {
				t.Errorf("expected price %s, got %s", tt.wantPrice, p.Price)
			}
		})
	}
}

func TestPreviewWithoutPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<title>Out of stock</title>`)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(testStore("https://store.example"), srv.Client())
	p, err := f.Preview(context.Background(), srv.URL)
	if !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
	if p.Name != "Out of stock" {
		t.Errorf("expected partial preview name, got %q", p.Name)
	}
}

func TestPreviewRejectsBadURL(t *testing.T) {
	f, _ := newTestFetcher(testStore("https://store.example"), http.DefaultClient)
	if _, err := f.Preview(context.Background(), "not a url"); err == nil {
		t.Error("expected error for relative url")
	}
}
