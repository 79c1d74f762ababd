package scraper

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed stores.yaml
var defaultStoresYAML []byte

// ErrUnknownStore is reported when a store key is not in the registry.
var ErrUnknownStore = errors.New("unknown store")

// Selector locates one field in a page. With Attr set the attribute value is read
// instead of the element text.
type Selector struct {
	CSS  string `yaml:"css"`
	Attr string `yaml:"attr"`
}

// UnmarshalYAML accepts either a bare CSS string or a {css, attr} mapping.
func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.CSS = node.Value
		s.Attr = ""
		return nil
	}
	type plain Selector
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = Selector(p)
	return nil
}

// StoreDescriptor describes how to search one storefront and where its fields live.
type StoreDescriptor struct {
	Key     string     `yaml:"-"`
	Label   string     `yaml:"label"`
	BaseURL string     `yaml:"base_url"`
	Search  string     `yaml:"search"`
	Price   []Selector `yaml:"price"`
	Name    []Selector `yaml:"name"`
	Image   []Selector `yaml:"image"`
}

// SearchURL substitutes the identifier into the search template. Relative templates
// are resolved against the base URL.
func (d StoreDescriptor) SearchURL(sku string) (string, error) {
	ref, err := url.Parse(strings.ReplaceAll(d.Search, "{sku}", url.QueryEscape(sku)))
	if err != nil {
		return "", fmt.Errorf("store %s: search template: %w", d.Key, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(strings.TrimSpace(d.BaseURL))
	if err != nil {
		return "", fmt.Errorf("store %s: base url: %w", d.Key, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (d StoreDescriptor) validate() error {
	base, err := url.Parse(strings.TrimSpace(d.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("store %s: base_url %q must be an absolute URL", d.Key, d.BaseURL)
	}
	if !strings.Contains(d.Search, "{sku}") {
		return fmt.Errorf("store %s: search template %q has no {sku} placeholder", d.Key, d.Search)
	}
	if len(d.Price) == 0 {
		return fmt.Errorf("store %s: at least one price selector is required", d.Key)
	}
	return nil
}

type storesFile struct {
	Stores map[string]StoreDescriptor `yaml:"stores"`
}

// ParseStores decodes a YAML store table.
func ParseStores(data []byte) (map[string]StoreDescriptor, error) {
	var f storesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse store table: %w", err)
	}
	if len(f.Stores) == 0 {
		return nil, errors.New("store table is empty")
	}
	stores := make(map[string]StoreDescriptor, len(f.Stores))
	for raw, d := range f.Stores {
		key := strings.ToLower(strings.TrimSpace(raw))
		if key == "" {
			return nil, errors.New("store table has an entry with an empty key")
		}
		if _, dup := stores[key]; dup {
			return nil, fmt.Errorf("store %s is listed more than once", key)
		}
		d.Key = key
		d.BaseURL = strings.TrimSpace(d.BaseURL)
		if d.Label == "" {
			d.Label = strings.ToUpper(key[:1]) + key[1:]
		}
		if err := d.validate(); err != nil {
			return nil, err
		}
		stores[key] = d
	}
	return stores, nil
}

// DefaultRegistry builds the registry from the embedded store table.
func DefaultRegistry() (*Registry, error) {
	stores, err := ParseStores(defaultStoresYAML)
	if err != nil {
		return nil, err
	}
	return NewRegistry(stores), nil
}

// LoadRegistry reads a YAML store table from disk. An empty path yields the default table.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read store table: %w", err)
	}
	stores, err := ParseStores(data)
	if err != nil {
		return nil, err
	}
	return NewRegistry(stores), nil
}
