package scraper

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Registry holds the immutable table of supported storefronts.
type Registry struct {
	stores map[string]StoreDescriptor
	keys   []string
}

// NewRegistry copies the table, lowercasing keys to match Get and Normalize. Later
// changes to the map do not affect the registry.
func NewRegistry(stores map[string]StoreDescriptor) *Registry {
	r := &Registry{stores: make(map[string]StoreDescriptor, len(stores))}
	for key, d := range stores {
		key = strings.ToLower(strings.TrimSpace(key))
		d.Key = key
		if _, dup := r.stores[key]; !dup {
			r.keys = append(r.keys, key)
		}
		r.stores[key] = d
	}
	sort.Strings(r.keys)
	return r
}

// Get returns the descriptor for a store key.
func (r *Registry) Get(key string) (StoreDescriptor, bool) {
	d, ok := r.stores[strings.ToLower(strings.TrimSpace(key))]
	return d, ok
}

// Keys returns the store keys in sorted order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}

// FindStore returns the store whose base host serves the given URL.
func (r *Registry) FindStore(rawURL string) (StoreDescriptor, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return StoreDescriptor{}, false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, key := range r.keys {
		d := r.stores[key]
		base, err := url.Parse(d.BaseURL)
		if err != nil {
			continue
		}
		if strings.TrimPrefix(strings.ToLower(base.Hostname()), "www.") == host {
			return d, true
		}
	}
	return StoreDescriptor{}, false
}

// Normalize lowercases the given keys, rejects unknown ones and defaults to every store.
func (r *Registry) Normalize(keys []string) ([]string, error) {
	if len(keys) == 0 {
		return r.Keys(), nil
	}
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		if _, ok := r.stores[k]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStore, k)
		}
		seen[k] = true
		out = append(out, k)
	}
	if len(out) == 0 {
		return r.Keys(), nil
	}
	return out, nil
}
