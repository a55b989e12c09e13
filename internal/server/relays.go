package server

import (
	"fmt"
	"net/url"
	"sort"
	"sync"
)

// RelaySet is the in-memory set of relay URLs that accepted signals are
// fanned out to.
type RelaySet struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

func NewRelaySet() *RelaySet {
	return &RelaySet{urls: make(map[string]struct{})}
}

// Add validates and registers a relay URL. Only http and https schemes are
// accepted.
func (r *RelaySet) Add(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid relay url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("relay url must be http(s), got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("relay url missing host")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls[raw] = struct{}{}
	return nil
}

// Remove deletes a relay URL; removing an unknown URL is a no-op.
func (r *RelaySet) Remove(raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.urls, raw)
}

// List returns the registered URLs in stable order.
func (r *RelaySet) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.urls))
	for u := range r.urls {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
