package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"PositionScanner/internal/domain"
)

// Page is one listing URL of a source.
type Page struct {
	Name string
	URL  string
}

// Request is everything a strategy needs to scan one source.
type Request struct {
	SourceName string
	Pages      []Page
	Options    map[string]string
}

// Scanner is one way of turning source pages into items.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, req Request) ([]domain.Item, error)
}

// Option returns the trimmed option value, or def when it is unset.
func (r Request) Option(key, def string) string {
	if v := strings.TrimSpace(r.Options[key]); v != "" {
		return v
	}
	return def
}

// Registry maps scanner names to strategies. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	scanners map[string]Scanner
}

func NewRegistry() *Registry {
	return &Registry{scanners: map[string]Scanner{}}
}

// Register adds a strategy under its Name, replacing any earlier one.
func (r *Registry) Register(s Scanner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[s.Name()] = s
}

// Resolve looks a strategy up by name.
func (r *Registry) Resolve(name string) (Scanner, error) {
	r.mu.RLock()
	s, ok := r.scanners[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no scanner named %q (registered: %s)", name, strings.Join(r.Names(), ", "))
	}
	return s, nil
}

// Names lists registered scanners in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scanners))
	for name := range r.scanners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
