package scanner

import (
	"context"
	"testing"

	"PositionScanner/internal/domain"
)

type stubScanner string

func (s stubScanner) Name() string { return string(s) }

func (s stubScanner) Scan(context.Context, Request) ([]domain.Item, error) { return nil, nil }

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubScanner("listing"))
	reg.Register(stubScanner("json"))

	if _, err := reg.Resolve("listing"); err != nil {
		t.Fatalf("resolve listing: %v", err)
	}
	if _, err := reg.Resolve("rss"); err == nil {
		t.Fatalf("expected error for unknown scanner")
	}
	if got := reg.Names(); len(got) != 2 || got[0] != "json" || got[1] != "listing" {
		t.Fatalf("unexpected names: %v", got)
	}
}

func TestRegistryZeroValue(t *testing.T) {
	t.Parallel()

	var reg Registry
	reg.Register(stubScanner("listing"))
	if _, err := reg.Resolve("listing"); err != nil {
		t.Fatalf("resolve on zero registry: %v", err)
	}
}

func TestResolveErrorNamesRegistered(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubScanner("listing"))
	_, err := reg.Resolve("rss")
	if err == nil || err.Error() != `no scanner named "rss" (registered: listing)` {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestOption(t *testing.T) {
	t.Parallel()

	req := Request{Options: map[string]string{"item": " li.job ", "next": "  "}}
	if got := req.Option("item", ""); got != "li.job" {
		t.Fatalf("item = %q", got)
	}
	if got := req.Option("next", "a.next"); got != "a.next" {
		t.Fatalf("blank option should fall back, got %q", got)
	}
	if got := req.Option("max_pages", "1"); got != "1" {
		t.Fatalf("missing option should fall back, got %q", got)
	}
}
