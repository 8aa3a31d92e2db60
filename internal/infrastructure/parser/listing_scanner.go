package parser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/scanner"
)

// Option keys understood by ListingScanner.
const (
	OptItem     = "item"
	OptTitle    = "title"
	OptLink     = "link"
	OptBody     = "body"
	OptDeadline = "deadline"
	OptIDAttr   = "id_attr"
	OptNext     = "next"
	OptMaxPages = "max_pages"
)

const defaultMaxPages = 1

// ListingScanner extracts positions from HTML vacancy listings using CSS
// selectors taken from the source options.
type ListingScanner struct {
	client    *http.Client
	cleaner   *TextCleaner
	userAgent string
}

// NewListingScanner wires an HTTP client and the body cleaner.
func NewListingScanner(client *http.Client, cleaner *TextCleaner) *ListingScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if cleaner == nil {
		cleaner = NewTextCleaner()
	}
	return &ListingScanner{client: client, cleaner: cleaner, userAgent: "PositionScanner/1.0"}
}

// Name identifies the strategy inside the registry.
func (l *ListingScanner) Name() string {
	return "listing"
}

// Scan walks every configured page, following the "next" link up to
// max_pages. Items gathered before a failure are returned with the error.
func (l *ListingScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Item, error) {
	if len(req.Pages) == 0 {
		return nil, fmt.Errorf("no pages provided for source %s", req.SourceName)
	}
	sel, err := selectorsFrom(req)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", req.SourceName, err)
	}

	var (
		results []domain.Item
		errs    []error
	)
	seen := map[string]struct{}{}

	for _, page := range req.Pages {
		next := page.URL
		for n := 0; n < sel.maxPages && next != ""; n++ {
			doc, err := l.fetchDocument(ctx, next)
			if err != nil {
				errs = append(errs, fmt.Errorf("page %s: %w", pageLabel(page, n), err))
				break
			}

			base, _ := url.Parse(next)
			for _, item := range l.extractItems(doc, base, sel, req.SourceName) {
				if _, ok := seen[item.ExternalID]; ok {
					continue
				}
				seen[item.ExternalID] = struct{}{}
				results = append(results, item)
			}

			next = ""
			if sel.next != "" {
				if href, ok := doc.Find(sel.next).First().Attr("href"); ok {
					next = resolveURL(base, href)
				}
			}
		}
	}

	return results, errors.Join(errs...)
}

func (l *ListingScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

type selectors struct {
	item, title, link, body, deadline, idAttr, next string
	maxPages                                       int
}

func selectorsFrom(req scanner.Request) (selectors, error) {
	s := selectors{
		item:     req.Option(OptItem, ""),
		title:    req.Option(OptTitle, ""),
		link:     req.Option(OptLink, ""),
		body:     req.Option(OptBody, ""),
		deadline: req.Option(OptDeadline, ""),
		idAttr:   req.Option(OptIDAttr, ""),
		next:     req.Option(OptNext, ""),
		maxPages: defaultMaxPages,
	}
	if s.item == "" {
		return s, errors.New("option \"item\" is required")
	}
	if raw := req.Option(OptMaxPages, ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return s, fmt.Errorf("option \"max_pages\" must be a positive integer, got %q", raw)
		}
		s.maxPages = n
	}
	return s, nil
}

func (l *ListingScanner) extractItems(doc *goquery.Document, base *url.URL, sel selectors, source string) []domain.Item {
	var items []domain.Item
	doc.Find(sel.item).Each(func(_ int, node *goquery.Selection) {
		item, ok := l.parseItem(node, base, sel, source)
		if ok {
			items = append(items, item)
		}
	})
	return items
}

func (l *ListingScanner) parseItem(node *goquery.Selection, base *url.URL, sel selectors, source string) (domain.Item, bool) {
	titleNode := node
	if sel.title != "" {
		titleNode = node.Find(sel.title).First()
	}
	title := collapseSpaces(titleNode.Text())
	if title == "" {
		return domain.Item{}, false
	}

	linkNode := node
	if sel.link != "" {
		linkNode = node.Find(sel.link).First()
	} else if !node.Is("a") {
		linkNode = node.Find("a[href]").First()
	}
	href, _ := linkNode.Attr("href")
	link := resolveURL(base, strings.TrimSpace(href))

	var body string
	if sel.body != "" {
		if html, err := node.Find(sel.body).First().Html(); err == nil {
			body = l.cleaner.Clean(html)
		}
	}

	var deadline string
	if sel.deadline != "" {
		deadline = collapseSpaces(node.Find(sel.deadline).First().Text())
	}

	id := ""
	if sel.idAttr != "" {
		id, _ = node.Attr(sel.idAttr)
		id = strings.TrimSpace(id)
	}
	if id == "" {
		id = link
	}
	if id == "" {
		id = title
	}

	return domain.Item{
		Source:     source,
		ExternalID: id,
		Title:      title,
		Body:       body,
		URL:        link,
		Deadline:   deadline,
	}, true
}

func resolveURL(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func pageLabel(p scanner.Page, n int) string {
	name := p.Name
	if name == "" {
		name = p.URL
	}
	if n == 0 {
		return name
	}
	return fmt.Sprintf("%s (page %d)", name, n+1)
}
