package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PositionScanner/internal/config"
	"PositionScanner/internal/domain"
)

const vacancies = `
<html><body>
  <div class="vacancy" data-ref="cv-1">
    <a href="/v/cv-1">PhD position in Computer Vision</a>
    <p class="summary">Deep learning for medical imaging.</p>
  </div>
  <div class="vacancy" data-ref="cv-2">
    <a href="/v/cv-2">Postdoc in computer vision</a>
  </div>
  <div class="vacancy" data-ref="bio-1">
    <a href="/v/bio-1">PhD position in Marine Biology</a>
  </div>
</body></html>`

const subscribersYAML = `
subscribers:
  - name: Ada
    email: ada@example.org
    keywords: [computervision]
  - email: gone@example.org
    activeUntil: 2001-01-01
    keywords: [computer vision]
  - email: typo@example.org
    activeUntil: next week
    keywords: [computer vision]
`

type capture struct {
	mu      sync.Mutex
	batches []domain.Batch
}

func (c *capture) Send(_ context.Context, b domain.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
	return nil
}

func (c *capture) sent() []domain.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Batch(nil), c.batches...)
}

func testConfig(t *testing.T, listingURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	subs := filepath.Join(dir, "subscribers.yaml")
	require.NoError(t, os.WriteFile(subs, []byte(subscribersYAML), 0o644))

	return config.Config{
		Logging:   config.LoggingConfig{Level: "error"},
		Ledger:    config.LedgerConfig{Driver: "file", Path: filepath.Join(dir, "ledger", "notified.jsonl")},
		Scheduler: config.SchedulerConfig{CronExpression: "0 8 * * *"},
		Dispatch: config.DispatchConfig{
			FilterWorkers: 2,
			Workers:       1,
			SendTimeout:   5 * time.Second,
			LedgerTimeout: time.Second,
			FetchTimeout:  5 * time.Second,
		},
		Notifications: config.NotificationConfig{Channel: config.ChannelEmail},
		Subscribers:   config.SubscribersConfig{Kind: config.DirectoryYAML, Path: subs},
		Sources: []config.SourceConfig{{
			Name:  "demo_uni",
			Label: "Demo University",
			Kind:  config.SourceListing,
			Pages: []config.PageConfig{{Name: "vacancies", URL: listingURL}},
			Options: map[string]string{
				"item":    "div.vacancy",
				"title":   "a",
				"link":    "a",
				"body":    ".summary",
				"id_attr": "data-ref",
			},
			Forbidden: []string{"Postdoc"},
		}},
	}
}

func newListing(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(vacancies))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunNotifiesOncePerPosition(t *testing.T) {
	srv := newListing(t)
	cfg := testConfig(t, srv.URL)
	ctx := context.Background()

	sink := &capture{}
	a, err := New(ctx, cfg, nil, WithSender(sink))
	require.NoError(t, err)

	reports, err := a.Run(ctx, "")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 3, reports[0].Items)
	assert.Equal(t, 1, reports[0].Sent)
	assert.Equal(t, 1, reports[0].Committed)
	assert.Equal(t, 2, reports[0].Subscribers, "the entry with an unreadable date is skipped")
	assert.Equal(t, 1, reports[0].Filter.InactiveSubscribers)

	batches := sink.sent()
	require.Len(t, batches, 1)
	assert.Equal(t, "ada@example.org", batches[0].Subscriber.ID)
	assert.Equal(t, "Demo University", batches[0].Source.DisplayName())
	require.Len(t, batches[0].Matches, 1)
	assert.Equal(t, "cv-1", batches[0].Matches[0].Item.ExternalID)
	require.NoError(t, a.Close())

	// A fresh process sees the journal and stays quiet.
	again, err := New(ctx, cfg, nil, WithSender(sink))
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close() })

	reports, err = again.Run(ctx, "demo_uni")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Zero(t, reports[0].Sent)
	assert.Len(t, sink.sent(), 1)
}

func TestRunUnknownSource(t *testing.T) {
	srv := newListing(t)
	a, err := New(context.Background(), testConfig(t, srv.URL), nil, WithSender(&capture{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Run(context.Background(), "nope")
	require.ErrorContains(t, err, `unknown source "nope"`)
}

func TestNewRejectsBrokenWiring(t *testing.T) {
	srv := newListing(t)

	cases := map[string]func(*config.Config){
		"channel":   func(c *config.Config) { c.Notifications.Channel = "pigeon" },
		"ledger":    func(c *config.Config) { c.Ledger.Driver = "tape" },
		"directory": func(c *config.Config) { c.Subscribers.Kind = config.DirectoryTable },
		"table source without database": func(c *config.Config) {
			c.Sources = append(c.Sources, config.SourceConfig{Name: "kth_se", Kind: config.SourceTable})
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t, srv.URL)
			mutate(&cfg)
			_, err := New(context.Background(), cfg, nil)
			require.Error(t, err)
		})
	}
}

func TestImportSubscribersNeedsDatabase(t *testing.T) {
	srv := newListing(t)
	cfg := testConfig(t, srv.URL)
	a, err := New(context.Background(), cfg, nil, WithSender(&capture{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.ImportSubscribers(context.Background(), cfg.Subscribers.Path)
	require.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := newListing(t)
	cfg := testConfig(t, srv.URL)
	cfg.Scheduler.RunOnStart = true

	sink := &capture{}
	a, err := New(context.Background(), cfg, nil, WithSender(sink))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	require.Eventually(t, func() bool { return len(sink.sent()) == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeRejectsBadCron(t *testing.T) {
	srv := newListing(t)
	cfg := testConfig(t, srv.URL)
	cfg.Scheduler.CronExpression = "every morning"

	a, err := New(context.Background(), cfg, nil, WithSender(&capture{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.Error(t, a.Serve(context.Background()))
}
