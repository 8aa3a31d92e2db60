package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PositionScanner/internal/domain"
)

func newTestFilter(l *memLedger) *Filter {
	return NewFilter(FilterDeps{Ledger: l, Workers: 2, Clock: fixedClock})
}

func TestFilterStagesOnlyRelevantItems(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	sub := domain.Subscriber{ID: "s@example.org", InterestKeywords: []string{"deep learning"}, ActiveUntil: testNow.Add(24 * time.Hour)}
	items := []domain.Item{
		{Source: "x", ExternalID: "1", Title: "Deep Learning PhD"},
		{Source: "x", ExternalID: "2", Title: "Unrelated"},
	}

	got, stats := newTestFilter(ledger).Run(context.Background(), domain.SourceProfile{Name: "x"}, []domain.Subscriber{sub}, items)

	require.Len(t, got, 1)
	batch := got[sub.ID]
	require.Len(t, batch.Matches, 1)
	assert.Equal(t, "1", batch.Matches[0].Item.ExternalID)
	assert.Equal(t, []string{"deep learning", "deeplearning"}, batch.Matches[0].MatchedKeywords)
	assert.Equal(t, domain.DeriveIdentity(sub.ID, "x", "1"), batch.Matches[0].Identity)
	assert.Zero(t, stats.LedgerErrors)
}

func TestFilterSkipsExpiredSubscriber(t *testing.T) {
	t.Parallel()

	sub := domain.Subscriber{ID: "old", InterestKeywords: []string{"phd"}, ActiveUntil: testNow.Add(-time.Hour)}
	items := []domain.Item{{Source: "x", ExternalID: "1", Title: "PhD in physics"}}

	got, stats := newTestFilter(newMemLedger()).Run(context.Background(), domain.SourceProfile{Name: "x"}, []domain.Subscriber{sub}, items)

	assert.Empty(t, got)
	assert.Equal(t, 1, stats.InactiveSubscribers)
}

func TestFilterFailsClosedOnLedgerError(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	ledger.existsErr = errors.New("connection refused")
	sub := domain.Subscriber{ID: "s", InterestKeywords: []string{"phd"}}
	items := []domain.Item{
		{Source: "x", ExternalID: "1", Title: "PhD one"},
		{Source: "x", ExternalID: "2", Title: "PhD two"},
	}

	got, stats := newTestFilter(ledger).Run(context.Background(), domain.SourceProfile{Name: "x"}, []domain.Subscriber{sub}, items)

	assert.Empty(t, got)
	assert.Equal(t, 2, stats.LedgerErrors, "each item is looked up and skipped on its own")
}

func TestFilterSkipsAlreadyNotified(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	sub := domain.Subscriber{ID: "s", InterestKeywords: []string{"phd"}}
	require.NoError(t, ledger.Commit(context.Background(), domain.LedgerRecord{Identity: domain.DeriveIdentity("s", "x", "1")}))

	items := []domain.Item{
		{Source: "x", ExternalID: "1", Title: "PhD one"},
		{Source: "x", ExternalID: "2", Title: "PhD two"},
	}
	got, _ := newTestFilter(ledger).Run(context.Background(), domain.SourceProfile{Name: "x"}, []domain.Subscriber{sub}, items)

	require.Len(t, got["s"].Matches, 1)
	assert.Equal(t, "2", got["s"].Matches[0].Item.ExternalID)
}

func TestFilterAppliesSourceAndSubscriberGating(t *testing.T) {
	t.Parallel()

	source := domain.SourceProfile{Name: "helsinki_fi", TargetKeywords: []string{"Doctoral Researcher"}, ForbiddenKeywords: []string{"Postdoctoral"}}
	subs := []domain.Subscriber{
		{ID: "a", InterestKeywords: []string{"climate"}},
		{ID: "b", InterestKeywords: []string{"climate"}, ForbiddenKeywords: []string{"fixed-term"}},
	}
	items := []domain.Item{
		{Source: "helsinki_fi", ExternalID: "1", Title: "Doctoral Researcher (fixed-term)", Body: "climate modelling"},
		{Source: "helsinki_fi", ExternalID: "2", Title: "Postdoctoral Doctoral Researcher", Body: "climate"},
		{Source: "helsinki_fi", ExternalID: "3", Title: "Lab technician", Body: "climate"},
		{Source: "helsinki_fi", ExternalID: "4", Title: "Doctoral Researcher in ecology", Body: "Climate impacts"},
	}

	got, _ := newTestFilter(newMemLedger()).Run(context.Background(), source, subs, items)

	require.Len(t, got["a"].Matches, 2)
	assert.Equal(t, "1", got["a"].Matches[0].Item.ExternalID)
	assert.Equal(t, "4", got["a"].Matches[1].Item.ExternalID)

	require.Len(t, got["b"].Matches, 1)
	assert.Equal(t, "4", got["b"].Matches[0].Item.ExternalID)
}

func TestFilterPreservesOrderAndDropsRepeats(t *testing.T) {
	t.Parallel()

	sub := domain.Subscriber{ID: "s", InterestKeywords: []string{"ai"}}
	items := []domain.Item{
		{Source: "x", ExternalID: "c", Title: "AI c"},
		{Source: "x", ExternalID: "a", Title: "AI a"},
		{Source: "x", ExternalID: "c", Title: "AI c again"},
		{Source: "x", ExternalID: "b", Title: "AI b"},
	}

	got, _ := newTestFilter(newMemLedger()).Run(context.Background(), domain.SourceProfile{Name: "x"}, []domain.Subscriber{sub}, items)

	var order []string
	for _, m := range got["s"].Matches {
		order = append(order, m.Item.ExternalID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestFilterRejectsInvalidRecords(t *testing.T) {
	t.Parallel()

	subs := []domain.Subscriber{
		{Email: "no-id@example.org", InterestKeywords: []string{"phd"}},
		{ID: "ok", InterestKeywords: []string{"phd"}},
	}
	items := []domain.Item{
		{Source: "x", Title: "PhD without id"},
		{Source: "x", ExternalID: "1", Title: "PhD with id"},
	}

	got, stats := newTestFilter(newMemLedger()).Run(context.Background(), domain.SourceProfile{Name: "x"}, subs, items)

	assert.Equal(t, 1, stats.InvalidSubscribers)
	assert.Equal(t, 1, stats.InvalidItems)
	require.Len(t, got, 1)
	assert.Len(t, got["ok"].Matches, 1)
}

func TestFilterIgnoresSubscriberWithoutKeywords(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	sub := domain.Subscriber{ID: "s"}
	items := []domain.Item{{Source: "x", ExternalID: "1", Title: "PhD"}}

	got, _ := newTestFilter(ledger).Run(context.Background(), domain.SourceProfile{Name: "x"}, []domain.Subscriber{sub}, items)

	assert.Empty(t, got)
	assert.Zero(t, ledger.lookups)
}
