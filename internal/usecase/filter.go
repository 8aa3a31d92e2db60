package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/keywords"
	"PositionScanner/internal/ports"
)

const defaultWorkers = 4

// FilterDeps wires the filter to the ledger and its ambient collaborators.
type FilterDeps struct {
	Ledger        ports.Ledger
	Logger        *slog.Logger
	Metrics       ports.Metrics
	Workers       int
	LookupTimeout time.Duration
	Clock         func() time.Time
}

// Filter stages, per subscriber, the items that are relevant and not yet in
// the ledger.
type Filter struct {
	ledger        ports.Ledger
	logger        *slog.Logger
	metrics       ports.Metrics
	workers       int
	lookupTimeout time.Duration
	now           func() time.Time
}

// FilterStats counts what the filter dropped and why.
type FilterStats struct {
	InvalidSubscribers  int
	InactiveSubscribers int
	InvalidItems        int
	LedgerErrors        int
}

// NewFilter constructs the filter.
func NewFilter(deps FilterDeps) *Filter {
	f := &Filter{
		ledger:        deps.Ledger,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		workers:       deps.Workers,
		lookupTimeout: deps.LookupTimeout,
		now:           deps.Clock,
	}
	if f.logger == nil {
		f.logger = slog.New(slog.DiscardHandler)
	}
	if f.metrics == nil {
		f.metrics = nopMetrics{}
	}
	if f.workers <= 0 {
		f.workers = defaultWorkers
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// Run matches items from one source against every active subscriber. The
// result maps subscriber id to the staged batch; subscribers with nothing
// staged are absent. Items keep the order the source reported them in.
func (f *Filter) Run(ctx context.Context, source domain.SourceProfile, subscribers []domain.Subscriber, items []domain.Item) (map[string]domain.Batch, FilterStats) {
	var (
		stats FilterStats
		mu    sync.Mutex
	)
	result := make(map[string]domain.Batch)

	valid := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if err := item.Validate(); err != nil {
			stats.InvalidItems++
			f.metrics.ObserveSkipped(source.Name, "invalid_item")
			f.logger.Warn("skip item", "source", source.Name, "error", err)
			continue
		}
		valid = append(valid, item)
	}

	now := f.now()
	seen := make(map[string]struct{}, len(subscribers))

	var g errgroup.Group
	g.SetLimit(f.workers)
	for _, sub := range subscribers {
		if err := sub.Validate(); err != nil {
			stats.InvalidSubscribers++
			f.metrics.ObserveSkipped(source.Name, "invalid_subscriber")
			f.logger.Warn("skip subscriber", "source", source.Name, "error", err)
			continue
		}
		if _, dup := seen[sub.ID]; dup {
			f.logger.Warn("skip duplicate subscriber", "source", source.Name, "subscriber", sub.ID)
			continue
		}
		seen[sub.ID] = struct{}{}
		if !sub.Active(now) {
			stats.InactiveSubscribers++
			f.logger.Debug("skip inactive subscriber", "subscriber", sub.ID, "active_until", sub.ActiveUntil)
			continue
		}
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			batch, ledgerErrs := f.stage(ctx, source, sub, valid)
			mu.Lock()
			defer mu.Unlock()
			stats.LedgerErrors += ledgerErrs
			if len(batch.Matches) > 0 {
				result[sub.ID] = batch
			}
			return nil
		})
	}
	_ = g.Wait()

	return result, stats
}

func (f *Filter) stage(ctx context.Context, source domain.SourceProfile, sub domain.Subscriber, items []domain.Item) (domain.Batch, int) {
	profile := keywords.NewProfile(
		sub.InterestKeywords,
		append(append([]string(nil), source.TargetKeywords...), sub.TargetKeywords...),
		append(append([]string(nil), source.ForbiddenKeywords...), sub.ForbiddenKeywords...),
	)
	batch := domain.Batch{Subscriber: sub, Source: source}
	if profile.Interests.Len() == 0 {
		f.logger.Debug("subscriber has no interest keywords", "subscriber", sub.ID)
		return batch, 0
	}

	var ledgerErrs int
	staged := make(map[domain.Identity]struct{})
	for _, item := range items {
		matched, ok := profile.Evaluate(item.Title, item.Body)
		if !ok {
			continue
		}
		id := domain.DeriveIdentity(sub.ID, item.Source, item.ExternalID)
		if _, dup := staged[id]; dup {
			continue
		}

		exists, err := f.exists(ctx, id)
		if err != nil {
			// Fail closed: an unknown ledger state is never "not notified".
			ledgerErrs++
			f.metrics.ObserveLedgerError("exists")
			f.logger.Warn("ledger lookup failed, item not staged",
				"subscriber", sub.ID, "source", item.Source, "external_id", item.ExternalID, "error", err)
			continue
		}
		if exists {
			f.logger.Debug("already notified", "subscriber", sub.ID, "external_id", item.ExternalID)
			continue
		}

		staged[id] = struct{}{}
		batch.Matches = append(batch.Matches, domain.Match{
			Item:            item,
			MatchedKeywords: matched,
			Identity:        id,
		})
	}

	if n := len(batch.Matches); n > 0 {
		f.metrics.ObserveStaged(source.Name, n)
		f.logger.Debug("staged items", "subscriber", sub.ID, "source", source.Name, "count", n)
	}
	return batch, ledgerErrs
}

func (f *Filter) exists(ctx context.Context, id domain.Identity) (bool, error) {
	if f.ledger == nil {
		return false, domain.NewLedgerError("exists", errors.New("ledger is not configured"))
	}
	if f.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.lookupTimeout)
		defer cancel()
	}
	return f.ledger.Exists(ctx, id)
}
