package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
)

// DispatcherDeps wires the dispatcher.
type DispatcherDeps struct {
	Sender        ports.Sender
	Ledger        ports.Ledger
	Logger        *slog.Logger
	Metrics       ports.Metrics
	Workers       int
	RatePerSec    float64
	SendTimeout   time.Duration
	CommitTimeout time.Duration
	Clock         func() time.Time
}

// Dispatcher sends staged batches and records delivered identities.
type Dispatcher struct {
	sender        ports.Sender
	ledger        ports.Ledger
	logger        *slog.Logger
	metrics       ports.Metrics
	workers       int
	limiter       *rate.Limiter
	sendTimeout   time.Duration
	commitTimeout time.Duration
	now           func() time.Time
}

// DispatchError reports a batch the sender did not confirm.
type DispatchError struct {
	SubscriberID string
	Source       string
	Err          error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s (%s): %v", e.SubscriberID, e.Source, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Report summarizes one dispatch round.
type Report struct {
	Source         string
	Batches        int
	Sent           int
	Failed         int
	Skipped        int
	Committed      int
	CommitFailures int
	Errors         []error
}

// Add folds another report into r.
func (r *Report) Add(other Report) {
	r.Batches += other.Batches
	r.Sent += other.Sent
	r.Failed += other.Failed
	r.Skipped += other.Skipped
	r.Committed += other.Committed
	r.CommitFailures += other.CommitFailures
	r.Errors = append(r.Errors, other.Errors...)
}

// NewDispatcher constructs a dispatcher. RatePerSec <= 0 disables throttling.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	d := &Dispatcher{
		sender:        deps.Sender,
		ledger:        deps.Ledger,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		workers:       deps.Workers,
		sendTimeout:   deps.SendTimeout,
		commitTimeout: deps.CommitTimeout,
		now:           deps.Clock,
	}
	if d.logger == nil {
		d.logger = slog.New(slog.DiscardHandler)
	}
	if d.metrics == nil {
		d.metrics = nopMetrics{}
	}
	if d.workers <= 0 {
		d.workers = 1
	}
	if d.now == nil {
		d.now = time.Now
	}
	if deps.RatePerSec > 0 {
		burst := int(deps.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(deps.RatePerSec), burst)
	}
	return d
}

// Dispatch sends every batch. Identities are committed only for deliveries the
// sender confirmed. Once ctx is cancelled no new batch is sent, but commits for
// already confirmed sends still complete.
func (d *Dispatcher) Dispatch(ctx context.Context, source string, batches map[string]domain.Batch) Report {
	report := Report{Source: source, Batches: len(batches)}
	if len(batches) == 0 {
		return report
	}

	ids := make([]string, 0, len(batches))
	for id := range batches {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.workers)
	for _, id := range ids {
		batch := batches[id]
		if ctx.Err() != nil {
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			r := d.dispatchOne(ctx, source, batch)
			mu.Lock()
			report.Add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return report
}

func (d *Dispatcher) dispatchOne(ctx context.Context, source string, batch domain.Batch) Report {
	var r Report
	sub := batch.Subscriber.ID

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			r.Skipped++
			return r
		}
	}
	if ctx.Err() != nil {
		r.Skipped++
		return r
	}
	if d.sender == nil {
		r.Failed++
		r.Errors = append(r.Errors, &DispatchError{SubscriberID: sub, Source: source, Err: errors.New("sender is not configured")})
		return r
	}

	sendCtx := ctx
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}

	err := d.sender.Send(sendCtx, batch)
	d.metrics.ObserveDispatch(source, err)

	toCommit := batch.Matches
	if err != nil {
		var partial *domain.PartialDeliveryError
		if !errors.As(err, &partial) {
			r.Failed++
			r.Errors = append(r.Errors, &DispatchError{SubscriberID: sub, Source: source, Err: err})
			d.logger.Error("dispatch failed, nothing committed",
				"subscriber", sub, "source", source, "items", len(batch.Matches),
				"transient", domain.IsTransient(err), "error", err)
			return r
		}
		toCommit = deliveredMatches(batch.Matches, partial.Delivered)
		r.Failed++
		r.Errors = append(r.Errors, &DispatchError{SubscriberID: sub, Source: source, Err: err})
		d.logger.Warn("partial dispatch, committing delivered items only",
			"subscriber", sub, "source", source, "delivered", len(toCommit), "items", len(batch.Matches), "error", err)
	} else {
		r.Sent++
		d.logger.Info("batch delivered", "subscriber", sub, "source", source, "items", len(batch.Matches))
	}

	committed, failures := d.commit(context.WithoutCancel(ctx), toCommit)
	r.Committed += committed
	r.CommitFailures += failures
	d.metrics.ObserveCommitted(source, committed)
	return r
}

// commit records each identity separately, so a failed write for one item
// leaves the others recorded.
func (d *Dispatcher) commit(ctx context.Context, matches []domain.Match) (int, int) {
	var committed, failures int
	notifiedAt := d.now().UTC()
	for _, m := range matches {
		err := d.commitOne(ctx, domain.LedgerRecord{Identity: m.Identity, NotifiedAt: notifiedAt})
		if err != nil {
			failures++
			d.metrics.ObserveLedgerError("commit")
			d.logger.Error("ledger commit failed after delivery",
				"identity", m.Identity.String(), "error", err)
			continue
		}
		committed++
	}
	return committed, failures
}

func (d *Dispatcher) commitOne(ctx context.Context, rec domain.LedgerRecord) error {
	if d.ledger == nil {
		return domain.NewLedgerError("commit", errors.New("ledger is not configured"))
	}
	if d.commitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.commitTimeout)
		defer cancel()
	}
	return d.ledger.Commit(ctx, rec)
}

func deliveredMatches(matches []domain.Match, delivered []string) []domain.Match {
	ok := make(map[string]struct{}, len(delivered))
	for _, id := range delivered {
		ok[id] = struct{}{}
	}
	out := make([]domain.Match, 0, len(delivered))
	for _, m := range matches {
		if _, hit := ok[m.Item.ExternalID]; hit {
			out = append(out, m)
		}
	}
	return out
}
