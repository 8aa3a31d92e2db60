package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
)

// ErrLedgerDown aborts a run whose ledger fails its startup check: proceeding
// without dedup would resend everything.
var ErrLedgerDown = errors.New("ledger unavailable at startup")

// SourceBinding pairs an item source with the profile describing it.
type SourceBinding struct {
	Profile domain.SourceProfile
	Source  ports.ItemSource
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Directory ports.SubscriberDirectory
	Ledger    ports.Ledger
	Sender    ports.Sender
	Logger    *slog.Logger
	Metrics   ports.Metrics
	Clock     func() time.Time

	FilterWorkers   int
	DispatchWorkers int
	RatePerSec      float64
	LedgerTimeout   time.Duration
	SendTimeout     time.Duration
	FetchTimeout    time.Duration
}

// Pipeline implements one notification run: fetch, filter, dispatch, commit.
type Pipeline struct {
	directory    ports.SubscriberDirectory
	ledger       ports.Ledger
	logger       *slog.Logger
	filter       *Filter
	dispatcher   *Dispatcher
	ledgerTTL    time.Duration
	fetchTimeout time.Duration
}

// RunReport is the outcome of processing one source.
type RunReport struct {
	Report
	RunID       string
	Items       int
	Subscribers int
	Filter      FilterStats
	FetchErr    error
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		directory:    deps.Directory,
		ledger:       deps.Ledger,
		logger:       logger,
		ledgerTTL:    deps.LedgerTimeout,
		fetchTimeout: deps.FetchTimeout,
		filter: NewFilter(FilterDeps{
			Ledger:        deps.Ledger,
			Logger:        logger.With("stage", "filter"),
			Metrics:       deps.Metrics,
			Workers:       deps.FilterWorkers,
			LookupTimeout: deps.LedgerTimeout,
			Clock:         deps.Clock,
		}),
		dispatcher: NewDispatcher(DispatcherDeps{
			Sender:        deps.Sender,
			Ledger:        deps.Ledger,
			Logger:        logger.With("stage", "dispatch"),
			Metrics:       deps.Metrics,
			Workers:       deps.DispatchWorkers,
			RatePerSec:    deps.RatePerSec,
			SendTimeout:   deps.SendTimeout,
			CommitTimeout: deps.LedgerTimeout,
			Clock:         deps.Clock,
		}),
	}
}

// ProcessAll runs every source in order. A failing source does not stop the
// others, except when the ledger itself is down.
func (p *Pipeline) ProcessAll(ctx context.Context, sources []SourceBinding) ([]RunReport, error) {
	reports := make([]RunReport, 0, len(sources))
	var errs []error
	for _, src := range sources {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		rep, err := p.ProcessSource(ctx, src)
		reports = append(reports, rep)
		if err != nil {
			if errors.Is(err, ErrLedgerDown) {
				return reports, err
			}
			errs = append(errs, fmt.Errorf("source %s: %w", src.Profile.Name, err))
		}
	}
	return reports, errors.Join(errs...)
}

// ProcessSource runs one source through filter and dispatch.
func (p *Pipeline) ProcessSource(ctx context.Context, src SourceBinding) (RunReport, error) {
	rep := RunReport{RunID: uuid.NewString()}
	rep.Source = src.Profile.Name
	log := p.logger.With("run_id", rep.RunID, "source", src.Profile.Name)

	if err := p.pingLedger(ctx); err != nil {
		log.Error("ledger check failed, run aborted", "error", err)
		return rep, fmt.Errorf("%w: %w", ErrLedgerDown, err)
	}

	if p.directory == nil {
		return rep, errors.New("subscriber directory is not configured")
	}
	subscribers, err := p.directory.ListSubscribers(ctx)
	if err != nil {
		return rep, fmt.Errorf("list subscribers: %w", err)
	}
	rep.Subscribers = len(subscribers)

	items, err := p.fetch(ctx, src.Source)
	rep.Items = len(items)
	if err != nil {
		rep.FetchErr = err
		if len(items) == 0 {
			return rep, fmt.Errorf("fetch items: %w", err)
		}
		log.Warn("partial fetch, continuing with received items", "items", len(items), "error", err)
	}
	log.Info("fetched", "items", len(items), "subscribers", len(subscribers))

	batches, stats := p.filter.Run(ctx, src.Profile, subscribers, items)
	rep.Filter = stats
	log.Info("filtered", "batches", len(batches), "ledger_errors", stats.LedgerErrors,
		"inactive", stats.InactiveSubscribers, "invalid_items", stats.InvalidItems)

	rep.Report = p.dispatcher.Dispatch(ctx, src.Profile.Name, batches)
	log.Info("dispatched", "sent", rep.Sent, "failed", rep.Failed, "skipped", rep.Skipped,
		"committed", rep.Committed, "commit_failures", rep.CommitFailures)

	return rep, nil
}

func (p *Pipeline) fetch(ctx context.Context, src ports.ItemSource) ([]domain.Item, error) {
	if src == nil {
		return nil, errors.New("item source is not configured")
	}
	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}
	return src.FetchItems(ctx)
}

func (p *Pipeline) pingLedger(ctx context.Context) error {
	if p.ledger == nil {
		return errors.New("ledger is not configured")
	}
	if p.ledgerTTL > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.ledgerTTL)
		defer cancel()
	}
	return p.ledger.Ping(ctx)
}

type nopMetrics struct{}

func (nopMetrics) ObserveStaged(string, int) {}
func (nopMetrics) ObserveSkipped(string, string) {}
func (nopMetrics) ObserveLedgerError(string) {}
func (nopMetrics) ObserveDispatch(string, error) {}
func (nopMetrics) ObserveCommitted(string, int) {}
