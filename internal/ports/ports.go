package ports

import (
	"context"
	"time"

	"PositionScanner/internal/domain"
)

// ItemSource pulls the current positions from one origin. It may return a
// partial list together with an error; callers use whatever was received.
type ItemSource interface {
	FetchItems(ctx context.Context) ([]domain.Item, error)
}

// SubscriberDirectory lists subscribers for a run. The result is read-only.
type SubscriberDirectory interface {
	ListSubscribers(ctx context.Context) ([]domain.Subscriber, error)
}

// Sender composes and delivers one batch to its subscriber. A nil error means
// delivery was confirmed for every match in the batch.
type Sender interface {
	Send(ctx context.Context, batch domain.Batch) error
}

// Ledger is the durable record of identities already notified.
//
// Commit is idempotent: committing an existing identity succeeds without
// changing the stored record. Backend failures are *domain.LedgerError.
type Ledger interface {
	Exists(ctx context.Context, id domain.Identity) (bool, error)
	Commit(ctx context.Context, rec domain.LedgerRecord) error
	Ping(ctx context.Context) error
	Close() error
}

// Metrics receives pipeline counters.
type Metrics interface {
	ObserveStaged(source string, n int)
	ObserveSkipped(source, reason string)
	ObserveLedgerError(op string)
	ObserveDispatch(source string, err error)
	ObserveCommitted(source string, n int)
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
