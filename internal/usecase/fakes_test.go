package usecase

import (
	"context"
	"sync"
	"time"

	"PositionScanner/internal/domain"
)

type memLedger struct {
	mu        sync.Mutex
	records   map[domain.Identity]domain.LedgerRecord
	existsErr error
	commitErr error
	pingErr   error
	lookups   int
}

func newMemLedger() *memLedger {
	return &memLedger{records: map[domain.Identity]domain.LedgerRecord{}}
}

func (l *memLedger) Exists(_ context.Context, id domain.Identity) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lookups++
	if l.existsErr != nil {
		return false, domain.NewLedgerError("exists", l.existsErr)
	}
	_, ok := l.records[id]
	return ok, nil
}

func (l *memLedger) Commit(_ context.Context, rec domain.LedgerRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.commitErr != nil {
		return domain.NewLedgerError("commit", l.commitErr)
	}
	if _, ok := l.records[rec.Identity]; !ok {
		l.records[rec.Identity] = rec
	}
	return nil
}

func (l *memLedger) Ping(context.Context) error { return l.pingErr }

func (l *memLedger) Close() error { return nil }

func (l *memLedger) has(id domain.Identity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[id]
	return ok
}

func (l *memLedger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

type recordingSender struct {
	mu      sync.Mutex
	batches []domain.Batch
	send    func(ctx context.Context, b domain.Batch) error
}

func (s *recordingSender) Send(ctx context.Context, b domain.Batch) error {
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
	if s.send != nil {
		return s.send(ctx, b)
	}
	return nil
}

func (s *recordingSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type staticSource struct {
	items []domain.Item
	err   error
}

func (s staticSource) FetchItems(context.Context) ([]domain.Item, error) {
	return s.items, s.err
}

type staticDirectory []domain.Subscriber

func (d staticDirectory) ListSubscribers(context.Context) ([]domain.Subscriber, error) {
	return d, nil
}

var testNow = time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }
