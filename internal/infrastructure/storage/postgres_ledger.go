package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
)

const ledgerTable = "notification_ledger"

// PostgresLedger keeps notified identities in notification_ledger.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

var _ ports.Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger wires the ledger to an open pool. The pool is owned by the
// caller.
func NewPostgresLedger(db *DB) *PostgresLedger {
	l := &PostgresLedger{}
	if db != nil {
		l.pool = db.Pool
	}
	return l
}

// Exists reports whether the identity has been committed.
func (l *PostgresLedger) Exists(ctx context.Context, id domain.Identity) (bool, error) {
	if l.pool == nil {
		return false, domain.NewLedgerError("exists", errNoPool)
	}
	query, args, err := psql.Select("1").
		From(ledgerTable).
		Where(identityEq(id)).
		Limit(1).
		ToSql()
	if err != nil {
		return false, domain.NewLedgerError("exists", fmt.Errorf("build query: %w", err))
	}

	var one int
	err = l.pool.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.NewLedgerError("exists", err)
	}
	return true, nil
}

// Commit inserts the record. An existing row for the identity is kept as is.
func (l *PostgresLedger) Commit(ctx context.Context, rec domain.LedgerRecord) error {
	if l.pool == nil {
		return domain.NewLedgerError("commit", errNoPool)
	}
	query, args, err := psql.Insert(ledgerTable).
		Columns("subscriber_id", "source", "external_id", "notified_at").
		Values(rec.Identity.SubscriberID, rec.Identity.Source, rec.Identity.ExternalID, notifiedAt(rec)).
		Suffix("ON CONFLICT (subscriber_id, source, external_id) DO NOTHING").
		ToSql()
	if err != nil {
		return domain.NewLedgerError("commit", fmt.Errorf("build query: %w", err))
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return domain.NewLedgerError("commit", err)
	}
	return nil
}

// Ping checks the pool.
func (l *PostgresLedger) Ping(ctx context.Context) error {
	if l.pool == nil {
		return domain.NewLedgerError("ping", errNoPool)
	}
	if err := l.pool.Ping(ctx); err != nil {
		return domain.NewLedgerError("ping", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to whoever opened it.
func (l *PostgresLedger) Close() error {
	return nil
}

var errNoPool = errors.New("database pool is not configured")

func identityEq(id domain.Identity) sq.Eq {
	return sq.Eq{
		"subscriber_id": id.SubscriberID,
		"source":        id.Source,
		"external_id":   id.ExternalID,
	}
}

func notifiedAt(rec domain.LedgerRecord) time.Time {
	if rec.NotifiedAt.IsZero() {
		return time.Now().UTC()
	}
	return rec.NotifiedAt.UTC()
}
