package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

var sqlitePlaceholders = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// SQLiteLedger is a single-file ledger for deployments without Postgres.
type SQLiteLedger struct {
	db *sql.DB
}

var _ ports.Ledger = (*SQLiteLedger)(nil)

// OpenSQLiteLedger opens or creates the database at path and applies the
// schema.
func OpenSQLiteLedger(ctx context.Context, path string, busyTimeout time.Duration) (*SQLiteLedger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db, busyTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Exists(ctx context.Context, id domain.Identity) (bool, error) {
	query, args, err := sqlitePlaceholders.Select("1").
		From(ledgerTable).
		Where(identityEq(id)).
		Limit(1).
		ToSql()
	if err != nil {
		return false, domain.NewLedgerError("exists", fmt.Errorf("build query: %w", err))
	}

	var one int
	err = l.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.NewLedgerError("exists", err)
	}
	return true, nil
}

func (l *SQLiteLedger) Commit(ctx context.Context, rec domain.LedgerRecord) error {
	query, args, err := sqlitePlaceholders.Insert(ledgerTable).
		Columns("subscriber_id", "source", "external_id", "notified_at").
		Values(rec.Identity.SubscriberID, rec.Identity.Source, rec.Identity.ExternalID,
			notifiedAt(rec).Format(time.RFC3339Nano)).
		Suffix("ON CONFLICT (subscriber_id, source, external_id) DO NOTHING").
		ToSql()
	if err != nil {
		return domain.NewLedgerError("commit", fmt.Errorf("build query: %w", err))
	}
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return domain.NewLedgerError("commit", err)
	}
	return nil
}

func (l *SQLiteLedger) Ping(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return domain.NewLedgerError("ping", err)
	}
	return nil
}

func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// applyPragmas sets the durability settings the ledger relies on. WAL is
// checked by reading back the mode, since SQLite keeps the old mode instead
// of failing when it cannot switch.
func applyPragmas(ctx context.Context, db *sql.DB, busyTimeout time.Duration) error {
	if busyTimeout > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set busy_timeout: %w", err)
		}
	}
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode = WAL").Scan(&mode); err != nil {
		return fmt.Errorf("set journal_mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("set journal_mode: sqlite kept %q", mode)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = FULL"); err != nil {
		return fmt.Errorf("set synchronous: %w", err)
	}
	return nil
}
