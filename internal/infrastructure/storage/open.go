package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"PositionScanner/internal/ports"
)

// Ledger drivers accepted by OpenLedger.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverFile     = "file"
	DriverRedis    = "redis"
)

// LedgerOptions selects and configures a ledger backend.
type LedgerOptions struct {
	Driver      string
	Path        string
	RedisURL    string
	KeyPrefix   string
	BusyTimeout time.Duration
}

// OpenLedger opens the configured backend. The postgres driver needs db.
func OpenLedger(ctx context.Context, opts LedgerOptions, db *DB, logger *slog.Logger) (ports.Ledger, error) {
	switch opts.Driver {
	case DriverPostgres:
		if db == nil {
			return nil, fmt.Errorf("ledger driver %q needs a database connection", opts.Driver)
		}
		return NewPostgresLedger(db), nil
	case DriverSQLite:
		return OpenSQLiteLedger(ctx, opts.Path, opts.BusyTimeout)
	case DriverFile:
		return OpenFileLedger(opts.Path, logger)
	case DriverRedis:
		return OpenRedisLedger(opts.RedisURL, opts.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", opts.Driver)
	}
}
