package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/storage/redis/v3"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
)

const defaultRedisPrefix = "positionscanner:ledger:"

// RedisLedger stores one key per identity. Keys never expire.
type RedisLedger struct {
	store  *redis.Storage
	prefix string
}

var _ ports.Ledger = (*RedisLedger)(nil)

// OpenRedisLedger connects to the Redis server at url. The storage driver
// panics when the server cannot be reached; that is reported as an error.
func OpenRedisLedger(url, prefix string) (l *RedisLedger, err error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	defer func() {
		if r := recover(); r != nil {
			l = nil
			err = domain.NewLedgerError("open", fmt.Errorf("connect redis: %v", r))
		}
	}()

	store := redis.New(redis.Config{URL: url})
	return &RedisLedger{store: store, prefix: prefix}, nil
}

func (l *RedisLedger) key(id domain.Identity) string {
	return l.prefix + id.Key()
}

func (l *RedisLedger) Exists(ctx context.Context, id domain.Identity) (bool, error) {
	n, err := l.store.Conn().Exists(ctx, l.key(id)).Result()
	if err != nil {
		return false, domain.NewLedgerError("exists", err)
	}
	return n > 0, nil
}

// Commit sets the key only if it is absent, so the first notified_at wins.
func (l *RedisLedger) Commit(ctx context.Context, rec domain.LedgerRecord) error {
	value := notifiedAt(rec).Format(time.RFC3339Nano)
	if err := l.store.Conn().SetNX(ctx, l.key(rec.Identity), value, 0).Err(); err != nil {
		return domain.NewLedgerError("commit", err)
	}
	return nil
}

func (l *RedisLedger) Ping(ctx context.Context) error {
	if err := l.store.Conn().Ping(ctx).Err(); err != nil {
		return domain.NewLedgerError("ping", err)
	}
	return nil
}

func (l *RedisLedger) Close() error {
	return l.store.Close()
}
