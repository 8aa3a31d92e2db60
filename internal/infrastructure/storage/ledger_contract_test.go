package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PositionScanner/internal/domain"
	"PositionScanner/internal/ports"
)

// exerciseLedger runs the behaviour every backend must share.
func exerciseLedger(t *testing.T, ledger ports.Ledger) {
	t.Helper()
	ctx := context.Background()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())

	id := domain.DeriveIdentity("sub-"+suffix, "tuni_fi", "101")
	other := domain.DeriveIdentity("sub-"+suffix, "tuni_fi", "102")

	require.NoError(t, ledger.Ping(ctx))

	ok, err := ledger.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.Commit(ctx, domain.LedgerRecord{Identity: id, NotifiedAt: at}))
	require.NoError(t, ledger.Commit(ctx, domain.LedgerRecord{Identity: id, NotifiedAt: at.Add(time.Hour)}),
		"committing an existing identity succeeds")

	ok, err = ledger.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.Exists(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok, "identities do not interfere")

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ledger.Commit(ctx, domain.LedgerRecord{Identity: other, NotifiedAt: at})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	ok, err = ledger.Exists(ctx, other)
	require.NoError(t, err)
	assert.True(t, ok)
}
