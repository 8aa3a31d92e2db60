package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PositionScanner/internal/domain"
)

// manualDriver fires the registered job only when told to.
type manualDriver struct {
	job     func(time.Time)
	stopped bool
}

func (d *manualDriver) Start(_ context.Context, job func(time.Time)) error {
	d.job = job
	return nil
}

func (d *manualDriver) Stop(context.Context) error {
	d.stopped = true
	return nil
}

func TestSchedulerRunsPipelineOnTrigger(t *testing.T) {
	t.Parallel()

	ledger := newMemLedger()
	sender := &recordingSender{}
	sub := domain.Subscriber{ID: "s@example.org", InterestKeywords: []string{"lca"}}
	bindings := []SourceBinding{{
		Profile: domain.SourceProfile{Name: "liu_se"},
		Source:  staticSource{items: []domain.Item{{Source: "liu_se", ExternalID: "7", Title: "PhD in LCA"}}},
	}}

	driver := &manualDriver{}
	s := NewScheduler(driver, newTestPipeline(ledger, sender, sub), func() []SourceBinding { return bindings }, nil)
	require.NoError(t, s.Start(context.Background()))
	require.NotNil(t, driver.job)

	driver.job(testNow)
	driver.job(testNow.Add(24 * time.Hour))
	assert.Equal(t, 1, sender.calls())
	assert.Equal(t, 1, ledger.size())

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, driver.stopped)
}

func TestSchedulerWithoutDriver(t *testing.T) {
	t.Parallel()

	s := NewScheduler(nil, nil, nil, nil)
	assert.NoError(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}
