package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdfmlr/graphpool/transport"
)

func testConfig(min, max int) Config {
	return Config{
		MinSize:             min,
		MaxSize:             max,
		ConnectionTimeout:    time.Second,
		AcquisitionTimeout:   2 * time.Second,
		MaxIdleTime:          time.Hour,
		MaxLifetime:          time.Hour,
		MaxUsageCount:        1000,
		HealthCheckInterval:  time.Hour, // effectively disabled unless a test shortens it
		RetryAttempts:        1,
		RetryDelay:           time.Millisecond,
		ResetOnReturn:        false,
	}
}

// S1 — Basic lifecycle.
func TestBasicLifecycle(t *testing.T) {
	ctx := context.Background()
	connector := transport.NewFakeConnector()
	cfg := testConfig(2, 5)

	p, err := New(ctx, cfg, connector)
	require.NoError(t, err)
	defer p.Close()

	stats := p.Stats()
	assert.EqualValues(t, 2, stats.CurrentSize)
	assert.EqualValues(t, 0, stats.CurrentInUse)

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	_, err = lease.Conn().Session().Execute(ctx, "RETURN 1", nil)
	require.NoError(t, err)
	require.NoError(t, lease.Release(OutcomeOK))

	stats = p.Stats()
	assert.EqualValues(t, 0, stats.CurrentInUse)
	assert.EqualValues(t, 1, stats.Acquisitions)
	assert.EqualValues(t, 1, stats.Releases)

	require.NoError(t, p.Close())
	stats = p.Stats()
	assert.EqualValues(t, 0, stats.CurrentSize)
	assert.EqualValues(t, 2, stats.ConnectionsClosed)
}

// S2 — Saturation and waiting.
func TestSaturationAndWaiting(t *testing.T) {
	ctx := context.Background()
	connector := transport.NewFakeConnector()
	cfg := testConfig(1, 2)
	cfg.AcquisitionTimeout = 500 * time.Millisecond

	p, err := New(ctx, cfg, connector)
	require.NoError(t, err)
	defer p.Close()

	l1, err := p.Acquire(ctx)
	require.NoError(t, err)
	l2, err := p.Acquire(ctx)
	require.NoError(t, err)

	resultCh := make(chan error, 1)
	var l3 *Lease
	go func() {
		var acquireErr error
		l3, acquireErr = p.Acquire(ctx)
		resultCh <- acquireErr
	}()

	time.Sleep(100 * time.Millisecond) // let the third acquire enroll as a waiter
	require.NoError(t, l1.Release(OutcomeOK))

	select {
	case err := <-resultCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("third acquire never completed")
	}
	require.NotNil(t, l3)
	require.NoError(t, l3.Release(OutcomeOK))
	require.NoError(t, l2.Release(OutcomeOK))

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.PeakWaiters)
}

// S3 — Timeout.
func TestAcquireTimeout(t *testing.T) {
	ctx := context.Background()
	connector := transport.NewFakeConnector()
	cfg := testConfig(1, 2)
	cfg.AcquisitionTimeout = 200 * time.Millisecond

	p, err := New(ctx, cfg, connector)
	require.NoError(t, err)
	defer p.Close()

	l1, err := p.Acquire(ctx)
	require.NoError(t, err)
	l2, err := p.Acquire(ctx)
	require.NoError(t, err)

	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, ErrAcquireTimeout)

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.Timeouts)
	assert.EqualValues(t, 0, stats.CurrentWaiters)

	require.NoError(t, l1.Release(OutcomeOK))
	require.NoError(t, l2.Release(OutcomeOK))
}

// S4 — Unhealthy retirement.
func TestUnhealthyRetirement(t *testing.T) {
	ctx := context.Background()
	connector := transport.NewFakeConnector()
	cfg := testConfig(1, 3)
	cfg.MaxUsageCount = 2

	p, err := New(ctx, cfg, connector)
	require.NoError(t, err)
	defer p.Close()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	fake := lease.Conn().Session().(*transport.FakeSession)
	fake.SetExecuteErr(errors.New("boom"))
	_, execErr := lease.Conn().Session().Execute(ctx, "RETURN 1", nil)
	require.Error(t, execErr)

	require.NoError(t, lease.Release(OutcomeFailed))

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.UnhealthyDetected)
	assert.EqualValues(t, 1, stats.ConnectionsClosed)
	assert.EqualValues(t, 2, stats.ConnectionsCreated) // 1 initial + 1 replacement
	assert.EqualValues(t, 1, fake.CloseCount())
}

// S5 — Usage-count retirement.
func TestUsageCountRetirement(t *testing.T) {
	ctx := context.Background()
	connector := transport.NewFakeConnector()
	cfg := testConfig(1, 3)
	cfg.MaxUsageCount = 3

	p, err := New(ctx, cfg, connector)
	require.NoError(t, err)
	defer p.Close()

	var lastConnID string
	for i := 0; i < 4; i++ {
		lease, err := p.Acquire(ctx)
		require.NoError(t, err)
		lastConnID = lease.Conn().ID()
		require.NoError(t, lease.Release(OutcomeOK))
	}
	_ = lastConnID

	stats := p.Stats()
	assert.GreaterOrEqual(t, stats.ConnectionsClosed, uint64(1))
	assert.GreaterOrEqual(t, int(stats.CurrentSize), cfg.MinSize)
}

// S6 — Close drains waiters.
func TestCloseDrainsWaiters(t *testing.T) {
	ctx := context.Background()
	connector := transport.NewFakeConnector()
	cfg := testConfig(1, 1)
	cfg.AcquisitionTimeout = 5 * time.Second

	p, err := New(ctx, cfg, connector)
	require.NoError(t, err)

	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := p.Acquire(ctx)
			errs <- err
		}()
	}
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, p.Close())

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			require.ErrorIs(t, err, ErrPoolClosed)
		case <-time.After(time.Second):
			t.Fatal("waiter never failed after close")
		}
	}

	require.NoError(t, held.Release(OutcomeOK))
}

func TestAcquireAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	connector := transport.NewFakeConnector()
	p, err := New(ctx, testConfig(1, 2), connector)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close()) // idempotent

	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestInitializeFailureReturnsCreateFailed(t *testing.T) {
	ctx := context.Background()
	connector := transport.NewFakeConnector()
	connector.FailNextConnect(-1, errors.New("unreachable"))

	cfg := testConfig(2, 2)
	_, err := New(ctx, cfg, connector)
	require.ErrorIs(t, err, ErrConnectionCreateFailed)
}

func TestDoReleasesOnPanic(t *testing.T) {
	ctx := context.Background()
	connector := transport.NewFakeConnector()
	p, err := New(ctx, testConfig(1, 1), connector)
	require.NoError(t, err)
	defer p.Close()

	assert.Panics(t, func() {
		_ = p.Do(ctx, func(s transport.Session) error {
			panic("boom")
		})
	})

	// the panicking connection was retired, and the pool refilled to
	// min_size, so a subsequent acquire still succeeds.
	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, lease.Release(OutcomeOK))
}

func TestDoublereleaseErrors(t *testing.T) {
	ctx := context.Background()
	connector := transport.NewFakeConnector()
	p, err := New(ctx, testConfig(1, 1), connector)
	require.NoError(t, err)
	defer p.Close()

	lease, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, lease.Release(OutcomeOK))
	require.ErrorIs(t, lease.Release(OutcomeOK), ErrAlreadyReleased)
}
