package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raffle-service/internal/ledger"
	"raffle-service/internal/ledger/store"
)

func newTestLedger(t *testing.T, st store.Store, start, now time.Time, initial int, cacheTTL time.Duration) *ledger.Ledger {
	t.Helper()
	l := ledger.New(st, testSchedule(start), initial, nil, cacheTTL)
	l.Now = func() time.Time { return now }
	return l
}

func TestGetStateSeedsAndDecays(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 10, 4, 9, 0, 0, 0, time.UTC) // 3 days in
	l := newTestLedger(t, store.NewMemory(), start, now, 55, 0)

	snap, err := l.GetState(context.Background())
	require.NoError(t, err)

	schedule := testSchedule(start)
	expected := 55 - schedule.TotalDecay(3)
	assert.Equal(t, expected, snap.Remaining)
	assert.Equal(t, 0, snap.TotalSold)
	assert.Equal(t, "2025-10-04", snap.LastDecayDate)

	// A fresh ledger over a fresh store computes the identical value
	other := newTestLedger(t, store.NewMemory(), start, now, 55, 0)
	otherSnap, err := other.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.Remaining, otherSnap.Remaining)
}

func TestDecayIdempotentPerDate(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(t, store.NewMemory(), start, now, 55, 0)

	first, err := l.GetState(context.Background())
	require.NoError(t, err)
	second, err := l.GetState(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Remaining, second.Remaining)
	assert.Equal(t, first.LastDecayDate, second.LastDecayDate)
}

func TestGetStateCacheHit(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 10, 2, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(t, store.NewMemory(), start, now, 55, 5*time.Second)

	first, err := l.GetState(context.Background())
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := l.GetState(context.Background())
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Remaining, second.Remaining)
}

func TestRecordSaleDecrementsAndCounts(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	now := start // day zero, no decay yet
	l := newTestLedger(t, store.NewMemory(), start, now, 55, 0)

	before, err := l.GetState(context.Background())
	require.NoError(t, err)

	result, err := l.RecordSale(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, before.Remaining-3, result.Remaining)
	assert.Equal(t, before.TotalSold+3, result.TotalSold)

	after, err := l.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.Remaining, after.Remaining)
	assert.Equal(t, result.TotalSold, after.TotalSold)
}

func TestRecordSaleRejectsOversell(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, store.NewMemory(), start, start, 5, 0)

	result, err := l.RecordSale(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Remaining)

	_, err = l.RecordSale(context.Background(), 1)
	assert.ErrorIs(t, err, ledger.ErrInsufficientInventory)

	snap, err := l.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Remaining)
	assert.Equal(t, 5, snap.TotalSold)
}

func TestRecordSaleRejectsInvalidQuantity(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, store.NewMemory(), start, start, 55, 0)

	for _, quantity := range []int{0, -1, -100} {
		_, err := l.RecordSale(context.Background(), quantity)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	}

	snap, err := l.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.TotalSold)
}

func TestRecordSaleLocksDecayDate(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 10, 3, 8, 0, 0, 0, time.UTC)
	l := newTestLedger(t, store.NewMemory(), start, now, 55, 0)

	// Sale before any read still applies the day's decay and marks
	// the date, so the following read cannot contradict it.
	result, err := l.RecordSale(context.Background(), 2)
	require.NoError(t, err)

	snap, err := l.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.Remaining, snap.Remaining)
	assert.Equal(t, "2025-10-03", snap.LastDecayDate)
}

func TestRemainingNeverNegative(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	// A year of decay wipes out 55 tickets many times over
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, store.NewMemory(), start, now, 55, 0)

	snap, err := l.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Remaining)

	_, err = l.RecordSale(context.Background(), 1)
	assert.ErrorIs(t, err, ledger.ErrInsufficientInventory)
}

func TestTotalSoldMonotonic(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, store.NewMemory(), start, start, 55, 0)

	lastSold := 0
	for i := 0; i < 10; i++ {
		if _, err := l.RecordSale(context.Background(), 1); err != nil {
			break
		}
		snap, err := l.GetState(context.Background())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, snap.TotalSold, lastSold)
		lastSold = snap.TotalSold
	}

	// Failed operations leave the counter alone
	_, _ = l.RecordSale(context.Background(), 100000)
	_, _ = l.RecordSale(context.Background(), -1)
	snap, err := l.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lastSold, snap.TotalSold)
}

func TestResyncClampedToSoldAdjustedCeiling(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, store.NewMemory(), start, start, 55, 0)

	_, err := l.RecordSale(context.Background(), 10)
	require.NoError(t, err)

	stored, err := l.Resync(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 45, stored)

	snap, err := l.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45, snap.Remaining)
	assert.Equal(t, 10, snap.TotalSold)
}

func TestResyncRejectsNegative(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, store.NewMemory(), start, start, 55, 0)

	_, err := l.Resync(context.Background(), -5)
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestResyncCanLowerRemaining(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, store.NewMemory(), start, start, 55, 0)

	stored, err := l.Resync(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, stored)

	snap, err := l.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, snap.Remaining)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, store.NewMemory(), start, start, 20, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.RecordSale(context.Background(), 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	snap, err := l.GetState(context.Background())
	require.NoError(t, err)

	// However contention shakes out, the books must balance: every
	// accepted sale is counted exactly once and remaining never goes
	// below zero.
	assert.Greater(t, succeeded, 0)
	assert.LessOrEqual(t, succeeded, 20)
	assert.Equal(t, succeeded, snap.TotalSold)
	assert.Equal(t, 20-succeeded, snap.Remaining)
}

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string) ([]byte, int64, error) {
	return nil, 0, errors.New("connection refused")
}

func (brokenStore) Put(ctx context.Context, key string, value []byte, expectedVersion int64) error {
	return errors.New("connection refused")
}

func TestStoreFailureSurfacesAsUnavailable(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, brokenStore{}, start, start, 55, 0)

	_, err := l.GetState(context.Background())
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)

	_, err = l.RecordSale(context.Background(), 1)
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)

	_, err = l.Resync(context.Background(), 10)
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
}

func TestMalformedStateReseeds(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC)
	mem := store.NewMemory()

	require.NoError(t, mem.Put(context.Background(), "raffle:goodwill-2025:ledger", []byte("{not json"), 0))

	l := newTestLedger(t, mem, start, now, 55, 0)
	snap, err := l.GetState(context.Background())
	require.NoError(t, err)

	expected := 55 - testSchedule(start).TotalDecay(1)
	assert.Equal(t, expected, snap.Remaining)
}
