package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raffle-service/internal/ledger/store"
)

func TestMemoryGetMissing(t *testing.T) {
	mem := store.NewMemory()

	_, _, err := mem.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryPutAndGet(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Put(ctx, "k", []byte("v1"), 0))

	value, version, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
	assert.Equal(t, int64(1), version)

	require.NoError(t, mem.Put(ctx, "k", []byte("v2"), 1))
	value, version, err = mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
	assert.Equal(t, int64(2), version)
}

func TestMemoryVersionConflict(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Put(ctx, "k", []byte("v1"), 0))

	// Stale expected version loses
	err := mem.Put(ctx, "k", []byte("v2"), 0)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	// Creating an existing key loses too
	err = mem.Put(ctx, "k", []byte("v3"), 0)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	value, _, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
}

func TestMemoryReturnsCopies(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	original := []byte("value")
	require.NoError(t, mem.Put(ctx, "k", original, 0))
	original[0] = 'X'

	value, _, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value)

	value[0] = 'Y'
	again, _, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

// flaky wraps a Store and fails operations while broken is set.
type flaky struct {
	inner  store.Store
	broken bool
}

func (f *flaky) Get(ctx context.Context, key string) ([]byte, int64, error) {
	if f.broken {
		return nil, 0, errors.New("i/o timeout")
	}
	return f.inner.Get(ctx, key)
}

func (f *flaky) Put(ctx context.Context, key string, value []byte, expectedVersion int64) error {
	if f.broken {
		return errors.New("i/o timeout")
	}
	return f.inner.Put(ctx, key, value, expectedVersion)
}

func TestFallbackPrefersPrimary(t *testing.T) {
	primary := store.NewMemory()
	backup := store.NewMemory()
	fb := store.NewFallback(primary, backup, nil)
	ctx := context.Background()

	require.NoError(t, fb.Put(ctx, "k", []byte("from-primary"), 0))

	value, _, err := fb.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-primary"), value)

	// The write was mirrored
	mirrored, _, err := backup.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-primary"), mirrored)
}

func TestFallbackNotFoundIsAnAnswer(t *testing.T) {
	primary := store.NewMemory()
	backup := store.NewMemory()
	fb := store.NewFallback(primary, backup, nil)
	ctx := context.Background()

	// Present only in the backup: a healthy primary's miss wins,
	// the chain must not resurrect stale fallback data.
	require.NoError(t, backup.Put(ctx, "k", []byte("stale"), 0))

	_, _, err := fb.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFallbackServesReadsWhenPrimaryDown(t *testing.T) {
	inner := store.NewMemory()
	primary := &flaky{inner: inner}
	backup := store.NewMemory()
	fb := store.NewFallback(primary, backup, nil)
	ctx := context.Background()

	require.NoError(t, fb.Put(ctx, "k", []byte("v1"), 0))

	primary.broken = true
	value, _, err := fb.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
}

func TestFallbackWritesWhenPrimaryDown(t *testing.T) {
	primary := &flaky{inner: store.NewMemory(), broken: true}
	backup := store.NewMemory()
	fb := store.NewFallback(primary, backup, nil)
	ctx := context.Background()

	require.NoError(t, fb.Put(ctx, "k", []byte("v1"), 0))

	value, _, err := backup.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
}

func TestFallbackPropagatesVersionConflict(t *testing.T) {
	primary := store.NewMemory()
	backup := store.NewMemory()
	fb := store.NewFallback(primary, backup, nil)
	ctx := context.Background()

	require.NoError(t, fb.Put(ctx, "k", []byte("v1"), 0))

	err := fb.Put(ctx, "k", []byte("v2"), 0)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}
