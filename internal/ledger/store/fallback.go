package store

import (
	"context"
	"errors"
	"fmt"

	"raffle-service/internal/logger"
)

// Fallback composes a primary and a fallback Store behind the single
// Store interface, so the ledger never learns about the chain. Reads
// prefer the primary and fall through only on infrastructure errors
// (ErrNotFound is an answer, not a failure). Writes go through the
// primary's compare-and-swap and are mirrored to the fallback on a
// best-effort basis; when the primary is unreachable the fallback
// becomes the authoritative CAS target until it recovers.
type Fallback struct {
	Primary Store
	Backup  Store
	Logger  *logger.Logger
}

func NewFallback(primary, backup Store, log *logger.Logger) *Fallback {
	return &Fallback{Primary: primary, Backup: backup, Logger: log}
}

func (f *Fallback) Get(ctx context.Context, key string) ([]byte, int64, error) {
	value, version, err := f.Primary.Get(ctx, key)
	if err == nil || errors.Is(err, ErrNotFound) {
		return value, version, err
	}

	if f.Logger != nil {
		f.Logger.Warn("STORE", fmt.Sprintf("primary get failed for %s, using fallback: %v", key, err))
	}
	return f.Backup.Get(ctx, key)
}

func (f *Fallback) Put(ctx context.Context, key string, value []byte, expectedVersion int64) error {
	err := f.Primary.Put(ctx, key, value, expectedVersion)
	if err == nil {
		f.mirror(ctx, key, value)
		return nil
	}
	if errors.Is(err, ErrVersionConflict) {
		return err
	}

	if f.Logger != nil {
		f.Logger.Warn("STORE", fmt.Sprintf("primary put failed for %s, using fallback: %v", key, err))
	}
	return f.Backup.Put(ctx, key, value, expectedVersion)
}

// mirror keeps the fallback copy roughly current. Mirror conflicts and
// errors are not surfaced; the authoritative version lives wherever the
// CAS last succeeded.
func (f *Fallback) mirror(ctx context.Context, key string, value []byte) {
	_, version, err := f.Backup.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return
	}
	if err := f.Backup.Put(ctx, key, value, version); err != nil && f.Logger != nil {
		f.Logger.Debug("STORE", fmt.Sprintf("fallback mirror for %s skipped: %v", key, err))
	}
}
