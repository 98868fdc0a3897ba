package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"raffle-service/internal/ledger/store"
	"raffle-service/internal/logger"
)

const casAttempts = 5

// LedgerState is the persisted availability record, one per raffle.
type LedgerState struct {
	Remaining     int    `json:"remaining"`
	Initialized   bool   `json:"initialized"`
	LastDecayDate string `json:"last_decay_date"` // "2006-01-02", UTC
}

// SalesLedger is the monotonically increasing sold counter, persisted
// independently of LedgerState.
type SalesLedger struct {
	TotalSold int `json:"total_sold"`
}

// Snapshot is the read view returned by GetState.
type Snapshot struct {
	Remaining     int    `json:"remaining"`
	TotalSold     int    `json:"total_sold"`
	LastDecayDate string `json:"last_decay_date"`
	CacheHit      bool   `json:"-"`
}

// SaleResult is returned by RecordSale.
type SaleResult struct {
	Remaining int `json:"remaining"`
	TotalSold int `json:"total_sold"`
}

// Ledger is the ticket availability ledger. It owns the remaining-ticket
// counter, applies the deterministic daily decay pass at most once per
// UTC date, and records sales atomically against the versioned store so
// concurrent writers can never oversell.
type Ledger struct {
	Store          store.Store
	Schedule       DecaySchedule
	InitialTickets int
	Logger         *logger.Logger
	CacheTTL       time.Duration

	// Now is the clock source; tests replace it.
	Now func() time.Time

	mu       sync.Mutex
	cached   *Snapshot
	cachedAt time.Time
}

func New(st store.Store, schedule DecaySchedule, initialTickets int, log *logger.Logger, cacheTTL time.Duration) *Ledger {
	return &Ledger{
		Store:          st,
		Schedule:       schedule,
		InitialTickets: initialTickets,
		Logger:         log,
		CacheTTL:       cacheTTL,
		Now:            time.Now,
	}
}

func (l *Ledger) ledgerKey() string {
	return fmt.Sprintf("raffle:%s:ledger", l.Schedule.RaffleID)
}

func (l *Ledger) salesKey() string {
	return fmt.Sprintf("raffle:%s:sales", l.Schedule.RaffleID)
}

// GetState applies the decay pass for the current UTC date if it has not
// run yet, then returns the snapshot. Reads within CacheTTL of the last
// snapshot are served from the in-process cache; any write invalidates it.
func (l *Ledger) GetState(ctx context.Context) (Snapshot, error) {
	now := l.Now()

	l.mu.Lock()
	if l.cached != nil && now.Sub(l.cachedAt) < l.CacheTTL {
		snap := *l.cached
		snap.CacheHit = true
		l.mu.Unlock()
		return snap, nil
	}
	l.mu.Unlock()

	var snap Snapshot
	err := l.withRetry(ctx, func() error {
		state, version, err := l.loadState(ctx)
		if err != nil {
			return err
		}
		sales, _, err := l.loadSales(ctx)
		if err != nil {
			return err
		}

		today := civilDate(now).Format("2006-01-02")
		if !state.Initialized || state.LastDecayDate != today {
			state = l.decayedState(now, sales.TotalSold)
			if err := l.Store.Put(ctx, l.ledgerKey(), mustJSON(state), version); err != nil {
				return err
			}
		}

		snap = Snapshot{
			Remaining:     state.Remaining,
			TotalSold:     sales.TotalSold,
			LastDecayDate: state.LastDecayDate,
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	l.mu.Lock()
	cached := snap
	l.cached = &cached
	l.cachedAt = now
	l.mu.Unlock()

	return snap, nil
}

// RecordSale atomically moves quantity tickets from remaining to sold.
// The decay pass for today runs inside the same compare-and-swap
// attempt, which both initializes fresh state and locks the date so a
// later pass cannot contradict the sale.
func (l *Ledger) RecordSale(ctx context.Context, quantity int) (SaleResult, error) {
	if quantity <= 0 {
		return SaleResult{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidInput, quantity)
	}

	now := l.Now()
	var result SaleResult
	err := l.withRetry(ctx, func() error {
		state, version, err := l.loadState(ctx)
		if err != nil {
			return err
		}
		sales, salesVersion, err := l.loadSales(ctx)
		if err != nil {
			return err
		}

		today := civilDate(now).Format("2006-01-02")
		if !state.Initialized || state.LastDecayDate != today {
			state = l.decayedState(now, sales.TotalSold)
		}

		if quantity > state.Remaining {
			return fmt.Errorf("%w: requested %d, remaining %d", ErrInsufficientInventory, quantity, state.Remaining)
		}

		// Remaining shrinks before total_sold grows; if the second
		// write never lands, remaining <= InitialTickets - total_sold
		// still holds.
		state.Remaining -= quantity
		if err := l.Store.Put(ctx, l.ledgerKey(), mustJSON(state), version); err != nil {
			return err
		}

		// The decrement has landed. The counter increment retries on
		// its own; replaying the whole attempt here would decrement
		// remaining a second time.
		total, err := l.addSold(ctx, sales, salesVersion, quantity)
		if err != nil {
			return terminal(err)
		}

		result = SaleResult{Remaining: state.Remaining, TotalSold: total}
		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}

	l.invalidate()
	if l.Logger != nil {
		l.Logger.LogSale("RECORDED", quantity, fmt.Sprintf("remaining=%d total_sold=%d", result.Remaining, result.TotalSold))
	}
	return result, nil
}

// Resync is the administrative override. The stored remaining is clamped
// to the sold-adjusted ceiling, so an external caller can never push
// availability above InitialTickets - total_sold. The current date is
// marked decayed so the next pass does not immediately rewrite the value.
func (l *Ledger) Resync(ctx context.Context, remaining int) (int, error) {
	if remaining < 0 {
		return 0, fmt.Errorf("%w: remaining must be non-negative, got %d", ErrInvalidInput, remaining)
	}

	now := l.Now()
	var stored int
	err := l.withRetry(ctx, func() error {
		_, version, err := l.loadState(ctx)
		if err != nil {
			return err
		}
		sales, _, err := l.loadSales(ctx)
		if err != nil {
			return err
		}

		ceiling := l.InitialTickets - sales.TotalSold
		if ceiling < 0 {
			ceiling = 0
		}
		clamped := remaining
		if clamped > ceiling {
			clamped = ceiling
		}

		state := LedgerState{
			Remaining:     clamped,
			Initialized:   true,
			LastDecayDate: civilDate(now).Format("2006-01-02"),
		}
		if err := l.Store.Put(ctx, l.ledgerKey(), mustJSON(state), version); err != nil {
			return err
		}
		stored = clamped
		return nil
	})
	if err != nil {
		return 0, err
	}

	l.invalidate()
	if l.Logger != nil {
		l.Logger.Info("LEDGER", fmt.Sprintf("resync applied, remaining=%d", stored))
	}
	return stored, nil
}

// TotalSold reads the sales ledger counter alone.
func (l *Ledger) TotalSold(ctx context.Context) (int, error) {
	var total int
	err := l.withRetry(ctx, func() error {
		sales, _, err := l.loadSales(ctx)
		if err != nil {
			return err
		}
		total = sales.TotalSold
		return nil
	})
	return total, err
}

// decayedState recomputes the authoritative remaining count from the
// schedule and the sold total, marking today as decayed.
func (l *Ledger) decayedState(now time.Time, totalSold int) LedgerState {
	daysPassed := l.Schedule.DaysPassed(now)
	totalDecay := l.Schedule.TotalDecay(daysPassed)

	remaining := l.InitialTickets - totalDecay - totalSold
	if remaining < 0 {
		remaining = 0
	}
	return LedgerState{
		Remaining:     remaining,
		Initialized:   true,
		LastDecayDate: civilDate(now).Format("2006-01-02"),
	}
}

// loadState reads LedgerState. A missing or unreadable record comes back
// uninitialized; the next decay pass reseeds it from InitialTickets
// rather than failing the request.
func (l *Ledger) loadState(ctx context.Context) (LedgerState, int64, error) {
	raw, version, err := l.Store.Get(ctx, l.ledgerKey())
	if errors.Is(err, store.ErrNotFound) {
		return LedgerState{}, version, nil
	}
	if err != nil {
		return LedgerState{}, 0, err
	}

	var state LedgerState
	if err := json.Unmarshal(raw, &state); err != nil {
		if l.Logger != nil {
			l.Logger.Warn("LEDGER", fmt.Sprintf("malformed ledger state, reseeding: %v", err))
		}
		return LedgerState{}, version, nil
	}
	return state, version, nil
}

func (l *Ledger) loadSales(ctx context.Context) (SalesLedger, int64, error) {
	raw, version, err := l.Store.Get(ctx, l.salesKey())
	if errors.Is(err, store.ErrNotFound) {
		return SalesLedger{}, version, nil
	}
	if err != nil {
		return SalesLedger{}, 0, err
	}

	var sales SalesLedger
	if err := json.Unmarshal(raw, &sales); err != nil {
		if l.Logger != nil {
			l.Logger.Warn("LEDGER", fmt.Sprintf("malformed sales ledger, resetting counter view: %v", err))
		}
		return SalesLedger{}, version, nil
	}
	return sales, version, nil
}

// addSold bumps the sales counter by quantity with its own bounded CAS
// loop, starting from an already-loaded view of the ledger.
func (l *Ledger) addSold(ctx context.Context, sales SalesLedger, version int64, quantity int) (int, error) {
	for attempt := 0; ; attempt++ {
		next := SalesLedger{TotalSold: sales.TotalSold + quantity}
		err := l.Store.Put(ctx, l.salesKey(), mustJSON(next), version)
		if err == nil {
			return next.TotalSold, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) || attempt >= 2*casAttempts {
			return 0, err
		}
		sales, version, err = l.loadSales(ctx)
		if err != nil {
			return 0, err
		}
	}
}

// withRetry runs fn up to casAttempts times, retrying version conflicts
// and store errors with a small jittered backoff. Domain rejections
// (invalid input, insufficient inventory) pass straight through.
func (l *Ledger) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInsufficientInventory) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(10+rand.Intn(40)) * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, lastErr)
}

func (l *Ledger) invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}

// terminal marks an error as non-retryable for withRetry.
func terminal(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func mustJSON(v interface{}) []byte {
	raw, _ := json.Marshal(v)
	return raw
}
