package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"
)

// DecaySchedule computes the deterministic daily depletion amounts for a
// raffle instance. Each day's draw is seeded from the raffle id and the
// day index alone, so every replica and every restart reproduces the
// identical schedule without sharing state.
type DecaySchedule struct {
	RaffleID      string
	StartDate     time.Time
	DedicatedDays int
	MinStart      int
	MaxStart      int
	MinEnd        int
	MaxEnd        int
}

// DaySeed derives the 64-bit seed for day d from
// SHA-256("<raffle_id>:<d>"), big-endian over the first eight bytes.
func (s DecaySchedule) DaySeed(d int) int64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", s.RaffleID, d)))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// Bounds returns the inclusive draw range for day d. The range ramps
// linearly from [MinStart,MaxStart] on day 1 to [MinEnd,MaxEnd] on day
// DedicatedDays, then stays flat.
func (s DecaySchedule) Bounds(d int) (int, int) {
	if s.DedicatedDays <= 1 || d >= s.DedicatedDays {
		return s.MinEnd, s.MaxEnd
	}
	if d < 1 {
		d = 1
	}
	span := s.DedicatedDays - 1
	progress := d - 1
	lo := s.MinStart + (s.MinEnd-s.MinStart)*progress/span
	hi := s.MaxStart + (s.MaxEnd-s.MaxStart)*progress/span
	return lo, hi
}

// DailyDecay draws day d's depletion amount: a uniform integer in
// Bounds(d) from a generator seeded with DaySeed(d).
func (s DecaySchedule) DailyDecay(d int) int {
	lo, hi := s.Bounds(d)
	if hi <= lo {
		return lo
	}
	rng := rand.New(rand.NewSource(s.DaySeed(d)))
	return lo + rng.Intn(hi-lo+1)
}

// TotalDecay sums the daily draws for days 1..daysPassed.
func (s DecaySchedule) TotalDecay(daysPassed int) int {
	total := 0
	for d := 1; d <= daysPassed; d++ {
		total += s.DailyDecay(d)
	}
	return total
}

// DaysPassed counts whole UTC calendar days from StartDate to now,
// floored at zero. Date subtraction is civil, not elapsed-hours: a read
// one minute after midnight is a full day after a sale one minute
// before it.
func (s DecaySchedule) DaysPassed(now time.Time) int {
	start := civilDate(s.StartDate)
	today := civilDate(now)
	days := int(today.Sub(start).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func civilDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
