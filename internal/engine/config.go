package engine

import "time"

// Config carries the engine's tunables. Defaults mirror the platform's
// production parameters: 5% fee, 20% max early-bird bonus, 30s rounds with a
// 5s lock buffer, 30m battles locked 30s before the end, 30s odds-lock TTL.
type Config struct {
	FeeBps          int64 // platform fee in basis points
	EarlyBirdMaxBps int64 // max early-bird bonus in basis points
	// DrawThresholdBps widens the push band for rounds: price moves of at
	// most this many bps of the start price settle as a push. 0 means only
	// an exact tie pushes.
	DrawThresholdBps int64

	MinStake int64 // minor units; wagers below are rejected
	MaxStake int64 // minor units; 0 disables the cap

	RoundDuration    time.Duration
	RoundLockBuffer  time.Duration // betting closes this long before round end
	BattleDuration   time.Duration
	BattleLockBuffer time.Duration
	LockTTL          time.Duration // odds lock time-to-live
	// RetainTerminal is how long a settled or cancelled market stays
	// readable in memory before EvictTerminal may drop it.
	RetainTerminal time.Duration
}

// DefaultConfig returns the production parameter set.
func DefaultConfig() Config {
	return Config{
		FeeBps:           500,
		EarlyBirdMaxBps:  2000,
		DrawThresholdBps: 0,
		MinStake:         10_000_000,
		MaxStake:         100_000_000_000,
		RoundDuration:    30 * time.Second,
		RoundLockBuffer:  5 * time.Second,
		BattleDuration:   30 * time.Minute,
		BattleLockBuffer: 30 * time.Second,
		LockTTL:          30 * time.Second,
		RetainTerminal:   10 * time.Minute,
	}
}

// bettingDuration is the open window length for a market of the given kind.
func (c Config) bettingDuration(kind MarketKind) time.Duration {
	if kind == KindBattle {
		return c.BattleDuration - c.BattleLockBuffer
	}
	return c.RoundDuration - c.RoundLockBuffer
}

// Clock is the monotonic time source driving all deadlines. Injected so
// tests can steer the lock TTL and round windows deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
