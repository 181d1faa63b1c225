package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// settleRound drives a round from creation through settlement: place places
// wagers against the fake clock, then the clock jumps past round end.
func settleRound(t *testing.T, e *Engine, clock *fakeClock, o Outcome, place func(id string)) (*SettlementResult, Snapshot) {
	t.Helper()
	snap, err := e.CreateRound("SOL/USD", o.StartValue)
	require.NoError(t, err)
	if place != nil {
		place(snap.ID)
	}
	clock.Advance(31 * time.Second)
	res, err := e.Settle(snap.ID, o)
	require.NoError(t, err)
	final, err := e.GetSnapshot(snap.ID)
	require.NoError(t, err)
	return res, final
}

func TestSettle_BeforeEndIsStateError(t *testing.T) {
	e, clock := newTestEngine()
	snap, _ := e.CreateRound("SOL/USD", 1000)
	clock.Advance(10 * time.Second)

	var serr *StateError
	_, err := e.Settle(snap.ID, Outcome{StartValue: 1000, EndValue: 1100})
	assert.ErrorAs(t, err, &serr)
}

func TestSettle_EarlyBirdWinnerPayout(t *testing.T) {
	e, clock := newTestEngine()

	var winner, loser Wager
	res, _ := settleRound(t, e, clock, Outcome{StartValue: 1000, EndValue: 1100}, func(id string) {
		winner, _ = e.PlaceWager(id, SideLong, 100) // placed at t=0: full 1.2x bonus
		loser, _ = e.PlaceWager(id, SideShort, 100)
	})

	assert.Equal(t, WinnerLong, res.Winner)
	// (100 + 100*0.95) * 1.2 = 234
	assert.Equal(t, int64(234), res.Payouts[winner.ID])
	assert.Equal(t, int64(0), res.Payouts[loser.ID])
}

func TestSettle_LoserGetsZero(t *testing.T) {
	e, clock := newTestEngine()

	var w Wager
	res, final := settleRound(t, e, clock, Outcome{StartValue: 1000, EndValue: 900}, func(id string) {
		w, _ = e.PlaceWager(id, SideLong, 100)
		_, _ = e.PlaceWager(id, SideShort, 100)
	})

	assert.Equal(t, WinnerShort, res.Winner)
	assert.Equal(t, int64(0), res.Payouts[w.ID])
	for _, fw := range final.Wagers {
		if fw.ID == w.ID {
			assert.Equal(t, WagerLost, fw.Status)
			require.NotNil(t, fw.Payout)
			assert.Equal(t, int64(0), *fw.Payout)
		}
	}
}

func TestSettle_OneSidedPoolRefunds(t *testing.T) {
	e, clock := newTestEngine()

	var w Wager
	res, _ := settleRound(t, e, clock, Outcome{StartValue: 1000, EndValue: 1100}, func(id string) {
		w, _ = e.PlaceWager(id, SideLong, 137)
	})

	// No opposing stake: winner gets the stake back exactly, no fee.
	assert.Equal(t, int64(137), res.Payouts[w.ID])
	assert.Equal(t, int64(0), res.FeeTaken)
}

func TestSettle_PushRefundsBothSides(t *testing.T) {
	e, clock := newTestEngine()

	var w1, w2 Wager
	res, final := settleRound(t, e, clock, Outcome{StartValue: 1000, EndValue: 1000}, func(id string) {
		w1, _ = e.PlaceWager(id, SideLong, 300)
		w2, _ = e.PlaceWager(id, SideShort, 800)
	})

	assert.Equal(t, WinnerPush, res.Winner)
	assert.Equal(t, int64(0), res.FeeTaken)
	assert.Equal(t, int64(300), res.Payouts[w1.ID])
	assert.Equal(t, int64(800), res.Payouts[w2.ID])
	for _, fw := range final.Wagers {
		assert.Equal(t, WagerRefunded, fw.Status)
	}
}

func TestSettle_DrawThresholdPushes(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.DrawThresholdBps = 10 // moves of <= 0.1% push
	e := New(cfg, clock)

	snap, _ := e.CreateRound("SOL/USD", 1_000_000)
	w, _ := e.PlaceWager(snap.ID, SideLong, 100)
	_, _ = e.PlaceWager(snap.ID, SideShort, 100)
	clock.Advance(31 * time.Second)

	// 0.09% move: inside the dead zone.
	res, err := e.Settle(snap.ID, Outcome{StartValue: 1_000_000, EndValue: 1_000_900})
	require.NoError(t, err)
	assert.Equal(t, WinnerPush, res.Winner)
	assert.Equal(t, int64(100), res.Payouts[w.ID])
}

func TestSettle_ProportionalSplit(t *testing.T) {
	e, clock := newTestEngine()

	var big, small Wager
	res, _ := settleRound(t, e, clock, Outcome{StartValue: 1000, EndValue: 1100}, func(id string) {
		// Same placement time: identical early-bird multipliers.
		big, _ = e.PlaceWager(id, SideLong, 100)
		small, _ = e.PlaceWager(id, SideLong, 50)
		_, _ = e.PlaceWager(id, SideShort, 150)
	})

	ratio := float64(res.Payouts[big.ID]) / float64(res.Payouts[small.ID])
	assert.InDelta(t, 2.0, ratio, 0.01,
		"two winners split the losing pool in proportion to their stakes")
}

func TestSettle_EarlierBeatsLaterByMultiplierRatio(t *testing.T) {
	e, clock := newTestEngine()
	snap, _ := e.CreateRound("SOL/USD", 1000)

	early, err := e.PlaceWager(snap.ID, SideLong, 100_000)
	require.NoError(t, err)
	clock.Advance(12500 * time.Millisecond) // halfway through the 25s window
	late, err := e.PlaceWager(snap.ID, SideLong, 100_000)
	require.NoError(t, err)
	_, err = e.PlaceWager(snap.ID, SideShort, 200_000)
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	res, err := e.Settle(snap.ID, Outcome{StartValue: 1000, EndValue: 1100})
	require.NoError(t, err)

	// Identical stakes and pool state: payouts differ exactly by the ratio
	// of early-bird multipliers (1.2 vs 1.1), modulo flooring.
	ratio := float64(res.Payouts[early.ID]) / float64(res.Payouts[late.ID])
	assert.InDelta(t, 1.2/1.1, ratio, 0.001)
}

func TestSettle_ConservationWithDust(t *testing.T) {
	e, clock := newTestEngine()

	res, final := settleRound(t, e, clock, Outcome{StartValue: 1000, EndValue: 1100}, func(id string) {
		// Awkward amounts to force floored divisions.
		_, _ = e.PlaceWager(id, SideLong, 97)
		_, _ = e.PlaceWager(id, SideLong, 31)
		_, _ = e.PlaceWager(id, SideLong, 7)
		_, _ = e.PlaceWager(id, SideShort, 113)
	})

	losingPool := final.ShortPool
	winningPool := final.LongPool
	distributable := losingPool * (10000 - 500) / 10000

	// Conservation before the platform-funded bonus: base payouts never
	// exceed the fee-reduced losing pool plus the winning pool.
	var sumPayouts int64
	for _, p := range res.Payouts {
		sumPayouts += p
	}
	basePaid := sumPayouts - res.BonusSubsidy
	assert.LessOrEqual(t, basePaid, distributable+winningPool)

	// Dust is retained, not lost: fee accounts for every minor unit the
	// pools held but did not pay.
	assert.Equal(t, losingPool+winningPool, basePaid+res.FeeTaken)
	assert.GreaterOrEqual(t, res.FeeTaken, losingPool-distributable,
		"fee pool absorbs the rounding residue on top of the configured fee")
}

func TestSettle_IdempotentSameOutcome(t *testing.T) {
	e, clock := newTestEngine()

	outcome := Outcome{StartValue: 1000, EndValue: 1100}
	res, _ := settleRound(t, e, clock, outcome, func(id string) {
		_, _ = e.PlaceWager(id, SideLong, 100)
		_, _ = e.PlaceWager(id, SideShort, 100)
	})

	again, err := e.Settle(res.ParentID, outcome)
	require.NoError(t, err)
	assert.Same(t, res, again, "re-settlement returns the cached result, never a recomputation")
}

func TestSettle_ConflictingOutcomeRejected(t *testing.T) {
	e, clock := newTestEngine()

	outcome := Outcome{StartValue: 1000, EndValue: 1100}
	res, _ := settleRound(t, e, clock, outcome, func(id string) {
		_, _ = e.PlaceWager(id, SideLong, 100)
		_, _ = e.PlaceWager(id, SideShort, 100)
	})

	var cerr *ConflictingOutcomeError
	_, err := e.Settle(res.ParentID, Outcome{StartValue: 1000, EndValue: 900})
	require.ErrorAs(t, err, &cerr)

	// First result untouched.
	cached, ok := e.Result(res.ParentID)
	require.True(t, ok)
	assert.Same(t, res, cached)
	assert.Equal(t, WinnerLong, cached.Winner)
}

func TestSettle_BattleUsesLockedOdds(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	e := New(cfg, clock)

	snap, _ := e.CreateBattle("degen-a", "degen-b")

	lock, err := e.ReserveLock(snap.ID, SideLong, 1000)
	require.NoError(t, err)
	w, err := e.ConfirmLock(lock.ID)
	require.NoError(t, err)
	opp, err := e.PlaceWager(snap.ID, SideShort, 1000)
	require.NoError(t, err)

	clock.Advance(cfg.BattleDuration + time.Second)
	// Competitor A finishes ahead.
	res, err := e.Settle(snap.ID, Outcome{StartValue: 2500, EndValue: -500})
	require.NoError(t, err)

	assert.Equal(t, WinnerLong, res.Winner)
	want := 1000 * lock.LockedOddsBps / 10000
	assert.Equal(t, want, res.Payouts[w.ID], "locked odds are the odds paid, full stop")
	assert.Equal(t, int64(0), res.Payouts[opp.ID])
}

func TestSettle_BattleTiePushes(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	e := New(cfg, clock)

	snap, _ := e.CreateBattle("degen-a", "degen-b")
	w, _ := e.PlaceWager(snap.ID, SideLong, 400)

	clock.Advance(cfg.BattleDuration + time.Second)
	res, err := e.Settle(snap.ID, Outcome{StartValue: 1200, EndValue: 1200})
	require.NoError(t, err)

	assert.Equal(t, WinnerPush, res.Winner)
	assert.Equal(t, int64(400), res.Payouts[w.ID])
	assert.Equal(t, int64(0), res.FeeTaken)
}

func TestSettle_CancelledMarketIsStateError(t *testing.T) {
	e, clock := newTestEngine()
	snap, _ := e.CreateRound("SOL/USD", 1000)
	_, _ = e.PlaceWager(snap.ID, SideLong, 100)

	_, err := e.Cancel(snap.ID)
	require.NoError(t, err)

	clock.Advance(31 * time.Second)

	// An outcome for a cancelled market is a state problem, not a clash
	// with some earlier settlement.
	var serr *StateError
	_, err = e.Settle(snap.ID, Outcome{StartValue: 1000, EndValue: 1100})
	require.ErrorAs(t, err, &serr)
	var cerr *ConflictingOutcomeError
	assert.False(t, errors.As(err, &cerr))
}

func TestCancelSnapshot_RefundsPersistedLedger(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := Snapshot{
		ID:        "m1",
		Kind:      KindBattle,
		Status:    StatusCancelled,
		LongPool:  300,
		ShortPool: 700,
		Wagers: []Wager{
			{ID: "w1", Side: SideLong, Amount: 300},
			{ID: "w2", Side: SideShort, Amount: 700},
		},
	}

	res, err := CancelSnapshot(snap, now)
	require.NoError(t, err)
	assert.Equal(t, WinnerPush, res.Winner)
	assert.Equal(t, int64(0), res.FeeTaken)
	assert.Equal(t, int64(0), res.BonusSubsidy)
	assert.Equal(t, int64(300), res.Payouts["w1"])
	assert.Equal(t, int64(700), res.Payouts["w2"])

	// Only a cancelled market gets the refund treatment.
	snap.Status = StatusBetting
	var serr *StateError
	_, err = CancelSnapshot(snap, now)
	assert.ErrorAs(t, err, &serr)
}

func TestSettle_TotalsAccumulate(t *testing.T) {
	e, clock := newTestEngine()

	settleRound(t, e, clock, Outcome{StartValue: 1000, EndValue: 1100}, func(id string) {
		_, _ = e.PlaceWager(id, SideLong, 100)
		_, _ = e.PlaceWager(id, SideShort, 100)
	})

	volume, fees := e.Totals()
	assert.Equal(t, int64(200), volume)
	assert.Greater(t, fees, int64(0))
}
