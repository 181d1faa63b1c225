package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests steer round windows and lock TTLs deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinStake = 1
	cfg.MaxStake = 0
	return cfg
}

func newTestEngine() (*Engine, *fakeClock) {
	clock := newFakeClock()
	return New(testConfig(), clock), clock
}

func TestPlaceWager_WithinWindow(t *testing.T) {
	e, _ := newTestEngine()
	snap, err := e.CreateRound("SOL/USD", 150_00000000)
	require.NoError(t, err)

	w, err := e.PlaceWager(snap.ID, SideLong, 100)
	require.NoError(t, err)
	assert.Equal(t, WagerPending, w.Status)

	got, err := e.GetSnapshot(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.LongPool)
	assert.Equal(t, int64(0), got.ShortPool)
	assert.Len(t, got.Wagers, 1)
}

func TestPlaceWager_Validation(t *testing.T) {
	e, _ := newTestEngine()
	snap, _ := e.CreateRound("SOL/USD", 1000)

	var verr *ValidationError
	_, err := e.PlaceWager(snap.ID, SideLong, 0)
	assert.ErrorAs(t, err, &verr)

	_, err = e.PlaceWager(snap.ID, SideLong, -5)
	assert.ErrorAs(t, err, &verr)

	_, err = e.PlaceWager(snap.ID, "SIDEWAYS", 100)
	assert.ErrorAs(t, err, &verr)

	_, err = e.PlaceWager("nope", SideLong, 100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlaceWager_StakeBounds(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MinStake = 100
	cfg.MaxStake = 1000
	e := New(cfg, clock)
	snap, _ := e.CreateRound("SOL/USD", 1000)

	var verr *ValidationError
	_, err := e.PlaceWager(snap.ID, SideLong, 99)
	assert.ErrorAs(t, err, &verr)
	_, err = e.PlaceWager(snap.ID, SideLong, 1001)
	assert.ErrorAs(t, err, &verr)
	_, err = e.PlaceWager(snap.ID, SideLong, 100)
	assert.NoError(t, err)
}

func TestPlaceWager_RejectedAfterLockTime(t *testing.T) {
	e, clock := newTestEngine()
	snap, _ := e.CreateRound("SOL/USD", 1000)

	clock.Advance(26 * time.Second) // past the 25s betting window

	var serr *StateError
	_, err := e.PlaceWager(snap.ID, SideLong, 100)
	require.ErrorAs(t, err, &serr)

	got, _ := e.GetSnapshot(snap.ID)
	assert.Equal(t, StatusLocked, got.Status)
}

func TestQuoteOdds_TracksPools(t *testing.T) {
	e, _ := newTestEngine()
	snap, _ := e.CreateRound("SOL/USD", 1000)

	q, err := e.QuoteOdds(snap.ID, SideLong)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), q.OddsBps, "empty market quotes even money")

	_, err = e.PlaceWager(snap.ID, SideLong, 200)
	require.NoError(t, err)
	_, err = e.PlaceWager(snap.ID, SideShort, 50)
	require.NoError(t, err)

	q, err = e.QuoteOdds(snap.ID, SideLong)
	require.NoError(t, err)
	assert.Equal(t, int64(12375), q.OddsBps)

	q, err = e.QuoteOdds(snap.ID, SideShort)
	require.NoError(t, err)
	assert.Equal(t, int64(48000), q.OddsBps)
}

func TestReserveLock_RoundRejected(t *testing.T) {
	e, _ := newTestEngine()
	snap, _ := e.CreateRound("SOL/USD", 1000)

	var serr *StateError
	_, err := e.ReserveLock(snap.ID, SideLong, 100)
	assert.ErrorAs(t, err, &serr)
}

func TestConfirmLock_UsesLockedOdds(t *testing.T) {
	e, _ := newTestEngine()
	snap, _ := e.CreateBattle("degen-a", "degen-b")

	lock, err := e.ReserveLock(snap.ID, SideLong, 500)
	require.NoError(t, err)
	quoted := lock.LockedOddsBps

	// Pools shift between look and act; the lock keeps the quote binding.
	_, err = e.PlaceWager(snap.ID, SideLong, 10_000)
	require.NoError(t, err)

	w, err := e.ConfirmLock(lock.ID)
	require.NoError(t, err)
	assert.Equal(t, quoted, w.LockedOddsBps)
	assert.Equal(t, int64(500), w.Amount)
}

func TestConfirmLock_ExpiredAlwaysFails(t *testing.T) {
	e, clock := newTestEngine()
	snap, _ := e.CreateBattle("degen-a", "degen-b")

	lock, err := e.ReserveLock(snap.ID, SideShort, 500)
	require.NoError(t, err)

	clock.Advance(31 * time.Second)

	var lerr *LockExpiredError
	_, err = e.ConfirmLock(lock.ID)
	require.ErrorAs(t, err, &lerr)

	// Still expired on retry.
	_, err = e.ConfirmLock(lock.ID)
	assert.ErrorAs(t, err, &lerr)
}

func TestConfirmLock_SingleUse(t *testing.T) {
	e, clock := newTestEngine()
	snap, _ := e.CreateBattle("degen-a", "degen-b")

	lock, err := e.ReserveLock(snap.ID, SideLong, 500)
	require.NoError(t, err)

	_, err = e.ConfirmLock(lock.ID)
	require.NoError(t, err)

	var verr *ValidationError
	_, err = e.ConfirmLock(lock.ID)
	assert.ErrorAs(t, err, &verr, "replaying a consumed lock id is rejected")

	// The confirmed lock left the table; nothing lingers for the sweep.
	clock.Advance(31 * time.Second)
	assert.Zero(t, e.SweepExpiredLocks())
}

func TestSweepExpiredLocks(t *testing.T) {
	e, clock := newTestEngine()
	snap, _ := e.CreateBattle("degen-a", "degen-b")

	l1, _ := e.ReserveLock(snap.ID, SideLong, 500)
	clock.Advance(20 * time.Second)
	_, _ = e.ReserveLock(snap.ID, SideShort, 500)

	clock.Advance(15 * time.Second) // l1 (35s) expired, l2 (15s) alive
	assert.Equal(t, 1, e.SweepExpiredLocks())

	var verr *ValidationError
	_, err := e.ConfirmLock(l1.ID)
	assert.ErrorAs(t, err, &verr, "swept lock is gone, not merely expired")
}

func TestBattleQuote_MovesWithPerformance(t *testing.T) {
	e, _ := newTestEngine()
	snap, _ := e.CreateBattle("degen-a", "degen-b")
	_, _ = e.PlaceWager(snap.ID, SideLong, 1000)
	_, _ = e.PlaceWager(snap.ID, SideShort, 1000)

	level, err := e.QuoteOdds(snap.ID, SideLong)
	require.NoError(t, err)

	require.NoError(t, e.UpdatePerformance(snap.ID, 2000, -1000))

	leading, err := e.QuoteOdds(snap.ID, SideLong)
	require.NoError(t, err)
	trailing, err := e.QuoteOdds(snap.ID, SideShort)
	require.NoError(t, err)

	assert.Less(t, leading.OddsBps, level.OddsBps)
	assert.Greater(t, trailing.OddsBps, level.OddsBps)
	assert.GreaterOrEqual(t, leading.OddsBps, int64(11000))
	assert.LessOrEqual(t, trailing.OddsBps, int64(50000))
}

func TestPaused_RejectsWrites(t *testing.T) {
	e, _ := newTestEngine()
	snap, _ := e.CreateRound("SOL/USD", 1000)

	e.SetPaused(true)
	_, err := e.PlaceWager(snap.ID, SideLong, 100)
	assert.ErrorIs(t, err, ErrPaused)
	_, err = e.CreateRound("SOL/USD", 1000)
	assert.ErrorIs(t, err, ErrPaused)

	e.SetPaused(false)
	_, err = e.PlaceWager(snap.ID, SideLong, 100)
	assert.NoError(t, err)
}

func TestCancel_RefundsEverything(t *testing.T) {
	e, _ := newTestEngine()
	snap, _ := e.CreateRound("SOL/USD", 1000)
	w1, _ := e.PlaceWager(snap.ID, SideLong, 300)
	w2, _ := e.PlaceWager(snap.ID, SideShort, 700)

	res, err := e.Cancel(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.FeeTaken)
	assert.Equal(t, int64(300), res.Payouts[w1.ID])
	assert.Equal(t, int64(700), res.Payouts[w2.ID])

	got, _ := e.GetSnapshot(snap.ID)
	assert.Equal(t, StatusCancelled, got.Status)

	// Terminal: no more wagers, no re-cancel.
	var serr *StateError
	_, err = e.PlaceWager(snap.ID, SideLong, 100)
	assert.ErrorAs(t, err, &serr)
	_, err = e.Cancel(snap.ID)
	assert.ErrorAs(t, err, &serr)
}

func TestEvictTerminal_DropsRetiredMarkets(t *testing.T) {
	e, clock := newTestEngine()
	settled, _ := e.CreateRound("SOL/USD", 1000)
	clock.Advance(31 * time.Second)
	_, err := e.Settle(settled.ID, Outcome{StartValue: 1000, EndValue: 1100})
	require.NoError(t, err)
	live, _ := e.CreateRound("BTC/USD", 1000)

	// Inside the retention window everything stays readable.
	assert.Zero(t, e.EvictTerminal())
	_, err = e.GetSnapshot(settled.ID)
	assert.NoError(t, err)

	clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, e.EvictTerminal())

	_, err = e.GetSnapshot(settled.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.GetSnapshot(live.ID)
	assert.NoError(t, err, "non-terminal markets survive eviction")
}

func TestEvictTerminal_DropsOrphanedLocks(t *testing.T) {
	e, clock := newTestEngine()
	snap, _ := e.CreateBattle("degen-a", "degen-b")
	lock, err := e.ReserveLock(snap.ID, SideLong, 500)
	require.NoError(t, err)

	_, err = e.Cancel(snap.ID)
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)
	require.Equal(t, 1, e.EvictTerminal())

	var verr *ValidationError
	_, err = e.ConfirmLock(lock.ID)
	assert.ErrorAs(t, err, &verr, "the evicted market's lock index entry is gone")
}

func TestMarkets_DoNotBlockEachOther(t *testing.T) {
	e, _ := newTestEngine()
	a, _ := e.CreateRound("SOL/USD", 1000)
	b, _ := e.CreateRound("BTC/USD", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.PlaceWager(a.ID, SideLong, 10)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.PlaceWager(b.ID, SideShort, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sa, _ := e.GetSnapshot(a.ID)
	sb, _ := e.GetSnapshot(b.ID)
	assert.Equal(t, int64(500), sa.LongPool)
	assert.Equal(t, int64(500), sb.ShortPool)
}

func TestConcurrentWagers_PoolsStayDerived(t *testing.T) {
	e, _ := newTestEngine()
	snap, _ := e.CreateRound("SOL/USD", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		side := SideLong
		if i%2 == 1 {
			side = SideShort
		}
		go func(s Side) {
			defer wg.Done()
			_, err := e.PlaceWager(snap.ID, s, 7)
			assert.NoError(t, err)
		}(side)
	}
	wg.Wait()

	got, _ := e.GetSnapshot(snap.ID)
	var sum int64
	for _, w := range got.Wagers {
		sum += w.Amount
	}
	assert.Equal(t, sum, got.LongPool+got.ShortPool,
		"pool totals must equal the sum of recorded wagers")
}

func TestAdvanceAll_ReportsDueMarkets(t *testing.T) {
	e, clock := newTestEngine()
	r, _ := e.CreateRound("SOL/USD", 1000)

	assert.Empty(t, e.AdvanceAll())

	clock.Advance(31 * time.Second)
	due := e.AdvanceAll()
	require.Len(t, due, 1)
	assert.Equal(t, r.ID, due[0].ID)
	assert.Equal(t, StatusLocked, due[0].Status)

	// Settled markets drop out of the due list.
	_, err := e.Settle(r.ID, Outcome{StartValue: 1000, EndValue: 1100})
	require.NoError(t, err)
	assert.Empty(t, e.AdvanceAll())
}
