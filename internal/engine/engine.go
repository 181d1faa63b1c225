package engine

import (
	"sync"

	"github.com/google/uuid"
)

// Engine is the pari-mutuel wagering and settlement core. It owns one
// aggregate per market id; every mutation of a market happens under that
// market's own lock, so unrelated markets never block each other and a
// quote that backs an imminent wager is read at the same serialization
// point as the write.
//
// The engine computes obligations only. Moving funds is the custodial
// ledger's job, driven by the settlement output downstream.
type Engine struct {
	cfg   Config
	clock Clock

	mu        sync.RWMutex
	markets   map[string]*marketState
	lockIndex map[string]string // odds lock id -> market id

	paused bool

	statsMu     sync.Mutex
	totalVolume int64
	totalFees   int64
}

// marketState pairs a market with its odds locks and cached settlement.
type marketState struct {
	mu     sync.Mutex
	market *Market
	locks  map[string]*OddsLock
	result *SettlementResult
}

// New builds an engine with the given tunables and time source.
func New(cfg Config, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		cfg:       cfg,
		clock:     clock,
		markets:   make(map[string]*marketState),
		lockIndex: make(map[string]string),
	}
}

// SetPaused flips the emergency pause. Paused engines reject new wagers,
// locks and lifecycle advancement; settlement of already-ended markets
// still runs so nobody's winnings are stranded.
func (e *Engine) SetPaused(p bool) {
	e.mu.Lock()
	e.paused = p
	e.mu.Unlock()
}

// Paused reports the pause flag.
func (e *Engine) Paused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused
}

// Totals returns lifetime settled volume and fees taken (dust included).
func (e *Engine) Totals() (volume, fees int64) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.totalVolume, e.totalFees
}

// CreateRound opens a price-direction round on the asset at startPrice.
// The betting window runs from now until RoundDuration-RoundLockBuffer.
func (e *Engine) CreateRound(asset string, startPrice int64) (Snapshot, error) {
	if asset == "" {
		return Snapshot{}, validationf("asset required")
	}
	if startPrice <= 0 {
		return Snapshot{}, validationf("start price must be positive, got %d", startPrice)
	}
	now := e.clock.Now()
	m := &Market{
		ID:         uuid.NewString(),
		Kind:       KindRound,
		Asset:      asset,
		StartPrice: startPrice,
		Status:     StatusBetting,
		StartTime:  now,
		LockTime:   now.Add(e.cfg.RoundDuration - e.cfg.RoundLockBuffer),
		EndTime:    now.Add(e.cfg.RoundDuration),
	}
	return e.register(m)
}

// CreateBattle opens a head-to-head battle between two competitors.
// Spectator betting locks BattleLockBuffer before the battle ends.
func (e *Engine) CreateBattle(competitorA, competitorB string) (Snapshot, error) {
	if competitorA == "" || competitorB == "" {
		return Snapshot{}, validationf("both competitors required")
	}
	now := e.clock.Now()
	m := &Market{
		ID:          uuid.NewString(),
		Kind:        KindBattle,
		CompetitorA: competitorA,
		CompetitorB: competitorB,
		Status:      StatusBetting,
		StartTime:   now,
		LockTime:    now.Add(e.cfg.BattleDuration - e.cfg.BattleLockBuffer),
		EndTime:     now.Add(e.cfg.BattleDuration),
	}
	return e.register(m)
}

func (e *Engine) register(m *Market) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return Snapshot{}, ErrPaused
	}
	e.markets[m.ID] = &marketState{market: m, locks: make(map[string]*OddsLock)}
	return snapshotOf(m), nil
}

func (e *Engine) state(parentID string) (*marketState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ms, ok := e.markets[parentID]
	if !ok {
		return nil, ErrNotFound
	}
	return ms, nil
}

// PlaceWager validates and records a wager at the market's serialization
// point. For battles the current differential quote is bound to the wager
// exactly as an immediately-confirmed odds lock would be.
func (e *Engine) PlaceWager(parentID string, side Side, amount int64) (Wager, error) {
	if e.Paused() {
		return Wager{}, ErrPaused
	}
	ms, err := e.state(parentID)
	if err != nil {
		return Wager{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	m := ms.market
	now := e.clock.Now()
	m.advance(now)
	if err := m.canAcceptWager(now); err != nil {
		return Wager{}, err
	}

	var lockedOdds int64
	if m.Kind == KindBattle {
		if lockedOdds, err = e.quoteLocked(m, side); err != nil {
			return Wager{}, err
		}
	}
	w, err := m.Ledger.recordWager(m.ID, side, amount, lockedOdds, now, e.cfg)
	if err != nil {
		return Wager{}, err
	}
	return *w, nil
}

// QuoteOdds returns the current multiplier for a side. The quote is
// computed against a consistent snapshot but is display-grade: only a
// wager or an odds lock binds it.
func (e *Engine) QuoteOdds(parentID string, side Side) (Quote, error) {
	if !side.Valid() {
		return Quote{}, validationf("unknown side %q", side)
	}
	ms, err := e.state(parentID)
	if err != nil {
		return Quote{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	odds, err := e.quoteLocked(ms.market, side)
	if err != nil {
		return Quote{}, err
	}
	return Quote{ParentID: parentID, Side: side, OddsBps: odds, AsOf: e.clock.Now()}, nil
}

// quoteLocked computes the strategy-appropriate quote. Caller holds ms.mu.
func (e *Engine) quoteLocked(m *Market, side Side) (int64, error) {
	my, other := m.Ledger.pool(side), m.Ledger.pool(side.Opposite())
	if m.Kind == KindBattle {
		myPerf, otherPerf := m.PerfA, m.PerfB
		if side == SideShort {
			myPerf, otherPerf = otherPerf, myPerf
		}
		return DifferentialOddsBps(my, other, myPerf, otherPerf, e.cfg.FeeBps)
	}
	return BaseOddsBps(my, other, e.cfg.FeeBps)
}

// ReserveLock freezes the current differential quote for a would-be battle
// wager, for LockTTL. Rounds have no lock: their time-fairness lives in the
// settlement-side early-bird multiplier instead.
func (e *Engine) ReserveLock(parentID string, side Side, amount int64) (OddsLock, error) {
	if e.Paused() {
		return OddsLock{}, ErrPaused
	}
	ms, err := e.state(parentID)
	if err != nil {
		return OddsLock{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	m := ms.market
	if m.Kind != KindBattle {
		return OddsLock{}, &StateError{Status: m.Status, Reason: "odds locks apply to battles only"}
	}
	now := e.clock.Now()
	m.advance(now)
	if err := m.canAcceptWager(now); err != nil {
		return OddsLock{}, err
	}
	if !side.Valid() {
		return OddsLock{}, validationf("unknown side %q", side)
	}
	if amount <= 0 {
		return OddsLock{}, validationf("amount must be positive, got %d", amount)
	}

	odds, err := e.quoteLocked(m, side)
	if err != nil {
		return OddsLock{}, err
	}
	l := mintLock(m.ID, side, amount, odds, now, e.cfg.LockTTL)
	ms.locks[l.ID] = l

	e.mu.Lock()
	e.lockIndex[l.ID] = m.ID
	e.mu.Unlock()
	return *l, nil
}

// ConfirmLock consumes a reservation and records the wager at the locked
// odds, not a recomputed quote. Confirming after expiry fails with
// LockExpiredError. A confirmed lock leaves the table, so replaying its id
// is rejected as unknown.
func (e *Engine) ConfirmLock(lockID string) (Wager, error) {
	if e.Paused() {
		return Wager{}, ErrPaused
	}
	e.mu.RLock()
	parentID, ok := e.lockIndex[lockID]
	e.mu.RUnlock()
	if !ok {
		return Wager{}, validationf("unknown odds lock %q", lockID)
	}
	ms, err := e.state(parentID)
	if err != nil {
		return Wager{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	l, ok := ms.locks[lockID]
	if !ok {
		return Wager{}, validationf("unknown odds lock %q", lockID)
	}
	now := e.clock.Now()
	if err := l.checkConfirmable(now); err != nil {
		return Wager{}, err
	}
	m := ms.market
	m.advance(now)
	if err := m.canAcceptWager(now); err != nil {
		return Wager{}, err
	}

	w, err := m.Ledger.recordWager(m.ID, l.Side, l.Amount, l.LockedOddsBps, now, e.cfg)
	if err != nil {
		return Wager{}, err
	}
	l.Consumed = true
	delete(ms.locks, lockID)
	e.mu.Lock()
	delete(e.lockIndex, lockID)
	e.mu.Unlock()
	return *w, nil
}

// SweepExpiredLocks discards expired, unconsumed locks across all markets
// and returns how many were dropped. Confirm stays safe without the sweep;
// the sweep just keeps the lock table from growing.
func (e *Engine) SweepExpiredLocks() int {
	now := e.clock.Now()

	e.mu.RLock()
	states := make([]*marketState, 0, len(e.markets))
	for _, ms := range e.markets {
		states = append(states, ms)
	}
	e.mu.RUnlock()

	var dropped []string
	for _, ms := range states {
		ms.mu.Lock()
		for id, l := range ms.locks {
			if l.expired(now) {
				delete(ms.locks, id)
				dropped = append(dropped, id)
			}
		}
		ms.mu.Unlock()
	}

	if len(dropped) > 0 {
		e.mu.Lock()
		for _, id := range dropped {
			delete(e.lockIndex, id)
		}
		e.mu.Unlock()
	}
	return len(dropped)
}

// UpdatePerformance feeds the running competitor metrics (bps) that drive
// battle quotes. Ignored once the battle has ended.
func (e *Engine) UpdatePerformance(parentID string, perfA, perfB int64) error {
	ms, err := e.state(parentID)
	if err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m := ms.market
	if m.Kind != KindBattle {
		return &StateError{Status: m.Status, Reason: "performance applies to battles only"}
	}
	if m.Status.Terminal() {
		return &StateError{Status: m.Status, Reason: "battle already settled"}
	}
	m.PerfA, m.PerfB = perfA, perfB
	return nil
}

// Settle resolves a market with the oracle outcome. The terminal transition
// is compare-and-swap under the market lock: of two concurrent attempts
// exactly one computes, the other observes the cached result. Re-invoking
// with the same outcome returns that cached result; a different outcome is
// a ConflictingOutcomeError and leaves the first result untouched.
func (e *Engine) Settle(parentID string, o Outcome) (*SettlementResult, error) {
	ms, err := e.state(parentID)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	m := ms.market
	if m.Status == StatusCancelled {
		return nil, &StateError{Status: m.Status, Reason: "market cancelled"}
	}
	if ms.result != nil {
		if !sameOutcome(ms.result.Outcome, o) {
			return nil, &ConflictingOutcomeError{ParentID: parentID, Settled: ms.result.Outcome, Offered: o}
		}
		return ms.result, nil
	}

	now := e.clock.Now()
	m.advance(now)
	if err := m.readyToSettle(now); err != nil {
		return nil, err
	}

	res, err := settleLedger(m, o, e.cfg, now)
	if err != nil {
		return nil, err
	}
	ms.result = res

	e.statsMu.Lock()
	e.totalVolume += m.Ledger.total()
	e.totalFees += res.FeeTaken
	e.statsMu.Unlock()
	return res, nil
}

// Cancel administratively aborts a market still in its betting phase and
// settles it as a 100% refund with zero fee.
func (e *Engine) Cancel(parentID string) (*SettlementResult, error) {
	ms, err := e.state(parentID)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	m := ms.market
	if err := m.cancel(); err != nil {
		return nil, err
	}

	res := &SettlementResult{
		ParentID:  m.ID,
		Winner:    WinnerPush,
		Payouts:   make(map[string]int64, len(m.Ledger.Wagers)),
		SettledAt: e.clock.Now(),
	}
	refundAll(m, res)
	m.Status = StatusCancelled
	ms.result = res
	return res, nil
}

// EvictTerminal drops settled and cancelled markets that have been terminal
// for longer than the retention window, along with any odds locks they still
// index. Postgres keeps the durable record; eviction only bounds the
// in-memory working set, which otherwise grows by one market per asset per
// round forever.
func (e *Engine) EvictTerminal() int {
	cutoff := e.clock.Now().Add(-e.cfg.RetainTerminal)

	e.mu.RLock()
	states := make(map[string]*marketState, len(e.markets))
	for id, ms := range e.markets {
		states[id] = ms
	}
	e.mu.RUnlock()

	// Status never moves backward, so a market seen terminal here stays
	// terminal by the time the map write below lands.
	var evict, lockIDs []string
	for id, ms := range states {
		ms.mu.Lock()
		retiredAt := ms.market.EndTime
		if ms.result != nil {
			retiredAt = ms.result.SettledAt
		}
		if ms.market.Status.Terminal() && !retiredAt.After(cutoff) {
			evict = append(evict, id)
			for lid := range ms.locks {
				lockIDs = append(lockIDs, lid)
			}
		}
		ms.mu.Unlock()
	}
	if len(evict) == 0 {
		return 0
	}

	e.mu.Lock()
	for _, id := range evict {
		delete(e.markets, id)
	}
	for _, lid := range lockIDs {
		delete(e.lockIndex, lid)
	}
	e.mu.Unlock()
	return len(evict)
}

// Result returns the cached settlement for a market, if any.
func (e *Engine) Result(parentID string) (*SettlementResult, bool) {
	ms, err := e.state(parentID)
	if err != nil {
		return nil, false
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.result, ms.result != nil
}

// GetSnapshot returns a consistent read of the market.
func (e *Engine) GetSnapshot(parentID string) (Snapshot, error) {
	ms, err := e.state(parentID)
	if err != nil {
		return Snapshot{}, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.market.advance(e.clock.Now())
	return snapshotOf(ms.market), nil
}

// AdvanceAll moves every market forward in time and returns snapshots of
// the ones past EndTime that still await an outcome. This is the crank the
// scheduler turns.
func (e *Engine) AdvanceAll() []Snapshot {
	if e.Paused() {
		return nil
	}
	now := e.clock.Now()

	e.mu.RLock()
	states := make([]*marketState, 0, len(e.markets))
	for _, ms := range e.markets {
		states = append(states, ms)
	}
	e.mu.RUnlock()

	var due []Snapshot
	for _, ms := range states {
		ms.mu.Lock()
		m := ms.market
		m.advance(now)
		if !m.Status.Terminal() && !now.Before(m.EndTime) {
			due = append(due, snapshotOf(m))
		}
		ms.mu.Unlock()
	}
	return due
}

func snapshotOf(m *Market) Snapshot {
	return Snapshot{
		ID:         m.ID,
		Kind:       m.Kind,
		Status:     m.Status,
		StartTime:  m.StartTime,
		LockTime:   m.LockTime,
		EndTime:    m.EndTime,
		Asset:      m.Asset,
		StartPrice: m.StartPrice,
		EndPrice:   m.EndPrice,
		PerfA:      m.PerfA,
		PerfB:      m.PerfB,
		LongPool:   m.Ledger.LongPool,
		ShortPool:  m.Ledger.ShortPool,
		Wagers:     m.Ledger.copyWagers(),
	}
}
