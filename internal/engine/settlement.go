package engine

import "time"

// Settlement is a pure function of the finalized ledger snapshot and the
// oracle outcome. It runs at most once per market; re-invocation with the
// same outcome returns the cached result bit-identical, a different outcome
// is a fatal inconsistency.

// determineWinner resolves the outcome for a market of the given kind.
//
// Rounds: price up means LONG wins, down means SHORT wins; a move within
// drawThresholdBps of the start price (or an exact tie) is a push.
// Battles: the competitor with the higher final metric wins; a tie pushes.
func determineWinner(kind MarketKind, o Outcome, drawThresholdBps int64) Winner {
	if kind == KindBattle {
		switch {
		case o.StartValue > o.EndValue:
			return WinnerLong
		case o.StartValue < o.EndValue:
			return WinnerShort
		default:
			return WinnerPush
		}
	}

	if o.EndValue == o.StartValue || o.StartValue <= 0 {
		return WinnerPush
	}
	if drawThresholdBps > 0 {
		diff := o.EndValue - o.StartValue
		if diff < 0 {
			diff = -diff
		}
		moveBps, err := mulDiv(diff, BpsDenominator, o.StartValue)
		if err != nil || moveBps <= drawThresholdBps {
			return WinnerPush
		}
	}
	if o.EndValue > o.StartValue {
		return WinnerLong
	}
	return WinnerShort
}

// settleLedger computes the full payout distribution for a finalized ledger.
// It mutates wager status/payout (the single write those fields ever get)
// and returns the result.
//
// Money policy: integer minor units, every division floors, and the dust a
// floor leaves behind is reconciled into FeeTaken rather than lost. The
// early-bird top-up on round payouts is platform-funded and reported as
// BonusSubsidy, so sum(base payouts) <= losingPool*(1-fee) + winningPool
// stays auditable.
func settleLedger(m *Market, o Outcome, cfg Config, now time.Time) (*SettlementResult, error) {
	winner := determineWinner(m.Kind, o, cfg.DrawThresholdBps)

	res := &SettlementResult{
		ParentID:  m.ID,
		Winner:    winner,
		Payouts:   make(map[string]int64, len(m.Ledger.Wagers)),
		Outcome:   o,
		SettledAt: now,
	}

	if winner == WinnerPush {
		refundAll(m, res)
		return res, nil
	}

	winSide := SideLong
	if winner == WinnerShort {
		winSide = SideShort
	}
	winningPool := m.Ledger.pool(winSide)
	losingPool := m.Ledger.pool(winSide.Opposite())

	// No opposing stake was ever placed: nothing to redistribute, nothing
	// to tax. Everyone on the winning side gets their stake back.
	if losingPool == 0 {
		refundAll(m, res)
		res.Winner = winner
		return res, nil
	}

	distributable, err := applyBps(losingPool, BpsDenominator-cfg.FeeBps)
	if err != nil {
		return nil, err
	}

	var paidFromPools int64
	for _, w := range m.Ledger.Wagers {
		if w.Side != winSide {
			w.Status = WagerLost
			zero := int64(0)
			w.Payout = &zero
			res.Payouts[w.ID] = 0
			continue
		}

		share, err := mulDiv(w.Amount, distributable, winningPool)
		if err != nil {
			return nil, err
		}
		base := w.Amount + share

		payout := base
		if m.Kind == KindBattle {
			// The locked quote is the multiplier paid, full stop.
			if w.LockedOddsBps > 0 {
				if payout, err = applyBps(w.Amount, w.LockedOddsBps); err != nil {
					return nil, err
				}
			}
		} else {
			mult := EarlyBirdMultiplierBps(w.PlacedAt.Sub(m.StartTime), cfg.bettingDuration(m.Kind), cfg.EarlyBirdMaxBps)
			if payout, err = applyBps(base, mult); err != nil {
				return nil, err
			}
		}

		w.Status = WagerWon
		p := payout
		w.Payout = &p
		res.Payouts[w.ID] = payout

		if payout > base {
			res.BonusSubsidy += payout - base
			paidFromPools += base
		} else {
			paidFromPools += payout
		}
	}

	// Fee plus every floored remainder: what the pools held minus what the
	// pools paid out.
	res.FeeTaken = m.Ledger.total() - paidFromPools

	m.Status = StatusSettled
	if m.Kind == KindRound {
		m.EndPrice = o.EndValue
	}
	return res, nil
}

// refundAll settles a push or cancellation: every wager on both sides gets
// its exact stake back, fee zero, multipliers exempt by construction.
func refundAll(m *Market, res *SettlementResult) {
	for _, w := range m.Ledger.Wagers {
		w.Status = WagerRefunded
		p := w.Amount
		w.Payout = &p
		res.Payouts[w.ID] = w.Amount
	}
	res.FeeTaken = 0
	m.Status = StatusSettled
	if m.Kind == KindRound && res.Outcome.EndValue != 0 {
		m.EndPrice = res.Outcome.EndValue
	}
}

// sameOutcome reports whether two oracle outcomes are identical.
func sameOutcome(a, b Outcome) bool { return a == b }

// SettleSnapshot computes the settlement distribution for a finalized
// snapshot, with no engine state involved. Out-of-process settlement (the
// durable settlement worker) runs this same pure function over the
// persisted ledger, so an in-memory and a recovered settlement can never
// disagree.
func SettleSnapshot(s Snapshot, o Outcome, cfg Config, now time.Time) (*SettlementResult, error) {
	if s.Status == StatusCancelled {
		return nil, &StateError{Status: s.Status, Reason: "market cancelled"}
	}
	m := marketFromSnapshot(s)
	m.advance(now)
	if err := m.readyToSettle(now); err != nil {
		return nil, err
	}
	return settleLedger(m, o, cfg, now)
}

// CancelSnapshot computes the full-refund distribution for a cancelled
// market's persisted ledger: every stake back, fee zero, winner PUSH. It is
// the durable counterpart of Cancel, so cancellation refunds flow through
// the same settlement and payout pipeline as winnings.
func CancelSnapshot(s Snapshot, now time.Time) (*SettlementResult, error) {
	if s.Status != StatusCancelled {
		return nil, &StateError{Status: s.Status, Reason: "market not cancelled"}
	}
	m := marketFromSnapshot(s)
	res := &SettlementResult{
		ParentID:  s.ID,
		Winner:    WinnerPush,
		Payouts:   make(map[string]int64, len(m.Ledger.Wagers)),
		SettledAt: now,
	}
	refundAll(m, res)
	return res, nil
}

// marketFromSnapshot rebuilds a detached market aggregate from a persisted
// snapshot for out-of-process settlement.
func marketFromSnapshot(s Snapshot) *Market {
	m := &Market{
		ID:         s.ID,
		Kind:       s.Kind,
		Asset:      s.Asset,
		StartPrice: s.StartPrice,
		Status:     s.Status,
		StartTime:  s.StartTime,
		LockTime:   s.LockTime,
		EndTime:    s.EndTime,
		Ledger: PoolLedger{
			LongPool:  s.LongPool,
			ShortPool: s.ShortPool,
		},
	}
	m.Ledger.Wagers = make([]*Wager, len(s.Wagers))
	for i := range s.Wagers {
		w := s.Wagers[i]
		m.Ledger.Wagers[i] = &w
	}
	return m
}
