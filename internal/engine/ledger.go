package engine

import (
	"time"

	"github.com/google/uuid"
)

// PoolLedger is the append-only per-market wager ledger and the single point
// of truth for pool totals. Totals are a pure derivation of the wager list;
// recordWager keeps both in step under the owner's serialization point.
// No wager is ever removed or amended after recording.
type PoolLedger struct {
	LongPool  int64    `json:"longPool"`
	ShortPool int64    `json:"shortPool"`
	Wagers    []*Wager `json:"wagers"`
}

// recordWager validates, appends and atomically bumps the side total.
// lockedOddsBps is non-zero only for battle wagers confirmed through an
// odds lock.
func (l *PoolLedger) recordWager(parentID string, side Side, amount, lockedOddsBps int64, now time.Time, cfg Config) (*Wager, error) {
	if !side.Valid() {
		return nil, validationf("unknown side %q", side)
	}
	if amount <= 0 {
		return nil, validationf("amount must be positive, got %d", amount)
	}
	if amount < cfg.MinStake {
		return nil, validationf("amount %d below minimum stake %d", amount, cfg.MinStake)
	}
	if cfg.MaxStake > 0 && amount > cfg.MaxStake {
		return nil, validationf("amount %d above maximum stake %d", amount, cfg.MaxStake)
	}

	var err error
	if side == SideLong {
		if l.LongPool, err = addChecked(l.LongPool, amount); err != nil {
			return nil, err
		}
	} else {
		if l.ShortPool, err = addChecked(l.ShortPool, amount); err != nil {
			return nil, err
		}
	}

	w := &Wager{
		ID:            uuid.NewString(),
		ParentID:      parentID,
		Side:          side,
		Amount:        amount,
		PlacedAt:      now,
		LockedOddsBps: lockedOddsBps,
		Status:        WagerPending,
	}
	l.Wagers = append(l.Wagers, w)
	return w, nil
}

// pool returns the running total for one side.
func (l *PoolLedger) pool(side Side) int64 {
	if side == SideLong {
		return l.LongPool
	}
	return l.ShortPool
}

// total returns the combined pool.
func (l *PoolLedger) total() int64 { return l.LongPool + l.ShortPool }

// copyWagers returns value copies of the ordered wager list so snapshot
// readers can never mutate ledger state.
func (l *PoolLedger) copyWagers() []Wager {
	out := make([]Wager, len(l.Wagers))
	for i, w := range l.Wagers {
		out[i] = *w
		if w.Payout != nil {
			p := *w.Payout
			out[i].Payout = &p
		}
	}
	return out
}
