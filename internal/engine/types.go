package engine

import "time"

// MarketKind separates the two wagering flavors behind one interface.
type MarketKind string

const (
	// KindRound is a fixed-duration price-direction market.
	KindRound MarketKind = "ROUND"
	// KindBattle is a head-to-head market backed by spectator wagers.
	KindBattle MarketKind = "BATTLE"
)

// Side is the two-valued selection of a wager. LONG backs price-up in
// rounds and competitor A in battles; SHORT backs price-down / competitor B.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Valid reports whether s is one of the two legal sides.
func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Status is the lifecycle state of a market. Battles report LIVE at the API
// layer while BETTING or LOCKED internally; the engine keeps one state set.
type Status string

const (
	StatusBetting   Status = "BETTING"
	StatusLocked    Status = "LOCKED"
	StatusSettled   Status = "SETTLED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusSettled || s == StatusCancelled }

// WagerStatus tracks a single wager through settlement.
type WagerStatus string

const (
	WagerPending  WagerStatus = "PENDING"
	WagerWon      WagerStatus = "WON"
	WagerLost     WagerStatus = "LOST"
	WagerRefunded WagerStatus = "REFUNDED"
)

// Wager is a single stake on one side of a market. Side, Amount and PlacedAt
// are write-once; Status and Payout are written exactly once, by settlement.
type Wager struct {
	ID            string      `json:"id"`
	ParentID      string      `json:"parentId"`
	Side          Side        `json:"side"`
	Amount        int64       `json:"amount"` // minor units, > 0
	PlacedAt      time.Time   `json:"placedAt"`
	LockedOddsBps int64       `json:"lockedOddsBps,omitempty"` // battle wagers only
	Status        WagerStatus `json:"status"`
	Payout        *int64      `json:"payout,omitempty"`
}

// OddsLock is a single-use reservation binding a quoted multiplier to a
// not-yet-confirmed battle wager for a bounded window.
type OddsLock struct {
	ID            string    `json:"id"`
	ParentID      string    `json:"parentId"`
	Side          Side      `json:"side"`
	LockedOddsBps int64     `json:"lockedOddsBps"`
	Amount        int64     `json:"amount"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Consumed      bool      `json:"consumed"`
}

// Market is the per-parent aggregate: lifecycle fields plus the pool ledger.
// All mutation happens under the engine's per-market serialization point.
type Market struct {
	ID   string     `json:"id"`
	Kind MarketKind `json:"kind"`

	// Round flavor
	Asset      string `json:"asset,omitempty"`
	StartPrice int64  `json:"startPrice,omitempty"`
	EndPrice   int64  `json:"endPrice,omitempty"` // 0 until settled

	// Battle flavor
	CompetitorA string `json:"competitorA,omitempty"`
	CompetitorB string `json:"competitorB,omitempty"`
	PerfA       int64  `json:"perfA,omitempty"` // running performance metric, bps
	PerfB       int64  `json:"perfB,omitempty"`

	Status    Status    `json:"status"`
	StartTime time.Time `json:"startTime"`
	LockTime  time.Time `json:"lockTime"`
	EndTime   time.Time `json:"endTime"`

	Ledger PoolLedger `json:"ledger"`
}

// Outcome is the oracle-supplied ground truth for settlement. For rounds,
// StartValue/EndValue are the asset price at round start and end. For
// battles they are the final performance metric of competitor A and B.
type Outcome struct {
	StartValue int64 `json:"startValue"`
	EndValue   int64 `json:"endValue"`
}

// Winner is the settled outcome of a market.
type Winner string

const (
	WinnerLong  Winner = "LONG"
	WinnerShort Winner = "SHORT"
	// WinnerPush means nobody won: every wager on both sides is refunded
	// its exact stake and no fee is taken.
	WinnerPush Winner = "PUSH"
)

// SettlementResult is the complete, immutable output of settling one market.
// FeeTaken includes any rounding dust, so
// sum(Payouts) + FeeTaken + BonusSubsidy == total pool + BonusSubsidy holds
// exactly and the conservation invariant is auditable from the result alone.
type SettlementResult struct {
	ParentID string           `json:"parentId"`
	Winner   Winner           `json:"winner"`
	FeeTaken int64            `json:"feeTaken"`
	// BonusSubsidy is the platform-funded early-bird top-up: the portion of
	// round payouts above each winner's proportional pool share.
	BonusSubsidy int64            `json:"bonusSubsidy"`
	Payouts      map[string]int64 `json:"payouts"` // wagerID -> amount
	Outcome      Outcome          `json:"outcome"`
	SettledAt    time.Time        `json:"settledAt"`
}

// Quote is a point-in-time odds quote for one side of a market.
type Quote struct {
	ParentID string    `json:"parentId"`
	Side     Side      `json:"side"`
	OddsBps  int64     `json:"oddsBps"`
	AsOf     time.Time `json:"asOf"`
}

// Snapshot is a consistent read of a market taken at its serialization
// point: lifecycle fields plus pool totals and copies of every wager.
type Snapshot struct {
	ID         string     `json:"id"`
	Kind       MarketKind `json:"kind"`
	Status     Status     `json:"status"`
	StartTime  time.Time  `json:"startTime"`
	LockTime   time.Time  `json:"lockTime"`
	EndTime    time.Time  `json:"endTime"`
	Asset      string     `json:"asset,omitempty"`
	StartPrice int64      `json:"startPrice,omitempty"`
	EndPrice   int64      `json:"endPrice,omitempty"`
	PerfA      int64      `json:"perfA,omitempty"`
	PerfB      int64      `json:"perfB,omitempty"`
	LongPool   int64      `json:"longPool"`
	ShortPool  int64      `json:"shortPool"`
	Wagers     []Wager    `json:"wagers"`
}
