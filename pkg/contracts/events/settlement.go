package events

import "time"

// OutcomeResolved is published once per market by the oracle boundary (the
// round scheduler for rounds, the battle result adapter for battles). Exactly
// one outcome per market: the settlement engine treats a second, different
// outcome as a fatal inconsistency. A cancellation publishes zero values;
// the worker recognizes the cancelled market and refunds instead.
type OutcomeResolved struct {
	MarketID   string    `json:"market_id"`
	MarketKind string    `json:"market_kind"`
	StartValue int64     `json:"start_value"`
	EndValue   int64     `json:"end_value"`
	Ts         time.Time `json:"ts"`
}

// MarketSettled is emitted by the settlement worker after the payout
// distribution is computed and persisted. Payouts are computed, not yet
// paid; the payout worker turns them into custodial transfers.
type MarketSettled struct {
	MarketID     string           `json:"market_id"`
	Winner       string           `json:"winner"` // "LONG" | "SHORT" | "PUSH"
	FeeTaken     int64            `json:"fee_taken"`
	BonusSubsidy int64            `json:"bonus_subsidy"`
	Payouts      map[string]int64 `json:"payouts"` // wagerID -> minor units
	Ts           time.Time        `json:"ts"`
}

// PayoutConfirmed is emitted by the payout worker once the custodial ledger
// acknowledged a transfer. Distinguishes "you have X" from "we owe you X".
type PayoutConfirmed struct {
	MarketID    string    `json:"market_id"`
	WagerID     string    `json:"wager_id"`
	Amount      int64     `json:"amount"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	Ts          time.Time `json:"ts"`
}
