package events

// WagerPlaced is emitted by the market service after a wager lands in the
// pool ledger. Amounts are minor units; odds are basis points.
type WagerPlaced struct {
	WagerID       string `json:"wager_id"`
	MarketID      string `json:"market_id"`
	MarketKind    string `json:"market_kind"` // "ROUND" | "BATTLE"
	UserID        string `json:"user_id"`
	Side          string `json:"side"` // "LONG" | "SHORT"
	Amount        int64  `json:"amount"`
	LockedOddsBps int64  `json:"locked_odds_bps,omitempty"`
	LockID        string `json:"lock_id,omitempty"` // set when confirmed through an odds lock
	TsUnixMs      int64  `json:"ts_unix_ms"`
}
