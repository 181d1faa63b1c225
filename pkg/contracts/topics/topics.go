package topics

const (
	// Oracle price ticks
	PriceTicks = "price_ticks"

	// Wagers
	WagerPlaced = "wager_placed"

	// Settlement
	OutcomeResolved = "outcome_resolved"
	MarketSettled   = "market_settled"
	PayoutConfirmed = "payout_confirmed"

	// DLQs
	OutcomeResolvedDLQ = "outcome_resolved_dlq"
	MarketSettledDLQ   = "market_settled_dlq"
)
