package ws

// ClientMsg is what a websocket client sends: subscribe/unsubscribe to a
// market's quote stream, or ping.
type ClientMsg struct {
	Type     string `json:"type"` // "subscribe" | "unsubscribe" | "ping"
	MarketID string `json:"marketId,omitempty"`
}

// QuoteUpdate is fanned out to every subscriber of the market.
type QuoteUpdate struct {
	MarketID string      `json:"marketId"`
	Payload  interface{} `json:"payload"`
}
