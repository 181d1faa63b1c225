package events

import "time"

// PriceTick is published on the "price_ticks" topic for every oracle update.
// Price is in minor units (8 decimals for SOL/USD).
type PriceTick struct {
	Asset      string    `json:"asset"`
	Price      int64     `json:"price"`
	Source     string    `json:"source"`
	Ts         time.Time `json:"ts"`
	Sequence   int64     `json:"sequence"` // incremented per update by the source
	Stale      bool      `json:"stale,omitempty"`
	Confidence int64     `json:"confidence,omitempty"`
}
