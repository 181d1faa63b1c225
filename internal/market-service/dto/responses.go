package dto

import "time"

type WagerResponse struct {
	WagerID       string `json:"wagerId"`
	MarketID      string `json:"marketId"`
	Side          string `json:"side"`
	Amount        int64  `json:"amount"`
	LockedOddsBps int64  `json:"lockedOddsBps,omitempty"`
	Status        string `json:"status"`
}

type QuoteResponse struct {
	MarketID string    `json:"marketId"`
	Side     string    `json:"side"`
	OddsBps  int64     `json:"oddsBps"`
	AsOf     time.Time `json:"asOf"`
}

type LockResponse struct {
	LockID        string    `json:"lockId"`
	MarketID      string    `json:"marketId"`
	Side          string    `json:"side"`
	Amount        int64     `json:"amount"`
	LockedOddsBps int64     `json:"lockedOddsBps"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// TotalsResponse reports lifetime platform volume and fee take, minor units.
type TotalsResponse struct {
	Volume int64 `json:"volume"`
	Fees   int64 `json:"fees"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
