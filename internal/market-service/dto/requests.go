package dto

type PlaceWagerRequest struct {
	UserID string `json:"userId"`
	Side   string `json:"side"`   // "LONG" | "SHORT"
	Amount int64  `json:"amount"` // minor units
}

type ReserveLockRequest struct {
	UserID string `json:"userId"`
	Side   string `json:"side"`
	Amount int64  `json:"amount"`
}

type ConfirmLockRequest struct {
	UserID string `json:"userId"`
}

type CreateBattleRequest struct {
	CompetitorA string `json:"competitorA"`
	CompetitorB string `json:"competitorB"`
}

// PerformanceUpdateRequest carries the running metric per side in basis
// points; pushed by the battle result adapter while a battle is live.
type PerformanceUpdateRequest struct {
	PerfA int64 `json:"perfA"`
	PerfB int64 `json:"perfB"`
}

type PauseRequest struct {
	Paused bool `json:"paused"`
}
