package engine

import "time"

// Lifecycle: BETTING -> LOCKED -> SETTLED, with CANCELLED reachable only
// from BETTING. Transitions are a pure function of time except the terminal
// ones (settlement, cancellation), and status never moves backward.

// canAcceptWager reports, with the specific reason, whether a wager is legal now.
func (m *Market) canAcceptWager(now time.Time) error {
	if m.Status != StatusBetting {
		return &StateError{Status: m.Status, Reason: "betting window closed"}
	}
	if !now.Before(m.LockTime) {
		return &StateError{Status: m.Status, Reason: "past lock time"}
	}
	return nil
}

// advance moves the market forward as a function of elapsed time. It is
// idempotent and never reverses a transition: BETTING flips to LOCKED at
// LockTime; terminal states are left alone.
func (m *Market) advance(now time.Time) {
	if m.Status == StatusBetting && !now.Before(m.LockTime) {
		m.Status = StatusLocked
	}
}

// readyToSettle gates settlement: the market must be past EndTime and must
// have left BETTING. Calling settlement early is a StateError, never a wait.
func (m *Market) readyToSettle(now time.Time) error {
	switch m.Status {
	case StatusCancelled:
		return &StateError{Status: m.Status, Reason: "market cancelled"}
	case StatusSettled:
		return nil // idempotent path, handled by the caller's cached result
	}
	if now.Before(m.EndTime) {
		return &StateError{Status: m.Status, Reason: "market has not ended"}
	}
	return nil
}

// cancel aborts a market still in its betting phase. The caller settles the
// aftermath as a full refund with zero fee.
func (m *Market) cancel() error {
	if m.Status != StatusBetting {
		return &StateError{Status: m.Status, Reason: "only a betting market can be cancelled"}
	}
	m.Status = StatusCancelled
	return nil
}
