package engine

import (
	"time"

	"github.com/google/uuid"
)

// Odds locks (battle flavor only). A lock turns a quote into a binding
// offer for the TTL window: whatever was quoted at reserve time is what the
// confirmed wager pays, regardless of how the pools move in between.
// A lock is consumed at most once; an expired lock can never be confirmed.
// Expiry is enforced both lazily at confirm time and by the scheduler's
// sweep, since the sweep cannot be relied on for sub-second precision.

// mintLock reserves the given quote. Called under the market's lock.
func mintLock(parentID string, side Side, amount, oddsBps int64, now time.Time, ttl time.Duration) *OddsLock {
	return &OddsLock{
		ID:            uuid.NewString(),
		ParentID:      parentID,
		Side:          side,
		LockedOddsBps: oddsBps,
		Amount:        amount,
		ExpiresAt:     now.Add(ttl),
	}
}

// checkConfirmable rejects a replayed or expired lock.
func (l *OddsLock) checkConfirmable(now time.Time) error {
	if l.Consumed {
		return validationf("odds lock %s already consumed", l.ID)
	}
	if !now.Before(l.ExpiresAt) {
		return &LockExpiredError{LockID: l.ID}
	}
	return nil
}

// expired reports whether the lock is past its TTL and still unused.
func (l *OddsLock) expired(now time.Time) bool {
	return !l.Consumed && !now.Before(l.ExpiresAt)
}
