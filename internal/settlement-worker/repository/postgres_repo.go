package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/engine"
)

// PostgresRepo is the settlement worker's view of the durable ledger: it
// rebuilds finalized market snapshots and records the computed distribution.
type PostgresRepo struct{ db *sql.DB }

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// LoadSnapshot rebuilds a market snapshot from the markets and wagers rows.
func (r *PostgresRepo) LoadSnapshot(ctx context.Context, marketID string) (engine.Snapshot, error) {
	var s engine.Snapshot
	var asset sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, kind, COALESCE(asset,''), status, start_time, lock_time, end_time,
		       COALESCE(start_price,0), long_pool, short_pool
		FROM markets WHERE id=$1`, marketID).
		Scan(&s.ID, &s.Kind, &asset, &s.Status, &s.StartTime, &s.LockTime, &s.EndTime,
			&s.StartPrice, &s.LongPool, &s.ShortPool)
	if err == sql.ErrNoRows {
		return engine.Snapshot{}, engine.ErrNotFound
	}
	if err != nil {
		return engine.Snapshot{}, err
	}
	s.Asset = asset.String

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, side, amount, placed_at, locked_odds_bps, status
		FROM wagers WHERE market_id=$1 ORDER BY placed_at`, marketID)
	if err != nil {
		return engine.Snapshot{}, err
	}
	defer rows.Close()

	for rows.Next() {
		w := engine.Wager{ParentID: marketID}
		if err := rows.Scan(&w.ID, &w.Side, &w.Amount, &w.PlacedAt, &w.LockedOddsBps, &w.Status); err != nil {
			return engine.Snapshot{}, err
		}
		s.Wagers = append(s.Wagers, w)
	}
	return s, rows.Err()
}

// ExistingSettlement returns the recorded outcome for a market, if any.
// The caller uses it to decide between a no-op replay and a conflict.
func (r *PostgresRepo) ExistingSettlement(ctx context.Context, marketID string) (engine.Outcome, bool, error) {
	var o engine.Outcome
	err := r.db.QueryRowContext(ctx,
		`SELECT start_value, end_value FROM settlements WHERE market_id=$1`, marketID).
		Scan(&o.StartValue, &o.EndValue)
	if err == sql.ErrNoRows {
		return engine.Outcome{}, false, nil
	}
	if err != nil {
		return engine.Outcome{}, false, err
	}
	return o, true, nil
}

// SaveSettlement persists the full distribution in one transaction: the
// settlement row, one payout row per wager, the wager statuses and the
// market's terminal state. Payouts start COMPUTED; the payout worker flips
// them to PAID once the custodial ledger acknowledges the transfer.
func (r *PostgresRepo) SaveSettlement(ctx context.Context, s engine.Snapshot, res *engine.SettlementResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO settlements (market_id, winner, fee_taken, bonus_subsidy, start_value, end_value, settled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (market_id) DO NOTHING`,
		res.ParentID, string(res.Winner), res.FeeTaken, res.BonusSubsidy,
		res.Outcome.StartValue, res.Outcome.EndValue, res.SettledAt,
	); err != nil {
		return err
	}

	refund := isFullRefund(s, res)
	for _, w := range s.Wagers {
		payout := res.Payouts[w.ID]
		status := engine.WagerLost
		switch {
		case refund:
			status = engine.WagerRefunded
		case payout > 0:
			status = engine.WagerWon
		}
		if _, err = tx.ExecContext(ctx,
			`UPDATE wagers SET status=$1, payout=$2, updated_at=NOW() WHERE id=$3`,
			string(status), payout, w.ID,
		); err != nil {
			return err
		}
		if payout == 0 {
			continue
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO payouts (market_id, wager_id, amount, status, created_at)
			VALUES ($1,$2,$3,'COMPUTED',$4)
			ON CONFLICT (wager_id) DO NOTHING`,
			res.ParentID, w.ID, payout, time.Now(),
		); err != nil {
			return err
		}
	}

	// A cancelled market stays CANCELLED; anything else lands on SETTLED.
	terminal := engine.StatusSettled
	if s.Status == engine.StatusCancelled {
		terminal = engine.StatusCancelled
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE markets SET status=$1, updated_at=NOW() WHERE id=$2`,
		string(terminal), res.ParentID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// isFullRefund reports whether the distribution is a stake-back refund
// (push, or no opposing stake): zero fee, zero subsidy, every wager paid
// exactly its stake.
func isFullRefund(s engine.Snapshot, res *engine.SettlementResult) bool {
	if res.FeeTaken != 0 || res.BonusSubsidy != 0 {
		return false
	}
	for _, w := range s.Wagers {
		if res.Payouts[w.ID] != w.Amount {
			return false
		}
	}
	return len(s.Wagers) > 0
}
