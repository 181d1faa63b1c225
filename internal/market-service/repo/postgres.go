package repo

import (
	"context"
	"database/sql"

	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/engine"
)

// Postgres is the durable shadow of the in-memory engine state: the market
// service writes every market, wager and odds lock through here so the
// settlement worker can rebuild the finalized ledger from the database.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// InsertMarket persists a freshly opened market.
func (p *Postgres) InsertMarket(ctx context.Context, s engine.Snapshot, asset, competitorA, competitorB string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO markets
		  (id, kind, asset, competitor_a, competitor_b, status, start_time, lock_time, end_time, start_price, long_pool, short_pool)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,0)`,
		s.ID, string(s.Kind), asset, competitorA, competitorB, string(s.Status),
		s.StartTime, s.LockTime, s.EndTime, s.StartPrice,
	)
	return err
}

// UpdateMarketStatus moves a market forward; end_price is written once on
// round settlement (0 leaves it untouched).
func (p *Postgres) UpdateMarketStatus(ctx context.Context, id string, status engine.Status, endPrice int64) error {
	if endPrice != 0 {
		_, err := p.db.ExecContext(ctx,
			`UPDATE markets SET status=$1, end_price=$2, updated_at=NOW() WHERE id=$3`,
			string(status), endPrice, id)
		return err
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE markets SET status=$1, updated_at=NOW() WHERE id=$2`,
		string(status), id)
	return err
}

// InsertWager persists a recorded wager and bumps the denormalized pool
// column in one transaction, keeping the shadow consistent with the ledger.
func (p *Postgres) InsertWager(ctx context.Context, w engine.Wager, userID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO wagers (id, market_id, user_id, side, amount, placed_at, locked_odds_bps, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		w.ID, w.ParentID, userID, string(w.Side), w.Amount, w.PlacedAt, w.LockedOddsBps, string(w.Status),
	); err != nil {
		return err
	}

	col := "long_pool"
	if w.Side == engine.SideShort {
		col = "short_pool"
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE markets SET `+col+` = `+col+` + $1, updated_at=NOW() WHERE id=$2`,
		w.Amount, w.ParentID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// InsertLock persists a minted odds lock.
func (p *Postgres) InsertLock(ctx context.Context, l engine.OddsLock, userID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO odds_locks (id, market_id, user_id, side, locked_odds_bps, amount, expires_at, consumed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,false)`,
		l.ID, l.ParentID, userID, string(l.Side), l.LockedOddsBps, l.Amount, l.ExpiresAt,
	)
	return err
}

// MarkLockConsumed flips the single-use flag; at most one row ever changes.
func (p *Postgres) MarkLockConsumed(ctx context.Context, lockID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE odds_locks SET consumed=true WHERE id=$1 AND consumed=false`, lockID)
	return err
}

// DeleteExpiredLocks prunes swept reservations.
func (p *Postgres) DeleteExpiredLocks(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM odds_locks WHERE consumed=false AND expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
