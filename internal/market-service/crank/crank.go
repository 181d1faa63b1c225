package crank

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/engine"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/pricestore"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/pkg/contracts/events"
)

// OutcomePublisher is the slice of the kafka producer the crank needs.
type OutcomePublisher interface {
	PublishOutcomeResolved(context.Context, events.OutcomeResolved) error
}

// Store is the durable shadow the crank writes through.
type Store interface {
	InsertMarket(ctx context.Context, s engine.Snapshot, asset, competitorA, competitorB string) error
	UpdateMarketStatus(ctx context.Context, id string, status engine.Status, endPrice int64) error
	DeleteExpiredLocks(ctx context.Context) (int64, error)
}

// PriceSource yields the freshest known price per asset.
type PriceSource interface {
	Get(ctx context.Context, asset string) (int64, error)
}

// Crank drives the market clock: it keeps one betting round open per asset,
// resolves outcomes when markets reach their end time, sweeps expired odds
// locks and evicts long-retired markets from memory. Rounds are settled in-process the moment their closing price
// is known; the outcome event additionally feeds the durable settlement
// pipeline downstream.
type Crank struct {
	log    *zap.Logger
	eng    *engine.Engine
	repo   Store
	prices PriceSource
	publ   OutcomePublisher
	assets []string

	// open round per asset, crank goroutine only
	openRounds map[string]string
}

func New(log *zap.Logger, eng *engine.Engine, r Store, p PriceSource, publ OutcomePublisher, assets []string) *Crank {
	return &Crank{
		log:        log,
		eng:        eng,
		repo:       r,
		prices:     p,
		publ:       publ,
		assets:     assets,
		openRounds: make(map[string]string),
	}
}

// Run ticks until ctx is cancelled.
func (c *Crank) Run(ctx context.Context) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	sweep := time.NewTicker(10 * time.Second)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.resolveDue(ctx)
			c.ensureRounds(ctx)
		case <-sweep.C:
			if n := c.eng.SweepExpiredLocks(); n > 0 {
				c.log.Info("swept expired odds locks", zap.Int("count", n))
			}
			if n := c.eng.EvictTerminal(); n > 0 {
				c.log.Debug("evicted retired markets", zap.Int("count", n))
			}
			if n, err := c.repo.DeleteExpiredLocks(ctx); err != nil {
				c.log.Warn("prune expired locks", zap.Error(err))
			} else if n > 0 {
				c.log.Debug("pruned expired lock rows", zap.Int64("count", n))
			}
		}
	}
}

// ensureRounds opens a fresh round for every asset whose previous round
// reached a terminal state. No price yet means no round: the feed has to
// speak first.
func (c *Crank) ensureRounds(ctx context.Context) {
	if c.eng.Paused() {
		return
	}
	for _, asset := range c.assets {
		if id, ok := c.openRounds[asset]; ok {
			snap, err := c.eng.GetSnapshot(id)
			if err == nil && !snap.Status.Terminal() {
				continue
			}
			delete(c.openRounds, asset)
		}

		price, err := c.prices.Get(ctx, asset)
		if err == pricestore.ErrNoPrice {
			continue
		}
		if err != nil {
			c.log.Warn("read latest price", zap.String("asset", asset), zap.Error(err))
			continue
		}

		snap, err := c.eng.CreateRound(asset, price)
		if err != nil {
			c.log.Error("open round", zap.String("asset", asset), zap.Error(err))
			continue
		}
		c.openRounds[asset] = snap.ID
		if err := c.repo.InsertMarket(ctx, snap, asset, "", ""); err != nil {
			c.log.Error("persist round", zap.String("marketId", snap.ID), zap.Error(err))
		}
		c.log.Info("round opened",
			zap.String("marketId", snap.ID),
			zap.String("asset", asset),
			zap.Int64("startPrice", price),
			zap.Time("endTime", snap.EndTime))
	}
}

// resolveDue settles every market whose clock ran out and for which an
// outcome is determinable right now.
func (c *Crank) resolveDue(ctx context.Context) {
	for _, snap := range c.eng.AdvanceAll() {
		var o engine.Outcome
		switch snap.Kind {
		case engine.KindRound:
			price, err := c.prices.Get(ctx, snap.Asset)
			if err != nil {
				c.log.Warn("no closing price yet",
					zap.String("marketId", snap.ID), zap.String("asset", snap.Asset), zap.Error(err))
				continue
			}
			o = engine.Outcome{StartValue: snap.StartPrice, EndValue: price}
		case engine.KindBattle:
			o = engine.Outcome{StartValue: snap.PerfA, EndValue: snap.PerfB}
		}

		res, err := c.eng.Settle(snap.ID, o)
		if err != nil {
			c.log.Error("settle market", zap.String("marketId", snap.ID), zap.Error(err))
			continue
		}

		endPrice := int64(0)
		if snap.Kind == engine.KindRound {
			endPrice = o.EndValue
		}
		if err := c.repo.UpdateMarketStatus(ctx, snap.ID, engine.StatusSettled, endPrice); err != nil {
			c.log.Error("persist settled status", zap.String("marketId", snap.ID), zap.Error(err))
		}

		if err := c.publ.PublishOutcomeResolved(ctx, events.OutcomeResolved{
			MarketID:   snap.ID,
			MarketKind: string(snap.Kind),
			StartValue: o.StartValue,
			EndValue:   o.EndValue,
		}); err != nil {
			c.log.Error("publish outcome", zap.String("marketId", snap.ID), zap.Error(err))
		}

		c.log.Info("market settled",
			zap.String("marketId", snap.ID),
			zap.String("kind", string(snap.Kind)),
			zap.String("winner", string(res.Winner)),
			zap.Int64("feeTaken", res.FeeTaken),
			zap.Int("payouts", len(res.Payouts)))
	}
}
