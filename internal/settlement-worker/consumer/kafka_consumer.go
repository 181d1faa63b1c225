package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/engine"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/settlement-worker/repository"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/pkg/contracts/events"
)

// Processor consumes outcome_resolved events and turns each into a durable
// settlement: rebuild the finalized ledger from Postgres, compute the
// distribution (a full refund when the market was cancelled), persist it
// and announce market_settled. Settlement is
// idempotent per market; a replay with the same outcome is a no-op and a
// replay with a different outcome goes to the DLQ, never to the ledger.
type Processor struct {
	Log     *zap.Logger
	Reader  *kafka.Reader
	Repo    *repository.PostgresRepo
	Settled *kafka.Writer
	DLQ     *kafka.Writer
	Cfg     engine.Config

	OnConsumed func()       // metrics (counter++)
	OnSettled  func()       // metrics
	OnReplay   func()       // metrics
	OnError    func(string) // metrics per stage
}

// Run is the consume loop; it returns when ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			p.fail("read")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if p.OnConsumed != nil {
			p.OnConsumed()
		}

		var ev events.OutcomeResolved
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			p.Log.Warn("invalid message", zap.Error(err))
			p.fail("decode")
			continue
		}

		if err := p.settleOne(ctx, ev); err != nil {
			p.Log.Error("settle failed", zap.String("marketId", ev.MarketID), zap.Error(err))
			p.toDLQ(ctx, m.Key, m.Value)
		}
	}
}

func (p *Processor) settleOne(ctx context.Context, ev events.OutcomeResolved) error {
	o := engine.Outcome{StartValue: ev.StartValue, EndValue: ev.EndValue}

	// idempotency gate: one settlement per market, ever
	if prev, ok, err := p.Repo.ExistingSettlement(ctx, ev.MarketID); err != nil {
		p.fail("db_read")
		return err
	} else if ok {
		if prev == o {
			p.Log.Info("outcome replay ignored", zap.String("marketId", ev.MarketID))
			if p.OnReplay != nil {
				p.OnReplay()
			}
			return nil
		}
		p.fail("conflict")
		return &engine.ConflictingOutcomeError{ParentID: ev.MarketID, Settled: prev, Offered: o}
	}

	snap, err := p.Repo.LoadSnapshot(ctx, ev.MarketID)
	if err != nil {
		p.fail("db_read")
		return err
	}

	// Cancelled markets refund; everything else settles against the outcome.
	var res *engine.SettlementResult
	if snap.Status == engine.StatusCancelled {
		res, err = engine.CancelSnapshot(snap, time.Now())
	} else {
		res, err = engine.SettleSnapshot(snap, o, p.Cfg, time.Now())
	}
	if err != nil {
		p.fail("settle")
		return err
	}

	if err := p.Repo.SaveSettlement(ctx, snap, res); err != nil {
		p.fail("db_write")
		return err
	}
	if p.OnSettled != nil {
		p.OnSettled()
	}

	out := events.MarketSettled{
		MarketID:     res.ParentID,
		Winner:       string(res.Winner),
		FeeTaken:     res.FeeTaken,
		BonusSubsidy: res.BonusSubsidy,
		Payouts:      res.Payouts,
		Ts:           time.Now(),
	}
	b, _ := json.Marshal(out)
	if err := p.Settled.WriteMessages(ctx, kafka.Message{Key: []byte(res.ParentID), Value: b}); err != nil {
		p.fail("publish")
		return err
	}

	p.Log.Info("market settled",
		zap.String("marketId", res.ParentID),
		zap.String("winner", string(res.Winner)),
		zap.Int64("feeTaken", res.FeeTaken),
		zap.Int64("bonusSubsidy", res.BonusSubsidy),
		zap.Int("payouts", len(res.Payouts)))
	return nil
}

func (p *Processor) fail(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}

func (p *Processor) toDLQ(ctx context.Context, key, value []byte) {
	if p.DLQ == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.DLQ.WriteMessages(wctx, kafka.Message{Key: key, Value: value}); err != nil {
		p.Log.Error("dlq publish failed", zap.Error(err))
	}
}
