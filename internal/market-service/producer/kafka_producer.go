package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tmelvin-bc-web3/collateral-combat-sub007/pkg/contracts/events"
)

// KafkaPublisher emits the market service's two event streams: wagers
// landing in the ledger and outcomes resolved by the crank.
type KafkaPublisher struct {
	Wagers   *kafka.Writer
	Outcomes *kafka.Writer
}

func NewKafkaPublisher(wagers, outcomes *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{Wagers: wagers, Outcomes: outcomes}
}

func (p *KafkaPublisher) PublishWagerPlaced(ctx context.Context, e events.WagerPlaced) error {
	e.TsUnixMs = time.Now().UnixMilli()
	b, _ := json.Marshal(e)
	return p.Wagers.WriteMessages(ctx, kafka.Message{Key: []byte(e.MarketID), Value: b})
}

func (p *KafkaPublisher) PublishOutcomeResolved(ctx context.Context, e events.OutcomeResolved) error {
	e.Ts = time.Now()
	b, _ := json.Marshal(e)
	return p.Outcomes.WriteMessages(ctx, kafka.Message{Key: []byte(e.MarketID), Value: b})
}
