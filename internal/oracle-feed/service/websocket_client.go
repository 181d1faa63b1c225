package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/oracle-feed/publisher"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/pricestore"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/pkg/contracts/events"
)

// WSClient consumes the oracle's price websocket and fans each tick out to
// Kafka (the durable stream) and Redis (the latest-price key the round
// crank reads). Out-of-order ticks are dropped by sequence number.
type WSClient struct {
	URL       string
	Log       *zap.Logger
	Publisher *publisher.KafkaPublisher
	Prices    *pricestore.Store

	// last sequence accepted per asset, listener goroutine only
	lastSeq map[string]int64
}

// Start runs the connect-listen-reconnect loop until ctx is cancelled.
func (c *WSClient) Start(ctx context.Context) {
	c.lastSeq = make(map[string]int64)
	for {
		select {
		case <-ctx.Done():
			c.Log.Info("context canceled, stopping WS client")
			return
		default:
			if err := c.connectAndListen(ctx); err != nil {
				c.Log.Warn("connection closed", zap.Error(err))
				time.Sleep(3 * time.Second)
			}
		}
	}
}

func (c *WSClient) connectAndListen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	c.Log.Info("connected to price feed WS", zap.String("url", c.URL))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, context.Canceled) {
				return nil
			}
			c.Log.Error("read message failed", zap.Error(err))
			return err
		}

		var tick events.PriceTick
		if err := json.Unmarshal(message, &tick); err != nil {
			c.Log.Warn("invalid message", zap.Error(err))
			continue
		}
		if tick.Asset == "" || tick.Price <= 0 {
			c.Log.Warn("rejected tick", zap.String("asset", tick.Asset), zap.Int64("price", tick.Price))
			continue
		}
		if tick.Sequence != 0 && tick.Sequence <= c.lastSeq[tick.Asset] {
			continue
		}
		c.lastSeq[tick.Asset] = tick.Sequence

		if err := c.Prices.Set(ctx, tick.Asset, tick.Price); err != nil {
			c.Log.Error("failed to write latest price", zap.Error(err))
		}
		if err := c.Publisher.Publish(ctx, tick); err != nil {
			c.Log.Error("failed to publish to Kafka", zap.Error(err))
		}
	}
}
