package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/oracle-feed/publisher"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/oracle-feed/service"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/cache"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/config"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/logger"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/metrics"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/pricestore"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("Kafka brokers", zap.String("brokers", cfg.KafkaBrokers))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	pub := publisher.NewKafkaPublisher(
		strings.Split(cfg.KafkaBrokers, ","),
		cfg.TopicPriceTicks,
		log,
	)
	defer pub.Close()

	wsClient := &service.WSClient{
		URL:       cfg.PriceFeedWSURL,
		Log:       log,
		Publisher: pub,
		Prices:    pricestore.New(rdb, time.Minute),
	}
	go wsClient.Start(ctx)

	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	log.Info("metrics/health listening", zap.String("addr", fmt.Sprintf(":%s", cfg.MetricsPort)))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")
	cancel()
	time.Sleep(2 * time.Second)
}
