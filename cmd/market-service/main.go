package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/engine"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/market-service/crank"
	mhttp "github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/market-service/http"
	kpub "github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/market-service/producer"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/market-service/quotes"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/market-service/repo"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/market-service/ws"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/cache"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/config"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/db"
	skafka "github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/kafka"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/logger"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/pricestore"
)

func main() {
	cfg := config.Load()
	log, _ := logger.New(cfg.ServiceName, cfg.Env)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg", zap.Error(err))
	}
	defer pg.Close()

	// Redis
	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}

	// Kafka writers
	wagersW := skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicWagerPlaced)
	defer wagersW.Close()
	outcomesW := skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicOutcomeResolved)
	defer outcomesW.Close()

	// deps
	eng := engine.New(cfg.Engine, nil)
	repository := repo.NewPostgres(pg)
	qc := quotes.New(rdb, 5*time.Second)
	prices := pricestore.New(rdb, time.Minute)
	publ := kpub.NewKafkaPublisher(wagersW, outcomesW)

	hub := ws.NewHub(func(r *http.Request) bool { return true })
	ws.StartRedisSubscriber(ctx, log, rdb, cfg.RedisPubSubChannel, hub)

	assets := strings.Split(getenv("MARKET_ASSETS", "SOL/USD"), ",")
	cr := crank.New(log, eng, repository, prices, publ, assets)
	go cr.Run(ctx)

	// public HTTP API
	api := mhttp.NewServer(log, eng, repository, qc, publ, hub, cfg.RedisPubSubChannel)
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: api.Router(),
	}

	// metrics/health
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pg.PingContext(r.Context()); err != nil {
			http.Error(w, "pg", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() {
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("metrics/health", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, metricsMux)
	}()

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = apiSrv.Shutdown(shCtx)
	}()

	log.Info("market-service listening", zap.String("addr", fmt.Sprintf(":%s", cfg.HTTPPort)))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api", zap.Error(err))
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
