package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/settlement-worker/consumer"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/settlement-worker/repository"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/config"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/db"
	skafka "github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/kafka"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/logger"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  strings.Split(cfg.KafkaBrokers, ","),
		GroupID:  "settlement-worker",
		Topic:    cfg.TopicOutcomeResolved,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	settledWriter := skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMarketSettled)
	defer settledWriter.Close()

	var dlqWriter *kafkago.Writer
	if cfg.TopicOutcomeResolvedDLQ != "" {
		dlqWriter = skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicOutcomeResolvedDLQ)
		defer dlqWriter.Close()
	}

	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_messages_consumed_total", Help: "outcome events consumed"})
	settled := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_markets_settled_total", Help: "markets settled"})
	replays := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_outcome_replays_total", Help: "idempotent outcome replays"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settlement_errors_total", Help: "errors per stage"}, []string{"stage"})
	prometheus.MustRegister(consumed, settled, replays, errorsBy)

	proc := &consumer.Processor{
		Log:     log,
		Reader:  reader,
		Repo:    repository.NewPostgresRepo(pg),
		Settled: settledWriter,
		DLQ:     dlqWriter,
		Cfg:     cfg.Engine,

		OnConsumed: func() { consumed.Inc() },
		OnSettled:  func() { settled.Inc() },
		OnReplay:   func() { replays.Inc() },
		OnError:    func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
			defer cancel()
			if err := pg.PingContext(ctx); err != nil {
				http.Error(w, "pg", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("metrics/health listening", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("settlement-worker started", zap.String("consume", cfg.TopicOutcomeResolved))
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}
	log.Info("settlement-worker stopped")
}
