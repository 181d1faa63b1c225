package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/custodial"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/config"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/db"
	skafka "github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/kafka"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/logger"
	ev "github.com/tmelvin-bc-web3/collateral-combat-sub007/pkg/contracts/events"
)

var (
	payoutsPaid   = prometheus.NewCounter(prometheus.CounterOpts{Name: "payout_transfers_paid_total", Help: "custodial transfers acknowledged"})
	payoutsSkip   = prometheus.NewCounter(prometheus.CounterOpts{Name: "payout_transfers_skipped_total", Help: "payouts already paid on replay"})
	payoutErrors  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "payout_errors_total", Help: "errors per stage"}, []string{"stage"})
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
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  strings.Split(cfg.KafkaBrokers, ","),
		GroupID:  "payout-worker",
		Topic:    cfg.TopicMarketSettled,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	confirmedWriter := skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicPayoutConfirmed)
	defer confirmedWriter.Close()

	var dlqWriter *kafkago.Writer
	if cfg.TopicMarketSettledDLQ != "" {
		dlqWriter = skafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMarketSettledDLQ)
		defer dlqWriter.Close()
	}

	prometheus.MustRegister(payoutsPaid, payoutsSkip, payoutErrors)

	ledger := custodial.New(cfg.CustodialLedgerURL)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()
			if err := pg.PingContext(ctx); err != nil {
				http.Error(w, "pg", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		addr := ":" + cfg.MetricsPort
		log.Info("metrics/health", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	log.Info("payout-worker started",
		zap.String("consume", cfg.TopicMarketSettled),
		zap.String("publish", cfg.TopicPayoutConfirmed),
	)

	ctx := context.Background()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			log.Warn("kafka read", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		var settled ev.MarketSettled
		if jerr := json.Unmarshal(msg.Value, &settled); jerr != nil {
			log.Error("unmarshal market_settled", zap.Error(jerr))
			payoutErrors.WithLabelValues("decode").Inc()
			continue
		}

		if err := processOne(ctx, log, pg, ledger, confirmedWriter, &settled); err != nil {
			log.Error("process settlement payouts", zap.String("marketId", settled.MarketID), zap.Error(err))
			if dlqWriter != nil {
				_ = skafka.WriteJSON(ctx, dlqWriter, settled.MarketID, msg.Value)
			}
			time.Sleep(500 * time.Millisecond)
		}
	}
}

// processOne pays every computed payout of a settled market through the
// custodial ledger. Amounts come from the settlement verbatim; this worker
// never recomputes anything. Already-paid wagers are skipped, so a replay
// of the whole event is harmless.
func processOne(
	ctx context.Context,
	log *zap.Logger,
	pg *sql.DB,
	ledger *custodial.Client,
	confirmedWriter *kafkago.Writer,
	settled *ev.MarketSettled,
) error {
	var firstErr error
	for wagerID, amount := range settled.Payouts {
		if amount <= 0 {
			continue
		}

		userID, status, err := payoutRow(ctx, pg, wagerID)
		if err != nil {
			payoutErrors.WithLabelValues("db_read").Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if status == "PAID" {
			payoutsSkip.Inc()
			continue
		}

		ref := "payout:" + wagerID
		providerRef, err := transferWithRetry(ctx, ledger, userID, amount, ref)
		if err != nil {
			payoutErrors.WithLabelValues("transfer").Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := markPaid(ctx, pg, wagerID, providerRef); err != nil {
			log.Error("mark payout paid", zap.String("wagerId", wagerID), zap.Error(err))
			payoutErrors.WithLabelValues("db_write").Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		payoutsPaid.Inc()

		evc := ev.PayoutConfirmed{
			MarketID:    settled.MarketID,
			WagerID:     wagerID,
			Amount:      amount,
			ProviderRef: providerRef,
			Ts:          time.Now(),
		}
		b, _ := json.Marshal(evc)
		if err := skafka.WriteJSON(ctx, confirmedWriter, wagerID, b); err != nil {
			log.Warn("publish payout_confirmed", zap.String("wagerId", wagerID), zap.Error(err))
		}
	}
	return firstErr
}

func transferWithRetry(ctx context.Context, ledger *custodial.Client, userID string, amount int64, ref string) (string, error) {
	providerRef, err := ledger.Transfer(ctx, userID, amount, ref)
	if err == nil {
		return providerRef, nil
	}
	const retries = 3
	for i := 0; i < retries; i++ {
		time.Sleep(time.Duration(300*(i+1)) * time.Millisecond)
		if providerRef, err = ledger.Transfer(ctx, userID, amount, ref); err == nil {
			return providerRef, nil
		}
	}
	return "", err
}

func payoutRow(ctx context.Context, pg *sql.DB, wagerID string) (userID, status string, err error) {
	err = pg.QueryRowContext(ctx, `
		SELECT w.user_id, p.status
		FROM payouts p JOIN wagers w ON w.id = p.wager_id
		WHERE p.wager_id = $1`, wagerID).Scan(&userID, &status)
	return userID, status, err
}

func markPaid(ctx context.Context, pg *sql.DB, wagerID, providerRef string) error {
	_, err := pg.ExecContext(ctx, `
		UPDATE payouts SET status='PAID', provider_ref=$1, paid_at=NOW()
		WHERE wager_id=$2 AND status='COMPUTED'`, providerRef, wagerID)
	return err
}
