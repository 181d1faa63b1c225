package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/config"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/shared/logger"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/pkg/contracts/events"
)

var (
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feed_sim_ws_connections",
		Help: "connected WebSocket clients",
	})
	wsMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_sim_ws_messages_sent_total",
		Help: "total WS messages sent",
	})
	transfersServed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_sim_transfers_served_total",
		Help: "mock custodial transfers acknowledged",
	})
)

type clientConn struct {
	id   string
	conn *websocket.Conn
}

// hub fans simulated ticks out to every connected client.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*clientConn
	log     *zap.Logger
}

func newHub(log *zap.Logger) *hub {
	return &hub{
		clients: make(map[string]*clientConn),
		log:     log,
	}
}

func (h *hub) add(c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	wsConnections.Inc()
	h.log.Info("ws client connected", zap.String("client_id", c.id))
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; ok {
		delete(h.clients, id)
		wsConnections.Dec()
		h.log.Info("ws client disconnected", zap.String("client_id", id))
	}
}

func (h *hub) broadcast(v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg, _ := json.Marshal(v)
	for id, c := range h.clients {
		c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Warn("ws write failed", zap.String("client_id", id), zap.Error(err))
			_ = c.conn.Close()
		} else {
			wsMessagesSent.Inc()
		}
	}
}

// walker is one asset's random-walk price in minor units (8 decimals).
type walker struct {
	asset string
	price int64
	seq   int64
}

// step moves the price by at most ±0.5%, floored at one cent.
func (w *walker) step() events.PriceTick {
	driftBps := rand.Int63n(101) - 50
	w.price += w.price * driftBps / 10000
	if w.price < 1_000_000 {
		w.price = 1_000_000
	}
	w.seq++
	return events.PriceTick{
		Asset:    w.asset,
		Price:    w.price,
		Sequence: w.seq,
		Ts:       time.Now().UTC(),
	}
}

// transfersHandler mocks the custodial ledger. Always acknowledges; the
// provider ref echoes the external ref so retries stay traceable.
func transfersHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req struct {
		UserID      string `json:"userId"`
		Amount      int64  `json:"amount"`
		ExternalRef string `json:"externalRef"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	transfersServed.Inc()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"providerRef": "CUST-" + req.ExternalRef,
		"status":      "OK",
	})
}

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	prometheus.MustRegister(wsConnections, wsMessagesSent, transfersServed)

	h := newHub(log)

	assets := strings.Split(getenv("FEED_ASSETS", "SOL/USD"), ",")
	walkers := make([]*walker, 0, len(assets))
	for _, a := range assets {
		walkers = append(walkers, &walker{asset: a, price: 15_000_000_000})
	}

	// tick every second for every asset
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			for _, wk := range walkers {
				tick := wk.step()
				tick.Source = cfg.ServiceName
				h.broadcast(tick)
			}
		}
	}()

	appMux := http.NewServeMux()

	appMux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("ws upgrade failed", zap.Error(err))
			return
		}
		id := fmt.Sprintf("%d", time.Now().UnixNano())
		c := &clientConn{id: id, conn: conn}
		h.add(c)

		go func() {
			defer func() {
				h.remove(id)
				_ = conn.Close()
			}()
			_ = conn.SetReadDeadline(time.Time{})
			for {
				// drain client messages to keep the socket healthy
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})

	appMux.HandleFunc("/v1/transfers", transfersHandler)

	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsMux.Handle("/metrics", promhttp.Handler())

	go func() {
		metricsAddr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("price feed simulator (metrics) running",
			zap.String("addr", metricsAddr),
			zap.String("paths", "/healthz,/metrics"),
		)
		if err := http.ListenAndServe(metricsAddr, metricsMux); err != nil {
			log.Fatal("metrics server error", zap.Error(err))
		}
	}()

	publicAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	log.Info("price feed simulator (public) running",
		zap.String("addr", publicAddr),
		zap.String("paths", "/ws,/v1/transfers"),
	)
	if err := http.ListenAndServe(publicAddr, appMux); err != nil {
		log.Fatal("public server error", zap.Error(err))
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
