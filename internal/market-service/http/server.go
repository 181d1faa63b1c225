package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/engine"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/market-service/dto"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/internal/market-service/ws"
	"github.com/tmelvin-bc-web3/collateral-combat-sub007/pkg/contracts/events"
)

// Publisher is the slice of the kafka producer the handlers need.
type Publisher interface {
	PublishWagerPlaced(context.Context, events.WagerPlaced) error
	PublishOutcomeResolved(context.Context, events.OutcomeResolved) error
}

// Store is the durable shadow the handlers write through.
type Store interface {
	InsertMarket(ctx context.Context, s engine.Snapshot, asset, competitorA, competitorB string) error
	UpdateMarketStatus(ctx context.Context, id string, status engine.Status, endPrice int64) error
	InsertWager(ctx context.Context, w engine.Wager, userID string) error
	InsertLock(ctx context.Context, l engine.OddsLock, userID string) error
	MarkLockConsumed(ctx context.Context, lockID string) error
}

// QuoteCache is the display-quote cache plus its pub/sub fanout.
type QuoteCache interface {
	Get(ctx context.Context, marketID string, side engine.Side) (engine.Quote, bool, error)
	Set(ctx context.Context, q engine.Quote) error
	Publish(ctx context.Context, channel string, upd any) error
}

// Server exposes the engine's public operations over HTTP. The engine does
// the arguing; handlers only translate errors to status codes.
type Server struct {
	log          *zap.Logger
	eng          *engine.Engine
	repo         Store
	quotes       QuoteCache
	publ         Publisher
	hub          *ws.Hub
	quoteChannel string
}

func NewServer(log *zap.Logger, eng *engine.Engine, r Store, q QuoteCache, p Publisher, hub *ws.Hub, quoteChannel string) *Server {
	return &Server{log: log, eng: eng, repo: r, quotes: q, publ: p, hub: hub, quoteChannel: quoteChannel}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/battles", s.createBattle)
	r.Get("/v1/markets/{id}", s.getSnapshot)
	r.Get("/v1/markets/{id}/odds", s.getOddsQuote)
	r.Post("/v1/markets/{id}/wagers", s.placeWager)
	r.Post("/v1/markets/{id}/locks", s.reserveLock)
	r.Post("/v1/markets/{id}/performance", s.updatePerformance)
	r.Post("/v1/markets/{id}/cancel", s.cancelMarket)
	r.Post("/v1/locks/{id}/confirm", s.confirmLock)
	r.Post("/v1/admin/pause", s.setPaused)
	r.Get("/v1/admin/totals", s.getTotals)
	r.Get("/ws", s.hub.HandleWS)
	return r
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request) {
	var req dto.PauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	s.eng.SetPaused(req.Paused)
	s.log.Warn("pause flag changed", zap.Bool("paused", req.Paused))
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

func (s *Server) getTotals(w http.ResponseWriter, r *http.Request) {
	volume, fees := s.eng.Totals()
	writeJSON(w, http.StatusOK, dto.TotalsResponse{Volume: volume, Fees: fees})
}

func (s *Server) createBattle(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	snap, err := s.eng.CreateBattle(req.CompetitorA, req.CompetitorB)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.repo.InsertMarket(r.Context(), snap, "", req.CompetitorA, req.CompetitorB); err != nil {
		s.log.Error("persist battle", zap.String("marketId", snap.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.eng.GetSnapshot(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getOddsQuote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	side := engine.Side(r.URL.Query().Get("side"))

	// display path: cached quote is good enough
	if q, ok, _ := s.quotes.Get(r.Context(), id, side); ok {
		writeJSON(w, http.StatusOK, dto.QuoteResponse{
			MarketID: q.ParentID, Side: string(q.Side), OddsBps: q.OddsBps, AsOf: q.AsOf,
		})
		return
	}

	q, err := s.eng.QuoteOdds(id, side)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	_ = s.quotes.Set(r.Context(), q)
	writeJSON(w, http.StatusOK, dto.QuoteResponse{
		MarketID: q.ParentID, Side: string(q.Side), OddsBps: q.OddsBps, AsOf: q.AsOf,
	})
}

func (s *Server) placeWager(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req dto.PlaceWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}

	wg, err := s.eng.PlaceWager(id, engine.Side(req.Side), req.Amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	if err := s.repo.InsertWager(r.Context(), wg, req.UserID); err != nil {
		s.log.Error("persist wager", zap.String("wagerId", wg.ID), zap.Error(err))
	}
	snap, _ := s.eng.GetSnapshot(id)
	_ = s.publ.PublishWagerPlaced(r.Context(), events.WagerPlaced{
		WagerID:       wg.ID,
		MarketID:      id,
		MarketKind:    string(snap.Kind),
		UserID:        req.UserID,
		Side:          string(wg.Side),
		Amount:        wg.Amount,
		LockedOddsBps: wg.LockedOddsBps,
	})

	s.broadcastQuotes(r.Context(), id)

	writeJSON(w, http.StatusCreated, dto.WagerResponse{
		WagerID: wg.ID, MarketID: id, Side: string(wg.Side),
		Amount: wg.Amount, LockedOddsBps: wg.LockedOddsBps, Status: string(wg.Status),
	})
}

// broadcastQuotes refreshes the cached display quotes for both sides and
// pushes them out on the pub/sub channel after anything moved the pools.
func (s *Server) broadcastQuotes(ctx context.Context, marketID string) {
	payload := make(map[string]int64, 2)
	for _, side := range []engine.Side{engine.SideLong, engine.SideShort} {
		q, err := s.eng.QuoteOdds(marketID, side)
		if err != nil {
			return
		}
		_ = s.quotes.Set(ctx, q)
		payload[string(side)] = q.OddsBps
	}
	if err := s.quotes.Publish(ctx, s.quoteChannel, ws.QuoteUpdate{MarketID: marketID, Payload: payload}); err != nil {
		s.log.Warn("quote broadcast", zap.String("marketId", marketID), zap.Error(err))
	}
}

func (s *Server) reserveLock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req dto.ReserveLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}

	l, err := s.eng.ReserveLock(id, engine.Side(req.Side), req.Amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.repo.InsertLock(r.Context(), l, req.UserID); err != nil {
		s.log.Error("persist lock", zap.String("lockId", l.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, dto.LockResponse{
		LockID: l.ID, MarketID: l.ParentID, Side: string(l.Side),
		Amount: l.Amount, LockedOddsBps: l.LockedOddsBps, ExpiresAt: l.ExpiresAt,
	})
}

func (s *Server) confirmLock(w http.ResponseWriter, r *http.Request) {
	lockID := chi.URLParam(r, "id")
	var req dto.ConfirmLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}

	wg, err := s.eng.ConfirmLock(lockID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	if err := s.repo.MarkLockConsumed(r.Context(), lockID); err != nil {
		s.log.Error("mark lock consumed", zap.String("lockId", lockID), zap.Error(err))
	}
	if err := s.repo.InsertWager(r.Context(), wg, req.UserID); err != nil {
		s.log.Error("persist wager", zap.String("wagerId", wg.ID), zap.Error(err))
	}
	snap, _ := s.eng.GetSnapshot(wg.ParentID)
	_ = s.publ.PublishWagerPlaced(r.Context(), events.WagerPlaced{
		WagerID:       wg.ID,
		MarketID:      wg.ParentID,
		MarketKind:    string(snap.Kind),
		UserID:        req.UserID,
		Side:          string(wg.Side),
		Amount:        wg.Amount,
		LockedOddsBps: wg.LockedOddsBps,
		LockID:        lockID,
	})
	s.broadcastQuotes(r.Context(), wg.ParentID)

	writeJSON(w, http.StatusCreated, dto.WagerResponse{
		WagerID: wg.ID, MarketID: wg.ParentID, Side: string(wg.Side),
		Amount: wg.Amount, LockedOddsBps: wg.LockedOddsBps, Status: string(wg.Status),
	})
}

func (s *Server) updatePerformance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req dto.PerformanceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if err := s.eng.UpdatePerformance(id, req.PerfA, req.PerfB); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.broadcastQuotes(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.eng.Cancel(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if err := s.repo.UpdateMarketStatus(r.Context(), id, engine.StatusCancelled, 0); err != nil {
		s.log.Error("persist cancel", zap.String("marketId", id), zap.Error(err))
	}

	// The refunds ride the same durable pipeline as winnings: the
	// settlement worker sees the cancelled market and records the
	// stake-back distribution for the payout worker.
	snap, _ := s.eng.GetSnapshot(id)
	if err := s.publ.PublishOutcomeResolved(r.Context(), events.OutcomeResolved{
		MarketID:   id,
		MarketKind: string(snap.Kind),
	}); err != nil {
		s.log.Error("publish cancellation", zap.String("marketId", id), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, res)
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
// The specific reason always travels with the rejection.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var (
		verr *engine.ValidationError
		serr *engine.StateError
		lerr *engine.LockExpiredError
		cerr *engine.ConflictingOutcomeError
		perr *engine.PrecisionError
	)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrPaused):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &lerr):
		writeError(w, http.StatusGone, err.Error())
	case errors.As(err, &serr), errors.As(err, &cerr):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &perr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.log.Error("unhandled engine error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, dto.ErrorResponse{Error: msg})
}
