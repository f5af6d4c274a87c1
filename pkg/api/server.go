// Package api exposes the marketplace over HTTP: per-kind orderbooks, order
// submission with signature verification, match preflight and submission, and
// a WebSocket feed of book and deal events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/taskgrid/taskgrid/pkg/market"
	"github.com/taskgrid/taskgrid/pkg/order"
	"github.com/taskgrid/taskgrid/pkg/storage"
)

// Server is the marketplace gateway.
type Server struct {
	market *market.Client
	store  *storage.Store
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
	srv    *http.Server
}

// NewServer wires the gateway over a market client and an orderbook store.
func NewServer(m *market.Client, store *storage.Store, logger *zap.Logger) *Server {
	log := logger.Sugar()
	s := &Server{
		market: m,
		store:  store,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Orderbook endpoints.
	api.HandleFunc("/orderbook/{kind}", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/orders/{kind}", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/{kind}/{hash}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{kind}/{hash}", s.handleCancelOrder).Methods("DELETE")

	// Deal endpoints.
	api.HandleFunc("/deals/preflight", s.handlePreflight).Methods("POST")
	api.HandleFunc("/deals", s.handleSubmitMatch).Methods("POST")
	api.HandleFunc("/deals/{id}", s.handleGetDeal).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string, allowedOrigins []string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           c.Handler(s.router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Infow("gateway listening", "addr", addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	kind, err := order.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown order kind", err.Error())
		return
	}
	orders, err := s.store.ListOrders(kind)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "orderbook scan failed", err.Error())
		return
	}
	respondJSON(w, OrderbookResponse{Kind: string(kind), Orders: orders, Count: len(orders)})
}

// handleSubmitOrder accepts a signed order into the book. The signature is
// verified against the authorized signer before anything is stored.
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	kind, err := order.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown order kind", err.Error())
		return
	}
	o, err := decodeOrderBody(kind, r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order body", err.Error())
		return
	}

	if err := s.market.VerifyOrder(r.Context(), o); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "order rejected", err.Error())
		return
	}
	h, err := s.market.HashOrder(o)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "order rejected", err.Error())
		return
	}
	if err := s.store.PutOrder(h, o); err != nil {
		respondError(w, http.StatusInternalServerError, "store failed", err.Error())
		return
	}

	s.log.Infow("order accepted", "kind", kind, "hash", h.Hex())
	s.hub.BroadcastToChannel("orderbook:"+string(kind), OrderbookUpdate{
		Type:      "orderbook",
		Kind:      string(kind),
		OrderHash: h.Hex(),
		Action:    "open",
		Timestamp: time.Now().UnixMilli(),
	})
	respondJSON(w, SubmitOrderResponse{OrderHash: h.Hex(), Status: "open"})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	kind, h, ok := s.orderKey(w, r)
	if !ok {
		return
	}
	o, err := s.store.GetOrder(kind, h)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load failed", err.Error())
		return
	}
	respondJSON(w, o)
}

// handleCancelOrder voids the order on the ledger, then drops it from the
// book. The ledger write comes first: a book entry for a canceled order is
// harmless, the reverse is not.
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	kind, h, ok := s.orderKey(w, r)
	if !ok {
		return
	}
	o, err := s.store.GetOrder(kind, h)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load failed", err.Error())
		return
	}

	tx, err := s.market.Cancel(r.Context(), o)
	if errors.Is(err, market.ErrAlreadyCanceled) {
		respondError(w, http.StatusConflict, "already canceled", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, "cancel failed", err.Error())
		return
	}
	if err := s.store.DeleteOrder(kind, h); err != nil {
		s.log.Errorw("drop canceled order from book", "kind", kind, "hash", h.Hex(), "err", err)
	}

	s.hub.BroadcastToChannel("orderbook:"+string(kind), OrderbookUpdate{
		Type:      "orderbook",
		Kind:      string(kind),
		OrderHash: h.Hex(),
		Action:    "canceled",
		Timestamp: time.Now().UnixMilli(),
	})
	respondJSON(w, CancelResponse{OrderHash: h.Hex(), Tx: tx.Hex(), Status: "canceled"})
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMatchRequest(w, r)
	if !ok {
		return
	}
	volume, err := s.market.MatchableVolume(r.Context(), req.App, req.Dataset, req.Workerpool, req.Request)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "orders do not match", err.Error())
		return
	}
	respondJSON(w, PreflightResponse{MatchableVolume: volume})
}

func (s *Server) handleSubmitMatch(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMatchRequest(w, r)
	if !ok {
		return
	}
	deal, err := s.market.SubmitMatch(r.Context(), req.App, req.Dataset, req.Workerpool, req.Request)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "match failed", err.Error())
		return
	}

	rec := storage.DealRecord{
		ID:       deal.ID,
		Volume:   deal.Volume,
		SealedAt: time.Now().UTC(),
	}
	rec.AppHash, _ = s.market.HashOrder(req.App)
	rec.WorkerpoolHash, _ = s.market.HashOrder(req.Workerpool)
	rec.RequestHash, _ = s.market.HashOrder(req.Request)
	if req.Dataset != nil {
		rec.DatasetHash, _ = s.market.HashOrder(req.Dataset)
	}
	if err := s.store.PutDeal(rec); err != nil {
		s.log.Errorw("record deal", "deal", deal.ID.Hex(), "err", err)
	}

	s.hub.BroadcastToChannel("deals", DealUpdate{
		Type:      "deal",
		DealID:    deal.ID.Hex(),
		Volume:    deal.Volume,
		Timestamp: time.Now().UnixMilli(),
	})
	respondJSON(w, DealResponse{DealID: deal.ID.Hex(), Volume: deal.Volume})
}

func (s *Server) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.GetDeal(common.HexToHash(id))
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "deal not found", "")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load failed", err.Error())
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) orderKey(w http.ResponseWriter, r *http.Request) (order.Kind, common.Hash, bool) {
	vars := mux.Vars(r)
	kind, err := order.ParseKind(vars["kind"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown order kind", err.Error())
		return "", common.Hash{}, false
	}
	return kind, common.HexToHash(vars["hash"]), true
}

func decodeMatchRequest(w http.ResponseWriter, r *http.Request) (MatchRequest, bool) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return req, false
	}
	if req.App == nil || req.Workerpool == nil || req.Request == nil {
		respondError(w, http.StatusBadRequest, "incomplete match request",
			"apporder, workerpoolorder and requestorder are required")
		return req, false
	}
	return req, true
}

func decodeOrderBody(kind order.Kind, body io.Reader) (order.Order, error) {
	var o order.Order
	switch kind {
	case order.KindApp:
		o = &order.AppOrder{}
	case order.KindDataset:
		o = &order.DatasetOrder{}
	case order.KindWorkerpool:
		o = &order.WorkerpoolOrder{}
	case order.KindRequest:
		o = &order.RequestOrder{}
	}
	if err := json.NewDecoder(body).Decode(o); err != nil {
		return nil, err
	}
	return o, nil
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}
