// Package service provides the HTTP handlers for broker registration, order
// submission, net-load reporting, and the query surface over clearing and
// settlement results.
package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/voltsim/market-engine/internal/auction"
	"github.com/voltsim/market-engine/internal/model"
	"github.com/voltsim/market-engine/internal/sim"
	"github.com/voltsim/market-engine/internal/store"
)

// submitRate caps per-broker order submissions; a broker gets a sustained
// rate with a small burst allowance.
const (
	submitRate  = rate.Limit(50)
	submitBurst = 100
)

// Service handles market API operations.
type Service struct {
	store   store.Store
	auction *auction.Engine
	clock   *sim.Clock
	hub     *WSHub

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService creates a new market service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, eng *auction.Engine, clock *sim.Clock, hub *WSHub) *Service {
	return &Service{
		store:    st,
		auction:  eng,
		clock:    clock,
		hub:      hub,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the submit rate limiter for a broker, creating it on
// first use.
func (s *Service) limiterFor(brokerID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[brokerID]
	if !ok {
		l = rate.NewLimiter(submitRate, submitBurst)
		s.limiters[brokerID] = l
	}
	return l
}

// --- Request types ---

// CreateBrokerRequest is the JSON body for broker registration.
type CreateBrokerRequest struct {
	Name      string `json:"name"`
	Wholesale bool   `json:"wholesale"`
}

// SubmitOrderRequest is the JSON body for POST /orders. QuantityMWh is
// signed: positive buys, negative sells. A nil limit price is a market
// order.
type SubmitOrderRequest struct {
	BrokerID    string   `json:"broker_id"`
	Timeslot    int64    `json:"timeslot"`
	QuantityMWh float64  `json:"quantity_mwh"`
	LimitPrice  *float64 `json:"limit_price,omitempty"`
}

// SubmitOrderResponse is the JSON body returned from POST /orders.
type SubmitOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// BalancingOrderRequest is the JSON body for POST /balancing-orders.
type BalancingOrderRequest struct {
	BrokerID  string          `json:"broker_id"`
	TariffID  string          `json:"tariff_id"`
	PowerType model.PowerType `json:"power_type"`
	PriceKWh  float64         `json:"price_kwh"`
}

// NetLoadRequest is the JSON body for POST /netloads.
type NetLoadRequest struct {
	BrokerID string  `json:"broker_id"`
	Timeslot int64   `json:"timeslot"`
	KWh      float64 `json:"kwh"`
}

// --- HTTP Handlers ---

// CreateBroker handles POST /api/v1/brokers
func (s *Service) CreateBroker(w http.ResponseWriter, r *http.Request) {
	var req CreateBrokerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	broker := &model.Broker{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Wholesale: req.Wholesale,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateBroker(r.Context(), broker); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("broker registered", "id", broker.ID, "name", broker.Name, "wholesale", broker.Wholesale)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(broker)
}

// ListBrokers handles GET /api/v1/brokers
func (s *Service) ListBrokers(w http.ResponseWriter, r *http.Request) {
	brokers, err := s.store.ListBrokers(r.Context())
	if err != nil {
		writeError(w, "failed to list brokers", http.StatusInternalServerError)
		return
	}
	if brokers == nil {
		brokers = []model.Broker{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(brokers)
}

// SubmitOrder handles POST /api/v1/orders
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BrokerID == "" {
		writeError(w, "broker_id is required", http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetBroker(r.Context(), req.BrokerID); err != nil {
		writeError(w, "unknown broker: "+req.BrokerID, http.StatusNotFound)
		return
	}
	if !s.limiterFor(req.BrokerID).Allow() {
		writeError(w, "submission rate exceeded", http.StatusTooManyRequests)
		return
	}

	order := &model.Order{
		ID:          uuid.New().String(),
		BrokerID:    req.BrokerID,
		Timeslot:    req.Timeslot,
		QuantityMWh: req.QuantityMWh,
		LimitPrice:  req.LimitPrice,
		SubmittedAt: time.Now().UTC(),
	}

	if err := s.auction.Submit(order, s.clock.Enabled()); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, auction.ErrTimeslotDisabled) {
			status = http.StatusConflict
		}
		writeError(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitOrderResponse{OrderID: order.ID, Status: "accepted"})
}

// CreateBalancingOrder handles POST /api/v1/balancing-orders
func (s *Service) CreateBalancingOrder(w http.ResponseWriter, r *http.Request) {
	var req BalancingOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BrokerID == "" {
		writeError(w, "broker_id is required", http.StatusBadRequest)
		return
	}
	if !req.PowerType.Valid() {
		writeError(w, "power_type must be CONSUMPTION or PRODUCTION", http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetBroker(r.Context(), req.BrokerID); err != nil {
		writeError(w, "unknown broker: "+req.BrokerID, http.StatusNotFound)
		return
	}

	bo := &model.BalancingOrder{
		ID:        uuid.New().String(),
		BrokerID:  req.BrokerID,
		TariffID:  req.TariffID,
		PowerType: req.PowerType,
		PriceKWh:  req.PriceKWh,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AddBalancingOrder(r.Context(), bo); err != nil {
		writeError(w, "failed to record balancing order", http.StatusInternalServerError)
		return
	}

	slog.Info("balancing order registered",
		"id", bo.ID, "broker", bo.BrokerID, "power_type", bo.PowerType, "price_kwh", bo.PriceKWh)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(bo)
}

// ReportNetLoad handles POST /api/v1/netloads
func (s *Service) ReportNetLoad(w http.ResponseWriter, r *http.Request) {
	var req NetLoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BrokerID == "" {
		writeError(w, "broker_id is required", http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetBroker(r.Context(), req.BrokerID); err != nil {
		writeError(w, "unknown broker: "+req.BrokerID, http.StatusNotFound)
		return
	}

	if err := s.store.SetNetLoad(r.Context(), req.BrokerID, req.Timeslot, req.KWh); err != nil {
		writeError(w, "failed to record net load", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetOrderBook handles GET /api/v1/orderbooks/{timeslot}
func (s *Service) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	ts, ok := timeslotParam(w, r)
	if !ok {
		return
	}
	ob, err := s.store.GetOrderBook(r.Context(), ts)
	if err != nil {
		writeError(w, "order book not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ob)
}

// ListTrades handles GET /api/v1/trades/{timeslot}
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	ts, ok := timeslotParam(w, r)
	if !ok {
		return
	}
	trades, err := s.store.ListClearedTrades(r.Context(), ts)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.ClearedTrade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetBalanceReport handles GET /api/v1/balance-reports/{timeslot}
func (s *Service) GetBalanceReport(w http.ResponseWriter, r *http.Request) {
	ts, ok := timeslotParam(w, r)
	if !ok {
		return
	}
	report, err := s.store.GetBalanceReport(r.Context(), ts)
	if err != nil {
		writeError(w, "balance report not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// ListMarketTransactions handles GET /api/v1/brokers/{brokerID}/transactions
func (s *Service) ListMarketTransactions(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")

	txs, err := s.store.ListMarketTransactionsByBroker(r.Context(), brokerID)
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.MarketTransaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txs)
}

// ListBalancingTransactions handles GET /api/v1/brokers/{brokerID}/balancing-transactions
func (s *Service) ListBalancingTransactions(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")

	txs, err := s.store.ListBalancingTransactionsByBroker(r.Context(), brokerID)
	if err != nil {
		writeError(w, "failed to list balancing transactions", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.BalancingTransaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txs)
}

// GetTimeslots handles GET /api/v1/timeslots
// Returns the current timeslot and the enabled trading window.
func (s *Service) GetTimeslots(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"current": s.clock.Current(),
		"enabled": s.clock.Enabled(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func timeslotParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ts, err := strconv.ParseInt(chi.URLParam(r, "timeslot"), 10, 64)
	if err != nil {
		writeError(w, "invalid timeslot", http.StatusBadRequest)
		return 0, false
	}
	return ts, true
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
