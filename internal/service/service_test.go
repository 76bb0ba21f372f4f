package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/voltsim/market-engine/internal/auction"
	"github.com/voltsim/market-engine/internal/config"
	"github.com/voltsim/market-engine/internal/model"
	"github.com/voltsim/market-engine/internal/sim"
	"github.com/voltsim/market-engine/internal/store"
)

type testServer struct {
	router  http.Handler
	store   *store.MemoryStore
	engine  *auction.Engine
	clock   *sim.Clock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := store.NewMemoryStore()
	cfg := config.AuctionConfig{
		DefaultMargin:        0.05,
		DefaultClearingPrice: 40,
		SellerSurplusRatio:   0.5,
		SellerMaxMargin:      0.05,
		MktPosnLimitInitial:  1000,
		MktPosnLimitFinal:    200,
		MinimumOrderQuantity: 0.01,
	}
	eng := auction.NewEngine(cfg, st, nil)
	clock := sim.NewClock(100, 3)
	svc := NewService(st, eng, clock, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/brokers", svc.ListBrokers)
		r.Post("/brokers", svc.CreateBroker)
		r.Get("/brokers/{brokerID}/transactions", svc.ListMarketTransactions)
		r.Post("/orders", svc.SubmitOrder)
		r.Post("/balancing-orders", svc.CreateBalancingOrder)
		r.Post("/netloads", svc.ReportNetLoad)
		r.Get("/timeslots", svc.GetTimeslots)
		r.Get("/orderbooks/{timeslot}", svc.GetOrderBook)
		r.Get("/trades/{timeslot}", svc.ListTrades)
		r.Get("/balance-reports/{timeslot}", svc.GetBalanceReport)
	})

	return &testServer{router: r, store: st, engine: eng, clock: clock}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createBroker(t *testing.T, name string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/brokers", CreateBrokerRequest{Name: name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create broker %q: status %d: %s", name, rec.Code, rec.Body.String())
	}
	var b model.Broker
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode broker: %v", err)
	}
	return b.ID
}

func TestCreateBrokerValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/v1/brokers", CreateBrokerRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty name: status %d, want 400", rec.Code)
	}

	srv.createBroker(t, "acme")
	rec = srv.do(t, http.MethodPost, "/api/v1/brokers", CreateBrokerRequest{Name: "acme"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate name: status %d, want 409", rec.Code)
	}
}

func TestSubmitOrderAccepted(t *testing.T) {
	srv := newTestServer(t)
	brokerID := srv.createBroker(t, "acme")

	rec := srv.do(t, http.MethodPost, "/api/v1/orders", SubmitOrderRequest{
		BrokerID:    brokerID,
		Timeslot:    101,
		QuantityMWh: 5,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var resp SubmitOrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OrderID == "" || resp.Status != "accepted" {
		t.Errorf("response = %+v", resp)
	}
}

func TestSubmitOrderRejections(t *testing.T) {
	srv := newTestServer(t)
	brokerID := srv.createBroker(t, "acme")

	tests := []struct {
		name string
		req  SubmitOrderRequest
		want int
	}{
		{"unknown broker", SubmitOrderRequest{BrokerID: "nope", Timeslot: 101, QuantityMWh: 5}, http.StatusNotFound},
		{"missing broker", SubmitOrderRequest{Timeslot: 101, QuantityMWh: 5}, http.StatusBadRequest},
		{"disabled timeslot", SubmitOrderRequest{BrokerID: brokerID, Timeslot: 999, QuantityMWh: 5}, http.StatusConflict},
		{"below minimum", SubmitOrderRequest{BrokerID: brokerID, Timeslot: 101, QuantityMWh: 0.001}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/api/v1/orders", tt.req)
			if rec.Code != tt.want {
				t.Errorf("status %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestOrderBookEndpoint(t *testing.T) {
	srv := newTestServer(t)
	buyer := srv.createBroker(t, "buyer")
	seller := srv.createBroker(t, "seller")

	rec := srv.do(t, http.MethodGet, "/api/v1/orderbooks/101", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status before clearing = %d, want 404", rec.Code)
	}

	price := 50.0
	askPrice := 30.0
	srv.do(t, http.MethodPost, "/api/v1/orders", SubmitOrderRequest{
		BrokerID: buyer, Timeslot: 101, QuantityMWh: 10, LimitPrice: &price,
	})
	srv.do(t, http.MethodPost, "/api/v1/orders", SubmitOrderRequest{
		BrokerID: seller, Timeslot: 101, QuantityMWh: -10, LimitPrice: &askPrice,
	})
	srv.engine.Clear(context.Background(), srv.clock.Current(), srv.clock.Enabled())

	rec = srv.do(t, http.MethodGet, "/api/v1/orderbooks/101", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status after clearing = %d, want 200", rec.Code)
	}
	var ob model.OrderBook
	if err := json.Unmarshal(rec.Body.Bytes(), &ob); err != nil {
		t.Fatalf("decode order book: %v", err)
	}
	if ob.ClearingPrice == nil || *ob.ClearingPrice != 31.5 {
		t.Errorf("clearing price = %v, want 31.5", ob.ClearingPrice)
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/brokers/"+buyer+"/transactions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transactions status = %d, want 200", rec.Code)
	}
	var txs []model.MarketTransaction
	if err := json.Unmarshal(rec.Body.Bytes(), &txs); err != nil {
		t.Fatalf("decode transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Errorf("transactions = %d, want 1", len(txs))
	}
}

func TestBalancingOrderValidation(t *testing.T) {
	srv := newTestServer(t)
	brokerID := srv.createBroker(t, "acme")

	rec := srv.do(t, http.MethodPost, "/api/v1/balancing-orders", BalancingOrderRequest{
		BrokerID: brokerID, TariffID: "t1", PowerType: "WIND", PriceKWh: 0.03,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid power type: status %d, want 400", rec.Code)
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/balancing-orders", BalancingOrderRequest{
		BrokerID: brokerID, TariffID: "t1", PowerType: model.PowerTypeConsumption, PriceKWh: 0.03,
	})
	if rec.Code != http.StatusCreated {
		t.Errorf("valid order: status %d, want 201: %s", rec.Code, rec.Body.String())
	}
}

func TestNetLoadEndpoint(t *testing.T) {
	srv := newTestServer(t)
	brokerID := srv.createBroker(t, "acme")

	rec := srv.do(t, http.MethodPost, "/api/v1/netloads", NetLoadRequest{
		BrokerID: brokerID, Timeslot: 100, KWh: -1200,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status %d, want 204", rec.Code)
	}

	loads, err := srv.store.GetNetLoads(context.Background(), 100)
	if err != nil {
		t.Fatalf("GetNetLoads: %v", err)
	}
	if loads[brokerID] != -1200 {
		t.Errorf("net load = %v, want -1200", loads[brokerID])
	}
}

func TestTimeslotsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/v1/timeslots", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}

	var resp struct {
		Current int64   `json:"current"`
		Enabled []int64 `json:"enabled"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Current != 100 {
		t.Errorf("current = %d, want 100", resp.Current)
	}
	if len(resp.Enabled) != 3 || resp.Enabled[0] != 101 {
		t.Errorf("enabled = %v, want [101 102 103]", resp.Enabled)
	}
}
