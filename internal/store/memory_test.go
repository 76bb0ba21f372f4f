package store

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/voltsim/market-engine/internal/model"
)

func TestMemoryStoreBrokers(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	b := &model.Broker{ID: "b1", Name: "acme", CreatedAt: time.Now().UTC()}
	if err := st.CreateBroker(ctx, b); err != nil {
		t.Fatalf("CreateBroker: %v", err)
	}

	got, err := st.GetBroker(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBroker: %v", err)
	}
	if got.Name != "acme" {
		t.Errorf("Name = %q, want acme", got.Name)
	}

	// Duplicate name rejected.
	if err := st.CreateBroker(ctx, &model.Broker{ID: "b2", Name: "acme"}); err == nil {
		t.Error("CreateBroker accepted duplicate name")
	}

	if _, err := st.GetBroker(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBroker(missing) err = %v, want ErrNotFound", err)
	}

	brokers, err := st.ListBrokers(ctx)
	if err != nil {
		t.Fatalf("ListBrokers: %v", err)
	}
	if len(brokers) != 1 {
		t.Errorf("ListBrokers = %d, want 1", len(brokers))
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	b := &model.Broker{ID: "b1", Name: "acme"}
	st.CreateBroker(ctx, b)

	got, _ := st.GetBroker(ctx, "b1")
	got.Name = "mutated"

	again, _ := st.GetBroker(ctx, "b1")
	if again.Name != "acme" {
		t.Errorf("store state mutated through returned copy: %q", again.Name)
	}
}

func TestMemoryStorePositionAdvancesWithTransactions(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	pos, err := st.GetMarketPosition(ctx, "b1", 400)
	if err != nil {
		t.Fatalf("GetMarketPosition: %v", err)
	}
	if pos != 0 {
		t.Fatalf("initial position = %v, want 0", pos)
	}

	st.AddMarketTransaction(ctx, &model.MarketTransaction{
		ID: "t1", BrokerID: "b1", Timeslot: 400, QuantityMWh: 10,
		Price: decimal.NewFromFloat(-31.5),
	})
	st.AddMarketTransaction(ctx, &model.MarketTransaction{
		ID: "t2", BrokerID: "b1", Timeslot: 400, QuantityMWh: -4,
		Price: decimal.NewFromFloat(32),
	})

	pos, _ = st.GetMarketPosition(ctx, "b1", 400)
	if math.Abs(pos-6) > 1e-9 {
		t.Errorf("position = %v, want 6", pos)
	}

	// Positions are per timeslot.
	pos, _ = st.GetMarketPosition(ctx, "b1", 401)
	if pos != 0 {
		t.Errorf("position in other timeslot = %v, want 0", pos)
	}

	txs, _ := st.ListMarketTransactionsByBroker(ctx, "b1")
	if len(txs) != 2 {
		t.Errorf("transactions = %d, want 2", len(txs))
	}
}

func TestMemoryStoreOrderBookRoundTrip(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if _, err := st.GetOrderBook(ctx, 400); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetOrderBook(missing) err = %v, want ErrNotFound", err)
	}

	price := 31.5
	ob := &model.OrderBook{Timeslot: 400, ClearingPrice: &price, ClearedAt: time.Now().UTC()}
	if err := st.SaveOrderBook(ctx, ob); err != nil {
		t.Fatalf("SaveOrderBook: %v", err)
	}

	got, err := st.GetOrderBook(ctx, 400)
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if got.ClearingPrice == nil || *got.ClearingPrice != 31.5 {
		t.Errorf("clearing price = %v, want 31.5", got.ClearingPrice)
	}
}

func TestMemoryStoreNetLoads(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	st.SetNetLoad(ctx, "b1", 400, -1000)
	st.SetNetLoad(ctx, "b2", 400, 250)
	st.SetNetLoad(ctx, "b1", 400, -1200) // overwrite

	loads, err := st.GetNetLoads(ctx, 400)
	if err != nil {
		t.Fatalf("GetNetLoads: %v", err)
	}
	if loads["b1"] != -1200 || loads["b2"] != 250 {
		t.Errorf("loads = %v, want b1 -1200, b2 250", loads)
	}

	empty, _ := st.GetNetLoads(ctx, 500)
	if len(empty) != 0 {
		t.Errorf("loads for unreported timeslot = %v, want empty", empty)
	}
}

func TestMemoryStoreBalanceReports(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if _, err := st.GetBalanceReport(ctx, 400); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetBalanceReport(missing) err = %v, want ErrNotFound", err)
	}

	st.SaveBalanceReport(ctx, &model.BalanceReport{Timeslot: 400, NetImbalanceKWh: -750})
	got, err := st.GetBalanceReport(ctx, 400)
	if err != nil {
		t.Fatalf("GetBalanceReport: %v", err)
	}
	if got.NetImbalanceKWh != -750 {
		t.Errorf("net imbalance = %v, want -750", got.NetImbalanceKWh)
	}
}
