package settlement

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/voltsim/market-engine/internal/capacity"
	"github.com/voltsim/market-engine/internal/config"
	"github.com/voltsim/market-engine/internal/model"
	"github.com/voltsim/market-engine/internal/store"
)

func ptr(v float64) *float64 { return &v }

func testCfg(process string) config.BalancingConfig {
	return config.BalancingConfig{
		SettlementProcess: process,
		// Min == Max pins the random draw for deterministic tests.
		BalancingCostMin: -0.04,
		BalancingCostMax: -0.04,
		DefaultSpotPrice: 30.0,
	}
}

func addBroker(t *testing.T, st *store.MemoryStore, id string, wholesale bool) {
	t.Helper()
	err := st.CreateBroker(context.Background(), &model.Broker{
		ID: id, Name: id, Wholesale: wholesale, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateBroker(%s): %v", id, err)
	}
}

// saveAskRange pins the marginal prices: pPlus = -max/1000, pMinus = -min/1000.
func saveAskRange(t *testing.T, st *store.MemoryStore, ts int64, min, max float64) {
	t.Helper()
	err := st.SaveAskPriceRange(context.Background(), &model.AskPriceRange{
		Timeslot: ts, Min: ptr(min), Max: ptr(max),
	})
	if err != nil {
		t.Fatalf("SaveAskPriceRange: %v", err)
	}
}

func brokerCharge(t *testing.T, st *store.MemoryStore, brokerID string, ts int64) (float64, bool) {
	t.Helper()
	txs, err := st.ListBalancingTransactionsByBroker(context.Background(), brokerID)
	if err != nil {
		t.Fatalf("ListBalancingTransactionsByBroker: %v", err)
	}
	for _, tx := range txs {
		if tx.Timeslot == ts {
			return tx.Charge.InexactFloat64(), true
		}
	}
	return 0, false
}

func TestSettleDeficitAtMarginalPrice(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	addBroker(t, st, "b1", false)
	st.SetNetLoad(ctx, "b1", 400, -1000)
	saveAskRange(t, st, 400, 50, 50) // pPlus = -0.05

	e := NewEngine(testCfg(config.SettlementSimple), st, capacity.NewMemoryController(), nil)
	e.Settle(ctx, 400)

	// Total allocation 40 cannot reach the floor of 50, so the broker
	// settles at its individual marginal price.
	charge, ok := brokerCharge(t, st, "b1", 400)
	if !ok {
		t.Fatal("no balancing transaction posted")
	}
	if math.Abs(charge+50) > 1e-6 {
		t.Errorf("charge = %v, want -50", charge)
	}

	report, err := st.GetBalanceReport(ctx, 400)
	if err != nil {
		t.Fatalf("GetBalanceReport: %v", err)
	}
	if math.Abs(report.NetImbalanceKWh+1000) > 1e-6 {
		t.Errorf("net imbalance = %v, want -1000", report.NetImbalanceKWh)
	}
}

func TestSettleProportionalSplit(t *testing.T) {
	cfg := testCfg(config.SettlementSimple)
	cfg.BalancingCostMin = -0.06
	cfg.BalancingCostMax = -0.06

	st := store.NewMemoryStore()
	ctx := context.Background()
	addBroker(t, st, "b1", false)
	addBroker(t, st, "b2", false)
	st.SetNetLoad(ctx, "b1", 400, -1000)
	st.SetNetLoad(ctx, "b2", 400, -3000)
	saveAskRange(t, st, 400, 50, 50) // pPlus = -0.05, floors 50 and 150

	e := NewEngine(cfg, st, capacity.NewMemoryController(), nil)
	e.Settle(ctx, 400)

	// Total cost 4000*0.06 = 240 splits 1:3 by imbalance magnitude.
	c1, ok := brokerCharge(t, st, "b1", 400)
	if !ok {
		t.Fatal("no transaction for b1")
	}
	c2, ok := brokerCharge(t, st, "b2", 400)
	if !ok {
		t.Fatal("no transaction for b2")
	}
	if math.Abs(c1+60) > 1e-6 {
		t.Errorf("b1 charge = %v, want -60", c1)
	}
	if math.Abs(c2+180) > 1e-6 {
		t.Errorf("b2 charge = %v, want -180", c2)
	}
}

func TestSettleBalancedBrokerNotCharged(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	addBroker(t, st, "flat", false)
	// Position and net load cancel exactly: 2 MWh bought, 2000 kWh consumed.
	st.AddMarketTransaction(ctx, &model.MarketTransaction{
		ID: "t1", BrokerID: "flat", Timeslot: 400, QuantityMWh: 2,
	})
	st.SetNetLoad(ctx, "flat", 400, -2000)
	saveAskRange(t, st, 400, 50, 50)

	e := NewEngine(testCfg(config.SettlementSimple), st, capacity.NewMemoryController(), nil)
	e.Settle(ctx, 400)

	if _, ok := brokerCharge(t, st, "flat", 400); ok {
		t.Error("balanced broker received a balancing transaction")
	}
}

func TestSettleWholesaleBrokerSkipped(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	addBroker(t, st, "grid", true)
	st.SetNetLoad(ctx, "grid", 400, -1000)
	saveAskRange(t, st, 400, 50, 50)

	e := NewEngine(testCfg(config.SettlementSimple), st, capacity.NewMemoryController(), nil)
	e.Settle(ctx, 400)

	if _, ok := brokerCharge(t, st, "grid", 400); ok {
		t.Error("wholesale broker was settled")
	}
}

func TestSettleDefaultSpotPriceFallback(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	addBroker(t, st, "b1", false)
	st.SetNetLoad(ctx, "b1", 400, -1000)
	// No ask price range saved: pPlus falls back to -30/1000 = -0.03.

	e := NewEngine(testCfg(config.SettlementSimple), st, capacity.NewMemoryController(), nil)
	e.Settle(ctx, 400)

	charge, ok := brokerCharge(t, st, "b1", 400)
	if !ok {
		t.Fatal("no balancing transaction posted")
	}
	if math.Abs(charge+30) > 1e-6 {
		t.Errorf("charge = %v, want -30 at default spot price", charge)
	}
}

func TestStrategyFallbackOnUnknownName(t *testing.T) {
	s := newStrategy("bogus", nil)
	if _, ok := s.(*proportionalStrategy); !ok {
		t.Fatalf("newStrategy(bogus) = %T, want *proportionalStrategy", s)
	}
}

func TestExerciseStrategySelected(t *testing.T) {
	s := newStrategy(config.SettlementStatic, capacity.NewMemoryController())
	if _, ok := s.(*exerciseStrategy); !ok {
		t.Fatalf("newStrategy(static) = %T, want *exerciseStrategy", s)
	}
}
