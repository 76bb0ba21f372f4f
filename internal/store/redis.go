package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voltsim/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over the hot read paths: order books, cleared trades, and balance
// reports, which brokers poll every timeslot. Writes go to the primary and
// refresh or invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh or invalidate cache) ---

func (s *CachedStore) SaveOrderBook(ctx context.Context, ob *model.OrderBook) error {
	if err := s.primary.SaveOrderBook(ctx, ob); err != nil {
		return err
	}
	s.cacheJSON(ctx, orderBookKey(ob.Timeslot), ob)
	return nil
}

func (s *CachedStore) SaveClearedTrade(ctx context.Context, t *model.ClearedTrade) error {
	if err := s.primary.SaveClearedTrade(ctx, t); err != nil {
		return err
	}
	// Invalidate; next read re-populates the full list.
	s.rdb.Del(ctx, tradesKey(t.Timeslot))
	return nil
}

func (s *CachedStore) SaveBalanceReport(ctx context.Context, r *model.BalanceReport) error {
	if err := s.primary.SaveBalanceReport(ctx, r); err != nil {
		return err
	}
	s.cacheJSON(ctx, reportKey(r.Timeslot), r)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOrderBook(ctx context.Context, timeslot int64) (*model.OrderBook, error) {
	data, err := s.rdb.Get(ctx, orderBookKey(timeslot)).Bytes()
	if err == nil {
		var ob model.OrderBook
		if json.Unmarshal(data, &ob) == nil {
			return &ob, nil
		}
	}

	ob, err := s.primary.GetOrderBook(ctx, timeslot)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, orderBookKey(timeslot), ob)
	return ob, nil
}

func (s *CachedStore) ListClearedTrades(ctx context.Context, timeslot int64) ([]model.ClearedTrade, error) {
	data, err := s.rdb.Get(ctx, tradesKey(timeslot)).Bytes()
	if err == nil {
		var trades []model.ClearedTrade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	trades, err := s.primary.ListClearedTrades(ctx, timeslot)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, tradesKey(timeslot), trades)
	return trades, nil
}

func (s *CachedStore) GetBalanceReport(ctx context.Context, timeslot int64) (*model.BalanceReport, error) {
	data, err := s.rdb.Get(ctx, reportKey(timeslot)).Bytes()
	if err == nil {
		var r model.BalanceReport
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.primary.GetBalanceReport(ctx, timeslot)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, reportKey(timeslot), r)
	return r, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateBroker(ctx context.Context, b *model.Broker) error {
	return s.primary.CreateBroker(ctx, b)
}

func (s *CachedStore) GetBroker(ctx context.Context, id string) (*model.Broker, error) {
	return s.primary.GetBroker(ctx, id)
}

func (s *CachedStore) ListBrokers(ctx context.Context) ([]model.Broker, error) {
	return s.primary.ListBrokers(ctx)
}

func (s *CachedStore) SaveAskPriceRange(ctx context.Context, r *model.AskPriceRange) error {
	return s.primary.SaveAskPriceRange(ctx, r)
}

func (s *CachedStore) GetAskPriceRange(ctx context.Context, timeslot int64) (*model.AskPriceRange, error) {
	return s.primary.GetAskPriceRange(ctx, timeslot)
}

func (s *CachedStore) AddMarketTransaction(ctx context.Context, tx *model.MarketTransaction) error {
	return s.primary.AddMarketTransaction(ctx, tx)
}

func (s *CachedStore) ListMarketTransactionsByBroker(ctx context.Context, brokerID string) ([]model.MarketTransaction, error) {
	return s.primary.ListMarketTransactionsByBroker(ctx, brokerID)
}

func (s *CachedStore) GetMarketPosition(ctx context.Context, brokerID string, timeslot int64) (float64, error) {
	return s.primary.GetMarketPosition(ctx, brokerID, timeslot)
}

func (s *CachedStore) AddBalancingTransaction(ctx context.Context, tx *model.BalancingTransaction) error {
	return s.primary.AddBalancingTransaction(ctx, tx)
}

func (s *CachedStore) ListBalancingTransactionsByBroker(ctx context.Context, brokerID string) ([]model.BalancingTransaction, error) {
	return s.primary.ListBalancingTransactionsByBroker(ctx, brokerID)
}

func (s *CachedStore) AddBalancingOrder(ctx context.Context, bo *model.BalancingOrder) error {
	return s.primary.AddBalancingOrder(ctx, bo)
}

func (s *CachedStore) ListBalancingOrders(ctx context.Context) ([]model.BalancingOrder, error) {
	return s.primary.ListBalancingOrders(ctx)
}

func (s *CachedStore) SetNetLoad(ctx context.Context, brokerID string, timeslot int64, kwh float64) error {
	return s.primary.SetNetLoad(ctx, brokerID, timeslot, kwh)
}

func (s *CachedStore) GetNetLoads(ctx context.Context, timeslot int64) (map[string]float64, error) {
	return s.primary.GetNetLoads(ctx, timeslot)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func orderBookKey(ts int64) string { return fmt.Sprintf("orderbook:%d", ts) }
func tradesKey(ts int64) string    { return fmt.Sprintf("trades:%d", ts) }
func reportKey(ts int64) string    { return fmt.Sprintf("report:%d", ts) }
