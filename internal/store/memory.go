package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/voltsim/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu              sync.RWMutex
	brokers         map[string]*model.Broker
	orderBooks      map[int64]*model.OrderBook
	trades          map[int64][]model.ClearedTrade
	askRanges       map[int64]*model.AskPriceRange
	marketTxs       []model.MarketTransaction
	positions       map[positionKey]float64
	balancingTxs    []model.BalancingTransaction
	balancingOrders []model.BalancingOrder
	netLoads        map[int64]map[string]float64
	reports         map[int64]*model.BalanceReport
}

type positionKey struct {
	brokerID string
	timeslot int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		brokers:    make(map[string]*model.Broker),
		orderBooks: make(map[int64]*model.OrderBook),
		trades:     make(map[int64][]model.ClearedTrade),
		askRanges:  make(map[int64]*model.AskPriceRange),
		positions:  make(map[positionKey]float64),
		netLoads:   make(map[int64]map[string]float64),
		reports:    make(map[int64]*model.BalanceReport),
	}
}

func (s *MemoryStore) CreateBroker(_ context.Context, b *model.Broker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.brokers {
		if existing.Name == b.Name {
			return fmt.Errorf("broker %q already registered", b.Name)
		}
	}
	copy := *b
	s.brokers[b.ID] = &copy
	return nil
}

func (s *MemoryStore) GetBroker(_ context.Context, id string) (*model.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.brokers[id]
	if !ok {
		return nil, fmt.Errorf("broker %s: %w", id, ErrNotFound)
	}
	copy := *b
	return &copy, nil
}

func (s *MemoryStore) ListBrokers(_ context.Context) ([]model.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	brokers := make([]model.Broker, 0, len(s.brokers))
	for _, b := range s.brokers {
		brokers = append(brokers, *b)
	}
	return brokers, nil
}

func (s *MemoryStore) SaveOrderBook(_ context.Context, ob *model.OrderBook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *ob
	s.orderBooks[ob.Timeslot] = &copy
	return nil
}

func (s *MemoryStore) GetOrderBook(_ context.Context, timeslot int64) (*model.OrderBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ob, ok := s.orderBooks[timeslot]
	if !ok {
		return nil, fmt.Errorf("order book for timeslot %d: %w", timeslot, ErrNotFound)
	}
	copy := *ob
	return &copy, nil
}

func (s *MemoryStore) SaveClearedTrade(_ context.Context, t *model.ClearedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades[t.Timeslot] = append(s.trades[t.Timeslot], *t)
	return nil
}

func (s *MemoryStore) ListClearedTrades(_ context.Context, timeslot int64) ([]model.ClearedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.ClearedTrade(nil), s.trades[timeslot]...), nil
}

func (s *MemoryStore) SaveAskPriceRange(_ context.Context, r *model.AskPriceRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *r
	s.askRanges[r.Timeslot] = &copy
	return nil
}

func (s *MemoryStore) GetAskPriceRange(_ context.Context, timeslot int64) (*model.AskPriceRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.askRanges[timeslot]
	if !ok {
		return nil, fmt.Errorf("ask price range for timeslot %d: %w", timeslot, ErrNotFound)
	}
	copy := *r
	return &copy, nil
}

func (s *MemoryStore) AddMarketTransaction(_ context.Context, tx *model.MarketTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.marketTxs = append(s.marketTxs, *tx)
	key := positionKey{brokerID: tx.BrokerID, timeslot: tx.Timeslot}
	s.positions[key] += tx.QuantityMWh
	return nil
}

func (s *MemoryStore) ListMarketTransactionsByBroker(_ context.Context, brokerID string) ([]model.MarketTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.MarketTransaction
	for _, tx := range s.marketTxs {
		if tx.BrokerID == brokerID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetMarketPosition(_ context.Context, brokerID string, timeslot int64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.positions[positionKey{brokerID: brokerID, timeslot: timeslot}], nil
}

func (s *MemoryStore) AddBalancingTransaction(_ context.Context, tx *model.BalancingTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balancingTxs = append(s.balancingTxs, *tx)
	return nil
}

func (s *MemoryStore) ListBalancingTransactionsByBroker(_ context.Context, brokerID string) ([]model.BalancingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.BalancingTransaction
	for _, tx := range s.balancingTxs {
		if tx.BrokerID == brokerID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *MemoryStore) AddBalancingOrder(_ context.Context, bo *model.BalancingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balancingOrders = append(s.balancingOrders, *bo)
	return nil
}

func (s *MemoryStore) ListBalancingOrders(_ context.Context) ([]model.BalancingOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.BalancingOrder(nil), s.balancingOrders...), nil
}

func (s *MemoryStore) SetNetLoad(_ context.Context, brokerID string, timeslot int64, kwh float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loads, ok := s.netLoads[timeslot]
	if !ok {
		loads = make(map[string]float64)
		s.netLoads[timeslot] = loads
	}
	loads[brokerID] = kwh
	return nil
}

func (s *MemoryStore) GetNetLoads(_ context.Context, timeslot int64) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loads := make(map[string]float64, len(s.netLoads[timeslot]))
	for broker, kwh := range s.netLoads[timeslot] {
		loads[broker] = kwh
	}
	return loads, nil
}

func (s *MemoryStore) SaveBalanceReport(_ context.Context, r *model.BalanceReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *r
	s.reports[r.Timeslot] = &copy
	return nil
}

func (s *MemoryStore) GetBalanceReport(_ context.Context, timeslot int64) (*model.BalanceReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[timeslot]
	if !ok {
		return nil, fmt.Errorf("balance report for timeslot %d: %w", timeslot, ErrNotFound)
	}
	copy := *r
	return &copy, nil
}
