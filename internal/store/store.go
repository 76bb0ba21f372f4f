// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/voltsim/market-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Market positions are derived state:
// AddMarketTransaction advances the broker's position for the transaction's
// timeslot as a side effect.
type Store interface {
	// --- Brokers ---

	// CreateBroker persists a new broker registration.
	CreateBroker(ctx context.Context, b *model.Broker) error

	// GetBroker retrieves a broker by ID.
	GetBroker(ctx context.Context, id string) (*model.Broker, error)

	// ListBrokers returns all registered brokers.
	ListBrokers(ctx context.Context) ([]model.Broker, error)

	// --- Clearing results ---

	// SaveOrderBook persists the published order book for a timeslot.
	SaveOrderBook(ctx context.Context, ob *model.OrderBook) error

	// GetOrderBook retrieves the latest order book for a timeslot.
	GetOrderBook(ctx context.Context, timeslot int64) (*model.OrderBook, error)

	// SaveClearedTrade appends a cleared-trade record.
	SaveClearedTrade(ctx context.Context, t *model.ClearedTrade) error

	// ListClearedTrades returns all cleared trades for a timeslot.
	ListClearedTrades(ctx context.Context, timeslot int64) ([]model.ClearedTrade, error)

	// SaveAskPriceRange records the min/max limit ask prices for a timeslot.
	SaveAskPriceRange(ctx context.Context, r *model.AskPriceRange) error

	// GetAskPriceRange retrieves the recorded ask price range for a timeslot.
	GetAskPriceRange(ctx context.Context, timeslot int64) (*model.AskPriceRange, error)

	// --- Ledger ---

	// AddMarketTransaction appends an immutable trade-side record and
	// advances the broker's market position for that timeslot.
	AddMarketTransaction(ctx context.Context, tx *model.MarketTransaction) error

	// ListMarketTransactionsByBroker returns a broker's market transactions.
	ListMarketTransactionsByBroker(ctx context.Context, brokerID string) ([]model.MarketTransaction, error)

	// GetMarketPosition returns a broker's net contracted MWh for a
	// timeslot. Brokers with no transactions have position zero.
	GetMarketPosition(ctx context.Context, brokerID string, timeslot int64) (float64, error)

	// AddBalancingTransaction appends an immutable settlement record.
	AddBalancingTransaction(ctx context.Context, tx *model.BalancingTransaction) error

	// ListBalancingTransactionsByBroker returns a broker's settlements.
	ListBalancingTransactionsByBroker(ctx context.Context, brokerID string) ([]model.BalancingTransaction, error)

	// --- Balancing inputs and outputs ---

	// AddBalancingOrder persists a standing curtailment offer.
	AddBalancingOrder(ctx context.Context, bo *model.BalancingOrder) error

	// ListBalancingOrders returns all standing balancing orders.
	ListBalancingOrders(ctx context.Context) ([]model.BalancingOrder, error)

	// SetNetLoad records a broker's reported net load for a timeslot, kWh.
	SetNetLoad(ctx context.Context, brokerID string, timeslot int64, kwh float64) error

	// GetNetLoads returns the reported net loads for a timeslot by broker.
	GetNetLoads(ctx context.Context, timeslot int64) (map[string]float64, error)

	// SaveBalanceReport persists the per-timeslot imbalance publication.
	SaveBalanceReport(ctx context.Context, r *model.BalanceReport) error

	// GetBalanceReport retrieves the balance report for a timeslot.
	GetBalanceReport(ctx context.Context, timeslot int64) (*model.BalanceReport, error)
}
