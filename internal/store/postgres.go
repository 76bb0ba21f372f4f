package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/voltsim/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC for exact decimal precision; energy
// quantities as DOUBLE PRECISION; order-book residuals as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateBroker(ctx context.Context, b *model.Broker) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO brokers (id, name, wholesale, created_at)
		 VALUES ($1, $2, $3, $4)`,
		b.ID, b.Name, b.Wholesale, b.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetBroker(ctx context.Context, id string) (*model.Broker, error) {
	var b model.Broker
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, wholesale, created_at FROM brokers WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.Wholesale, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get broker %s: %w", id, err)
	}
	return &b, nil
}

func (s *PostgresStore) ListBrokers(ctx context.Context) ([]model.Broker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, wholesale, created_at FROM brokers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var brokers []model.Broker
	for rows.Next() {
		var b model.Broker
		if err := rows.Scan(&b.ID, &b.Name, &b.Wholesale, &b.CreatedAt); err != nil {
			return nil, err
		}
		brokers = append(brokers, b)
	}
	return brokers, rows.Err()
}

func (s *PostgresStore) SaveOrderBook(ctx context.Context, ob *model.OrderBook) error {
	bids, err := json.Marshal(ob.Bids)
	if err != nil {
		return fmt.Errorf("marshal bids: %w", err)
	}
	asks, err := json.Marshal(ob.Asks)
	if err != nil {
		return fmt.Errorf("marshal asks: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO order_books (timeslot, clearing_price, bids, asks, cleared_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (timeslot) DO UPDATE
		 SET clearing_price = $2, bids = $3, asks = $4, cleared_at = $5`,
		ob.Timeslot, ob.ClearingPrice, bids, asks, ob.ClearedAt,
	)
	return err
}

func (s *PostgresStore) GetOrderBook(ctx context.Context, timeslot int64) (*model.OrderBook, error) {
	var ob model.OrderBook
	var bids, asks []byte

	err := s.pool.QueryRow(ctx,
		`SELECT timeslot, clearing_price, bids, asks, cleared_at
		 FROM order_books WHERE timeslot = $1`, timeslot).
		Scan(&ob.Timeslot, &ob.ClearingPrice, &bids, &asks, &ob.ClearedAt)
	if err != nil {
		return nil, fmt.Errorf("get order book %d: %w", timeslot, err)
	}

	if err := json.Unmarshal(bids, &ob.Bids); err != nil {
		return nil, fmt.Errorf("unmarshal bids: %w", err)
	}
	if err := json.Unmarshal(asks, &ob.Asks); err != nil {
		return nil, fmt.Errorf("unmarshal asks: %w", err)
	}
	return &ob, nil
}

func (s *PostgresStore) SaveClearedTrade(ctx context.Context, t *model.ClearedTrade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cleared_trades (timeslot, quantity_mwh, price, executed_at)
		 VALUES ($1, $2, $3, $4)`,
		t.Timeslot, t.QuantityMWh, t.Price, t.ExecutedAt,
	)
	return err
}

func (s *PostgresStore) ListClearedTrades(ctx context.Context, timeslot int64) ([]model.ClearedTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT timeslot, quantity_mwh, price, executed_at
		 FROM cleared_trades WHERE timeslot = $1 ORDER BY executed_at`, timeslot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.ClearedTrade
	for rows.Next() {
		var t model.ClearedTrade
		if err := rows.Scan(&t.Timeslot, &t.QuantityMWh, &t.Price, &t.ExecutedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) SaveAskPriceRange(ctx context.Context, r *model.AskPriceRange) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ask_price_ranges (timeslot, min_price, max_price)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (timeslot) DO UPDATE SET min_price = $2, max_price = $3`,
		r.Timeslot, r.Min, r.Max,
	)
	return err
}

func (s *PostgresStore) GetAskPriceRange(ctx context.Context, timeslot int64) (*model.AskPriceRange, error) {
	var r model.AskPriceRange
	err := s.pool.QueryRow(ctx,
		`SELECT timeslot, min_price, max_price FROM ask_price_ranges WHERE timeslot = $1`,
		timeslot).
		Scan(&r.Timeslot, &r.Min, &r.Max)
	if err != nil {
		return nil, fmt.Errorf("get ask price range %d: %w", timeslot, err)
	}
	return &r, nil
}

func (s *PostgresStore) AddMarketTransaction(ctx context.Context, tx *model.MarketTransaction) error {
	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbtx.Rollback(ctx)

	_, err = dbtx.Exec(ctx,
		`INSERT INTO market_transactions (id, broker_id, timeslot, quantity_mwh, price, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		tx.ID, tx.BrokerID, tx.Timeslot, tx.QuantityMWh, tx.Price.String(), tx.CreatedAt,
	)
	if err != nil {
		return err
	}

	// Positions are derived state; keep them in step with the ledger.
	_, err = dbtx.Exec(ctx,
		`INSERT INTO market_positions (broker_id, timeslot, overall_mwh)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (broker_id, timeslot)
		 DO UPDATE SET overall_mwh = market_positions.overall_mwh + $3`,
		tx.BrokerID, tx.Timeslot, tx.QuantityMWh,
	)
	if err != nil {
		return err
	}

	return dbtx.Commit(ctx)
}

func (s *PostgresStore) ListMarketTransactionsByBroker(ctx context.Context, brokerID string) ([]model.MarketTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, broker_id, timeslot, quantity_mwh, price::TEXT, created_at
		 FROM market_transactions WHERE broker_id = $1 ORDER BY created_at`, brokerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.MarketTransaction
	for rows.Next() {
		var tx model.MarketTransaction
		var priceS string
		if err := rows.Scan(&tx.ID, &tx.BrokerID, &tx.Timeslot, &tx.QuantityMWh, &priceS, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Price, _ = decimal.NewFromString(priceS)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) GetMarketPosition(ctx context.Context, brokerID string, timeslot int64) (float64, error) {
	var overall float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(
		   (SELECT overall_mwh FROM market_positions WHERE broker_id = $1 AND timeslot = $2), 0)`,
		brokerID, timeslot).
		Scan(&overall)
	if err != nil {
		return 0, fmt.Errorf("get market position %s/%d: %w", brokerID, timeslot, err)
	}
	return overall, nil
}

func (s *PostgresStore) AddBalancingTransaction(ctx context.Context, tx *model.BalancingTransaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balancing_transactions (id, broker_id, timeslot, net_load_kwh, charge, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		tx.ID, tx.BrokerID, tx.Timeslot, tx.NetLoadKWh, tx.Charge.String(), tx.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListBalancingTransactionsByBroker(ctx context.Context, brokerID string) ([]model.BalancingTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, broker_id, timeslot, net_load_kwh, charge::TEXT, created_at
		 FROM balancing_transactions WHERE broker_id = $1 ORDER BY created_at`, brokerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.BalancingTransaction
	for rows.Next() {
		var tx model.BalancingTransaction
		var chargeS string
		if err := rows.Scan(&tx.ID, &tx.BrokerID, &tx.Timeslot, &tx.NetLoadKWh, &chargeS, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Charge, _ = decimal.NewFromString(chargeS)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) AddBalancingOrder(ctx context.Context, bo *model.BalancingOrder) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balancing_orders (id, broker_id, tariff_id, power_type, price_kwh, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		bo.ID, bo.BrokerID, bo.TariffID, string(bo.PowerType), bo.PriceKWh, bo.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListBalancingOrders(ctx context.Context) ([]model.BalancingOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, broker_id, tariff_id, power_type, price_kwh, created_at
		 FROM balancing_orders ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.BalancingOrder
	for rows.Next() {
		var bo model.BalancingOrder
		var powerType string
		if err := rows.Scan(&bo.ID, &bo.BrokerID, &bo.TariffID, &powerType, &bo.PriceKWh, &bo.CreatedAt); err != nil {
			return nil, err
		}
		bo.PowerType = model.PowerType(powerType)
		orders = append(orders, bo)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) SetNetLoad(ctx context.Context, brokerID string, timeslot int64, kwh float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO net_loads (broker_id, timeslot, net_load_kwh)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (broker_id, timeslot) DO UPDATE SET net_load_kwh = $3`,
		brokerID, timeslot, kwh,
	)
	return err
}

func (s *PostgresStore) GetNetLoads(ctx context.Context, timeslot int64) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT broker_id, net_load_kwh FROM net_loads WHERE timeslot = $1`, timeslot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loads := make(map[string]float64)
	for rows.Next() {
		var brokerID string
		var kwh float64
		if err := rows.Scan(&brokerID, &kwh); err != nil {
			return nil, err
		}
		loads[brokerID] = kwh
	}
	return loads, rows.Err()
}

func (s *PostgresStore) SaveBalanceReport(ctx context.Context, r *model.BalanceReport) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balance_reports (timeslot, net_imbalance_kwh, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (timeslot) DO UPDATE SET net_imbalance_kwh = $2, created_at = $3`,
		r.Timeslot, r.NetImbalanceKWh, r.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetBalanceReport(ctx context.Context, timeslot int64) (*model.BalanceReport, error) {
	var r model.BalanceReport
	err := s.pool.QueryRow(ctx,
		`SELECT timeslot, net_imbalance_kwh, created_at
		 FROM balance_reports WHERE timeslot = $1`, timeslot).
		Scan(&r.Timeslot, &r.NetImbalanceKWh, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get balance report %d: %w", timeslot, err)
	}
	return &r, nil
}
