// Package model defines the core domain types shared across the market engine.
// Energy quantities are float64 (MWh in the wholesale market, kWh in the
// settlement domain); monetary values crossing the ledger boundary use
// shopspring/decimal — never float64 for money at rest.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PowerType classifies the tariff a balancing order is attached to.
// Consumption-type orders curtail load (resolve a deficit); production-type
// orders curtail generation (resolve a surplus).
type PowerType string

const (
	PowerTypeConsumption PowerType = "CONSUMPTION"
	PowerTypeProduction  PowerType = "PRODUCTION"
)

// IsConsumption reports whether the power type draws energy from the grid.
func (p PowerType) IsConsumption() bool { return p == PowerTypeConsumption }

// IsProduction reports whether the power type feeds energy into the grid.
func (p PowerType) IsProduction() bool { return p == PowerTypeProduction }

// Valid reports whether the power type is one of the recognized values.
func (p PowerType) Valid() bool { return p.IsConsumption() || p.IsProduction() }

// Broker is a registered market participant. Wholesale brokers trade on
// behalf of the regulating market and are exempt from position limits and
// imbalance settlement.
type Broker struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Wholesale bool      `json:"wholesale" db:"wholesale"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Order is a broker's buy or sell interest for one future delivery timeslot.
// Quantity is signed: positive = bid (buy), negative = ask (sell), in MWh.
// LimitPrice is the submitted magnitude — "pay at most" for bids, "accept at
// least" for asks; nil means a market order. Immutable once submitted.
type Order struct {
	ID          string    `json:"id"`
	BrokerID    string    `json:"broker_id"`
	Timeslot    int64     `json:"timeslot"`
	QuantityMWh float64   `json:"quantity_mwh"`
	LimitPrice  *float64  `json:"limit_price,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// IsBid reports whether the order buys energy.
func (o *Order) IsBid() bool { return o.QuantityMWh > 0 }

// IsMarketOrder reports whether the order has no limit price.
func (o *Order) IsMarketOrder() bool { return o.LimitPrice == nil }

// OrderStatusRejected marks a rejection notice.
const OrderStatusRejected = "rejected"

// OrderStatus is the notice sent to a broker whose order was rejected for
// targeting a disabled timeslot.
type OrderStatus struct {
	BrokerID string `json:"broker_id"`
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// OrderBookEntry is one unmatched residual published in an order book.
// The limit price is in the submitted convention (positive magnitude, nil
// for market orders).
type OrderBookEntry struct {
	QuantityMWh float64  `json:"quantity_mwh"`
	LimitPrice  *float64 `json:"limit_price,omitempty"`
}

// OrderBook is the published per-timeslot clearing result: the clearing
// price (nil when no trade occurred) and the unmatched bid/ask residuals.
type OrderBook struct {
	Timeslot      int64            `json:"timeslot"`
	ClearingPrice *float64         `json:"clearing_price,omitempty"`
	Bids          []OrderBookEntry `json:"bids"`
	Asks          []OrderBookEntry `json:"asks"`
	ClearedAt     time.Time        `json:"cleared_at"`
}

// ClearedTrade summarizes the matched volume of one timeslot's clearing.
// Emitted only when the matched quantity is positive.
type ClearedTrade struct {
	Timeslot    int64     `json:"timeslot"`
	QuantityMWh float64   `json:"quantity_mwh"`
	Price       float64   `json:"price"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// AskPriceRange records the minimum and maximum non-market ask limit prices
// seen for a timeslot during clearing. The balancing engine reads these to
// derive its marginal regulating prices. Nil bounds mean no limit asks were
// present.
type AskPriceRange struct {
	Timeslot int64    `json:"timeslot"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
}

// MarketPosition is a broker's running net contracted quantity for one
// delivery timeslot, maintained by the ledger as market transactions post.
type MarketPosition struct {
	BrokerID   string  `json:"broker_id"`
	Timeslot   int64   `json:"timeslot"`
	OverallMWh float64 `json:"overall_mwh"`
}

// MarketTransaction is an immutable ledger record of one side of a matched
// trade. Price carries broker cash-flow sign: negative = broker pays.
type MarketTransaction struct {
	ID          string          `json:"id" db:"id"`
	BrokerID    string          `json:"broker_id" db:"broker_id"`
	Timeslot    int64           `json:"timeslot" db:"timeslot"`
	QuantityMWh float64         `json:"quantity_mwh" db:"quantity_mwh"`
	Price       decimal.Decimal `json:"price" db:"price"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// BalancingTransaction is an immutable ledger record of one broker's
// imbalance settlement for one timeslot. Charge carries broker cash-flow
// sign: negative = broker owes money.
type BalancingTransaction struct {
	ID         string          `json:"id" db:"id"`
	BrokerID   string          `json:"broker_id" db:"broker_id"`
	Timeslot   int64           `json:"timeslot" db:"timeslot"`
	NetLoadKWh float64         `json:"net_load_kwh" db:"net_load_kwh"`
	Charge     decimal.Decimal `json:"charge" db:"charge"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// BalancingOrder is a broker's standing offer to curtail contracted load in
// exchange for a per-kWh price. Long-lived; the settlement engine treats it
// as read-only input.
type BalancingOrder struct {
	ID        string    `json:"id" db:"id"`
	BrokerID  string    `json:"broker_id" db:"broker_id"`
	TariffID  string    `json:"tariff_id" db:"tariff_id"`
	PowerType PowerType `json:"power_type" db:"power_type"`
	PriceKWh  float64   `json:"price_kwh" db:"price_kwh"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BalanceReport is the per-timeslot system-wide imbalance publication.
// Positive = surplus (needs down-regulation), negative = deficit.
type BalanceReport struct {
	Timeslot        int64     `json:"timeslot"`
	NetImbalanceKWh float64   `json:"net_imbalance_kwh"`
	CreatedAt       time.Time `json:"created_at"`
}
