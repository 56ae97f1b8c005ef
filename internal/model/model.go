// Package model defines the core domain types shared across the clearing house.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MarketID identifies a perpetuals market. Ids are dense, assigned from 0
// in creation order and never reused.
type MarketID uint64

// PricingID identifies the pricing context the price source created for a
// market.
type PricingID uint64

// Direction is the side of a trade.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Valid reports whether d is Long or Short.
func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// Sign is +1 for Long and -1 for Short.
func (d Direction) Sign() int {
	if d == Short {
		return -1
	}
	return 1
}

// MarketConfig holds the parameters supplied when creating a market.
type MarketConfig struct {
	AssetID                string          `json:"asset_id"`
	MarginRatioInitial     decimal.Decimal `json:"margin_ratio_initial"`
	MarginRatioMaintenance decimal.Decimal `json:"margin_ratio_maintenance"`
	MinimumTradeSize       decimal.Decimal `json:"minimum_trade_size"`            // quote units
	FundingFrequency       uint64          `json:"funding_frequency"`             // seconds
	FundingPeriod          uint64          `json:"funding_period"`                // seconds
	PriceSourceConfig      json.RawMessage `json:"price_source_config,omitempty"` // opaque to the core
}

// Market is a perpetuals market. AssetID and ID never change once stored.
type Market struct {
	ID                     MarketID        `json:"id" db:"id"`
	AssetID                string          `json:"asset_id" db:"asset_id"`
	PricingID              PricingID       `json:"pricing_id" db:"pricing_id"`
	MarginRatioInitial     decimal.Decimal `json:"margin_ratio_initial" db:"margin_ratio_initial"`
	MarginRatioMaintenance decimal.Decimal `json:"margin_ratio_maintenance" db:"margin_ratio_maintenance"`
	MinimumTradeSize       decimal.Decimal `json:"minimum_trade_size" db:"minimum_trade_size"`
	FundingFrequency       uint64          `json:"funding_frequency" db:"funding_frequency"`
	FundingPeriod          uint64          `json:"funding_period" db:"funding_period"`
	FundingRateTS          int64           `json:"funding_rate_ts" db:"funding_rate_ts"` // unix seconds
	PriceSourceConfig      json.RawMessage `json:"price_source_config,omitempty" db:"price_source_config"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
}

// Position is an account's open exposure in one market. Base and quote
// carry the same sign: positive for long, negative for short.
type Position struct {
	Account                  string          `json:"account"`
	MarketID                 MarketID        `json:"market_id"`
	BaseAssetAmount          decimal.Decimal `json:"base_asset_amount"`
	QuoteAssetNotionalAmount decimal.Decimal `json:"quote_asset_notional_amount"`
}

// Direction returns the side of the position.
func (p *Position) Direction() Direction {
	if p.BaseAssetAmount.IsNegative() {
		return Short
	}
	return Long
}

// TradeKind classifies how a trade changed a position.
type TradeKind string

const (
	KindOpen     TradeKind = "open"
	KindIncrease TradeKind = "increase"
	KindReduce   TradeKind = "reduce"
	KindClose    TradeKind = "close"
	KindReverse  TradeKind = "reverse"
)

// IncreasesRisk reports whether trades of this kind must pass the initial
// margin check.
func (k TradeKind) IncreasesRisk() bool {
	return k == KindOpen || k == KindIncrease || k == KindReverse
}

// TradeRecord is an immutable journal entry of an executed trade.
// Once created, these are never modified or deleted.
type TradeRecord struct {
	ID              string          `json:"id" db:"id"`
	Account         string          `json:"account" db:"account"`
	MarketID        MarketID        `json:"market_id" db:"market_id"`
	Direction       Direction       `json:"direction" db:"direction"`
	Kind            TradeKind       `json:"kind" db:"kind"`
	QuoteAmount     decimal.Decimal `json:"quote_amount" db:"quote_amount"`
	BaseAmount      decimal.Decimal `json:"base_amount" db:"base_amount"` // swap output
	BaseAmountLimit decimal.Decimal `json:"base_amount_limit" db:"base_amount_limit"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	Timestamp       time.Time       `json:"timestamp" db:"timestamp"`
}

// AccountUpdate is the complete set of mutations one trade applies to an
// account. Stores commit it atomically.
type AccountUpdate struct {
	Account  string
	MarketID MarketID
	Position *Position // nil removes the account's position in MarketID
	Margin   decimal.Decimal
	Record   TradeRecord
}

// AccountSummary aggregates an account's margin and risk figures.
type AccountSummary struct {
	Account           string          `json:"account"`
	Margin            decimal.Decimal `json:"margin"`
	Positions         []Position      `json:"positions"`
	TotalNotional     decimal.Decimal `json:"total_notional"`     // Σ |quote notional|
	InitialMargin     decimal.Decimal `json:"initial_margin"`     // IMR requirement
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin"` // MMR requirement
	EffectiveLeverage decimal.Decimal `json:"effective_leverage"` // notional / margin
}

// Notification event types.
const (
	EventMarketCreated = "market_created"
	EventTradeExecuted = "trade_executed"
	EventMarginAdded   = "margin_added"
)

// MarketCreated is emitted after a market is stored.
type MarketCreated struct {
	MarketID MarketID `json:"market_id"`
	AssetID  string   `json:"asset_id"`
}

// TradeExecuted is emitted after a trade commits.
type TradeExecuted struct {
	MarketID        MarketID        `json:"market_id"`
	Direction       Direction       `json:"direction"`
	QuoteAmount     decimal.Decimal `json:"quote_amount"`
	BaseAmountLimit decimal.Decimal `json:"base_amount_limit"`
}

// MarginAdded is emitted after a deposit is credited.
type MarginAdded struct {
	Account string          `json:"account"`
	AssetID string          `json:"asset_id"`
	Amount  decimal.Decimal `json:"amount"`
}

func (id MarketID) String() string { return fmt.Sprintf("%d", uint64(id)) }
