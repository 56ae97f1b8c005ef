// Package margin computes cross-market margin requirements.
//
// An account's requirement is the sum over its positions of the absolute
// quote notional times the market's margin ratio. Every position shares a
// single margin balance, so a large ratio in one market tightens the
// leverage available in all others.
package margin

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/clearing-house/internal/fixed"
	"github.com/atmx/clearing-house/internal/model"
)

var (
	// ErrInsufficientCollateral is returned when an account's margin does
	// not cover the initial margin of its positions.
	ErrInsufficientCollateral = errors.New("margin: insufficient collateral")

	// ErrUnknownMarket is returned when a position refers to a market the
	// caller did not supply.
	ErrUnknownMarket = errors.New("margin: position in unknown market")
)

// Markets maps market ids to their configuration.
type Markets map[model.MarketID]*model.Market

// Ratio selects which margin ratio of a market applies.
type Ratio func(*model.Market) decimal.Decimal

// Initial selects the initial margin ratio.
func Initial(m *model.Market) decimal.Decimal { return m.MarginRatioInitial }

// Maintenance selects the maintenance margin ratio.
func Maintenance(m *model.Market) decimal.Decimal { return m.MarginRatioMaintenance }

// Required returns Σ |quote notional| · ratio(market) over positions.
func Required(positions []model.Position, markets Markets, ratio Ratio) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range positions {
		m, ok := markets[p.MarketID]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %d", ErrUnknownMarket, p.MarketID)
		}
		part, err := fixed.UMul(p.QuoteAssetNotionalAmount.Abs(), ratio(m))
		if err != nil {
			return decimal.Zero, err
		}
		if total, err = fixed.UAdd(total, part); err != nil {
			return decimal.Zero, err
		}
	}
	return total, nil
}

// InitialMargin returns the initial margin requirement of positions.
func InitialMargin(positions []model.Position, markets Markets) (decimal.Decimal, error) {
	return Required(positions, markets, Initial)
}

// MaintenanceMargin returns the maintenance margin requirement of positions.
func MaintenanceMargin(positions []model.Position, markets Markets) (decimal.Decimal, error) {
	return Required(positions, markets, Maintenance)
}

// Check validates that balance covers the initial margin of positions.
// positions must be the account's full post-trade position set.
func Check(balance decimal.Decimal, positions []model.Position, markets Markets) error {
	required, err := InitialMargin(positions, markets)
	if err != nil {
		return err
	}
	if balance.LessThan(required) {
		return fmt.Errorf("%w: margin %s, required %s", ErrInsufficientCollateral, balance, required)
	}
	return nil
}

// TotalNotional returns Σ |quote notional| over positions.
func TotalNotional(positions []model.Position) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range positions {
		var err error
		if total, err = fixed.UAdd(total, p.QuoteAssetNotionalAmount.Abs()); err != nil {
			return decimal.Zero, err
		}
	}
	return total, nil
}

// EffectiveLeverage returns total notional divided by balance. It is zero
// when the balance is zero.
func EffectiveLeverage(positions []model.Position, balance decimal.Decimal) (decimal.Decimal, error) {
	notional, err := TotalNotional(positions)
	if err != nil {
		return decimal.Zero, err
	}
	if balance.IsZero() {
		return decimal.Zero, nil
	}
	return fixed.UDiv(notional, balance)
}

// Replace returns positions with the entry for marketID swapped for p, or
// removed when p is nil. The input slice is not modified.
func Replace(positions []model.Position, marketID model.MarketID, p *model.Position) []model.Position {
	out := make([]model.Position, 0, len(positions)+1)
	for _, q := range positions {
		if q.MarketID != marketID {
			out = append(out, q)
		}
	}
	if p != nil {
		out = append(out, *p)
	}
	return out
}
