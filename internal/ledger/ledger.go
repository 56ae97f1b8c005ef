// Package ledger implements the position state machine: how a signed trade
// opens, increases, reduces, closes or reverses an account's position in a
// market, and how much PnL that realizes.
//
// Apply is pure. It never touches margin or storage; the caller commits the
// returned outcome.
package ledger

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/clearing-house/internal/fixed"
	"github.com/atmx/clearing-house/internal/model"
)

// ErrTradeSizeTooSmall is returned when a trade that does not close the
// position is below the market's minimum trade size.
var ErrTradeSizeTooSmall = errors.New("ledger: trade size too small")

// Trade is a signed trade: base and quote are positive for long and
// negative for short.
type Trade struct {
	Account  string
	MarketID model.MarketID
	Base     decimal.Decimal
	Quote    decimal.Decimal
}

// Outcome is the result of applying a trade to a position.
type Outcome struct {
	// Position is the resulting position, or nil if none remains.
	Position    *model.Position
	RealizedPnL decimal.Decimal
	Kind        model.TradeKind
}

// Apply computes the effect of trade on existing (nil if the account has no
// position in the market). minSize is the market's minimum trade size in
// quote units.
//
// A reduction or reversal that would leave a position with a non-zero
// quote notional below minSize is treated as a full close.
func Apply(existing *model.Position, trade Trade, minSize decimal.Decimal) (Outcome, error) {
	if trade.Base.IsZero() {
		return Outcome{}, ErrTradeSizeTooSmall
	}
	belowMin := trade.Quote.Abs().LessThan(minSize)

	switch {
	case existing == nil || existing.BaseAssetAmount.IsZero():
		if belowMin {
			return Outcome{}, ErrTradeSizeTooSmall
		}
		return Outcome{
			Position: &model.Position{
				Account:                  trade.Account,
				MarketID:                 trade.MarketID,
				BaseAssetAmount:          trade.Base,
				QuoteAssetNotionalAmount: trade.Quote,
			},
			RealizedPnL: decimal.Zero,
			Kind:        model.KindOpen,
		}, nil

	case fixed.SameSign(existing.BaseAssetAmount, trade.Base):
		if belowMin {
			return Outcome{}, ErrTradeSizeTooSmall
		}
		return increase(existing, trade)
	}

	held := existing.BaseAssetAmount.Abs()
	traded := trade.Base.Abs()

	switch traded.Cmp(held) {
	case -1:
		return reduce(existing, trade, minSize, belowMin)
	case 0:
		return closeOut(existing, trade.Quote.Abs())
	default:
		return reverse(existing, trade, minSize)
	}
}

func increase(p *model.Position, t Trade) (Outcome, error) {
	base, err := fixed.Add(p.BaseAssetAmount, t.Base)
	if err != nil {
		return Outcome{}, err
	}
	quote, err := fixed.Add(p.QuoteAssetNotionalAmount, t.Quote)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Position: &model.Position{
			Account:                  p.Account,
			MarketID:                 p.MarketID,
			BaseAssetAmount:          base,
			QuoteAssetNotionalAmount: quote,
		},
		RealizedPnL: decimal.Zero,
		Kind:        model.KindIncrease,
	}, nil
}

func reduce(p *model.Position, t Trade, minSize decimal.Decimal, belowMin bool) (Outcome, error) {
	entry := p.QuoteAssetNotionalAmount.Abs()
	closedEntry, err := fixed.MulDiv(entry, t.Base.Abs(), p.BaseAssetAmount.Abs())
	if err != nil {
		return Outcome{}, err
	}
	remaining, err := fixed.USub(entry, closedEntry)
	if err != nil {
		return Outcome{}, err
	}
	if isDust(remaining, minSize) {
		return closeOut(p, t.Quote.Abs())
	}
	if belowMin {
		return Outcome{}, ErrTradeSizeTooSmall
	}

	pnl, err := realized(p.Direction(), closedEntry, t.Quote.Abs())
	if err != nil {
		return Outcome{}, err
	}
	base, err := fixed.Add(p.BaseAssetAmount, t.Base)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Position: &model.Position{
			Account:                  p.Account,
			MarketID:                 p.MarketID,
			BaseAssetAmount:          base,
			QuoteAssetNotionalAmount: fixed.WithSign(remaining, p.BaseAssetAmount.Sign()),
		},
		RealizedPnL: pnl,
		Kind:        model.KindReduce,
	}, nil
}

func reverse(p *model.Position, t Trade, minSize decimal.Decimal) (Outcome, error) {
	tradeQuote := t.Quote.Abs()
	closeValue, err := fixed.MulDiv(tradeQuote, p.BaseAssetAmount.Abs(), t.Base.Abs())
	if err != nil {
		return Outcome{}, err
	}
	opened, err := fixed.USub(tradeQuote, closeValue)
	if err != nil {
		return Outcome{}, err
	}
	if isDust(opened, minSize) {
		return closeOut(p, tradeQuote)
	}

	pnl, err := realized(p.Direction(), p.QuoteAssetNotionalAmount.Abs(), closeValue)
	if err != nil {
		return Outcome{}, err
	}
	base, err := fixed.Add(p.BaseAssetAmount, t.Base)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Position: &model.Position{
			Account:                  p.Account,
			MarketID:                 p.MarketID,
			BaseAssetAmount:          base,
			QuoteAssetNotionalAmount: fixed.WithSign(opened, t.Base.Sign()),
		},
		RealizedPnL: pnl,
		Kind:        model.KindReverse,
	}, nil
}

// closeOut removes the position, realizing PnL against closeValue.
func closeOut(p *model.Position, closeValue decimal.Decimal) (Outcome, error) {
	pnl, err := realized(p.Direction(), p.QuoteAssetNotionalAmount.Abs(), closeValue)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{RealizedPnL: pnl, Kind: model.KindClose}, nil
}

// realized returns close - entry for longs and entry - close for shorts.
func realized(side model.Direction, entry, closeValue decimal.Decimal) (decimal.Decimal, error) {
	if side == model.Short {
		return fixed.Sub(entry, closeValue)
	}
	return fixed.Sub(closeValue, entry)
}

func isDust(remaining, minSize decimal.Decimal) bool {
	return remaining.IsPositive() && remaining.LessThan(minSize)
}
