// Package pricing defines the price source collaborator consumed by the
// clearing house: instantiating a pricing context per market, quoting mark
// and TWAP prices, and executing swaps.
package pricing

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/clearing-house/internal/model"
)

var (
	// ErrOutputLimit is returned when a swap's output violates the caller's
	// output amount limit.
	ErrOutputLimit = errors.New("pricing: swap output violates limit")

	// ErrNoPrice is returned when no price is available for a pricing context.
	ErrNoPrice = errors.New("pricing: no price available")

	// ErrNoTwap is returned when no TWAP is available for a pricing context.
	ErrNoTwap = errors.New("pricing: no twap available")

	// ErrInvalidConfig is returned by Create for unusable configuration.
	ErrInvalidConfig = errors.New("pricing: invalid price source config")
)

// AssetType selects which side of the pair an amount or price refers to.
type AssetType string

const (
	Base  AssetType = "base"
	Quote AssetType = "quote"
)

// SwapDirection is Add for buying the base asset and Remove for selling it.
type SwapDirection string

const (
	Add    SwapDirection = "add"
	Remove SwapDirection = "remove"
)

// DirectionFor maps a trade direction onto a swap direction.
func DirectionFor(d model.Direction) SwapDirection {
	if d == model.Short {
		return Remove
	}
	return Add
}

// SwapConfig parameterizes one swap.
type SwapConfig struct {
	PricingID         model.PricingID
	Asset             AssetType
	InputAmount       decimal.Decimal
	Direction         SwapDirection
	OutputAmountLimit decimal.Decimal
}

// SwapOutput is the unsigned output amount plus its sign. Remove swaps
// produce negative outputs.
type SwapOutput struct {
	Output   decimal.Decimal
	Negative bool
}

// Signed returns the output with its sign applied.
func (o SwapOutput) Signed() decimal.Decimal {
	if o.Negative {
		return o.Output.Neg()
	}
	return o.Output
}

// Source is the price source collaborator. Implementations must be safe for
// concurrent use.
type Source interface {
	// Create instantiates a pricing context from an opaque configuration.
	Create(ctx context.Context, cfg json.RawMessage) (model.PricingID, error)

	// GetPrice returns the current price of the given side.
	GetPrice(ctx context.Context, id model.PricingID, asset AssetType) (decimal.Decimal, error)

	// GetTwap returns the time-weighted average price of the given side.
	GetTwap(ctx context.Context, id model.PricingID, asset AssetType) (decimal.Decimal, error)

	// Swap executes a swap. The output limit is the minimum acceptable signed
	// output: Add outputs must be at least the limit, Remove outputs (which
	// are negative) must not exceed the limit in magnitude.
	Swap(ctx context.Context, cfg SwapConfig) (SwapOutput, error)
}

// Previewer is implemented by sources that can quote a swap without
// executing it. Quotes must match what Swap would return in the same state.
type Previewer interface {
	PreviewSwap(ctx context.Context, cfg SwapConfig) (SwapOutput, error)
}

// CheckOutputLimit enforces the signed minimum-output rule of Source.Swap.
func CheckOutputLimit(out SwapOutput, limit decimal.Decimal) error {
	if out.Negative {
		if out.Output.GreaterThan(limit) {
			return ErrOutputLimit
		}
		return nil
	}
	if out.Output.LessThan(limit) {
		return ErrOutputLimit
	}
	return nil
}
