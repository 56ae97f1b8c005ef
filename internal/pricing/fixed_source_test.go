package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/clearing-house/internal/fixed"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

func TestCreate_AssignsSequentialIDs(t *testing.T) {
	src := NewFixedSource()
	ctx := context.Background()

	for want := 0; want < 3; want++ {
		id, err := src.Create(ctx, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if int(id) != want {
			t.Errorf("expected id %d, got %d", want, id)
		}
	}
}

func TestCreate_InvalidConfig(t *testing.T) {
	src := NewFixedSource()

	if _, err := src.Create(context.Background(), json.RawMessage(`{not json`)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := src.Create(context.Background(), json.RawMessage(`{"price":"-1"}`)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for negative price, got %v", err)
	}
}

func TestCreate_SeedsPriceAndTwap(t *testing.T) {
	src := NewFixedSource()
	ctx := context.Background()

	id, err := src.Create(ctx, json.RawMessage(`{"price":"12.5","twap":"12"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	price, err := src.GetPrice(ctx, id, Base)
	if err != nil || !price.Equal(d(12.5)) {
		t.Errorf("expected price 12.5, got %s (%v)", price, err)
	}
	twap, err := src.GetTwap(ctx, id, Base)
	if err != nil || !twap.Equal(d(12)) {
		t.Errorf("expected twap 12, got %s (%v)", twap, err)
	}
}

func TestGetPrice_FallsBackToDefault(t *testing.T) {
	src := NewFixedSource()
	ctx := context.Background()
	id, _ := src.Create(ctx, nil)

	if _, err := src.GetPrice(ctx, id, Base); !errors.Is(err, ErrNoPrice) {
		t.Errorf("expected ErrNoPrice, got %v", err)
	}
	if _, err := src.GetTwap(ctx, id, Base); !errors.Is(err, ErrNoTwap) {
		t.Errorf("expected ErrNoTwap, got %v", err)
	}

	src.SetPrice(ptr(d(10)))
	src.SetTwap(ptr(d(9)))
	price, _ := src.GetPrice(ctx, id, Base)
	if !price.Equal(d(10)) {
		t.Errorf("expected fallback price 10, got %s", price)
	}
	twap, _ := src.GetTwap(ctx, id, Base)
	if !twap.Equal(d(9)) {
		t.Errorf("expected fallback twap 9, got %s", twap)
	}

	src.SetPriceOf(id, ptr(d(11)))
	src.SetTwapOf(id, ptr(d(8)))
	price, _ = src.GetPrice(ctx, id, Base)
	if !price.Equal(d(11)) {
		t.Errorf("expected per-context price 11, got %s", price)
	}
	twap, _ = src.GetTwap(ctx, id, Base)
	if !twap.Equal(d(8)) {
		t.Errorf("expected per-context twap 8, got %s", twap)
	}
}

func TestSwap_QuoteToBase(t *testing.T) {
	src := NewFixedSource()
	ctx := context.Background()
	id, _ := src.Create(ctx, nil)
	src.SetPrice(ptr(d(10)))

	out, err := src.Swap(ctx, SwapConfig{
		PricingID: id, Asset: Quote, InputAmount: d(100),
		Direction: Add, OutputAmountLimit: d(10),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Output.Equal(d(10)) || out.Negative {
		t.Errorf("expected +10, got %s negative=%v", out.Output, out.Negative)
	}

	out, err = src.Swap(ctx, SwapConfig{
		PricingID: id, Asset: Quote, InputAmount: d(100),
		Direction: Remove, OutputAmountLimit: d(10),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Signed().Equal(d(-10)) {
		t.Errorf("expected -10, got %s", out.Signed())
	}
}

func TestSwap_OutputLimit(t *testing.T) {
	src := NewFixedSource()
	ctx := context.Background()
	id, _ := src.Create(ctx, nil)
	src.SetPrice(ptr(d(10)))

	// Buying: 100 quote yields 10 base, below the requested minimum of 11.
	_, err := src.Swap(ctx, SwapConfig{
		PricingID: id, Asset: Quote, InputAmount: d(100),
		Direction: Add, OutputAmountLimit: d(11),
	})
	if !errors.Is(err, ErrOutputLimit) {
		t.Errorf("expected ErrOutputLimit, got %v", err)
	}

	// Selling: 100 quote needs 10 base, more than the allowed 9.
	_, err = src.Swap(ctx, SwapConfig{
		PricingID: id, Asset: Quote, InputAmount: d(100),
		Direction: Remove, OutputAmountLimit: d(9),
	})
	if !errors.Is(err, ErrOutputLimit) {
		t.Errorf("expected ErrOutputLimit, got %v", err)
	}
}

func TestSwap_ZeroPrice(t *testing.T) {
	src := NewFixedSource()
	ctx := context.Background()
	id, _ := src.Create(ctx, nil)
	src.SetPrice(ptr(decimal.Zero))

	_, err := src.Swap(ctx, SwapConfig{PricingID: id, Asset: Quote, InputAmount: d(1), Direction: Add})
	if !errors.Is(err, fixed.ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestSwap_SlippageAndPriceImpact(t *testing.T) {
	src := NewFixedSource()
	ctx := context.Background()
	id, _ := src.Create(ctx, nil)
	src.SetPriceOf(id, ptr(d(10)))
	src.SetSlippage(ptr(d(0.1)))
	src.SetPriceImpactOf(id, ptr(d(1.5)))

	out, err := src.Swap(ctx, SwapConfig{PricingID: id, Asset: Quote, InputAmount: d(100), Direction: Add})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Output.Equal(d(9)) {
		t.Errorf("expected 9 after 10%% slippage, got %s", out.Output)
	}

	price, _ := src.GetPrice(ctx, id, Base)
	if !price.Equal(d(15)) {
		t.Errorf("expected price moved to 15, got %s", price)
	}
}

func TestPreviewSwap_MatchesSwapWithoutImpact(t *testing.T) {
	src := NewFixedSource()
	ctx := context.Background()
	id, _ := src.Create(ctx, nil)
	src.SetPriceOf(id, ptr(d(10)))
	src.SetPriceImpactOf(id, ptr(d(2)))

	cfg := SwapConfig{PricingID: id, Asset: Quote, InputAmount: d(100), Direction: Remove, OutputAmountLimit: d(10)}
	preview, err := src.PreviewSwap(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price, _ := src.GetPrice(ctx, id, Base); !price.Equal(d(10)) {
		t.Errorf("preview moved the price to %s", price)
	}

	out, err := src.Swap(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Output.Equal(preview.Output) || out.Negative != preview.Negative {
		t.Errorf("preview %+v differs from swap %+v", preview, out)
	}

	cfg.OutputAmountLimit = d(4)
	if _, err := src.PreviewSwap(ctx, cfg); !errors.Is(err, ErrOutputLimit) {
		t.Errorf("expected ErrOutputLimit from preview at the moved price, got %v", err)
	}
}

func TestValue_Base(t *testing.T) {
	v, err := Value(d(3), Base, d(10))
	if err != nil || !v.Equal(d(30)) {
		t.Errorf("expected 30, got %s (%v)", v, err)
	}
}
