package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/clearing-house/internal/fixed"
	"github.com/atmx/clearing-house/internal/model"
)

// FixedConfig is the configuration FixedSource reads from a market's opaque
// price source config. An empty config falls back to the source defaults.
type FixedConfig struct {
	Price decimal.Decimal  `json:"price"`
	Twap  *decimal.Decimal `json:"twap,omitempty"`
}

// FixedSource is a price source quoting operator-set prices. Swaps execute
// at the current price with optional slippage, and an optional per-context
// price impact factor is applied after every swap. It is the reference
// source for development deployments and tests.
type FixedSource struct {
	mu sync.RWMutex

	nextID       model.PricingID
	defaultPrice *decimal.Decimal
	defaultTwap  *decimal.Decimal
	slippage     *decimal.Decimal
	prices       map[model.PricingID]decimal.Decimal
	twaps        map[model.PricingID]decimal.Decimal
	impacts      map[model.PricingID]decimal.Decimal
}

// NewFixedSource creates a source with no prices set.
func NewFixedSource() *FixedSource {
	return &FixedSource{
		prices:  make(map[model.PricingID]decimal.Decimal),
		twaps:   make(map[model.PricingID]decimal.Decimal),
		impacts: make(map[model.PricingID]decimal.Decimal),
	}
}

func (s *FixedSource) Create(_ context.Context, raw json.RawMessage) (model.PricingID, error) {
	var cfg FixedConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if cfg.Price.IsNegative() || (cfg.Twap != nil && cfg.Twap.IsNegative()) {
			return 0, fmt.Errorf("%w: negative price", ErrInvalidConfig)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	if cfg.Price.IsPositive() {
		s.prices[id] = cfg.Price
	}
	if cfg.Twap != nil {
		s.twaps[id] = *cfg.Twap
	}
	return id, nil
}

func (s *FixedSource) GetPrice(_ context.Context, id model.PricingID, _ AssetType) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priceLocked(id)
}

func (s *FixedSource) GetTwap(_ context.Context, id model.PricingID, _ AssetType) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.twaps[id]; ok {
		return t, nil
	}
	if s.defaultTwap != nil {
		return *s.defaultTwap, nil
	}
	return decimal.Zero, fmt.Errorf("%w: pricing context %d", ErrNoTwap, id)
}

func (s *FixedSource) Swap(_ context.Context, cfg SwapConfig) (SwapOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, out, err := s.quoteLocked(cfg)
	if err != nil {
		return SwapOutput{}, err
	}
	if factor, ok := s.impacts[cfg.PricingID]; ok {
		moved, err := fixed.UMul(price, factor)
		if err != nil {
			return SwapOutput{}, err
		}
		s.prices[cfg.PricingID] = moved
	}
	return out, nil
}

// PreviewSwap returns what Swap would output without applying price impact.
func (s *FixedSource) PreviewSwap(_ context.Context, cfg SwapConfig) (SwapOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, out, err := s.quoteLocked(cfg)
	return out, err
}

// quoteLocked prices a swap at the current price and checks its limit.
func (s *FixedSource) quoteLocked(cfg SwapConfig) (decimal.Decimal, SwapOutput, error) {
	price, err := s.priceLocked(cfg.PricingID)
	if err != nil {
		return decimal.Zero, SwapOutput{}, err
	}

	value, err := Value(cfg.InputAmount, cfg.Asset, price)
	if err != nil {
		return decimal.Zero, SwapOutput{}, err
	}
	if s.slippage != nil {
		cut, err := fixed.UMul(*s.slippage, value)
		if err != nil {
			return decimal.Zero, SwapOutput{}, err
		}
		if value, err = fixed.USub(value, cut); err != nil {
			return decimal.Zero, SwapOutput{}, err
		}
	}

	out := SwapOutput{Output: value, Negative: cfg.Direction == Remove}
	if err := CheckOutputLimit(out, cfg.OutputAmountLimit); err != nil {
		return decimal.Zero, SwapOutput{}, fmt.Errorf("%w: output %s, limit %s", err, value, cfg.OutputAmountLimit)
	}
	return price, out, nil
}

// SetPrice sets the fallback price used by contexts without their own price.
// A nil price clears it.
func (s *FixedSource) SetPrice(price *decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultPrice = price
}

// SetPriceOf sets the price of one pricing context. A nil price clears it.
func (s *FixedSource) SetPriceOf(id model.PricingID, price *decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if price == nil {
		delete(s.prices, id)
		return
	}
	s.prices[id] = *price
}

// SetTwap sets the fallback TWAP. A nil value clears it.
func (s *FixedSource) SetTwap(twap *decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultTwap = twap
}

// SetTwapOf sets the TWAP of one pricing context. A nil value clears it.
func (s *FixedSource) SetTwapOf(id model.PricingID, twap *decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if twap == nil {
		delete(s.twaps, id)
		return
	}
	s.twaps[id] = *twap
}

// SetSlippage sets the fraction cut from every swap output. A nil value
// disables slippage.
func (s *FixedSource) SetSlippage(slippage *decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slippage = slippage
}

// SetPriceImpactOf sets the factor a context's price is multiplied by after
// each swap. A nil value disables it.
func (s *FixedSource) SetPriceImpactOf(id model.PricingID, factor *decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if factor == nil {
		delete(s.impacts, id)
		return
	}
	s.impacts[id] = *factor
}

func (s *FixedSource) priceLocked(id model.PricingID) (decimal.Decimal, error) {
	if p, ok := s.prices[id]; ok {
		return p, nil
	}
	if s.defaultPrice != nil {
		return *s.defaultPrice, nil
	}
	return decimal.Zero, fmt.Errorf("%w: pricing context %d", ErrNoPrice, id)
}

// Value converts amount of the given side into the other side at price
// (quote per base). A zero price fails with fixed.ErrDivisionByZero when
// converting quote into base.
func Value(amount decimal.Decimal, asset AssetType, price decimal.Decimal) (decimal.Decimal, error) {
	if asset == Base {
		return fixed.UMul(price, amount)
	}
	return fixed.UDiv(amount, price)
}
