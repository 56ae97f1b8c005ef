// Package registry validates market configurations and creates markets.
//
// Validation order is fixed and fails fast: asset support, funding
// durations, margin ratios, minimum trade size, then price source setup.
// Nothing is stored unless every step succeeds.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/clearing-house/internal/model"
	"github.com/atmx/clearing-house/internal/oracle"
	"github.com/atmx/clearing-house/internal/pricing"
	"github.com/atmx/clearing-house/internal/store"
)

var (
	ErrNoPriceFeedForAsset                   = errors.New("registry: no price feed for asset")
	ErrZeroLengthFundingPeriodOrFrequency    = errors.New("registry: funding period or frequency is zero")
	ErrFundingPeriodNotMultipleOfFrequency   = errors.New("registry: funding period is not a multiple of frequency")
	ErrInvalidMarginRatioRequirement         = errors.New("registry: margin ratio must be strictly between 0 and 1")
	ErrInitialMarginRatioLessThanMaintenance = errors.New("registry: initial margin ratio must exceed maintenance")
	ErrNegativeMinimumTradeSize              = errors.New("registry: minimum trade size is negative")
	ErrFailedToCreateVamm                    = errors.New("registry: price source failed to create market")
)

var one = decimal.NewFromInt(1)

// Registry owns market creation and lookup.
type Registry struct {
	store  store.Store
	assets oracle.AssetSupport
	prices pricing.Source
	now    func() time.Time
}

// New creates a registry over the given store and collaborators.
func New(st store.Store, assets oracle.AssetSupport, prices pricing.Source) *Registry {
	return &Registry{
		store:  st,
		assets: assets,
		prices: prices,
		now:    time.Now,
	}
}

// WithClock overrides the time source used for FundingRateTS and CreatedAt.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// ValidateConfig checks cfg against every market rule that does not
// require the price source.
func ValidateConfig(assets oracle.AssetSupport, cfg model.MarketConfig) error {
	if !assets.IsSupported(cfg.AssetID) {
		return fmt.Errorf("%w: %q", ErrNoPriceFeedForAsset, cfg.AssetID)
	}
	if cfg.FundingFrequency == 0 || cfg.FundingPeriod == 0 {
		return ErrZeroLengthFundingPeriodOrFrequency
	}
	if cfg.FundingPeriod%cfg.FundingFrequency != 0 {
		return fmt.Errorf("%w: period %d, frequency %d",
			ErrFundingPeriodNotMultipleOfFrequency, cfg.FundingPeriod, cfg.FundingFrequency)
	}
	if !validRatio(cfg.MarginRatioInitial) || !validRatio(cfg.MarginRatioMaintenance) {
		return ErrInvalidMarginRatioRequirement
	}
	if cfg.MarginRatioInitial.LessThanOrEqual(cfg.MarginRatioMaintenance) {
		return ErrInitialMarginRatioLessThanMaintenance
	}
	if cfg.MinimumTradeSize.IsNegative() {
		return ErrNegativeMinimumTradeSize
	}
	return nil
}

func validRatio(r decimal.Decimal) bool {
	return r.IsPositive() && r.LessThan(one)
}

// CreateMarket validates cfg, sets up pricing and stores the market under
// the next id.
func (r *Registry) CreateMarket(ctx context.Context, cfg model.MarketConfig) (*model.Market, error) {
	if err := ValidateConfig(r.assets, cfg); err != nil {
		return nil, err
	}

	pricingID, err := r.prices.Create(ctx, cfg.PriceSourceConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToCreateVamm, err)
	}

	now := r.now().UTC()
	m := &model.Market{
		AssetID:                cfg.AssetID,
		PricingID:              pricingID,
		MarginRatioInitial:     cfg.MarginRatioInitial,
		MarginRatioMaintenance: cfg.MarginRatioMaintenance,
		MinimumTradeSize:       cfg.MinimumTradeSize,
		FundingFrequency:       cfg.FundingFrequency,
		FundingPeriod:          cfg.FundingPeriod,
		FundingRateTS:          now.Unix(),
		PriceSourceConfig:      cfg.PriceSourceConfig,
		CreatedAt:              now,
	}
	if _, err := r.store.CreateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("store market: %w", err)
	}
	return m, nil
}

func (r *Registry) GetMarket(ctx context.Context, id model.MarketID) (*model.Market, error) {
	return r.store.GetMarket(ctx, id)
}

func (r *Registry) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return r.store.ListMarkets(ctx)
}

func (r *Registry) MarketCount(ctx context.Context) (uint64, error) {
	return r.store.MarketCount(ctx)
}
