// Package clearinghouse is the entry point for clearing house operations:
// market creation, trading, margin deposits and account queries.
//
// Every mutating operation validates fully before a single atomic store
// commit, so a failed call leaves markets, positions and margins unchanged.
// Operations on one account are serialized; different accounts proceed in
// parallel.
package clearinghouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/clearing-house/internal/fixed"
	"github.com/atmx/clearing-house/internal/ledger"
	"github.com/atmx/clearing-house/internal/margin"
	"github.com/atmx/clearing-house/internal/metrics"
	"github.com/atmx/clearing-house/internal/model"
	"github.com/atmx/clearing-house/internal/notify"
	"github.com/atmx/clearing-house/internal/oracle"
	"github.com/atmx/clearing-house/internal/pricing"
	"github.com/atmx/clearing-house/internal/registry"
	"github.com/atmx/clearing-house/internal/store"
)

// DefaultMaxPositions is the per-account position bound used when Options
// leaves it unset.
const DefaultMaxPositions = 5

// Options configures a Service.
type Options struct {
	MaxPositions    int
	CollateralAsset string

	// OperatorPrices enables SetMarketPrice on sources that accept it.
	OperatorPrices bool
}

// PriceSetter is implemented by price sources that accept operator prices.
type PriceSetter interface {
	SetPriceOf(id model.PricingID, price *decimal.Decimal)
}

// Service handles clearing house operations.
type Service struct {
	store      store.Store
	primary    store.Store // uncached; account state read for writes
	registry   *registry.Registry
	prices     pricing.Source
	notifier   notify.Notifier
	maxPos     int
	collateral string
	opPrices   bool
	accounts   keyedMutex
	now        func() time.Time
}

// NewService creates a clearing house service. Pass nil for n if
// notifications are not needed.
func NewService(st store.Store, reg *registry.Registry, prices pricing.Source, n notify.Notifier, opts Options) (*Service, error) {
	if opts.MaxPositions <= 0 {
		opts.MaxPositions = DefaultMaxPositions
	}
	if n == nil {
		n = notify.Multi(nil)
	}
	collateral, err := oracle.ParseAssetID(opts.CollateralAsset)
	if err != nil {
		return nil, fmt.Errorf("collateral asset: %w", err)
	}
	return &Service{
		store:      st,
		primary:    store.PrimaryOf(st),
		registry:   reg,
		prices:     prices,
		notifier:   n,
		maxPos:     opts.MaxPositions,
		collateral: collateral,
		opPrices:   opts.OperatorPrices,
		now:        time.Now,
	}, nil
}

// OperatorPrices reports whether SetMarketPrice is enabled.
func (s *Service) OperatorPrices() bool { return s.opPrices }

// TradeResult describes an executed trade.
type TradeResult struct {
	Trade    model.TradeRecord `json:"trade"`
	Position *model.Position   `json:"position"` // nil when flat
	Margin   decimal.Decimal   `json:"margin"`
}

// PriceQuote is a market's current price and, if available, its TWAP.
type PriceQuote struct {
	MarketID model.MarketID   `json:"market_id"`
	Price    decimal.Decimal  `json:"price"`
	Twap     *decimal.Decimal `json:"twap,omitempty"`
}

// CreateMarket validates cfg and creates a market on behalf of caller.
func (s *Service) CreateMarket(ctx context.Context, caller string, cfg model.MarketConfig) (*model.Market, error) {
	if caller == "" {
		return nil, s.reject("create_market", ErrInvalidAccount)
	}
	if id, err := oracle.ParseAssetID(cfg.AssetID); err == nil {
		cfg.AssetID = id
	}

	m, err := s.registry.CreateMarket(ctx, cfg)
	if err != nil {
		return nil, s.reject("create_market", err)
	}

	metrics.MarketsCreated.Inc()
	slog.Info("market created",
		"id", m.ID,
		"asset", m.AssetID,
		"caller", caller,
		"imr", m.MarginRatioInitial.String(),
		"mmr", m.MarginRatioMaintenance.String(),
	)
	s.notifier.Notify(notify.NewEvent(model.EventMarketCreated, model.MarketCreated{
		MarketID: m.ID,
		AssetID:  m.AssetID,
	}))
	return m, nil
}

// OpenPosition trades quote worth of the market's asset in direction for
// account. baseLimit bounds the swap output: the minimum base received when
// going long, the maximum base given when going short.
func (s *Service) OpenPosition(
	ctx context.Context,
	account string,
	marketID model.MarketID,
	direction model.Direction,
	quote, baseLimit decimal.Decimal,
) (*TradeResult, error) {
	switch {
	case account == "":
		return nil, s.reject("open_position", ErrInvalidAccount)
	case !direction.Valid():
		return nil, s.reject("open_position", fmt.Errorf("%w: %q", ErrInvalidDirection, direction))
	case quote.IsNegative() || baseLimit.IsNegative():
		return nil, s.reject("open_position", fmt.Errorf("%w: quote and base limit must be non-negative", ErrInvalidAmount))
	}

	// Labelled only once direction is known to be long or short.
	start := time.Now()
	defer func() {
		metrics.TradeLatency.WithLabelValues(string(direction)).Observe(time.Since(start).Seconds())
	}()

	unlock := s.accounts.Lock(account)
	defer unlock()

	res, err := s.openPosition(ctx, account, marketID, direction, quote, baseLimit)
	if err != nil {
		return nil, s.reject("open_position", err)
	}

	r := res.Trade
	metrics.TradesTotal.WithLabelValues(string(r.Direction), string(r.Kind)).Inc()
	metrics.MarketVolume.WithLabelValues(marketID.String(), string(r.Direction)).Add(r.QuoteAmount.InexactFloat64())
	if !r.RealizedPnL.IsZero() {
		sign := "profit"
		if r.RealizedPnL.IsNegative() {
			sign = "loss"
		}
		metrics.RealizedPnL.WithLabelValues(marketID.String(), sign).Add(r.RealizedPnL.Abs().InexactFloat64())
	}

	slog.Info("trade executed",
		"trade_id", r.ID,
		"account", account,
		"market", marketID,
		"direction", direction,
		"kind", r.Kind,
		"quote", r.QuoteAmount.String(),
		"base", r.BaseAmount.String(),
		"pnl", r.RealizedPnL.String(),
		"margin", res.Margin.String(),
	)
	s.notifier.Notify(notify.NewEvent(model.EventTradeExecuted, model.TradeExecuted{
		MarketID:        marketID,
		Direction:       direction,
		QuoteAmount:     quote,
		BaseAmountLimit: baseLimit,
	}))
	return res, nil
}

// openPosition runs the trade with the account lock held.
func (s *Service) openPosition(
	ctx context.Context,
	account string,
	marketID model.MarketID,
	direction model.Direction,
	quote, baseLimit decimal.Decimal,
) (*TradeResult, error) {
	market, err := s.market(ctx, marketID)
	if err != nil {
		return nil, err
	}

	positions, err := s.primary.GetPositions(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	var existing *model.Position
	for i := range positions {
		if positions[i].MarketID == marketID {
			existing = &positions[i]
			break
		}
	}
	if existing == nil && len(positions) >= s.maxPos {
		return nil, fmt.Errorf("%w: account holds %d positions", ErrMaxPositionsExceeded, len(positions))
	}
	balance, err := s.primary.GetMargin(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("load margin: %w", err)
	}

	t := &pendingTrade{
		account:   account,
		market:    market,
		positions: positions,
		existing:  existing,
		balance:   balance,
		direction: direction,
		quote:     quote,
	}
	swap := pricing.SwapConfig{
		PricingID:         market.PricingID,
		Asset:             pricing.Quote,
		InputAmount:       quote,
		Direction:         pricing.DirectionFor(direction),
		OutputAmountLimit: baseLimit,
	}

	// Sources that can quote are asked first, so a trade the ledger or the
	// margin check rejects never moves the price.
	if p, ok := s.prices.(pricing.Previewer); ok {
		preview, err := p.PreviewSwap(ctx, swap)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToExecuteSwap, err)
		}
		if _, err := s.evaluate(ctx, t, preview); err != nil {
			return nil, err
		}
	}

	out, err := s.prices.Swap(ctx, swap)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToExecuteSwap, err)
	}
	ev, err := s.evaluate(ctx, t, out)
	if err != nil {
		return nil, err
	}

	record := model.TradeRecord{
		ID:              uuid.NewString(),
		Account:         account,
		MarketID:        marketID,
		Direction:       direction,
		Kind:            ev.outcome.Kind,
		QuoteAmount:     quote,
		BaseAmount:      out.Output,
		BaseAmountLimit: baseLimit,
		RealizedPnL:     ev.outcome.RealizedPnL,
		Timestamp:       s.now().UTC(),
	}
	if err := s.store.ApplyTrade(ctx, &model.AccountUpdate{
		Account:  account,
		MarketID: marketID,
		Position: ev.outcome.Position,
		Margin:   ev.margin,
		Record:   record,
	}); err != nil {
		return nil, fmt.Errorf("commit trade: %w", err)
	}

	return &TradeResult{Trade: record, Position: ev.outcome.Position, Margin: ev.margin}, nil
}

// pendingTrade is the account state a trade is evaluated against.
type pendingTrade struct {
	account   string
	market    *model.Market
	positions []model.Position
	existing  *model.Position
	balance   decimal.Decimal
	direction model.Direction
	quote     decimal.Decimal
}

// evaluation is a trade's effect on an account before it is committed.
type evaluation struct {
	outcome ledger.Outcome
	margin  decimal.Decimal
}

// evaluate applies a swap output to the account and runs the size and
// margin checks. It does not write anything.
func (s *Service) evaluate(ctx context.Context, t *pendingTrade, out pricing.SwapOutput) (*evaluation, error) {
	if out.Negative != (t.direction == model.Short) {
		return nil, fmt.Errorf("%w: %s swap returned output of the wrong sign", ErrFailedToExecuteSwap, t.direction)
	}

	sign := t.direction.Sign()
	outcome, err := ledger.Apply(t.existing, ledger.Trade{
		Account:  t.account,
		MarketID: t.market.ID,
		Base:     fixed.WithSign(out.Output, sign),
		Quote:    fixed.WithSign(t.quote, sign),
	}, t.market.MinimumTradeSize)
	if err != nil {
		return nil, err
	}

	settled, err := fixed.Add(t.balance, outcome.RealizedPnL)
	if err != nil {
		return nil, err
	}
	// Losses beyond the balance are absorbed rather than carried as debt.
	settled = fixed.ClampZero(settled)

	if outcome.Kind.IncreasesRisk() {
		after := margin.Replace(t.positions, t.market.ID, outcome.Position)
		markets, err := s.marketsFor(ctx, after, t.market)
		if err != nil {
			return nil, err
		}
		if err := margin.Check(settled, after, markets); err != nil {
			return nil, err
		}
	}
	return &evaluation{outcome: outcome, margin: settled}, nil
}

// AddMargin credits amount of the collateral asset to account's margin and
// returns the new balance.
func (s *Service) AddMargin(ctx context.Context, account, asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	if account == "" {
		return decimal.Zero, s.reject("add_margin", ErrInvalidAccount)
	}
	id, err := oracle.ParseAssetID(asset)
	if err != nil {
		return decimal.Zero, s.reject("add_margin", err)
	}
	if id != s.collateral {
		return decimal.Zero, s.reject("add_margin", fmt.Errorf("%w: %s (collateral is %s)", ErrUnsupportedCollateral, id, s.collateral))
	}
	if !amount.IsPositive() {
		return decimal.Zero, s.reject("add_margin", fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount))
	}

	unlock := s.accounts.Lock(account)
	defer unlock()

	balance, err := s.primary.GetMargin(ctx, account)
	if err != nil {
		return decimal.Zero, s.reject("add_margin", fmt.Errorf("load margin: %w", err))
	}
	balance, err = fixed.UAdd(balance, amount)
	if err != nil {
		return decimal.Zero, s.reject("add_margin", err)
	}
	if err := s.store.SetMargin(ctx, account, balance); err != nil {
		return decimal.Zero, s.reject("add_margin", fmt.Errorf("store margin: %w", err))
	}

	metrics.MarginDeposits.Add(amount.InexactFloat64())
	slog.Info("margin added", "account", account, "asset", id, "amount", amount.String(), "balance", balance.String())
	s.notifier.Notify(notify.NewEvent(model.EventMarginAdded, model.MarginAdded{
		Account: account,
		AssetID: id,
		Amount:  amount,
	}))
	return balance, nil
}

// --- Queries ---

func (s *Service) GetMarket(ctx context.Context, id model.MarketID) (*model.Market, error) {
	return s.market(ctx, id)
}

func (s *Service) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.registry.ListMarkets(ctx)
}

func (s *Service) MarketCount(ctx context.Context) (uint64, error) {
	return s.registry.MarketCount(ctx)
}

func (s *Service) GetPositions(ctx context.Context, account string) ([]model.Position, error) {
	return s.store.GetPositions(ctx, account)
}

func (s *Service) GetMargin(ctx context.Context, account string) (decimal.Decimal, error) {
	return s.store.GetMargin(ctx, account)
}

// AccountSummary reports an account's margin, positions and requirements.
func (s *Service) AccountSummary(ctx context.Context, account string) (*model.AccountSummary, error) {
	positions, err := s.store.GetPositions(ctx, account)
	if err != nil {
		return nil, err
	}
	balance, err := s.store.GetMargin(ctx, account)
	if err != nil {
		return nil, err
	}
	markets, err := s.marketsFor(ctx, positions, nil)
	if err != nil {
		return nil, err
	}

	summary := &model.AccountSummary{Account: account, Margin: balance, Positions: positions}
	if summary.Positions == nil {
		summary.Positions = []model.Position{}
	}
	if summary.TotalNotional, err = margin.TotalNotional(positions); err != nil {
		return nil, err
	}
	if summary.InitialMargin, err = margin.InitialMargin(positions, markets); err != nil {
		return nil, err
	}
	if summary.MaintenanceMargin, err = margin.MaintenanceMargin(positions, markets); err != nil {
		return nil, err
	}
	if summary.EffectiveLeverage, err = margin.EffectiveLeverage(positions, balance); err != nil {
		return nil, err
	}
	return summary, nil
}

// TradesByMarket returns a market's trade journal in execution order.
func (s *Service) TradesByMarket(ctx context.Context, id model.MarketID) ([]model.TradeRecord, error) {
	if _, err := s.market(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetTradesByMarket(ctx, id)
}

// TradesByAccount returns an account's trade journal in execution order.
func (s *Service) TradesByAccount(ctx context.Context, account string) ([]model.TradeRecord, error) {
	return s.store.GetTradesByAccount(ctx, account)
}

// MarketPrice returns the current base price of a market and its TWAP when
// the price source has one.
func (s *Service) MarketPrice(ctx context.Context, id model.MarketID) (*PriceQuote, error) {
	m, err := s.market(ctx, id)
	if err != nil {
		return nil, err
	}
	price, err := s.prices.GetPrice(ctx, m.PricingID, pricing.Base)
	if err != nil {
		return nil, err
	}
	q := &PriceQuote{MarketID: id, Price: price}
	twap, err := s.prices.GetTwap(ctx, m.PricingID, pricing.Base)
	switch {
	case err == nil:
		q.Twap = &twap
	case !errors.Is(err, pricing.ErrNoTwap):
		return nil, err
	}
	return q, nil
}

// SetMarketPrice sets a market's price on sources that accept operator
// prices. It fails unless Options.OperatorPrices is set.
func (s *Service) SetMarketPrice(ctx context.Context, id model.MarketID, price decimal.Decimal) error {
	if !s.opPrices {
		return ErrOperatorPricesDisabled
	}
	setter, ok := s.prices.(PriceSetter)
	if !ok {
		return ErrPriceNotSettable
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidAmount)
	}
	m, err := s.market(ctx, id)
	if err != nil {
		return err
	}
	setter.SetPriceOf(m.PricingID, &price)
	slog.Info("market price set", "market", id, "price", price.String())
	return nil
}

// --- Helpers ---

func (s *Service) market(ctx context.Context, id model.MarketID) (*model.Market, error) {
	m, err := s.registry.GetMarket(ctx, id)
	if errors.Is(err, store.ErrMarketNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrMarketIDNotFound, id)
	}
	return m, err
}

// marketsFor loads the markets of positions. known, if set, is reused
// instead of being fetched again.
func (s *Service) marketsFor(ctx context.Context, positions []model.Position, known *model.Market) (margin.Markets, error) {
	markets := make(margin.Markets, len(positions))
	if known != nil {
		markets[known.ID] = known
	}
	for _, p := range positions {
		if _, ok := markets[p.MarketID]; ok {
			continue
		}
		m, err := s.market(ctx, p.MarketID)
		if err != nil {
			return nil, err
		}
		markets[p.MarketID] = m
	}
	return markets, nil
}

// reject records a failed operation and returns err unchanged.
func (s *Service) reject(operation string, err error) error {
	_, reason := classify(err)
	metrics.Rejections.WithLabelValues(operation, reason).Inc()
	slog.Warn("operation rejected", "operation", operation, "reason", reason, "err", err)
	return err
}
