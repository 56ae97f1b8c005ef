// Package store defines the persistence interface for the clearing house.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/clearing-house/internal/model"
)

var (
	// ErrMarketNotFound is returned when a market id has not been allocated.
	ErrMarketNotFound = errors.New("store: market not found")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market registry ---

	// CreateMarket allocates the next market id, stores the market under it
	// and bumps the market count, all atomically. m.ID is set on success.
	CreateMarket(ctx context.Context, m *model.Market) (model.MarketID, error)

	// GetMarket retrieves a market by its id.
	GetMarket(ctx context.Context, id model.MarketID) (*model.Market, error)

	// ListMarkets returns all markets ordered by id.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// MarketCount returns the number of markets created so far.
	MarketCount(ctx context.Context) (uint64, error)

	// --- Accounts ---

	// GetMargin returns an account's margin balance (zero if none).
	GetMargin(ctx context.Context, account string) (decimal.Decimal, error)

	// SetMargin overwrites an account's margin balance.
	SetMargin(ctx context.Context, account string, margin decimal.Decimal) error

	// GetPositions returns an account's open positions ordered by market id.
	GetPositions(ctx context.Context, account string) ([]model.Position, error)

	// ApplyTrade commits a trade's position change, new margin balance and
	// journal record as one atomic unit.
	ApplyTrade(ctx context.Context, u *model.AccountUpdate) error

	// --- Immutable trade journal ---

	// GetTradesByMarket returns all trades for a market in execution order.
	GetTradesByMarket(ctx context.Context, id model.MarketID) ([]model.TradeRecord, error)

	// GetTradesByAccount returns all trades for an account in execution order.
	GetTradesByAccount(ctx context.Context, account string) ([]model.TradeRecord, error)
}

// Cache is implemented by stores layered over a primary Store.
type Cache interface {
	Primary() Store
}

// PrimaryOf returns the store beneath any cache layers of s. Reads whose
// results are written back must use it, since a cached copy may be stale.
func PrimaryOf(s Store) Store {
	for {
		c, ok := s.(Cache)
		if !ok {
			return s
		}
		s = c.Primary()
	}
}
