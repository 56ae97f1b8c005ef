package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/clearing-house/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis cache.
//
// Account keys are written through after every primary commit, and cache
// misses fill with SET NX. A miss that read the primary before a commit can
// then never replace the value the commit wrote. Callers that read state in
// order to write it back use Primary, not the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// Primary returns the uncached store.
func (s *CachedStore) Primary() Store { return s.primary }

// --- Write-through (write to primary, then refresh cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) (model.MarketID, error) {
	id, err := s.primary.CreateMarket(ctx, m)
	if err != nil {
		return 0, err
	}
	// Markets are immutable once stored, so they can be cached eagerly.
	s.cacheJSON(ctx, marketKey(id), m)
	return id, nil
}

func (s *CachedStore) SetMargin(ctx context.Context, account string, margin decimal.Decimal) error {
	if err := s.primary.SetMargin(ctx, account, margin); err != nil {
		return err
	}
	s.refresh(ctx, marginKey(account), margin.String())
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, u *model.AccountUpdate) error {
	if err := s.primary.ApplyTrade(ctx, u); err != nil {
		return err
	}
	s.refresh(ctx, marginKey(u.Account), u.Margin.String())

	positions, err := s.primary.GetPositions(ctx, u.Account)
	if err != nil {
		s.invalidate(ctx, positionsKey(u.Account))
		return nil
	}
	if data, err := json.Marshal(positions); err == nil {
		s.refresh(ctx, positionsKey(u.Account), data)
	} else {
		s.invalidate(ctx, positionsKey(u.Account))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id model.MarketID) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, marketKey(id), m)
	return m, nil
}

func (s *CachedStore) GetMargin(ctx context.Context, account string) (decimal.Decimal, error) {
	raw, err := s.rdb.Get(ctx, marginKey(account)).Result()
	if err == nil {
		if margin, err := decimal.NewFromString(raw); err == nil {
			return margin, nil
		}
	}

	margin, err := s.primary.GetMargin(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	s.rdb.SetNX(ctx, marginKey(account), margin.String(), s.ttl)
	return margin, nil
}

func (s *CachedStore) GetPositions(ctx context.Context, account string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(account)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetPositions(ctx, account)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.SetNX(ctx, positionsKey(account), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) MarketCount(ctx context.Context) (uint64, error) {
	return s.primary.MarketCount(ctx)
}

func (s *CachedStore) GetTradesByMarket(ctx context.Context, id model.MarketID) ([]model.TradeRecord, error) {
	return s.primary.GetTradesByMarket(ctx, id)
}

func (s *CachedStore) GetTradesByAccount(ctx context.Context, account string) ([]model.TradeRecord, error) {
	return s.primary.GetTradesByAccount(ctx, account)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// refresh overwrites key after a primary commit. If the write fails the key
// is dropped so readers fall back to the primary.
func (s *CachedStore) refresh(ctx context.Context, key string, value any) {
	if err := s.rdb.Set(ctx, key, value, s.ttl).Err(); err != nil {
		slog.Warn("cache refresh failed", "key", key, "err", err)
		s.invalidate(ctx, key)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		slog.Error("cache invalidate failed", "key", key, "err", err)
	}
}

func marketKey(id model.MarketID) string { return fmt.Sprintf("clearinghouse:market:%d", uint64(id)) }
func marginKey(account string) string    { return fmt.Sprintf("clearinghouse:margin:%s", account) }
func positionsKey(account string) string { return fmt.Sprintf("clearinghouse:positions:%s", account) }
