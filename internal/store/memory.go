package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/clearing-house/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	markets   []model.Market
	margins   map[string]decimal.Decimal
	positions map[string]map[model.MarketID]model.Position
	journal   []model.TradeRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		margins:   make(map[string]decimal.Decimal),
		positions: make(map[string]map[model.MarketID]model.Position),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) (model.MarketID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ids are dense, so the next id is the current count.
	m.ID = model.MarketID(len(s.markets))
	s.markets = append(s.markets, cloneMarket(m))
	return m.ID, nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id model.MarketID) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if uint64(id) >= uint64(len(s.markets)) {
		return nil, fmt.Errorf("%w: %d", ErrMarketNotFound, id)
	}
	m := cloneMarket(&s.markets[id])
	return &m, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for i := range s.markets {
		markets = append(markets, cloneMarket(&s.markets[i]))
	}
	return markets, nil
}

func (s *MemoryStore) MarketCount(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.markets)), nil
}

func (s *MemoryStore) GetMargin(_ context.Context, account string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.margins[account], nil
}

func (s *MemoryStore) SetMargin(_ context.Context, account string, margin decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.margins[account] = margin
	return nil
}

func (s *MemoryStore) GetPositions(_ context.Context, account string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	held := s.positions[account]
	positions := make([]model.Position, 0, len(held))
	for _, p := range held {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].MarketID < positions[j].MarketID
	})
	return positions, nil
}

func (s *MemoryStore) ApplyTrade(_ context.Context, u *model.AccountUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate before mutating so a rejected update leaves no trace.
	if uint64(u.MarketID) >= uint64(len(s.markets)) {
		return fmt.Errorf("%w: %d", ErrMarketNotFound, u.MarketID)
	}

	held := s.positions[u.Account]
	if u.Position == nil {
		delete(held, u.MarketID)
		if len(held) == 0 {
			delete(s.positions, u.Account)
		}
	} else {
		if held == nil {
			held = make(map[model.MarketID]model.Position)
			s.positions[u.Account] = held
		}
		held[u.MarketID] = *u.Position
	}
	s.margins[u.Account] = u.Margin
	s.journal = append(s.journal, u.Record)
	return nil
}

func (s *MemoryStore) GetTradesByMarket(_ context.Context, id model.MarketID) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, r := range s.journal {
		if r.MarketID == id {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetTradesByAccount(_ context.Context, account string) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, r := range s.journal {
		if r.Account == account {
			result = append(result, r)
		}
	}
	return result, nil
}

// cloneMarket copies a market including its raw config bytes so callers
// cannot mutate stored state.
func cloneMarket(m *model.Market) model.Market {
	c := *m
	if m.PriceSourceConfig != nil {
		c.PriceSourceConfig = append([]byte(nil), m.PriceSourceConfig...)
	}
	return c
}
