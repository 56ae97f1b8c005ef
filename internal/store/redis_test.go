package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/clearing-house/internal/model"
	"github.com/atmx/clearing-house/internal/store"
)

// hookStore runs afterRead once, right after the next GetPositions or
// GetMargin call has read the wrapped store.
type hookStore struct {
	store.Store
	afterRead func()
}

func (h *hookStore) fire() {
	if f := h.afterRead; f != nil {
		h.afterRead = nil
		f()
	}
}

func (h *hookStore) GetPositions(ctx context.Context, account string) ([]model.Position, error) {
	positions, err := h.Store.GetPositions(ctx, account)
	h.fire()
	return positions, err
}

func (h *hookStore) GetMargin(ctx context.Context, account string) (decimal.Decimal, error) {
	m, err := h.Store.GetMargin(ctx, account)
	h.fire()
	return m, err
}

func newCachedStore(t *testing.T) (*store.CachedStore, *hookStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	primary := &hookStore{Store: store.NewMemoryStore()}
	if _, err := primary.CreateMarket(context.Background(), &model.Market{AssetID: "BTC"}); err != nil {
		t.Fatalf("create market: %v", err)
	}
	return store.NewCachedStore(primary, rdb, time.Minute), primary, mr
}

func openLong(account string, margin string) *model.AccountUpdate {
	return &model.AccountUpdate{
		Account:  account,
		MarketID: 0,
		Position: &model.Position{Account: account, MarketID: 0, BaseAssetAmount: d("10"), QuoteAssetNotionalAmount: d("100")},
		Margin:   d(margin),
		Record:   model.TradeRecord{ID: "t1", Account: account, MarketID: 0, Kind: model.KindOpen},
	}
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	cs, _, mr := newCachedStore(t)

	m, err := cs.GetMarket(ctx, 0)
	if err != nil || m.AssetID != "BTC" {
		t.Fatalf("get market: %+v, %v", m, err)
	}
	if !mr.Exists("clearinghouse:market:0") {
		t.Error("expected market to be cached")
	}

	if _, err := cs.GetMargin(ctx, "alice"); err != nil {
		t.Fatalf("get margin: %v", err)
	}
	if got, _ := mr.Get("clearinghouse:margin:alice"); got != "0" {
		t.Errorf("expected cached margin 0, got %q", got)
	}

	// A cached value is served without touching the primary.
	mr.Set("clearinghouse:margin:alice", "7")
	margin, _ := cs.GetMargin(ctx, "alice")
	if !margin.Equal(d("7")) {
		t.Errorf("expected cached margin 7, got %s", margin)
	}
}

func TestCachedStore_WritesThroughAfterCommit(t *testing.T) {
	ctx := context.Background()
	cs, _, _ := newCachedStore(t)

	// Warm the cache with the empty account.
	cs.GetMargin(ctx, "alice")
	cs.GetPositions(ctx, "alice")

	if err := cs.SetMargin(ctx, "alice", d("50")); err != nil {
		t.Fatalf("set margin: %v", err)
	}
	margin, _ := cs.GetMargin(ctx, "alice")
	if !margin.Equal(d("50")) {
		t.Errorf("expected margin 50 after deposit, got %s", margin)
	}

	if err := cs.ApplyTrade(ctx, openLong("alice", "45")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	margin, _ = cs.GetMargin(ctx, "alice")
	positions, _ := cs.GetPositions(ctx, "alice")
	if !margin.Equal(d("45")) {
		t.Errorf("expected margin 45 after trade, got %s", margin)
	}
	if len(positions) != 1 || !positions[0].BaseAssetAmount.Equal(d("10")) {
		t.Errorf("expected the new position, got %+v", positions)
	}

	if err := cs.ApplyTrade(ctx, &model.AccountUpdate{Account: "alice", MarketID: 0, Margin: d("45")}); err != nil {
		t.Fatalf("apply close: %v", err)
	}
	positions, _ = cs.GetPositions(ctx, "alice")
	if len(positions) != 0 {
		t.Errorf("expected closed position to leave the cache, got %+v", positions)
	}
}

func TestCachedStore_StaleFillDoesNotOverwriteCommit(t *testing.T) {
	ctx := context.Background()
	cs, primary, _ := newCachedStore(t)

	// A trade commits between the miss reading the primary and filling
	// the cache.
	primary.afterRead = func() {
		if err := cs.ApplyTrade(ctx, openLong("alice", "90")); err != nil {
			t.Errorf("apply: %v", err)
		}
	}
	stale, err := cs.GetPositions(ctx, "alice")
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected the pre-trade read, got %+v", stale)
	}

	positions, _ := cs.GetPositions(ctx, "alice")
	if len(positions) != 1 || !positions[0].BaseAssetAmount.Equal(d("10")) {
		t.Errorf("stale fill replaced committed positions: %+v", positions)
	}

	primary.afterRead = func() {
		if err := cs.SetMargin(ctx, "bob", d("30")); err != nil {
			t.Errorf("set margin: %v", err)
		}
	}
	cs.GetMargin(ctx, "bob")
	margin, _ := cs.GetMargin(ctx, "bob")
	if !margin.Equal(d("30")) {
		t.Errorf("stale fill replaced committed margin: %s", margin)
	}
}

func TestPrimaryOf(t *testing.T) {
	cs, primary, _ := newCachedStore(t)

	if got := store.PrimaryOf(cs); got != store.Store(primary) {
		t.Errorf("expected the wrapped store, got %T", got)
	}
	ms := store.NewMemoryStore()
	if got := store.PrimaryOf(ms); got != store.Store(ms) {
		t.Errorf("expected an uncached store to be returned as is, got %T", got)
	}
}
