package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/clearing-house/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const marketColumns = `id, asset_id, pricing_id,
		        margin_ratio_initial::TEXT, margin_ratio_maintenance::TEXT, minimum_trade_size::TEXT,
		        funding_frequency, funding_period, funding_rate_ts,
		        price_source_config::TEXT, created_at`

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) (model.MarketID, error) {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// The counter row lock serializes concurrent creations.
		var id int64
		if err := tx.QueryRow(ctx,
			`UPDATE market_counter SET next_id = next_id + 1 RETURNING next_id - 1`).Scan(&id); err != nil {
			return fmt.Errorf("allocate market id: %w", err)
		}
		m.ID = model.MarketID(id)

		_, err := tx.Exec(ctx,
			`INSERT INTO markets (id, asset_id, pricing_id,
			                      margin_ratio_initial, margin_ratio_maintenance, minimum_trade_size,
			                      funding_frequency, funding_period, funding_rate_ts,
			                      price_source_config, created_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10::JSONB, $11)`,
			id, m.AssetID, int64(m.PricingID),
			m.MarginRatioInitial.String(), m.MarginRatioMaintenance.String(), m.MinimumTradeSize.String(),
			int64(m.FundingFrequency), int64(m.FundingPeriod), m.FundingRateTS,
			nullableJSON(m.PriceSourceConfig), m.CreatedAt,
		)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("create market: %w", err)
	}
	return m.ID, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id model.MarketID) (*model.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, int64(id))
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrMarketNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %d: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) MarketCount(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT next_id FROM market_counter`).Scan(&n); err != nil {
		return 0, fmt.Errorf("market count: %w", err)
	}
	return uint64(n), nil
}

func (s *PostgresStore) GetMargin(ctx context.Context, account string) (decimal.Decimal, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM margins WHERE account = $1`, account).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get margin %s: %w", account, err)
	}
	return decimal.NewFromString(balance)
}

func (s *PostgresStore) SetMargin(ctx context.Context, account string, margin decimal.Decimal) error {
	return upsertMargin(ctx, s.pool, account, margin)
}

func (s *PostgresStore) GetPositions(ctx context.Context, account string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, base_asset_amount::TEXT, quote_asset_notional_amount::TEXT
		 FROM positions WHERE account = $1 ORDER BY market_id`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var marketID int64
		var baseS, quoteS string
		if err := rows.Scan(&marketID, &baseS, &quoteS); err != nil {
			return nil, err
		}
		p := model.Position{Account: account, MarketID: model.MarketID(marketID)}
		if p.BaseAssetAmount, err = decimal.NewFromString(baseS); err != nil {
			return nil, err
		}
		if p.QuoteAssetNotionalAmount, err = decimal.NewFromString(quoteS); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ApplyTrade(ctx context.Context, u *model.AccountUpdate) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if u.Position == nil {
			if _, err := tx.Exec(ctx,
				`DELETE FROM positions WHERE account = $1 AND market_id = $2`,
				u.Account, int64(u.MarketID)); err != nil {
				return fmt.Errorf("delete position: %w", err)
			}
		} else {
			if _, err := tx.Exec(ctx,
				`INSERT INTO positions (account, market_id, base_asset_amount, quote_asset_notional_amount)
				 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)
				 ON CONFLICT (account, market_id) DO UPDATE
				 SET base_asset_amount = EXCLUDED.base_asset_amount,
				     quote_asset_notional_amount = EXCLUDED.quote_asset_notional_amount`,
				u.Account, int64(u.MarketID),
				u.Position.BaseAssetAmount.String(), u.Position.QuoteAssetNotionalAmount.String()); err != nil {
				return fmt.Errorf("upsert position: %w", err)
			}
		}

		if err := upsertMargin(ctx, tx, u.Account, u.Margin); err != nil {
			return err
		}

		r := u.Record
		if _, err := tx.Exec(ctx,
			`INSERT INTO trades (id, account, market_id, direction, kind,
			                     quote_amount, base_amount, base_amount_limit, realized_pnl, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
			r.ID, r.Account, int64(r.MarketID), string(r.Direction), string(r.Kind),
			r.QuoteAmount.String(), r.BaseAmount.String(), r.BaseAmountLimit.String(),
			r.RealizedPnL.String(), r.Timestamp); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetTradesByMarket(ctx context.Context, id model.MarketID) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE market_id = $1 ORDER BY seq`, int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) GetTradesByAccount(ctx context.Context, account string) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE account = $1 ORDER BY seq`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertMargin(ctx context.Context, db execer, account string, margin decimal.Decimal) error {
	if _, err := db.Exec(ctx,
		`INSERT INTO margins (account, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (account) DO UPDATE SET balance = EXCLUDED.balance`,
		account, margin.String()); err != nil {
		return fmt.Errorf("upsert margin: %w", err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func scanMarket(row pgx.Row) (*model.Market, error) {
	var (
		m                           model.Market
		id, pricingID, freq, period int64
		initialS, maintS, minS      string
		priceSourceConfig           *string
	)
	if err := row.Scan(&id, &m.AssetID, &pricingID,
		&initialS, &maintS, &minS,
		&freq, &period, &m.FundingRateTS,
		&priceSourceConfig, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.ID = model.MarketID(id)
	m.PricingID = model.PricingID(pricingID)
	m.FundingFrequency = uint64(freq)
	m.FundingPeriod = uint64(period)
	if priceSourceConfig != nil {
		m.PriceSourceConfig = json.RawMessage(*priceSourceConfig)
	}

	var err error
	if m.MarginRatioInitial, err = decimal.NewFromString(initialS); err != nil {
		return nil, err
	}
	if m.MarginRatioMaintenance, err = decimal.NewFromString(maintS); err != nil {
		return nil, err
	}
	if m.MinimumTradeSize, err = decimal.NewFromString(minS); err != nil {
		return nil, err
	}
	return &m, nil
}

const tradeColumns = `id::TEXT, account, market_id, direction, kind,
		        quote_amount::TEXT, base_amount::TEXT, base_amount_limit::TEXT, realized_pnl::TEXT, timestamp`

func scanTrades(rows pgx.Rows) ([]model.TradeRecord, error) {
	var trades []model.TradeRecord
	for rows.Next() {
		var (
			t                           model.TradeRecord
			marketID                    int64
			direction, kind             string
			quoteS, baseS, limitS, pnlS string
		)
		if err := rows.Scan(&t.ID, &t.Account, &marketID, &direction, &kind,
			&quoteS, &baseS, &limitS, &pnlS, &t.Timestamp); err != nil {
			return nil, err
		}
		t.MarketID = model.MarketID(marketID)
		t.Direction = model.Direction(direction)
		t.Kind = model.TradeKind(kind)

		var err error
		if t.QuoteAmount, err = decimal.NewFromString(quoteS); err != nil {
			return nil, err
		}
		if t.BaseAmount, err = decimal.NewFromString(baseS); err != nil {
			return nil, err
		}
		if t.BaseAmountLimit, err = decimal.NewFromString(limitS); err != nil {
			return nil, err
		}
		if t.RealizedPnL, err = decimal.NewFromString(pnlS); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
