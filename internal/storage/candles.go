package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"quantlab/internal/model"
)

// CandleStore is the historical data provider: time-ordered klines out of
// postgres, converted to the engine's float64 candles at the boundary.
type CandleStore struct {
	pool *pgxpool.Pool
}

func NewCandleStore(pool *pgxpool.Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

func (s *CandleStore) LoadCandles(ctx context.Context, symbol string, resolution model.Resolution, start, end time.Time) ([]model.Candle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT time, open, high, low, close, volume
		FROM market_klines
		WHERE symbol = $1 AND period = $2 AND time >= $3 AND time <= $4
		ORDER BY time ASC`,
		symbol, string(resolution), start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var ts time.Time
		var o, h, l, c, v decimal.Decimal
		if err := rows.Scan(&ts, &o, &h, &l, &c, &v); err != nil {
			return nil, err
		}
		candles = append(candles, model.Candle{
			Time:   ts,
			Open:   o.InexactFloat64(),
			High:   h.InexactFloat64(),
			Low:    l.InexactFloat64(),
			Close:  c.InexactFloat64(),
			Volume: v.InexactFloat64(),
		})
	}
	return candles, rows.Err()
}

// LoadKLines returns raw decimal klines, newest-first, for the history API.
func (s *CandleStore) LoadKLines(ctx context.Context, symbol, period string, limit int) ([]model.KLine, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, exchange, open, high, low, close, volume, time
		FROM market_klines
		WHERE symbol = $1 AND period = $2
		ORDER BY time DESC
		LIMIT $3`,
		symbol, period, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	klines := make([]model.KLine, 0, limit)
	for rows.Next() {
		var k model.KLine
		if err := rows.Scan(&k.Symbol, &k.Exchange, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume, &k.Timestamp); err != nil {
			return nil, err
		}
		k.Period = period
		klines = append(klines, k)
	}
	return klines, rows.Err()
}
