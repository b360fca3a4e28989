package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quantlab/internal/model"
)

// ResultStore persists completed backtests as jsonb documents and keeps the
// denormalized summary stats on the strategy row fresh.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

func (s *ResultStore) Save(ctx context.Context, strategyID int64, result *model.BacktestResult) error {
	cfgJSON, err := json.Marshal(result.Config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	metricsJSON, err := json.Marshal(result.Metrics)
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	tradesJSON, err := json.Marshal(result.Trades)
	if err != nil {
		return fmt.Errorf("encoding trades: %w", err)
	}
	curveJSON, err := json.Marshal(result.EquityCurve)
	if err != nil {
		return fmt.Errorf("encoding equity curve: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO backtest_results
			(id, strategy_id, symbol, period, start_time, end_time,
			 config, metrics, trades, equity_curve, execution_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		result.ID, strategyID, result.Config.Symbol, string(result.Config.Resolution),
		result.Config.StartDate, result.Config.EndDate,
		cfgJSON, metricsJSON, tradesJSON, curveJSON, result.ExecutionTimeMs)
	if err != nil {
		return fmt.Errorf("inserting result: %w", err)
	}

	m := result.Metrics
	_, err = tx.Exec(ctx, `
		UPDATE strategies SET
			backtest_count = backtest_count + 1,
			last_backtest_at = now(),
			last_win_rate = $2,
			last_total_pnl_pct = $3,
			last_sharpe = $4,
			last_max_drawdown_pct = $5
		WHERE id = $1`,
		strategyID, m.WinRate, m.TotalPnlPct, finiteOrZero(m.SharpeRatio), m.MaxDrawdownPct)
	if err != nil {
		return fmt.Errorf("updating strategy stats: %w", err)
	}

	return tx.Commit(ctx)
}

// List returns completed runs for a strategy, newest first.
func (s *ResultStore) List(ctx context.Context, strategyID int64, limit int) ([]model.BacktestResult, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, config, metrics, trades, equity_curve, execution_ms, created_at
		FROM backtest_results
		WHERE strategy_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		strategyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]model.BacktestResult, 0, limit)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

// Latest returns the most recent run for a strategy, or nil when none exist.
func (s *ResultStore) Latest(ctx context.Context, strategyID int64) (*model.BacktestResult, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, config, metrics, trades, equity_curve, execution_ms, created_at
		FROM backtest_results
		WHERE strategy_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		strategyID)
	r, err := scanResult(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func scanResult(row pgx.Row) (*model.BacktestResult, error) {
	var r model.BacktestResult
	var id uuid.UUID
	var createdAt time.Time
	var cfgJSON, metricsJSON, tradesJSON, curveJSON []byte
	if err := row.Scan(&id, &cfgJSON, &metricsJSON, &tradesJSON, &curveJSON, &r.ExecutionTimeMs, &createdAt); err != nil {
		return nil, err
	}
	r.ID = id
	r.CreatedAt = createdAt
	if err := json.Unmarshal(cfgJSON, &r.Config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := json.Unmarshal(metricsJSON, &r.Metrics); err != nil {
		return nil, fmt.Errorf("decoding metrics: %w", err)
	}
	if err := json.Unmarshal(tradesJSON, &r.Trades); err != nil {
		return nil, fmt.Errorf("decoding trades: %w", err)
	}
	if err := json.Unmarshal(curveJSON, &r.EquityCurve); err != nil {
		return nil, fmt.Errorf("decoding equity curve: %w", err)
	}
	return &r, nil
}

// finiteOrZero guards numeric columns against Inf/NaN ratios.
func finiteOrZero(f float64) float64 {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
