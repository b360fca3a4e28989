package model

import (
	"encoding/json"
	"time"
)

// Strategy is a marketplace strategy record. Code is the user-supplied
// source handed to the signal oracle; it is never evaluated in-process.
type Strategy struct {
	ID        int64           `json:"id" db:"id"`
	UserID    int64           `json:"user_id" db:"user_id"`
	Name      string          `json:"name" db:"name"`
	Code      string          `json:"-" db:"code"`
	Config    json.RawMessage `json:"config" db:"config"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// StrategyStats is the denormalized summary kept on the strategy row and
// refreshed after every persisted backtest.
type StrategyStats struct {
	BacktestCount  int        `json:"backtest_count" db:"backtest_count"`
	LastBacktestAt *time.Time `json:"last_backtest_at,omitempty" db:"last_backtest_at"`
	LastWinRate    float64    `json:"last_win_rate" db:"last_win_rate"`
	LastTotalPnl   float64    `json:"last_total_pnl_pct" db:"last_total_pnl_pct"`
	LastSharpe     float64    `json:"last_sharpe" db:"last_sharpe"`
	LastMaxDDPct   float64    `json:"last_max_drawdown_pct" db:"last_max_drawdown_pct"`
}
