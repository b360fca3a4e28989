package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// SignalType is what the oracle may answer for a single candle.
type SignalType string

const (
	SignalLong      SignalType = "LONG"
	SignalShort     SignalType = "SHORT"
	SignalHold      SignalType = "HOLD"
	SignalExitLong  SignalType = "EXIT_LONG"
	SignalExitShort SignalType = "EXIT_SHORT"
)

func (s SignalType) Valid() bool {
	switch s {
	case SignalLong, SignalShort, SignalHold, SignalExitLong, SignalExitShort:
		return true
	}
	return false
}

// Signal is the oracle's verdict for one candle. StopLoss and TakeProfit are
// optional levels; zero means unset (prices are strictly positive).
type Signal struct {
	Signal     SignalType `json:"signal"`
	Price      float64    `json:"price"`
	Quantity   float64    `json:"quantity,omitempty"`
	StopLoss   float64    `json:"stopLoss,omitempty"`
	TakeProfit float64    `json:"takeProfit,omitempty"`
}

type ExitReason string

const (
	ExitSignal     ExitReason = "SIGNAL"
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
)

// ErrInvalidConfig marks configuration-class failures: the run never starts.
var ErrInvalidConfig = errors.New("invalid backtest config")

// BacktestConfig is immutable for the duration of one run.
type BacktestConfig struct {
	StrategyID     int64      `json:"strategy_id"`
	Symbol         string     `json:"symbol"`
	Resolution     Resolution `json:"resolution"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        time.Time  `json:"end_date"`
	InitialCapital float64    `json:"initial_capital"`
	RiskPerTrade   float64    `json:"risk_per_trade"`
	Leverage       float64    `json:"leverage"`
	Commission     float64    `json:"commission"`
}

func (c BacktestConfig) Validate() error {
	switch {
	case c.StrategyID <= 0:
		return fmt.Errorf("%w: strategy_id must be positive", ErrInvalidConfig)
	case c.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidConfig)
	case !c.Resolution.Valid():
		return fmt.Errorf("%w: unknown resolution %q", ErrInvalidConfig, c.Resolution)
	case !c.StartDate.Before(c.EndDate):
		return fmt.Errorf("%w: start_date must precede end_date", ErrInvalidConfig)
	case c.InitialCapital <= 0:
		return fmt.Errorf("%w: initial_capital must be positive", ErrInvalidConfig)
	case c.RiskPerTrade <= 0 || c.RiskPerTrade > 1:
		return fmt.Errorf("%w: risk_per_trade must be in (0,1]", ErrInvalidConfig)
	case c.Leverage < 1:
		return fmt.Errorf("%w: leverage must be >= 1", ErrInvalidConfig)
	case c.Commission < 0 || c.Commission >= 1:
		return fmt.Errorf("%w: commission must be in [0,1)", ErrInvalidConfig)
	}
	return nil
}

// Position is the zero-or-one open position of a run.
type Position struct {
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	Quantity   float64   `json:"quantity"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
}

// Trade is the immutable record of a completed round-trip. Pnl is net of
// commission.
type Trade struct {
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
	Side       Side       `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Quantity   float64    `json:"quantity"`
	Pnl        float64    `json:"pnl"`
	PnlPct     float64    `json:"pnl_pct"`
	Commission float64    `json:"commission"`
	ExitReason ExitReason `json:"exit_reason"`
}

// EquityPoint is one mark-to-market sample, appended once per processed
// candle. Drawdown is distance from the running peak, never negative.
type EquityPoint struct {
	Time     time.Time `json:"time"`
	Equity   float64   `json:"equity"`
	Drawdown float64   `json:"drawdown"`
}

// Metrics is computed once per run from the closed-trade ledger and equity
// curve. TotalPnl is gross; NetPnl subtracts commission exactly once (trade
// pnl is already net, so NetPnl == sum of trade pnl).
type Metrics struct {
	TotalTrades         int     `json:"total_trades"`
	WinningTrades       int     `json:"winning_trades"`
	LosingTrades        int     `json:"losing_trades"`
	WinRate             float64 `json:"win_rate"`
	TotalPnl            float64 `json:"total_pnl"`
	TotalCommission     float64 `json:"total_commission"`
	NetPnl              float64 `json:"net_pnl"`
	TotalPnlPct         float64 `json:"total_pnl_pct"`
	AvgWin              float64 `json:"avg_win"`
	AvgLoss             float64 `json:"avg_loss"`
	LargestWin          float64 `json:"largest_win"`
	LargestLoss         float64 `json:"largest_loss"`
	ProfitFactor        float64 `json:"profit_factor"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	AvgTradeDurationMin float64 `json:"avg_trade_duration_min"`
	FinalCapital        float64 `json:"final_capital"`
}

// MarshalJSON renders non-finite ratios as null. ProfitFactor is +Inf for an
// all-winning ledger and encoding/json refuses non-finite floats.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	out := struct {
		alias
		ProfitFactor *float64 `json:"profit_factor"`
		SharpeRatio  *float64 `json:"sharpe_ratio"`
	}{alias: alias(m)}
	if !math.IsInf(m.ProfitFactor, 0) && !math.IsNaN(m.ProfitFactor) {
		out.ProfitFactor = &m.ProfitFactor
	}
	if !math.IsInf(m.SharpeRatio, 0) && !math.IsNaN(m.SharpeRatio) {
		out.SharpeRatio = &m.SharpeRatio
	}
	return json.Marshal(out)
}

// BacktestResult is the complete output of one run.
type BacktestResult struct {
	ID              uuid.UUID      `json:"id"`
	Config          BacktestConfig `json:"config"`
	Trades          []Trade        `json:"trades"`
	Metrics         Metrics        `json:"metrics"`
	EquityCurve     []EquityPoint  `json:"equity_curve"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	CreatedAt       time.Time      `json:"created_at,omitempty"`
}
