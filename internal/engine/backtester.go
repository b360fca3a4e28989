package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quantlab/internal/infrastructure"
	"quantlab/internal/model"
)

const (
	// warmupCandles leads every series and is reserved for indicator
	// stabilization: no trades, no equity points. Fixed policy.
	warmupCandles = 50

	// DefaultLookback bounds the window handed to the oracle: that many
	// candles before the decision candle, plus the candle itself.
	DefaultLookback = 200
)

// CandleProvider supplies time-ordered candles for a symbol and range,
// filtered to [start, end] inclusive, ascending. Gaps are passed through
// as-is.
type CandleProvider interface {
	LoadCandles(ctx context.Context, symbol string, resolution model.Resolution, start, end time.Time) ([]model.Candle, error)
}

// SignalOracle evaluates untrusted strategy code against a candle window.
// Any failure is recovered by the caller as HOLD for that candle.
type SignalOracle interface {
	Evaluate(ctx context.Context, code string, window []model.Candle, symbol string, resolution model.Resolution) (model.Signal, error)
}

// ResultStore persists completed runs. Persistence is best-effort: a failure
// is logged and never invalidates the in-memory result.
type ResultStore interface {
	Save(ctx context.Context, strategyID int64, result *model.BacktestResult) error
}

// StrategyProvider resolves the strategy under test. A missing strategy
// fails the whole run before it starts.
type StrategyProvider interface {
	Get(ctx context.Context, id int64) (*model.Strategy, error)
}

// Backtester drives the candle-by-candle simulation. One Run invocation owns
// all of its state; distinct runs share nothing and may execute in parallel.
type Backtester struct {
	candles    CandleProvider
	oracle     SignalOracle
	results    ResultStore
	strategies StrategyProvider
	lookback   int
	logger     *zap.Logger
}

func NewBacktester(candles CandleProvider, oracle SignalOracle, results ResultStore, strategies StrategyProvider, lookback int, logger *zap.Logger) *Backtester {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Backtester{
		candles:    candles,
		oracle:     oracle,
		results:    results,
		strategies: strategies,
		lookback:   lookback,
		logger:     logger,
	}
}

// Run executes one backtest. An empty or warm-up-short candle series yields
// a zero-trade result, not an error.
func (b *Backtester) Run(ctx context.Context, cfg model.BacktestConfig) (*model.BacktestResult, error) {
	if err := cfg.Validate(); err != nil {
		infrastructure.BacktestRuns.WithLabelValues("invalid").Inc()
		return nil, err
	}
	strat, err := b.strategies.Get(ctx, cfg.StrategyID)
	if err != nil {
		infrastructure.BacktestRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("resolving strategy %d: %w", cfg.StrategyID, err)
	}

	candles, err := b.candles.LoadCandles(ctx, cfg.Symbol, cfg.Resolution, cfg.StartDate, cfg.EndDate)
	if err != nil {
		infrastructure.BacktestRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("loading candles for %s/%s: %w", cfg.Symbol, cfg.Resolution, err)
	}

	started := time.Now()
	state := NewSimulationState(cfg.InitialCapital)

	for i := warmupCandles; i < len(candles); i++ {
		if err := ctx.Err(); err != nil {
			infrastructure.BacktestRuns.WithLabelValues("aborted").Inc()
			return nil, fmt.Errorf("backtest aborted at candle %d (%s): %w",
				i, candles[i].Time.Format(time.RFC3339), err)
		}
		sig := b.evaluate(ctx, strat.Code, candles, i, cfg)
		state.Step(candles[i], sig, cfg)
	}
	if len(candles) > warmupCandles {
		state.ForceClose(candles[len(candles)-1], cfg)
	}

	result := &model.BacktestResult{
		ID:              uuid.New(),
		Config:          cfg,
		Trades:          state.Trades,
		Metrics:         ComputeMetrics(state.Trades, state.Curve, cfg.InitialCapital, state.Cash),
		EquityCurve:     state.Curve,
		ExecutionTimeMs: time.Since(started).Milliseconds(),
		CreatedAt:       time.Now().UTC(),
	}

	infrastructure.BacktestRuns.WithLabelValues("ok").Inc()
	infrastructure.BacktestDuration.Observe(time.Since(started).Seconds())
	b.logger.Info("backtest completed",
		zap.Int64("strategy_id", cfg.StrategyID),
		zap.String("symbol", cfg.Symbol),
		zap.Int("candles", len(candles)),
		zap.Int("trades", result.Metrics.TotalTrades),
		zap.Float64("final_capital", result.Metrics.FinalCapital),
		zap.Int64("execution_ms", result.ExecutionTimeMs),
	)

	if b.results != nil {
		if err := b.results.Save(ctx, cfg.StrategyID, result); err != nil {
			infrastructure.ResultsPersisted.WithLabelValues("error").Inc()
			b.logger.Error("failed to persist backtest result",
				zap.Int64("strategy_id", cfg.StrategyID),
				zap.String("result_id", result.ID.String()),
				zap.Error(err))
		} else {
			infrastructure.ResultsPersisted.WithLabelValues("ok").Inc()
		}
	}

	return result, nil
}

// evaluate asks the oracle for the decision candle at index i. Oracle
// failures and malformed answers degrade to HOLD; they never abort the run.
func (b *Backtester) evaluate(ctx context.Context, code string, candles []model.Candle, i int, cfg model.BacktestConfig) model.Signal {
	from := i - b.lookback
	if from < 0 {
		from = 0
	}
	sig, err := b.oracle.Evaluate(ctx, code, candles[from:i+1], cfg.Symbol, cfg.Resolution)
	if err != nil {
		infrastructure.OracleErrors.Inc()
		b.logger.Debug("oracle evaluation failed, holding",
			zap.Int("candle", i), zap.Error(err))
		return model.Signal{Signal: model.SignalHold}
	}
	if !sig.Signal.Valid() {
		infrastructure.OracleErrors.Inc()
		b.logger.Debug("oracle returned unknown signal, holding",
			zap.Int("candle", i), zap.String("signal", string(sig.Signal)))
		return model.Signal{Signal: model.SignalHold}
	}
	return sig
}
