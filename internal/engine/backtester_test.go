package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quantlab/internal/model"
)

var seriesStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// flatCandles builds n one-minute candles pinned at price.
func flatCandles(n int, price float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{
			Time:   seriesStart.Add(time.Duration(i) * time.Minute),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: 1,
		}
	}
	return out
}

type stubCandles struct {
	candles []model.Candle
	err     error
}

func (s stubCandles) LoadCandles(context.Context, string, model.Resolution, time.Time, time.Time) ([]model.Candle, error) {
	return s.candles, s.err
}

// scriptedOracle answers by the decision candle's index in the series and
// holds otherwise.
type scriptedOracle struct {
	signals map[int]model.Signal
}

func (o scriptedOracle) Evaluate(_ context.Context, _ string, window []model.Candle, _ string, _ model.Resolution) (model.Signal, error) {
	last := window[len(window)-1]
	idx := int(last.Time.Sub(seriesStart) / time.Minute)
	if sig, ok := o.signals[idx]; ok {
		return sig, nil
	}
	return model.Signal{Signal: model.SignalHold}, nil
}

type failingOracle struct{}

func (failingOracle) Evaluate(context.Context, string, []model.Candle, string, model.Resolution) (model.Signal, error) {
	return model.Signal{}, errors.New("interpreter crashed")
}

type stubStrategies struct {
	err error
}

func (s stubStrategies) Get(_ context.Context, id int64) (*model.Strategy, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.Strategy{ID: id, Name: "test", Code: "def evaluate(candles, ctx): return None"}, nil
}

type captureStore struct {
	saved []*model.BacktestResult
	err   error
}

func (s *captureStore) Save(_ context.Context, _ int64, result *model.BacktestResult) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, result)
	return nil
}

func testCfg() model.BacktestConfig {
	return model.BacktestConfig{
		StrategyID:     1,
		Symbol:         "BTCUSDT",
		Resolution:     model.Resolution1m,
		StartDate:      seriesStart,
		EndDate:        seriesStart.Add(24 * time.Hour),
		InitialCapital: 10000,
		RiskPerTrade:   0.02,
		Leverage:       1,
		Commission:     0,
	}
}

func newTestBacktester(candles []model.Candle, oracle SignalOracle, store ResultStore) *Backtester {
	return NewBacktester(stubCandles{candles: candles}, oracle, store, stubStrategies{}, DefaultLookback, zap.NewNop())
}

func TestRunSingleRoundTrip(t *testing.T) {
	// A LONG at 100 immediately closed by an opposing SHORT at 110.
	candles := flatCandles(55, 100)
	candles[52].High = 110
	candles[52].Close = 110

	oracle := scriptedOracle{signals: map[int]model.Signal{
		51: {Signal: model.SignalLong, Price: 100},
		52: {Signal: model.SignalShort, Price: 110},
	}}
	store := &captureStore{}

	result, err := newTestBacktester(candles, oracle, store).Run(context.Background(), testCfg())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, model.SideLong, trade.Side)
	assert.Equal(t, 100.0, trade.EntryPrice)
	assert.Equal(t, 110.0, trade.ExitPrice)
	assert.Equal(t, model.ExitSignal, trade.ExitReason)
	assert.InDelta(t, 2.0, trade.Quantity, 1e-9)
	assert.InDelta(t, 20.0, trade.Pnl, 1e-9)

	assert.Equal(t, 1, result.Metrics.WinningTrades)
	assert.InDelta(t, 100.0, result.Metrics.WinRate, 1e-9)
	assert.InDelta(t, 10020.0, result.Metrics.FinalCapital, 1e-9)

	// One equity point per processed candle, no forced exit.
	assert.Len(t, result.EquityCurve, 5)
	require.Len(t, store.saved, 1)
	assert.Equal(t, result.ID, store.saved[0].ID)
}

func TestRunStopLossIntrabar(t *testing.T) {
	candles := flatCandles(56, 100)
	candles[53].Low = 85
	candles[53].Close = 88

	oracle := scriptedOracle{signals: map[int]model.Signal{
		51: {Signal: model.SignalLong, Price: 100, StopLoss: 90},
	}}

	result, err := newTestBacktester(candles, oracle, &captureStore{}).Run(context.Background(), testCfg())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, model.ExitStopLoss, trade.ExitReason)
	// The stop price, not the candle close.
	assert.Equal(t, 90.0, trade.ExitPrice)
	assert.InDelta(t, 20.0, trade.Quantity, 1e-9) // 200 risk over 10 distance
	assert.InDelta(t, -200.0, trade.Pnl, 1e-9)
}

func TestRunSeriesShorterThanWarmup(t *testing.T) {
	result, err := newTestBacktester(flatCandles(30, 100), scriptedOracle{}, &captureStore{}).
		Run(context.Background(), testCfg())
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.Empty(t, result.EquityCurve)
	assert.Zero(t, result.Metrics.WinRate)
	assert.Zero(t, result.Metrics.ProfitFactor)
	assert.Zero(t, result.Metrics.SharpeRatio)
	assert.Zero(t, result.Metrics.MaxDrawdown)
}

func TestRunEmptySeries(t *testing.T) {
	result, err := newTestBacktester(nil, scriptedOracle{}, &captureStore{}).
		Run(context.Background(), testCfg())
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Empty(t, result.EquityCurve)
}

func TestRunMissingStrategyFailsRun(t *testing.T) {
	b := NewBacktester(stubCandles{candles: flatCandles(60, 100)}, scriptedOracle{}, &captureStore{},
		stubStrategies{err: errors.New("strategy not found")}, DefaultLookback, zap.NewNop())

	_, err := b.Run(context.Background(), testCfg())
	assert.Error(t, err)
}

func TestRunInvalidConfigFailsBeforeStart(t *testing.T) {
	cfg := testCfg()
	cfg.EndDate = cfg.StartDate

	_, err := newTestBacktester(flatCandles(60, 100), scriptedOracle{}, &captureStore{}).
		Run(context.Background(), cfg)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestRunOracleFailureDegradesToHold(t *testing.T) {
	result, err := newTestBacktester(flatCandles(60, 100), failingOracle{}, &captureStore{}).
		Run(context.Background(), testCfg())
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Len(t, result.EquityCurve, 10)
}

func TestRunPersistenceFailureStillReturnsResult(t *testing.T) {
	candles := flatCandles(55, 100)
	oracle := scriptedOracle{signals: map[int]model.Signal{51: {Signal: model.SignalLong}}}
	store := &captureStore{err: errors.New("db down")}

	result, err := newTestBacktester(candles, oracle, store).Run(context.Background(), testCfg())
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Len(t, result.Trades, 1) // force-closed at data end
}

func TestRunForceClosesAtDataEnd(t *testing.T) {
	candles := flatCandles(55, 100)
	candles[54].Close = 104
	candles[54].High = 104

	oracle := scriptedOracle{signals: map[int]model.Signal{51: {Signal: model.SignalLong}}}

	result, err := newTestBacktester(candles, oracle, &captureStore{}).Run(context.Background(), testCfg())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, model.ExitSignal, trade.ExitReason)
	assert.Equal(t, 104.0, trade.ExitPrice)
	assert.Equal(t, candles[54].Time, trade.ExitTime)
	// 5 processed candles plus the post-force-close point.
	assert.Len(t, result.EquityCurve, 6)
}

func TestRunDeterminism(t *testing.T) {
	candles := flatCandles(70, 100)
	for i := 52; i < 70; i += 3 {
		candles[i].Close = 100 + float64(i%7)
		candles[i].High = candles[i].Close + 1
	}
	oracle := scriptedOracle{signals: map[int]model.Signal{
		51: {Signal: model.SignalLong},
		55: {Signal: model.SignalExitLong},
		58: {Signal: model.SignalShort},
		63: {Signal: model.SignalExitShort},
	}}

	run := func() []byte {
		result, err := newTestBacktester(candles, oracle, &captureStore{}).Run(context.Background(), testCfg())
		require.NoError(t, err)
		payload, err := json.Marshal(struct {
			Trades  []model.Trade       `json:"trades"`
			Metrics model.Metrics       `json:"metrics"`
			Curve   []model.EquityPoint `json:"curve"`
		}{result.Trades, result.Metrics, result.EquityCurve})
		require.NoError(t, err)
		return payload
	}

	assert.Equal(t, run(), run())
}

func TestRunInvariants(t *testing.T) {
	// A jagged walk with an always-eager oracle; checks the structural
	// invariants rather than exact numbers.
	candles := flatCandles(200, 100)
	for i := range candles {
		p := 100 + 10*float64(i%13)/13 - 5*float64(i%7)/7
		candles[i].Open = p
		candles[i].Close = p
		candles[i].High = p + 2
		candles[i].Low = p - 2
	}
	signals := map[int]model.Signal{}
	for i := 50; i < 200; i++ {
		switch i % 10 {
		case 0:
			signals[i] = model.Signal{Signal: model.SignalLong, StopLoss: candles[i].Close - 8, TakeProfit: candles[i].Close + 8}
		case 5:
			signals[i] = model.Signal{Signal: model.SignalShort, StopLoss: candles[i].Close + 8}
		}
	}

	cfg := testCfg()
	cfg.Commission = 0.001
	result, err := newTestBacktester(candles, scriptedOracle{signals: signals}, &captureStore{}).
		Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NotEmpty(t, result.Trades)

	// At most one position: round trips never overlap.
	for i := 1; i < len(result.Trades); i++ {
		assert.False(t, result.Trades[i].EntryTime.Before(result.Trades[i-1].ExitTime),
			"trade %d entered before trade %d exited", i, i-1)
	}
	for i, trade := range result.Trades {
		assert.False(t, trade.ExitTime.Before(trade.EntryTime), "trade %d exits before entry", i)
		assert.Greater(t, trade.Quantity, 0.0, "trade %d quantity", i)
	}

	// Ledger consistency: final capital is the initial plus net trade pnl.
	var pnlSum float64
	for _, trade := range result.Trades {
		pnlSum += trade.Pnl
	}
	assert.InDelta(t, cfg.InitialCapital+pnlSum, result.Metrics.FinalCapital, 1e-6)

	// Drawdown non-negativity and monotone peak.
	peak := cfg.InitialCapital
	for i, p := range result.EquityCurve {
		assert.GreaterOrEqual(t, p.Drawdown, 0.0, "point %d", i)
		pointPeak := p.Equity + p.Drawdown
		assert.GreaterOrEqual(t, pointPeak+1e-9, peak, "peak shrank at point %d", i)
		peak = pointPeak
		if i > 0 {
			assert.False(t, p.Time.Before(result.EquityCurve[i-1].Time), "curve time regressed at %d", i)
		}
	}
}

func TestRunAbortsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestBacktester(flatCandles(60, 100), scriptedOracle{}, &captureStore{}).
		Run(ctx, testCfg())
	require.Error(t, err)
	assert.Contains(t, fmt.Sprintf("%v", err), "candle")
}
