package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() BacktestConfig {
	return BacktestConfig{
		StrategyID:     1,
		Symbol:         "BTCUSDT",
		Resolution:     Resolution1h,
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		InitialCapital: 10000,
		RiskPerTrade:   0.02,
		Leverage:       1,
		Commission:     0.001,
	}
}

func TestBacktestConfigValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*BacktestConfig)
	}{
		{"missing strategy", func(c *BacktestConfig) { c.StrategyID = 0 }},
		{"missing symbol", func(c *BacktestConfig) { c.Symbol = "" }},
		{"bad resolution", func(c *BacktestConfig) { c.Resolution = "7m" }},
		{"start after end", func(c *BacktestConfig) { c.StartDate = c.EndDate.Add(time.Hour) }},
		{"start equals end", func(c *BacktestConfig) { c.StartDate = c.EndDate }},
		{"zero capital", func(c *BacktestConfig) { c.InitialCapital = 0 }},
		{"risk zero", func(c *BacktestConfig) { c.RiskPerTrade = 0 }},
		{"risk above one", func(c *BacktestConfig) { c.RiskPerTrade = 1.5 }},
		{"leverage below one", func(c *BacktestConfig) { c.Leverage = 0.5 }},
		{"negative commission", func(c *BacktestConfig) { c.Commission = -0.01 }},
		{"commission of one", func(c *BacktestConfig) { c.Commission = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestSignalTypeValid(t *testing.T) {
	for _, s := range []SignalType{SignalLong, SignalShort, SignalHold, SignalExitLong, SignalExitShort} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, SignalType("BUY").Valid())
	assert.False(t, SignalType("").Valid())
}

func TestMetricsMarshalNonFinite(t *testing.T) {
	m := Metrics{TotalTrades: 1, WinningTrades: 1, ProfitFactor: math.Inf(1), SharpeRatio: 1.5}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded["profit_factor"], "Inf profit factor should serialize as null")
	assert.InDelta(t, 1.5, decoded["sharpe_ratio"].(float64), 1e-9)

	// Round-trips back without error; the null leaves the field zero.
	var back Metrics
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Zero(t, back.ProfitFactor)
	assert.InDelta(t, 1.5, back.SharpeRatio, 1e-9)
}
