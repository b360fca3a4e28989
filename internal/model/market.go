package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// KLine is one OHLCV bar as it travels through the ingest pipeline and the
// database. Prices stay decimal end to end; the engine converts at its edge.
type KLine struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Exchange  string          `json:"exchange" db:"exchange"`
	Period    string          `json:"period" db:"period"`
	Open      decimal.Decimal `json:"o" db:"open"`
	High      decimal.Decimal `json:"h" db:"high"`
	Low       decimal.Decimal `json:"l" db:"low"`
	Close     decimal.Decimal `json:"c" db:"close"`
	Volume    decimal.Decimal `json:"v" db:"volume"`
	Timestamp time.Time       `json:"t" db:"time"`
}

// Candle is the engine-side view of a bar. Simulation math (Sharpe, stddev,
// drawdown ratios) is float-native, so the engine works on float64 throughout.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Candle converts a stored kline into the engine representation.
func (k KLine) Candle() Candle {
	return Candle{
		Time:   k.Timestamp,
		Open:   k.Open.InexactFloat64(),
		High:   k.High.InexactFloat64(),
		Low:    k.Low.InexactFloat64(),
		Close:  k.Close.InexactFloat64(),
		Volume: k.Volume.InexactFloat64(),
	}
}

// Resolution is a fixed candle bar size.
type Resolution string

const (
	Resolution1m  Resolution = "1m"
	Resolution5m  Resolution = "5m"
	Resolution15m Resolution = "15m"
	Resolution30m Resolution = "30m"
	Resolution1h  Resolution = "1h"
	Resolution4h  Resolution = "4h"
	Resolution1d  Resolution = "1d"
)

var resolutionDurations = map[Resolution]time.Duration{
	Resolution1m:  time.Minute,
	Resolution5m:  5 * time.Minute,
	Resolution15m: 15 * time.Minute,
	Resolution30m: 30 * time.Minute,
	Resolution1h:  time.Hour,
	Resolution4h:  4 * time.Hour,
	Resolution1d:  24 * time.Hour,
}

func (r Resolution) Valid() bool {
	_, ok := resolutionDurations[r]
	return ok
}

func (r Resolution) Duration() (time.Duration, error) {
	d, ok := resolutionDurations[r]
	if !ok {
		return 0, fmt.Errorf("unknown resolution: %s", r)
	}
	return d, nil
}
