package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BacktestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_runs_total",
		Help: "Completed backtest runs by outcome",
	}, []string{"status"})

	BacktestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backtest_duration_seconds",
		Help:    "Wall-clock duration of backtest runs",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	OracleTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_timeouts_total",
		Help: "Oracle evaluations killed by the per-candle timeout",
	})

	OracleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_errors_total",
		Help: "Oracle evaluations degraded to HOLD (crash, bad output, timeout)",
	})

	ResultsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_results_persisted_total",
		Help: "Backtest results written to the store by outcome",
	}, []string{"status"})

	KlinesSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klines_saved_total",
		Help: "Klines written to the database by the ingest path",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_total",
		Help: "Active WebSocket push connections",
	})
)
