package engine

import (
	"math"

	"quantlab/internal/model"
)

// annualizationDays is the conventional trading-day count used to annualize
// the per-trade Sharpe ratio. It is deliberately not adjusted for the candle
// resolution; changing it would break comparability with historical runs.
const annualizationDays = 252

// ComputeMetrics derives the aggregate statistics of a finished run from the
// closed-trade ledger and the equity curve. Called exactly once per run,
// after any open position has been force-closed.
func ComputeMetrics(trades []model.Trade, curve []model.EquityPoint, initialCapital, finalCapital float64) model.Metrics {
	m := model.Metrics{
		TotalTrades:  len(trades),
		FinalCapital: finalCapital,
	}
	if initialCapital > 0 {
		m.TotalPnlPct = (finalCapital - initialCapital) / initialCapital * 100
	}
	m.MaxDrawdown, m.MaxDrawdownPct = maxDrawdown(curve)

	if len(trades) == 0 {
		return m
	}

	var (
		totalWins, totalLosses float64
		largestWin             float64
		largestLoss            float64
		durationSum            float64
	)
	for _, t := range trades {
		m.TotalPnl += t.Pnl + t.Commission
		m.TotalCommission += t.Commission
		durationSum += t.ExitTime.Sub(t.EntryTime).Minutes()

		switch {
		case t.Pnl > 0:
			m.WinningTrades++
			totalWins += t.Pnl
			if t.Pnl > largestWin {
				largestWin = t.Pnl
			}
		case t.Pnl < 0:
			m.LosingTrades++
			totalLosses += -t.Pnl
			if -t.Pnl > largestLoss {
				largestLoss = -t.Pnl
			}
		}
	}

	m.NetPnl = m.TotalPnl - m.TotalCommission
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	m.LargestWin = largestWin
	m.LargestLoss = largestLoss
	m.AvgTradeDurationMin = durationSum / float64(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AvgWin = totalWins / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = totalLosses / float64(m.LosingTrades)
	}

	switch {
	case totalLosses > 0:
		m.ProfitFactor = totalWins / totalLosses
	case totalWins > 0:
		m.ProfitFactor = math.Inf(1)
	}

	m.SharpeRatio = sharpeRatio(trades)
	return m
}

// sharpeRatio works over per-trade returns (pnlPct/100) with population
// standard deviation and a fixed sqrt(252) annualization.
func sharpeRatio(trades []model.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	var sum float64
	for _, t := range trades {
		sum += t.PnlPct / 100
	}
	mean := sum / float64(len(trades))

	var sumSq float64
	for _, t := range trades {
		d := t.PnlPct/100 - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(len(trades)))
	if stddev == 0 {
		return 0
	}
	return mean / stddev * math.Sqrt(annualizationDays)
}

// maxDrawdown returns the deepest equity decline in absolute terms and as a
// percentage of the running peak at that point. The peak is recoverable from
// each sample since drawdown == peak - equity.
func maxDrawdown(curve []model.EquityPoint) (abs, pct float64) {
	for _, p := range curve {
		if p.Drawdown > abs {
			abs = p.Drawdown
			if peak := p.Equity + p.Drawdown; peak > 0 {
				pct = p.Drawdown / peak * 100
			}
		}
	}
	return abs, pct
}
