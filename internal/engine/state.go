package engine

import (
	"time"

	"quantlab/internal/model"
)

// SimulationState owns every mutable piece of one run: cash, the zero-or-one
// open position, the closed-trade ledger, the equity curve and its running
// peak. It is owned by a single orchestrator invocation and never shared.
type SimulationState struct {
	Cash   float64
	Open   *model.Position
	Trades []model.Trade
	Curve  []model.EquityPoint
	Peak   float64
}

func NewSimulationState(initialCapital float64) *SimulationState {
	return &SimulationState{
		Cash:   initialCapital,
		Trades: make([]model.Trade, 0),
		Curve:  make([]model.EquityPoint, 0),
		Peak:   initialCapital,
	}
}

// Step applies one candle. Exits come first: stop-loss and take-profit are
// checked intrabar against the candle's low/high before a signal-driven exit
// is considered. An entry is only taken when the position was flat going into
// the candle, so a close and an open never happen on the same bar.
func (s *SimulationState) Step(candle model.Candle, sig model.Signal, cfg model.BacktestConfig) {
	if s.Open != nil {
		s.applyExit(candle, sig, cfg)
	} else if sig.Signal == model.SignalLong || sig.Signal == model.SignalShort {
		s.applyEntry(candle, sig, cfg)
	}
	s.markToMarket(candle.Time, candle.Close)
}

func (s *SimulationState) applyExit(candle model.Candle, sig model.Signal, cfg model.BacktestConfig) {
	pos := s.Open
	if pos.Side == model.SideLong {
		if pos.StopLoss > 0 && candle.Low <= pos.StopLoss {
			s.closePosition(pos.StopLoss, candle.Time, model.ExitStopLoss, cfg)
			return
		}
		if pos.TakeProfit > 0 && candle.High >= pos.TakeProfit {
			s.closePosition(pos.TakeProfit, candle.Time, model.ExitTakeProfit, cfg)
			return
		}
		if sig.Signal == model.SignalShort || sig.Signal == model.SignalExitLong {
			s.closePosition(candle.Close, candle.Time, model.ExitSignal, cfg)
		}
		return
	}
	if pos.StopLoss > 0 && candle.High >= pos.StopLoss {
		s.closePosition(pos.StopLoss, candle.Time, model.ExitStopLoss, cfg)
		return
	}
	if pos.TakeProfit > 0 && candle.Low <= pos.TakeProfit {
		s.closePosition(pos.TakeProfit, candle.Time, model.ExitTakeProfit, cfg)
		return
	}
	if sig.Signal == model.SignalLong || sig.Signal == model.SignalExitShort {
		s.closePosition(candle.Close, candle.Time, model.ExitSignal, cfg)
	}
}

func (s *SimulationState) applyEntry(candle model.Candle, sig model.Signal, cfg model.BacktestConfig) {
	qty := PositionSize(s.Cash, cfg.RiskPerTrade, candle.Close, sig.StopLoss, cfg.Leverage)
	if qty <= 0 {
		return
	}
	side := model.SideLong
	if sig.Signal == model.SignalShort {
		side = model.SideShort
	}
	s.Open = &model.Position{
		Side:       side,
		EntryPrice: candle.Close,
		EntryTime:  candle.Time,
		Quantity:   qty,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
	}
}

// closePosition converts the open position into a trade and settles its net
// P&L into cash. Trade pnl is net of commission, so cash never double-pays.
func (s *SimulationState) closePosition(exitPrice float64, exitTime time.Time, reason model.ExitReason, cfg model.BacktestConfig) {
	pos := s.Open
	gross := GrossPnl(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity)
	commission := RoundTripCommission(pos.EntryPrice, exitPrice, pos.Quantity, cfg.Commission)
	net := gross - commission

	s.Trades = append(s.Trades, model.Trade{
		EntryTime:  pos.EntryTime,
		ExitTime:   exitTime,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		Pnl:        net,
		PnlPct:     pnlPct(net, pos.EntryPrice, pos.Quantity),
		Commission: commission,
		ExitReason: reason,
	})
	s.Cash += net
	s.Open = nil
}

func (s *SimulationState) markToMarket(ts time.Time, price float64) {
	equity := s.Cash + UnrealizedPnl(s.Open, price)
	if equity > s.Peak {
		s.Peak = equity
	}
	s.Curve = append(s.Curve, model.EquityPoint{
		Time:     ts,
		Equity:   equity,
		Drawdown: s.Peak - equity,
	})
}

// ForceClose flattens any position still open at data end, settling it at the
// last candle's close, and appends the post-close equity point.
func (s *SimulationState) ForceClose(last model.Candle, cfg model.BacktestConfig) {
	if s.Open == nil {
		return
	}
	s.closePosition(last.Close, last.Time, model.ExitSignal, cfg)
	s.markToMarket(last.Time, last.Close)
}
