package engine

import "quantlab/internal/model"

// GrossPnl is the pre-commission profit of a round trip.
func GrossPnl(side model.Side, entryPrice, exitPrice, quantity float64) float64 {
	if side == model.SideShort {
		return (entryPrice - exitPrice) * quantity
	}
	return (exitPrice - entryPrice) * quantity
}

// RoundTripCommission charges the commission rate on both legs' notional.
func RoundTripCommission(entryPrice, exitPrice, quantity, rate float64) float64 {
	return entryPrice*quantity*rate + exitPrice*quantity*rate
}

// UnrealizedPnl marks an open position to the given price.
func UnrealizedPnl(pos *model.Position, price float64) float64 {
	if pos == nil {
		return 0
	}
	return GrossPnl(pos.Side, pos.EntryPrice, price, pos.Quantity)
}

func pnlPct(netPnl, entryPrice, quantity float64) float64 {
	notional := entryPrice * quantity
	if notional == 0 {
		return 0
	}
	return netPnl / notional * 100
}
