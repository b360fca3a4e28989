package engine

// PositionSize computes the quantity to open for a new position.
//
// Without a stop the full risk budget is deployed at the entry price. With a
// stop, quantity is chosen so that being stopped out loses exactly
// capital*riskPerTrade (before leverage). A zero stop distance returns 0,
// which callers treat as "do not open". Never returns an error.
func PositionSize(capital, riskPerTrade, entryPrice, stopLoss, leverage float64) float64 {
	if capital <= 0 || entryPrice <= 0 {
		return 0
	}
	if stopLoss == 0 {
		return capital * riskPerTrade * leverage / entryPrice
	}
	distance := entryPrice - stopLoss
	if distance < 0 {
		distance = -distance
	}
	if distance == 0 {
		return 0
	}
	riskAmount := capital * riskPerTrade
	return riskAmount / distance * leverage
}
