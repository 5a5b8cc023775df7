package engine

// Ledger tracks the signed net position per market built up by accepted copies.
// Positive values are net long. Not safe for concurrent use; Engine guards it.
type Ledger struct {
	positions map[string]float64
}

func NewLedger() *Ledger {
	return &Ledger{positions: make(map[string]float64)}
}

// Get returns the position for market, zero if none.
func (l *Ledger) Get(market string) float64 {
	return l.positions[market]
}

// Set overwrites the position for market.
func (l *Ledger) Set(market string, v float64) {
	if v == 0 {
		delete(l.positions, market)
		return
	}
	l.positions[market] = v
}

// Add applies delta to market and returns the new position.
func (l *Ledger) Add(market string, delta float64) float64 {
	v := l.positions[market] + delta
	l.Set(market, v)
	return v
}

// Snapshot returns a copy of all non-zero positions.
func (l *Ledger) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(l.positions))
	for k, v := range l.positions {
		out[k] = v
	}
	return out
}

// Len returns the number of markets with an open position.
func (l *Ledger) Len() int {
	return len(l.positions)
}
