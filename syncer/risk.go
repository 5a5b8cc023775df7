package syncer

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"polymarket-copybot/models"
)

type riskPosition struct {
	size  float64 // signed shares
	entry float64 // average entry price
}

// RiskGuard tracks realized losses of accepted copies per UTC day and blocks
// new evaluations once the loss reaches the limit. A zero limit disables it.
type RiskGuard struct {
	mu        sync.Mutex
	limit     float64
	loss      float64 // <= 0
	day       string
	positions map[string]riskPosition
	log       *logrus.Entry
}

// NewRiskGuard creates a guard with maxDailyLoss in USD.
func NewRiskGuard(maxDailyLoss float64, log *logrus.Entry) *RiskGuard {
	if log == nil {
		log = logrus.WithField("component", "risk")
	}
	return &RiskGuard{
		limit:     maxDailyLoss,
		positions: make(map[string]riskPosition),
		log:       log,
	}
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// resetIfNewDay must be called with mu held.
func (g *RiskGuard) resetIfNewDay(now time.Time) {
	day := utcDay(now)
	if g.day == day {
		return
	}
	if g.day != "" && g.loss != 0 {
		g.log.WithFields(logrus.Fields{"day": g.day, "loss": g.loss}).Info("Daily loss reset")
	}
	g.day = day
	g.loss = 0
}

// Allow reports whether trading may continue at now.
func (g *RiskGuard) Allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay(now)
	if g.limit <= 0 {
		return true
	}
	return g.loss > -g.limit
}

// DailyLoss returns today's realized loss as a non-positive number.
func (g *RiskGuard) DailyLoss(now time.Time) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay(now)
	return g.loss
}

// Record applies an accepted decision. Trades against the open position
// realize PnL on the closed part at the copy price; only losses accumulate.
func (g *RiskGuard) Record(d models.CopyDecision, now time.Time) {
	if !d.Accept || d.Size <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay(now)

	delta := d.Delta()
	price := d.AdjustedPrice
	pos := g.positions[d.MarketID]

	if pos.size == 0 || math.Signbit(pos.size) == math.Signbit(delta) {
		newSize := pos.size + delta
		pos.entry = (pos.entry*math.Abs(pos.size) + price*math.Abs(delta)) / math.Abs(newSize)
		pos.size = newSize
		g.positions[d.MarketID] = pos
		return
	}

	closed := math.Min(math.Abs(delta), math.Abs(pos.size))
	pnl := (price - pos.entry) * closed
	if pos.size < 0 {
		pnl = -pnl
	}
	if pnl < 0 {
		g.loss += pnl
		g.log.WithFields(logrus.Fields{
			"market":     d.MarketID,
			"pnl":        pnl,
			"daily_loss": g.loss,
		}).Warn("Realized loss")
	}

	remaining := pos.size + delta
	switch {
	case math.Abs(remaining) < 1e-9:
		delete(g.positions, d.MarketID)
	case math.Signbit(remaining) != math.Signbit(pos.size):
		g.positions[d.MarketID] = riskPosition{size: remaining, entry: price}
	default:
		pos.size = remaining
		g.positions[d.MarketID] = pos
	}
}
