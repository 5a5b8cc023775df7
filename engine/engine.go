package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"polymarket-copybot/models"
)

// ErrInvalidConfig is returned by New and Config.Validate for out-of-range settings.
var ErrInvalidConfig = errors.New("invalid engine config")

const (
	DefaultDedupCapacity = 100000
	DefaultDedupTTL      = 24 * time.Hour
)

// Config holds the sizing and risk parameters of the copy engine.
type Config struct {
	Multiplier  float64 `json:"multiplier"`   // fraction of the target's notional to copy, (0,1]
	MinUSD      float64 `json:"min_usd"`      // smallest copy notional worth placing
	MaxUSD      float64 `json:"max_usd"`      // largest copy notional allowed
	Slippage    float64 `json:"slippage"`     // price adjustment fraction, [0,1)
	MaxPosition float64 `json:"max_position"` // absolute cap on net shares per market
	PaperMode   bool    `json:"paper_mode"`

	DedupCapacity int           `json:"dedup_capacity"`
	DedupTTL      time.Duration `json:"dedup_ttl"`
}

// DefaultConfig returns the settings the bot ships with.
func DefaultConfig() Config {
	return Config{
		Multiplier:    0.5,
		MinUSD:        5.0,
		MaxUSD:        50.0,
		Slippage:      0.01,
		MaxPosition:   10.0,
		PaperMode:     true,
		DedupCapacity: DefaultDedupCapacity,
		DedupTTL:      DefaultDedupTTL,
	}
}

// Validate checks every bound and reports the first violation.
func (c Config) Validate() error {
	switch {
	case !(c.Multiplier > 0 && c.Multiplier <= 1):
		return fmt.Errorf("%w: multiplier %v not in (0,1]", ErrInvalidConfig, c.Multiplier)
	case !(c.MinUSD >= 0):
		return fmt.Errorf("%w: min_usd %v must be >= 0", ErrInvalidConfig, c.MinUSD)
	case !(c.MaxUSD > c.MinUSD):
		return fmt.Errorf("%w: max_usd %v must exceed min_usd %v", ErrInvalidConfig, c.MaxUSD, c.MinUSD)
	case !(c.Slippage >= 0 && c.Slippage < 1):
		return fmt.Errorf("%w: slippage %v not in [0,1)", ErrInvalidConfig, c.Slippage)
	case !(c.MaxPosition > 0):
		return fmt.Errorf("%w: max_position %v must be > 0", ErrInvalidConfig, c.MaxPosition)
	case c.DedupCapacity < 0:
		return fmt.Errorf("%w: dedup capacity %d must be >= 0", ErrInvalidConfig, c.DedupCapacity)
	case c.DedupTTL < 0:
		return fmt.Errorf("%w: dedup ttl %s must be >= 0", ErrInvalidConfig, c.DedupTTL)
	}
	return nil
}

// Engine decides whether and how to mirror each observed trade.
// It performs no I/O; all state lives in memory and is guarded by mu, so
// concurrent callers are applied one at a time in arrival order.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	seen   *DedupSet
	ledger *Ledger
	now    func() time.Time
	log    *logrus.Entry
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for dedup expiry and decision timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger used for state corrections.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) { e.log = log }
}

// New creates an engine with empty dedup set and ledger.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		ledger: NewLedger(),
		now:    time.Now,
		log:    logrus.WithField("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.seen = NewDedupSet(cfg.DedupCapacity, cfg.DedupTTL)
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate runs one event through dedup, sizing, thresholds and the position limit.
// Rejections are returned as decisions, never errors. The event must already satisfy
// TradeEvent.Validate; feed normalization guarantees that.
func (e *Engine) Evaluate(ev models.TradeEvent) models.CopyDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	d := models.CopyDecision{
		EventID:       ev.EventID,
		MarketID:      ev.MarketID,
		Actor:         ev.ActorAddress,
		Side:          ev.Side,
		OriginalPrice: ev.Price,
		OriginalSize:  ev.Size,
		DecidedAt:     now,
	}

	if !e.seen.Add(ev.EventID, now) {
		d.Reason = models.ReasonDuplicate
		return d
	}

	copyUSD := ev.Notional() * e.cfg.Multiplier
	d.CopyUSD = copyUSD

	if copyUSD < e.cfg.MinUSD {
		d.Reason = models.ReasonBelowMin
		return d
	}
	if copyUSD > e.cfg.MaxUSD {
		d.Reason = models.ReasonAboveMax
		return d
	}

	copySize := copyUSD / ev.Price
	delta := copySize
	if ev.Side == models.SideSell {
		delta = -copySize
	}
	projected := e.ledger.Get(ev.MarketID) + delta
	if math.Abs(projected) > e.cfg.MaxPosition {
		d.Reason = models.ReasonPositionLimit
		return d
	}

	e.ledger.Set(ev.MarketID, projected)

	d.Accept = true
	d.Size = copySize
	d.AdjustedPrice = AdjustPrice(ev.Side, ev.Price, e.cfg.Slippage)
	return d
}

// AdjustPrice moves price against us by slippage: up for buys, down for sells.
func AdjustPrice(side models.Side, price, slippage float64) float64 {
	if side == models.SideSell {
		return price * (1 - slippage)
	}
	return price * (1 + slippage)
}

// Revert undoes the ledger commit of an accepted decision whose order never reached
// the book. The event stays in the dedup set.
func (e *Engine) Revert(d models.CopyDecision) {
	if !d.Accept {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.ledger.Add(d.MarketID, -d.Delta())
	e.log.WithFields(logrus.Fields{
		"event_id":  d.EventID,
		"market_id": d.MarketID,
		"position":  pos,
	}).Warn("Reverted ledger commit after failed submission")
}

// Restore seeds state from persistence. Existing entries are kept; positions for
// markets present in ledger are overwritten.
func (e *Engine) Restore(ledger map[string]float64, processed []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for m, v := range ledger {
		e.ledger.Set(m, v)
	}
	for _, id := range processed {
		e.seen.Add(id, now)
	}
	e.log.WithFields(logrus.Fields{
		"markets":   len(ledger),
		"processed": len(processed),
	}).Info("Restored engine state")
}

// Position returns the current net position for market.
func (e *Engine) Position(market string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Get(market)
}

// Positions returns a snapshot of the ledger.
func (e *Engine) Positions() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Snapshot()
}

// Seen reports whether the event ID has already been evaluated.
func (e *Engine) Seen(eventID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seen.Contains(eventID, e.now())
}

// Stats returns the number of tracked event IDs and open markets.
func (e *Engine) Stats() (processed, markets int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seen.Len(), e.ledger.Len()
}
