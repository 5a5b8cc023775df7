package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"polymarket-copybot/api"
	"polymarket-copybot/engine"
	"polymarket-copybot/models"
	"polymarket-copybot/utils"
)

// positionChangeThreshold ignores dust changes in position size.
const positionChangeThreshold = 0.01

// TradeSource is the subset of the data API the feeds use.
type TradeSource interface {
	GetTrades(ctx context.Context, user string, limit int) ([]api.DataTrade, error)
	GetPositions(ctx context.Context, user string) ([]api.OpenPosition, error)
}

var _ TradeSource = (*api.DataClient)(nil)

// DataAPIPollerConfig configures a DataAPIPoller.
type DataAPIPollerConfig struct {
	Targets         []string
	Interval        time.Duration
	TradeLimit      int
	DetectPositions bool
	MaxConcurrent   int
}

type positionState struct {
	size  float64
	price float64
}

// DataAPIPoller polls each target wallet's recent trades (and optionally
// positions) and emits the ones it has not seen before. The first poll of a
// wallet only records a baseline so history is never copied.
type DataAPIPoller struct {
	client TradeSource
	cfg    DataAPIPollerConfig
	log    *logrus.Entry
	stats  counters

	backoff *Backoff

	mu        sync.Mutex
	seen      *engine.DedupSet
	baselined map[string]bool
	positions map[string]map[string]positionState
}

// NewDataAPIPoller creates a poller for cfg.Targets.
func NewDataAPIPoller(client TradeSource, cfg DataAPIPollerConfig, log *logrus.Entry) *DataAPIPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.TradeLimit <= 0 {
		cfg.TradeLimit = 50
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	cfg.Targets = utils.NewAddressSet(cfg.Targets).List()
	if log == nil {
		log = logrus.WithField("component", "feed.data_api")
	}
	return &DataAPIPoller{
		client:    client,
		cfg:       cfg,
		log:       log,
		backoff:   DefaultBackoff(),
		seen:      engine.NewDedupSet(50000, 24*time.Hour),
		baselined: make(map[string]bool),
		positions: make(map[string]map[string]positionState),
	}
}

func (p *DataAPIPoller) Name() string { return SourceDataAPI }

func (p *DataAPIPoller) Stats() Stats { return p.stats.snapshot() }

// Run polls until ctx is cancelled. Failed polls back off exponentially.
func (p *DataAPIPoller) Run(ctx context.Context, out chan<- models.TradeEvent) error {
	p.log.WithFields(logrus.Fields{
		"targets":   len(p.cfg.Targets),
		"interval":  p.cfg.Interval,
		"positions": p.cfg.DetectPositions,
	}).Info("Data API poller started")

	for {
		delay := p.cfg.Interval
		if err := p.PollOnce(ctx, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.stats.errors.Add(1)
			delay = p.backoff.Next()
			p.log.WithError(err).WithField("retry_in", delay).Warn("Poll failed")
		} else {
			p.backoff.Reset()
		}

		if !sleep(ctx, delay) {
			p.log.Info("Data API poller stopped")
			return nil
		}
	}
}

// PollOnce polls every target once, at most MaxConcurrent at a time.
func (p *DataAPIPoller) PollOnce(ctx context.Context, out chan<- models.TradeEvent) error {
	semaphore := make(chan struct{}, p.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error

	for _, wallet := range p.cfg.Targets {
		wg.Add(1)
		go func(wallet string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := p.pollWallet(ctx, wallet, out); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", utils.ShortAddress(wallet), err))
				errMu.Unlock()
			}
		}(wallet)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (p *DataAPIPoller) pollWallet(ctx context.Context, wallet string, out chan<- models.TradeEvent) error {
	trades, err := p.client.GetTrades(ctx, wallet, p.cfg.TradeLimit)
	if err != nil {
		return err
	}

	var positions []api.OpenPosition
	if p.cfg.DetectPositions {
		positions, err = p.client.GetPositions(ctx, wallet)
		if err != nil {
			return err
		}
	}

	p.mu.Lock()
	first := !p.baselined[wallet]
	p.baselined[wallet] = true
	p.mu.Unlock()

	var events []models.TradeEvent
	now := time.Now()

	// Oldest first so the engine sees trades in execution order.
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if !isTrade(t) {
			continue
		}
		ev, err := Normalize(FromDataTrade(t, wallet))
		if err != nil {
			p.stats.dropped.Add(1)
			p.log.WithError(err).WithField("tx", t.TransactionHash).Debug("Dropped trade")
			continue
		}

		p.mu.Lock()
		fresh := p.seen.Add(ev.EventID, now)
		p.mu.Unlock()
		if fresh && !first {
			events = append(events, ev)
		}
	}

	if p.cfg.DetectPositions {
		events = append(events, p.diffPositions(wallet, positions, first)...)
	}

	if first {
		p.log.WithFields(logrus.Fields{
			"wallet":    utils.ShortAddress(wallet),
			"trades":    len(trades),
			"positions": len(positions),
		}).Info("Recorded baseline")
		return nil
	}

	for _, ev := range events {
		p.log.WithFields(logrus.Fields{
			"event_id": ev.EventID,
			"wallet":   utils.ShortAddress(wallet),
			"side":     ev.Side,
			"price":    ev.Price,
			"size":     ev.Size,
			"source":   ev.Source,
			"latency":  time.Since(ev.Timestamp).Round(time.Millisecond),
		}).Info("New trade detected")
		if err := p.stats.emit(ctx, out, ev); err != nil {
			return err
		}
	}
	return nil
}

// diffPositions compares current holdings with the last snapshot and turns
// size changes into synthetic trades priced at curPrice.
func (p *DataAPIPoller) diffPositions(wallet string, current []api.OpenPosition, baselineOnly bool) []models.TradeEvent {
	next := make(map[string]positionState, len(current))
	for _, pos := range current {
		if pos.Asset == "" {
			continue
		}
		next[pos.Asset] = positionState{size: pos.Size.Float64(), price: pos.CurPrice.Float64()}
	}

	p.mu.Lock()
	prev := p.positions[wallet]
	p.positions[wallet] = next
	p.mu.Unlock()

	if baselineOnly || prev == nil {
		return nil
	}

	var events []models.TradeEvent
	emit := func(asset string, delta, size, price float64) {
		side := models.SideBuy
		if delta < 0 {
			side = models.SideSell
		}
		raw := RawTrade{
			ID:     fmt.Sprintf("pos_%s_%.4f", asset, size),
			Asset:  asset,
			Side:   string(side),
			Price:  api.Numeric(price),
			Size:   api.Numeric(math.Abs(delta)),
			Actor:  wallet,
			Source: SourcePositions,
		}
		ev, err := Normalize(raw)
		if err != nil {
			p.stats.dropped.Add(1)
			p.log.WithError(err).WithField("asset", asset).Debug("Dropped position change")
			return
		}
		events = append(events, ev)
	}

	for asset, cur := range next {
		delta := cur.size - prev[asset].size
		if math.Abs(delta) > positionChangeThreshold {
			emit(asset, delta, cur.size, cur.price)
		}
	}
	for asset, old := range prev {
		if _, ok := next[asset]; !ok && old.size > positionChangeThreshold {
			emit(asset, -old.size, 0, old.price)
		}
	}
	return events
}
