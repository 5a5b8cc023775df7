package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"polymarket-copybot/engine"
	"polymarket-copybot/feed"
	"polymarket-copybot/models"
	"polymarket-copybot/storage"
	"polymarket-copybot/utils"
)

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Targets               []string
	QueueSize             int
	RevertOnSubmitFailure bool
	MetricsFlushInterval  time.Duration
	RestoreLimit          int
}

// Pipeline feeds events from every source through the engine, one at a
// time, and submits accepted decisions.
type Pipeline struct {
	cfg       PipelineConfig
	engine    *engine.Engine
	submitter Submitter
	sources   []feed.Source
	targets   utils.AddressSet

	store        storage.DataStore
	risk         *RiskGuard
	metrics      *PipelineMetrics
	metricsStore *MetricsStore
	titles       *MarketTitles

	log *logrus.Entry
	now func() time.Time
}

// PipelineOption configures optional collaborators.
type PipelineOption func(*Pipeline)

func WithSources(sources ...feed.Source) PipelineOption {
	return func(p *Pipeline) { p.sources = append(p.sources, sources...) }
}

func WithStore(store storage.DataStore) PipelineOption {
	return func(p *Pipeline) { p.store = store }
}

func WithRiskGuard(g *RiskGuard) PipelineOption {
	return func(p *Pipeline) { p.risk = g }
}

func WithMetricsStore(m *MetricsStore) PipelineOption {
	return func(p *Pipeline) { p.metricsStore = m }
}

func WithMarketTitles(t *MarketTitles) PipelineOption {
	return func(p *Pipeline) { p.titles = t }
}

func WithPipelineLogger(log *logrus.Entry) PipelineOption {
	return func(p *Pipeline) { p.log = log }
}

func withPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline around eng and submitter.
func NewPipeline(eng *engine.Engine, submitter Submitter, cfg PipelineConfig, opts ...PipelineOption) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.MetricsFlushInterval <= 0 {
		cfg.MetricsFlushInterval = 10 * time.Second
	}
	if cfg.RestoreLimit <= 0 {
		cfg.RestoreLimit = engine.DefaultDedupCapacity
	}
	p := &Pipeline{
		cfg:       cfg,
		engine:    eng,
		submitter: submitter,
		targets:   utils.NewAddressSet(cfg.Targets),
		metrics:   NewPipelineMetrics(),
		log:       logrus.WithField("component", "pipeline"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Metrics returns the live counters.
func (p *Pipeline) Metrics() *PipelineMetrics { return p.metrics }

// Snapshot returns the counters plus per-source stats.
func (p *Pipeline) Snapshot() MetricsSnapshot {
	snap := p.metrics.Snapshot()
	if len(p.sources) > 0 {
		snap.Feeds = make(map[string]feed.Stats, len(p.sources))
		for _, s := range p.sources {
			snap.Feeds[s.Name()] = s.Stats()
		}
	}
	return snap
}

// Restore seeds the engine from the store's ledger and processed ids.
func (p *Pipeline) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	ledger, err := p.store.LoadLedger(ctx)
	if err != nil {
		return err
	}
	ids, err := p.store.RecentEventIDs(ctx, p.cfg.RestoreLimit)
	if err != nil {
		return err
	}
	p.engine.Restore(ledger, ids)
	p.log.WithFields(logrus.Fields{
		"markets":   len(ledger),
		"processed": len(ids),
	}).Info("Restored engine state")
	return nil
}

// Run starts every source and processes their events until ctx is
// cancelled. A failing source is logged and does not stop the others.
func (p *Pipeline) Run(ctx context.Context) error {
	if len(p.sources) == 0 {
		return errors.New("pipeline: no feed sources")
	}

	events := make(chan models.TradeEvent, p.cfg.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	for _, src := range p.sources {
		src := src
		g.Go(func() error {
			log := p.log.WithField("source", src.Name())
			log.Info("Feed starting")
			if err := src.Run(gctx, events); err != nil && gctx.Err() == nil {
				log.WithError(err).Error("Feed stopped with error")
			}
			return nil
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-events:
				p.Process(gctx, ev)
			}
		}
	})

	if p.metricsStore != nil {
		g.Go(func() error {
			ticker := time.NewTicker(p.cfg.MetricsFlushInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					p.flushMetrics(context.Background())
					return nil
				case <-ticker.C:
					p.flushMetrics(gctx)
				}
			}
		})
	}

	p.log.WithFields(logrus.Fields{
		"sources": len(p.sources),
		"targets": len(p.targets),
		"paper":   p.submitter.Paper(),
	}).Info("Pipeline running")

	err := g.Wait()
	p.log.Info("Pipeline stopped")
	return err
}

func (p *Pipeline) flushMetrics(ctx context.Context) {
	if err := p.metricsStore.Save(ctx, p.Snapshot()); err != nil {
		p.log.WithError(err).Debug("Metrics flush failed")
	}
}

// Process runs one event through the guard, the engine and the submitter.
// It reports false when the event was dropped before evaluation.
func (p *Pipeline) Process(ctx context.Context, ev models.TradeEvent) (models.DecisionRecord, bool) {
	p.metrics.recordEvent(ev)

	if len(p.targets) > 0 && !p.targets.Has(ev.ActorAddress) {
		p.metrics.recordDrop()
		p.log.WithFields(logrus.Fields{
			"event_id": ev.EventID,
			"actor":    utils.ShortAddress(ev.ActorAddress),
		}).Debug("Dropped event from non-target")
		return models.DecisionRecord{}, false
	}

	now := p.now()
	var d models.CopyDecision
	if p.risk != nil && !p.risk.Allow(now) {
		d = models.CopyDecision{
			EventID:       ev.EventID,
			MarketID:      ev.MarketID,
			Actor:         ev.ActorAddress,
			Side:          ev.Side,
			OriginalPrice: ev.Price,
			OriginalSize:  ev.Size,
			Reason:        models.ReasonDailyLossLimit,
			DecidedAt:     now.UTC(),
		}
	} else {
		d = p.engine.Evaluate(ev)
	}
	p.metrics.recordDecision(d)

	rec := models.DecisionRecord{CopyDecision: d, Source: ev.Source}
	p.journal(ctx, rec)

	if !d.Accept {
		p.auditReject(d, ev)
		return rec, true
	}

	start := p.now()
	res, err := p.submitter.Submit(ctx, d)
	p.metrics.recordSubmit(p.now().Sub(start), err != nil)
	rec.OrderID = res.OrderID
	rec.OrderStatus = res.Status
	rec.ErrorReason = res.ErrorReason

	fields := logrus.Fields{
		"event_id": d.EventID,
		"actor":    utils.ShortAddress(d.Actor),
		"market":   d.MarketID,
		"side":     d.Side,
		"copy_usd": d.CopyUSD,
		"size":     d.Size,
		"price":    d.AdjustedPrice,
		"position": p.engine.Position(d.MarketID),
		"source":   ev.Source,
	}
	if p.titles != nil {
		if title := p.titles.Title(ctx, d.MarketID); title != "" {
			fields["title"] = title
		}
	}

	if err != nil {
		fields["error"] = err.Error()
		if p.cfg.RevertOnSubmitFailure && !p.submitter.Paper() {
			p.engine.Revert(d)
			p.metrics.recordRevert()
			fields["position"] = p.engine.Position(d.MarketID)
			fields["reverted"] = true
		}
		p.log.WithFields(fields).Error("Copy accepted but submission failed")
	} else {
		if p.risk != nil {
			p.risk.Record(d, now)
		}
		fields["order_id"] = res.OrderID
		fields["status"] = res.Status
		p.log.WithFields(fields).Info("Copy accepted")
	}

	p.persistOutcome(ctx, res)
	return rec, true
}

func (p *Pipeline) auditReject(d models.CopyDecision, ev models.TradeEvent) {
	entry := p.log.WithFields(logrus.Fields{
		"event_id": d.EventID,
		"actor":    utils.ShortAddress(d.Actor),
		"market":   d.MarketID,
		"side":     d.Side,
		"copy_usd": d.CopyUSD,
		"reason":   d.Reason,
		"source":   ev.Source,
	})
	if d.Reason == models.ReasonDuplicate {
		entry.Debug("Copy rejected")
		return
	}
	entry.Info("Copy rejected")
}

func (p *Pipeline) journal(ctx context.Context, rec models.DecisionRecord) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveDecision(ctx, rec); err != nil {
		p.log.WithError(err).WithField("event_id", rec.EventID).Warn("Failed to journal decision")
	}
	if rec.Reason == models.ReasonDuplicate || rec.Reason == models.ReasonDailyLossLimit {
		return
	}
	if err := p.store.MarkEventProcessed(ctx, rec.EventID); err != nil {
		p.log.WithError(err).WithField("event_id", rec.EventID).Warn("Failed to mark event processed")
	}
}

func (p *Pipeline) persistOutcome(ctx context.Context, res models.OrderResult) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveOrderResult(ctx, res); err != nil {
		p.log.WithError(err).WithField("event_id", res.EventID).Warn("Failed to save order result")
	}
	if err := p.store.SaveLedger(ctx, p.engine.Positions()); err != nil {
		p.log.WithError(err).Warn("Failed to save ledger")
	}
}
