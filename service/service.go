package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"polymarket-copybot/config"
	"polymarket-copybot/engine"
	"polymarket-copybot/feed"
	"polymarket-copybot/models"
	"polymarket-copybot/storage"
	"polymarket-copybot/syncer"
)

const (
	defaultDecisionLimit = 100
	maxDecisionLimit     = 10000
	defaultStatsTTL      = 5 * time.Second
)

// ErrNotFound is returned when a requested decision does not exist.
var ErrNotFound = errors.New("not found")

// MetricsSource provides live pipeline counters.
type MetricsSource interface {
	Snapshot() syncer.MetricsSnapshot
}

// TitleSource resolves market titles.
type TitleSource interface {
	Title(ctx context.Context, tokenID string) string
}

// Service answers read queries about the running bot and evaluates
// hypothetical trades without touching live state.
type Service struct {
	cfg          *config.Config
	engine       *engine.Engine
	store        storage.DataStore
	metrics      MetricsSource
	metricsStore *syncer.MetricsStore
	risk         *syncer.RiskGuard
	titles       TitleSource
	log          *logrus.Entry
	statsTTL     time.Duration

	cacheMu    sync.RWMutex
	statsCache *statsCacheEntry
}

type statsCacheEntry struct {
	data    storage.DecisionStats
	expires time.Time
}

// Option configures optional collaborators.
type Option func(*Service)

// WithMetrics reads counters from an in-process pipeline.
func WithMetrics(m MetricsSource) Option {
	return func(s *Service) { s.metrics = m }
}

// WithMetricsStore reads counters flushed to Redis by another process.
func WithMetricsStore(m *syncer.MetricsStore) Option {
	return func(s *Service) { s.metricsStore = m }
}

func WithRiskGuard(g *syncer.RiskGuard) Option {
	return func(s *Service) { s.risk = g }
}

func WithTitles(t TitleSource) Option {
	return func(s *Service) { s.titles = t }
}

func WithLogger(log *logrus.Entry) Option {
	return func(s *Service) { s.log = log }
}

func WithStatsTTL(ttl time.Duration) Option {
	return func(s *Service) { s.statsTTL = ttl }
}

// NewService creates a new service. eng may be nil when the service runs
// outside the bot process; positions then come from the stored ledger.
func NewService(cfg *config.Config, eng *engine.Engine, store storage.DataStore, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		engine:   eng,
		store:    store,
		log:      logrus.WithField("component", "service"),
		statsTTL: defaultStatsTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Position is one market in the ledger.
type Position struct {
	MarketID string  `json:"market_id"`
	Size     float64 `json:"size"`
	Title    string  `json:"title,omitempty"`
}

// Status is the combined view served by the API and the status command.
type Status struct {
	Paper       bool                   `json:"paper"`
	Targets     []string               `json:"targets"`
	Engine      engine.Config          `json:"engine"`
	Markets     int                    `json:"markets"`
	Processed   int                    `json:"processed_events"`
	DailyLoss   float64                `json:"daily_loss"`
	DailyLimit  float64                `json:"daily_loss_limit"`
	Pipeline    syncer.MetricsSnapshot `json:"pipeline"`
	Latency     syncer.LatencyStats    `json:"latency"`
	Journal     storage.DecisionStats  `json:"journal"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// Decisions returns the most recent journaled decisions, newest first.
func (s *Service) Decisions(ctx context.Context, limit int) ([]models.DecisionRecord, error) {
	if limit <= 0 {
		limit = defaultDecisionLimit
	}
	if limit > maxDecisionLimit {
		limit = maxDecisionLimit
	}
	return s.store.ListDecisions(ctx, limit)
}

// Decision returns the journaled decision for eventID.
func (s *Service) Decision(ctx context.Context, eventID string) (*models.DecisionRecord, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event id required")
	}
	rec, err := s.store.GetDecision(ctx, eventID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Positions returns non-zero ledger entries sorted by market id.
func (s *Service) Positions(ctx context.Context) ([]Position, error) {
	ledger, err := s.ledger(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(ledger))
	for market, size := range ledger {
		if size == 0 {
			continue
		}
		p := Position{MarketID: market, Size: size}
		if s.titles != nil {
			p.Title = s.titles.Title(ctx, market)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out, nil
}

func (s *Service) ledger(ctx context.Context) (map[string]float64, error) {
	if s.engine != nil {
		return s.engine.Positions(), nil
	}
	return s.store.LoadLedger(ctx)
}

// Status combines live engine state, pipeline counters and journal stats.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	now := time.Now()
	st := &Status{
		Paper:       s.cfg.Engine.PaperMode,
		Targets:     s.cfg.Targets,
		Engine:      s.cfg.EngineSettings(),
		DailyLimit:  s.cfg.Risk.MaxDailyLossUSD,
		GeneratedAt: now.UTC(),
	}

	if s.engine != nil {
		st.Engine = s.engine.Config()
		st.Processed, st.Markets = s.engine.Stats()
	} else {
		ledger, err := s.store.LoadLedger(ctx)
		if err != nil {
			return nil, err
		}
		st.Markets = len(ledger)
	}
	if s.risk != nil {
		st.DailyLoss = s.risk.DailyLoss(now)
	}

	st.Pipeline = s.Metrics(ctx)
	st.Latency = st.Pipeline.Latency()

	stats, err := s.journalStats(ctx)
	if err != nil {
		return nil, err
	}
	st.Journal = stats
	return st, nil
}

// Metrics returns the live pipeline counters, or the last snapshot flushed to
// Redis when no pipeline runs in this process. It never touches the journal.
func (s *Service) Metrics(ctx context.Context) syncer.MetricsSnapshot {
	switch {
	case s.metrics != nil:
		return s.metrics.Snapshot()
	case s.metricsStore != nil:
		snap, err := s.metricsStore.GetMetrics(ctx)
		if err != nil {
			s.log.WithError(err).Warn("Failed to read flushed metrics")
			return syncer.MetricsSnapshot{}
		}
		return *snap
	}
	return syncer.MetricsSnapshot{}
}

func (s *Service) journalStats(ctx context.Context) (storage.DecisionStats, error) {
	if stats, ok := s.cachedStats(); ok {
		return stats, nil
	}
	stats, err := s.store.DecisionStats(ctx)
	if err != nil {
		return storage.DecisionStats{}, err
	}
	s.storeStats(stats)
	return stats, nil
}

func (s *Service) cachedStats() (storage.DecisionStats, bool) {
	s.cacheMu.RLock()
	entry := s.statsCache
	s.cacheMu.RUnlock()
	if entry == nil || time.Now().After(entry.expires) {
		return storage.DecisionStats{}, false
	}
	return entry.data, true
}

func (s *Service) storeStats(stats storage.DecisionStats) {
	s.cacheMu.Lock()
	s.statsCache = &statsCacheEntry{data: stats, expires: time.Now().Add(s.statsTTL)}
	s.cacheMu.Unlock()
}

// InvalidateCaches drops cached journal stats.
func (s *Service) InvalidateCaches() {
	s.cacheMu.Lock()
	s.statsCache = nil
	s.cacheMu.Unlock()
}

// DryRun evaluates raw as the live engine would right now, on a copy of
// its ledger. Nothing is committed or journaled.
func (s *Service) DryRun(ctx context.Context, raw feed.RawTrade) (models.CopyDecision, error) {
	ev, err := feed.Normalize(raw)
	if err != nil {
		return models.CopyDecision{}, err
	}

	cfg := s.cfg.EngineSettings()
	var seen []string
	if s.engine != nil {
		cfg = s.engine.Config()
		if s.engine.Seen(ev.EventID) {
			seen = []string{ev.EventID}
		}
	}
	ledger, err := s.ledger(ctx)
	if err != nil {
		return models.CopyDecision{}, err
	}

	scratch, err := engine.New(cfg, engine.WithLogger(s.log.WithField("dry_run", true)))
	if err != nil {
		return models.CopyDecision{}, err
	}
	scratch.Restore(ledger, seen)
	return scratch.Evaluate(ev), nil
}
