// Package syncer runs the copy pipeline: feeds in, engine decisions, order
// submission out, plus the risk guard and metrics around it.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"polymarket-copybot/feed"
	"polymarket-copybot/models"
)

const metricsKey = "copybot:metrics"

// MetricsSnapshot is a point-in-time copy of PipelineMetrics.
type MetricsSnapshot struct {
	EventsReceived int64            `json:"events_received"`
	EventsDropped  int64            `json:"events_dropped"`
	Accepted       int64            `json:"accepted"`
	Rejected       int64            `json:"rejected"`
	Rejections     map[string]int64 `json:"rejections"`
	AcceptedUSD    float64          `json:"accepted_usd"`
	Submitted      int64            `json:"submitted"`
	SubmitFailed   int64            `json:"submit_failed"`
	Reverted       int64            `json:"reverted"`
	LastDecisionAt time.Time        `json:"last_decision_at"`

	AvgDetectionLatency time.Duration `json:"avg_detection_latency_ns"`
	FastestDetection    time.Duration `json:"fastest_detection_ns"`
	SlowestDetection    time.Duration `json:"slowest_detection_ns"`
	AvgSubmitLatency    time.Duration `json:"avg_submit_latency_ns"`
	FastestSubmit       time.Duration `json:"fastest_submit_ns"`
	SlowestSubmit       time.Duration `json:"slowest_submit_ns"`

	Feeds     map[string]feed.Stats `json:"feeds,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// latency keeps a running average with extremes.
type latency struct {
	count   int64
	total   time.Duration
	fastest time.Duration
	slowest time.Duration
}

func (l *latency) add(d time.Duration) {
	if d < 0 {
		return
	}
	l.count++
	l.total += d
	if l.fastest == 0 || d < l.fastest {
		l.fastest = d
	}
	if d > l.slowest {
		l.slowest = d
	}
}

func (l *latency) avg() time.Duration {
	if l.count == 0 {
		return 0
	}
	return l.total / time.Duration(l.count)
}

// PipelineMetrics counts what the pipeline does. Safe for concurrent use.
type PipelineMetrics struct {
	mu        sync.Mutex
	snap      MetricsSnapshot
	detection latency
	submit    latency
}

// NewPipelineMetrics returns zeroed metrics.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{snap: MetricsSnapshot{Rejections: make(map[string]int64)}}
}

func (m *PipelineMetrics) recordEvent(ev models.TradeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.EventsReceived++
	if !ev.Timestamp.IsZero() && !ev.DetectedAt.IsZero() {
		m.detection.add(ev.DetectedAt.Sub(ev.Timestamp))
	}
}

func (m *PipelineMetrics) recordDrop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.EventsDropped++
}

func (m *PipelineMetrics) recordDecision(d models.CopyDecision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.Accept {
		m.snap.Accepted++
		m.snap.AcceptedUSD += d.CopyUSD
	} else {
		m.snap.Rejected++
		m.snap.Rejections[string(d.Reason)]++
	}
	m.snap.LastDecisionAt = d.DecidedAt
}

func (m *PipelineMetrics) recordSubmit(took time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if failed {
		m.snap.SubmitFailed++
		return
	}
	m.snap.Submitted++
	m.submit.add(took)
}

func (m *PipelineMetrics) recordRevert() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Reverted++
}

// Snapshot returns a copy of the current counters.
func (m *PipelineMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snap
	s.Rejections = make(map[string]int64, len(m.snap.Rejections))
	for k, v := range m.snap.Rejections {
		s.Rejections[k] = v
	}
	s.AvgDetectionLatency = m.detection.avg()
	s.FastestDetection = m.detection.fastest
	s.SlowestDetection = m.detection.slowest
	s.AvgSubmitLatency = m.submit.avg()
	s.FastestSubmit = m.submit.fastest
	s.SlowestSubmit = m.submit.slowest
	s.UpdatedAt = time.Now()
	return s
}

// MetricsStore handles storing and retrieving metrics
type MetricsStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewMetricsStore creates a new metrics store
func NewMetricsStore(redisClient *redis.Client) *MetricsStore {
	return &MetricsStore{redis: redisClient, ttl: 24 * time.Hour}
}

// Save writes snap to Redis.
func (m *MetricsStore) Save(ctx context.Context, snap MetricsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.redis.Set(ctx, metricsKey, data, m.ttl).Err()
}

// GetMetrics retrieves the last saved snapshot. A missing key yields an
// empty snapshot.
func (m *MetricsStore) GetMetrics(ctx context.Context) (*MetricsSnapshot, error) {
	data, err := m.redis.Get(ctx, metricsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &MetricsSnapshot{}, nil
		}
		return nil, err
	}

	var snap MetricsSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// LatencyStats provides detailed latency statistics
type LatencyStats struct {
	DetectionAvg  time.Duration `json:"detection_avg_ns"`
	DetectionFast time.Duration `json:"detection_fastest_ns"`
	DetectionSlow time.Duration `json:"detection_slowest_ns"`
	SubmitAvg     time.Duration `json:"submit_avg_ns"`
	SubmitFast    time.Duration `json:"submit_fastest_ns"`
	SubmitSlow    time.Duration `json:"submit_slowest_ns"`
	TotalAvg      time.Duration `json:"total_avg_ns"`
}

// Latency derives latency statistics from a snapshot.
func (s MetricsSnapshot) Latency() LatencyStats {
	return LatencyStats{
		DetectionAvg:  s.AvgDetectionLatency,
		DetectionFast: s.FastestDetection,
		DetectionSlow: s.SlowestDetection,
		SubmitAvg:     s.AvgSubmitLatency,
		SubmitFast:    s.FastestSubmit,
		SubmitSlow:    s.SlowestSubmit,
		TotalAvg:      s.AvgDetectionLatency + s.AvgSubmitLatency,
	}
}
