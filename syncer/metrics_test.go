package syncer

import (
	"context"
	"os"
	"testing"
	"time"

	"polymarket-copybot/config"
	"polymarket-copybot/models"
	"polymarket-copybot/storage"
)

func TestPipelineMetrics(t *testing.T) {
	m := NewPipelineMetrics()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	m.recordEvent(models.TradeEvent{Timestamp: base, DetectedAt: base.Add(2 * time.Second)})
	m.recordEvent(models.TradeEvent{Timestamp: base, DetectedAt: base.Add(4 * time.Second)})
	m.recordEvent(models.TradeEvent{})
	m.recordDrop()
	m.recordDecision(models.CopyDecision{Accept: true, CopyUSD: 12.5, DecidedAt: base})
	m.recordDecision(models.CopyDecision{Reason: models.ReasonBelowMin})
	m.recordDecision(models.CopyDecision{Reason: models.ReasonBelowMin, DecidedAt: base.Add(time.Minute)})
	m.recordSubmit(100*time.Millisecond, false)
	m.recordSubmit(300*time.Millisecond, false)
	m.recordSubmit(time.Second, true)
	m.recordRevert()

	s := m.Snapshot()
	if s.EventsReceived != 3 || s.EventsDropped != 1 {
		t.Errorf("events = %d/%d", s.EventsReceived, s.EventsDropped)
	}
	if s.Accepted != 1 || s.Rejected != 2 || s.Rejections["BELOW_MIN"] != 2 || s.AcceptedUSD != 12.5 {
		t.Errorf("decisions = %+v", s)
	}
	if s.Submitted != 2 || s.SubmitFailed != 1 || s.Reverted != 1 {
		t.Errorf("submits = %+v", s)
	}
	if s.AvgDetectionLatency != 3*time.Second || s.FastestDetection != 2*time.Second || s.SlowestDetection != 4*time.Second {
		t.Errorf("detection latency = %v/%v/%v", s.AvgDetectionLatency, s.FastestDetection, s.SlowestDetection)
	}
	if s.AvgSubmitLatency != 200*time.Millisecond || s.FastestSubmit != 100*time.Millisecond || s.SlowestSubmit != 300*time.Millisecond {
		t.Errorf("submit latency = %v/%v/%v", s.AvgSubmitLatency, s.FastestSubmit, s.SlowestSubmit)
	}
	if !s.LastDecisionAt.Equal(base.Add(time.Minute)) {
		t.Errorf("LastDecisionAt = %v", s.LastDecisionAt)
	}

	lat := s.Latency()
	if lat.TotalAvg != 3*time.Second+200*time.Millisecond {
		t.Errorf("TotalAvg = %v", lat.TotalAvg)
	}

	// Snapshots are copies.
	s.Rejections["BELOW_MIN"] = 99
	if m.Snapshot().Rejections["BELOW_MIN"] != 2 {
		t.Error("snapshot shares the rejections map")
	}
}

func TestMetricsStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set")
	}
	ctx := context.Background()
	client, err := storage.NewRedisClient(ctx, config.RedisConfig{Host: host})
	if err != nil {
		t.Fatalf("NewRedisClient() error: %v", err)
	}
	defer client.Close()
	client.Del(ctx, metricsKey)

	store := NewMetricsStore(client)
	empty, err := store.GetMetrics(ctx)
	if err != nil || empty.Accepted != 0 {
		t.Fatalf("GetMetrics() on empty = %+v, %v", empty, err)
	}

	m := NewPipelineMetrics()
	m.recordDecision(models.CopyDecision{Accept: true, CopyUSD: 10})
	if err := store.Save(ctx, m.Snapshot()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := store.GetMetrics(ctx)
	if err != nil {
		t.Fatalf("GetMetrics() error: %v", err)
	}
	if got.Accepted != 1 || got.AcceptedUSD != 10 {
		t.Errorf("GetMetrics() = %+v", got)
	}
}
