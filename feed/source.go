// Package feed contains the trade feed adapters. Every adapter normalizes
// upstream data into models.TradeEvent before handing it on.
package feed

import (
	"context"
	"sync/atomic"
	"time"

	"polymarket-copybot/models"
)

// Source is a feed adapter. Run blocks, writing events to out, until ctx is
// cancelled or the source fails permanently.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- models.TradeEvent) error
	Stats() Stats
}

// Stats are per-source counters.
type Stats struct {
	Emitted int64 `json:"emitted"`
	Dropped int64 `json:"dropped"` // failed normalization or filtered
	Errors  int64 `json:"errors"`
}

type counters struct {
	emitted atomic.Int64
	dropped atomic.Int64
	errors  atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Emitted: c.emitted.Load(),
		Dropped: c.dropped.Load(),
		Errors:  c.errors.Load(),
	}
}

func (c *counters) emit(ctx context.Context, out chan<- models.TradeEvent, ev models.TradeEvent) error {
	select {
	case out <- ev:
		c.emitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff doubles a delay from Initial up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	current time.Duration
}

// DefaultBackoff is 5s doubling to 5m.
func DefaultBackoff() *Backoff {
	return &Backoff{Initial: 5 * time.Second, Max: 300 * time.Second}
}

// Next returns the delay to wait and advances.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Initial
	} else {
		b.current *= 2
	}
	if b.current > b.Max {
		b.current = b.Max
	}
	return b.current
}

// Reset returns to the initial delay.
func (b *Backoff) Reset() {
	b.current = 0
}

// sleep waits d or until ctx is done, reporting whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
