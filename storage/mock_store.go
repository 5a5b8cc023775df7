package storage

import (
	"context"
	"sync"

	"polymarket-copybot/models"
)

// MockStore is an in-memory DataStore. It backs the "memory" driver and
// tests, so it is safe for concurrent use.
type MockStore struct {
	mu sync.RWMutex

	Decisions []models.DecisionRecord
	Ledger    map[string]float64
	Processed []string
	processed map[string]bool

	// Call tracking for assertions
	Calls map[string]int

	// Error injection for testing error paths
	ErrorOnNext map[string]error
}

// NewMockStore creates a new mock store
func NewMockStore() *MockStore {
	return &MockStore{
		Ledger:      make(map[string]float64),
		processed:   make(map[string]bool),
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

// trackCall must be called with mu held.
func (m *MockStore) trackCall(name string) error {
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// CallCount returns how many times name was called.
func (m *MockStore) CallCount(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Calls[name]
}

// FailNext makes the next call to name return err.
func (m *MockStore) FailNext(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorOnNext[name] = err
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackCall("Close")
}

func (m *MockStore) SaveDecision(ctx context.Context, rec models.DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SaveDecision"); err != nil {
		return err
	}
	m.Decisions = append(m.Decisions, rec)
	return nil
}

func (m *MockStore) ListDecisions(ctx context.Context, limit int) ([]models.DecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("ListDecisions"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	out := make([]models.DecisionRecord, 0, limit)
	for i := len(m.Decisions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.Decisions[i])
	}
	return out, nil
}

func (m *MockStore) GetDecision(ctx context.Context, eventID string) (*models.DecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetDecision"); err != nil {
		return nil, err
	}
	for i := range m.Decisions {
		if m.Decisions[i].EventID == eventID {
			rec := m.Decisions[i]
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) SaveOrderResult(ctx context.Context, res models.OrderResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SaveOrderResult"); err != nil {
		return err
	}
	found := false
	for i := range m.Decisions {
		if m.Decisions[i].EventID == res.EventID && m.Decisions[i].Accept {
			m.Decisions[i].OrderID = res.OrderID
			m.Decisions[i].OrderStatus = res.Status
			m.Decisions[i].ErrorReason = res.ErrorReason
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (m *MockStore) DecisionStats(ctx context.Context) (DecisionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := newDecisionStats()
	if err := m.trackCall("DecisionStats"); err != nil {
		return stats, err
	}
	for _, d := range m.Decisions {
		stats.Total++
		if d.Accept {
			stats.Accepted++
			stats.AcceptedUSD += d.CopyUSD
		} else {
			stats.Rejected++
			stats.ByReason[string(d.Reason)]++
		}
		switch d.OrderStatus {
		case models.OrderStatusPlaced:
			stats.Placed++
		case models.OrderStatusSimulated:
			stats.Simulated++
		case models.OrderStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *MockStore) SaveLedger(ctx context.Context, positions map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SaveLedger"); err != nil {
		return err
	}
	m.Ledger = make(map[string]float64, len(positions))
	for k, v := range positions {
		m.Ledger[k] = v
	}
	return nil
}

func (m *MockStore) LoadLedger(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("LoadLedger"); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(m.Ledger))
	for k, v := range m.Ledger {
		out[k] = v
	}
	return out, nil
}

func (m *MockStore) MarkEventProcessed(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("MarkEventProcessed"); err != nil {
		return err
	}
	if !m.processed[eventID] {
		m.processed[eventID] = true
		m.Processed = append(m.Processed, eventID)
	}
	return nil
}

func (m *MockStore) RecentEventIDs(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("RecentEventIDs"); err != nil {
		return nil, err
	}
	ids := m.Processed
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	return append([]string(nil), ids...), nil
}
