package feed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"polymarket-copybot/api"
	"polymarket-copybot/models"
)

const testWallet = "0x1111111111111111111111111111111111111111"

// mockTradeSource serves canned trades and positions per wallet.
type mockTradeSource struct {
	mu          sync.Mutex
	trades      map[string][]api.DataTrade
	positions   map[string][]api.OpenPosition
	ErrorOnNext error
	TradeCalls  int
}

func newMockTradeSource() *mockTradeSource {
	return &mockTradeSource{
		trades:    make(map[string][]api.DataTrade),
		positions: make(map[string][]api.OpenPosition),
	}
}

func (m *mockTradeSource) GetTrades(ctx context.Context, user string, limit int) ([]api.DataTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TradeCalls++
	if m.ErrorOnNext != nil {
		err := m.ErrorOnNext
		m.ErrorOnNext = nil
		return nil, err
	}
	return append([]api.DataTrade(nil), m.trades[user]...), nil
}

func (m *mockTradeSource) GetPositions(ctx context.Context, user string) ([]api.OpenPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]api.OpenPosition(nil), m.positions[user]...), nil
}

// push prepends a trade, matching the API's newest-first ordering.
func (m *mockTradeSource) push(user string, t api.DataTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[user] = append([]api.DataTrade{t}, m.trades[user]...)
}

func (m *mockTradeSource) setPositions(user string, p []api.OpenPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[user] = p
}

func drain(ch chan models.TradeEvent) []models.TradeEvent {
	var out []models.TradeEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestDataAPIPoller_BaselineThenNewTrades(t *testing.T) {
	src := newMockTradeSource()
	src.push(testWallet, api.DataTrade{ID: "old", Asset: "1", Side: "BUY", Price: 0.5, Size: 10})

	p := NewDataAPIPoller(src, DataAPIPollerConfig{Targets: []string{testWallet}}, nil)
	out := make(chan models.TradeEvent, 10)
	ctx := context.Background()

	if err := p.PollOnce(ctx, out); err != nil {
		t.Fatalf("first PollOnce() error: %v", err)
	}
	if got := drain(out); len(got) != 0 {
		t.Fatalf("baseline poll emitted %d events", len(got))
	}

	src.push(testWallet, api.DataTrade{ID: "n1", Asset: "1", Side: "BUY", Price: 0.5, Size: 10})
	src.push(testWallet, api.DataTrade{ID: "n2", Asset: "2", Side: "SELL", Price: 0.4, Size: 5})
	src.push(testWallet, api.DataTrade{ID: "r1", Type: "REDEEM", Asset: "3", Side: "BUY", Price: 1, Size: 5})

	if err := p.PollOnce(ctx, out); err != nil {
		t.Fatalf("second PollOnce() error: %v", err)
	}
	got := drain(out)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].EventID != testWallet+"_n1" || got[1].EventID != testWallet+"_n2" {
		t.Errorf("events out of order: %s, %s", got[0].EventID, got[1].EventID)
	}

	if err := p.PollOnce(ctx, out); err != nil {
		t.Fatal(err)
	}
	if got := drain(out); len(got) != 0 {
		t.Errorf("repeat poll emitted %d events", len(got))
	}
	if s := p.Stats(); s.Emitted != 2 {
		t.Errorf("Emitted = %d, want 2", s.Emitted)
	}
}

func TestDataAPIPoller_PositionChanges(t *testing.T) {
	src := newMockTradeSource()
	src.setPositions(testWallet, []api.OpenPosition{
		{Asset: "A", Size: 10, CurPrice: 0.5},
		{Asset: "B", Size: 4, CurPrice: 0.2},
	})

	p := NewDataAPIPoller(src, DataAPIPollerConfig{Targets: []string{testWallet}, DetectPositions: true}, nil)
	out := make(chan models.TradeEvent, 10)
	ctx := context.Background()

	if err := p.PollOnce(ctx, out); err != nil {
		t.Fatal(err)
	}
	drain(out)

	src.setPositions(testWallet, []api.OpenPosition{
		{Asset: "A", Size: 15, CurPrice: 0.55},
		{Asset: "C", Size: 2, CurPrice: 0.9},
	})
	if err := p.PollOnce(ctx, out); err != nil {
		t.Fatal(err)
	}

	byMarket := make(map[string]models.TradeEvent)
	for _, ev := range drain(out) {
		byMarket[ev.MarketID] = ev
	}
	if len(byMarket) != 3 {
		t.Fatalf("got %d position events, want 3: %+v", len(byMarket), byMarket)
	}

	tests := []struct {
		market string
		side   models.Side
		size   float64
		id     string
	}{
		{"A", models.SideBuy, 5, testWallet + "_pos_A_15.0000"},
		{"B", models.SideSell, 4, testWallet + "_pos_B_0.0000"},
		{"C", models.SideBuy, 2, testWallet + "_pos_C_2.0000"},
	}
	for _, tt := range tests {
		ev := byMarket[tt.market]
		if ev.Side != tt.side || !floatNear(ev.Size, tt.size) || ev.EventID != tt.id {
			t.Errorf("%s: got side=%s size=%v id=%s", tt.market, ev.Side, ev.Size, ev.EventID)
		}
		if ev.Source != SourcePositions {
			t.Errorf("%s: source = %s", tt.market, ev.Source)
		}
	}
}

func TestDataAPIPoller_ErrorsAreJoined(t *testing.T) {
	src := newMockTradeSource()
	src.ErrorOnNext = errors.New("boom")

	p := NewDataAPIPoller(src, DataAPIPollerConfig{Targets: []string{testWallet}}, nil)
	err := p.PollOnce(context.Background(), make(chan models.TradeEvent, 1))
	if err == nil {
		t.Fatal("expected error")
	}

	// A failed poll does not count as the baseline.
	src.push(testWallet, api.DataTrade{ID: "x", Asset: "1", Side: "BUY", Price: 0.5, Size: 1})
	out := make(chan models.TradeEvent, 1)
	if err := p.PollOnce(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	if got := drain(out); len(got) != 0 {
		t.Errorf("expected baseline poll after failure, got %d events", len(got))
	}
}

func TestDataAPIPoller_RunStopsOnCancel(t *testing.T) {
	src := newMockTradeSource()
	p := NewDataAPIPoller(src, DataAPIPollerConfig{Targets: []string{testWallet}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, make(chan models.TradeEvent, 1)) }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}

func floatNear(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
