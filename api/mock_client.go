package api

import (
	"context"
	"sync"
)

// ClobClientInterface defines the methods needed from a CLOB client.
// This interface enables dependency injection for testing.
type ClobClientInterface interface {
	GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error)
	PlaceLimitOrder(ctx context.Context, tokenID string, side Side, size float64, price float64, negRisk bool) (*OrderResponse, error)
}

// Ensure ClobClient implements ClobClientInterface
var _ ClobClientInterface = (*ClobClient)(nil)

// Ensure MockClobClient implements ClobClientInterface
var _ ClobClientInterface = (*MockClobClient)(nil)

// MockClobClient is a mock CLOB client for testing
type MockClobClient struct {
	mu sync.RWMutex

	// Response data
	OrderBook     *OrderBook
	OrderResponse *OrderResponse

	// Call tracking
	Calls map[string]int

	// Error injection
	ErrorOnNext map[string]error

	// Detailed call tracking for verification
	PlaceLimitOrderCalls []PlaceLimitOrderCall
}

// PlaceLimitOrderCall records a call to PlaceLimitOrder
type PlaceLimitOrderCall struct {
	TokenID string
	Side    Side
	Size    float64
	Price   float64
	NegRisk bool
}

// NewMockClobClient creates a new mock CLOB client
func NewMockClobClient() *MockClobClient {
	return &MockClobClient{
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
		OrderBook: &OrderBook{
			Bids: []OrderBookLevel{{Price: "0.49", Size: "1000"}},
			Asks: []OrderBookLevel{{Price: "0.51", Size: "1000"}},
		},
		OrderResponse: &OrderResponse{Success: true, OrderID: "mock-order", Status: "live"},
	}
}

func (m *MockClobClient) trackCall(name string) error {
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// CallCount returns how many times name was called.
func (m *MockClobClient) CallCount(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Calls[name]
}

func (m *MockClobClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetOrderBook"); err != nil {
		return nil, err
	}
	if m.OrderBook == nil {
		return nil, &HTTPError{Method: "GET", Path: "/book", StatusCode: 404, Body: "book not found"}
	}
	book := *m.OrderBook
	book.AssetID = tokenID
	return &book, nil
}

func (m *MockClobClient) PlaceLimitOrder(ctx context.Context, tokenID string, side Side, size float64, price float64, negRisk bool) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlaceLimitOrderCalls = append(m.PlaceLimitOrderCalls, PlaceLimitOrderCall{
		TokenID: tokenID,
		Side:    side,
		Size:    size,
		Price:   price,
		NegRisk: negRisk,
	})
	if err := m.trackCall("PlaceLimitOrder"); err != nil {
		return nil, err
	}
	resp := *m.OrderResponse
	return &resp, nil
}

// LimitOrders returns a copy of the recorded PlaceLimitOrder calls.
func (m *MockClobClient) LimitOrders() []PlaceLimitOrderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PlaceLimitOrderCall(nil), m.PlaceLimitOrderCalls...)
}
