package feed

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"polymarket-copybot/models"
)

var (
	targetAddr = common.HexToAddress(testWallet)
	otherAddr  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func fillLog(maker, taker common.Address, makerAsset, takerAsset, makerAmt, takerAmt int64, block uint64, index uint) types.Log {
	data := make([]byte, 0, 5*32)
	for _, v := range []int64{makerAsset, takerAsset, makerAmt, takerAmt, 0} {
		data = append(data, common.LeftPadBytes(big.NewInt(v).Bytes(), 32)...)
	}
	return types.Log{
		Address: CTFExchangeAddress,
		Topics: []common.Hash{
			OrderFilledTopic,
			common.HexToHash("0x01"),
			common.BytesToHash(maker.Bytes()),
			common.BytesToHash(taker.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash("0xabc"),
		Index:       index,
	}
}

func TestOrderFill_Trade(t *testing.T) {
	tests := []struct {
		name      string
		log       types.Log
		actor     common.Address
		wantSide  models.Side
		wantAsset string
		wantPrice float64
		wantSize  float64
	}{
		{
			name:      "maker pays usdc",
			log:       fillLog(targetAddr, otherAddr, 0, 99, 6_000_000, 10_000_000, 1, 0),
			actor:     targetAddr,
			wantSide:  models.SideBuy,
			wantAsset: "99",
			wantPrice: 0.6,
			wantSize:  10,
		},
		{
			name:      "maker gives tokens",
			log:       fillLog(targetAddr, otherAddr, 99, 0, 10_000_000, 4_000_000, 1, 0),
			actor:     targetAddr,
			wantSide:  models.SideSell,
			wantAsset: "99",
			wantPrice: 0.4,
			wantSize:  10,
		},
		{
			name:      "taker receives usdc",
			log:       fillLog(otherAddr, targetAddr, 0, 99, 6_000_000, 10_000_000, 1, 0),
			actor:     targetAddr,
			wantSide:  models.SideSell,
			wantAsset: "99",
			wantPrice: 0.6,
			wantSize:  10,
		},
		{
			name:      "taker receives tokens",
			log:       fillLog(otherAddr, targetAddr, 99, 0, 10_000_000, 4_000_000, 1, 0),
			actor:     targetAddr,
			wantSide:  models.SideBuy,
			wantAsset: "99",
			wantPrice: 0.4,
			wantSize:  10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fill, err := DecodeOrderFilled(tt.log)
			if err != nil {
				t.Fatalf("DecodeOrderFilled() error: %v", err)
			}
			raw, err := fill.Trade(tt.actor)
			if err != nil {
				t.Fatalf("Trade() error: %v", err)
			}
			ev, err := Normalize(raw)
			if err != nil {
				t.Fatalf("Normalize() error: %v", err)
			}
			if ev.Side != tt.wantSide || ev.MarketID != tt.wantAsset {
				t.Errorf("side/market = %s/%s, want %s/%s", ev.Side, ev.MarketID, tt.wantSide, tt.wantAsset)
			}
			if !floatNear(ev.Price, tt.wantPrice) || !floatNear(ev.Size, tt.wantSize) {
				t.Errorf("price/size = %v/%v, want %v/%v", ev.Price, ev.Size, tt.wantPrice, tt.wantSize)
			}
			if !strings.HasPrefix(ev.EventID, testWallet+"_0x") || !strings.HasSuffix(ev.EventID, "_0") {
				t.Errorf("EventID = %s", ev.EventID)
			}
		})
	}
}

func TestOrderFill_TradeRejectsStranger(t *testing.T) {
	fill, err := DecodeOrderFilled(fillLog(otherAddr, otherAddr, 0, 1, 1, 1, 1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fill.Trade(targetAddr); err == nil {
		t.Error("expected error for non-party actor")
	}
}

func TestDecodeOrderFilled_Short(t *testing.T) {
	l := fillLog(targetAddr, otherAddr, 0, 1, 1, 1, 1, 0)
	l.Data = l.Data[:64]
	if _, err := DecodeOrderFilled(l); !errors.Is(err, errShortLog) {
		t.Errorf("error = %v, want errShortLog", err)
	}
}

// mockFilterer returns the same logs for every query in range.
type mockFilterer struct {
	mu          sync.Mutex
	head        uint64
	logs        []types.Log
	Queries     []ethereum.FilterQuery
	ErrorOnNext error
}

func (m *mockFilterer) BlockNumber(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head, nil
}

func (m *mockFilterer) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, q)
	if m.ErrorOnNext != nil {
		err := m.ErrorOnNext
		m.ErrorOnNext = nil
		return nil, err
	}
	var out []types.Log
	for _, l := range m.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func TestChainPoller_PollOnce(t *testing.T) {
	client := &mockFilterer{head: 100}
	p := NewChainPoller(client, ChainPollerConfig{
		Targets:       []string{testWallet},
		MaxBlockRange: 5,
		Confirmations: 2,
	}, nil)
	out := make(chan models.TradeEvent, 10)
	ctx := context.Background()

	if err := p.PollOnce(ctx, out); err != nil {
		t.Fatal(err)
	}
	if p.lastBlock != 98 {
		t.Fatalf("cursor = %d, want 98", p.lastBlock)
	}

	client.mu.Lock()
	client.head = 110
	client.logs = []types.Log{
		fillLog(targetAddr, otherAddr, 0, 7, 5_000_000, 10_000_000, 105, 3),
		fillLog(otherAddr, targetAddr, 7, 0, 2_000_000, 1_000_000, 101, 1),
		fillLog(otherAddr, otherAddr, 7, 0, 2_000_000, 1_000_000, 102, 0),
		fillLog(targetAddr, otherAddr, 0, 7, 1_000_000, 2_000_000, 97, 0),
	}
	client.mu.Unlock()

	if err := p.PollOnce(ctx, out); err != nil {
		t.Fatal(err)
	}
	got := drain(out)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Side != models.SideBuy || !floatNear(got[0].Size, 2) {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Side != models.SideBuy || !floatNear(got[1].Size, 10) || !floatNear(got[1].Price, 0.5) {
		t.Errorf("second event = %+v", got[1])
	}
	if p.lastBlock != 108 {
		t.Errorf("cursor = %d, want 108", p.lastBlock)
	}

	// 99-103 and 104-108, two queries each.
	if len(client.Queries) != 4 {
		t.Errorf("queries = %d, want 4", len(client.Queries))
	}
	for _, q := range client.Queries {
		if len(q.Addresses) != 2 || q.Topics[0][0] != OrderFilledTopic {
			t.Errorf("unexpected query %+v", q)
		}
	}
}

func TestChainPoller_CursorHoldsOnError(t *testing.T) {
	client := &mockFilterer{head: 50}
	p := NewChainPoller(client, ChainPollerConfig{Targets: []string{testWallet}}, nil)
	out := make(chan models.TradeEvent, 1)

	if err := p.PollOnce(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	client.head = 60
	client.ErrorOnNext = errors.New("rpc down")
	if err := p.PollOnce(context.Background(), out); err == nil {
		t.Fatal("expected error")
	}
	if p.lastBlock != 50 {
		t.Errorf("cursor advanced to %d", p.lastBlock)
	}
}
