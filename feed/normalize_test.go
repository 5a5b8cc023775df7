package feed

import (
	"errors"
	"testing"

	"polymarket-copybot/api"
	"polymarket-copybot/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		raw        RawTrade
		wantID     string
		wantMarket string
		wantErr    bool
	}{
		{
			name:       "trade id",
			raw:        RawTrade{ID: "t1", Asset: "111", Side: "buy", Price: 0.5, Size: 10, Actor: "0xABC"},
			wantID:     "0xabc_t1",
			wantMarket: "111",
		},
		{
			name:       "tx hash fallback",
			raw:        RawTrade{TxHash: "0xdead", TokenID: "222", Side: "SELL", Price: 0.4, Size: 5, ProxyWallet: "0xabc"},
			wantID:     "0xabc_0xdead",
			wantMarket: "222",
		},
		{
			name:       "timestamp fallback",
			raw:        RawTrade{Market: "333", Side: "BUY", Price: 0.3, Size: 1, Actor: "0xabc", Timestamp: 1700000000},
			wantID:     "0xabc_0xabc-1700000000-333",
			wantMarket: "333",
		},
		{
			name:       "explicit event id wins",
			raw:        RawTrade{EventID: "given", ID: "t1", ConditionID: "0xcond", Side: "BUY", Price: 0.3, Size: 1},
			wantID:     "given",
			wantMarket: "0xcond",
		},
		{name: "missing market", raw: RawTrade{ID: "x", Side: "BUY", Price: 0.5, Size: 1}, wantErr: true},
		{name: "bad side", raw: RawTrade{ID: "x", Asset: "1", Side: "HOLD", Price: 0.5, Size: 1}, wantErr: true},
		{name: "zero price", raw: RawTrade{ID: "x", Asset: "1", Side: "BUY", Price: 0, Size: 1}, wantErr: true},
		{name: "negative size", raw: RawTrade{ID: "x", Asset: "1", Side: "BUY", Price: 0.5, Size: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Normalize(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, models.ErrInvalidEvent) {
					t.Fatalf("Normalize() error = %v, want ErrInvalidEvent", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error: %v", err)
			}
			if ev.EventID != tt.wantID {
				t.Errorf("EventID = %s, want %s", ev.EventID, tt.wantID)
			}
			if ev.MarketID != tt.wantMarket {
				t.Errorf("MarketID = %s, want %s", ev.MarketID, tt.wantMarket)
			}
		})
	}
}

func TestNormalize_Timestamp(t *testing.T) {
	ev, err := Normalize(RawTrade{ID: "t", Asset: "1", Side: "BUY", Price: 0.5, Size: 1, Timestamp: 1700000000})
	if err != nil {
		t.Fatal(err)
	}
	if ev.Timestamp.Unix() != 1700000000 {
		t.Errorf("Timestamp = %v", ev.Timestamp)
	}
	if ev.DetectedAt.IsZero() {
		t.Error("DetectedAt not set")
	}
}

func TestParseRawTrade(t *testing.T) {
	raw, err := ParseRawTrade([]byte(`{"id":"abc","asset":"9","side":"BUY","price":"0.61","size":12,"proxyWallet":"0xF00"}`))
	if err != nil {
		t.Fatalf("ParseRawTrade() error: %v", err)
	}
	if raw.Price.Float64() != 0.61 || raw.Size.Float64() != 12 {
		t.Errorf("price/size = %v/%v", raw.Price, raw.Size)
	}

	if _, err := ParseRawTrade([]byte(`{not json`)); !errors.Is(err, models.ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestFromDataTrade(t *testing.T) {
	trade := api.DataTrade{
		TransactionHash: "0xhash",
		Asset:           "42",
		Side:            "SELL",
		Price:           0.7,
		Size:            3,
		Timestamp:       1700000000,
	}
	raw := FromDataTrade(trade, "0xWALLET")
	ev, err := Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if ev.EventID != "0xwallet_0xhash" {
		t.Errorf("EventID = %s", ev.EventID)
	}
	if ev.Source != SourceDataAPI {
		t.Errorf("Source = %s", ev.Source)
	}
}

func TestBackoff(t *testing.T) {
	b := DefaultBackoff()
	want := []int{5, 10, 20, 40, 80, 160, 300, 300}
	for i, w := range want {
		if got := b.Next().Seconds(); int(got) != w {
			t.Errorf("step %d: got %vs, want %ds", i, got, w)
		}
	}
	b.Reset()
	if got := b.Next().Seconds(); got != 5 {
		t.Errorf("after reset got %vs", got)
	}
}
