package models

import (
	"errors"
	"testing"
)

func TestParseSide(t *testing.T) {
	tests := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{"BUY", SideBuy, false},
		{"buy", SideBuy, false},
		{" Sell ", SideSell, false},
		{"hold", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSide(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSide(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("error should wrap ErrInvalidEvent, got %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseSide(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTradeEventValidate(t *testing.T) {
	valid := TradeEvent{EventID: "e1", MarketID: "M1", Side: SideBuy, Price: 0.6, Size: 100}

	tests := []struct {
		name    string
		mutate  func(e *TradeEvent)
		wantErr bool
	}{
		{"valid", func(e *TradeEvent) {}, false},
		{"zero price", func(e *TradeEvent) { e.Price = 0 }, true},
		{"negative size", func(e *TradeEvent) { e.Size = -1 }, true},
		{"missing market", func(e *TradeEvent) { e.MarketID = "" }, true},
		{"missing id", func(e *TradeEvent) { e.EventID = "" }, true},
		{"bad side", func(e *TradeEvent) { e.Side = "HOLD" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCopyDecisionDelta(t *testing.T) {
	buy := CopyDecision{Side: SideBuy, Size: 12.5}
	if buy.Delta() != 12.5 {
		t.Errorf("buy delta = %v, want 12.5", buy.Delta())
	}
	sell := CopyDecision{Side: SideSell, Size: 12.5}
	if sell.Delta() != -12.5 {
		t.Errorf("sell delta = %v, want -12.5", sell.Delta())
	}
}
