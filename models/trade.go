package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEvent is returned by the normalization boundary for events that must
// never reach the engine (missing market, unknown side, non-positive price or size).
var ErrInvalidEvent = errors.New("invalid trade event")

// Side represents buy or sell
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts any casing of "buy"/"sell".
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: unknown side %q", ErrInvalidEvent, s)
}

// TradeEvent is an observed trade by a monitored wallet, already normalized.
type TradeEvent struct {
	EventID      string    `json:"event_id"`
	MarketID     string    `json:"market_id"` // Token ID of the outcome
	Side         Side      `json:"side"`
	Price        float64   `json:"price"`
	Size         float64   `json:"size"`
	ActorAddress string    `json:"actor_address"`
	Source       string    `json:"source"` // data_api, data_api_positions, market_ws, chain
	Timestamp    time.Time `json:"timestamp"`
	DetectedAt   time.Time `json:"detected_at"`
}

// Validate checks the invariants every event must satisfy before evaluation.
func (e TradeEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("%w: empty event id", ErrInvalidEvent)
	}
	if e.MarketID == "" {
		return fmt.Errorf("%w: empty market id", ErrInvalidEvent)
	}
	if e.Side != SideBuy && e.Side != SideSell {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidEvent, e.Side)
	}
	if !(e.Price > 0) {
		return fmt.Errorf("%w: price %v", ErrInvalidEvent, e.Price)
	}
	if !(e.Size > 0) {
		return fmt.Errorf("%w: size %v", ErrInvalidEvent, e.Size)
	}
	return nil
}

// Notional returns size * price in USD.
func (e TradeEvent) Notional() float64 {
	return e.Size * e.Price
}

// RejectReason explains why an event was not copied. Empty means accepted.
type RejectReason string

const (
	ReasonNone           RejectReason = ""
	ReasonDuplicate      RejectReason = "DUPLICATE"
	ReasonBelowMin       RejectReason = "BELOW_MIN"
	ReasonAboveMax       RejectReason = "ABOVE_MAX"
	ReasonPositionLimit  RejectReason = "POSITION_LIMIT"
	ReasonDailyLossLimit RejectReason = "DAILY_LOSS_LIMIT"
)

// AllRejectReasons lists the reasons the engine and pipeline can produce.
var AllRejectReasons = []RejectReason{
	ReasonDuplicate,
	ReasonBelowMin,
	ReasonAboveMax,
	ReasonPositionLimit,
	ReasonDailyLossLimit,
}

// CopyDecision is the outcome of evaluating one TradeEvent.
type CopyDecision struct {
	Accept        bool         `json:"accept"`
	EventID       string       `json:"event_id"`
	MarketID      string       `json:"market_id"`
	Actor         string       `json:"actor"`
	Side          Side         `json:"side"`
	OriginalPrice float64      `json:"original_price"`
	OriginalSize  float64      `json:"original_size"`
	CopyUSD       float64      `json:"copy_usd"`
	AdjustedPrice float64      `json:"adjusted_price,omitempty"`
	Size          float64      `json:"size,omitempty"`
	Reason        RejectReason `json:"reason,omitempty"`
	DecidedAt     time.Time    `json:"decided_at"`
}

// Delta is the signed ledger change this decision commits.
func (d CopyDecision) Delta() float64 {
	if d.Side == SideSell {
		return -d.Size
	}
	return d.Size
}

// Order status values recorded for submissions.
const (
	OrderStatusSimulated = "simulated"
	OrderStatusPlaced    = "placed"
	OrderStatusFailed    = "failed"
)

// OrderResult is what a submitter reports back for an accepted decision.
type OrderResult struct {
	EventID     string    `json:"event_id"`
	OrderID     string    `json:"order_id"`
	Status      string    `json:"status"`
	ErrorReason string    `json:"error_reason,omitempty"`
	Paper       bool      `json:"paper"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// DecisionRecord is a journaled decision joined with its submission outcome.
type DecisionRecord struct {
	CopyDecision
	Source      string `json:"source"`
	OrderID     string `json:"order_id,omitempty"`
	OrderStatus string `json:"order_status,omitempty"`
	ErrorReason string `json:"error_reason,omitempty"`
}
