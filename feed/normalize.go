package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"polymarket-copybot/api"
	"polymarket-copybot/models"
	"polymarket-copybot/utils"
)

// Detection sources recorded on each event.
const (
	SourceDataAPI   = "data_api"
	SourcePositions = "data_api_positions"
	SourceMarketWS  = "market_ws"
	SourceChain     = "chain"
	SourceManual    = "manual"
)

// RawTrade is a trade as reported by any upstream before normalization.
// Upstreams disagree on key names, so several market fields are accepted.
type RawTrade struct {
	EventID     string      `json:"event_id"`
	ID          string      `json:"id"`
	TxHash      string      `json:"transactionHash"`
	Asset       string      `json:"asset"`
	TokenID     string      `json:"token_id"`
	Market      string      `json:"market"`
	ConditionID string      `json:"conditionId"`
	Side        string      `json:"side"`
	Price       api.Numeric `json:"price"`
	Size        api.Numeric `json:"size"`
	Actor       string      `json:"actor"`
	ProxyWallet string      `json:"proxyWallet"`
	Timestamp   int64       `json:"timestamp"`
	Source      string      `json:"source"`
}

// ParseRawTrade decodes a JSON trade payload.
func ParseRawTrade(data []byte) (RawTrade, error) {
	var raw RawTrade
	if err := json.Unmarshal(data, &raw); err != nil {
		return RawTrade{}, fmt.Errorf("%w: %v", models.ErrInvalidEvent, err)
	}
	return raw, nil
}

func (r RawTrade) marketID() string {
	for _, m := range []string{r.Asset, r.TokenID, r.Market, r.ConditionID} {
		if m = strings.TrimSpace(m); m != "" {
			return m
		}
	}
	return ""
}

func (r RawTrade) actor() string {
	if r.Actor != "" {
		return utils.NormalizeAddress(r.Actor)
	}
	return utils.NormalizeAddress(r.ProxyWallet)
}

// eventID is <actor>_<trade id>, falling back to the tx hash and then to
// actor-timestamp-market when the upstream has no stable id.
func (r RawTrade) eventID(actor, market string) string {
	if r.EventID != "" {
		return r.EventID
	}
	id := r.ID
	if id == "" {
		id = r.TxHash
	}
	if id == "" {
		id = fmt.Sprintf("%s-%d-%s", actor, r.Timestamp, market)
	}
	return actor + "_" + id
}

// Normalize converts r into a TradeEvent. Events missing a market, with an
// unknown side, or with non-positive price or size return models.ErrInvalidEvent.
func Normalize(r RawTrade) (models.TradeEvent, error) {
	market := r.marketID()
	if market == "" {
		return models.TradeEvent{}, fmt.Errorf("%w: missing market", models.ErrInvalidEvent)
	}

	side, err := models.ParseSide(r.Side)
	if err != nil {
		return models.TradeEvent{}, err
	}

	actor := r.actor()
	ts := time.Now().UTC()
	if r.Timestamp > 0 {
		ts = time.Unix(r.Timestamp, 0).UTC()
	}

	ev := models.TradeEvent{
		EventID:      r.eventID(actor, market),
		MarketID:     market,
		Side:         side,
		Price:        r.Price.Float64(),
		Size:         r.Size.Float64(),
		ActorAddress: actor,
		Source:       r.Source,
		Timestamp:    ts,
		DetectedAt:   time.Now().UTC(),
	}
	if err := ev.Validate(); err != nil {
		return models.TradeEvent{}, err
	}
	return ev, nil
}

// FromDataTrade maps a data API trade to a RawTrade. wallet is the polled target.
func FromDataTrade(t api.DataTrade, wallet string) RawTrade {
	actor := t.ProxyWallet
	if actor == "" {
		actor = wallet
	}
	return RawTrade{
		ID:          t.ID,
		TxHash:      t.TransactionHash,
		Asset:       t.Asset,
		ConditionID: t.ConditionID,
		Side:        t.Side,
		Price:       t.Price,
		Size:        t.Size,
		Actor:       actor,
		Timestamp:   t.Timestamp,
		Source:      SourceDataAPI,
	}
}

// isTrade filters out REDEEM, SPLIT and MERGE activity.
func isTrade(t api.DataTrade) bool {
	return t.Type == "" || strings.EqualFold(t.Type, "TRADE")
}
