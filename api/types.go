package api

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Numeric handles Polymarket numbers that may arrive as strings or numbers.
type Numeric float64

func (n *Numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || strings.EqualFold(string(data), "null") {
		*n = 0
		return nil
	}

	// Handle quoted numbers.
	if data[0] == '"' && data[len(data)-1] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = Numeric(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Numeric(f)
	return nil
}

func (n Numeric) Float64() float64 {
	return float64(n)
}

// DataTrade represents a trade from the data API.
type DataTrade struct {
	ID              string  `json:"id"`
	ProxyWallet     string  `json:"proxyWallet"`
	Type            string  `json:"type"` // TRADE, REDEEM, SPLIT, MERGE
	Side            string  `json:"side"`
	IsMaker         bool    `json:"isMaker"`
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Size            Numeric `json:"size"`
	UsdcSize        Numeric `json:"usdcSize"`
	Price           Numeric `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	Outcome         string  `json:"outcome"`
	Name            string  `json:"name"`
	Pseudonym       string  `json:"pseudonym"`
	TransactionHash string  `json:"transactionHash"`
}

// OpenPosition represents an open position (current holdings) for a user.
type OpenPosition struct {
	Asset       string  `json:"asset"` // Token ID
	ConditionID string  `json:"conditionId"`
	Size        Numeric `json:"size"`
	AvgPrice    Numeric `json:"avgPrice"`
	CurPrice    Numeric `json:"curPrice"`
	Title       string  `json:"title"`
	Outcome     string  `json:"outcome"`
	ProxyWallet string  `json:"proxyWallet"`
}

// GammaMarket represents a market returned by the gamma API.
type GammaMarket struct {
	ID           string  `json:"id"`
	Question     string  `json:"question"`
	ConditionID  string  `json:"conditionId"`
	Slug         string  `json:"slug"`
	Volume24Hr   Numeric `json:"volume24hr"`
	Liquidity    Numeric `json:"liquidityNum"`
	Closed       *bool   `json:"closed"`
	NegRisk      bool    `json:"negRisk"`
	ClobTokenIds string  `json:"clobTokenIds"` // JSON array as string
	Outcomes     string  `json:"outcomes"`     // JSON array as string e.g. "[\"Yes\",\"No\"]"
}

// TokenIDs parses ClobTokenIds, which is either a JSON array string or comma separated.
func (m GammaMarket) TokenIDs() []string {
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIds), &ids); err != nil {
		ids = strings.Split(m.ClobTokenIds, ",")
	}
	out := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// OutcomeNames parses Outcomes, defaulting to a binary market.
func (m GammaMarket) OutcomeNames() []string {
	var outcomes []string
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil || len(outcomes) == 0 {
		return []string{"Yes", "No"}
	}
	return outcomes
}
