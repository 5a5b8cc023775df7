package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GammaClient reads market metadata from the gamma API.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// GammaTokenInfo holds the parsed token info from Gamma API
type GammaTokenInfo struct {
	TokenID     string
	ConditionID string
	Outcome     string
	Title       string
	Slug        string
	NegRisk     bool
}

func NewGammaClient(baseURL string) *GammaClient {
	if baseURL == "" {
		baseURL = "https://gamma-api.polymarket.com"
	}
	return &GammaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// HotMarkets returns active, open markets ordered by 24h volume.
func (c *GammaClient) HotMarkets(ctx context.Context, limit int) ([]GammaMarket, error) {
	values := url.Values{}
	values.Set("active", "true")
	values.Set("closed", "false")
	values.Set("order", "volume24hr")
	values.Set("ascending", "false")
	values.Set("limit", strconv.Itoa(limit))

	var markets []GammaMarket
	if err := c.get(ctx, "/markets", values, &markets); err != nil {
		return nil, fmt.Errorf("hot markets: %w", err)
	}
	return markets, nil
}

// HotTokenIDs flattens the outcome token IDs of the hottest markets.
func (c *GammaClient) HotTokenIDs(ctx context.Context, limit int) ([]string, error) {
	markets, err := c.HotMarkets(ctx, limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, m := range markets {
		ids = append(ids, m.TokenIDs()...)
	}
	return ids, nil
}

// GetTokenInfoByID fetches token information from Gamma API by token ID
func (c *GammaClient) GetTokenInfoByID(ctx context.Context, tokenID string) (*GammaTokenInfo, error) {
	values := url.Values{}
	values.Set("clob_token_ids", tokenID)

	var markets []GammaMarket
	if err := c.get(ctx, "/markets", values, &markets); err != nil {
		return nil, fmt.Errorf("token info: %w", err)
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("no market found for token %s", tokenID)
	}

	market := markets[0]
	outcomes := market.OutcomeNames()

	outcome := ""
	for idx, id := range market.TokenIDs() {
		if id == tokenID && idx < len(outcomes) {
			outcome = outcomes[idx]
			break
		}
	}

	return &GammaTokenInfo{
		TokenID:     tokenID,
		ConditionID: market.ConditionID,
		Outcome:     outcome,
		Title:       market.Question,
		Slug:        market.Slug,
		NegRisk:     market.NegRisk,
	}, nil
}

func (c *GammaClient) get(ctx context.Context, path string, values url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+values.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &HTTPError{Method: req.Method, Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
