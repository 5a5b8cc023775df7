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

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DataClient reads public wallet activity from the Polymarket data API.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logrus.Entry
}

// NewDataClient creates a data API client limited to rps requests per second.
func NewDataClient(baseURL string, rps float64) *DataClient {
	if baseURL == "" {
		baseURL = "https://data-api.polymarket.com"
	}
	c := &DataClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        logrus.WithField("component", "data_api"),
	}
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return c
}

// GetTrades returns the most recent trades of user, newest first.
func (c *DataClient) GetTrades(ctx context.Context, user string, limit int) ([]DataTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	values := url.Values{}
	values.Set("user", user)
	values.Set("limit", strconv.Itoa(limit))
	values.Set("sortBy", "TIMESTAMP")
	values.Set("sortDirection", "DESC")

	var trades []DataTrade
	if err := c.get(ctx, "/trades", values, &trades); err != nil {
		return nil, fmt.Errorf("get trades for %s: %w", user, err)
	}
	return trades, nil
}

// GetPositions returns the open positions of user.
func (c *DataClient) GetPositions(ctx context.Context, user string) ([]OpenPosition, error) {
	values := url.Values{}
	values.Set("user", user)
	values.Set("sizeThreshold", "0")

	var positions []OpenPosition
	if err := c.get(ctx, "/positions", values, &positions); err != nil {
		return nil, fmt.Errorf("get positions for %s: %w", user, err)
	}
	return positions, nil
}

func (c *DataClient) get(ctx context.Context, path string, values url.Values, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

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
