package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrNoLiquidity is returned when the book has no levels on the side we need.
var ErrNoLiquidity = errors.New("no liquidity in order book")

const (
	ctfExchange        = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskCTFExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	zeroAddress        = "0x0000000000000000000000000000000000000000"
)

var defaultTickSize = decimal.RequireFromString("0.01")

// ClobClient handles CLOB API interactions for trading
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	limiter       *rate.Limiter
	auth          *Auth
	chainID       int64
	funder        common.Address
	signatureType int // 0=EOA, 1=Magic/Email, 2=Browser proxy
	log           *logrus.Entry

	mu       sync.RWMutex
	apiCreds *APICreds
}

// APICreds holds API credentials for CLOB
type APICreds struct {
	APIKey        string `json:"apiKey"`
	APISecret     string `json:"secret"`
	APIPassphrase string `json:"passphrase"`
}

// Valid reports whether all three parts are set.
func (c *APICreds) Valid() bool {
	return c != nil && c.APIKey != "" && c.APISecret != "" && c.APIPassphrase != ""
}

// OrderBook represents the order book for a token
type OrderBook struct {
	Market    string           `json:"market"`
	AssetID   string           `json:"asset_id"`
	Hash      string           `json:"hash"`
	Timestamp string           `json:"timestamp"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// OrderBookLevel represents a single price level
type OrderBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderType represents the type of order
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled
	OrderTypeGTD OrderType = "GTD" // Good-Til-Date
)

// Side represents buy or sell
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order represents a signed order
type Order struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
	SideInt       int    `json:"-"` // Internal use for EIP-712 signing
}

// OrderRequest is the payload for placing an order
type OrderRequest struct {
	Order     Order     `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

// OrderResponse is the response from placing an order
type OrderResponse struct {
	Success     bool     `json:"success"`
	ErrorMsg    string   `json:"errorMsg"`
	OrderID     string   `json:"orderId"`
	OrderHashes []string `json:"orderHashes"`
	Status      string   `json:"status"` // matched, live, delayed, unmatched
}

// ClobOption customizes a ClobClient.
type ClobOption func(*ClobClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClobOption {
	return func(c *ClobClient) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(rps float64) ClobOption {
	return func(c *ClobClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
		} else {
			c.limiter = nil
		}
	}
}

// WithAPICreds sets pre-provisioned L2 credentials so DeriveAPICreds is skipped.
func WithAPICreds(creds *APICreds) ClobOption {
	return func(c *ClobClient) {
		if creds.Valid() {
			c.apiCreds = creds
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) ClobOption {
	return func(c *ClobClient) { c.log = log }
}

// NewClobClient creates a new CLOB API client. auth may be nil for read-only use.
func NewClobClient(baseURL string, auth *Auth, opts ...ClobOption) *ClobClient {
	if baseURL == "" {
		baseURL = "https://clob.polymarket.com"
	}

	client := &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth:          auth,
		chainID:       137, // Polygon mainnet
		signatureType: 0,
		log:           logrus.WithField("component", "clob"),
	}
	if auth != nil {
		client.funder = auth.GetAddress()
		client.chainID = auth.chainID
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// SetFunder sets the funder address for Magic/Email wallets
// The funder is the Polymarket profile address where USDC is held
func (c *ClobClient) SetFunder(funderAddress string) {
	c.funder = common.HexToAddress(funderAddress)
}

// SetSignatureType sets the signature type (0=EOA, 1=Magic/Email, 2=Browser proxy)
func (c *ClobClient) SetSignatureType(sigType int) {
	c.signatureType = sigType
}

func (c *ClobClient) creds() *APICreds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiCreds
}

func (c *ClobClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// DeriveAPICreds creates API credentials, falling back to deriving existing ones.
func (c *ClobClient) DeriveAPICreds(ctx context.Context) (*APICreds, error) {
	if c.auth == nil {
		return nil, errors.New("clob: no signer configured")
	}

	creds, err := c.requestAPICreds(ctx, http.MethodPost, "/auth/api-key")
	if err == nil && creds.Valid() {
		c.mu.Lock()
		c.apiCreds = creds
		c.mu.Unlock()
		c.log.Info("Created new API credentials")
		return creds, nil
	}

	c.log.WithError(err).Info("Creating creds failed, trying to derive existing")
	creds, err = c.requestAPICreds(ctx, http.MethodGet, "/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("failed to derive API creds: %w", err)
	}
	if !creds.Valid() {
		return nil, errors.New("failed to derive API creds: incomplete response")
	}

	c.mu.Lock()
	c.apiCreds = creds
	c.mu.Unlock()
	return creds, nil
}

func (c *ClobClient) requestAPICreds(ctx context.Context, method, path string) (*APICreds, error) {
	headers, err := c.auth.SignRequest()
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	var creds APICreds
	if err := c.do(ctx, req, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (c *ClobClient) ensureCreds(ctx context.Context) (*APICreds, error) {
	if creds := c.creds(); creds != nil {
		return creds, nil
	}
	creds, err := c.DeriveAPICreds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get API creds: %w", err)
	}
	return creds, nil
}

// do sends req and decodes a 200 JSON body into out.
func (c *ClobClient) do(ctx context.Context, req *http.Request, out interface{}) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{Method: req.Method, Path: req.URL.Path, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// HTTPError is a non-200 response from a Polymarket API.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s failed: %d %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// GetOrderBook fetches the order book for a token, best levels first.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	values := url.Values{}
	values.Set("token_id", tokenID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/book?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var book OrderBook
	if err := c.do(ctx, req, &book); err != nil {
		return nil, fmt.Errorf("get order book: %w", err)
	}

	sort.Slice(book.Asks, func(i, j int) bool {
		return parsePrice(book.Asks[i].Price) < parsePrice(book.Asks[j].Price)
	})
	sort.Slice(book.Bids, func(i, j int) bool {
		return parsePrice(book.Bids[i].Price) > parsePrice(book.Bids[j].Price)
	})

	return &book, nil
}

func parsePrice(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// GetTickSize returns the minimum tick for a token, 0.01 if unknown.
func (c *ClobClient) GetTickSize(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	values := url.Values{}
	values.Set("token_id", tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tick-size?"+values.Encode(), nil)
	if err != nil {
		return defaultTickSize, err
	}

	var out struct {
		MinimumTickSize Numeric `json:"minimum_tick_size"`
	}
	if err := c.do(ctx, req, &out); err != nil {
		return defaultTickSize, fmt.Errorf("get tick size: %w", err)
	}
	if out.MinimumTickSize <= 0 {
		return defaultTickSize, nil
	}
	return decimal.NewFromFloat(out.MinimumTickSize.Float64()), nil
}

// PlaceLimitOrder places a GTC limit order for size shares at price.
func (c *ClobClient) PlaceLimitOrder(ctx context.Context, tokenID string, side Side, size float64, price float64, negRisk bool) (*OrderResponse, error) {
	return c.PlaceOrder(ctx, tokenID, side, size, price, negRisk, OrderTypeGTC)
}

// PlaceOrder signs and posts an order of the given type.
func (c *ClobClient) PlaceOrder(ctx context.Context, tokenID string, side Side, size, price float64, negRisk bool, orderType OrderType) (*OrderResponse, error) {
	if c.auth == nil {
		return nil, errors.New("clob: no signer configured")
	}
	creds, err := c.ensureCreds(ctx)
	if err != nil {
		return nil, err
	}

	tick, err := c.GetTickSize(ctx, tokenID)
	if err != nil {
		c.log.WithError(err).WithField("token_id", tokenID).Debug("Tick size lookup failed, using default")
	}

	order, err := c.createSignedOrder(tokenID, side, size, price, tick, negRisk)
	if err != nil {
		return nil, fmt.Errorf("failed to create signed order: %w", err)
	}

	return c.postOrder(ctx, creds, order, orderType)
}

// roundOrder snaps price to the tick inside (0,1) and size to 2 decimals.
func roundOrder(size, price float64, tick decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if !tick.IsPositive() {
		tick = defaultTickSize
	}
	p := decimal.NewFromFloat(price).Div(tick).Round(0).Mul(tick)
	maxPrice := decimal.NewFromInt(1).Sub(tick)
	if p.LessThan(tick) {
		p = tick
	}
	if p.GreaterThan(maxPrice) {
		p = maxPrice
	}

	s := decimal.NewFromFloat(size).Round(2)
	minSize := decimal.RequireFromString("0.01")
	if s.LessThan(minSize) {
		s = minSize
	}
	return s, p
}

// toBaseUnits converts a 6-decimal token or USDC amount to an integer.
func toBaseUnits(d decimal.Decimal) *big.Int {
	return d.Shift(6).Truncate(0).BigInt()
}

func (c *ClobClient) createSignedOrder(tokenID string, side Side, size, price float64, tick decimal.Decimal, negRisk bool) (*Order, error) {
	s, p := roundOrder(size, price, tick)

	c.log.WithFields(logrus.Fields{
		"token_id": tokenID,
		"side":     side,
		"price":    p.String(),
		"size":     s.String(),
	}).Debug("Rounded order")

	// MakerAmount is what we give, TakerAmount what we get.
	sizeInt := toBaseUnits(s)
	usdcInt := toBaseUnits(s.Mul(p))

	order := &Order{
		Salt:          generateSalt(),
		Maker:         c.funder.Hex(),
		Signer:        c.auth.GetAddress().Hex(),
		Taker:         zeroAddress,
		TokenID:       tokenID,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: c.signatureType,
	}

	switch side {
	case SideBuy:
		order.MakerAmount = usdcInt.String()
		order.TakerAmount = sizeInt.String()
		order.Side = string(SideBuy)
		order.SideInt = 0
	case SideSell:
		order.MakerAmount = sizeInt.String()
		order.TakerAmount = usdcInt.String()
		order.Side = string(SideSell)
		order.SideInt = 1
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}

	signature, err := c.signOrder(order, negRisk)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	order.Signature = signature

	return order, nil
}

func (c *ClobClient) signOrder(order *Order, negRisk bool) (string, error) {
	verifyingContract := ctfExchange
	if negRisk {
		verifyingContract = negRiskCTFExchange
	}

	message := map[string]interface{}{
		"salt":          big.NewInt(order.Salt),
		"maker":         order.Maker,
		"signer":        order.Signer,
		"taker":         order.Taker,
		"tokenId":       bigFromString(order.TokenID),
		"makerAmount":   bigFromString(order.MakerAmount),
		"takerAmount":   bigFromString(order.TakerAmount),
		"expiration":    bigFromString(order.Expiration),
		"nonce":         bigFromString(order.Nonce),
		"feeRateBps":    bigFromString(order.FeeRateBps),
		"side":          big.NewInt(int64(order.SideInt)),
		"signatureType": big.NewInt(int64(order.SignatureType)),
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(c.chainID),
			VerifyingContract: verifyingContract,
		},
		Message: message,
	}

	return c.auth.signTypedData(typedData)
}

func bigFromString(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

func (c *ClobClient) postOrder(ctx context.Context, creds *APICreds, order *Order, orderType OrderType) (*OrderResponse, error) {
	payload := OrderRequest{
		Order:     *order,
		Owner:     creds.APIKey, // Owner is the API key
		OrderType: orderType,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	c.addL2Headers(req, creds, body)

	var orderResp OrderResponse
	if err := c.do(ctx, req, &orderResp); err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"order_id": orderResp.OrderID,
		"status":   orderResp.Status,
		"success":  orderResp.Success,
	}).Debug("Order response")

	return &orderResp, nil
}

// addL2Headers signs timestamp + method + path + body with the API secret.
func (c *ClobClient) addL2Headers(req *http.Request, creds *APICreds, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	message := timestamp + req.Method + req.URL.Path + string(body)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_ADDRESS", c.auth.GetAddress().Hex())
	req.Header.Set("POLY_API_KEY", creds.APIKey)
	req.Header.Set("POLY_PASSPHRASE", creds.APIPassphrase)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_SIGNATURE", hmacSign(message, creds.APISecret))
}

func hmacSign(message string, secret string) string {
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(secret)
		if err != nil {
			key = []byte(secret)
		}
	}

	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

func generateSalt() int64 {
	return time.Now().UnixNano() % 1000000000
}

// CalculateOptimalFill walks the book for amountUSDC and reports the fill.
// It returns ErrNoLiquidity when the side is empty.
func CalculateOptimalFill(book *OrderBook, side Side, amountUSDC float64) (totalSize float64, avgPrice float64, filledUSDC float64, err error) {
	levels := book.Bids
	if side == SideBuy {
		levels = book.Asks
	}
	if len(levels) == 0 {
		return 0, 0, 0, fmt.Errorf("%w for %s side", ErrNoLiquidity, side)
	}

	remainingUSDC := amountUSDC
	totalCost := 0.0

	for _, level := range levels {
		price := parsePrice(level.Price)
		size := parsePrice(level.Size)
		if price <= 0 {
			continue
		}

		levelValue := size * price
		if levelValue <= remainingUSDC {
			totalSize += size
			totalCost += levelValue
			remainingUSDC -= levelValue
		} else {
			totalSize += remainingUSDC / price
			totalCost += remainingUSDC
			remainingUSDC = 0
		}

		if remainingUSDC <= 0 {
			break
		}
	}

	if totalSize > 0 {
		avgPrice = totalCost / totalSize
	}
	filledUSDC = amountUSDC - remainingUSDC
	return totalSize, avgPrice, filledUSDC, nil
}
