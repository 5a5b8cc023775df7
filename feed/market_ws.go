package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"polymarket-copybot/api"
	"polymarket-copybot/models"
	"polymarket-copybot/utils"
)

const defaultMarketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// HotMarketSource supplies asset IDs to subscribe to when none are configured.
type HotMarketSource interface {
	HotTokenIDs(ctx context.Context, limit int) ([]string, error)
}

var _ HotMarketSource = (*api.GammaClient)(nil)

// MarketWSConfig configures a MarketWS.
type MarketWSConfig struct {
	URL            string
	AssetIDs       []string
	HotMarkets     int
	Targets        []string
	PingInterval   time.Duration
	ReconnectDelay time.Duration
	PriceTolerance float64
	SizeTolerance  float64
	VerifyLimit    int
	// MaxTradeAge bounds how old a matching Data API trade may be.
	MaxTradeAge time.Duration
}

// LastTradePrice is a market channel trade print. It carries no wallet.
type LastTradePrice struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Market    string      `json:"market"`
	Price     api.Numeric `json:"price"`
	Size      api.Numeric `json:"size"`
	Side      string      `json:"side"`
	Timestamp api.Numeric `json:"timestamp"`
}

// MarketWS listens to the public market channel. Trade prints are only hints:
// each one is matched against the targets' recent Data API trades to learn the
// actor and side, and unmatched prints are dropped.
type MarketWS struct {
	cfg     MarketWSConfig
	trades  TradeSource
	hot     HotMarketSource
	targets utils.AddressSet
	log     *logrus.Entry
	stats   counters
	dialer  *websocket.Dialer
	now     func() time.Time

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewMarketWS creates a market channel feed. hot may be nil when AssetIDs is set.
func NewMarketWS(cfg MarketWSConfig, trades TradeSource, hot HotMarketSource, log *logrus.Entry) *MarketWS {
	if cfg.URL == "" {
		cfg.URL = defaultMarketWSURL
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PriceTolerance <= 0 {
		cfg.PriceTolerance = 0.001
	}
	if cfg.SizeTolerance <= 0 {
		cfg.SizeTolerance = 0.1
	}
	if cfg.VerifyLimit <= 0 {
		cfg.VerifyLimit = 20
	}
	if cfg.MaxTradeAge <= 0 {
		cfg.MaxTradeAge = 2 * time.Minute
	}
	if cfg.HotMarkets <= 0 {
		cfg.HotMarkets = 20
	}
	if log == nil {
		log = logrus.WithField("component", "feed.market_ws")
	}
	return &MarketWS{
		cfg:     cfg,
		trades:  trades,
		hot:     hot,
		targets: utils.NewAddressSet(cfg.Targets),
		log:     log,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		now:     time.Now,
	}
}

func (w *MarketWS) Name() string { return SourceMarketWS }

func (w *MarketWS) Stats() Stats { return w.stats.snapshot() }

// Run connects, subscribes and reads until ctx is cancelled, reconnecting
// after ReconnectDelay on any failure.
func (w *MarketWS) Run(ctx context.Context, out chan<- models.TradeEvent) error {
	assets, err := w.assetIDs(ctx)
	if err != nil {
		return fmt.Errorf("market ws: %w", err)
	}
	w.log.WithField("assets", len(assets)).Info("Market WebSocket starting")

	for {
		err := w.session(ctx, assets, out)
		if ctx.Err() != nil {
			w.log.Info("Market WebSocket stopped")
			return nil
		}
		w.stats.errors.Add(1)
		w.log.WithError(err).WithField("retry_in", w.cfg.ReconnectDelay).Warn("Connection lost, reconnecting")
		if !sleep(ctx, w.cfg.ReconnectDelay) {
			return nil
		}
	}
}

func (w *MarketWS) assetIDs(ctx context.Context) ([]string, error) {
	if len(w.cfg.AssetIDs) > 0 {
		return w.cfg.AssetIDs, nil
	}
	if w.hot == nil {
		return nil, errors.New("no asset ids configured and no hot market source")
	}
	ids, err := w.hot.HotTokenIDs(ctx, w.cfg.HotMarkets)
	if err != nil {
		return nil, fmt.Errorf("load hot markets: %w", err)
	}
	if len(ids) == 0 {
		return nil, errors.New("no hot markets returned")
	}
	return ids, nil
}

func (w *MarketWS) session(ctx context.Context, assets []string, out chan<- models.TradeEvent) error {
	conn, _, err := w.dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
	defer func() {
		w.connMu.Lock()
		w.conn = nil
		w.connMu.Unlock()
		conn.Close()
	}()

	sub := map[string]interface{}{
		"assets_ids": assets,
		"type":       "market",
	}
	if err := w.write(func(c *websocket.Conn) error { return c.WriteJSON(sub) }); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	w.log.WithField("assets", len(assets)).Info("Subscribed to market channel")

	// Closing the connection unblocks ReadMessage on cancel.
	done := make(chan struct{})
	defer close(done)
	go w.pingLoop(ctx, conn, done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		for _, p := range parseMarketMessage(msg) {
			w.handlePrint(ctx, p, out)
		}
	}
}

func (w *MarketWS) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-done:
			return
		case <-ticker.C:
			if err := w.write(func(c *websocket.Conn) error {
				return c.WriteMessage(websocket.TextMessage, []byte("PING"))
			}); err != nil {
				w.log.WithError(err).Debug("Ping failed")
				conn.Close()
				return
			}
		}
	}
}

func (w *MarketWS) write(fn func(*websocket.Conn) error) error {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn == nil {
		return errors.New("not connected")
	}
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return fn(w.conn)
}

// parseMarketMessage extracts last_trade_price prints from a frame, which may
// be a single object or an array. PONG and other event types are ignored.
func parseMarketMessage(msg []byte) []LastTradePrice {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || (msg[0] != '{' && msg[0] != '[') {
		return nil
	}

	var batch []json.RawMessage
	if msg[0] == '[' {
		if err := json.Unmarshal(msg, &batch); err != nil {
			return nil
		}
	} else {
		batch = []json.RawMessage{msg}
	}

	var prints []LastTradePrice
	for _, raw := range batch {
		var p LastTradePrice
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		if p.EventType == "last_trade_price" && p.AssetID != "" {
			prints = append(prints, p)
		}
	}
	return prints
}

func (w *MarketWS) handlePrint(ctx context.Context, p LastTradePrice, out chan<- models.TradeEvent) {
	trade, ok := w.verify(ctx, p)
	if !ok {
		w.stats.dropped.Add(1)
		w.log.WithFields(logrus.Fields{
			"asset": p.AssetID,
			"price": p.Price.Float64(),
			"size":  p.Size.Float64(),
		}).Debug("Trade print not from a target")
		return
	}

	raw := FromDataTrade(trade.DataTrade, trade.wallet)
	raw.Source = SourceMarketWS
	ev, err := Normalize(raw)
	if err != nil {
		w.stats.dropped.Add(1)
		w.log.WithError(err).Debug("Dropped verified print")
		return
	}

	w.log.WithFields(logrus.Fields{
		"event_id": ev.EventID,
		"wallet":   utils.ShortAddress(ev.ActorAddress),
		"side":     ev.Side,
		"price":    ev.Price,
		"size":     ev.Size,
	}).Info("Verified target trade from market channel")
	if err := w.stats.emit(ctx, out, ev); err != nil {
		w.log.WithError(err).Debug("Emit cancelled")
	}
}

type walletTrade struct {
	api.DataTrade
	wallet string
}

// verify looks for a recent trade by any target on the same asset with a
// matching price and size. Trades older than MaxTradeAge, or without a
// timestamp, never match.
func (w *MarketWS) verify(ctx context.Context, p LastTradePrice) (walletTrade, bool) {
	cutoff := w.now().Add(-w.cfg.MaxTradeAge).Unix()
	for _, wallet := range w.targets.List() {
		trades, err := w.trades.GetTrades(ctx, wallet, w.cfg.VerifyLimit)
		if err != nil {
			w.log.WithError(err).WithField("wallet", utils.ShortAddress(wallet)).Debug("Verification lookup failed")
			continue
		}
		for _, t := range trades {
			if t.Timestamp < cutoff {
				continue
			}
			if matchesPrint(t, p, w.cfg.PriceTolerance, w.cfg.SizeTolerance) {
				return walletTrade{DataTrade: t, wallet: wallet}, true
			}
		}
	}
	return walletTrade{}, false
}

func matchesPrint(t api.DataTrade, p LastTradePrice, priceTol, sizeTol float64) bool {
	if t.Asset != p.AssetID || !isTrade(t) {
		return false
	}
	return math.Abs(t.Price.Float64()-p.Price.Float64()) <= priceTol &&
		math.Abs(t.Size.Float64()-p.Size.Float64()) <= sizeTol
}
