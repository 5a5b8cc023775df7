package feed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"polymarket-copybot/api"
	"polymarket-copybot/models"
	"polymarket-copybot/utils"
)

// Exchange contracts that emit OrderFilled on Polygon.
var (
	CTFExchangeAddress     = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	NegRiskExchangeAddress = common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a")

	OrderFilledTopic = crypto.Keccak256Hash([]byte("OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256)"))
)

var errShortLog = errors.New("OrderFilled log too short")

// LogFilterer is the subset of ethclient.Client the chain poller needs.
type LogFilterer interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

var _ LogFilterer = (*ethclient.Client)(nil)

// OrderFill is a decoded OrderFilled log.
type OrderFill struct {
	OrderHash    common.Hash
	Maker        common.Address
	Taker        common.Address
	MakerAssetID *big.Int
	TakerAssetID *big.Int
	MakerAmount  *big.Int
	TakerAmount  *big.Int
	Fee          *big.Int
	TxHash       common.Hash
	LogIndex     uint
	BlockNumber  uint64
}

// DecodeOrderFilled decodes topics (orderHash, maker, taker) and the five
// uint256 data words.
func DecodeOrderFilled(l types.Log) (OrderFill, error) {
	if len(l.Topics) < 4 || l.Topics[0] != OrderFilledTopic {
		return OrderFill{}, fmt.Errorf("%w: topics", errShortLog)
	}
	if len(l.Data) < 5*32 {
		return OrderFill{}, fmt.Errorf("%w: %d data bytes", errShortLog, len(l.Data))
	}
	word := func(i int) *big.Int {
		return new(big.Int).SetBytes(l.Data[i*32 : (i+1)*32])
	}
	return OrderFill{
		OrderHash:    l.Topics[1],
		Maker:        common.BytesToAddress(l.Topics[2].Bytes()),
		Taker:        common.BytesToAddress(l.Topics[3].Bytes()),
		MakerAssetID: word(0),
		TakerAssetID: word(1),
		MakerAmount:  word(2),
		TakerAmount:  word(3),
		Fee:          word(4),
		TxHash:       l.TxHash,
		LogIndex:     l.Index,
		BlockNumber:  l.BlockNumber,
	}, nil
}

// Trade converts the fill into a RawTrade from actor's point of view. A zero
// maker asset means the maker paid USDC, so the maker bought and the taker sold.
// Both USDC and outcome tokens use 6 decimals.
func (f OrderFill) Trade(actor common.Address) (RawTrade, error) {
	var maker bool
	switch actor {
	case f.Maker:
		maker = true
	case f.Taker:
	default:
		return RawTrade{}, fmt.Errorf("%s is not a party to fill %s", actor.Hex(), f.TxHash.Hex())
	}
	if f.MakerAmount.Sign() == 0 || f.TakerAmount.Sign() == 0 {
		return RawTrade{}, fmt.Errorf("%w: zero fill amount", models.ErrInvalidEvent)
	}

	makerAmt := decimal.NewFromBigInt(f.MakerAmount, -6)
	takerAmt := decimal.NewFromBigInt(f.TakerAmount, -6)

	var asset *big.Int
	var side models.Side
	var price, size decimal.Decimal
	if f.MakerAssetID.Sign() == 0 {
		asset = f.TakerAssetID
		price = makerAmt.Div(takerAmt)
		size = takerAmt
		side = models.SideSell
		if maker {
			side = models.SideBuy
		}
	} else {
		asset = f.MakerAssetID
		price = takerAmt.Div(makerAmt)
		size = makerAmt
		side = models.SideBuy
		if maker {
			side = models.SideSell
		}
	}

	wallet := utils.NormalizeAddress(actor.Hex())
	p, _ := price.Float64()
	s, _ := size.Float64()
	return RawTrade{
		EventID: fmt.Sprintf("%s_%s_%d", wallet, strings.ToLower(f.TxHash.Hex()), f.LogIndex),
		TxHash:  f.TxHash.Hex(),
		Asset:   asset.String(),
		Side:    string(side),
		Price:   api.Numeric(p),
		Size:    api.Numeric(s),
		Actor:   wallet,
		Source:  SourceChain,
	}, nil
}

// ChainPollerConfig configures a ChainPoller.
type ChainPollerConfig struct {
	Targets       []string
	Interval      time.Duration
	MaxBlockRange uint64
	Confirmations uint64
	Exchanges     []common.Address
}

// ChainPoller scans confirmed blocks for OrderFilled logs where a target is
// maker or taker.
type ChainPoller struct {
	client  LogFilterer
	cfg     ChainPollerConfig
	targets map[common.Address]bool
	topics  []common.Hash
	log     *logrus.Entry
	stats   counters
	backoff *Backoff

	lastBlock uint64
}

// NewChainPoller creates a poller. Scanning starts at the confirmed head, so
// fills before startup are never emitted.
func NewChainPoller(client LogFilterer, cfg ChainPollerConfig, log *logrus.Entry) *ChainPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 4 * time.Second
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 500
	}
	if len(cfg.Exchanges) == 0 {
		cfg.Exchanges = []common.Address{CTFExchangeAddress, NegRiskExchangeAddress}
	}
	if log == nil {
		log = logrus.WithField("component", "feed.chain")
	}

	targets := make(map[common.Address]bool)
	var topics []common.Hash
	for _, t := range utils.NewAddressSet(cfg.Targets).List() {
		addr := common.HexToAddress(t)
		targets[addr] = true
		topics = append(topics, common.BytesToHash(addr.Bytes()))
	}

	return &ChainPoller{
		client:  client,
		cfg:     cfg,
		targets: targets,
		topics:  topics,
		log:     log,
		backoff: DefaultBackoff(),
	}
}

func (c *ChainPoller) Name() string { return SourceChain }

func (c *ChainPoller) Stats() Stats { return c.stats.snapshot() }

// Run polls for new blocks until ctx is cancelled.
func (c *ChainPoller) Run(ctx context.Context, out chan<- models.TradeEvent) error {
	c.log.WithFields(logrus.Fields{
		"targets":       len(c.targets),
		"confirmations": c.cfg.Confirmations,
	}).Info("Chain poller started")

	for {
		delay := c.cfg.Interval
		if err := c.PollOnce(ctx, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.stats.errors.Add(1)
			delay = c.backoff.Next()
			c.log.WithError(err).WithField("retry_in", delay).Warn("Chain poll failed")
		} else {
			c.backoff.Reset()
		}
		if !sleep(ctx, delay) {
			c.log.Info("Chain poller stopped")
			return nil
		}
	}
}

// PollOnce scans from the last processed block to the confirmed head. The
// cursor only advances past windows that were fully processed.
func (c *ChainPoller) PollOnce(ctx context.Context, out chan<- models.TradeEvent) error {
	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	if head < c.cfg.Confirmations {
		return nil
	}
	head -= c.cfg.Confirmations

	if c.lastBlock == 0 {
		c.lastBlock = head
		c.log.WithField("block", head).Info("Chain cursor initialised")
		return nil
	}

	for from := c.lastBlock + 1; from <= head; {
		to := from + c.cfg.MaxBlockRange - 1
		if to > head {
			to = head
		}
		fills, err := c.scan(ctx, from, to)
		if err != nil {
			return fmt.Errorf("scan %d-%d: %w", from, to, err)
		}
		for _, f := range fills {
			if err := c.emitFill(ctx, f, out); err != nil {
				return err
			}
		}
		c.lastBlock = to
		from = to + 1
	}
	return nil
}

// scan queries fills with a target as maker, then as taker, and returns them
// in block and log order without duplicates.
func (c *ChainPoller) scan(ctx context.Context, from, to uint64) ([]OrderFill, error) {
	queries := []ethereum.FilterQuery{
		{Topics: [][]common.Hash{{OrderFilledTopic}, nil, c.topics}},
		{Topics: [][]common.Hash{{OrderFilledTopic}, nil, nil, c.topics}},
	}

	seen := make(map[string]bool)
	var fills []OrderFill
	for _, q := range queries {
		q.Addresses = c.cfg.Exchanges
		q.FromBlock = new(big.Int).SetUint64(from)
		q.ToBlock = new(big.Int).SetUint64(to)

		logs, err := c.client.FilterLogs(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, l := range logs {
			if l.Removed {
				continue
			}
			key := fmt.Sprintf("%s:%d", l.TxHash.Hex(), l.Index)
			if seen[key] {
				continue
			}
			f, err := DecodeOrderFilled(l)
			if err != nil {
				c.stats.dropped.Add(1)
				c.log.WithError(err).WithField("tx", l.TxHash.Hex()).Debug("Skipped log")
				continue
			}
			seen[key] = true
			fills = append(fills, f)
		}
	}

	sort.Slice(fills, func(i, j int) bool {
		if fills[i].BlockNumber != fills[j].BlockNumber {
			return fills[i].BlockNumber < fills[j].BlockNumber
		}
		return fills[i].LogIndex < fills[j].LogIndex
	})
	return fills, nil
}

func (c *ChainPoller) emitFill(ctx context.Context, f OrderFill, out chan<- models.TradeEvent) error {
	for _, actor := range []common.Address{f.Maker, f.Taker} {
		if !c.targets[actor] {
			continue
		}
		raw, err := f.Trade(actor)
		if err != nil {
			c.stats.dropped.Add(1)
			c.log.WithError(err).Debug("Skipped fill")
			continue
		}
		ev, err := Normalize(raw)
		if err != nil {
			c.stats.dropped.Add(1)
			c.log.WithError(err).Debug("Skipped fill")
			continue
		}
		c.log.WithFields(logrus.Fields{
			"event_id": ev.EventID,
			"wallet":   utils.ShortAddress(ev.ActorAddress),
			"side":     ev.Side,
			"price":    ev.Price,
			"size":     ev.Size,
			"block":    f.BlockNumber,
		}).Info("Target fill detected on chain")
		if err := c.stats.emit(ctx, out, ev); err != nil {
			return err
		}
	}
	return nil
}
