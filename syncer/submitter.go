package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"polymarket-copybot/api"
	"polymarket-copybot/models"
	"polymarket-copybot/utils"
)

// Submitter places the order for an accepted decision. On failure the
// returned result still carries the failed status and reason.
type Submitter interface {
	Submit(ctx context.Context, d models.CopyDecision) (models.OrderResult, error)
	Paper() bool
}

// PaperSubmitter simulates every order.
type PaperSubmitter struct {
	log *logrus.Entry
	now func() time.Time
}

// NewPaperSubmitter creates a paper submitter.
func NewPaperSubmitter(log *logrus.Entry) *PaperSubmitter {
	if log == nil {
		log = logrus.WithField("component", "submitter.paper")
	}
	return &PaperSubmitter{log: log, now: time.Now}
}

func (s *PaperSubmitter) Paper() bool { return true }

func (s *PaperSubmitter) Submit(ctx context.Context, d models.CopyDecision) (models.OrderResult, error) {
	res := models.OrderResult{
		EventID:     d.EventID,
		OrderID:     "paper-" + uuid.NewString(),
		Status:      models.OrderStatusSimulated,
		Paper:       true,
		SubmittedAt: s.now().UTC(),
	}
	s.log.WithFields(logrus.Fields{
		"order_id": res.OrderID,
		"market":   d.MarketID,
		"side":     d.Side,
		"size":     d.Size,
		"price":    d.AdjustedPrice,
		"usd":      d.CopyUSD,
	}).Info("[PAPER] Simulated order")
	return res, nil
}

// TokenInfoSource resolves token metadata such as the neg-risk flag.
type TokenInfoSource interface {
	GetTokenInfoByID(ctx context.Context, tokenID string) (*api.GammaTokenInfo, error)
}

var _ TokenInfoSource = (*api.GammaClient)(nil)

// ErrOrderRejected is returned when the exchange answers without success.
var ErrOrderRejected = errors.New("order rejected")

// ClobSubmitter places GTC limit orders on the CLOB.
type ClobSubmitter struct {
	clob   api.ClobClientInterface
	tokens TokenInfoSource
	log    *logrus.Entry
	now    func() time.Time
}

// NewClobSubmitter creates a live submitter. tokens may be nil, in which case
// every market is treated as a regular (non neg-risk) market.
func NewClobSubmitter(clob api.ClobClientInterface, tokens TokenInfoSource, log *logrus.Entry) *ClobSubmitter {
	if log == nil {
		log = logrus.WithField("component", "submitter.clob")
	}
	return &ClobSubmitter{clob: clob, tokens: tokens, log: log, now: time.Now}
}

func (s *ClobSubmitter) Paper() bool { return false }

func (s *ClobSubmitter) Submit(ctx context.Context, d models.CopyDecision) (models.OrderResult, error) {
	res := models.OrderResult{EventID: d.EventID, Status: models.OrderStatusFailed}
	fail := func(err error) (models.OrderResult, error) {
		res.ErrorReason = err.Error()
		res.SubmittedAt = s.now().UTC()
		return res, err
	}

	// A market without a book cannot be traded.
	book, err := s.clob.GetOrderBook(ctx, d.MarketID)
	if err != nil {
		return fail(fmt.Errorf("order book for %s: %w", d.MarketID, err))
	}
	_, avg, filled, err := api.CalculateOptimalFill(book, api.Side(d.Side), d.CopyUSD)
	if err != nil {
		return fail(fmt.Errorf("order book for %s: %w", d.MarketID, err))
	}
	if filled < d.CopyUSD {
		s.log.WithFields(logrus.Fields{
			"market":    d.MarketID,
			"requested": d.CopyUSD,
			"available": filled,
			"avg_price": avg,
		}).Warn("Thin book, order may rest unfilled")
	}

	negRisk := false
	if s.tokens != nil {
		info, err := s.tokens.GetTokenInfoByID(ctx, d.MarketID)
		if err != nil {
			s.log.WithError(err).WithField("market", d.MarketID).Debug("Token info unavailable, assuming regular market")
		} else {
			negRisk = info.NegRisk
		}
	}

	resp, err := s.clob.PlaceLimitOrder(ctx, d.MarketID, api.Side(d.Side), d.Size, d.AdjustedPrice, negRisk)
	if err != nil {
		return fail(fmt.Errorf("place order: %w", err))
	}
	if !resp.Success {
		return fail(fmt.Errorf("%w: %s", ErrOrderRejected, resp.ErrorMsg))
	}

	res.OrderID = resp.OrderID
	res.Status = models.OrderStatusPlaced
	res.SubmittedAt = s.now().UTC()
	s.log.WithFields(logrus.Fields{
		"order_id": res.OrderID,
		"market":   d.MarketID,
		"side":     d.Side,
		"size":     d.Size,
		"price":    d.AdjustedPrice,
		"status":   resp.Status,
		"actor":    utils.ShortAddress(d.Actor),
	}).Info("Order placed")
	return res, nil
}
