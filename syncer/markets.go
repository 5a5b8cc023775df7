package syncer

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"polymarket-copybot/storage"
)

// TitleCache is a shared market title cache.
type TitleCache interface {
	GetMarketTitle(ctx context.Context, tokenID string) (string, error)
	SetMarketTitle(ctx context.Context, tokenID, title string) error
}

var _ TitleCache = (*storage.RedisCache)(nil)

// MarketTitles resolves token ids to human-readable titles for logs. Lookups
// go local map, then the shared cache, then the token info source.
type MarketTitles struct {
	tokens TokenInfoSource
	cache  TitleCache
	log    *logrus.Entry

	mu    sync.RWMutex
	local map[string]string
}

// NewMarketTitles creates a resolver. cache may be nil.
func NewMarketTitles(tokens TokenInfoSource, cache TitleCache, log *logrus.Entry) *MarketTitles {
	if log == nil {
		log = logrus.WithField("component", "markets")
	}
	return &MarketTitles{tokens: tokens, cache: cache, log: log, local: make(map[string]string)}
}

// Title returns the market title for tokenID, or "" if it cannot be resolved.
func (m *MarketTitles) Title(ctx context.Context, tokenID string) string {
	m.mu.RLock()
	title, ok := m.local[tokenID]
	m.mu.RUnlock()
	if ok {
		return title
	}

	if m.cache != nil {
		if title, err := m.cache.GetMarketTitle(ctx, tokenID); err == nil && title != "" {
			m.remember(tokenID, title)
			return title
		}
	}

	if m.tokens == nil {
		return ""
	}
	info, err := m.tokens.GetTokenInfoByID(ctx, tokenID)
	if err != nil {
		m.log.WithError(err).WithField("token", tokenID).Debug("Title lookup failed")
		return ""
	}
	title = info.Title
	if info.Outcome != "" {
		title += " [" + info.Outcome + "]"
	}
	m.remember(tokenID, title)
	if m.cache != nil {
		if err := m.cache.SetMarketTitle(ctx, tokenID, title); err != nil {
			m.log.WithError(err).Debug("Title cache write failed")
		}
	}
	return title
}

func (m *MarketTitles) remember(tokenID, title string) {
	m.mu.Lock()
	m.local[tokenID] = title
	m.mu.Unlock()
}
