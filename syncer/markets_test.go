package syncer

import (
	"context"
	"errors"
	"testing"

	"polymarket-copybot/api"
	"polymarket-copybot/storage"
)

type mapTitleCache struct {
	titles map[string]string
	sets   int
}

func (c *mapTitleCache) GetMarketTitle(ctx context.Context, tokenID string) (string, error) {
	title, ok := c.titles[tokenID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return title, nil
}

func (c *mapTitleCache) SetMarketTitle(ctx context.Context, tokenID, title string) error {
	c.titles[tokenID] = title
	c.sets++
	return nil
}

func TestMarketTitles(t *testing.T) {
	tokens := &mockTokens{infos: map[string]*api.GammaTokenInfo{
		"tok1": {TokenID: "tok1", Title: "Will it rain?", Outcome: "Yes"},
		"tok2": {TokenID: "tok2", Title: "Untitled outcome"},
	}}
	cache := &mapTitleCache{titles: map[string]string{"cached": "From cache"}}
	m := NewMarketTitles(tokens, cache, nil)
	ctx := context.Background()

	if got := m.Title(ctx, "tok1"); got != "Will it rain? [Yes]" {
		t.Errorf("Title(tok1) = %q", got)
	}
	if got := m.Title(ctx, "tok2"); got != "Untitled outcome" {
		t.Errorf("Title(tok2) = %q", got)
	}
	if cache.titles["tok1"] != "Will it rain? [Yes]" || cache.sets != 2 {
		t.Errorf("cache = %v", cache.titles)
	}

	// Second lookup is served locally.
	m.Title(ctx, "tok1")
	if tokens.calls != 2 {
		t.Errorf("token lookups = %d, want 2", tokens.calls)
	}

	if got := m.Title(ctx, "cached"); got != "From cache" {
		t.Errorf("Title(cached) = %q", got)
	}
	if tokens.calls != 2 {
		t.Error("cache hit should not query tokens")
	}

	if got := m.Title(ctx, "unknown"); got != "" {
		t.Errorf("Title(unknown) = %q", got)
	}
}

func TestMarketTitles_NoSources(t *testing.T) {
	m := NewMarketTitles(nil, nil, nil)
	if got := m.Title(context.Background(), "tok1"); got != "" {
		t.Errorf("Title() = %q", got)
	}

	failing := NewMarketTitles(&mockTokens{err: errors.New("down")}, nil, nil)
	if got := failing.Title(context.Background(), "tok1"); got != "" {
		t.Errorf("Title() = %q", got)
	}
}
