package main

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	"polymarket-copybot/api"
	"polymarket-copybot/config"
	"polymarket-copybot/feed"
)

func TestBuildSources(t *testing.T) {
	cfg := config.Default()
	cfg.Targets = []string{"0x1111111111111111111111111111111111111111"}
	cfg.Feeds.MarketWS.Enabled = true
	cfg.Feeds.Chain.Enabled = false

	sources, cleanup, err := buildSources(context.Background(), cfg,
		api.NewDataClient("http://localhost", 0), api.NewGammaClient("http://localhost"), logrus.New())
	if err != nil {
		t.Fatalf("buildSources() error: %v", err)
	}
	defer cleanup()

	var names []string
	for _, s := range sources {
		names = append(names, s.Name())
	}
	if len(names) != 2 || names[0] != feed.SourceDataAPI || names[1] != feed.SourceMarketWS {
		t.Errorf("sources = %v", names)
	}
}

func TestBuildSubmitter_Paper(t *testing.T) {
	cfg := config.Default()
	sub, err := buildSubmitter(context.Background(), cfg, nil, logrus.New())
	if err != nil {
		t.Fatalf("buildSubmitter() error: %v", err)
	}
	if !sub.Paper() {
		t.Error("expected paper submitter by default")
	}
}

func TestBuildSubmitter_LiveNeedsKey(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.PaperMode = false
	cfg.Polymarket.PrivateKey = "not-a-key"
	if _, err := buildSubmitter(context.Background(), cfg, nil, logrus.New()); err == nil {
		t.Error("expected error for bad private key")
	}
}

func TestShorten(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"1234567890", 10, "1234567890"},
		{"12345678901", 10, "1234567..."},
	}
	for _, tt := range tests {
		if got := shorten(tt.in, tt.n); got != tt.want {
			t.Errorf("shorten(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
