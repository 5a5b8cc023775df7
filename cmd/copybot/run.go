package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"polymarket-copybot/api"
	"polymarket-copybot/config"
	"polymarket-copybot/engine"
	"polymarket-copybot/feed"
	"polymarket-copybot/handlers"
	"polymarket-copybot/logging"
	"polymarket-copybot/service"
	"polymarket-copybot/storage"
	"polymarket-copybot/syncer"
)

func newRunCmd() *cobra.Command {
	var paper, live bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the feeds, the copy engine and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if paper && live {
				return fmt.Errorf("--paper and --live are mutually exclusive")
			}
			if paper {
				cfg.Engine.PaperMode = true
			}
			if live {
				cfg.Engine.PaperMode = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, closer, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBot(ctx, cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&paper, "paper", false, "force paper mode")
	cmd.Flags().BoolVar(&live, "live", false, "force live trading")
	return cmd
}

func runBot(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	log := logging.Component(logger, "main")

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	defer store.Close()

	rdb, err := storage.NewRedisClient(ctx, cfg.Storage.Redis)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, running without metrics flush and title cache")
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	eng, err := engine.New(cfg.EngineSettings(), engine.WithLogger(logging.Component(logger, "engine")))
	if err != nil {
		return err
	}

	dataClient := api.NewDataClient(cfg.Polymarket.DataURL, cfg.Polymarket.RateLimitRPS)
	gamma := api.NewGammaClient(cfg.Polymarket.GammaURL)

	sources, closeSources, err := buildSources(ctx, cfg, dataClient, gamma, logger)
	if err != nil {
		return err
	}
	defer closeSources()

	submitter, err := buildSubmitter(ctx, cfg, gamma, logger)
	if err != nil {
		return err
	}

	var titleCache syncer.TitleCache
	if rdb != nil {
		titleCache = storage.NewRedisCache(rdb, 0)
	}
	titles := syncer.NewMarketTitles(gamma, titleCache, logging.Component(logger, "markets"))
	risk := syncer.NewRiskGuard(cfg.Risk.MaxDailyLossUSD, logging.Component(logger, "risk"))

	opts := []syncer.PipelineOption{
		syncer.WithSources(sources...),
		syncer.WithStore(store),
		syncer.WithRiskGuard(risk),
		syncer.WithMarketTitles(titles),
		syncer.WithPipelineLogger(logging.Component(logger, "pipeline")),
	}
	if rdb != nil {
		opts = append(opts, syncer.WithMetricsStore(syncer.NewMetricsStore(rdb)))
	}
	pipeline := syncer.NewPipeline(eng, submitter, syncer.PipelineConfig{
		Targets:               cfg.Targets,
		QueueSize:             cfg.Feeds.QueueSize,
		RevertOnSubmitFailure: cfg.Engine.RevertOnSubmitFailure,
		MetricsFlushInterval:  cfg.Metrics.FlushInterval,
	}, opts...)

	if cfg.Engine.RestoreOnStart {
		if err := pipeline.Restore(ctx); err != nil {
			return fmt.Errorf("failed to restore engine state: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"targets":    len(cfg.Targets),
		"paper":      cfg.Engine.PaperMode,
		"multiplier": cfg.Engine.Multiplier,
		"min_usd":    cfg.Engine.MinUSD,
		"max_usd":    cfg.Engine.MaxUSD,
		"max_pos":    cfg.Engine.MaxPosition,
		"storage":    cfg.Storage.Driver,
	}).Info("Copybot starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeline.Run(gctx) })

	if cfg.Server.Enabled {
		gin.SetMode(gin.ReleaseMode)
		svc := service.NewService(cfg, eng, store,
			service.WithMetrics(pipeline),
			service.WithRiskGuard(risk),
			service.WithTitles(titles),
			service.WithLogger(logging.Component(logger, "service")),
		)
		httpLog := logging.Component(logger, "http")
		srv := handlers.NewServer(cfg.Server, handlers.NewRouter(cfg, svc, httpLog), httpLog)
		g.Go(func() error { return srv.Run(gctx) })
	}

	err = g.Wait()
	log.Info("Copybot stopped")
	return err
}

func buildSources(ctx context.Context, cfg *config.Config, data *api.DataClient, gamma *api.GammaClient, logger *logrus.Logger) ([]feed.Source, func(), error) {
	var sources []feed.Source
	cleanup := func() {}

	if cfg.Feeds.DataAPI.Enabled {
		sources = append(sources, feed.NewDataAPIPoller(data, feed.DataAPIPollerConfig{
			Targets:         cfg.Targets,
			Interval:        cfg.Feeds.PollInterval,
			TradeLimit:      cfg.Feeds.DataAPI.TradeLimit,
			DetectPositions: cfg.Feeds.DataAPI.DetectPositions,
		}, logging.Component(logger, "feed.data_api")))
	}

	if cfg.Feeds.MarketWS.Enabled {
		ws := cfg.Feeds.MarketWS
		sources = append(sources, feed.NewMarketWS(feed.MarketWSConfig{
			URL:            ws.URL,
			AssetIDs:       ws.AssetIDs,
			HotMarkets:     ws.HotMarkets,
			Targets:        cfg.Targets,
			PingInterval:   ws.PingInterval,
			ReconnectDelay: ws.ReconnectDelay,
			PriceTolerance: ws.PriceTolerance,
			SizeTolerance:  ws.SizeTolerance,
			MaxTradeAge:    ws.MaxTradeAge,
		}, data, gamma, logging.Component(logger, "feed.market_ws")))
	}

	if cfg.Feeds.Chain.Enabled {
		client, err := ethclient.DialContext(ctx, cfg.Feeds.Chain.RPCURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to connect to %s: %w", cfg.Feeds.Chain.RPCURL, err)
		}
		cleanup = client.Close
		sources = append(sources, feed.NewChainPoller(client, feed.ChainPollerConfig{
			Targets:       cfg.Targets,
			Interval:      cfg.Feeds.Chain.PollInterval,
			MaxBlockRange: cfg.Feeds.Chain.MaxBlockRange,
			Confirmations: cfg.Feeds.Chain.Confirmations,
		}, logging.Component(logger, "feed.chain")))
	}

	return sources, cleanup, nil
}

func buildSubmitter(ctx context.Context, cfg *config.Config, gamma *api.GammaClient, logger *logrus.Logger) (syncer.Submitter, error) {
	if cfg.Engine.PaperMode {
		return syncer.NewPaperSubmitter(logging.Component(logger, "submitter.paper")), nil
	}

	auth, err := api.NewAuth(cfg.Polymarket.PrivateKey, cfg.Polymarket.ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to load signer: %w", err)
	}
	clob := api.NewClobClient(cfg.Polymarket.ClobURL, auth,
		api.WithRateLimit(cfg.Polymarket.RateLimitRPS),
		api.WithLogger(logging.Component(logger, "clob")),
		api.WithAPICreds(&api.APICreds{
			APIKey:        cfg.Polymarket.APIKey,
			APISecret:     cfg.Polymarket.APISecret,
			APIPassphrase: cfg.Polymarket.APIPassphrase,
		}),
	)
	if cfg.Polymarket.Funder != "" {
		clob.SetFunder(cfg.Polymarket.Funder)
	}
	clob.SetSignatureType(cfg.Polymarket.SignatureType)

	if cfg.Polymarket.APIKey == "" {
		if _, err := clob.DeriveAPICreds(ctx); err != nil {
			return nil, err
		}
	}

	logging.Component(logger, "main").WithField("signer", auth.GetAddress().Hex()).Warn("LIVE trading enabled")
	return syncer.NewClobSubmitter(clob, gamma, logging.Component(logger, "submitter.clob")), nil
}
