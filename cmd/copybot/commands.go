package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"polymarket-copybot/api"
	"polymarket-copybot/config"
	"polymarket-copybot/feed"
	"polymarket-copybot/logging"
	"polymarket-copybot/middleware"
	"polymarket-copybot/service"
	"polymarket-copybot/storage"
	"polymarket-copybot/syncer"
)

// openService builds a read-only service over the configured store. The
// returned cleanup closes every connection it opened.
func openService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service.Service, func(), error) {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init storage: %w", err)
	}
	cleanup := func() { store.Close() }

	opts := []service.Option{service.WithLogger(logging.Component(logger, "service"))}
	rdb, err := storage.NewRedisClient(ctx, cfg.Storage.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, pipeline metrics omitted")
	} else if rdb != nil {
		opts = append(opts, service.WithMetricsStore(syncer.NewMetricsStore(rdb)))
		cleanup = func() {
			rdb.Close()
			store.Close()
		}
	}
	return service.NewService(cfg, nil, store, opts...), cleanup, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	var recent int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show journal stats, flushed pipeline metrics and the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, closer, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := cmd.Context()
			svc, cleanup, err := openService(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := svc.Status(ctx)
			if err != nil {
				return err
			}
			positions, err := svc.Positions(ctx)
			if err != nil {
				return err
			}
			decisions, err := svc.Decisions(ctx, recent)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(map[string]interface{}{
					"status":    st,
					"positions": positions,
					"decisions": decisions,
				})
			}

			mode := "LIVE"
			if st.Paper {
				mode = "PAPER"
			}
			fmt.Printf("Mode:        %s\n", mode)
			fmt.Printf("Targets:     %d\n", len(st.Targets))
			fmt.Printf("Decisions:   %d total, %d accepted, %d rejected ($%.2f copied)\n",
				st.Journal.Total, st.Journal.Accepted, st.Journal.Rejected, st.Journal.AcceptedUSD)
			fmt.Printf("Orders:      %d placed, %d simulated, %d failed\n",
				st.Journal.Placed, st.Journal.Simulated, st.Journal.Failed)

			reasons := make([]string, 0, len(st.Journal.ByReason))
			for r := range st.Journal.ByReason {
				reasons = append(reasons, r)
			}
			sort.Strings(reasons)
			for _, r := range reasons {
				fmt.Printf("  %-18s %d\n", r, st.Journal.ByReason[r])
			}

			if !st.Pipeline.UpdatedAt.IsZero() {
				fmt.Printf("Pipeline:    %d events, %d submitted, %d failed (updated %s)\n",
					st.Pipeline.EventsReceived, st.Pipeline.Submitted, st.Pipeline.SubmitFailed,
					st.Pipeline.UpdatedAt.Format(time.RFC3339))
				fmt.Printf("Latency:     detect %s, submit %s\n", st.Latency.DetectionAvg, st.Latency.SubmitAvg)
			}

			fmt.Printf("Positions:   %d markets\n", len(positions))
			for _, p := range positions {
				fmt.Printf("  %-20s %10.4f\n", shorten(p.MarketID, 20), p.Size)
			}

			if len(decisions) > 0 {
				fmt.Println("Recent decisions:")
				for _, d := range decisions {
					outcome := "ACCEPT"
					if !d.Accept {
						outcome = string(d.Reason)
					}
					fmt.Printf("  %s %-4s %-18s $%-8.2f %s\n",
						d.DecidedAt.Format("01-02 15:04:05"), d.Side, outcome, d.CopyUSD, shorten(d.MarketID, 20))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent decisions to show")
	return cmd
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func newEvaluateCmd() *cobra.Command {
	var raw feed.RawTrade
	var price, size float64
	var payload string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Dry-run one trade against the stored ledger",
		Example: `  copybot evaluate --market 1234 --side BUY --price 0.42 --size 100
  copybot evaluate --payload '{"asset":"1234","side":"SELL","price":"0.6","size":50}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.EngineSettings().Validate(); err != nil {
				return err
			}
			logger, closer, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			if payload != "" {
				if raw, err = feed.ParseRawTrade([]byte(payload)); err != nil {
					return err
				}
			} else {
				raw.Price = api.Numeric(price)
				raw.Size = api.Numeric(size)
			}
			if raw.Source == "" {
				raw.Source = feed.SourceManual
			}
			if raw.ID == "" && raw.EventID == "" {
				raw.ID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
			}

			ctx := cmd.Context()
			svc, cleanup, err := openService(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			decision, err := svc.DryRun(ctx, raw)
			if err != nil {
				return err
			}
			return printJSON(decision)
		},
	}
	cmd.Flags().StringVar(&raw.Asset, "market", "", "outcome token id")
	cmd.Flags().StringVar(&raw.Side, "side", "BUY", "BUY or SELL")
	cmd.Flags().Float64Var(&price, "price", 0, "target's fill price")
	cmd.Flags().Float64Var(&size, "size", 0, "target's fill size in shares")
	cmd.Flags().StringVar(&raw.Actor, "actor", "", "target wallet")
	cmd.Flags().StringVar(&raw.EventID, "event-id", "", "event id (generated when empty)")
	cmd.Flags().StringVar(&payload, "payload", "", "raw trade JSON instead of flags")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			return nil
		},
	})
	return cmd
}

func newTokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := middleware.IssueToken(cfg.Server.Auth.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
