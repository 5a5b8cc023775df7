package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"polymarket-copybot/config"
	"polymarket-copybot/logging"
)

var (
	cfgFile  string
	envFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "copybot",
		Short: "Polymarket copy-trading bot",
		Long: `Watches target wallets on Polymarket through the Data API, the market
WebSocket and Polygon OrderFilled logs, and mirrors their trades at a
configured fraction with dedup, size thresholds and a per-market position cap.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./copybot.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newEvaluateCmd(),
		newConfigCmd(),
		newTokenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the env file and config, applying flag overrides.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// setupLogger builds the shared logger and points the standard logrus logger
// at the same output so components created without an entry log consistently.
func setupLogger(cfg *config.Config) (*logrus.Logger, io.Closer, error) {
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	logrus.SetLevel(logger.GetLevel())
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	return logger, closer, nil
}
