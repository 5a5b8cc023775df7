package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"polymarket-copybot/engine"
	"polymarket-copybot/utils"
)

// EngineConfig holds copy sizing, risk limits and engine state handling.
type EngineConfig struct {
	Multiplier            float64       `mapstructure:"multiplier" yaml:"multiplier"`
	MinUSD                float64       `mapstructure:"min_usd" yaml:"min_usd"`
	MaxUSD                float64       `mapstructure:"max_usd" yaml:"max_usd"`
	Slippage              float64       `mapstructure:"slippage" yaml:"slippage"`
	MaxPosition           float64       `mapstructure:"max_position" yaml:"max_position"`
	PaperMode             bool          `mapstructure:"paper_mode" yaml:"paper_mode"`
	DedupCapacity         int           `mapstructure:"dedup_capacity" yaml:"dedup_capacity"`
	DedupTTL              time.Duration `mapstructure:"dedup_ttl" yaml:"dedup_ttl"`
	RevertOnSubmitFailure bool          `mapstructure:"revert_on_submit_failure" yaml:"revert_on_submit_failure"`
	RestoreOnStart        bool          `mapstructure:"restore_on_start" yaml:"restore_on_start"`
}

// DataAPIFeedConfig controls REST polling of target wallets.
type DataAPIFeedConfig struct {
	Enabled         bool `mapstructure:"enabled" yaml:"enabled"`
	DetectPositions bool `mapstructure:"detect_positions" yaml:"detect_positions"`
	TradeLimit      int  `mapstructure:"trade_limit" yaml:"trade_limit"`
}

// MarketWSFeedConfig controls the market channel WebSocket.
type MarketWSFeedConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	URL            string        `mapstructure:"url" yaml:"url"`
	AssetIDs       []string      `mapstructure:"asset_ids" yaml:"asset_ids"`
	HotMarkets     int           `mapstructure:"hot_markets" yaml:"hot_markets"`
	PingInterval   time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	PriceTolerance float64       `mapstructure:"price_tolerance" yaml:"price_tolerance"`
	SizeTolerance  float64       `mapstructure:"size_tolerance" yaml:"size_tolerance"`
	MaxTradeAge    time.Duration `mapstructure:"max_trade_age" yaml:"max_trade_age"`
}

// ChainFeedConfig controls OrderFilled log polling on Polygon.
type ChainFeedConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	RPCURL        string        `mapstructure:"rpc_url" yaml:"rpc_url"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxBlockRange uint64        `mapstructure:"max_block_range" yaml:"max_block_range"`
	Confirmations uint64        `mapstructure:"confirmations" yaml:"confirmations"`
}

// FeedsConfig groups the feed adapters.
type FeedsConfig struct {
	PollInterval time.Duration      `mapstructure:"poll_interval" yaml:"poll_interval"`
	QueueSize    int                `mapstructure:"queue_size" yaml:"queue_size"`
	DataAPI      DataAPIFeedConfig  `mapstructure:"data_api" yaml:"data_api"`
	MarketWS     MarketWSFeedConfig `mapstructure:"market_ws" yaml:"market_ws"`
	Chain        ChainFeedConfig    `mapstructure:"chain" yaml:"chain"`
}

// PolymarketConfig holds endpoints and trading credentials.
type PolymarketConfig struct {
	ClobURL       string  `mapstructure:"clob_url" yaml:"clob_url"`
	DataURL       string  `mapstructure:"data_url" yaml:"data_url"`
	GammaURL      string  `mapstructure:"gamma_url" yaml:"gamma_url"`
	ChainID       int64   `mapstructure:"chain_id" yaml:"chain_id"`
	PrivateKey    string  `mapstructure:"private_key" yaml:"private_key"`
	Funder        string  `mapstructure:"funder" yaml:"funder"`
	SignatureType int     `mapstructure:"signature_type" yaml:"signature_type"`
	APIKey        string  `mapstructure:"api_key" yaml:"api_key"`
	APISecret     string  `mapstructure:"api_secret" yaml:"api_secret"`
	APIPassphrase string  `mapstructure:"api_passphrase" yaml:"api_passphrase"`
	RateLimitRPS  float64 `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
}

// RiskConfig holds guards applied before evaluation.
type RiskConfig struct {
	MaxDailyLossUSD float64 `mapstructure:"max_daily_loss_usd" yaml:"max_daily_loss_usd"`
}

// PostgresConfig is the server journal backend.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// RedisConfig is used for metrics and the market cache. Empty host disables it.
type RedisConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// StorageConfig selects the journal backend.
type StorageConfig struct {
	Driver     string         `mapstructure:"driver" yaml:"driver"` // postgres, sqlite, memory
	SQLitePath string         `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	Redis      RedisConfig    `mapstructure:"redis" yaml:"redis"`
}

// AuthConfig protects the HTTP API. Both empty means open.
type AuthConfig struct {
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"password"`
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Enabled           bool       `mapstructure:"enabled" yaml:"enabled"`
	Port              int        `mapstructure:"port" yaml:"port"`
	ReadTimeoutMS     int        `mapstructure:"read_timeout_ms" yaml:"read_timeout_ms"`
	WriteTimeoutMS    int        `mapstructure:"write_timeout_ms" yaml:"write_timeout_ms"`
	ShutdownTimeoutMS int        `mapstructure:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms"`
	Auth              AuthConfig `mapstructure:"auth" yaml:"auth"`
}

// LoggingConfig controls logrus output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig controls the periodic metrics flush.
type MetricsConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// Config aggregates all bot configuration.
type Config struct {
	Targets    []string         `mapstructure:"targets" yaml:"targets"`
	Engine     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	Feeds      FeedsConfig      `mapstructure:"feeds" yaml:"feeds"`
	Polymarket PolymarketConfig `mapstructure:"polymarket" yaml:"polymarket"`
	Risk       RiskConfig       `mapstructure:"risk" yaml:"risk"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// LoadEnvFile loads a .env file into the process environment. A missing file is ignored.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: unable to load %s: %w", path, err)
	}
	return nil
}

// Load reads the config file (if any), applies COPYBOT_* and legacy env overrides,
// and returns the merged configuration. It does not validate.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("copybot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/copybot")
	}

	v.SetEnvPrefix("COPYBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: error unmarshaling config: %w", err)
	}

	if err := overrideFromEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.Targets = normalizeTargets(cfg.Targets)
	return &cfg, nil
}

// Default returns the configuration used when no file or env is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	def := engine.DefaultConfig()

	v.SetDefault("targets", []string{})

	v.SetDefault("engine.multiplier", def.Multiplier)
	v.SetDefault("engine.min_usd", def.MinUSD)
	v.SetDefault("engine.max_usd", def.MaxUSD)
	v.SetDefault("engine.slippage", def.Slippage)
	v.SetDefault("engine.max_position", def.MaxPosition)
	v.SetDefault("engine.paper_mode", def.PaperMode)
	v.SetDefault("engine.dedup_capacity", def.DedupCapacity)
	v.SetDefault("engine.dedup_ttl", def.DedupTTL)
	v.SetDefault("engine.revert_on_submit_failure", true)
	v.SetDefault("engine.restore_on_start", true)

	v.SetDefault("feeds.poll_interval", 30*time.Second)
	v.SetDefault("feeds.queue_size", 1024)
	v.SetDefault("feeds.data_api.enabled", true)
	v.SetDefault("feeds.data_api.detect_positions", false)
	v.SetDefault("feeds.data_api.trade_limit", 50)
	v.SetDefault("feeds.market_ws.enabled", false)
	v.SetDefault("feeds.market_ws.url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("feeds.market_ws.asset_ids", []string{})
	v.SetDefault("feeds.market_ws.hot_markets", 20)
	v.SetDefault("feeds.market_ws.ping_interval", 25*time.Second)
	v.SetDefault("feeds.market_ws.reconnect_delay", 5*time.Second)
	v.SetDefault("feeds.market_ws.price_tolerance", 0.001)
	v.SetDefault("feeds.market_ws.size_tolerance", 0.1)
	v.SetDefault("feeds.market_ws.max_trade_age", 2*time.Minute)
	v.SetDefault("feeds.chain.enabled", false)
	v.SetDefault("feeds.chain.rpc_url", "https://polygon-rpc.com")
	v.SetDefault("feeds.chain.poll_interval", 4*time.Second)
	v.SetDefault("feeds.chain.max_block_range", 500)
	v.SetDefault("feeds.chain.confirmations", 2)

	v.SetDefault("polymarket.clob_url", "https://clob.polymarket.com")
	v.SetDefault("polymarket.data_url", "https://data-api.polymarket.com")
	v.SetDefault("polymarket.gamma_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.chain_id", 137)
	v.SetDefault("polymarket.private_key", "")
	v.SetDefault("polymarket.funder", "")
	v.SetDefault("polymarket.signature_type", 0)
	v.SetDefault("polymarket.api_key", "")
	v.SetDefault("polymarket.api_secret", "")
	v.SetDefault("polymarket.api_passphrase", "")
	v.SetDefault("polymarket.rate_limit_rps", 5.0)

	v.SetDefault("risk.max_daily_loss_usd", 0.0)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "./data/copybot.db")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "polymarket")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.database", "copybot")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.host", "")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout_ms", 10000)
	v.SetDefault("server.write_timeout_ms", 10000)
	v.SetDefault("server.shutdown_timeout_ms", 5000)
	v.SetDefault("server.auth.username", "")
	v.SetDefault("server.auth.password", "")
	v.SetDefault("server.auth.jwt_secret", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.flush_interval", 10*time.Second)
}

// overrideFromEnv applies the env names used by earlier releases of the bot.
func overrideFromEnv(cfg *Config) error {
	floats := []struct {
		name string
		dst  *float64
	}{
		{"TRADE_MULTIPLIER", &cfg.Engine.Multiplier},
		{"MIN_TRADE_USD", &cfg.Engine.MinUSD},
		{"MAX_TRADE_USD", &cfg.Engine.MaxUSD},
		{"SLIPPAGE", &cfg.Engine.Slippage},
		{"MAX_POSITION", &cfg.Engine.MaxPosition},
		{"MAX_DAILY_LOSS_USD", &cfg.Risk.MaxDailyLossUSD},
	}
	for _, f := range floats {
		raw := os.Getenv(f.name)
		if raw == "" {
			continue
		}
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("config: invalid %s=%q: %w", f.name, raw, err)
		}
		*f.dst = val
	}

	if raw := os.Getenv("PAPER_MODE"); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("config: invalid PAPER_MODE=%q: %w", raw, err)
		}
		cfg.Engine.PaperMode = val
	}

	// POLL_INTERVAL is in seconds.
	if raw := os.Getenv("POLL_INTERVAL"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("config: invalid POLL_INTERVAL=%q: %w", raw, err)
		}
		cfg.Feeds.PollInterval = time.Duration(secs) * time.Second
	}

	if raw := os.Getenv("TARGET_WALLETS"); raw != "" {
		cfg.Targets = utils.SplitList(raw)
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{"PRIVATE_KEY", &cfg.Polymarket.PrivateKey},
		{"FUNDER_ADDRESS", &cfg.Polymarket.Funder},
		{"API_KEY", &cfg.Polymarket.APIKey},
		{"API_SECRET", &cfg.Polymarket.APISecret},
		{"API_PASSPHRASE", &cfg.Polymarket.APIPassphrase},
		{"RPC_URL", &cfg.Feeds.Chain.RPCURL},
		{"AUTH_USERNAME", &cfg.Server.Auth.Username},
		{"AUTH_PASSWORD", &cfg.Server.Auth.Password},
	}
	for _, s := range strs {
		if raw := os.Getenv(s.name); raw != "" {
			*s.dst = raw
		}
	}
	return nil
}

func normalizeTargets(targets []string) []string {
	// A single comma separated entry comes from env.
	if len(targets) == 1 && strings.Contains(targets[0], ",") {
		targets = utils.SplitList(targets[0])
	}
	return utils.NewAddressSet(targets).List()
}

// EngineSettings converts the engine section to engine.Config.
func (c *Config) EngineSettings() engine.Config {
	return engine.Config{
		Multiplier:    c.Engine.Multiplier,
		MinUSD:        c.Engine.MinUSD,
		MaxUSD:        c.Engine.MaxUSD,
		Slippage:      c.Engine.Slippage,
		MaxPosition:   c.Engine.MaxPosition,
		PaperMode:     c.Engine.PaperMode,
		DedupCapacity: c.Engine.DedupCapacity,
		DedupTTL:      c.Engine.DedupTTL,
	}
}

// HasCredentials reports whether live trading can sign orders.
func (c *Config) HasCredentials() bool {
	return c.Polymarket.PrivateKey != ""
}

// Validate checks engine bounds plus feed, storage and trading sanity.
func (c *Config) Validate() error {
	if err := c.EngineSettings().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(c.Targets) == 0 {
		return errors.New("config: at least one target wallet is required")
	}
	for _, t := range c.Targets {
		if !utils.IsAddress(t) {
			return fmt.Errorf("config: invalid target wallet %q", t)
		}
	}
	if !c.Engine.PaperMode && !c.HasCredentials() {
		return errors.New("config: live trading requires polymarket.private_key")
	}
	if c.Feeds.PollInterval <= 0 {
		return fmt.Errorf("config: feeds.poll_interval must be positive, got %s", c.Feeds.PollInterval)
	}
	if !c.Feeds.DataAPI.Enabled && !c.Feeds.MarketWS.Enabled && !c.Feeds.Chain.Enabled {
		return errors.New("config: no feed enabled")
	}
	if c.Feeds.MarketWS.Enabled && !c.Feeds.DataAPI.Enabled {
		// WebSocket hints are verified against Data API trades.
		return errors.New("config: feeds.market_ws requires feeds.data_api")
	}
	if c.Feeds.Chain.Enabled && c.Feeds.Chain.RPCURL == "" {
		return errors.New("config: feeds.chain requires rpc_url")
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("config: storage.sqlite_path is required for sqlite")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	if c.Risk.MaxDailyLossUSD < 0 {
		return fmt.Errorf("config: risk.max_daily_loss_usd must be >= 0, got %v", c.Risk.MaxDailyLossUSD)
	}
	return nil
}

// Masked returns a copy with secrets hidden, suitable for display.
func (c *Config) Masked() *Config {
	m := *c
	m.Targets = append([]string(nil), c.Targets...)
	m.Polymarket.PrivateKey = utils.Mask(c.Polymarket.PrivateKey)
	m.Polymarket.APISecret = utils.Mask(c.Polymarket.APISecret)
	m.Polymarket.APIPassphrase = utils.Mask(c.Polymarket.APIPassphrase)
	m.Storage.Postgres.Password = utils.Mask(c.Storage.Postgres.Password)
	m.Storage.Redis.Password = utils.Mask(c.Storage.Redis.Password)
	m.Server.Auth.Password = utils.Mask(c.Server.Auth.Password)
	m.Server.Auth.JWTSecret = utils.Mask(c.Server.Auth.JWTSecret)
	return &m
}

// YAML renders the config with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Masked())
	if err != nil {
		return nil, fmt.Errorf("config: marshal yaml: %w", err)
	}
	return out, nil
}
