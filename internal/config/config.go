// Package config loads engine settings from an optional YAML file, .env and
// SWAP_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"solana-swap-engine/internal/orchestrator"
	"solana-swap-engine/internal/tracker"
)

const envPrefix = "swap"

// Config is the complete engine configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Solana    SolanaConfig    `mapstructure:"solana"`
	Jupiter   JupiterConfig   `mapstructure:"jupiter"`
	Raydium   RaydiumConfig   `mapstructure:"raydium"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Builder   BuilderConfig   `mapstructure:"builder"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Events    EventsConfig    `mapstructure:"events"`
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"` // console or json
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type SolanaConfig struct {
	RPCEndpoint string        `mapstructure:"rpc_endpoint"`
	WSEndpoint  string        `mapstructure:"ws_endpoint"` // optional, enables signature notifications
	Commitment  string        `mapstructure:"commitment"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"` // read methods only
}

type JupiterConfig struct {
	BaseURL                 string  `mapstructure:"base_url"`
	PriceURL                string  `mapstructure:"price_url"`
	APIKey                  string  `mapstructure:"api_key"`
	OnlyDirectRoutes        bool    `mapstructure:"only_direct_routes"`
	MaxAccounts             int     `mapstructure:"max_accounts"`
	WrapAndUnwrapSOL        bool    `mapstructure:"wrap_and_unwrap_sol"`
	DynamicComputeUnitLimit bool    `mapstructure:"dynamic_compute_unit_limit"`
	RequestsPerSecond       float64 `mapstructure:"requests_per_second"`
}

type RaydiumConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	BaseURL           string  `mapstructure:"base_url"`
	FeeBps            uint64  `mapstructure:"fee_bps"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type EngineConfig struct {
	MaxQuoteAge          time.Duration `mapstructure:"max_quote_age"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	ConfirmationDeadline time.Duration `mapstructure:"confirmation_deadline"`
	SubmitMaxAttempts    int           `mapstructure:"submit_max_attempts"`
	SubmitBackoffBase    time.Duration `mapstructure:"submit_backoff_base"`
	SubmitBackoffMax     time.Duration `mapstructure:"submit_backoff_max"`
	MaxCycleRetries      int           `mapstructure:"max_cycle_retries"`
	SkipPreflight        bool          `mapstructure:"skip_preflight"`
	DefaultSlippageBps   uint16        `mapstructure:"default_slippage_bps"`
}

// OrchestratorConfig maps the engine section onto orchestrator.Config.
func (e EngineConfig) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxQuoteAge:          e.MaxQuoteAge,
		PollInterval:         e.PollInterval,
		ConfirmationDeadline: e.ConfirmationDeadline,
		SubmitMaxAttempts:    e.SubmitMaxAttempts,
		SubmitBackoffBase:    e.SubmitBackoffBase,
		SubmitBackoffMax:     e.SubmitBackoffMax,
		MaxCycleRetries:      e.MaxCycleRetries,
	}
}

// TrackerConfig maps the engine section onto tracker.Config.
func (e EngineConfig) TrackerConfig() tracker.Config {
	cfg := e.OrchestratorConfig().TrackerConfig()
	cfg.SkipPreflight = e.SkipPreflight
	return cfg
}

type BuilderConfig struct {
	ComputeUnitLimit uint32 `mapstructure:"compute_unit_limit"`
	ComputeUnitPrice uint64 `mapstructure:"compute_unit_price"` // micro-lamports
}

// WalletConfig selects where the signing key is read from. Key material
// itself is never part of the configuration.
type WalletConfig struct {
	Source      string `mapstructure:"source"` // env, file or secretsmanager
	EnvVar      string `mapstructure:"env_var"`
	KeypairPath string `mapstructure:"keypair_path"`
	SecretID    string `mapstructure:"secret_id"`
	SecretField string `mapstructure:"secret_field"`
	AWSRegion   string `mapstructure:"aws_region"`
}

type StorageConfig struct {
	UseMemory        bool   `mapstructure:"use_memory"`
	PostgresDSN      string `mapstructure:"postgres_dsn"`
	PostgresMaxConns int32  `mapstructure:"postgres_max_conns"`
	ClickhouseDSN    string `mapstructure:"clickhouse_dsn"` // optional
	RunMigrations    bool   `mapstructure:"run_migrations"`
}

type EventsConfig struct {
	Buffer        int           `mapstructure:"buffer"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	NATSURL       string        `mapstructure:"nats_url"` // optional
	NATSSubject   string        `mapstructure:"nats_subject"`
	NATSStream    string        `mapstructure:"nats_stream"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	TradeTimeout    time.Duration `mapstructure:"trade_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Addr           string        `mapstructure:"addr"` // optional, enables Idempotency-Key
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
}

type ReconcileConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Lookback  time.Duration `mapstructure:"lookback"`
	BatchSize int           `mapstructure:"batch_size"`
}

// Load reads the configuration. An empty path skips the YAML file. A .env
// file in the working directory is loaded first and never overrides the
// process environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "solana-swap-engine")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("solana.rpc_endpoint", "")
	v.SetDefault("solana.ws_endpoint", "")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.timeout", "30s")
	v.SetDefault("solana.max_retries", 3)

	v.SetDefault("jupiter.base_url", "https://quote-api.jup.ag/v6")
	v.SetDefault("jupiter.price_url", "https://api.jup.ag/price/v2")
	v.SetDefault("jupiter.api_key", "")
	v.SetDefault("jupiter.only_direct_routes", false)
	v.SetDefault("jupiter.max_accounts", 20)
	v.SetDefault("jupiter.wrap_and_unwrap_sol", true)
	v.SetDefault("jupiter.dynamic_compute_unit_limit", true)
	v.SetDefault("jupiter.requests_per_second", 1.0)

	v.SetDefault("raydium.enabled", true)
	v.SetDefault("raydium.base_url", "https://api-v3.raydium.io")
	v.SetDefault("raydium.fee_bps", 25)
	v.SetDefault("raydium.requests_per_second", 5.0)

	def := orchestrator.DefaultConfig()
	v.SetDefault("engine.max_quote_age", def.MaxQuoteAge.String())
	v.SetDefault("engine.poll_interval", def.PollInterval.String())
	v.SetDefault("engine.confirmation_deadline", def.ConfirmationDeadline.String())
	v.SetDefault("engine.submit_max_attempts", def.SubmitMaxAttempts)
	v.SetDefault("engine.submit_backoff_base", def.SubmitBackoffBase.String())
	v.SetDefault("engine.submit_backoff_max", def.SubmitBackoffMax.String())
	v.SetDefault("engine.max_cycle_retries", def.MaxCycleRetries)
	v.SetDefault("engine.skip_preflight", false)
	v.SetDefault("engine.default_slippage_bps", 300)

	v.SetDefault("builder.compute_unit_limit", 0)
	v.SetDefault("builder.compute_unit_price", 0)

	v.SetDefault("wallet.source", "env")
	v.SetDefault("wallet.env_var", "SWAP_WALLET_PRIVATE_KEY")
	v.SetDefault("wallet.keypair_path", "")
	v.SetDefault("wallet.secret_id", "")
	v.SetDefault("wallet.secret_field", "private_key")
	v.SetDefault("wallet.aws_region", "")

	v.SetDefault("storage.use_memory", false)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.postgres_max_conns", 10)
	v.SetDefault("storage.clickhouse_dsn", "")
	v.SetDefault("storage.run_migrations", true)

	v.SetDefault("events.buffer", 256)
	v.SetDefault("events.batch_size", 100)
	v.SetDefault("events.flush_interval", "1s")
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.nats_subject", "evt.swap.trade")
	v.SetDefault("events.nats_stream", "SWAP_TRADES")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.trade_timeout", "110s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.idempotency_ttl", "24h")
	v.SetDefault("redis.key_prefix", "swap:idem:")

	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.interval", "1m")
	v.SetDefault("reconcile.lookback", "24h")
	v.SetDefault("reconcile.batch_size", 100)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
