package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverLocal    = "local"
	DriverPostgres = "postgres"
)

// DefaultFactorKey is the fallback entry in the gas factor maps.
const DefaultFactorKey = "default"

type ServerConfig struct {
	Listen            string        `yaml:"listen" json:"listen"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" json:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
	JSON       bool   `yaml:"json" json:"json"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver" json:"driver"`
	BadgerPath  string `yaml:"badger_path" json:"badger_path"`
	SQLitePath  string `yaml:"sqlite_path" json:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`
}

type LockConfig struct {
	TimeoutMS    int64 `yaml:"timeout_ms" json:"timeout_ms"`
	NonceLeaseMS int64 `yaml:"nonce_lease_ms" json:"nonce_lease_ms"`
	NoncePollMS  int64 `yaml:"nonce_poll_ms" json:"nonce_poll_ms"`
}

type TradingConfig struct {
	MaxTries int    `yaml:"max_tries" json:"max_tries"`
	Unit     string `yaml:"unit" json:"unit"`
	// Keyed by chain id, with "default" as the fallback.
	GasFactors      map[string]string `yaml:"gas_factors" json:"gas_factors"`
	GasPriceFactors map[string]string `yaml:"gas_price_factors" json:"gas_price_factors"`
	StatusPoll      time.Duration     `yaml:"status_poll" json:"status_poll"`
}

type PollerConfig struct {
	Attempts  int           `yaml:"attempts" json:"attempts"`
	BaseSleep time.Duration `yaml:"base_sleep" json:"base_sleep"`
}

type ChainConfig struct {
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	ChainID      int64   `yaml:"chain_id" json:"chain_id"`
	ToolsAddress string  `yaml:"tools_address" json:"tools_address"`
	RateLimit    float64 `yaml:"rate_limit" json:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst    int     `yaml:"rate_burst" json:"rate_burst"`
}

type ContractsConfig struct {
	// Directory holding <version>/<Name>.json artifacts. Empty uses the bundled ABIs.
	ArtifactsDir string `yaml:"artifacts_dir" json:"artifacts_dir"`
	ToolsABIPath string `yaml:"tools_abi_path" json:"tools_abi_path"`
}

type KMSConfig struct {
	StorePath     string `yaml:"store_path" json:"store_path"`
	EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
	Mnemonic      string `yaml:"mnemonic" json:"mnemonic"`
}

type SystemConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// Config is the full service configuration.
type Config struct {
	Stage     string                 `yaml:"stage" json:"stage"`
	Server    ServerConfig           `yaml:"server" json:"server"`
	Log       LogConfig              `yaml:"log" json:"log"`
	Storage   StorageConfig          `yaml:"storage" json:"storage"`
	Lock      LockConfig             `yaml:"lock" json:"lock"`
	Trading   TradingConfig          `yaml:"trading" json:"trading"`
	Poller    PollerConfig           `yaml:"poller" json:"poller"`
	Chains    map[string]ChainConfig `yaml:"chains" json:"chains"`
	Contracts ContractsConfig        `yaml:"contracts" json:"contracts"`
	KMS       KMSConfig              `yaml:"kms" json:"kms"`
	System    SystemConfig           `yaml:"system" json:"system"`
	Metrics   MetricsConfig          `yaml:"metrics" json:"metrics"`
}

// Default returns the configuration used when no file or env override is present.
func Default() *Config {
	return &Config{
		Stage: "local",
		Server: ServerConfig{
			Listen:            ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
		},
		Storage: StorageConfig{
			Driver:     DriverMemory,
			BadgerPath: "data/locks",
			SQLitePath: "data/tradecore.db",
		},
		Lock: LockConfig{
			TimeoutMS:    100000,
			NonceLeaseMS: 500,
			NoncePollMS:  100,
		},
		Trading: TradingConfig{
			MaxTries: 3,
			Unit:     "ether",
			GasFactors: map[string]string{
				DefaultFactorKey: "15",
				"RTN":            "20",
				"BSC":            "10",
			},
			GasPriceFactors: map[string]string{
				DefaultFactorKey: "1",
				"RTN":            "1",
				"BSC":            "1",
			},
			StatusPoll: time.Second,
		},
		Poller: PollerConfig{
			Attempts:  7,
			BaseSleep: 5 * time.Second,
		},
		Chains: map[string]ChainConfig{
			"RTN": {ChainID: 4},
			"BSC": {ChainID: 56},
		},
		KMS: KMSConfig{
			StorePath: "data/keys",
		},
	}
}

// Load reads path (yaml, yml or json; empty skips the file) on top of the defaults and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}
}

// applyEnv maps the historical environment variable names onto the config.
func applyEnv(cfg *Config) {
	cfg.Stage = getEnv("STAGE", cfg.Stage)
	cfg.Server.Listen = getEnv("LISTEN_ADDR", cfg.Server.Listen)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.BadgerPath = getEnv("BADGER_PATH", cfg.Storage.BadgerPath)
	cfg.Storage.SQLitePath = getEnv("SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.PostgresDSN = getEnv("POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Lock.TimeoutMS = parseInt64Env("LOCK_TIMEOUT_MS", cfg.Lock.TimeoutMS)

	cfg.Trading.Unit = getEnv("UNIT", cfg.Trading.Unit)
	cfg.Trading.MaxTries = parseIntEnv("MAX_TRIES", cfg.Trading.MaxTries)
	if cfg.Trading.GasFactors == nil {
		cfg.Trading.GasFactors = map[string]string{}
	}
	if cfg.Trading.GasPriceFactors == nil {
		cfg.Trading.GasPriceFactors = map[string]string{}
	}
	overrideFactor(cfg.Trading.GasFactors, DefaultFactorKey, "ESTIMATED_GAS_FACTOR")
	overrideFactor(cfg.Trading.GasPriceFactors, DefaultFactorKey, "ESTIMATED_GAS_PRICE_FACTOR")

	if v := os.Getenv("TASK_CHECK_TX_STATUS_SLEEP_TIME"); v != "" {
		cfg.Poller.BaseSleep = parseSeconds(v, cfg.Poller.BaseSleep)
	}
	cfg.Poller.Attempts = parseIntEnv("TASK_CHECK_TX_STATUS_ATTEMPTS", cfg.Poller.Attempts)

	if cfg.Chains == nil {
		cfg.Chains = map[string]ChainConfig{}
	}
	for _, chain := range []string{"RTN", "BSC"} {
		cc := cfg.Chains[chain]
		cc.Endpoint = getEnv("WEB3_PROVIDER_ENDPOINT_"+chain, cc.Endpoint)
		cc.ToolsAddress = getEnv("TRADING_CONTRACT_TOOLS_ADDRESS_"+chain, cc.ToolsAddress)
		cfg.Chains[chain] = cc
		overrideFactor(cfg.Trading.GasFactors, chain, "ESTIMATED_GAS_FACTOR_"+chain)
		overrideFactor(cfg.Trading.GasPriceFactors, chain, "ESTIMATED_GAS_PRICE_FACTOR_"+chain)
	}
	cfg.Contracts.ToolsABIPath = getEnv("TRADING_CONTRACT_TOOLS_JSON_PATH", cfg.Contracts.ToolsABIPath)
	cfg.Contracts.ArtifactsDir = getEnv("TRADING_CONTRACT_ARTIFACTS_DIR", cfg.Contracts.ArtifactsDir)

	cfg.KMS.StorePath = getEnv("KMS_STORE_PATH", cfg.KMS.StorePath)
	cfg.KMS.EncryptionKey = getEnv("KMS_ENCRYPTION_KEY", cfg.KMS.EncryptionKey)
	cfg.KMS.Mnemonic = getEnv("KMS_MNEMONIC", cfg.KMS.Mnemonic)

	cfg.System.Username = getEnv("SYSTEM_USERNAME", cfg.System.Username)
	cfg.System.Password = getEnv("SYSTEM_PASSWORD", cfg.System.Password)
	cfg.Metrics.Listen = getEnv("METRICS_LISTEN", cfg.Metrics.Listen)
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverLocal:
		if c.Storage.BadgerPath == "" || c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.driver=local requires badger_path and sqlite_path")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.driver=postgres requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Lock.TimeoutMS <= 0 {
		return fmt.Errorf("lock.timeout_ms must be > 0")
	}
	if c.Lock.NonceLeaseMS <= 0 || c.Lock.NoncePollMS <= 0 {
		return fmt.Errorf("lock.nonce_lease_ms and lock.nonce_poll_ms must be > 0")
	}
	if c.Trading.MaxTries < 1 {
		return fmt.Errorf("trading.max_tries must be >= 1")
	}
	if _, err := c.GasFactor(""); err != nil {
		return err
	}
	if _, err := c.GasPriceFactor(""); err != nil {
		return err
	}
	for chain := range c.Chains {
		if _, err := c.GasFactor(chain); err != nil {
			return err
		}
		if _, err := c.GasPriceFactor(chain); err != nil {
			return err
		}
	}
	if c.Poller.Attempts < 1 {
		return fmt.Errorf("poller.attempts must be >= 1")
	}
	if c.Poller.BaseSleep < 0 {
		return fmt.Errorf("poller.base_sleep must not be negative")
	}
	return nil
}

// LockTimeout is the lease of an algorithm lock.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Lock.TimeoutMS) * time.Millisecond
}

// GasFactor returns the estimated-gas multiplier for chain, falling back to the default entry.
func (c *Config) GasFactor(chain string) (decimal.Decimal, error) {
	return factorFor(c.Trading.GasFactors, chain, "15")
}

// GasPriceFactor returns the gas-price multiplier for chain, falling back to the default entry.
func (c *Config) GasPriceFactor(chain string) (decimal.Decimal, error) {
	return factorFor(c.Trading.GasPriceFactors, chain, "1")
}

func factorFor(m map[string]string, chain, def string) (decimal.Decimal, error) {
	raw, ok := m[chain]
	if !ok || strings.TrimSpace(raw) == "" {
		raw, ok = m[DefaultFactorKey]
	}
	if !ok || strings.TrimSpace(raw) == "" {
		raw = def
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid gas factor %q for %q: %w", raw, chain, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("gas factor for %q must be > 0, got %s", chain, d)
	}
	return d, nil
}

func overrideFactor(m map[string]string, key, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		m[key] = v
	}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func parseInt64Env(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def
	}
	return n
}

// parseSeconds accepts a Go duration or a plain number of seconds.
func parseSeconds(v string, def time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 {
		return time.Duration(n * float64(time.Second))
	}
	return def
}
