// Package config loads the walletd configuration from YAML with environment
// overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full walletd configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Chain    ChainConfig    `yaml:"chain"`
	Provider ProviderConfig `yaml:"provider"`
	Rates    RatesConfig    `yaml:"rates"`
	Payments PaymentsConfig `yaml:"payments"`
	Redis    RedisConfig    `yaml:"redis"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr        string   `yaml:"listen_addr"`
	RequestsPerSecond int      `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
}

// ChainConfig holds the JSON-RPC node settings.
type ChainConfig struct {
	RPCURL            string        `yaml:"rpc_url"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

// ProviderConfig holds the wallet custody provider settings. With an empty
// endpoint walletd runs the in-process dev provider.
type ProviderConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// RatesConfig holds the exchange-rate service settings.
type RatesConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	APIKey          string        `yaml:"api_key"`
	TTL             time.Duration `yaml:"ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Pairs           []PairConfig  `yaml:"pairs"`
	DisplaySymbol   string        `yaml:"display_symbol"`
	DisplayCurrency string        `yaml:"display_currency"`
}

// PairConfig is one (symbol, currency) pair kept warm by the refresher.
type PairConfig struct {
	Symbol   string `yaml:"symbol"`
	Currency string `yaml:"currency"`
}

// PaymentsConfig holds transfer submission settings.
type PaymentsConfig struct {
	SendTimeout        time.Duration `yaml:"send_timeout"`
	SuccessMessageTTL  time.Duration `yaml:"success_message_ttl"`
	BookkeepingURL     string        `yaml:"bookkeeping_url"`
	BookkeepingAPIKey  string        `yaml:"bookkeeping_api_key"`
	BookkeepingTimeout time.Duration `yaml:"bookkeeping_timeout"`
}

// RedisConfig holds the session marker store settings. With an empty address
// markers live in process memory and do not survive a restart.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	MarkerTTL time.Duration `yaml:"marker_ttl"`
}

// Load reads config/walletd.yaml relative to the working directory.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "walletd.yaml"))
}

// LoadFromPath reads and validates the configuration at path.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration or falls back to defaults when the
// file is absent.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		cfg = Default()
		applyEnv(cfg)
	}
	return cfg
}

// Default returns the configuration walletd runs with out of the box: dev
// provider, in-memory markers, a local node.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:        ":8090",
			RequestsPerSecond: 20,
			Burst:             40,
			AllowedOrigins:    []string{"*"},
		},
		Chain: ChainConfig{
			RPCURL:            "http://localhost:8545",
			RequestsPerSecond: 10,
			Timeout:           15 * time.Second,
		},
		Provider: ProviderConfig{
			ConnectTimeout: 15 * time.Second,
		},
		Rates: RatesConfig{
			TTL:             time.Minute,
			RefreshInterval: 30 * time.Second,
			Pairs:           []PairConfig{{Symbol: "ETH", Currency: "USD"}},
			DisplaySymbol:   "ETH",
			DisplayCurrency: "USD",
		},
		Payments: PaymentsConfig{
			SendTimeout:        30 * time.Second,
			SuccessMessageTTL:  3 * time.Second,
			BookkeepingTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			KeyPrefix: "walletcore",
			MarkerTTL: 24 * time.Hour,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WALLETD_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("WALLETD_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("WALLETD_PROVIDER_ENDPOINT"); v != "" {
		cfg.Provider.Endpoint = v
	}
	if v := os.Getenv("WALLETD_PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("WALLETD_RATES_ENDPOINT"); v != "" {
		cfg.Rates.Endpoint = v
	}
	if v := os.Getenv("WALLETD_RATES_API_KEY"); v != "" {
		cfg.Rates.APIKey = v
	}
	if v := os.Getenv("WALLETD_BOOKKEEPING_URL"); v != "" {
		cfg.Payments.BookkeepingURL = v
	}
	if v := os.Getenv("WALLETD_BOOKKEEPING_API_KEY"); v != "" {
		cfg.Payments.BookkeepingAPIKey = v
	}
	if v := os.Getenv("WALLETD_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("WALLETD_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("WALLETD_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
}

func (c *Config) validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Rates.TTL <= 0 {
		return fmt.Errorf("rates.ttl must be positive")
	}
	for i, pair := range c.Rates.Pairs {
		if pair.Symbol == "" || pair.Currency == "" {
			return fmt.Errorf("rates.pairs[%d]: symbol and currency are required", i)
		}
	}
	return nil
}
