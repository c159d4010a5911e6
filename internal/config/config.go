package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the server and its collaborators need.
// Values come from defaults, then the YAML file, then the environment.
type Config struct {
	Server struct {
		Port  string `yaml:"port"`
		Env   string `yaml:"env"`
		Debug bool   `yaml:"debug"`
	} `yaml:"server"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		APIKey    string        `yaml:"api_key"`
		APISecret string        `yaml:"api_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	Account struct {
		InitialBalances map[string]float64 `yaml:"initial_balances"`
		TrackedAssets   []string           `yaml:"tracked_assets"`
		InitialPrices   map[string]float64 `yaml:"initial_prices"`
		DisplayCurrency string             `yaml:"display_currency"`
	} `yaml:"account"`

	Fees struct {
		BaseRate      float64 `yaml:"base_rate"`
		Discount      float64 `yaml:"discount"`
		DiscountAsset string  `yaml:"discount_asset"`
		QuoteAsset    string  `yaml:"quote_asset"`
	} `yaml:"fees"`

	Database struct {
		Path             string        `yaml:"path"`
		SnapshotInterval time.Duration `yaml:"snapshot_interval"`
		Retention        time.Duration `yaml:"retention"` // 0 keeps every snapshot
	} `yaml:"database"`

	PriceFeed struct {
		Mode       string        `yaml:"mode"` // none, simulated, binance
		URL        string        `yaml:"url"`
		Symbols    []string      `yaml:"symbols"`
		Interval   time.Duration `yaml:"interval"`
		Volatility float64       `yaml:"volatility"`
	} `yaml:"price_feed"`
}

// Default returns a configuration that runs a self-contained demo
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.Env = "development"

	cfg.Auth.JWTSecret = "klear-secret-key"
	cfg.Auth.APIKey = "test-api-key"
	cfg.Auth.APISecret = "test-api-secret"
	cfg.Auth.TokenTTL = 24 * time.Hour

	cfg.Account.InitialBalances = map[string]float64{"USD": 10000, "USDT": 10000}
	cfg.Account.TrackedAssets = []string{"BTC", "ETH", "BNB", "SOL", "XRP", "ADA", "DOGE"}
	cfg.Account.InitialPrices = map[string]float64{
		"BTC":  50000,
		"ETH":  3000,
		"BNB":  300,
		"SOL":  100,
		"XRP":  0.5,
		"ADA":  0.4,
		"DOGE": 0.08,
	}
	cfg.Account.DisplayCurrency = "USD"

	cfg.Fees.BaseRate = 0.001
	cfg.Fees.Discount = 0.25
	cfg.Fees.DiscountAsset = "BNB"
	cfg.Fees.QuoteAsset = "USDT"

	cfg.Database.Path = "paper.db"
	cfg.Database.SnapshotInterval = time.Minute
	cfg.Database.Retention = 7 * 24 * time.Hour

	cfg.PriceFeed.Mode = "simulated"
	cfg.PriceFeed.URL = "wss://stream.binance.com:9443/ws/!miniTicker@arr"
	cfg.PriceFeed.Symbols = []string{"BTC", "ETH", "BNB", "SOL"}
	cfg.PriceFeed.Interval = 5 * time.Second
	cfg.PriceFeed.Volatility = 0.005
	return cfg
}

// Load reads an optional YAML file and a .env file, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// .env is optional in every environment
	_ = godotenv.Load()

	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges that would break fee or feed math
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	if c.Fees.BaseRate < 0 {
		return fmt.Errorf("fee base rate must not be negative: %v", c.Fees.BaseRate)
	}
	if c.Fees.Discount < 0 || c.Fees.Discount >= 1 {
		return fmt.Errorf("fee discount must be in [0,1): %v", c.Fees.Discount)
	}
	if c.Fees.QuoteAsset == "" {
		return errors.New("fee quote asset is required")
	}
	for asset, amount := range c.Account.InitialBalances {
		if amount < 0 {
			return fmt.Errorf("initial balance for %s must not be negative", asset)
		}
	}
	if c.Database.SnapshotInterval <= 0 {
		return errors.New("snapshot interval must be positive")
	}
	if c.Database.Retention < 0 {
		return errors.New("snapshot retention must not be negative")
	}
	switch c.PriceFeed.Mode {
	case "none", "simulated":
	case "binance":
		if !strings.HasPrefix(c.PriceFeed.URL, "ws://") && !strings.HasPrefix(c.PriceFeed.URL, "wss://") {
			return fmt.Errorf("invalid price feed url: %s", c.PriceFeed.URL)
		}
	default:
		return fmt.Errorf("unknown price feed mode: %s", c.PriceFeed.Mode)
	}
	if c.PriceFeed.Mode != "none" && c.PriceFeed.Interval <= 0 {
		return errors.New("price feed interval must be positive")
	}
	return nil
}

// Production reports whether ENV is production
func (c *Config) Production() bool {
	return c.Server.Env == "production"
}

func overrideWithEnv(cfg *Config) error {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Server.Env = env
	}
	if debug := os.Getenv("DEBUG"); debug != "" {
		v, err := strconv.ParseBool(debug)
		if err != nil {
			return fmt.Errorf("invalid DEBUG value %q: %w", debug, err)
		}
		cfg.Server.Debug = v
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if key := os.Getenv("API_KEY"); key != "" {
		cfg.Auth.APIKey = key
	}
	if secret := os.Getenv("API_SECRET"); secret != "" {
		cfg.Auth.APISecret = secret
	}
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if mode := os.Getenv("PRICE_FEED"); mode != "" {
		cfg.PriceFeed.Mode = strings.ToLower(mode)
	}
	return nil
}
