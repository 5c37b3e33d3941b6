// Package config loads the cashier's environment configuration.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/tablecash/cashier/internal/event"
	"github.com/tablecash/cashier/internal/rate"
)

type Config struct {
	// HTTP server
	Port string `env:"PORT" envDefault:"8080"`

	// Bot wallet; tips to any other receiver are ignored.
	BotAddressHex string `env:"CASHIER_BOT_ADDRESS,required,notEmpty"`

	// Exchange rate
	EthUsdRate       string        `env:"ETH_USD_RATE"`
	PriceFeedEnabled bool          `env:"PRICE_FEED_ENABLED" envDefault:"true"`
	PriceFeedURL     string        `env:"PRICE_FEED_URL" envDefault:"https://api.coingecko.com/api/v3/simple/price?ids=ethereum&vs_currencies=usd"`
	PriceFeedTimeout time.Duration `env:"PRICE_FEED_TIMEOUT" envDefault:"5s"`

	// Payout gateway
	PayoutURL     string        `env:"PAYOUT_URL"`
	PayoutToken   string        `env:"PAYOUT_TOKEN"`
	PayoutTimeout time.Duration `env:"PAYOUT_TIMEOUT" envDefault:"15s"`
	EchoTips      bool          `env:"ECHO_TIPS" envDefault:"true"`

	// Chat delivery
	DiscordToken string `env:"DISCORD_TOKEN"`

	// Event de-duplication
	RedisURL string        `env:"REDIS_URL"`
	DedupTTL time.Duration `env:"DEDUP_TTL" envDefault:"24h"`

	// Derived in Load.
	BotAddress common.Address      `env:"-"`
	StaticRate decimal.NullDecimal `env:"-"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	addr, err := event.ParseAddress(cfg.BotAddressHex)
	if err != nil {
		return nil, fmt.Errorf("CASHIER_BOT_ADDRESS: %w", err)
	}
	cfg.BotAddress = addr

	if cfg.StaticRate, err = rate.ParseStatic(cfg.EthUsdRate); err != nil {
		return nil, err
	}

	if !cfg.PriceFeedEnabled && !cfg.StaticRate.Valid {
		return nil, errors.New("ETH_USD_RATE is required when PRICE_FEED_ENABLED=false")
	}
	if cfg.PayoutTimeout <= 0 || cfg.PriceFeedTimeout <= 0 {
		return nil, errors.New("PAYOUT_TIMEOUT and PRICE_FEED_TIMEOUT must be positive")
	}
	if cfg.DedupTTL <= 0 {
		return nil, errors.New("DEDUP_TTL must be positive")
	}

	return &cfg, nil
}
