package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/cloudx-io/escrowhouse/core"
)

// Config is read from AUCTIOND_* environment variables.
type Config struct {
	Admins []string `env:"ADMINS,required" envSeparator:","`

	TreasuryIdentity string `env:"TREASURY,required"`
	FeeAsset         string `env:"FEE_ASSET" envDefault:"SOL"`

	// Fee is in base units of FeeAsset.
	Fee uint64 `env:"FEE" envDefault:"25000000"`

	// AssetDecimals lists display precision per asset, e.g. "USDC:6,SOL:9".
	AssetDecimals map[string]string `env:"ASSET_DECIMALS" envDefault:"SOL:9" envSeparator:"," envKeyValSeparator:":"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"` // memory, sqlite or postgres
	StoreDSN    string `env:"STORE_DSN"`

	LedgerBackend string `env:"LEDGER" envDefault:"memory"` // memory or redis
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	AllowDeposits bool   `env:"ALLOW_DEPOSITS" envDefault:"false"`

	NATSURL string `env:"NATS_URL"`

	EnableVsock bool   `env:"ENABLE_VSOCK" envDefault:"false"`
	VsockPort   uint32 `env:"VSOCK_PORT" envDefault:"5000"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	MaxWorkers  int    `env:"MAX_WORKERS" envDefault:"64"`

	Receipts bool `env:"RECEIPTS" envDefault:"true"`
	Debug    bool `env:"DEBUG" envDefault:"false"`
}

// LoadConfig parses the environment and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "AUCTIOND_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "memory":
	case "sqlite", "postgres":
		if c.StoreDSN == "" {
			return fmt.Errorf("AUCTIOND_STORE_DSN is required for store driver %s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unsupported store driver %q", c.StoreDriver)
	}
	switch c.LedgerBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported ledger %q", c.LedgerBackend)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("AUCTIOND_MAX_WORKERS must be positive, got %d", c.MaxWorkers)
	}
	_, err := c.Decimals()
	return err
}

// AdminIdentities returns the creation allowlist.
func (c *Config) AdminIdentities() []core.Identity {
	out := make([]core.Identity, 0, len(c.Admins))
	for _, a := range c.Admins {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, core.Identity(a))
		}
	}
	return out
}

// Treasury returns the reclaim fee configuration.
func (c *Config) Treasury() core.Treasury {
	return core.Treasury{
		Identity: core.Identity(c.TreasuryIdentity),
		FeeAsset: core.Asset(c.FeeAsset),
		Fee:      c.Fee,
	}
}

// Decimals parses AssetDecimals.
func (c *Config) Decimals() (map[core.Asset]int32, error) {
	out := make(map[core.Asset]int32, len(c.AssetDecimals))
	for asset, v := range c.AssetDecimals {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
		if err != nil || n < 0 || n > 18 {
			return nil, fmt.Errorf("invalid decimals %q for asset %s", v, asset)
		}
		out[core.Asset(strings.TrimSpace(asset))] = int32(n)
	}
	return out, nil
}
