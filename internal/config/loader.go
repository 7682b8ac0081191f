package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/cashout/internal/provider"
)

// DefaultUSDCMint is USDC on Solana mainnet.
const DefaultUSDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// Load reads a cashout configuration from the given YAML file, applies
// environment overrides and then defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for YAML already in memory.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./cashout.yaml, ~/.cashout/config.yaml.
// With no file, the config is built from environment and defaults alone.
func LoadDefault() (*Config, string, error) {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	cfg, err := Parse(nil)
	return cfg, "", err
}

// SearchPaths lists the locations LoadDefault tries, in order.
func SearchPaths() []string {
	candidates := []string{"cashout.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".cashout", "config.yaml"))
	}
	return candidates
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CASHOUT_WALLET_ADDRESS"); v != "" {
		cfg.Wallet.Address = v
	}
	if v := os.Getenv("CASHOUT_SUB_ORG_ID"); v != "" {
		cfg.Wallet.SubOrgID = v
	}
	if v := os.Getenv("CASHOUT_USER_ID"); v != "" {
		cfg.Wallet.UserID = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.PostgresURL = v
	}
	if v := os.Getenv("CASHOUT_OFFRAMP_API_KEY"); v != "" {
		cfg.Providers.Offramp.APIKey = v
	}
	if v := os.Getenv("CASHOUT_OFFRAMP_SECRET"); v != "" {
		cfg.Providers.Offramp.SecretKey = v
	}
	if v := os.Getenv("CASHOUT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Wallet.FiatCurrency == "" {
		cfg.Wallet.FiatCurrency = "usd"
	}
	if cfg.Wallet.UserID == "" {
		cfg.Wallet.UserID = cfg.Wallet.Address
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "badger"
		if cfg.Store.PostgresURL != "" {
			cfg.Store.Backend = "postgres"
		}
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "~/.cashout"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.cashout/state"
	}
	if cfg.Store.Owner == "" {
		cfg.Store.Owner = cfg.Wallet.Address
	}

	if cfg.Providers.USDCMint == "" {
		cfg.Providers.USDCMint = DefaultUSDCMint
	}

	if cfg.Jitter.Tick == "" {
		cfg.Jitter.Tick = "1s"
	}
	if cfg.Compliance.Timeout == "" {
		cfg.Compliance.Timeout = "30s"
	}
	if cfg.EventLog.Path == "" {
		cfg.EventLog.Path = "~/.cashout/cashout.db"
	}
	if cfg.Serve.Addr == "" {
		cfg.Serve.Addr = "127.0.0.1:8547"
	}
	if cfg.Watcher.Schedule == "" {
		cfg.Watcher.Schedule = "*/30 * * * * *"
	}
}

// Duration parses s, treating "" as zero.
func Duration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}

// Options converts p to client options. The timeout must already have
// passed Validate.
func (p Provider) Options() provider.Options {
	timeout, _ := Duration(p.Timeout)
	return provider.Options{
		BaseURL:       p.BaseURL,
		APIKey:        p.APIKey,
		Timeout:       timeout,
		RatePerSecond: p.RatePerSecond,
		Burst:         p.Burst,
	}
}

// OfframpOptions converts o to off-ramp client options.
func (o Offramp) OfframpOptions() provider.OfframpOptions {
	return provider.OfframpOptions{
		Options:       o.Provider.Options(),
		HostedBaseURL: o.HostedURL,
		SecretKey:     o.SecretKey,
		CryptoCode:    o.CryptoCode,
		Decimals:      o.Decimals,
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
