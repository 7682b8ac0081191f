package config

// Config is the top-level configuration parsed from cashout YAML.
type Config struct {
	Wallet     Wallet     `yaml:"wallet"`
	Store      Store      `yaml:"store"`
	Providers  Providers  `yaml:"providers"`
	Compliance Compliance `yaml:"compliance"`
	Jitter     Jitter     `yaml:"jitter"`
	EventLog   EventLog   `yaml:"event_log"`
	Log        Log        `yaml:"log"`
	Serve      Serve      `yaml:"serve"`
	Watcher    Watcher    `yaml:"watcher"`
}

// Wallet identifies the user the cash-out runs for.
type Wallet struct {
	Address      string `yaml:"address" validate:"required"`
	SubOrgID     string `yaml:"sub_org_id" validate:"required"`
	UserID       string `yaml:"user_id"`
	FiatCurrency string `yaml:"fiat_currency" validate:"omitempty,len=3,alpha"`
}

// Store selects where the active attempt is persisted.
type Store struct {
	// Backend is one of file, badger, postgres or memory.
	Backend string `yaml:"backend" validate:"oneof=file badger postgres memory"`
	// Dir holds the JSON snapshot for the file backend.
	Dir string `yaml:"dir"`
	// Path is the badger directory.
	Path        string `yaml:"path"`
	PostgresURL string `yaml:"postgres_url"`
	// Owner keys the postgres row. Defaults to the wallet address.
	Owner string `yaml:"owner"`
}

// Provider configures one collaborator HTTP client.
type Provider struct {
	BaseURL       string  `yaml:"base_url" validate:"omitempty,url"`
	APIKey        string  `yaml:"api_key"`
	Timeout       string  `yaml:"timeout"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int     `yaml:"burst" validate:"gte=0"`
}

// Offramp configures the fiat off-ramp.
type Offramp struct {
	Provider   `yaml:",inline"`
	HostedURL  string `yaml:"hosted_url" validate:"omitempty,url"`
	SecretKey  string `yaml:"secret_key"`
	CryptoCode string `yaml:"crypto_code"`
	Decimals   uint8  `yaml:"decimals" validate:"lte=18"`
}

// Providers lists every external collaborator.
type Providers struct {
	USDCMint   string   `yaml:"usdc_mint" validate:"required"`
	Compliance Provider `yaml:"compliance"`
	Custody    Provider `yaml:"custody"`
	Swap       Provider `yaml:"swap"`
	Pool       Provider `yaml:"pool"`
	Offramp    Offramp  `yaml:"offramp"`
}

// Compliance configures the prescreen gate.
type Compliance struct {
	Timeout string `yaml:"timeout"`
}

// Jitter configures the swap-to-shield delay countdown.
type Jitter struct {
	Tick string `yaml:"tick"`
}

// EventLog configures the SQLite event log.
type EventLog struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path"`
}

// Log configures the process logger.
type Log struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

// Serve configures the local HTTP API.
type Serve struct {
	Addr string `yaml:"addr" validate:"required"`
}

// Watcher configures the payout poller.
type Watcher struct {
	Disabled bool   `yaml:"disabled"`
	Schedule string `yaml:"schedule"`
}
