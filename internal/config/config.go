// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/walletrisk/internal/security"
)

// Provider holds the credentials of one upstream provider. A provider with
// neither field set runs in simulation mode.
type Provider struct {
	URL string
	Key string
}

// Configured reports whether the provider has what it needs to go live.
func (p Provider) Configured() bool {
	return p.URL != "" && p.Key != ""
}

// Config holds all application configuration
type Config struct {
	// Server settings
	Port         string
	Env          string // "development", "staging", "production"
	LogLevel     string
	LogFormat    string // "json" or "text"
	CORSOrigins  []string
	RateLimitRPM int

	// Optional infrastructure
	DatabaseURL  string // analysis audit trail; in-memory when empty
	OTLPEndpoint string

	// Upstream providers
	UpstreamTimeout time.Duration
	AlchemyKey      string
	AlchemyURL      string // defaults to mainnet with AlchemyKey appended
	Etherscan       Provider
	EtherscanChain  int64
	Elliptic        Provider
	Chainalysis     Provider
	OFAC            Provider

	// Sanctions registry
	SanctionsCacheFile    string
	SanctionsOverrideFile string
	SanctionsSources      []string
	SanctionsInterval     time.Duration

	parseErrs []error
}

const (
	DefaultPort            = "4000"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultRateLimitRPM    = 120
	DefaultUpstreamTimeout = 10 * time.Second
	DefaultAlchemyURL      = "https://eth-mainnet.g.alchemy.com/v2/"
	DefaultEtherscanURL    = "https://api.etherscan.io/v2/api"
	DefaultEtherscanChain  = 1
	DefaultCacheFile       = "ofac-cache.json"
	DefaultOverrideFile    = "sanctioned.local.json"
	DefaultRefreshInterval = 24 * time.Hour
)

// DefaultSanctionsSources are public OFAC lists that carry ETH addresses.
var DefaultSanctionsSources = []string{
	"https://raw.githubusercontent.com/0xB10C/ofac-sanctioned-digital-currency-addresses/lists/sanctioned_addresses_ETH.txt",
	"https://www.treasury.gov/ofac/downloads/sdn.csv",
}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", DefaultPort),
		Env:          getEnv("ENV", DefaultEnv),
		LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:    getEnv("LOG_FORMAT", DefaultLogFormat),
		CORSOrigins:  getEnvList("CORS_ORIGINS", []string{"*"}),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		AlchemyKey: os.Getenv("ALCHEMY_API_KEY"),
		AlchemyURL: os.Getenv("ALCHEMY_URL"),
		Etherscan: Provider{
			URL: getEnv("ETHERSCAN_URL", DefaultEtherscanURL),
			Key: os.Getenv("ETHERSCAN_API_KEY"),
		},
		Elliptic:    Provider{URL: os.Getenv("ELLIPTIC_API_URL"), Key: os.Getenv("ELLIPTIC_API_KEY")},
		Chainalysis: Provider{URL: os.Getenv("CHAINALYSIS_API_URL"), Key: os.Getenv("CHAINALYSIS_API_KEY")},
		OFAC:        Provider{URL: os.Getenv("OFAC_API_URL"), Key: os.Getenv("OFAC_API_KEY")},

		SanctionsCacheFile:    getEnv("SANCTIONS_CACHE_FILE", DefaultCacheFile),
		SanctionsOverrideFile: getEnv("SANCTIONS_OVERRIDE_FILE", DefaultOverrideFile),
		SanctionsSources:      getEnvList("SANCTIONS_SOURCES", DefaultSanctionsSources),
	}
	cfg.RateLimitRPM = int(cfg.getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM))
	cfg.EtherscanChain = cfg.getEnvInt64("ETHERSCAN_CHAIN_ID", DefaultEtherscanChain)
	cfg.UpstreamTimeout = cfg.getEnvDuration("UPSTREAM_TIMEOUT", DefaultUpstreamTimeout)
	cfg.SanctionsInterval = cfg.getEnvDuration("SANCTIONS_REFRESH_INTERVAL", DefaultRefreshInterval)

	if cfg.AlchemyURL == "" && cfg.AlchemyKey != "" {
		cfg.AlchemyURL = DefaultAlchemyURL + cfg.AlchemyKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot work. Missing credentials are not an
// error: the affected provider simulates instead.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.parseErrs...)

	pairs := []struct {
		name string
		p    Provider
	}{
		{"ELLIPTIC", c.Elliptic},
		{"CHAINALYSIS", c.Chainalysis},
		{"OFAC", c.OFAC},
	}
	for _, pair := range pairs {
		if (pair.p.URL == "") != (pair.p.Key == "") {
			errs = append(errs, fmt.Errorf("%s_API_URL and %s_API_KEY must be set together", pair.name, pair.name))
		}
	}

	if c.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("UPSTREAM_TIMEOUT must be positive"))
	}
	if c.SanctionsInterval < time.Minute {
		errs = append(errs, fmt.Errorf("SANCTIONS_REFRESH_INTERVAL must be at least 1m"))
	}
	if c.RateLimitRPM <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPM must be positive"))
	}

	// Only production refuses private upstream hosts; local stacks point
	// providers at mock servers on localhost.
	allowPrivate := !c.IsProduction()
	for _, raw := range c.upstreamURLs() {
		if err := security.ValidateUpstreamURL(raw, allowPrivate); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (c *Config) upstreamURLs() []string {
	var urls []string
	for _, u := range []string{c.AlchemyURL, c.Elliptic.URL, c.Chainalysis.URL, c.OFAC.URL} {
		if u != "" {
			urls = append(urls, u)
		}
	}
	if c.Etherscan.Key != "" && c.Etherscan.URL != "" {
		urls = append(urls, c.Etherscan.URL)
	}
	return append(urls, c.SanctionsSources...)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Errorf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return i
}

func (c *Config) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Errorf("%s: %q is not a duration", key, value))
		return defaultValue
	}
	return d
}
