// Package config loads gateway configuration from the environment (with an
// optional .env file) and an optional YAML overlay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/nordledger/gateway/internal/core"
)

// Mode selects the deployment flavor. Self-hosted mode permits the
// Authorization-header credential fallback on consent-scoped routes; hosted
// mode disables it.
type Mode string

const (
	ModeHosted     Mode = "hosted"
	ModeSelfHosted Mode = "self-hosted"
)

// VendorConfig holds one vendor's OAuth client and rate-limit settings. A
// vendor with no client id is disabled: its routes answer 501.
type VendorConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	BaseURL      string `yaml:"base_url"`
	TokenURL     string `yaml:"token_url"`
	AuthURL      string `yaml:"auth_url"`
	// MaxRequests per Window drives the vendor's token bucket.
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	Enabled     bool          `yaml:"enabled"`
}

// Configured reports whether the vendor can serve requests.
func (v VendorConfig) Configured() bool { return v.Enabled }

// Config is the process-wide configuration.
type Config struct {
	Port        string `yaml:"port"`
	Mode        Mode   `yaml:"mode"`
	DatabaseURL string `yaml:"database_url"`
	// EncryptionKey is 64 hex chars (AES-256). Empty is permitted only for
	// development; tokens are then stored in plaintext.
	EncryptionKey string `yaml:"encryption_key"`
	// LegacyTenantKeys maps a static per-tenant API key hash to a tenant id.
	// Supported for one release as a migration path.
	LegacyTenantKeys map[string]string `yaml:"legacy_tenant_keys"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	OTCLifetime    time.Duration `yaml:"otc_lifetime"`

	EnableCron bool `yaml:"enable_cron"`

	Vendors map[core.Provider]VendorConfig `yaml:"vendors"`
}

// vendor base URLs used unless overridden.
var defaultBaseURLs = map[core.Provider]string{
	core.ProviderFortnox:     "https://api.fortnox.se/3",
	core.ProviderVisma:       "https://eaccountingapi.vismaonline.com/v2",
	core.ProviderBriox:       "https://api.briox.se/v1",
	core.ProviderBokio:       "https://api.bokio.se/v1",
	core.ProviderBjornLunden: "https://apigateway.blinfo.se/bla-api/v1",
}

var defaultTokenURLs = map[core.Provider]string{
	core.ProviderFortnox:     "https://apps.fortnox.se/oauth-v1/token",
	core.ProviderVisma:       "https://identity.vismaonline.com/connect/token",
	core.ProviderBriox:       "https://apps.briox.se/oauth/token",
	core.ProviderBjornLunden: "https://apigateway.blinfo.se/auth/oauth/v2/token",
}

var defaultAuthURLs = map[core.Provider]string{
	core.ProviderFortnox: "https://apps.fortnox.se/oauth-v1/auth",
	core.ProviderVisma:   "https://identity.vismaonline.com/connect/authorize",
}

// Load reads configuration. A .env file is honored when present; a YAML file
// path may be supplied for overrides. Required settings missing ⇒ error (the
// caller exits non-zero).
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load() // best effort; env vars win regardless

	cfg := &Config{
		Port:           envOr("PORT", "8080"),
		Mode:           Mode(envOr("GATEWAY_MODE", string(ModeHosted))),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		EncryptionKey:  os.Getenv("TOKEN_ENCRYPTION_KEY"),
		RequestTimeout: envDuration("REQUEST_TIMEOUT", 60*time.Second),
		OTCLifetime:    envDuration("OTC_LIFETIME", 60*time.Minute),
		EnableCron:     envBool("ENABLE_CRON", true),
		Vendors:        make(map[core.Provider]VendorConfig),
	}

	for _, p := range []core.Provider{
		core.ProviderFortnox, core.ProviderVisma, core.ProviderBriox,
		core.ProviderBokio, core.ProviderBjornLunden,
	} {
		cfg.Vendors[p] = vendorFromEnv(p)
	}

	if yamlPath != "" {
		if err := cfg.applyYAML(yamlPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyYAML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var overlay Config
	if err := yaml.NewDecoder(f).Decode(&overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if overlay.Port != "" {
		c.Port = overlay.Port
	}
	if overlay.Mode != "" {
		c.Mode = overlay.Mode
	}
	if overlay.DatabaseURL != "" {
		c.DatabaseURL = overlay.DatabaseURL
	}
	if overlay.EncryptionKey != "" {
		c.EncryptionKey = overlay.EncryptionKey
	}
	if overlay.RequestTimeout != 0 {
		c.RequestTimeout = overlay.RequestTimeout
	}
	if overlay.OTCLifetime != 0 {
		c.OTCLifetime = overlay.OTCLifetime
	}
	if overlay.LegacyTenantKeys != nil {
		c.LegacyTenantKeys = overlay.LegacyTenantKeys
	}
	for p, v := range overlay.Vendors {
		c.Vendors[p] = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.Mode != ModeHosted && c.Mode != ModeSelfHosted {
		return fmt.Errorf("config: GATEWAY_MODE must be %q or %q", ModeHosted, ModeSelfHosted)
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 64 {
		return fmt.Errorf("config: TOKEN_ENCRYPTION_KEY must be 64 hex chars")
	}
	return nil
}

// Vendor returns the configuration for a provider.
func (c *Config) Vendor(p core.Provider) VendorConfig {
	return c.Vendors[p]
}

func vendorFromEnv(p core.Provider) VendorConfig {
	prefix := envPrefix(p)
	v := VendorConfig{
		ClientID:     os.Getenv(prefix + "_CLIENT_ID"),
		ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
		RedirectURI:  os.Getenv(prefix + "_REDIRECT_URI"),
		BaseURL:      envOr(prefix+"_BASE_URL", defaultBaseURLs[p]),
		TokenURL:     envOr(prefix+"_TOKEN_URL", defaultTokenURLs[p]),
		AuthURL:      envOr(prefix+"_AUTH_URL", defaultAuthURLs[p]),
		MaxRequests:  envInt(prefix+"_MAX_REQUESTS", defaultRateLimit(p)),
		Window:       envDuration(prefix+"_WINDOW", 5*time.Second),
	}
	// Bokio is static-token: no OAuth client needed, enabled by toggle.
	if p == core.ProviderBokio {
		v.Enabled = envBool(prefix+"_ENABLED", true)
	} else {
		v.Enabled = v.ClientID != "" && envBool(prefix+"_ENABLED", true)
	}
	return v
}

// defaultRateLimit returns per-vendor caps matching the published API limits.
func defaultRateLimit(p core.Provider) int {
	switch p {
	case core.ProviderFortnox:
		return 20 // 4 req/s documented cap
	case core.ProviderVisma:
		return 30
	case core.ProviderBriox:
		return 15
	case core.ProviderBokio:
		return 25
	case core.ProviderBjornLunden:
		return 10
	default:
		return 10
	}
}

func envPrefix(p core.Provider) string {
	switch p {
	case core.ProviderFortnox:
		return "FORTNOX"
	case core.ProviderVisma:
		return "VISMA"
	case core.ProviderBriox:
		return "BRIOX"
	case core.ProviderBokio:
		return "BOKIO"
	case core.ProviderBjornLunden:
		return "BJORNLUNDEN"
	default:
		return "VENDOR"
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
