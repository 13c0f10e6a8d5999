package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingIssuer = errors.New("identity provider issuer is not configured")
)

// Config holds the full bridge configuration. It is validated once at
// construction; operations never re-discover settings from the environment.
type Config struct {
	// IssuerURL is the identity provider issuer. Required: token verification
	// compares the issuer claim against this value exactly.
	IssuerURL string `env:"AUTHBRIDGE_ISSUER_URL"`

	// FrontendURL is the IdP login page the browser is sent to.
	// Defaults to IssuerURL.
	FrontendURL string `env:"AUTHBRIDGE_FRONTEND_URL"`

	// ClientID and ClientSecret are optional IdP application credentials used
	// only for profile enrichment. Their absence degrades profile richness,
	// never authentication.
	ClientID     string `env:"AUTHBRIDGE_CLIENT_ID"`
	ClientSecret string `env:"AUTHBRIDGE_CLIENT_SECRET"`

	// URISchemes are the custom URI schemes registered for deep-link
	// callbacks. The first one is used when building redirect URIs.
	URISchemes []string `env:"AUTHBRIDGE_URI_SCHEMES" envDefault:"authbridge"`

	// LoginTTL bounds how long a started login may wait for its callback.
	LoginTTL time.Duration `env:"AUTHBRIDGE_LOGIN_TTL" envDefault:"5m"`

	// ClockSkew is the tolerance applied when checking token expiry.
	ClockSkew time.Duration `env:"AUTHBRIDGE_CLOCK_SKEW" envDefault:"10s"`

	// KeySetTTL bounds how long a fetched JWKS is reused.
	KeySetTTL time.Duration `env:"AUTHBRIDGE_KEYSET_TTL" envDefault:"10m"`

	// KeyFetchPerMinute caps outbound JWKS fetches.
	KeyFetchPerMinute int `env:"AUTHBRIDGE_KEY_FETCH_PER_MINUTE" envDefault:"10"`

	// SecretService namespaces entries in the OS secret store.
	SecretService string `env:"AUTHBRIDGE_SECRET_SERVICE" envDefault:"dev.authbridge.credentials"`

	LogLevel string `env:"AUTHBRIDGE_LOG_LEVEL" envDefault:"info"`
}

// FromEnv builds a Config from the environment, loading a .env file first if
// one is present. Validation failures are returned immediately rather than
// deferred to first use.
func FromEnv() (*Config, error) {
	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileConfig mirrors Config for YAML decoding. Durations are strings here
// because yaml.v3 has no native time.Duration support.
type fileConfig struct {
	IssuerURL         string   `yaml:"issuerUrl"`
	FrontendURL       string   `yaml:"frontendUrl"`
	ClientID          string   `yaml:"clientId"`
	ClientSecret      string   `yaml:"clientSecret"`
	URISchemes        []string `yaml:"uriSchemes"`
	LoginTTL          string   `yaml:"loginTTL"`
	ClockSkew         string   `yaml:"clockSkew"`
	KeySetTTL         string   `yaml:"keySetTTL"`
	KeyFetchPerMinute *int     `yaml:"keyFetchPerMinute"`
	SecretService     string   `yaml:"secretService"`
	LogLevel          string   `yaml:"logLevel"`
}

// FromFile builds a Config from a YAML file layered over environment values.
func FromFile(path string) (*Config, error) {
	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := fc.apply(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apply overlays the file's set fields onto cfg.
func (fc *fileConfig) apply(cfg *Config) error {
	if fc.IssuerURL != "" {
		cfg.IssuerURL = fc.IssuerURL
	}
	if fc.FrontendURL != "" {
		cfg.FrontendURL = fc.FrontendURL
	}
	if fc.ClientID != "" {
		cfg.ClientID = fc.ClientID
	}
	if fc.ClientSecret != "" {
		cfg.ClientSecret = fc.ClientSecret
	}
	if len(fc.URISchemes) > 0 {
		cfg.URISchemes = fc.URISchemes
	}
	if fc.KeyFetchPerMinute != nil {
		cfg.KeyFetchPerMinute = *fc.KeyFetchPerMinute
	}
	if fc.SecretService != "" {
		cfg.SecretService = fc.SecretService
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}

	for _, d := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{fc.LoginTTL, "loginTTL", &cfg.LoginTTL},
		{fc.ClockSkew, "clockSkew", &cfg.ClockSkew},
		{fc.KeySetTTL, "keySetTTL", &cfg.KeySetTTL},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s in config file: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

func fromEnv() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and applies defaults for derived ones.
func (c *Config) Validate() error {
	if c.IssuerURL == "" {
		return ErrMissingIssuer
	}
	if c.FrontendURL == "" {
		c.FrontendURL = c.IssuerURL
	}
	if len(c.URISchemes) == 0 {
		c.URISchemes = []string{"authbridge"}
	}
	if c.LoginTTL <= 0 {
		c.LoginTTL = 5 * time.Minute
	}
	if c.ClockSkew < 0 {
		c.ClockSkew = 10 * time.Second
	}
	if c.KeySetTTL <= 0 {
		c.KeySetTTL = 10 * time.Minute
	}
	if c.KeyFetchPerMinute <= 0 {
		c.KeyFetchPerMinute = 10
	}
	if c.SecretService == "" {
		c.SecretService = "dev.authbridge.credentials"
	}
	return nil
}

// RedirectURI returns the deep-link callback URI for the primary scheme.
func (c *Config) RedirectURI() string {
	return c.URISchemes[0] + "://auth/callback"
}
