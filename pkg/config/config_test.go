package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvRequiresIssuer(t *testing.T) {
	t.Setenv("AUTHBRIDGE_ISSUER_URL", "")

	_, err := FromEnv()
	require.ErrorIs(t, err, ErrMissingIssuer)
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("AUTHBRIDGE_ISSUER_URL", "https://id.example.com")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://id.example.com", cfg.IssuerURL)
	assert.Equal(t, "https://id.example.com", cfg.FrontendURL)
	assert.Equal(t, []string{"authbridge"}, cfg.URISchemes)
	assert.Equal(t, 5*time.Minute, cfg.LoginTTL)
	assert.Equal(t, 10*time.Second, cfg.ClockSkew)
	assert.Equal(t, 10*time.Minute, cfg.KeySetTTL)
	assert.Equal(t, 10, cfg.KeyFetchPerMinute)
	assert.Equal(t, "dev.authbridge.credentials", cfg.SecretService)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("AUTHBRIDGE_ISSUER_URL", "https://id.example.com")
	t.Setenv("AUTHBRIDGE_FRONTEND_URL", "https://app.example.com")
	t.Setenv("AUTHBRIDGE_LOGIN_TTL", "90s")
	t.Setenv("AUTHBRIDGE_CLOCK_SKEW", "30s")
	t.Setenv("AUTHBRIDGE_KEY_FETCH_PER_MINUTE", "3")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com", cfg.FrontendURL)
	assert.Equal(t, 90*time.Second, cfg.LoginTTL)
	assert.Equal(t, 30*time.Second, cfg.ClockSkew)
	assert.Equal(t, 3, cfg.KeyFetchPerMinute)
}

func TestFromFile(t *testing.T) {
	t.Setenv("AUTHBRIDGE_ISSUER_URL", "")

	path := filepath.Join(t.TempDir(), "authbridge.yaml")
	data := []byte("issuerUrl: https://id.example.com\nfrontendUrl: https://app.example.com\nloginTTL: 2m\n")
	require.NoError(t, os.WriteFile(path, data, 0600))

	cfg, err := FromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://id.example.com", cfg.IssuerURL)
	assert.Equal(t, "https://app.example.com", cfg.FrontendURL)
	assert.Equal(t, 2*time.Minute, cfg.LoginTTL)
	// Untouched fields keep their defaults.
	assert.Equal(t, 10*time.Minute, cfg.KeySetTTL)
}

func TestRedirectURI(t *testing.T) {
	cfg := &Config{IssuerURL: "https://id.example.com", URISchemes: []string{"myapp", "myapp-dev"}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "myapp://auth/callback", cfg.RedirectURI())
}
