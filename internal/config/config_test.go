package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, `
listen_addr: ":9000"
db_url: postgres://from-file
session:
  warning_threshold: 2m
  refresh_threshold: 4m
detector:
  failure_threshold: 5
  coalesce_window: 1m
`)
	t.Setenv("AUTHCORE_DATABASE_URL", "postgres://from-env")
	t.Setenv("AUTHCORE_OBSERVER_POLL_INTERVAL", "15s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "postgres://from-env", cfg.DBUrl)
	assert.Equal(t, 2*time.Minute, cfg.Session.WarningThreshold)
	assert.Equal(t, 4*time.Minute, cfg.Session.RefreshThreshold)
	assert.Equal(t, 60*time.Second, cfg.Session.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.Observer.PollInterval)
	assert.Equal(t, 5, cfg.Detector.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Detector.CoalesceWindow)
}

func TestValidationFailures(t *testing.T) {
	cases := map[string]func(c *Config){
		"warning above refresh": func(c *Config) { c.Session.WarningThreshold = 20 * time.Minute },
		"zero threshold":        func(c *Config) { c.Detector.FailureThreshold = 0 },
		"bad log level":         func(c *Config) { c.LogLevel = "loud" },
		"cert without key":      func(c *Config) { c.TLSCertFile = "cert.pem" },
		"half bootstrap":        func(c *Config) { c.Bootstrap.PrincipalID = "root" },
		"no token ttl":          func(c *Config) { c.Auth.TokenTTL = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMalformedYAML(t *testing.T) {
	_, err := Load(writeFile(t, "listen_addr: [unterminated"))
	assert.Error(t, err)
}
