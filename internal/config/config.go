// Package config loads server configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AUTHCORE_LISTEN_ADDR.
const EnvPrefix = "AUTHCORE"

// Config is the full server configuration.
type Config struct {
	ListenAddr    string `yaml:"listen_addr" envconfig:"LISTEN_ADDR" validate:"required"`
	TLSCertFile   string `yaml:"tls_cert" envconfig:"TLS_CERT" validate:"required_with=TLSKeyFile"`
	TLSKeyFile    string `yaml:"tls_key" envconfig:"TLS_KEY" validate:"required_with=TLSCertFile"`
	DBUrl         string `yaml:"db_url" envconfig:"DATABASE_URL"`
	RedisAddr     string `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	MigrationsDir string `yaml:"migrations_dir" envconfig:"MIGRATIONS_DIR"`
	LogLevel      string `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	CatalogFile   string `yaml:"catalog_file" envconfig:"CATALOG_FILE"`

	Auth      Auth      `yaml:"auth" envconfig:"AUTH"`
	Session   Session   `yaml:"session" envconfig:"SESSION"`
	Observer  Observer  `yaml:"observer" envconfig:"OBSERVER"`
	Detector  Detector  `yaml:"detector" envconfig:"DETECTOR"`
	RateLimit RateLimit `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Bootstrap Bootstrap `yaml:"bootstrap" envconfig:"BOOTSTRAP"`
}

// Auth tunes token issuance and step-up checks.
type Auth struct {
	TokenTTL   time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL" validate:"gt=0"`
	MaxAuthAge time.Duration `yaml:"max_auth_age" envconfig:"MAX_AUTH_AGE" validate:"gt=0"`
	BcryptCost int           `yaml:"bcrypt_cost" envconfig:"BCRYPT_COST" validate:"gte=4,lte=31"`
}

// Session tunes the session watchdog.
type Session struct {
	WarningThreshold time.Duration `yaml:"warning_threshold" envconfig:"WARNING_THRESHOLD" validate:"gt=0,ltefield=RefreshThreshold"`
	RefreshThreshold time.Duration `yaml:"refresh_threshold" envconfig:"REFRESH_THRESHOLD" validate:"gt=0"`
	PollInterval     time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL" validate:"gt=0"`
}

// Observer tunes the permission observer.
type Observer struct {
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL" validate:"gt=0"`
}

// Detector tunes anomaly detection.
type Detector struct {
	FailureWindow     time.Duration `yaml:"failure_window" envconfig:"FAILURE_WINDOW" validate:"gt=0"`
	FailureThreshold  int           `yaml:"failure_threshold" envconfig:"FAILURE_THRESHOLD" validate:"gte=1"`
	LowPrivilegeRoles []string      `yaml:"low_privilege_roles" envconfig:"LOW_PRIVILEGE_ROLES" validate:"dive,required"`
	// CoalesceWindow enables alert coalescing when positive.
	CoalesceWindow time.Duration `yaml:"coalesce_window" envconfig:"COALESCE_WINDOW" validate:"gte=0"`
}

// RateLimit bounds requests per client IP.
type RateLimit struct {
	Requests int           `yaml:"requests" envconfig:"REQUESTS" validate:"gte=1"`
	Window   time.Duration `yaml:"window" envconfig:"WINDOW" validate:"gt=0"`
}

// Bootstrap creates an admin principal at startup when both fields are set.
type Bootstrap struct {
	PrincipalID string `yaml:"principal_id" envconfig:"PRINCIPAL_ID" validate:"required_with=Password"`
	Password    string `yaml:"password" envconfig:"PASSWORD" validate:"required_with=PrincipalID"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:    ":8300",
		MigrationsDir: "migrations",
		LogLevel:      "info",
		Auth: Auth{
			TokenTTL:   time.Hour,
			MaxAuthAge: 15 * time.Minute,
			BcryptCost: 10,
		},
		Session: Session{
			WarningThreshold: 5 * time.Minute,
			RefreshThreshold: 10 * time.Minute,
			PollInterval:     60 * time.Second,
		},
		Observer: Observer{PollInterval: 30 * time.Second},
		Detector: Detector{
			FailureWindow:     5 * time.Minute,
			FailureThreshold:  3,
			LowPrivilegeRoles: []string{"worker", "client"},
		},
		RateLimit: RateLimit{Requests: 100, Window: time.Second},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Warn().Str("file", path).Msg("config file not found, using defaults")
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
