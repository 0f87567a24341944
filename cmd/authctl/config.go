package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CLIConfig is the persistent CLI configuration.
type CLIConfig struct {
	Address   string `yaml:"address"`
	Token     string `yaml:"token"`
	TLSCACert string `yaml:"tls_ca_cert"`
	// CatalogFile is the vocabulary used for local catalog queries. Empty
	// uses the built-in catalog.
	CatalogFile string `yaml:"catalog_file,omitempty"`
}

var cfg CLIConfig

func configPath() string {
	if v := os.Getenv("AUTHCTL_CONFIG"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".authctl", "config.yaml")
}

// loadConfig loads the CLI config from disk, falling back to defaults.
func loadConfig() {
	cfg = CLIConfig{Address: "http://127.0.0.1:8300"}
	data, err := os.ReadFile(configPath())
	if err != nil {
		return
	}
	yaml.Unmarshal(data, &cfg) //nolint:errcheck
}

// saveConfig persists the CLI config to disk.
func saveConfig() error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
