package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for csync. Environment variables take
// precedence; a YAML config file fills in anything the environment left
// unset.
type Config struct {
	// Confluence instance base URL, e.g. https://example.atlassian.net/wiki
	BaseURL string `env:"CONFLUENCE_URL" yaml:"base_url"`

	// Account email used for basic auth.
	Username string `env:"CONFLUENCE_USERNAME" yaml:"username"`

	// Atlassian API token used as the basic auth password.
	APIToken string `env:"ATLASSIAN_TOKEN" yaml:"api_token"`

	// Environment controls log format ("development" or "production").
	Environment string `env:"ENVIRONMENT" envDefault:"development" yaml:"environment"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the API token to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables, then fills unset
// fields from the first config file found. It first attempts to load a
// .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := cfg.fillFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file present, checking the
// working directory, then XDG config, then ~/.config/csync.
func findConfigFile() string {
	if _, err := os.Stat(".csync.yaml"); err == nil {
		return ".csync.yaml"
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		p := filepath.Join(xdg, "csync", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	p := filepath.Join(home, ".config", "csync", "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p
	}

	return ""
}

// fillFromFile reads a YAML config file and copies values into fields
// the environment left empty. Environment variables always win.
func (c *Config) fillFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from a fixed search list
	if err != nil {
		return err
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	if c.BaseURL == "" {
		c.BaseURL = file.BaseURL
	}

	if c.Username == "" {
		c.Username = file.Username
	}

	if c.APIToken == "" {
		c.APIToken = file.APIToken
	}

	if file.Environment != "" && os.Getenv("ENVIRONMENT") == "" {
		c.Environment = file.Environment
	}

	return nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("CONFLUENCE_URL is required")
	}

	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("CONFLUENCE_URL must start with http:// or https://")
	}

	if c.Username == "" {
		return fmt.Errorf("CONFLUENCE_USERNAME is required")
	}

	if c.APIToken == "" {
		return fmt.Errorf("ATLASSIAN_TOKEN is required")
	}

	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
