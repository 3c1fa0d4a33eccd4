// Package config provides environment-variable-first configuration loading
// with optional YAML file and .env fallbacks for the mail tools.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultGraphTimeout = 30 * time.Second

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider"`
	Graph    GraphConfig   `yaml:"graph"`
	SES      SESConfig     `yaml:"ses"`
	Store    StoreConfig   `yaml:"store"`
	Logging  LoggingConfig `yaml:"logging"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string        `yaml:"tenant_id"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	FromAddress  string        `yaml:"from_address"`
	FromName     string        `yaml:"from_name"`
	MaxRetries   int           `yaml:"max_retries"`
	Timeout      time.Duration `yaml:"timeout"`
	// LoginURL and APIURL select a national cloud. Empty means the public
	// Microsoft endpoints.
	LoginURL string `yaml:"login_url"`
	APIURL   string `yaml:"api_url"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
	MaxRetries      int    `yaml:"max_retries"`
}

// StoreConfig holds the local SQLite store location. An empty path keeps
// tokens in memory only.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SecretLookup finds a stored Graph client secret.
type SecretLookup interface {
	ClientSecret(tenantID, clientID string) (string, bool, error)
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// LoadEnvFile exports the variables of a .env file into the process
// environment. Variables that are already set keep their values.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplySecrets fills a missing Graph client secret from the given lookup.
// It does nothing when the secret is already set or the tenant and client
// IDs are unknown.
func (c *Config) ApplySecrets(lookup SecretLookup) error {
	if c.Graph.ClientSecret != "" || c.Graph.TenantID == "" || c.Graph.ClientID == "" {
		return nil
	}
	secret, ok, err := lookup.ClientSecret(c.Graph.TenantID, c.Graph.ClientID)
	if err != nil {
		return fmt.Errorf("failed to look up client secret: %w", err)
	}
	if ok {
		c.Graph.ClientSecret = secret
	}
	return nil
}

// GraphCredentialsSet returns true if the tenant, client ID and client
// secret are all set.
func (c *Config) GraphCredentialsSet() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}

// GraphConfigured returns true if the Graph credentials and the default
// from-address are set.
func (c *Config) GraphConfigured() bool {
	return c.GraphCredentialsSet() && c.Graph.FromAddress != ""
}

// SESConfigured returns true if the SES region and sender are set. Access
// keys are optional and fall back to the default AWS credential chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Graph.Timeout = defaultGraphTimeout
	c.Logging.Level = "info"
	c.Logging.Format = "json"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_FROM_ADDRESS"); v != "" {
		c.Graph.FromAddress = v
	}
	if v := os.Getenv("GRAPH_FROM_NAME"); v != "" {
		c.Graph.FromName = v
	}
	if v := os.Getenv("GRAPH_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Graph.MaxRetries = n
		}
	}
	if v := os.Getenv("GRAPH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Graph.Timeout = d
		}
	}
	if v := os.Getenv("GRAPH_LOGIN_URL"); v != "" {
		c.Graph.LoginURL = v
	}
	if v := os.Getenv("GRAPH_API_URL"); v != "" {
		c.Graph.APIURL = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}
	if v := os.Getenv("SES_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.SES.MaxRetries = n
		}
	}

	if v := os.Getenv("STORE_PATH"); v != "" {
		c.Store.Path = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}
