package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the marketplace engine.
// Configuration comes from a YAML file (config.yaml) with environment
// variable overrides. Secrets (passwords) must only come from environment
// variables. The Config object is constructed once at the dependency
// injection root and passed by reference; Reload re-reads the same sources
// in place.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8086"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Marketplace behavior
	Marketplace MarketplaceConfig `yaml:"marketplace"`

	// path the config was loaded from, retained for Reload
	path string
	mu   sync.Mutex
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT signatures are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"marketplace"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"marketplace_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// MarketplaceConfig holds marketplace behavior settings.
type MarketplaceConfig struct {
	// DefaultPageSize is the page size used when a list request omits limit.
	DefaultPageSize int `yaml:"default_page_size" env:"MARKETPLACE_DEFAULT_PAGE_SIZE" env-default:"10"`
	// MaxPageSize caps the limit a list request can ask for.
	MaxPageSize int `yaml:"max_page_size" env:"MARKETPLACE_MAX_PAGE_SIZE" env-default:"100"`
}

// Load reads configuration from the given YAML path with environment
// variable overrides. The version parameter is injected at build time.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
		path:    path,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Reload re-reads configuration from the original file and environment.
// Safe to call while the process is serving; callers observe the new values
// on their next read.
func (c *Config) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := Config{Version: c.Version, path: c.path}
	if err := cleanenv.ReadConfig(c.path, &fresh); err != nil {
		return fmt.Errorf("failed to reload %s: %w", c.path, err)
	}
	fresh.Auth.JWKSEndpoints = parseJWKSEndpoints(fresh.Auth.JWKSEndpointsStr)
	if err := fresh.validate(); err != nil {
		return err
	}

	c.BindAddr = fresh.BindAddr
	c.Port = fresh.Port
	c.Env = fresh.Env
	c.Auth = fresh.Auth
	c.Database = fresh.Database
	c.Marketplace = fresh.Marketplace
	return nil
}

func (c *Config) validate() error {
	if c.Marketplace.DefaultPageSize <= 0 {
		return fmt.Errorf("marketplace.default_page_size must be positive")
	}
	if c.Marketplace.MaxPageSize < c.Marketplace.DefaultPageSize {
		return fmt.Errorf("marketplace.max_page_size must be >= default_page_size")
	}
	if c.Auth.EnableVerification && len(c.Auth.JWKSEndpoints) == 0 {
		return fmt.Errorf("auth verification enabled but no jwks_endpoints configured")
	}
	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
