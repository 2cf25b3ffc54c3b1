// Package config provides configuration loading and management for the sync service.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPageSize is the number of records requested per feeder page.
	DefaultPageSize = 500

	// DefaultFetchCeiling is the hard safety limit on records accumulated by
	// one fetch loop. The loop stops and warns once the ceiling is reached.
	DefaultFetchCeiling = 50000

	// DefaultWorkerPoolSize bounds concurrent record workers.
	DefaultWorkerPoolSize = 8

	defaultWorkerTimeout    = 45 * time.Second
	defaultFetchTimeout     = 10 * time.Minute
	defaultFinalizeInterval = 30 * time.Second
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Server holds HTTP server settings
	Server ServerConfig `yaml:"server,omitempty"`

	// Database holds the local store connection settings
	Database *DatabaseConfig `yaml:"database,omitempty"`

	// Engine holds batch engine tuning parameters
	Engine EngineConfig `yaml:"engine,omitempty"`

	// Tenants lists the organizations whose records are mirrored
	Tenants []TenantConfig `yaml:"tenants"`
}

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`
}

// TenantConfig defines a single tenant and its feeder registry credentials
type TenantConfig struct {
	// ID is the stable tenant identifier used in all persisted rows
	ID string `yaml:"id"`

	// Feeder holds the external registry endpoint and credentials
	Feeder *FeederConfig `yaml:"feeder"`
}

// FeederConfig defines the external feeder registry connection settings
type FeederConfig struct {
	// Endpoint is the base URL of the feeder web service
	Endpoint string `yaml:"endpoint"`

	// Username authenticates the token request
	Username string `yaml:"username"`

	// PasswordFile is the path to a file containing the feeder password.
	// This is the recommended approach for production deployments.
	PasswordFile string `yaml:"passwordFile,omitempty"`
}

// GetPassword returns the feeder password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from FEEDERSYNC_FEEDER_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (f *FeederConfig) GetPassword() (string, error) {
	if f.PasswordFile != "" {
		cleanPath := filepath.Clean(f.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", f.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv("FEEDERSYNC_FEEDER_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no feeder password configured: set passwordFile or FEEDERSYNC_FEEDER_PASSWORD environment variable",
	)
}

// EngineConfig defines batch engine tuning parameters
type EngineConfig struct {
	// PageSize is the number of records requested per feeder page
	PageSize int `yaml:"pageSize,omitempty"`

	// FetchCeiling is the hard limit on records accumulated by one run
	FetchCeiling int `yaml:"fetchCeiling,omitempty"`

	// WorkerPoolSize bounds concurrent record workers
	WorkerPoolSize int `yaml:"workerPoolSize,omitempty"`

	// WorkerTimeout bounds the wall-clock time of one record worker (e.g. "45s")
	WorkerTimeout string `yaml:"workerTimeout,omitempty"`

	// FetchTimeout bounds the full pagination loop of one run (e.g. "10m")
	FetchTimeout string `yaml:"fetchTimeout,omitempty"`

	// FinalizeInterval is the base interval of the reconciliation sweep (e.g. "30s")
	FinalizeInterval string `yaml:"finalizeInterval,omitempty"`
}

// GetPageSize returns the configured page size or the default
func (e *EngineConfig) GetPageSize() int {
	if e.PageSize <= 0 {
		return DefaultPageSize
	}
	return e.PageSize
}

// GetFetchCeiling returns the configured fetch ceiling or the default
func (e *EngineConfig) GetFetchCeiling() int {
	if e.FetchCeiling <= 0 {
		return DefaultFetchCeiling
	}
	return e.FetchCeiling
}

// GetWorkerPoolSize returns the configured worker pool size or the default
func (e *EngineConfig) GetWorkerPoolSize() int {
	if e.WorkerPoolSize <= 0 {
		return DefaultWorkerPoolSize
	}
	return e.WorkerPoolSize
}

// GetWorkerTimeout returns the configured per-worker timeout or the default
func (e *EngineConfig) GetWorkerTimeout() time.Duration {
	return parseDurationOr(e.WorkerTimeout, defaultWorkerTimeout)
}

// GetFetchTimeout returns the configured fetch loop timeout or the default
func (e *EngineConfig) GetFetchTimeout() time.Duration {
	return parseDurationOr(e.FetchTimeout, defaultFetchTimeout)
}

// GetFinalizeInterval returns the configured sweep interval or the default
func (e *EngineConfig) GetFinalizeInterval() time.Duration {
	return parseDurationOr(e.FinalizeInterval, defaultFinalizeInterval)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// This is the recommended approach for production deployments.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxConns is the maximum number of open connections in the pool
	MaxConns int32 `yaml:"maxConns,omitempty"`

	// MinConns is the minimum number of idle connections kept in the pool
	MinConns int32 `yaml:"minConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from FEEDERSYNC_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv("FEEDERSYNC_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or FEEDERSYNC_DATABASE_PASSWORD environment variable",
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	escapedPassword := url.QueryEscape(password)

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		escapedPassword,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetTenant returns the tenant configuration for the given ID, or nil if unknown
func (c *Config) GetTenant(tenantID string) *TenantConfig {
	for i := range c.Tenants {
		if c.Tenants[i].ID == tenantID {
			return &c.Tenants[i]
		}
	}
	return nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if len(c.Tenants) == 0 {
		return fmt.Errorf("at least one tenant must be configured")
	}

	tenantIDs := make(map[string]bool)
	for i, tenant := range c.Tenants {
		if tenant.ID == "" {
			return fmt.Errorf("tenant[%d]: id is required", i)
		}

		if tenantIDs[tenant.ID] {
			return fmt.Errorf("tenant[%d]: duplicate tenant id '%s'", i, tenant.ID)
		}
		tenantIDs[tenant.ID] = true

		if err := validateFeederConfig(tenant.Feeder, fmt.Sprintf("tenant[%d] (%s)", i, tenant.ID)); err != nil {
			return err
		}
	}

	return validateEngineConfig(&c.Engine)
}

// validateFeederConfig validates the feeder settings of one tenant
func validateFeederConfig(feeder *FeederConfig, prefix string) error {
	if feeder == nil {
		return fmt.Errorf("%s: feeder configuration is required", prefix)
	}
	if feeder.Endpoint == "" {
		return fmt.Errorf("%s: feeder.endpoint is required", prefix)
	}
	if _, err := url.Parse(feeder.Endpoint); err != nil {
		return fmt.Errorf("%s: feeder.endpoint is not a valid URL: %w", prefix, err)
	}
	if feeder.Username == "" {
		return fmt.Errorf("%s: feeder.username is required", prefix)
	}
	return nil
}

// validateEngineConfig validates engine tuning parameters
func validateEngineConfig(engine *EngineConfig) error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"engine.workerTimeout", engine.WorkerTimeout},
		{"engine.fetchTimeout", engine.FetchTimeout},
		{"engine.finalizeInterval", engine.FinalizeInterval},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s must be a valid duration (e.g., '45s', '10m'): %w", field.name, err)
		}
	}
	return nil
}
