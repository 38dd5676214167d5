// Package config provides configuration structures for the query tool server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/TFMV/sqlguard/pkg/services"
)

// EnvPrefix is the prefix of environment overrides, e.g. SQLGUARD_DATABASE_DSN.
const EnvPrefix = "SQLGUARD"

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server" mapstructure:"server"`
	Database DatabaseConfig `yaml:"database" json:"database" mapstructure:"database"`
	Policy   PolicyConfig   `yaml:"policy" json:"policy" mapstructure:"policy"`
	Auth     AuthConfig     `yaml:"auth" json:"auth" mapstructure:"auth"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `yaml:"log" json:"log" mapstructure:"log"`
}

// ServerConfig selects the MCP transport.
type ServerConfig struct {
	Transport       string        `yaml:"transport" json:"transport" mapstructure:"transport"` // stdio, http
	Address         string        `yaml:"address" json:"address" mapstructure:"address"`
	EndpointPath    string        `yaml:"endpoint_path" json:"endpoint_path" mapstructure:"endpoint_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents the execution gateway configuration.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" json:"driver" mapstructure:"driver"` // postgres, duckdb, sqlite
	DSN             string        `yaml:"dsn" json:"dsn" mapstructure:"dsn"`
	MotherDuckToken string        `yaml:"motherduck_token" json:"motherduck_token" mapstructure:"motherduck_token"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" json:"connect_timeout" mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `yaml:"query_timeout" json:"query_timeout" mapstructure:"query_timeout"`
	HealthCheck     time.Duration `yaml:"health_check_period" json:"health_check_period" mapstructure:"health_check_period"`
	SlowQuery       time.Duration `yaml:"slow_query_threshold" json:"slow_query_threshold" mapstructure:"slow_query_threshold"`
	CircuitBreaker  bool          `yaml:"circuit_breaker" json:"circuit_breaker" mapstructure:"circuit_breaker"`

	// AllowExternalAccess lets local DuckDB databases reach files, URLs and
	// extensions. Off by default.
	AllowExternalAccess bool `yaml:"allow_external_access" json:"allow_external_access" mapstructure:"allow_external_access"`
}

// PolicyConfig represents the access policy and result limits.
type PolicyConfig struct {
	AccessMode       string `yaml:"access_mode" json:"access_mode" mapstructure:"access_mode"`
	MaxPageSize      int    `yaml:"max_page_size" json:"max_page_size" mapstructure:"max_page_size"`
	DefaultPageSize  int    `yaml:"default_page_size" json:"default_page_size" mapstructure:"default_page_size"`
	AutoLimitEnabled bool   `yaml:"auto_limit_enabled" json:"auto_limit_enabled" mapstructure:"auto_limit_enabled"`
	MaxPayloadBytes  int    `yaml:"max_payload_bytes" json:"max_payload_bytes" mapstructure:"max_payload_bytes"`
}

// AuthConfig represents authentication configuration for the HTTP transport.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Type      string `yaml:"type" json:"type" mapstructure:"type"` // bearer, jwt
	Token     string `yaml:"token" json:"token" mapstructure:"token"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret" mapstructure:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer" json:"jwt_issuer" mapstructure:"jwt_issuer"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Address string `yaml:"address" json:"address" mapstructure:"address"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" mapstructure:"level"`
	Format string `yaml:"format" json:"format" mapstructure:"format"` // json, console
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:       "stdio",
			Address:         ":8080",
			EndpointPath:    "/mcp",
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 10 * time.Minute,
			ConnectTimeout:  10 * time.Second,
			QueryTimeout:    30 * time.Second,
			HealthCheck:     time.Minute,
			SlowQuery:       time.Second,
		},
		Policy: PolicyConfig{
			AccessMode:       "read-only",
			MaxPageSize:      services.DefaultMaxPageSize,
			DefaultPageSize:  services.DefaultDefaultPageSize,
			AutoLimitEnabled: true,
			MaxPayloadBytes:  services.DefaultMaxPayloadBytes,
		},
		Auth: AuthConfig{
			Enabled: false,
			Type:    "bearer",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate fills zero values with defaults and rejects bad combinations.
func (c *Config) Validate() error {
	defaults := DefaultConfig()

	c.Server.Transport = strings.ToLower(strings.TrimSpace(c.Server.Transport))
	switch c.Server.Transport {
	case "":
		c.Server.Transport = defaults.Server.Transport
	case "stdio", "http":
	default:
		return fmt.Errorf("unsupported transport: %s", c.Server.Transport)
	}
	if c.Server.Transport == "http" && c.Server.Address == "" {
		return fmt.Errorf("server address is required for the http transport")
	}
	if c.Server.EndpointPath == "" {
		c.Server.EndpointPath = defaults.Server.EndpointPath
	}
	if !strings.HasPrefix(c.Server.EndpointPath, "/") {
		c.Server.EndpointPath = "/" + c.Server.EndpointPath
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "":
		c.Database.Driver = defaults.Database.Driver
	case "postgres", "postgresql", "pgx":
		c.Database.Driver = "postgres"
	case "duckdb", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		if c.Database.Driver == "postgres" {
			return fmt.Errorf("database DSN is required for postgres")
		}
		c.Database.DSN = ":memory:"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = defaults.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = defaults.Database.MaxIdleConns
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = defaults.Database.ConnMaxLifetime
	}
	if c.Database.ConnMaxIdleTime <= 0 {
		c.Database.ConnMaxIdleTime = defaults.Database.ConnMaxIdleTime
	}
	if c.Database.ConnectTimeout <= 0 {
		c.Database.ConnectTimeout = defaults.Database.ConnectTimeout
	}
	if c.Database.QueryTimeout <= 0 {
		c.Database.QueryTimeout = defaults.Database.QueryTimeout
	}
	if c.Database.SlowQuery <= 0 {
		c.Database.SlowQuery = defaults.Database.SlowQuery
	}

	if c.Policy.MaxPageSize <= 0 {
		c.Policy.MaxPageSize = defaults.Policy.MaxPageSize
	}
	if c.Policy.DefaultPageSize <= 0 {
		c.Policy.DefaultPageSize = defaults.Policy.DefaultPageSize
	}
	if c.Policy.MaxPayloadBytes <= 0 {
		c.Policy.MaxPayloadBytes = defaults.Policy.MaxPayloadBytes
	}
	if _, err := c.PolicyConfig(); err != nil {
		return err
	}

	if c.Auth.Enabled {
		if c.Server.Transport != "http" {
			return fmt.Errorf("auth requires the http transport")
		}
		switch c.Auth.Type {
		case "bearer":
			if c.Auth.Token == "" {
				return fmt.Errorf("bearer auth requires a token")
			}
		case "jwt":
			if c.Auth.JWTSecret == "" {
				return fmt.Errorf("JWT auth requires secret")
			}
		default:
			return fmt.Errorf("unsupported auth type: %s", c.Auth.Type)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		c.Metrics.Address = defaults.Metrics.Address
	}

	switch c.Log.Format {
	case "":
		c.Log.Format = defaults.Log.Format
	case "json", "console":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Log.Format)
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}

	return nil
}

// PolicyConfig converts the policy section into the pipeline's policy.
func (c *Config) PolicyConfig() (services.PolicyConfig, error) {
	mode, err := services.ParseAccessMode(c.Policy.AccessMode)
	if err != nil {
		return services.PolicyConfig{}, err
	}
	policy := services.PolicyConfig{
		AccessMode:       mode,
		MaxPageSize:      c.Policy.MaxPageSize,
		DefaultPageSize:  c.Policy.DefaultPageSize,
		AutoLimitEnabled: c.Policy.AutoLimitEnabled,
		MaxPayloadBytes:  c.Policy.MaxPayloadBytes,
	}
	if err := policy.Validate(); err != nil {
		return services.PolicyConfig{}, fmt.Errorf("invalid policy: %w", err)
	}
	return policy, nil
}

// SetDefaults registers every default with v so that environment variables
// and config files can override keys that were never set explicitly.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.transport", d.Server.Transport)
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.endpoint_path", d.Server.EndpointPath)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.motherduck_token", d.Database.MotherDuckToken)
	v.SetDefault("database.allow_external_access", d.Database.AllowExternalAccess)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", d.Database.ConnMaxIdleTime)
	v.SetDefault("database.connect_timeout", d.Database.ConnectTimeout)
	v.SetDefault("database.query_timeout", d.Database.QueryTimeout)
	v.SetDefault("database.health_check_period", d.Database.HealthCheck)
	v.SetDefault("database.slow_query_threshold", d.Database.SlowQuery)
	v.SetDefault("database.circuit_breaker", d.Database.CircuitBreaker)

	v.SetDefault("policy.access_mode", d.Policy.AccessMode)
	v.SetDefault("policy.max_page_size", d.Policy.MaxPageSize)
	v.SetDefault("policy.default_page_size", d.Policy.DefaultPageSize)
	v.SetDefault("policy.auto_limit_enabled", d.Policy.AutoLimitEnabled)
	v.SetDefault("policy.max_payload_bytes", d.Policy.MaxPayloadBytes)

	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.type", d.Auth.Type)
	v.SetDefault("auth.token", d.Auth.Token)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.jwt_issuer", d.Auth.JWTIssuer)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// LoadPolicy resolves the same layers as Load but validates only the policy
// section, for commands that never open a database.
func LoadPolicy(v *viper.Viper, configFile string) (services.PolicyConfig, error) {
	if err := prepare(v, configFile); err != nil {
		return services.PolicyConfig{}, err
	}

	// Unmarshal the whole tree: nested env overrides are only seen by a
	// full Unmarshal, not by UnmarshalKey.
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return services.PolicyConfig{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg.PolicyConfig()
}

// Load resolves the configuration from v: defaults, then the config file
// named by configFile (if any), then SQLGUARD_* environment variables, then
// any flags already bound to v.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if err := prepare(v, configFile); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func prepare(v *viper.Viper, configFile string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}
