// Package config loads the service configuration from an optional YAML file
// and APPMGT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/platinummonkey/appmgt/pkg/observability"
	"github.com/platinummonkey/appmgt/pkg/storage"
)

// EnvPrefix prefixes every environment override, e.g. APPMGT_DATABASE_DSN.
const EnvPrefix = "APPMGT"

// Config holds all service configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	FileReg  FileRegConfig  `mapstructure:"filereg"`
	Tenants  TenantsConfig  `mapstructure:"tenants"`
	OTel     OTelConfig     `mapstructure:"otel"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

// DatabaseConfig selects and tunes the relational store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig configures the health and metrics listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// FileRegConfig points at the directory of file-defined applications. An
// empty directory disables the file registry.
type FileRegConfig struct {
	Dir string `mapstructure:"dir"`
}

// TenantsConfig selects the tenant resolver. Static entries are "domain=id"
// pairs; when empty the tenants table is used.
type TenantsConfig struct {
	Static   []string      `mapstructure:"static"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// OTelConfig configures OpenTelemetry export.
type OTelConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
	// SampleRatio is the fraction of operations traced; 1 traces all.
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// AuditConfig selects the destinations of the application audit trail.
type AuditConfig struct {
	// Database stores events in the app_audit_log table.
	Database bool `mapstructure:"database"`
	// Dir enables JSON line files under the directory when set.
	Dir       string `mapstructure:"dir"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// Enabled reports whether any destination is configured.
func (a AuditConfig) Enabled() bool {
	return a.Database || a.Dir != ""
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", storage.DriverSQLite)
	v.SetDefault("database.dsn", "appmgt.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.connect_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("http.addr", ":9090")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("filereg.dir", "")
	v.SetDefault("tenants.static", []string{})
	v.SetDefault("tenants.cache_ttl", 5*time.Minute)
	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.endpoint", "localhost:4317")
	v.SetDefault("otel.service_name", "appmgt")
	v.SetDefault("otel.insecure", true)
	v.SetDefault("otel.sample_ratio", 1.0)
	v.SetDefault("audit.database", true)
	v.SetDefault("audit.dir", "")
	v.SetDefault("audit.max_size_mb", 100)
	v.SetDefault("audit.max_files", 10)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when non-empty) on top of the defaults and environment
// and validates the result.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Storage().Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q (must be text or json)", c.Log.Format)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	for _, e := range c.Tenants.Static {
		if !strings.Contains(e, "=") {
			return fmt.Errorf("invalid tenants.static entry %q, want domain=id", e)
		}
	}
	if c.OTel.SampleRatio < 0 || c.OTel.SampleRatio > 1 {
		return errors.New("otel.sample_ratio must be between 0 and 1")
	}
	if c.OTel.Enabled && c.OTel.Endpoint == "" {
		return errors.New("otel.endpoint is required when otel is enabled")
	}
	if c.Audit.MaxSizeMB < 0 || c.Audit.MaxFiles < 0 {
		return errors.New("audit.max_size_mb and audit.max_files must not be negative")
	}
	return nil
}

// Storage returns the database settings as a storage.Config.
func (c *Config) Storage() storage.Config {
	return storage.Config{
		Driver:          c.Database.Driver,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnectTimeout:  c.Database.ConnectTimeout,
	}
}

// Telemetry returns the OpenTelemetry settings for observability.InitOTel.
func (c *Config) Telemetry(version string) observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTel.Enabled,
		Endpoint:       c.OTel.Endpoint,
		ServiceName:    c.OTel.ServiceName,
		ServiceVersion: version,
		Insecure:       c.OTel.Insecure,
		SampleRatio:    c.OTel.SampleRatio,
	}
}
