// Package config loads relorm settings from flags, environment variables, an
// optional YAML file and defaults.
package config

import (
	"time"

	"relorm/internal/naming"
)

// Config holds all application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Naming        naming.Config       `mapstructure:"naming"`
	Query         QueryConfig         `mapstructure:"query"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// ConnectionString is a complete MySQL DSN. When set it wins over the
	// discrete fields.
	ConnectionString     string `mapstructure:"dsn"`
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	// TLSMode is one of off, preferred, skip-verify or true.
	TLSMode string `mapstructure:"tls_mode"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	ConnectionTimeout       time.Duration `mapstructure:"connection_timeout"`
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`
	Format         string `mapstructure:"format"`
	ExportsEnabled bool   `mapstructure:"exports_enabled"`
}

// ObservabilityConfig holds metrics and tracing settings.
type ObservabilityConfig struct {
	ServiceName         string     `mapstructure:"service_name"`
	ServiceVersion      string     `mapstructure:"service_version"`
	Environment         string     `mapstructure:"environment"`
	MetricsEnabled      bool       `mapstructure:"metrics_enabled"`
	TracingEnabled      bool       `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64    `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool       `mapstructure:"sqlcommenter_enabled"`
	OTLP                OTLPConfig `mapstructure:"otlp"`
}

// OTLPConfig holds exporter settings shared by traces and logs.
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"`
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"`
}

// QueryConfig holds query set settings.
type QueryConfig struct {
	// LogSQL logs every executed statement at debug level.
	LogSQL bool `mapstructure:"log_sql"`
}
