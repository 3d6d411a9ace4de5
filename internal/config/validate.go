package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, hint, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

func (r *ValidationResult) warn(field, hint, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: fmt.Sprintf(format, args...), Hint: hint})
}

// Validate checks the configuration and returns both errors (fatal) and
// warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Logging.validate(result)
	c.Observability.validate(result, c.Logging.ExportsEnabled)
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if d.ConnectionString != "" {
		if _, err := mysql.ParseDSN(d.ConnectionString); err != nil {
			result.fail("database.dsn", "use user:pass@tcp(host:port)/db", "invalid DSN: %v", err)
		}
		if d.Host != "" && d.Host != "localhost" {
			result.warn("database.host", "remove database.host or database.dsn", "host is ignored when a DSN is set")
		}
	} else {
		if strings.TrimSpace(d.Host) == "" {
			result.fail("database.host", "", "host is required when no DSN is set")
		}
		if d.Port < 1 || d.Port > 65535 {
			result.fail("database.port", "", "port %d is out of valid range (1-65535)", d.Port)
		}
		if strings.TrimSpace(d.User) == "" {
			result.fail("database.user", "", "user is required when no DSN is set")
		}
	}
	if d.ConnectionString == "" && d.Database == "" {
		result.warn("database.database", "queries will need schema-qualified tables", "no default database selected")
	}

	validTLSModes := map[string]bool{"": true, "off": true, "false": true, "preferred": true, "skip-verify": true, "true": true}
	if !validTLSModes[d.TLSMode] {
		result.fail("database.tls_mode", "valid values are: off, preferred, skip-verify, true", "invalid TLS mode %q", d.TLSMode)
	}

	if d.MaxOpenConns < 0 {
		result.fail("database.max_open_conns", "use 0 for unlimited", "max_open_conns cannot be negative")
	}
	if d.MaxIdleConns < 0 {
		result.fail("database.max_idle_conns", "", "max_idle_conns cannot be negative")
	}
	if d.MaxOpenConns > 0 && d.MaxIdleConns > d.MaxOpenConns {
		result.warn("database.max_idle_conns", "the pool caps idle connections at max_open_conns",
			"max_idle_conns (%d) exceeds max_open_conns (%d)", d.MaxIdleConns, d.MaxOpenConns)
	}
	if d.ConnMaxLifetime < 0 {
		result.fail("database.conn_max_lifetime", "", "conn_max_lifetime cannot be negative")
	}
	if d.ConnectionTimeout < 0 {
		result.fail("database.connection_timeout", "", "connection_timeout cannot be negative")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval <= 0 {
		result.fail("database.connection_retry_interval", "", "connection_retry_interval must be positive when connection_timeout is set")
	}
	if d.Password != "" && d.PasswordPrompt {
		result.warn("database.password_prompt", "", "password is already set; prompt will be skipped")
	}
}

func (l *LoggingConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[l.Level] {
		result.fail("logging.level", "valid values are: debug, info, warn, error", "invalid log level %q", l.Level)
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[l.Format] {
		result.fail("logging.format", "valid values are: json, text", "invalid log format %q", l.Format)
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult, logExports bool) {
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.fail("observability.trace_sample_ratio", "", "trace_sample_ratio %v must be between 0 and 1", o.TraceSampleRatio)
	}
	if strings.TrimSpace(o.ServiceName) == "" {
		result.warn("observability.service_name", "", "service_name is empty; telemetry will be reported as unknown_service")
	}
	if o.SQLCommenterEnabled && !o.TracingEnabled {
		result.warn("observability.sqlcommenter_enabled", "enable observability.tracing_enabled", "sqlcommenter has no effect without tracing")
	}
	if o.TracingEnabled || logExports {
		o.OTLP.validate("observability.otlp", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.fail(prefix+".protocol", "valid values are: grpc, http/protobuf", "invalid OTLP protocol %q", o.Protocol)
	}
	if !validOTLPEndpoint(o.Endpoint) {
		result.fail(prefix+".endpoint", "use host:port or a full URL", "invalid OTLP endpoint %q", o.Endpoint)
	}
	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.fail(prefix+".compression", "valid values are: none, gzip", "invalid OTLP compression %q", o.Compression)
	}
	if (o.TLSClientCertFile == "") != (o.TLSClientKeyFile == "") {
		result.fail(prefix+".tls_client_cert_file", "", "tls_client_cert_file and tls_client_key_file must be set together")
	}
	if o.Insecure && (o.TLSCertFile != "" || o.TLSClientCertFile != "") {
		result.warn(prefix+".insecure", "", "TLS files are ignored when insecure is set")
	}
	if o.Timeout < 0 {
		result.fail(prefix+".timeout", "", "timeout cannot be negative")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
