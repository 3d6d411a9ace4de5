package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DSN returns a MySQL data source name. A configured connection string is
// used as the base; otherwise the discrete fields are assembled. Times are
// always parsed and read as UTC.
func (d *DatabaseConfig) DSN() (string, error) {
	cfg, err := d.mysqlConfig()
	if err != nil {
		return "", err
	}
	return cfg.FormatDSN(), nil
}

// EffectiveDatabaseName returns the schema the connection targets.
func (d *DatabaseConfig) EffectiveDatabaseName() (string, error) {
	cfg, err := d.mysqlConfig()
	if err != nil {
		return "", err
	}
	return cfg.DBName, nil
}

func (d *DatabaseConfig) mysqlConfig() (*mysql.Config, error) {
	var cfg *mysql.Config
	if d.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(d.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("invalid database dsn: %w", err)
		}
		cfg = parsed
		// An explicit database name overrides the one embedded in the DSN.
		if d.Database != "" {
			cfg.DBName = d.Database
		}
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		cfg.DBName = d.Database
	}

	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if param := d.tlsParam(); param != "" && cfg.TLSConfig == "" {
		cfg.TLSConfig = param
	}
	return cfg, nil
}

// tlsParam maps tls_mode onto the driver's tls parameter.
func (d *DatabaseConfig) tlsParam() string {
	switch d.TLSMode {
	case "", "off":
		return ""
	default:
		return d.TLSMode
	}
}
