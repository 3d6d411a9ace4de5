package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ConnectConfig controls how the database pool is opened.
type ConnectConfig struct {
	DSN            string
	Tracing        bool
	Metrics        bool
	SQLCommenter   bool
	MaxOpen        int
	MaxIdle        int
	MaxLifetime    time.Duration
	ConnectTimeout time.Duration
	RetryInterval  time.Duration
}

// Connection is an open pool plus the instrumentation registered on it.
type Connection struct {
	DB         *sql.DB
	dbStatsReg interface{ Unregister() error }
}

// Close unregisters pool metrics and closes the pool.
func (c *Connection) Close() error {
	if c.dbStatsReg != nil {
		_ = c.dbStatsReg.Unregister()
	}
	return c.DB.Close()
}

// Connect opens the MySQL pool, instrumenting it with otelsql when tracing or
// metrics are enabled, and waits until it answers.
func Connect(ctx context.Context, cfg ConnectConfig, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn := &Connection{}

	if cfg.Tracing || cfg.Metrics {
		opts := []otelsql.Option{
			otelsql.WithAttributes(semconv.DBSystemMySQL),
		}
		if cfg.Tracing {
			opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
				DisableErrSkip: true,
			}))
		}
		if cfg.SQLCommenter && cfg.Tracing {
			opts = append(opts, otelsql.WithSQLCommenter(true))
		} else if cfg.SQLCommenter {
			logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
		}

		db, err := otelsql.Open("mysql", cfg.DSN, opts...)
		if err != nil {
			return nil, err
		}
		conn.DB = db

		if cfg.Metrics {
			reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL))
			if err != nil {
				logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			} else {
				conn.dbStatsReg = reg
			}
		}
		logger.Debug("database instrumentation enabled",
			slog.Bool("metrics", cfg.Metrics),
			slog.Bool("tracing", cfg.Tracing),
		)
	} else {
		db, err := sql.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, err
		}
		conn.DB = db
	}

	if cfg.MaxOpen > 0 {
		conn.DB.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		conn.DB.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.MaxLifetime > 0 {
		conn.DB.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	if err := waitForDatabase(ctx, conn.DB, cfg, logger); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func waitForDatabase(ctx context.Context, db pinger, cfg ConnectConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ConnectTimeout
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}

	// a zero timeout means a single attempt
	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		// Exponential backoff, capped at 30s
		interval = min(interval*2, 30*time.Second)
	}
}
