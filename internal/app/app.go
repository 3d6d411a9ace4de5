// Package app assembles the runtime pieces of an ORM client from
// configuration: logging, telemetry, the model registry and the database
// connection, released in reverse order on Shutdown.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"relorm/internal/config"
	"relorm/internal/dbexec"
	"relorm/internal/logging"
	"relorm/internal/model"
	"relorm/internal/naming"
	"relorm/internal/observability"
	"relorm/internal/queryset"
)

// App owns runtime resources for one ORM session.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider
	metrics        *observability.QueryMetrics

	registry *model.Registry
	conn     *dbexec.Connection
	client   *queryset.Client

	cleanup cleanupStack

	stateMu      sync.Mutex
	telemetryUp  bool
	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper and its model registry. Nothing is
// connected until InitTelemetry and Connect are called.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	namer := naming.New(cfg.Naming, logger.Logger)
	registry := model.NewRegistry(
		model.WithNamer(namer),
		model.WithLogger(logger.Logger),
	)
	return &App{cfg: cfg, logger: logger, registry: registry}, nil
}

// AttachLoggerProvider hands the OTLP logger provider to the app so it is
// flushed on Shutdown.
func (a *App) AttachLoggerProvider(lp *observability.LoggerProvider) {
	if lp == nil {
		return
	}
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = lp
	a.cleanup.push("logger provider", func(ctx context.Context) error {
		return lp.Shutdown(ctx, a.logger.Logger)
	})
}

// Logger returns the application logger.
func (a *App) Logger() *logging.Logger {
	return a.logger
}

// Registry returns the model registry models are declared on.
func (a *App) Registry() *model.Registry {
	return a.registry
}

// Metrics returns the query metrics, or nil when metrics are disabled.
func (a *App) Metrics() *observability.QueryMetrics {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.metrics
}

// Client returns the query client, or nil before Connect.
func (a *App) Client() *queryset.Client {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.client
}

// WriteMetrics dumps the current metrics in Prometheus text format. It is a
// no-op when metrics are disabled.
func (a *App) WriteMetrics(w io.Writer) error {
	a.stateMu.Lock()
	mp := a.meterProvider
	a.stateMu.Unlock()
	if mp == nil {
		return nil
	}
	return mp.WriteText(w)
}

// InitTelemetry starts the meter and tracer providers enabled in config. It
// is idempotent.
func (a *App) InitTelemetry(ctx context.Context) error {
	a.stateMu.Lock()
	if a.telemetryUp {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	tracerProvider, err := initTracing(ctx, a.cfg, a.logger)
	if err != nil {
		if meterProvider != nil {
			_ = meterProvider.Shutdown(context.Background(), a.logger.Logger)
		}
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}

	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if meterProvider != nil {
		a.cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}
	if tracerProvider != nil {
		a.cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}
	a.meterProvider = meterProvider
	a.metrics = metrics
	a.tracerProvider = tracerProvider
	a.telemetryUp = true
	return nil
}

// Connect opens the database and builds the query client. Telemetry must be
// initialized first so the connection is instrumented.
func (a *App) Connect(ctx context.Context) (*queryset.Client, error) {
	if err := a.InitTelemetry(ctx); err != nil {
		return nil, err
	}
	a.stateMu.Lock()
	if a.client != nil {
		client := a.client
		a.stateMu.Unlock()
		return client, nil
	}
	a.stateMu.Unlock()

	database, _ := a.cfg.Database.EffectiveDatabaseName()
	a.logger.Info("connecting to MySQL",
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database", database),
		slog.Bool("dsn_present", a.cfg.Database.ConnectionString != ""),
	)

	connectCfg, err := connectConfig(a.cfg)
	if err != nil {
		return nil, err
	}
	conn, err := dbexec.Connect(ctx, connectCfg, a.logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.cleanup.push("database", func(context.Context) error {
		return conn.Close()
	})
	a.conn = conn
	a.client = newClient(a.cfg, a.logger, a.metrics, dbexec.NewStandardExecutor(conn.DB))
	return a.client, nil
}
