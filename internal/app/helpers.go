package app

import (
	"context"
	"io"
	"log/slog"

	"relorm/internal/config"
	"relorm/internal/dbexec"
	"relorm/internal/logging"
	"relorm/internal/observability"
	"relorm/internal/queryset"
)

// InitLogger builds the logger described by cfg writing to w, bridged to an
// OTLP logger provider when log exports are enabled. The returned provider
// is nil otherwise.
func InitLogger(ctx context.Context, cfg *config.Config, w io.Writer) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: w,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", cfg.Observability.OTLP.Endpoint),
		slog.String("otlp_protocol", cfg.Observability.OTLP.Protocol),
		slog.Bool("insecure", cfg.Observability.OTLP.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(ctx, telemetryConfig(cfg))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func telemetryConfig(cfg *config.Config) observability.Config {
	o := cfg.Observability
	return observability.Config{
		ServiceName:      o.ServiceName,
		ServiceVersion:   o.ServiceVersion,
		Environment:      o.Environment,
		TraceSampleRatio: o.TraceSampleRatio,
		OTLP: observability.OTLPConfig{
			Endpoint:          o.OTLP.Endpoint,
			Protocol:          o.OTLP.Protocol,
			Insecure:          o.OTLP.Insecure,
			TLSCAFile:         o.OTLP.TLSCertFile,
			TLSClientCertFile: o.OTLP.TLSClientCertFile,
			TLSClientKeyFile:  o.OTLP.TLSClientKeyFile,
			Headers:           o.OTLP.Headers,
			Timeout:           o.OTLP.Timeout,
			Compression:       o.OTLP.Compression,
		},
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.QueryMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	logger.Debug("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("environment", cfg.Observability.Environment),
	)
	meterProvider, err := observability.InitMeterProvider(telemetryConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	metrics, err := observability.InitQueryMetrics()
	if err != nil {
		_ = meterProvider.Shutdown(context.Background(), logger.Logger)
		return nil, nil, err
	}
	return meterProvider, metrics, nil
}

func initTracing(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", cfg.Observability.OTLP.Endpoint),
		slog.String("otlp_protocol", cfg.Observability.OTLP.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)
	return observability.InitTracerProvider(ctx, telemetryConfig(cfg))
}

func connectConfig(cfg *config.Config) (dbexec.ConnectConfig, error) {
	dsn, err := cfg.Database.DSN()
	if err != nil {
		return dbexec.ConnectConfig{}, err
	}
	return dbexec.ConnectConfig{
		DSN:            dsn,
		Tracing:        cfg.Observability.TracingEnabled,
		Metrics:        cfg.Observability.MetricsEnabled,
		SQLCommenter:   cfg.Observability.SQLCommenterEnabled,
		MaxOpen:        cfg.Database.MaxOpenConns,
		MaxIdle:        cfg.Database.MaxIdleConns,
		MaxLifetime:    cfg.Database.ConnMaxLifetime,
		ConnectTimeout: cfg.Database.ConnectionTimeout,
		RetryInterval:  cfg.Database.ConnectionRetryInterval,
	}, nil
}

func newClient(cfg *config.Config, logger *logging.Logger, metrics *observability.QueryMetrics, exec dbexec.QueryExecutor) *queryset.Client {
	opts := []queryset.Option{
		queryset.WithLogger(logger),
		queryset.WithSQLLogging(cfg.Query.LogSQL),
	}
	if metrics != nil {
		opts = append(opts, queryset.WithMetrics(metrics))
	}
	return queryset.NewClient(exec, opts...)
}
