// Command ormctl plans and runs queries against a demo blog schema.
//
// Example:
//
//	ormctl --model Post --filter blog__name=news --select-related categories --explain
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"relorm/internal/app"
	"relorm/internal/config"
	"relorm/internal/queryset"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			slog.Error("ormctl error", slog.String("error", err.Error()))
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("ormctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.DefineFlags(fs)
	var req request
	defineQueryFlags(fs, &req)
	showVersion := fs.Bool("version", false, "Print version and exit")
	dumpMetrics := fs.Bool("metrics", false, "Print collected metrics to stderr on exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		_, err := fmt.Fprintf(stdout, "ormctl %s (%s)\n", Version, Commit)
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}
	if *dumpMetrics {
		cfg.Observability.MetricsEnabled = true
	}

	logger, loggerProvider, err := app.InitLogger(ctx, cfg, stderr)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		logger.Debug("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() && !req.Explain {
		for _, err := range validationResult.Errors {
			logger.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	a.AttachLoggerProvider(loggerProvider)
	defer func() { _ = a.Shutdown(context.Background()) }()

	s, err := declareSchema(a.Registry())
	if err != nil {
		return fmt.Errorf("failed to declare models: %w", err)
	}
	if req.Model == "" {
		return fmt.Errorf("--model is required (one of: %v)", s.names())
	}

	if req.Explain {
		qs, err := req.build(queryset.NewClient(nil), s)
		if err != nil {
			return err
		}
		return explain(stdout, qs, req.Count)
	}

	client, err := a.Connect(ctx)
	if err != nil {
		return err
	}
	qs, err := req.build(client, s)
	if err != nil {
		return err
	}
	if err := execute(ctx, stdout, qs, req.Count, isTerminal(stdout)); err != nil {
		return err
	}
	if *dumpMetrics {
		return a.WriteMetrics(stderr)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
