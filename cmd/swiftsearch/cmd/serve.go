package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/keerthi16/SwiftSearch/internal/bridge"
	"github.com/keerthi16/SwiftSearch/internal/configstore"
	"github.com/keerthi16/SwiftSearch/internal/dispatch"
	"github.com/keerthi16/SwiftSearch/internal/index"
	"github.com/keerthi16/SwiftSearch/internal/lock"
	"github.com/keerthi16/SwiftSearch/internal/metrics"
	"github.com/keerthi16/SwiftSearch/internal/preflight"
	"github.com/keerthi16/SwiftSearch/pkg/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mediator on stdin/stdout",
		Long: `Run the mediator. Each stdin line is one command envelope:

  {"method":"search","message":{"q":"hello"},"requestId":7}

Each reply is one stdout line on the swiftSearch channel:

  {"method":"swiftSearch","message":{"method":"searchCallback","requestId":7,"response":{...}}}

Logs go to the log file and stderr, never to stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *rootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("mediator_starting",
		slog.String("version", version.Short()),
		slog.String("data_dir", cfg.DataDir),
		slog.String("user_config", cfg.UserConfigPath()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	dirLock := lock.New(cfg.DataDir)
	if err := dirLock.Acquire(); err != nil {
		logger.Error("data_dir_locked", slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = dirLock.Release() }()

	store := configstore.New(cfg.UserConfigPath(), cfg.IndexVersion,
		configstore.WithLogger(logger),
		configstore.WithRepairHook(m.ConfigRepair))
	probe := preflight.NewDiskProbe(cfg.DataDir, cfg.MinFreeBytes())

	engineOpts := index.OptionsFromConfig(cfg)
	engineOpts.Logger = logger
	engineOpts.Metrics = m

	replier := bridge.NewReplier(cmd.OutOrStdout(),
		bridge.WithReplierLogger(logger),
		bridge.WithReplierMetrics(m))

	d := dispatch.New(index.NewOpener(engineOpts), store, probe, replier,
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(m))

	runErr := bridge.NewTransport(cmd.InOrStdin(), logger).Run(ctx, d.Handle)

	if err := d.Close(); err != nil {
		logger.Warn("search_engine_close_failed", slog.String("error", err.Error()))
	}
	if runErr != nil && ctx.Err() == nil {
		logger.Error("mediator_stopped", slog.String("error", runErr.Error()))
		return runErr
	}
	logger.Info("mediator_stopped")
	return nil
}
