// Package cmd provides the CLI commands for SwiftSearch.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/keerthi16/SwiftSearch/internal/config"
	"github.com/keerthi16/SwiftSearch/internal/logging"
	"github.com/keerthi16/SwiftSearch/internal/profiling"
	"github.com/keerthi16/SwiftSearch/pkg/version"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool

	profile  profiling.Options
	profiler *profiling.Session
}

// NewRootCmd creates the root command for the swiftsearch CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "swiftsearch",
		Short: "Local message search mediator",
		Long: `SwiftSearch mediates between a chat front-end and a local full-text
search engine. Commands arrive as JSON lines on stdin and replies are
written as JSON lines on stdout.

Running 'swiftsearch' with no subcommand starts the mediator.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runServe(cmd.Context(), cmd, opts)
		},
	}

	cmd.SetVersionTemplate("swiftsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.profile.CPUPath, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.HeapPath, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.TracePath, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(*cobra.Command, []string) error { return opts.startProfiling() }
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error { return opts.stopProfiling() }

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newUserConfigCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func (o *rootOptions) startProfiling() error {
	if !o.profile.Enabled() {
		return nil
	}
	session, err := profiling.Start(o.profile)
	if err != nil {
		return err
	}
	o.profiler = session
	return nil
}

func (o *rootOptions) stopProfiling() error {
	session := o.profiler
	o.profiler = nil
	return session.Stop()
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads the configuration named by --config, applying --debug.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogging builds the process logger from cfg and installs it as the
// slog default. Nothing is ever written to stdout.
func setupLogging(cfg *config.Config) (*slog.Logger, func(), error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.WriteToStderr = cfg.Logging.Stderr
	if cfg.Logging.File != "" {
		logCfg.FilePath = cfg.Logging.File
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}
