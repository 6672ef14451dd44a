package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fenwick-ci/forge/internal/cache"
	"github.com/fenwick-ci/forge/internal/config"
	"github.com/fenwick-ci/forge/internal/engine"
	"github.com/fenwick-ci/forge/internal/livelog"
	"github.com/fenwick-ci/forge/internal/logging"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	LogFile  string
	LogLevel string

	// Catalog allows a caller embedding this CLI to register additional
	// job terms beyond engine.BuiltinCatalog. Defaults to the builtins.
	Catalog engine.Catalog
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine loop",
		Long: `Start the forge engine loop.

Loads the YAML config, opens the metadata store, and runs the
single-writer evaluation loop until interrupted.

Example:
  forge run --config forge.yaml
  forge run --config forge.yaml --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.LogFile, "log-file", "forge.log", "path to the rotated log file")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	level := opts.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	logger, closeLog, err := logging.Setup(opts.LogFile, level)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	defer func() {
		if closeErr := closeLog(); closeErr != nil {
			logger.Error("error closing log file", "error", closeErr)
		}
	}()

	logger.Info("loading config", "path", opts.Config)
	cfg, err := config.Load(opts.Config)
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), map[string]string{"path": opts.Config})
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	catalog := opts.Catalog
	if catalog == nil {
		catalog = engine.BuiltinCatalog()
	}
	econf, err := cfg.Resolve(catalog)
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to resolve config", err)
	}

	logs := livelog.NewManager()
	cch, err := openCache(cmd.Context(), econf, logs)
	if err != nil {
		_ = out.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}

	eng := engine.New(econf, logs, cch, logger)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("engine starting")
	_ = out.Success("Engine started. Watching for forge activity. Press Ctrl-C to stop.")

	if err := eng.Run(ctx); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		_ = out.Error(ErrCodeEngine, err.Error(), nil)
		return WrapExitError(ExitFailure, "engine error", err)
	}

	logger.Info("engine stopped gracefully")
	return nil
}

// openCache opens a throwaway store connection solely to construct the
// cache.Cache the engine's Builders share; the engine's own connector
// reconnects independently against the same backend afterward.
func openCache(ctx context.Context, econf engine.Config, logs *livelog.Manager) (*cache.Cache, error) {
	st, err := econf.StoreConnector(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store for cache: %w", err)
	}
	return cache.New(st, logs), nil
}
