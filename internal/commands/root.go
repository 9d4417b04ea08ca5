// Package commands contains the hubctl command definitions.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/hubflow/internal/pkg/config"
	"github.com/tjfontaine/hubflow/internal/runtime"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

// NewRootCmd creates and returns the root command for the CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "hubctl",
		Short:         "Provision connections and run flows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "Path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log engine activity to stderr")

	registerConnectionsCmd(rootCmd, opts)
	registerFlowCmd(rootCmd, opts)

	return rootCmd
}

// withEngine opens an engine for the configured file, runs fn and shuts the
// engine down again.
func withEngine(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, e *runtime.Engine) error) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	engine, err := runtime.New(
		runtime.WithFileConfig(opts.configPath),
		runtime.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := engine.Open(ctx); err != nil {
		_ = engine.Shutdown(ctx)
		return fmt.Errorf("open engine: %w", err)
	}

	runErr := fn(ctx, engine)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown engine: %w", err)
	}
	return runErr
}
