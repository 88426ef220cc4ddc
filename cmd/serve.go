package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-frontier/internal/config"
	"github.com/JakeFAU/crawl-frontier/internal/server"
)

func defaultServeApp(ctx context.Context, cfg config.Config, path string) (Runner, error) {
	return server.Build(ctx, cfg, path)
}

func defaultWorkerApp(ctx context.Context, cfg config.Config, frontierURL string) (WorkerRunner, error) {
	return server.BuildWorker(ctx, cfg, frontierURL)
}

// newServeCmd creates the 'serve' subcommand, which hosts the frontier API
// and, unless disabled, an in-process worker pool.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the frontier service",
		Long: `Starts the HTTP API, lease sweeper and checkpointer. When
worker.enabled is true a pool of pull workers runs in the same process.
Edits to the config file are applied to politeness, retry and escalation
settings without a restart.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			app, err := newServeApp(cmd.Context(), cfg, path)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run frontier: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}
