package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newWorkerCmd creates the 'worker' subcommand for running pull workers
// against a remote frontier.
func newWorkerCmd() *cobra.Command {
	var (
		frontierURL string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Runs pull workers against a remote frontier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if frontierURL == "" {
				frontierURL = cfg.Worker.FrontierURL
			}
			if frontierURL == "" {
				return errors.New("--frontier or worker.frontier_url is required")
			}
			if concurrency > 0 {
				cfg.Worker.Concurrency = concurrency
			}
			app, err := newWorkerApp(cmd.Context(), cfg, frontierURL)
			if err != nil {
				return fmt.Errorf("failed to initialize workers: %w", err)
			}
			if err := app.RunWorkers(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run workers: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&frontierURL, "frontier", "", "base URL of the frontier API")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override worker.concurrency")
	return cmd
}
