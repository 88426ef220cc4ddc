// Package cmd defines and implements the CLI commands for the frontier executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-frontier/internal/config"
)

// configKeyType is the key for storing the loaded Config in the context.
type configKeyType string

const (
	configKey     configKeyType = "config"
	configPathKey configKeyType = "config_path"
)

// Runner is the slice of *server.App the commands drive. Tests swap the
// factories below for fakes.
type Runner interface {
	Run(ctx context.Context) error
}

// WorkerRunner is a worker-only application.
type WorkerRunner interface {
	RunWorkers(ctx context.Context) error
}

var (
	newServeApp  = defaultServeApp
	newWorkerApp = defaultWorkerApp
	loadConfig   = config.Load
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "frontier",
		Short: "A domain-aware crawl frontier with politeness, retries, and escalation.",
		Long: `frontier accepts URLs, deduplicates them, and hands them out to pull
workers one lease at a time while honoring robots.txt and per-domain rate
limits. Failed fetches are classified and retried, escalated to a headless
browser, or dead-lettered.`,
		SilenceUsage: true,

		// Runs before every subcommand; the loaded config travels in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			ctx = context.WithValue(ctx, configPathKey, cfgFile)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON); env vars use the CRAWLER_ prefix")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newSeedCmd())

	return cmd
}

func resolveConfig(ctx context.Context) (config.Config, string, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, "", errors.New("configuration not loaded")
	}
	path, _ := ctx.Value(configPathKey).(string)
	return cfg, path, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "frontier:", err)
		os.Exit(1)
	}
}
