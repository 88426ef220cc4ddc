package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-frontier/internal/api"
	"github.com/JakeFAU/crawl-frontier/internal/dispatcher"
)

// newSeedCmd creates the 'seed' subcommand, which submits URLs to a running
// frontier.
func newSeedCmd() *cobra.Command {
	var (
		frontierURL string
		file        string
		priority    int
	)
	cmd := &cobra.Command{
		Use:   "seed [url...]",
		Short: "Submits start URLs to a running frontier",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if frontierURL == "" {
				frontierURL = cfg.Worker.FrontierURL
			}
			if frontierURL == "" {
				frontierURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
			}

			urls := append([]string{}, args...)
			if file != "" {
				fromFile, err := readURLs(file)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				urls = cfg.Seeds
			}
			if len(urls) == 0 {
				return errors.New("no URLs to seed")
			}

			client, err := api.NewClient(frontierURL, cfg.Server.APIKey, nil)
			if err != nil {
				return err
			}
			accepted, skipped, err := dispatcher.New(client, nil).Seed(cmd.Context(), urls, priority)
			fmt.Fprintf(cmd.OutOrStdout(), "accepted=%d skipped=%d\n", accepted, skipped)
			return err
		},
	}
	cmd.Flags().StringVar(&frontierURL, "frontier", "", "base URL of the frontier API (default http://localhost:<server.port>)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read URLs from a file, one per line (- for stdin)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority for every submitted URL")
	return cmd
}

func readURLs(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open seed file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return urls, nil
}
