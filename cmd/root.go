// Package cmd defines and implements the CLI commands for the linkcrawler
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linkgraph/crawler/internal/config"
	"github.com/linkgraph/crawler/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkcrawler",
		Short: "A distributed web crawler that builds a link graph.",
		Long: `linkcrawler crawls the web from a configurable seed set, records per-URL
crawl state in Postgres, and maintains a directed link graph used to report
which domains link into a given root domain.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newFetchWorkerCmd())
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "linkcrawler: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and installs the global logger.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}
