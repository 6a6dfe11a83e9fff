package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/linkgraph/crawler/internal/clock/system"
	collyfetcher "github.com/linkgraph/crawler/internal/fetcher/colly"
	"github.com/linkgraph/crawler/internal/fetchpool"
	"github.com/linkgraph/crawler/internal/logging"
)

// newFetchWorkerCmd is the hidden entrypoint the fetch pool re-execs. The
// worker reads newline-delimited JSON fetch requests on stdin and writes one
// JSON result per line to stdout; logs go to stderr only.
func newFetchWorkerCmd() *cobra.Command {
	var (
		fetchTimeout time.Duration
		userAgent    string
	)

	cmd := &cobra.Command{
		Use:    "fetch-worker",
		Hidden: true,
		Short:  "Runs one fetch worker process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(false)
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			fetcher := collyfetcher.New(collyfetcher.Config{
				UserAgent: userAgent,
				Timeout:   fetchTimeout,
			}, system.New(), logger)

			return fetchpool.RunWorker(cmd.Context(), os.Stdin, os.Stdout, fetcher)
		},
	}

	cmd.Flags().DurationVar(&fetchTimeout, "fetch-timeout", 5*time.Second, "per-fetch timeout")
	cmd.Flags().StringVar(&userAgent, "user-agent", "linkcrawler/1.0", "User-Agent header for fetches")
	return cmd
}
