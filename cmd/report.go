package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/linkgraph/crawler/internal/crawl"
	"github.com/linkgraph/crawler/internal/report"
	"github.com/linkgraph/crawler/internal/storage/postgres"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <domain>",
		Short: "Prints which domains link into the given root domain",
		Long: `Builds the inbound-link report for a root domain: every successfully
crawled page under the domain is looked up in the link graph, and the
linking pages are counted by their own root domain.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			ctx := cmd.Context()

			crawlStore, err := postgres.NewCrawlStore(ctx, postgres.Config{
				DSN:      cfg.DB.DSN,
				MaxConns: cfg.DB.MaxConns,
				MinConns: cfg.DB.MinConns,
			})
			if err != nil {
				return fmt.Errorf("connect crawl store: %w", err)
			}
			defer crawlStore.Close()

			graphStore, err := postgres.NewGraphStore(ctx, postgres.Config{
				DSN:      cfg.Graph.DSN,
				MaxConns: cfg.DB.MaxConns,
				MinConns: cfg.DB.MinConns,
			})
			if err != nil {
				return fmt.Errorf("connect graph store: %w", err)
			}
			defer graphStore.Close()

			domain := crawl.Normalize(args[0])
			if domain == "" {
				return fmt.Errorf("invalid domain %q", args[0])
			}

			rows, err := report.Aggregate(ctx, crawlStore, graphStore, domain)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAIN\tINBOUND LINKS")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%d\n", row.Domain, row.Count)
			}
			return w.Flush()
		},
	}
}
