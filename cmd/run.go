package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linkgraph/crawler/internal/api"
	"github.com/linkgraph/crawler/internal/clock/system"
	"github.com/linkgraph/crawler/internal/config"
	"github.com/linkgraph/crawler/internal/crawl"
	"github.com/linkgraph/crawler/internal/dispatcher"
	"github.com/linkgraph/crawler/internal/fetchpool"
	"github.com/linkgraph/crawler/internal/hash/sha256"
	"github.com/linkgraph/crawler/internal/id/uuid"
	"github.com/linkgraph/crawler/internal/metrics"
	pubsubpublisher "github.com/linkgraph/crawler/internal/publisher/pubsub"
	"github.com/linkgraph/crawler/internal/storage/gcs"
	"github.com/linkgraph/crawler/internal/storage/local"
	"github.com/linkgraph/crawler/internal/storage/memory"
	"github.com/linkgraph/crawler/internal/storage/postgres"
	"github.com/linkgraph/crawler/internal/writer"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Starts the crawl loop and the report/metrics HTTP server",
		Long: `Starts the service: a fetch pool of isolated worker processes, the
dispatch loop that drains the crawl frontier, the asynchronous write-back
pipeline, and an HTTP server exposing health probes, Prometheus metrics,
and the inbound-link report.`,
		RunE: runService,
	}
}

func runService(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	crawlStore, err := postgres.NewCrawlStore(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connect crawl store: %w", err)
	}
	defer crawlStore.Close()
	if err := crawlStore.InitSchema(ctx); err != nil {
		return fmt.Errorf("init crawl schema: %w", err)
	}

	graphStore, err := postgres.NewGraphStore(ctx, postgres.Config{
		DSN:      cfg.Graph.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connect graph store: %w", err)
	}
	defer graphStore.Close()
	if err := graphStore.InitSchema(ctx); err != nil {
		return fmt.Errorf("init graph schema: %w", err)
	}

	blobs, err := buildBlobStore(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}

	var publisher crawl.Publisher
	if cfg.PubSub.Enabled {
		p, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub publisher: %w", err)
		}
		defer func() {
			if cerr := p.Close(); cerr != nil {
				logger.Warn("close publisher failed", zap.Error(cerr))
			}
		}()
		publisher = p
	}

	factory, err := fetchpool.NewProcFactory(fetchpool.ProcConfig{
		Args: []string{
			"fetch-worker",
			"--fetch-timeout", cfg.Crawler.FetchTimeout().String(),
			"--user-agent", cfg.Crawler.UserAgent,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("build worker factory: %w", err)
	}

	pool, err := fetchpool.New(fetchpool.Config{
		Size:          cfg.Crawler.Workers,
		BatchDeadline: cfg.Crawler.BatchDeadline(),
	}, factory, logger)
	if err != nil {
		return fmt.Errorf("start fetch pool: %w", err)
	}
	defer pool.Close()

	pipeline := writer.New(crawlStore, graphStore, blobs, publisher, sha256.New(), writer.Config{
		Concurrency:   cfg.Crawler.Workers,
		ArchivePrefix: cfg.Archive.Prefix,
		Topic:         cfg.PubSub.TopicName,
	}, logger)
	defer pipeline.Close()

	d := dispatcher.New(crawlStore, pool, pipeline, uuid.New(), system.New(), dispatcher.Config{
		ChunkSize: cfg.Crawler.ChunkSize(),
		SeedURLs:  cfg.Crawler.SeedURLs,
	}, logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(crawlStore, graphStore, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if serveErr := httpSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(serveErr))
			stop()
		}
	}()

	logger.Info("crawler starting",
		zap.Int("workers", cfg.Crawler.Workers),
		zap.Int("chunk_size", cfg.Crawler.ChunkSize()),
	)
	d.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}

	logger.Info("crawler stopped")
	return nil
}

func buildBlobStore(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (crawl.BlobStore, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "memory":
		logger.Info("using in-memory archive backend")
		return memory.NewBlobStore(), nil
	case "local":
		logger.Info("using local archive backend", zap.String("base_dir", cfg.BaseDir))
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case "gcs":
		logger.Info("using GCS archive backend", zap.String("bucket", cfg.Bucket))
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("archive backend %q is not supported", cfg.Backend)
	}
}
