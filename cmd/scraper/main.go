package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"catalogsync/internal/apperr"
	"catalogsync/internal/config"
	"catalogsync/internal/crawler"
	"catalogsync/internal/db"
	"catalogsync/internal/embeddings"
	"catalogsync/internal/observability"
	"catalogsync/internal/pipeline"
	"catalogsync/internal/platform/httpx"
	"catalogsync/internal/platform/logger"
	"catalogsync/internal/repository"
)

// go run ./cmd/scraper --dry-run --limit 5
// go run ./cmd/scraper --prune --archive-raw
func main() {
	os.Exit(run())
}

func run() int {
	dryRun := flag.Bool("dry-run", false, "fetch, normalize and embed without writing to the database")
	limit := flag.Int("limit", 0, "process at most N catalog entries (0 = whole catalog)")
	batchSize := flag.Int("batch-size", pipeline.DefaultBatchSize, "records per upsert transaction")
	prune := flag.Bool("prune", false, "delete rows of this source that were not seen in a complete run")
	archiveRaw := flag.Bool("archive-raw", false, "store the raw storefront entry in product_raw_catalog")
	storeConfig := flag.String("store-config", "", "YAML file overriding the storefront settings")
	metricsPort := flag.String("metrics-port", "", "serve /metrics on this port while running")
	flag.Parse()

	cfg := config.Load()
	if *metricsPort != "" {
		cfg.MetricsPort = *metricsPort
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	if *limit < 0 {
		log.Error("invalid flag", "limit", *limit)
		return 1
	}
	if err := cfg.LoadStore(*storeConfig); err != nil {
		log.Error("configuration error", "error", err)
		return 1
	}
	if err := cfg.Validate(*dryRun); err != nil {
		log.Error("configuration error", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.New().String()
	log = log.With("run_id", runID)

	metrics := observability.New()
	if cfg.MetricsPort != "" {
		errc := metrics.Start(ctx, cfg.MetricsPort)
		go func() {
			if err := <-errc; err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	httpClient := httpx.New(cfg.RequestTimeout, cfg.MaxRetries, log)
	fetcher := crawler.NewFetcher(httpClient, crawler.FetcherConfig{
		CollectionURL: cfg.Store.CollectionURL(),
		PageSize:      cfg.Store.PageSize,
		Delay:         cfg.RequestDelay,
	}, log)

	model := embeddings.NewOpenAIModel(embeddings.OpenAIConfig{
		BaseURL:     cfg.EmbeddingAPIURL,
		APIKey:      cfg.EmbeddingAPIKey,
		ImageModel:  cfg.ImageModel,
		TextModel:   cfg.TextModel,
		Timeout:     cfg.ModelTimeout,
		MaxAttempts: cfg.MaxRetries,
	})
	opts := embeddings.ClientOptions{
		Dim:        cfg.EmbeddingDim,
		ImageModel: cfg.ImageModel,
		TextModel:  cfg.TextModel,
		Log:        log,
	}
	if cfg.RedisURL != "" {
		cache := embeddings.NewRedisCache(cfg.RedisURL)
		defer cache.Close()
		if err := cache.Ping(ctx); err != nil {
			log.Warn("embedding cache unavailable, continuing without it", "error", err)
		} else {
			opts.Cache = cache
		}
	}
	embedder := embeddings.NewClient(model, embeddings.NewImageLoader(httpClient, 0), opts)

	runner := &pipeline.Runner{
		Source:     fetcher,
		Normalizer: crawler.NewNormalizer(cfg.Store),
		Embedder:   embedder,
		Metrics:    metrics,
		Log:        log,
		RunID:      runID,
		Options: pipeline.Options{
			Limit:     *limit,
			DryRun:    *dryRun,
			BatchSize: *batchSize,
			Prune:     *prune,
			Source:    cfg.Store.Source,
		},
	}

	if !*dryRun {
		dsn, err := cfg.DatabaseDSN()
		if err != nil {
			log.Error("configuration error", "error", err)
			return 1
		}
		pool, err := db.NewPool(ctx, dsn)
		if err != nil {
			log.Error("database unavailable", "error", err)
			return 1
		}
		defer pool.Close()
		runner.Writer = &repository.ProductRepository{DB: pool}

		if *archiveRaw || *prune {
			sqlDB, err := db.New(dsn)
			if err != nil {
				log.Error("database unavailable", "error", err)
				return 1
			}
			defer sqlDB.Close()
			raw := &repository.RawRepository{DB: sqlDB}
			if *archiveRaw {
				if err := raw.EnsureSchema(ctx); err != nil {
					log.Error("create raw archive table", "error", err)
					return 1
				}
				runner.Archiver = raw
			}
			runner.Pruner = raw
		}
	}

	_, runErr := runner.Run(ctx)

	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := metrics.Push(pushCtx, cfg.PushgatewayURL, "catalogsync", runID); err != nil {
			log.Warn("pushgateway push failed", "error", err)
		}
		cancel()
	}

	if runErr != nil {
		switch {
		case errors.Is(runErr, apperr.ErrFetch):
			log.Error("catalog fetch failed", "error", runErr)
		case errors.Is(runErr, apperr.ErrWrite):
			log.Error("one or more batches were not written", "error", runErr)
		default:
			log.Error("run aborted", "error", runErr)
		}
		return 1
	}
	return 0
}
