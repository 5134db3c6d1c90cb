// The worker binary runs the async ingestion stages: extract pulls page
// text out of uploaded PDFs, index chunks and embeds it. It also sweeps
// stale token reservations left behind by crashed processes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/inkwell-backend/internal/budget"
	"github.com/connexus-ai/inkwell-backend/internal/cache"
	"github.com/connexus-ai/inkwell-backend/internal/config"
	"github.com/connexus-ai/inkwell-backend/internal/embedding"
	"github.com/connexus-ai/inkwell-backend/internal/pdf"
	"github.com/connexus-ai/inkwell-backend/internal/queue"
	"github.com/connexus-ai/inkwell-backend/internal/repository"
	"github.com/connexus-ai/inkwell-backend/internal/service"
	"github.com/connexus-ai/inkwell-backend/internal/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	blobs, err := storage.NewStore(ctx, cfg.StorageBucket)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer blobs.Close()

	jobs, err := queue.NewPublisher(ctx, cfg.GCPProject, cfg.ExtractTopic, cfg.IndexTopic)
	if err != nil {
		return fmt.Errorf("open job queue: %w", err)
	}
	defer jobs.Close()

	embedder, err := embedding.NewEmbedder(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.EmbeddingModel, cfg.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("open embedder: %w", err)
	}
	defer embedder.Close()

	extractor, err := pdf.NewExtractor(ctx, cfg.GCPLocation, cfg.DocAIProcessor)
	if err != nil {
		return fmt.Errorf("open extractor: %w", err)
	}
	defer extractor.Close()

	subClient, err := pubsub.NewClient(ctx, cfg.GCPProject)
	if err != nil {
		return fmt.Errorf("open pubsub: %w", err)
	}
	defer subClient.Close()

	documents := repository.NewDocumentRepo(pool)
	pages := repository.NewPageRepo(pool)
	chunks := repository.NewChunkRepo(pool)

	ledger := budget.NewLedger(pool, cfg.DailyTokenLimit, logger)
	embedCache := cache.New(cfg.EmbeddingCacheTTL())
	defer embedCache.Stop()

	ingest := service.NewIngestService(
		documents, pages, chunks,
		ledger, embedder, blobs, extractor, jobs, embedCache,
		cfg, logger,
	)

	extractConsumer := queue.NewConsumer(subClient, cfg.ExtractSubscription, logger.With("consumer", "extract"))
	indexConsumer := queue.NewConsumer(subClient, cfg.IndexSubscription, logger.With("consumer", "index"))

	logger.Info("worker starting",
		"extract_subscription", cfg.ExtractSubscription,
		"index_subscription", cfg.IndexSubscription,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return extractConsumer.Run(gctx, ingest.Extract)
	})
	g.Go(func() error {
		return indexConsumer.Run(gctx, ingest.Index)
	})
	g.Go(func() error {
		return sweepStaleReservations(gctx, ledger, cfg.ReservationTTL(), logger)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("worker stopped")
	return nil
}

// sweepStaleReservations periodically zeroes reservations older than the
// TTL so a crashed process cannot pin budget for the rest of the day.
func sweepStaleReservations(ctx context.Context, ledger *budget.Ledger, ttl time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			released, err := ledger.ReleaseStale(ctx, ttl)
			if err != nil {
				logger.Error("stale reservation sweep failed", "error", err)
				continue
			}
			if released > 0 {
				logger.Info("released stale reservations", "rows", released)
			}
		}
	}
}
