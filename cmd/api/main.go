// The api binary serves the HTTP surface: workspaces, documents,
// queries, history, and chat sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/inkwell-backend/internal/auth"
	"github.com/connexus-ai/inkwell-backend/internal/budget"
	"github.com/connexus-ai/inkwell-backend/internal/cache"
	"github.com/connexus-ai/inkwell-backend/internal/config"
	"github.com/connexus-ai/inkwell-backend/internal/embedding"
	"github.com/connexus-ai/inkwell-backend/internal/handler"
	"github.com/connexus-ai/inkwell-backend/internal/llm"
	"github.com/connexus-ai/inkwell-backend/internal/queue"
	"github.com/connexus-ai/inkwell-backend/internal/ratelimit"
	"github.com/connexus-ai/inkwell-backend/internal/repository"
	"github.com/connexus-ai/inkwell-backend/internal/retrieval"
	"github.com/connexus-ai/inkwell-backend/internal/service"
	"github.com/connexus-ai/inkwell-backend/internal/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "error", err)
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

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
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

	answerer, err := llm.NewClient(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.LLMModel, cfg.LLMMaxOutputTokens)
	if err != nil {
		return fmt.Errorf("open llm: %w", err)
	}
	defer answerer.Close()

	verifier, err := auth.NewVerifier(ctx, cfg.GCPProject)
	if err != nil {
		return fmt.Errorf("open auth verifier: %w", err)
	}

	workspaces := repository.NewWorkspaceRepo(pool)
	documents := repository.NewDocumentRepo(pool)
	pages := repository.NewPageRepo(pool)
	chunks := repository.NewChunkRepo(pool)
	queryLogs := repository.NewQueryLogRepo(pool)
	chats := repository.NewChatRepo(pool)

	ledger := budget.NewLedger(pool, cfg.DailyTokenLimit, logger)
	searcher := retrieval.NewRetriever(pool, cfg.EmbeddingDim)
	embedCache := cache.New(cfg.EmbeddingCacheTTL())
	defer embedCache.Stop()
	limiter := ratelimit.New(rdb)

	api := &handler.API{
		Workspaces: service.NewWorkspaceService(workspaces, ledger, logger),
		Documents:  service.NewDocumentService(documents, pages, blobs, jobs, embedCache, cfg, logger),
		Query:      service.NewQueryService(documents, chunks, queryLogs, ledger, embedder, embedCache, searcher, answerer, cfg, logger),
		History:    service.NewHistoryService(queryLogs, chunks, pages, logger),
		Chats:      service.NewChatService(chats, documents, logger),
		Limiter:    limiter,
		Logger:     logger,
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler:           handler.NewRouter(api, verifier, prometheus.NewRegistry()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", srv.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
