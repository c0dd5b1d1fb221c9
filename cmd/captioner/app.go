package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kiranshivaraju/captioner/internal/api"
	"github.com/kiranshivaraju/captioner/internal/api/handler"
	mw "github.com/kiranshivaraju/captioner/internal/api/middleware"
	"github.com/kiranshivaraju/captioner/internal/cache"
	"github.com/kiranshivaraju/captioner/internal/config"
	"github.com/kiranshivaraju/captioner/internal/job"
	"github.com/kiranshivaraju/captioner/internal/media"
	"github.com/kiranshivaraju/captioner/internal/model"
	"github.com/kiranshivaraju/captioner/internal/queue"
	"github.com/kiranshivaraju/captioner/internal/store"
	"github.com/kiranshivaraju/captioner/internal/worker"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

const shutdownTimeout = 30 * time.Second

// backends are the shared services every non-dev process connects to.
type backends struct {
	pool  *pgxpool.Pool
	store *store.PostgresStore
	cache *cache.RedisCache
	queue *queue.RedisQueue
	media *media.FSStore
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := redisCache.Ping(ctx); err != nil {
		redisCache.Close()
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	mediaStore, err := media.NewFSStore(cfg.Server.MediaDir, cfg.Server.MediaURL)
	if err != nil {
		redisCache.Close()
		pool.Close()
		return nil, fmt.Errorf("open media dir: %w", err)
	}

	return &backends{
		pool:  pool,
		store: store.NewPostgresStore(pool),
		cache: redisCache,
		queue: queue.NewRedisQueue(redisCache.Client(), cfg.Queue.Key),
		media: mediaStore,
	}, nil
}

func (b *backends) Close() {
	if err := b.cache.Close(); err != nil {
		slog.Warn("close redis", "error", err)
	}
	b.pool.Close()
}

func newJobService(cfg *config.Config, st store.Store, q queue.Queue, m media.Store, c cache.Cache) *job.Service {
	return job.NewService(st, q, m, c, job.Config{
		JobTimeout: cfg.Queue.JobTimeout,
		StatusTTL:  cfg.Cache.StatusTTL,
	})
}

// newAPIHandler wires the HTTP surface. mc is nil in processes that host
// no model.
func newAPIHandler(cfg *config.Config, svc *job.Service, db handler.Pinger, c cache.Cache, q handler.QueueDepth, mc handler.ModelChecker) (http.Handler, error) {
	proxies, err := cfg.Server.ProxyPrefixes()
	if err != nil {
		return nil, err
	}
	return api.NewRouter(api.Dependencies{
		RateLimit:      mw.NewRateLimit(c, cfg.Server.RateLimitPerMin),
		TrustedProxies: proxies,

		HealthHandler:  handler.NewHealthHandler(db, c, q, mc),
		SubmitHandler:  handler.NewSubmitHandler(svc, cfg.Server.MaxUploadBytes),
		StatusHandler:  handler.NewStatusHandler(svc),
		ListAnalyses:   handler.NewListAnalysesHandler(svc),
		RecentAnalyses: handler.NewRecentAnalysesHandler(svc),
		AnalysisStats:  handler.NewAnalysisStatsHandler(svc),
		GetAnalysis:    handler.NewGetAnalysisHandler(svc),
		DeleteAnalysis: handler.NewDeleteAnalysisHandler(svc),

		MediaDir: cfg.Server.MediaDir,
		MediaURL: cfg.Server.MediaURL,
	}), nil
}

// workerSet is one process's model handle plus the loops that feed it.
type workerSet struct {
	handle *model.Handle
	pool   *worker.Pool
	reaper *queue.Reaper
}

func newWorkerSet(cfg *config.Config, st store.Store, q queue.Queue, m media.Store, c cache.Cache, engine models.VisionEngine) *workerSet {
	handle := model.NewHandle(engine, cfg.Model)
	predictions := cache.NewPredictionCache(c, cfg.Cache.PredictionTTL)
	processor := worker.NewProcessor(st, m, predictions, handle, engine.Model())

	return &workerSet{
		handle: handle,
		pool:   worker.NewPool(q, processor, cfg.Queue.Workers, cfg.Queue.ClaimWait),
		reaper: queue.NewReaper(st, q, queue.ReaperConfig{
			Interval:          cfg.Queue.ReapInterval,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			Retention:         cfg.Queue.Retention,
		}),
	}
}

// serveHTTP runs the server until ctx is canceled, then drains it.
func serveHTTP(ctx context.Context, port int, h http.Handler) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
