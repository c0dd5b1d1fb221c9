package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/captioner/internal/cache"
	"github.com/kiranshivaraju/captioner/internal/config"
	"github.com/kiranshivaraju/captioner/internal/engine"
	"github.com/kiranshivaraju/captioner/internal/media"
	"github.com/kiranshivaraju/captioner/internal/queue"
	"github.com/kiranshivaraju/captioner/internal/store"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

// devApp is the single-process deployment: API and workers sharing
// in-memory store, cache and queue.
type devApp struct {
	cfg     *config.Config
	handler http.Handler
	workers *workerSet
	cache   *cache.MemoryCache
}

func newDevApp(cfg *config.Config, eng models.VisionEngine) (*devApp, error) {
	mediaStore, err := media.NewFSStore(cfg.Server.MediaDir, cfg.Server.MediaURL)
	if err != nil {
		return nil, fmt.Errorf("open media dir: %w", err)
	}
	st := store.NewMemoryStore()
	q := queue.NewMemoryQueue()
	c := cache.NewMemoryCache()

	ws := newWorkerSet(cfg, st, q, mediaStore, c, eng)
	svc := newJobService(cfg, st, q, mediaStore, c)
	h, err := newAPIHandler(cfg, svc, st, c, q, ws.handle)
	if err != nil {
		return nil, err
	}

	return &devApp{
		cfg:     cfg,
		handler: h,
		workers: ws,
		cache:   c,
	}, nil
}

// runBackground runs the worker pool, reaper and cache sweeper until ctx
// is canceled.
func (a *devApp) runBackground(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return a.workers.pool.Run(ctx) })
	g.Go(func() error { return a.workers.reaper.Run(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Queue.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := a.cache.Sweep(); n > 0 {
					slog.Debug("expired cache entries swept", "count", n)
				}
			}
		}
	})
}

func newDevCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dev",
		Short: "Run API and workers in one process with in-memory backends",
		Long: "Run API and workers in one process. Jobs, cache and queue live in memory\n" +
			"and are lost on exit; uploads are still written to MEDIA_DIR.\n" +
			"Set MODEL_PROVIDER=mock to run without an inference server.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			eng, err := engine.NewEngine(cfg.Model)
			if err != nil {
				return fmt.Errorf("create engine: %w", err)
			}
			slog.Info("dev mode", "provider", eng.Name(), "model", eng.Model(), "media_dir", cfg.Server.MediaDir)

			app, err := newDevApp(cfg, eng)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(cmd.Context())
			app.runBackground(gctx, g)
			g.Go(func() error { return serveHTTP(gctx, cfg.Server.Port, app.handler) })
			return g.Wait()
		},
	}
}
