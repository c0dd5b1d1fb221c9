package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/captioner/internal/engine"
)

func newWorkerCmd() *cobra.Command {
	var noReaper bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Claim queued jobs and run them through the vision model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			eng, err := engine.NewEngine(cfg.Model)
			if err != nil {
				return fmt.Errorf("create engine: %w", err)
			}
			slog.Info("engine initialized",
				"provider", eng.Name(),
				"model", eng.Model(),
				"device", cfg.Model.Device,
				"workers", cfg.Queue.Workers,
			)

			ctx := cmd.Context()
			b, err := openBackends(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			ws := newWorkerSet(cfg, b.store, b.queue, b.media, b.cache, eng)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return ws.pool.Run(gctx) })
			if !noReaper {
				g.Go(func() error { return ws.reaper.Run(gctx) })
			}

			err = g.Wait()
			stats := ws.handle.Stats()
			slog.Info("worker stopped", "calls", stats.Calls, "loaded", stats.Loaded, "device", stats.Device)
			return err
		},
	}

	cmd.Flags().BoolVar(&noReaper, "no-reaper", false, "Do not run the timeout and retention sweeper in this process")
	return cmd
}
