package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/captioner/internal/store"
)

func newServeCmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (submission, status, analyses, media)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			slog.Info("config loaded", "env", cfg.Server.Env, "media_dir", cfg.Server.MediaDir)

			if !skipMigrations {
				if err := store.RunMigrations(cfg.Database.URL); err != nil {
					return fmt.Errorf("run migrations: %w", err)
				}
				slog.Info("database migrations applied")
			}

			ctx := cmd.Context()
			b, err := openBackends(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			svc := newJobService(cfg, b.store, b.queue, b.media, b.cache)
			h, err := newAPIHandler(cfg, svc, b.store, b.cache, b.queue, nil)
			if err != nil {
				return err
			}
			return serveHTTP(ctx, cfg.Server.Port, h)
		},
	}

	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending migrations at startup")
	return cmd
}
