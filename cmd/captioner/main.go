// Package main is the entrypoint for the captioner API server, worker
// and admin commands.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/captioner/internal/config"
)

// logLevel is raised or lowered from LOG_LEVEL once config is loaded.
var logLevel = new(slog.LevelVar)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("captioner failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "captioner",
		Short:         "Image captioning service backed by a vision-language model",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	root.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newDevCmd(),
		newMigrateCmd(),
		newAnalysesCmd(),
	)
	return root
}

// loadConfig reads the environment and applies the configured log level.
// dev relaxes the database and Redis requirements.
func loadConfig(dev bool) (*config.Config, error) {
	load := config.Load
	if dev {
		load = config.LoadDev
	}
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	logLevel.Set(cfg.Server.LogLevel)
	return cfg, nil
}
