package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/captioner/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			if err := store.RunMigrations(url); err != nil {
				return err
			}
			return printVersion(cmd, url)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive, got %d", steps)
			}
			url, err := databaseURL()
			if err != nil {
				return err
			}
			if err := store.RollbackMigrations(url, steps); err != nil {
				return err
			}
			return printVersion(cmd, url)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			return printVersion(cmd, url)
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

// databaseURL needs only DATABASE_URL, so migrations can run before Redis exists.
func databaseURL() (string, error) {
	cfg, err := loadConfig(true)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return "", errors.New("DATABASE_URL is required")
	}
	return cfg.Database.URL, nil
}

func printVersion(cmd *cobra.Command, url string) error {
	v, dirty, err := store.MigrationVersion(url)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch {
	case v == 0:
		fmt.Fprintln(out, "schema version: none")
	case dirty:
		fmt.Fprintf(out, "schema version: %d (dirty)\n", v)
	default:
		fmt.Fprintf(out, "schema version: %d\n", v)
	}
	return nil
}
