package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/captioner/pkg/models"
)

const captionColumnWidth = 60

func newAnalysesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "analyses",
		Aliases: []string{"analysis"},
		Short:   "Inspect and delete stored analyses",
	}

	var page, limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			b, err := openBackends(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			svc := newJobService(cfg, b.store, b.queue, b.media, b.cache)
			items, total, err := svc.ListAnalyses(cmd.Context(), page, limit)
			if err != nil {
				return fmt.Errorf("list analyses: %w", err)
			}
			writeAnalysesTable(cmd.OutOrStdout(), items)
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d analyses (page %d)\n", len(items), total, page)
			return nil
		},
	}
	list.Flags().IntVar(&page, "page", 1, "Page number")
	list.Flags().IntVar(&limit, "limit", 20, "Analyses per page (max 100)")

	del := &cobra.Command{
		Use:   "delete ANALYSIS_ID",
		Short: "Delete an analysis record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid analysis id %q: %w", args[0], err)
			}

			cfg, err := loadConfig(false)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			b, err := openBackends(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			svc := newJobService(cfg, b.store, b.queue, b.media, b.cache)
			if err := svc.DeleteAnalysis(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete analysis %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted analysis %s\n", id)
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}

func writeAnalysesTable(w io.Writer, items []*models.Analysis) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "CREATED", "SHORT CAPTION", "QUERY"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	for _, a := range items {
		query := "-"
		if a.QueryText != nil {
			query = strconv.Quote(truncate(*a.QueryText, captionColumnWidth))
		}
		table.Append([]string{
			a.ID.String(),
			a.CreatedAt.UTC().Format(time.DateTime),
			truncate(a.ShortCaption, captionColumnWidth),
			query,
		})
	}
	table.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
