package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest URL...",
	Short: "Fetch pages and record them in the catalog",
	Long: `Ingest fetches each URL, extracts its readable text, writes the document
under the data directory and records one catalog entry per source.
Re-ingesting a known URL refreshes its entry in place.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel, a, err := setupApp()
	if err != nil {
		return err
	}
	defer cancel()
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("shutdown error", "error", err)
		}
	}()

	result, err := a.Ingest(ctx, args)
	if err != nil {
		return fmt.Errorf("ingesting sources: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d of %d sources\n", result.Stored, result.Requested)
	for _, entry := range result.Entries {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", entry.Filename, entry.Title)
	}
	return nil
}
