package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evidra/evidra/internal/backend"
)

var searchTopK int

var searchCmd = &cobra.Command{
	Use:   "search QUERY...",
	Short: "Search the ingested corpus",
	Long: `Search expands the query per the configured expansion mode, pools hits
from the active backend and prints the cleaned, deduplicated evidence
chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 5, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
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

	query := strings.Join(args, " ")
	hits, err := a.Engine.Retrieve(ctx, query, searchTopK)
	if err != nil {
		if errors.Is(err, backend.ErrSearchUnsupported) {
			return fmt.Errorf("the %s backend holds no queryable content; search happens inside the model call that owns the store", a.Config.Provider)
		}
		return fmt.Errorf("searching: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(hits) == 0 {
		fmt.Fprintln(out, "No results")
		return nil
	}

	for i, hit := range hits {
		fmt.Fprintf(out, "%d. [%.3f] %s (chunk %d)\n", i+1, hit.Score, hit.DocumentID, hit.ChunkIndex)
		if title := hit.Metadata["title"]; title != "" {
			fmt.Fprintf(out, "   %s\n", title)
		}
		fmt.Fprintf(out, "   %s\n\n", hit.Text)
	}
	return nil
}
