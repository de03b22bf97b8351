package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all cataloged documents",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	_, cancel, a, err := setupApp()
	if err != nil {
		return err
	}
	defer cancel()
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("shutdown error", "error", err)
		}
	}()

	entries, err := a.Ledger.List()
	if err != nil {
		return fmt.Errorf("listing catalog: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "Catalog is empty")
		return nil
	}

	for _, e := range entries {
		fmt.Fprintf(out, "%s\n  %s\n  %d chars", e.Filename, e.URL, e.ContentLength)
		if len(e.Keywords) > 0 {
			fmt.Fprintf(out, ", keywords: %s", strings.Join(e.Keywords, ", "))
		}
		fmt.Fprintln(out)
	}
	return nil
}
