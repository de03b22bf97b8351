package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/evidra/evidra/internal/backend"
)

var uploadCmd = &cobra.Command{
	Use:   "upload REF...",
	Short: "Push cataloged documents into the retrieval backend",
	Long: `Upload resolves each reference (a source URL, a local path, a backend file
id or a catalog name) and pushes the document into the active backend.
Documents the backend already holds are reused, not re-uploaded.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
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

	result, err := a.Backend.Upload(ctx, args)
	if err != nil {
		return fmt.Errorf("uploading files: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Requested %d, uploaded %d, reused %d\n",
		result.Requested, result.Uploaded, result.Reused)
	if result.AttachSucceeded+result.AttachFailed > 0 {
		fmt.Fprintf(out, "Attached %d, attach failures %d\n",
			result.AttachSucceeded, result.AttachFailed)
	}
	for _, f := range result.Files {
		switch f.Status {
		case backend.StatusFailed:
			fmt.Fprintf(out, "  %-8s %s: %s\n", f.Status, f.Ref, f.Detail)
		default:
			fmt.Fprintf(out, "  %-8s %s\n", f.Status, f.Ref)
		}
	}
	return nil
}
