package cmd

import (
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/evidra/evidra/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	Long: `Mcp exposes the catalog over the Model Context Protocol: an ingest tool,
an upload tool and a search tool named by the active backend. The server
speaks the protocol on stdin/stdout.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(*cobra.Command, []string) error {
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

	server, err := mcp.NewServer(a, "evidra", Version)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	slog.Info("MCP server ready", "version", Version, "transport", "stdio")
	if err := server.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
