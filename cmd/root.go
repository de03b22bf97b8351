// Package cmd implements the evidra command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evidra/evidra/internal/app"
	"github.com/evidra/evidra/internal/config"
	"github.com/evidra/evidra/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	Version   = "development"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	verbose bool
	jsonLog bool
)

var rootCmd = &cobra.Command{
	Use:   "evidra",
	Short: "Evidra is a durable catalog of ingested documents with pluggable retrieval",
	Long: `Evidra fetches source documents, records them in a durable catalog, pushes
them into a retrieval backend (a local lexical index, a remote vector store
or a PostgreSQL document collection) and answers queries with cleaned,
deduplicated evidence chunks.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(log.New(log.Config{Level: level, JSON: jsonLog}))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "log in JSON format")
}

// setupApp loads configuration and builds the application container. The
// returned context is canceled on SIGINT/SIGTERM.
func setupApp() (context.Context, context.CancelFunc, *app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	a, err := app.Setup(ctx, cfg, slog.Default())
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("initializing application: %w", err)
	}
	return ctx, cancel, a, nil
}
