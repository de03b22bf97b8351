// Package app wires configuration, the ledger, the active retrieval backend
// and the query engine into one application container.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidra/evidra/internal/backend"
	"github.com/evidra/evidra/internal/config"
	"github.com/evidra/evidra/internal/ledger"
	"github.com/evidra/evidra/internal/loader"
	"github.com/evidra/evidra/internal/retrieval"
)

// App is the application container. Build it with Setup and release
// resources with Close.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Ledger  *ledger.Store
	Backend backend.Backend
	Engine  *retrieval.Engine
	Loader  *loader.Loader

	// Set for the collection provider only.
	DBPool   *pgxpool.Pool
	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	// DocDir is where fetched documents are written.
	DocDir string

	otelCleanup func()
	dbCleanup   func()
}

// Close releases all resources acquired in Setup.
func (a *App) Close() error {
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
