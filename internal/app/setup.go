package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidra/evidra/db"
	"github.com/evidra/evidra/internal/backend"
	"github.com/evidra/evidra/internal/chunkindex"
	"github.com/evidra/evidra/internal/config"
	"github.com/evidra/evidra/internal/ledger"
	"github.com/evidra/evidra/internal/loader"
	"github.com/evidra/evidra/internal/observability"
	"github.com/evidra/evidra/internal/retrieval"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup, call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Telemetry.Environment,
	}, logger)

	a.DocDir = filepath.Join(cfg.DataDir, "docs")

	led, err := ledger.Open(filepath.Join(cfg.DataDir, "ledger.json"), logger)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	a.Ledger = led

	b, err := a.provideBackend(ctx, cfg, led, logger)
	if err != nil {
		return nil, err
	}
	a.Backend = b

	a.Engine = retrieval.New(b, retrieval.Config{
		Expansion:        retrieval.Expansion(cfg.Expansion),
		MaxExtraVariants: cfg.MaxExtraVariants,
		CandidateFloor:   cfg.CandidateFloor,
		MinHitChars:      cfg.MinHitChars,
		MaxHitChars:      cfg.MaxHitChars,
		PerDocumentCap:   cfg.PerDocumentCap,
	}, logger)

	a.Loader = loader.New(loader.Config{
		Parallelism:   cfg.Loader.Parallelism,
		Delay:         time.Duration(cfg.Loader.DelayMs) * time.Millisecond,
		Timeout:       time.Duration(cfg.Loader.TimeoutMs) * time.Millisecond,
		RatePerSecond: cfg.Loader.RatePerSecond,
	}, logger)

	return a, nil
}

// provideBackend builds the backend selected by cfg.Provider, acquiring the
// provider-specific dependencies.
func (a *App) provideBackend(ctx context.Context, cfg *config.Config, led *ledger.Store, logger *slog.Logger) (backend.Backend, error) {
	provider, err := backend.ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	deps := backend.Deps{
		Ledger:    led,
		DocDir:    a.DocDir,
		StoreName: cfg.StoreName,
		Logger:    logger,
	}

	switch provider {
	case backend.ProviderLocal:
		index, err := chunkindex.New(filepath.Join(cfg.DataDir, "index.json"),
			cfg.ChunkMaxChars, cfg.ChunkOverlap, logger)
		if err != nil {
			return nil, fmt.Errorf("opening chunk index: %w", err)
		}
		deps.Index = index

	case backend.ProviderVector:
		deps.VectorAPIKey = cfg.OpenAIAPIKey

	case backend.ProviderCollection:
		pool, dbCleanup, err := provideDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.dbCleanup = dbCleanup
		a.DBPool = pool

		g, embedder, err := provideEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.Genkit = g
		a.Embedder = embedder

		deps.Queries = backend.NewPGQueries(pool)
		deps.Embedder = embedder
		deps.MaxChars = cfg.ChunkMaxChars
		deps.Overlap = cfg.ChunkOverlap
	}

	return backend.New(provider, deps)
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideEmbedder initializes Genkit with the Gemini plugin and looks up the
// configured embedder model. The plugin reads GEMINI_API_KEY from the
// environment.
func provideEmbedder(ctx context.Context, cfg *config.Config) (*genkit.Genkit, ai.Embedder, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, nil, errors.New("initializing genkit")
	}

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	return g, embedder, nil
}
