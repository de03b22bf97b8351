package backend

import (
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"

	"github.com/evidra/evidra/internal/chunkindex"
	"github.com/evidra/evidra/internal/ledger"
)

// Deps carries everything any backend might need. Only the fields the
// selected provider uses have to be set.
type Deps struct {
	Ledger    *ledger.Store
	DocDir    string
	StoreName string
	Logger    *slog.Logger

	// Local provider.
	Index *chunkindex.Index

	// Vector provider.
	VectorAPIKey string

	// Collection provider.
	Queries  Querier
	Embedder ai.Embedder
	MaxChars int
	Overlap  int
}

// New builds the backend for the given provider.
func New(provider Provider, deps Deps) (Backend, error) {
	switch provider {
	case ProviderLocal:
		if deps.Index == nil {
			return nil, fmt.Errorf("local backend requires a chunk index")
		}
		return NewLocal(deps.Ledger, deps.Index, deps.DocDir, deps.Logger), nil

	case ProviderVector:
		if deps.VectorAPIKey == "" {
			return nil, fmt.Errorf("vector backend requires an API key")
		}
		api := newOpenAIAPI(deps.VectorAPIKey)
		return NewVectorStore(api, deps.Ledger, deps.DocDir, deps.StoreName, deps.Logger), nil

	case ProviderCollection:
		if deps.Queries == nil || deps.Embedder == nil {
			return nil, fmt.Errorf("collection backend requires a querier and an embedder")
		}
		return NewCollection(deps.Queries, deps.Embedder, deps.Ledger,
			deps.DocDir, deps.StoreName, deps.MaxChars, deps.Overlap, deps.Logger), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
