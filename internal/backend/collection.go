package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"

	"github.com/evidra/evidra/internal/chunkindex"
	"github.com/evidra/evidra/internal/ledger"
)

// UpsertChunkParams carries one chunk record into storage.
type UpsertChunkParams struct {
	ID           string
	CollectionID string
	DocumentID   string
	ChunkIndex   int
	Content      string
	Embedding    *pgvector.Vector
	Metadata     map[string]string
}

// SearchChunksParams carries one vector search request.
type SearchChunksParams struct {
	CollectionID   string
	QueryEmbedding *pgvector.Vector
	Limit          int
	Filenames      []string
}

// ChunkRow is one search result row.
type ChunkRow struct {
	DocumentID string
	ChunkIndex int
	Content    string
	Metadata   map[string]string
	Similarity float64
}

// Querier defines the storage operations the collection backend consumes.
// Defined here, on the consumer side, so tests can substitute a mock for the
// database-backed implementation.
type Querier interface {
	// EnsureCollection resolves the named collection's id, creating it when
	// absent.
	EnsureCollection(ctx context.Context, name string) (string, error)

	// UpsertChunk inserts or replaces one chunk record.
	UpsertChunk(ctx context.Context, arg UpsertChunkParams) error

	// CountDocumentChunks counts stored chunks for one document.
	CountDocumentChunks(ctx context.Context, collectionID, documentID string) (int64, error)

	// SearchChunks returns the nearest chunks by cosine similarity.
	SearchChunks(ctx context.Context, arg SearchChunksParams) ([]ChunkRow, error)
}

// Collection implements Backend against the remote document-collection
// service: documents are chunked locally, embedded, and stored as individual
// records that the service can search by vector similarity.
type Collection struct {
	queries   Querier
	embedder  ai.Embedder
	ledger    *ledger.Store
	docDir    string
	storeName string
	maxChars  int
	overlap   int
	logger    *slog.Logger
}

// NewCollection creates the document-collection backend. Chunking uses the
// same window parameters as the local index.
func NewCollection(queries Querier, embedder ai.Embedder, led *ledger.Store, docDir, storeName string, maxChars, overlap int, logger *slog.Logger) *Collection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collection{
		queries:   queries,
		embedder:  embedder,
		ledger:    led,
		docDir:    docDir,
		storeName: storeName,
		maxChars:  maxChars,
		overlap:   overlap,
		logger:    logger,
	}
}

// ResolveStoreID resolves or creates the named collection, caching the id
// for process lifetime.
func (b *Collection) ResolveStoreID(ctx context.Context, name string) (string, error) {
	if id, ok := cachedStoreID(ProviderCollection, name); ok {
		return id, nil
	}
	id, err := b.queries.EnsureCollection(ctx, name)
	if err != nil {
		return "", fmt.Errorf("resolving collection %q: %w", name, err)
	}
	cacheStoreID(ProviderCollection, name, id)
	return id, nil
}

// Upload chunks, embeds and stores each referenced file. Documents whose
// ledger entry already carries a document id with stored chunks are reported
// as reused. Per-file failures never abort the batch; an unresolvable
// collection does.
func (b *Collection) Upload(ctx context.Context, refs []string) (*UploadResult, error) {
	// Inputs resolve before any network call so a batch of bad refs cannot
	// create the destination collection as a side effect.
	resolved, failed := resolveRefs(b.ledger, b.docDir, refs)

	result := &UploadResult{
		Requested: len(refs),
		Files:     failed,
	}
	if len(resolved) == 0 {
		return result, nil
	}

	collectionID, err := b.ResolveStoreID(ctx, b.storeName)
	if err != nil {
		return nil, err
	}

	for _, rf := range resolved {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		status := FileStatus{Ref: rf.ref, Filename: rf.entry.Filename}

		docID := rf.entry.LocalDocID
		if docID == "" {
			docID = DocumentID(rf.entry.URL)
		}

		if rf.entry.LocalDocID != "" {
			count, err := b.queries.CountDocumentChunks(ctx, collectionID, docID)
			if err != nil {
				status.Status = StatusFailed
				status.Detail = fmt.Sprintf("checking document %s: %v", docID, err)
				result.Files = append(result.Files, status)
				continue
			}
			if count > 0 {
				result.Reused++
				status.Status = StatusReused
				result.Files = append(result.Files, status)
				continue
			}
		}

		if err := b.ingestOne(ctx, collectionID, docID, rf); err != nil {
			status.Status = StatusFailed
			status.Detail = err.Error()
			result.Files = append(result.Files, status)
			continue
		}

		if err := b.ledger.SetLocalDocID(rf.entry.URL, docID); err != nil {
			b.logger.Warn("recording document id", "url", rf.entry.URL, "error", err)
		}

		result.Uploaded++
		status.Status = StatusIndexed
		result.Files = append(result.Files, status)
	}

	b.logger.Debug("collection upload finished",
		"collection_id", collectionID, "requested", result.Requested,
		"indexed", result.Uploaded, "reused", result.Reused)
	return result, nil
}

// ingestOne chunks one file, embeds each chunk and upserts the records.
// Chunk ids derive from the content, so re-ingesting unchanged text lands on
// the same rows instead of duplicating them.
func (b *Collection) ingestOne(ctx context.Context, collectionID, docID string, rf resolvedFile) error {
	content, err := os.ReadFile(rf.path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", rf.path, err)
	}

	chunks := chunkindex.Chunk(string(content), b.maxChars, b.overlap)
	for i, chunk := range chunks {
		embedding, err := b.embedText(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embedding chunk %d of %s: %w", i, rf.entry.Filename, err)
		}

		err = b.queries.UpsertChunk(ctx, UpsertChunkParams{
			ID:           chunkID(docID, chunk),
			CollectionID: collectionID,
			DocumentID:   docID,
			ChunkIndex:   i,
			Content:      chunk,
			Embedding:    embedding,
			Metadata: map[string]string{
				"source":    rf.entry.URL,
				"title":     rf.entry.Title,
				"file_name": rf.entry.Filename,
			},
		})
		if err != nil {
			return fmt.Errorf("storing chunk %d of %s: %w", i, rf.entry.Filename, err)
		}
	}

	b.logger.Debug("ingested document", "document_id", docID, "chunks", len(chunks))
	return nil
}

// Search embeds the query and returns the nearest stored chunks.
func (b *Collection) Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error) {
	if query == "" {
		return nil, nil
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}

	collectionID, err := b.ResolveStoreID(ctx, b.storeName)
	if err != nil {
		return nil, err
	}

	embedding, err := b.embedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := b.queries.SearchChunks(ctx, SearchChunksParams{
		CollectionID:   collectionID,
		QueryEmbedding: embedding,
		Limit:          topK,
		Filenames:      opts.Filenames,
	})
	if err != nil {
		return nil, fmt.Errorf("searching collection: %w", err)
	}

	// A filename filter matching nothing falls back to the full set, same as
	// the local index.
	if len(rows) == 0 && len(opts.Filenames) > 0 {
		b.logger.Warn("filename filter matched no stored chunk, falling back to full set",
			"filenames", opts.Filenames)
		rows, err = b.queries.SearchChunks(ctx, SearchChunksParams{
			CollectionID:   collectionID,
			QueryEmbedding: embedding,
			Limit:          topK,
		})
		if err != nil {
			return nil, fmt.Errorf("searching collection: %w", err)
		}
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		if opts.ScoreThreshold > 0 && row.Similarity < opts.ScoreThreshold {
			continue
		}
		hits = append(hits, Hit{
			Text:       row.Content,
			Score:      row.Similarity,
			DocumentID: row.DocumentID,
			ChunkIndex: row.ChunkIndex,
			Metadata:   row.Metadata,
		})
	}
	return hits, nil
}

// ToolName implements Backend.
func (b *Collection) ToolName() string { return "search_document_collection" }

// embedText generates one embedding vector.
func (b *Collection) embedText(ctx context.Context, text string) (*pgvector.Vector, error) {
	resp, err := b.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	v := pgvector.NewVector(resp.Embeddings[0].Embedding)
	return &v, nil
}

// chunkID derives a stable chunk row id from the document id and chunk text.
func chunkID(docID, content string) string {
	sum := sha256.Sum256([]byte(docID + "\x00" + content))
	return "chunk_" + hex.EncodeToString(sum[:16])
}
