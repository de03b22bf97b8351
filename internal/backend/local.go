package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/evidra/evidra/internal/chunkindex"
	"github.com/evidra/evidra/internal/ledger"
)

// Local serves retrieval entirely from disk: the ledger for identity and the
// lexical chunk index for content. It needs no credentials and no network.
type Local struct {
	ledger *ledger.Store
	index  *chunkindex.Index
	docDir string
	logger *slog.Logger
}

// NewLocal creates the local backend.
func NewLocal(led *ledger.Store, index *chunkindex.Index, docDir string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{ledger: led, index: index, docDir: docDir, logger: logger}
}

// ResolveStoreID returns a stable id for the named local store. There is no
// remote creation step; the name itself identifies the index.
func (b *Local) ResolveStoreID(_ context.Context, name string) (string, error) {
	if id, ok := cachedStoreID(ProviderLocal, name); ok {
		return id, nil
	}
	id := "local:" + name
	cacheStoreID(ProviderLocal, name, id)
	return id, nil
}

// Upload indexes the referenced files into the chunk index. Files whose
// ledger entry already carries a document id present in the index are
// reported as reused and skipped.
func (b *Local) Upload(ctx context.Context, refs []string) (*UploadResult, error) {
	resolved, failed := resolveRefs(b.ledger, b.docDir, refs)

	result := &UploadResult{
		Requested: len(refs),
		Files:     failed,
	}

	for _, rf := range resolved {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		docID := rf.entry.LocalDocID
		if docID == "" {
			docID = DocumentID(rf.entry.URL)
		}

		indexed, err := b.index.HasDocument(docID)
		if err != nil {
			result.Files = append(result.Files, FileStatus{
				Ref: rf.ref, Filename: rf.entry.Filename, Status: StatusFailed, Detail: err.Error(),
			})
			continue
		}
		if rf.entry.LocalDocID != "" && indexed {
			result.Reused++
			result.Files = append(result.Files, FileStatus{
				Ref: rf.ref, Filename: rf.entry.Filename, Status: StatusReused,
			})
			continue
		}

		content, err := os.ReadFile(rf.path)
		if err != nil {
			result.Files = append(result.Files, FileStatus{
				Ref: rf.ref, Filename: rf.entry.Filename, Status: StatusFailed,
				Detail: fmt.Sprintf("reading %s: %v", rf.path, err),
			})
			continue
		}

		rec := chunkindex.Record{
			DocumentID: docID,
			Content:    string(content),
			Metadata: map[string]string{
				"source":    rf.entry.URL,
				"title":     rf.entry.Title,
				"file_name": rf.entry.Filename,
			},
		}
		if err := b.index.Add(rec); err != nil {
			result.Files = append(result.Files, FileStatus{
				Ref: rf.ref, Filename: rf.entry.Filename, Status: StatusFailed, Detail: err.Error(),
			})
			continue
		}

		// Persist the id so the next run skips re-indexing.
		if err := b.ledger.SetLocalDocID(rf.entry.URL, docID); err != nil {
			b.logger.Warn("recording local doc id", "url", rf.entry.URL, "error", err)
		}

		result.Uploaded++
		result.Files = append(result.Files, FileStatus{
			Ref: rf.ref, Filename: rf.entry.Filename, Status: StatusIndexed,
		})
	}

	b.logger.Debug("local upload finished",
		"requested", result.Requested, "indexed", result.Uploaded, "reused", result.Reused,
		"failed", len(refs)-result.Uploaded-result.Reused)
	return result, nil
}

// Search runs the lexical scorer over the chunk index.
func (b *Local) Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hits, err := b.index.Search(query, chunkindex.SearchOptions{
		TopK:           opts.TopK,
		ScoreThreshold: opts.ScoreThreshold,
		Filenames:      opts.Filenames,
	})
	if err != nil {
		return nil, fmt.Errorf("searching local index: %w", err)
	}

	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		out = append(out, Hit{
			Text:       h.Text,
			Score:      h.Score,
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Metadata:   h.Metadata,
		})
	}
	return out, nil
}

// ToolName implements Backend.
func (b *Local) ToolName() string { return "search_local_corpus" }

// DocumentID derives the stable document id for a source URL. The same URL
// always maps to the same id, which keeps repeated indexing idempotent.
func DocumentID(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return "doc_" + hex.EncodeToString(sum[:16])
}
