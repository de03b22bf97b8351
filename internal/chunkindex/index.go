// Package chunkindex implements the local chunk index: an on-disk record
// store of raw document text plus a pure lexical scorer, giving a fully
// offline retrieval path.
//
// The backing file is a JSON array of {document_id, content, metadata}
// records, rewritten in full on every addition. A missing or corrupt file
// reads as empty. Chunks are not persisted; they are regenerated lazily from
// the stored content at query time.
//
// The index performs no locking of its own. Concurrent writers to the same
// index file risk a lost update; callers needing concurrent ingestion into
// one index must serialize externally.
package chunkindex

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Record is one stored document.
type Record struct {
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
}

// Hit is one scored chunk returned by Search. Transient, never persisted.
type Hit struct {
	DocumentID string
	ChunkIndex int
	Text       string
	Metadata   map[string]string
	Score      float64
}

// SearchOptions tune one Search call.
type SearchOptions struct {
	// TopK caps the number of hits returned. Default 5.
	TopK int
	// ScoreThreshold drops chunks scoring strictly below it when positive.
	ScoreThreshold float64
	// Filenames restricts candidates to documents whose file_name metadata
	// matches. A list matching no indexed document falls back to the full
	// candidate set; availability is favored over strict filtering.
	Filenames []string
}

// Index stores documents in one JSON file and answers lexical searches over
// lazily regenerated chunks.
type Index struct {
	path     string
	maxChars int
	overlap  int
	logger   *slog.Logger
}

// New creates an Index backed by path, chunking with the given window
// parameters at query time. The parent directory is created on demand.
func New(path string, maxChars, overlap int, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving index path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return &Index{path: abs, maxChars: maxChars, overlap: overlap, logger: logger}, nil
}

// Add stores a record, replacing any existing record with the same document
// id. Re-adding unchanged content is a no-op apart from the rewrite, keeping
// (document_id, chunk_index) stable.
func (idx *Index) Add(rec Record) error {
	if rec.DocumentID == "" {
		return fmt.Errorf("record has no document id")
	}

	records, err := idx.load()
	if err != nil {
		return err
	}

	replaced := false
	for i, r := range records {
		if r.DocumentID == rec.DocumentID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := os.WriteFile(idx.path, data, 0o600); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}

	idx.logger.Debug("indexed document",
		"document_id", rec.DocumentID, "content_length", len(rec.Content), "replaced", replaced)
	return nil
}

// HasDocument reports whether a document id is already indexed, letting the
// upload path skip re-indexing unchanged content.
func (idx *Index) HasDocument(docID string) (bool, error) {
	records, err := idx.load()
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.DocumentID == docID {
			return true, nil
		}
	}
	return false, nil
}

// Count returns the number of indexed documents.
func (idx *Index) Count() (int, error) {
	records, err := idx.load()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Search chunks every candidate document, scores each chunk against the
// query and returns the top hits sorted by descending score. Ties keep
// encounter order (first wins).
func (idx *Index) Search(query string, opts SearchOptions) ([]Hit, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}

	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	records, err := idx.load()
	if err != nil {
		return nil, err
	}

	candidates := idx.filterByName(records, opts.Filenames)

	var hits []Hit
	for _, rec := range candidates {
		for i, chunk := range Chunk(rec.Content, idx.maxChars, idx.overlap) {
			score := Score(queryTokens, chunk)
			if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
				continue
			}
			hits = append(hits, Hit{
				DocumentID: rec.DocumentID,
				ChunkIndex: i,
				Text:       chunk,
				Metadata:   rec.Metadata,
				Score:      score,
			})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// filterByName applies the filename allow-list. A list matching nothing
// falls back to the full set, logged so caller typos stay visible.
func (idx *Index) filterByName(records []Record, filenames []string) []Record {
	if len(filenames) == 0 {
		return records
	}

	allowed := make(map[string]struct{}, len(filenames))
	for _, name := range filenames {
		allowed[name] = struct{}{}
	}

	var filtered []Record
	for _, r := range records {
		if _, ok := allowed[r.Metadata["file_name"]]; ok {
			filtered = append(filtered, r)
		}
	}

	if len(filtered) == 0 {
		idx.logger.Warn("filename filter matched no indexed document, falling back to full set",
			"filenames", filenames)
		return records
	}
	return filtered
}

// load reads the backing file. Missing or corrupt files read as empty.
func (idx *Index) load() ([]Record, error) {
	data, err := os.ReadFile(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading index file: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		idx.logger.Warn("index file corrupt, starting empty", "path", idx.path, "error", err)
		return nil, nil
	}
	return records, nil
}
