package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/evidra/evidra/internal/chunkindex"
	"github.com/evidra/evidra/internal/ledger"
)

// summaryChars bounds the stored summary length.
const summaryChars = 300

// maxKeywords bounds the stored keyword set.
const maxKeywords = 8

// IngestResult reports one ingestion batch.
type IngestResult struct {
	Requested int
	Stored    int
	Entries   []ledger.Entry
}

// Ingest fetches the URLs, writes each readable document under the data
// directory and records one ledger entry per source. Re-ingesting a known
// URL refreshes its entry in place. Per-URL fetch failures are logged by the
// loader and simply missing from the result.
func (a *App) Ingest(ctx context.Context, urls []string) (*IngestResult, error) {
	docs, err := a.Loader.Load(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}

	if err := os.MkdirAll(a.DocDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating document directory: %w", err)
	}

	result := &IngestResult{Requested: len(urls)}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		normalized, err := ledger.NormalizeURL(doc.URL)
		if err != nil {
			a.Logger.Warn("skipping document with bad URL", "url", doc.URL, "error", err)
			continue
		}

		filename := documentFilename(doc.Title, normalized)
		path := filepath.Join(a.DocDir, filename)
		if err := os.WriteFile(path, []byte(doc.Text), 0o600); err != nil {
			a.Logger.Warn("writing document", "url", doc.URL, "error", err)
			continue
		}

		entry, err := a.Ledger.Add(ledger.Entry{
			URL:           normalized,
			Filename:      filename,
			Title:         doc.Title,
			Summary:       summarize(doc.Text),
			Keywords:      extractKeywords(doc.Text),
			ContentLength: len(doc.Text),
		})
		if err != nil {
			a.Logger.Warn("recording ledger entry", "url", doc.URL, "error", err)
			continue
		}

		result.Stored++
		result.Entries = append(result.Entries, entry)
	}

	a.Logger.Info("ingestion finished", "requested", result.Requested, "stored", result.Stored)
	return result, nil
}

// documentFilename derives a deterministic, collision-free filename from the
// title and the normalized URL. The URL hash suffix keeps two sources with
// the same title from claiming one name.
func documentFilename(title, normalizedURL string) string {
	slug := slugify(title)
	if slug == "" {
		slug = "document"
	}
	sum := sha256.Sum256([]byte(normalizedURL))
	return slug + "-" + hex.EncodeToString(sum[:4]) + ".txt"
}

// slugify lowercases and keeps alphanumerics, joining runs with dashes.
func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 60 {
		slug = strings.Trim(slug[:60], "-")
	}
	return slug
}

// summarize returns the leading text, whitespace-collapsed and truncated.
func summarize(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) > summaryChars {
		return string(runes[:summaryChars])
	}
	return collapsed
}

// extractKeywords returns the most frequent tokens of at least four
// characters, ties broken alphabetically for determinism.
func extractKeywords(text string) []string {
	counts := make(map[string]int)
	for _, tok := range chunkindex.Tokenize(text) {
		if len(tok) >= 4 {
			counts[tok]++
		}
	}

	keywords := make([]string, 0, len(counts))
	for tok := range counts {
		keywords = append(keywords, tok)
	}
	sort.Slice(keywords, func(a, b int) bool {
		if counts[keywords[a]] != counts[keywords[b]] {
			return counts[keywords[a]] > counts[keywords[b]]
		}
		return keywords[a] < keywords[b]
	})

	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}
