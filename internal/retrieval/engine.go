// Package retrieval sits in front of the active backend: it normalizes and
// expands queries, pools hits across the variants, and hygiene-filters the
// pool before returning it to the caller.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/evidra/evidra/internal/backend"
	"github.com/evidra/evidra/internal/chunkindex"
)

// Expansion selects the query expansion mode.
type Expansion string

const (
	// ExpansionNone issues only the normalized query.
	ExpansionNone Expansion = "none"
	// ExpansionParaphrase adds a parenthetical-stripped variant and a
	// synthesized intent phrase.
	ExpansionParaphrase Expansion = "paraphrase-lite"
	// ExpansionHyde adds one hypothetical answer sentence embedding the query.
	ExpansionHyde Expansion = "hyde-lite"
)

// Config tunes expansion and hygiene.
type Config struct {
	// Expansion is the query expansion mode. Default none.
	Expansion Expansion
	// MaxExtraVariants caps the derived variants added by expansion.
	MaxExtraVariants int
	// CandidateFloor is the per-variant candidate count floor. Each variant
	// searches with max(CandidateFloor, topK) candidates.
	CandidateFloor int
	// MinHitChars drops shorter hits.
	MinHitChars int
	// MaxHitChars hard-truncates hit text.
	MaxHitChars int
	// PerDocumentCap limits hits kept per source document.
	PerDocumentCap int
}

// Engine runs the query side of retrieval against one backend.
type Engine struct {
	backend backend.Backend
	cfg     Config
	logger  *slog.Logger
}

// New creates an Engine. Zero config fields fall back to working defaults.
func New(b backend.Backend, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Expansion == "" {
		cfg.Expansion = ExpansionNone
	}
	if cfg.MaxExtraVariants <= 0 {
		cfg.MaxExtraVariants = 2
	}
	if cfg.CandidateFloor <= 0 {
		cfg.CandidateFloor = 80
	}
	if cfg.MinHitChars <= 0 {
		cfg.MinHitChars = 40
	}
	if cfg.MaxHitChars <= 0 {
		cfg.MaxHitChars = 2000
	}
	if cfg.PerDocumentCap <= 0 {
		cfg.PerDocumentCap = 3
	}
	return &Engine{backend: b, cfg: cfg, logger: logger}
}

// parentheticalRe matches parenthesized runs for the paraphrase variant.
var parentheticalRe = regexp.MustCompile(`\([^)]*\)`)

// artifactRes match prompt contamination: role markers, instruction
// preambles and tool-call markers that sometimes leak into ingested text.
var artifactRes = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^\s*(system|assistant|user)\s*:`),
	regexp.MustCompile(`(?i)you are an? (ai|assistant|helpful)`),
	regexp.MustCompile(`(?i)<\s*/?\s*(tool_call|function_call|tool_result)\s*>`),
	regexp.MustCompile(`(?i)\[/?(inst|sys)\]`),
}

// Retrieve searches the backend with the expanded query variants and returns
// at most topK hygiene-filtered hits. An empty or whitespace query issues no
// search and returns an empty result.
func (e *Engine) Retrieve(ctx context.Context, query string, topK int) ([]backend.Hit, error) {
	if topK <= 0 {
		topK = 5
	}

	normalized := Normalize(query)
	if normalized == "" {
		return nil, nil
	}

	variants := e.expand(normalized)

	candidateK := e.cfg.CandidateFloor
	if topK > candidateK {
		candidateK = topK
	}

	var pool []backend.Hit
	for _, variant := range variants {
		hits, err := e.backend.Search(ctx, variant, backend.SearchOptions{TopK: candidateK})
		if err != nil {
			return nil, fmt.Errorf("searching variant %q: %w", variant, err)
		}
		pool = append(pool, hits...)
	}

	sort.SliceStable(pool, func(a, b int) bool { return pool[a].Score > pool[b].Score })

	kept := e.filter(pool, topK)
	e.logger.Debug("retrieval finished",
		"variants", len(variants), "pooled", len(pool), "kept", len(kept))
	return kept, nil
}

// expand derives the variant list for the configured mode, deduplicated
// case-insensitively with order preserved.
func (e *Engine) expand(normalized string) []string {
	variants := []string{normalized}

	switch e.cfg.Expansion {
	case ExpansionParaphrase:
		var extras []string
		if stripped := Normalize(parentheticalRe.ReplaceAllString(normalized, " ")); stripped != "" && stripped != normalized {
			extras = append(extras, stripped)
		}
		if intent := intentPhrase(normalized); intent != "" {
			extras = append(extras, intent)
		}
		if len(extras) > e.cfg.MaxExtraVariants {
			extras = extras[:e.cfg.MaxExtraVariants]
		}
		variants = append(variants, extras...)

	case ExpansionHyde:
		variants = append(variants, hypotheticalAnswer(normalized))
	}

	return dedupFold(variants)
}

// filter applies the hygiene pipeline to the score-sorted pool.
func (e *Engine) filter(pool []backend.Hit, topK int) []backend.Hit {
	type chunkKey struct {
		doc   string
		chunk int
	}
	seen := make(map[chunkKey]struct{})
	perDoc := make(map[string]int)

	kept := make([]backend.Hit, 0, topK)
	for _, hit := range pool {
		text := cleanText(hit.Text, e.cfg.MaxHitChars)
		if utf8.RuneCountInString(text) < e.cfg.MinHitChars {
			continue
		}
		if isArtifact(text) {
			continue
		}

		key := chunkKey{doc: hit.DocumentID, chunk: hit.ChunkIndex}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if perDoc[hit.DocumentID] >= e.cfg.PerDocumentCap {
			continue
		}
		perDoc[hit.DocumentID]++

		hit.Text = text
		kept = append(kept, hit)
		if len(kept) == topK {
			break
		}
	}
	return kept
}

// Normalize collapses internal whitespace runs and trims.
func Normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// intentPhrase builds a synthesized search phrase from the query tokens.
func intentPhrase(normalized string) string {
	tokens := chunkindex.Tokenize(normalized)
	if len(tokens) == 0 {
		return ""
	}
	return strings.Join(tokens, " ") + " explanation overview"
}

// hypotheticalAnswer synthesizes one answer-shaped sentence embedding the
// query, so embedding-based backends match against answer-like text.
func hypotheticalAnswer(normalized string) string {
	return "A concise answer to the question \"" + normalized + "\" covers the key facts, definitions and steps involved."
}

// dedupFold removes case-insensitive duplicates preserving first occurrence.
func dedupFold(variants []string) []string {
	seen := make(map[string]struct{}, len(variants))
	out := variants[:0]
	for _, v := range variants {
		k := strings.ToLower(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

// cleanText strips blank lines and hard-truncates to maxChars runes.
func cleanText(text string, maxChars int) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	cleaned := strings.TrimSpace(strings.Join(kept, "\n"))

	runes := []rune(cleaned)
	if len(runes) > maxChars {
		cleaned = string(runes[:maxChars])
	}
	return cleaned
}

// isArtifact reports whether text matches a prompt-artifact pattern.
func isArtifact(text string) bool {
	for _, re := range artifactRes {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
