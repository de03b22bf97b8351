package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/evidra/evidra/internal/backend"
	"github.com/evidra/evidra/internal/log"
)

// mockBackend implements backend.Backend, recording queries and returning
// canned hits.
type mockBackend struct {
	hits    []backend.Hit
	queries []string
	topKs   []int
}

func (m *mockBackend) ResolveStoreID(context.Context, string) (string, error) { return "store", nil }

func (m *mockBackend) Upload(context.Context, []string) (*backend.UploadResult, error) {
	return &backend.UploadResult{}, nil
}

func (m *mockBackend) Search(_ context.Context, query string, opts backend.SearchOptions) ([]backend.Hit, error) {
	m.queries = append(m.queries, query)
	m.topKs = append(m.topKs, opts.TopK)
	return m.hits, nil
}

func (m *mockBackend) ToolName() string { return "search_mock" }

// longText pads a marker out past the minimum hit length.
func longText(marker string) string {
	return marker + " " + strings.Repeat("lorem ipsum dolor sit amet ", 4)
}

func newEngine(mb *mockBackend, cfg Config) *Engine {
	return New(mb, cfg, log.NewNop())
}

func TestRetrieveEmptyQueryIssuesNoSearch(t *testing.T) {
	mb := &mockBackend{}
	e := newEngine(mb, Config{})

	hits, err := e.Retrieve(context.Background(), "   \t  ", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if hits != nil {
		t.Fatalf("hits = %v, want nil", hits)
	}
	if len(mb.queries) != 0 {
		t.Errorf("backend searched %d times, want 0", len(mb.queries))
	}
}

func TestRetrieveNormalizesQuery(t *testing.T) {
	mb := &mockBackend{}
	e := newEngine(mb, Config{})

	if _, err := e.Retrieve(context.Background(), "  foo \n\t bar  ", 5); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(mb.queries) != 1 || mb.queries[0] != "foo bar" {
		t.Fatalf("queries = %v, want [foo bar]", mb.queries)
	}
}

func TestRetrieveRaisesCandidateCount(t *testing.T) {
	mb := &mockBackend{}
	e := newEngine(mb, Config{CandidateFloor: 80})

	if _, err := e.Retrieve(context.Background(), "query", 5); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if mb.topKs[0] != 80 {
		t.Errorf("candidate count = %d, want the floor of 80", mb.topKs[0])
	}

	mb2 := &mockBackend{}
	e2 := newEngine(mb2, Config{CandidateFloor: 80})
	if _, err := e2.Retrieve(context.Background(), "query", 200); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if mb2.topKs[0] != 200 {
		t.Errorf("candidate count = %d, want caller's larger top_k", mb2.topKs[0])
	}
}

func TestParaphraseExpansion(t *testing.T) {
	mb := &mockBackend{}
	e := newEngine(mb, Config{Expansion: ExpansionParaphrase, MaxExtraVariants: 2})

	if _, err := e.Retrieve(context.Background(), "raft consensus (the log protocol)", 5); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if len(mb.queries) != 3 {
		t.Fatalf("queries = %v, want original + stripped + intent", mb.queries)
	}
	if mb.queries[0] != "raft consensus (the log protocol)" {
		t.Errorf("first variant = %q, want the normalized original", mb.queries[0])
	}
	if mb.queries[1] != "raft consensus" {
		t.Errorf("second variant = %q, want parentheticals stripped", mb.queries[1])
	}
	if !strings.Contains(mb.queries[2], "raft") || !strings.HasSuffix(mb.queries[2], "explanation overview") {
		t.Errorf("third variant = %q, want the intent phrase", mb.queries[2])
	}
}

func TestParaphraseExpansionWithoutParentheses(t *testing.T) {
	mb := &mockBackend{}
	e := newEngine(mb, Config{Expansion: ExpansionParaphrase})

	if _, err := e.Retrieve(context.Background(), "raft consensus", 5); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	// No parenthetical, so only the intent phrase is added.
	if len(mb.queries) != 2 {
		t.Fatalf("queries = %v, want original + intent", mb.queries)
	}
}

func TestHydeExpansion(t *testing.T) {
	mb := &mockBackend{}
	e := newEngine(mb, Config{Expansion: ExpansionHyde})

	if _, err := e.Retrieve(context.Background(), "what is raft", 5); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(mb.queries) != 2 {
		t.Fatalf("queries = %v, want original + hypothetical answer", mb.queries)
	}
	if !strings.Contains(mb.queries[1], "what is raft") {
		t.Errorf("hypothetical answer %q does not embed the query", mb.queries[1])
	}
}

func TestVariantsDedupedCaseInsensitively(t *testing.T) {
	mb := &mockBackend{}
	e := newEngine(mb, Config{Expansion: ExpansionParaphrase})

	// The stripped variant differs from the original only by case after
	// normalization; intent phrase lowercases everything too.
	if _, err := e.Retrieve(context.Background(), "alpha beta", 5); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	// intent = "alpha beta explanation overview"; original = "alpha beta".
	// No case-duplicate here, but the intent must not duplicate the original.
	seen := make(map[string]bool)
	for _, q := range mb.queries {
		k := strings.ToLower(q)
		if seen[k] {
			t.Fatalf("duplicate variant issued: %q", q)
		}
		seen[k] = true
	}
}

func TestHygieneDedupAndPerDocumentCap(t *testing.T) {
	doc1 := longText("one")
	mb := &mockBackend{hits: []backend.Hit{
		{Text: doc1, Score: 0.9, DocumentID: "doc_1", ChunkIndex: 0},
		{Text: doc1, Score: 0.9, DocumentID: "doc_1", ChunkIndex: 0}, // duplicate chunk
		{Text: longText("two"), Score: 0.8, DocumentID: "doc_1", ChunkIndex: 1},
		{Text: longText("three"), Score: 0.7, DocumentID: "doc_1", ChunkIndex: 2},
		{Text: longText("four"), Score: 0.6, DocumentID: "doc_1", ChunkIndex: 3}, // over the cap
		{Text: longText("other"), Score: 0.5, DocumentID: "doc_2", ChunkIndex: 0},
	}}
	e := newEngine(mb, Config{PerDocumentCap: 3})

	hits, err := e.Retrieve(context.Background(), "query", 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	var fromDoc1 int
	for _, h := range hits {
		if h.DocumentID == "doc_1" {
			fromDoc1++
		}
	}
	if fromDoc1 != 3 {
		t.Errorf("hits from doc_1 = %d, want the per-document cap of 3", fromDoc1)
	}
	if len(hits) != 4 {
		t.Errorf("len(hits) = %d, want 4 (3 capped + 1 other)", len(hits))
	}
}

func TestHygieneDropsShortAndArtifactHits(t *testing.T) {
	mb := &mockBackend{hits: []backend.Hit{
		{Text: "too short", Score: 0.9, DocumentID: "doc_1", ChunkIndex: 0},
		{Text: longText("system: you are a helpful assistant and"), Score: 0.8, DocumentID: "doc_2", ChunkIndex: 0},
		{Text: longText("clean evidence"), Score: 0.7, DocumentID: "doc_3", ChunkIndex: 0},
	}}
	e := newEngine(mb, Config{MinHitChars: 40})

	hits, err := e.Retrieve(context.Background(), "query", 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 1 || hits[0].DocumentID != "doc_3" {
		t.Fatalf("hits = %v, want only the clean chunk", hits)
	}
}

func TestHygieneTruncatesAndStripsBlankLines(t *testing.T) {
	text := "line one is long enough to survive\n\n\nline two after blank lines"
	mb := &mockBackend{hits: []backend.Hit{
		{Text: text, Score: 0.9, DocumentID: "doc_1", ChunkIndex: 0},
	}}
	e := newEngine(mb, Config{MaxHitChars: 50})

	hits, err := e.Retrieve(context.Background(), "query", 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("len(hits) = %d, want 1", len(hits))
	}
	if strings.Contains(hits[0].Text, "\n\n") {
		t.Errorf("blank lines survived: %q", hits[0].Text)
	}
	if got := len([]rune(hits[0].Text)); got > 50 {
		t.Errorf("hit length = %d, want <= 50", got)
	}
}

func TestHygieneAllRejectedIsEmptyNotError(t *testing.T) {
	mb := &mockBackend{hits: []backend.Hit{
		{Text: "x", Score: 0.9, DocumentID: "doc_1", ChunkIndex: 0},
	}}
	e := newEngine(mb, Config{MinHitChars: 40})

	hits, err := e.Retrieve(context.Background(), "query", 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits = %v, want empty", hits)
	}
}

func TestRetrieveStopsAtTopK(t *testing.T) {
	var pool []backend.Hit
	for i := 0; i < 20; i++ {
		pool = append(pool, backend.Hit{
			Text:       longText("chunk"),
			Score:      1.0 - float64(i)/100,
			DocumentID: "doc_" + strings.Repeat("x", i+1),
			ChunkIndex: 0,
		})
	}
	mb := &mockBackend{hits: pool}
	e := newEngine(mb, Config{})

	hits, err := e.Retrieve(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("len(hits) = %d, want 3", len(hits))
	}
	// Highest scores win.
	if hits[0].Score < hits[1].Score || hits[1].Score < hits[2].Score {
		t.Error("hits not in descending score order")
	}
}
