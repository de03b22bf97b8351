package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/evidra/evidra/internal/ledger"
	"github.com/evidra/evidra/internal/log"
)

// newTestLedger creates a ledger and document directory under one temp root.
func newTestLedger(t *testing.T) (*ledger.Store, string) {
	t.Helper()
	dir := t.TempDir()
	led, err := ledger.Open(filepath.Join(dir, "ledger.json"), log.NewNop())
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	docDir := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docDir, 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	return led, docDir
}

// catalogDoc registers a source in the ledger and writes its document file.
func catalogDoc(t *testing.T, led *ledger.Store, docDir, url, filename, content string) ledger.Entry {
	t.Helper()
	if err := os.WriteFile(filepath.Join(docDir, filename), []byte(content), 0o600); err != nil {
		t.Fatalf("writing doc file: %v", err)
	}
	entry, err := led.Add(ledger.Entry{URL: url, Filename: filename, Title: filename})
	if err != nil {
		t.Fatalf("ledger.Add: %v", err)
	}
	return entry
}

func TestResolveRefsByURLNameAndFileID(t *testing.T) {
	led, docDir := newTestLedger(t)
	catalogDoc(t, led, docDir, "https://example.com/a", "a.txt", "alpha")
	if err := led.SetRemoteFileID("https://example.com/a", "file-abcdefgh1234"); err != nil {
		t.Fatalf("SetRemoteFileID: %v", err)
	}

	refs := []string{
		"https://example.com/a", // by URL
		"a.txt",                 // by catalog name
		"file-abcdefgh1234",     // by remote file id
	}
	resolved, failed := resolveRefs(led, docDir, refs)

	if len(failed) != 0 {
		t.Fatalf("failed = %v, want none", failed)
	}
	if len(resolved) != 3 {
		t.Fatalf("len(resolved) = %d, want 3", len(resolved))
	}
	for _, rf := range resolved {
		if rf.entry.Filename != "a.txt" {
			t.Errorf("ref %q resolved to %q, want a.txt", rf.ref, rf.entry.Filename)
		}
		if rf.path != filepath.Join(docDir, "a.txt") {
			t.Errorf("ref %q path = %q", rf.ref, rf.path)
		}
	}
}

func TestResolveRefsLiteralPathRegistersFirstSeenFile(t *testing.T) {
	led, docDir := newTestLedger(t)

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("some notes"), 0o600); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	resolved, failed := resolveRefs(led, docDir, []string{path})
	if len(failed) != 0 {
		t.Fatalf("failed = %v, want none", failed)
	}
	if len(resolved) != 1 {
		t.Fatalf("len(resolved) = %d, want 1", len(resolved))
	}
	if resolved[0].path != path {
		t.Errorf("path = %q, want the literal path", resolved[0].path)
	}

	// The first-seen file now has a ledger entry under its file:// key.
	entry, err := led.LookupByName("notes.txt")
	if err != nil {
		t.Fatalf("LookupByName after literal resolve: %v", err)
	}
	if entry.URL == "" {
		t.Error("registered entry has no URL")
	}

	// Resolving again reuses the entry instead of re-registering.
	resolved2, failed2 := resolveRefs(led, docDir, []string{path})
	if len(failed2) != 0 || len(resolved2) != 1 {
		t.Fatalf("second resolve = (%v, %v)", resolved2, failed2)
	}
	if !resolved2[0].entry.CreatedAt.Equal(entry.CreatedAt) {
		t.Error("second resolve created a new entry")
	}
}

func TestResolveRefsFailuresAreCapturedPerFile(t *testing.T) {
	led, docDir := newTestLedger(t)
	catalogDoc(t, led, docDir, "https://example.com/a", "a.txt", "alpha")

	refs := []string{
		"https://example.com/a",       // ok
		"https://example.com/unknown", // not in the ledger
		"../../etc/passwd",            // unsafe name, not an existing file
		"missing.txt",                 // safe name, no entry
	}
	resolved, failed := resolveRefs(led, docDir, refs)

	if len(resolved) != 1 {
		t.Fatalf("len(resolved) = %d, want 1", len(resolved))
	}
	if len(failed) != 3 {
		t.Fatalf("len(failed) = %d, want 3", len(failed))
	}
	for _, f := range failed {
		if f.Status != StatusFailed {
			t.Errorf("failure status = %q, want %q", f.Status, StatusFailed)
		}
		if f.Detail == "" {
			t.Errorf("failure for %q has no detail", f.Ref)
		}
	}
}

func TestParseProvider(t *testing.T) {
	for _, valid := range []string{"local", "vector", "collection"} {
		if _, err := ParseProvider(valid); err != nil {
			t.Errorf("ParseProvider(%q): %v", valid, err)
		}
	}
	if _, err := ParseProvider("qdrant"); err == nil {
		t.Error("ParseProvider(qdrant) succeeded, want error")
	}
}
