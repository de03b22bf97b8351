package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/evidra/evidra/internal/log"
)

// fakeVectorAPI implements vectorAPI in memory.
type fakeVectorAPI struct {
	mu sync.Mutex

	files    map[string]string   // fileID -> filename
	stores   map[string]string   // name -> storeID
	attached map[string][]string // storeID -> fileIDs

	nextFileID int
	uploads    int
	ensures    int

	uploadErr error
	attachErr map[string]error // fileID -> error
}

func newFakeVectorAPI() *fakeVectorAPI {
	return &fakeVectorAPI{
		files:    make(map[string]string),
		stores:   make(map[string]string),
		attached: make(map[string][]string),
	}
}

func (f *fakeVectorAPI) UploadFile(_ context.Context, filename string, r io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	f.nextFileID++
	id := fmt.Sprintf("file-fake%08d", f.nextFileID)
	f.files[id] = filename
	return id, nil
}

func (f *fakeVectorAPI) FileExists(_ context.Context, fileID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[fileID]
	return ok, nil
}

func (f *fakeVectorAPI) EnsureVectorStore(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	if id, ok := f.stores[name]; ok {
		return id, nil
	}
	id := "vs_" + name
	f.stores[name] = id
	return id, nil
}

func (f *fakeVectorAPI) AttachFile(_ context.Context, storeID, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.attachErr[fileID]; err != nil {
		return err
	}
	f.attached[storeID] = append(f.attached[storeID], fileID)
	return nil
}

func newVectorBackend(t *testing.T, storeName string) (*VectorStore, *fakeVectorAPI) {
	t.Helper()
	led, docDir := newTestLedger(t)
	api := newFakeVectorAPI()
	return NewVectorStore(api, led, docDir, storeName, log.NewNop()), api
}

func TestVectorUploadPushesAndAttaches(t *testing.T) {
	b, api := newVectorBackend(t, t.Name())
	catalogDoc(t, b.ledger, b.docDir, "https://example.com/a", "a.txt", "alpha")

	result, err := b.Upload(context.Background(), []string{"https://example.com/a"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if result.Uploaded != 1 || result.Reused != 0 {
		t.Fatalf("result = %+v, want one fresh upload", result)
	}
	if result.AttachSucceeded != 1 || result.AttachFailed != 0 {
		t.Fatalf("attach counts = (%d, %d), want (1, 0)", result.AttachSucceeded, result.AttachFailed)
	}
	if result.Files[0].Status != StatusUploaded {
		t.Errorf("file status = %q, want %q", result.Files[0].Status, StatusUploaded)
	}
	if result.Files[0].RemoteFileID == "" {
		t.Error("no remote file id reported")
	}

	// The ledger now records the issued file id.
	entry, err := b.ledger.LookupByURL("https://example.com/a")
	if err != nil {
		t.Fatalf("LookupByURL: %v", err)
	}
	if entry.RemoteFileID != result.Files[0].RemoteFileID {
		t.Errorf("ledger id = %q, result id = %q", entry.RemoteFileID, result.Files[0].RemoteFileID)
	}

	storeID := api.stores[t.Name()]
	if got := api.attached[storeID]; len(got) != 1 {
		t.Errorf("attached = %v, want one file", got)
	}
}

func TestVectorUploadReusesConfirmedFileID(t *testing.T) {
	b, api := newVectorBackend(t, t.Name())
	catalogDoc(t, b.ledger, b.docDir, "https://example.com/a", "a.txt", "alpha")

	if _, err := b.Upload(context.Background(), []string{"https://example.com/a"}); err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	uploadsAfterFirst := api.uploads

	result, err := b.Upload(context.Background(), []string{"https://example.com/a"})
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if result.Reused != 1 || result.Uploaded != 0 {
		t.Fatalf("second upload = %+v, want pure reuse", result)
	}
	if api.uploads != uploadsAfterFirst {
		t.Error("reused file was re-uploaded")
	}
	// Reused files still get attached.
	if result.AttachSucceeded != 1 {
		t.Errorf("AttachSucceeded = %d, want 1", result.AttachSucceeded)
	}
}

func TestVectorUploadReuploadsStaleFileID(t *testing.T) {
	b, api := newVectorBackend(t, t.Name())
	catalogDoc(t, b.ledger, b.docDir, "https://example.com/a", "a.txt", "alpha")
	// A recorded id the service no longer knows.
	if err := b.ledger.SetRemoteFileID("https://example.com/a", "file-gone12345"); err != nil {
		t.Fatalf("SetRemoteFileID: %v", err)
	}

	result, err := b.Upload(context.Background(), []string{"https://example.com/a"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.Uploaded != 1 || result.Reused != 0 {
		t.Fatalf("result = %+v, want re-upload of the stale file", result)
	}
	if api.uploads != 1 {
		t.Errorf("uploads = %d, want 1", api.uploads)
	}
}

func TestVectorUploadCapturesAttachFailures(t *testing.T) {
	b, api := newVectorBackend(t, t.Name())
	catalogDoc(t, b.ledger, b.docDir, "https://example.com/a", "a.txt", "alpha")
	catalogDoc(t, b.ledger, b.docDir, "https://example.com/b", "b.txt", "beta")

	api.attachErr = map[string]error{"file-fake00000001": errors.New("quota exceeded")}

	result, err := b.Upload(context.Background(),
		[]string{"https://example.com/a", "https://example.com/b"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if result.AttachSucceeded != 1 || result.AttachFailed != 1 {
		t.Fatalf("attach counts = (%d, %d), want (1, 1)", result.AttachSucceeded, result.AttachFailed)
	}

	var failed, uploaded int
	for _, f := range result.Files {
		switch f.Status {
		case StatusFailed:
			failed++
		case StatusUploaded:
			uploaded++
		}
	}
	if failed != 1 || uploaded != 1 {
		t.Errorf("statuses = %d failed, %d uploaded, want 1 and 1", failed, uploaded)
	}
}

func TestVectorResolveStoreIDCaches(t *testing.T) {
	b, api := newVectorBackend(t, t.Name())

	id1, err := b.ResolveStoreID(context.Background(), t.Name())
	if err != nil {
		t.Fatalf("ResolveStoreID: %v", err)
	}
	id2, err := b.ResolveStoreID(context.Background(), t.Name())
	if err != nil {
		t.Fatalf("second ResolveStoreID: %v", err)
	}
	if id1 != id2 {
		t.Errorf("store ids differ: %q vs %q", id1, id2)
	}
	if api.ensures != 1 {
		t.Errorf("ensures = %d, want 1 (second call served from cache)", api.ensures)
	}
}

func TestVectorSearchIsUnsupported(t *testing.T) {
	b, _ := newVectorBackend(t, t.Name())
	_, err := b.Search(context.Background(), "anything", SearchOptions{})
	if !errors.Is(err, ErrSearchUnsupported) {
		t.Fatalf("Search error = %v, want ErrSearchUnsupported", err)
	}
}

func TestVectorUploadUnresolvedRefsCreateNoStore(t *testing.T) {
	b, api := newVectorBackend(t, t.Name())

	result, err := b.Upload(context.Background(), []string{"https://example.com/never-ingested"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if api.ensures != 0 {
		t.Errorf("ensures = %d, want 0 (no remote store for an all-invalid batch)", api.ensures)
	}
	if len(result.Files) != 1 || result.Files[0].Status != StatusFailed {
		t.Fatalf("files = %+v, want one failed entry", result.Files)
	}
}

func TestVectorAttachFailureReconcilesReuseCount(t *testing.T) {
	b, api := newVectorBackend(t, t.Name())
	catalogDoc(t, b.ledger, b.docDir, "https://example.com/a", "a.txt", "alpha")

	first, err := b.Upload(context.Background(), []string{"https://example.com/a"})
	if err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	fileID := first.Files[0].RemoteFileID

	api.attachErr = map[string]error{fileID: errors.New("quota exceeded")}

	result, err := b.Upload(context.Background(), []string{"https://example.com/a"})
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}

	if result.Files[0].Status != StatusFailed {
		t.Errorf("file status = %q, want %q", result.Files[0].Status, StatusFailed)
	}
	if result.Reused != 0 {
		t.Errorf("Reused = %d, want 0 after its attach failed", result.Reused)
	}
	if result.AttachFailed != 1 {
		t.Errorf("AttachFailed = %d, want 1", result.AttachFailed)
	}
}
