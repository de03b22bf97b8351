package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/evidra/evidra/internal/ledger"
)

// attachWorkers bounds concurrent attach calls per upload batch.
const attachWorkers = 10

// vectorAPI is the slice of the remote vector-store service the backend
// consumes. The production implementation wraps the service SDK; tests
// substitute a fake.
type vectorAPI interface {
	// UploadFile pushes file bytes and returns the service-issued file id.
	UploadFile(ctx context.Context, filename string, r io.Reader) (string, error)

	// FileExists reports whether a previously issued file id is still valid.
	FileExists(ctx context.Context, fileID string) (bool, error)

	// EnsureVectorStore resolves the named store's id, creating the store
	// when it does not exist yet.
	EnsureVectorStore(ctx context.Context, name string) (string, error)

	// AttachFile links an uploaded file to a vector store.
	AttachFile(ctx context.Context, storeID, fileID string) error
}

// VectorStore implements Backend against the remote vector-store service.
// Uploading is a two-step handshake: push bytes to get a file id, then
// attach that id to the destination store. Search is answered by the model
// runtime holding the store, not by this process, so Search reports
// ErrSearchUnsupported.
type VectorStore struct {
	api       vectorAPI
	ledger    *ledger.Store
	docDir    string
	storeName string
	logger    *slog.Logger
}

// NewVectorStore creates the vector-store backend.
func NewVectorStore(api vectorAPI, led *ledger.Store, docDir, storeName string, logger *slog.Logger) *VectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorStore{api: api, ledger: led, docDir: docDir, storeName: storeName, logger: logger}
}

// ResolveStoreID resolves or creates the named vector store, caching the id
// for process lifetime.
func (b *VectorStore) ResolveStoreID(ctx context.Context, name string) (string, error) {
	if id, ok := cachedStoreID(ProviderVector, name); ok {
		return id, nil
	}
	id, err := b.api.EnsureVectorStore(ctx, name)
	if err != nil {
		return "", fmt.Errorf("resolving vector store %q: %w", name, err)
	}
	cacheStoreID(ProviderVector, name, id)
	return id, nil
}

// Upload pushes each referenced file to the service, reusing file ids the
// ledger already records when the service confirms them, then attaches every
// file id to the destination store through a bounded worker pool. Per-file
// failures never abort the batch; an unresolvable destination store does.
func (b *VectorStore) Upload(ctx context.Context, refs []string) (*UploadResult, error) {
	// Inputs resolve before any network call so a batch of bad refs cannot
	// create the destination store as a side effect.
	resolved, failed := resolveRefs(b.ledger, b.docDir, refs)

	result := &UploadResult{
		Requested: len(refs),
		Files:     failed,
	}
	if len(resolved) == 0 {
		return result, nil
	}

	storeID, err := b.ResolveStoreID(ctx, b.storeName)
	if err != nil {
		return nil, err
	}

	// Phase one: sequential upload-or-reuse, collecting ids to attach.
	type attachJob struct {
		fileIdx int // index into result.Files
		fileID  string
	}
	var jobs []attachJob

	for _, rf := range resolved {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		status := FileStatus{Ref: rf.ref, Filename: rf.entry.Filename}

		fileID := rf.entry.RemoteFileID
		if fileID != "" {
			exists, err := b.api.FileExists(ctx, fileID)
			if err != nil {
				status.Status = StatusFailed
				status.Detail = fmt.Sprintf("checking file %s: %v", fileID, err)
				result.Files = append(result.Files, status)
				continue
			}
			if exists {
				result.Reused++
				status.Status = StatusReused
				status.RemoteFileID = fileID
				result.Files = append(result.Files, status)
				jobs = append(jobs, attachJob{fileIdx: len(result.Files) - 1, fileID: fileID})
				continue
			}
			// Stale id: the service no longer knows it, re-upload.
			b.logger.Warn("recorded file id no longer exists, re-uploading",
				"url", rf.entry.URL, "file_id", fileID)
		}

		fileID, err := b.uploadOne(ctx, rf)
		if err != nil {
			status.Status = StatusFailed
			status.Detail = err.Error()
			result.Files = append(result.Files, status)
			continue
		}

		result.Uploaded++
		status.Status = StatusUploaded
		status.RemoteFileID = fileID
		result.Files = append(result.Files, status)
		jobs = append(jobs, attachJob{fileIdx: len(result.Files) - 1, fileID: fileID})
	}

	// Phase two: attach uploaded and reused files concurrently.
	errs := make([]error, len(jobs))
	sem := make(chan struct{}, attachWorkers)
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, job attachJob) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = b.api.AttachFile(ctx, storeID, job.fileID)
		}(i, job)
	}
	wg.Wait()

	for i, job := range jobs {
		if errs[i] != nil {
			result.AttachFailed++
			f := &result.Files[job.fileIdx]
			// Keep the aggregate counts reconciled with the per-file list.
			switch f.Status {
			case StatusReused:
				result.Reused--
			case StatusUploaded:
				result.Uploaded--
			}
			f.Status = StatusFailed
			f.Detail = fmt.Sprintf("attaching %s: %v", job.fileID, errs[i])
			continue
		}
		result.AttachSucceeded++
	}

	b.logger.Debug("vector store upload finished",
		"store_id", storeID, "requested", result.Requested,
		"uploaded", result.Uploaded, "reused", result.Reused,
		"attach_ok", result.AttachSucceeded, "attach_failed", result.AttachFailed)
	return result, nil
}

// uploadOne pushes one file's bytes and records the issued id in the ledger.
func (b *VectorStore) uploadOne(ctx context.Context, rf resolvedFile) (string, error) {
	f, err := os.Open(rf.path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", rf.path, err)
	}
	defer f.Close()

	fileID, err := b.api.UploadFile(ctx, rf.entry.Filename, f)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", rf.entry.Filename, err)
	}

	if err := b.ledger.SetRemoteFileID(rf.entry.URL, fileID); err != nil {
		b.logger.Warn("recording remote file id", "url", rf.entry.URL, "error", err)
	}
	return fileID, nil
}

// Search implements Backend. The vector-store service exposes no standalone
// query endpoint here; retrieval happens inside the model call that owns the
// store.
func (b *VectorStore) Search(context.Context, string, SearchOptions) ([]Hit, error) {
	return nil, ErrSearchUnsupported
}

// ToolName implements Backend.
func (b *VectorStore) ToolName() string { return "search_vector_store" }
