// Package backend defines the retrieval backend capability contract and its
// three implementations: the local lexical index, the remote vector-store
// service (upload bytes, then attach the file id to a vector store) and the
// remote document-collection service (chunk, embed, store records).
//
// Backends never touch the ledger file directly; backend ids flow back
// through the ledger's update operations.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// Provider enumerates the supported retrieval backends.
type Provider string

const (
	// ProviderLocal selects the on-disk lexical chunk index.
	ProviderLocal Provider = "local"
	// ProviderVector selects the remote vector-store service.
	ProviderVector Provider = "vector"
	// ProviderCollection selects the remote document-collection service.
	ProviderCollection Provider = "collection"
)

var (
	// ErrNotFound indicates a reference has no ledger match and is not a
	// literal filesystem path.
	ErrNotFound = errors.New("reference not found")

	// ErrUnsafeName indicates a bare name failed the safe-filename pattern.
	ErrUnsafeName = errors.New("unsafe file name")

	// ErrSearchUnsupported indicates the backend holds no queryable content;
	// its search happens inside the model call elsewhere.
	ErrSearchUnsupported = errors.New("search not supported by this backend")
)

// Per-file upload statuses recorded in UploadResult.Files.
const (
	// StatusUploaded marks a file newly pushed to the vector-store service.
	StatusUploaded = "uploaded"
	// StatusIndexed marks a file newly chunked into the local or collection index.
	StatusIndexed = "indexed"
	// StatusReused marks a file whose backend id was already recorded and
	// confirmed present; no re-ingestion happened.
	StatusReused = "reused"
	// StatusFailed marks a per-file failure; it never aborts the batch.
	StatusFailed = "failed"
)

// Hit is one retrieved evidence chunk. Transient, never persisted.
type Hit struct {
	Text       string
	Score      float64
	DocumentID string
	ChunkIndex int
	Metadata   map[string]string
}

// FileStatus is the per-file outcome of one upload batch.
type FileStatus struct {
	// Ref is the caller's original reference (URL, path, id or name).
	Ref string
	// Filename is the resolved local filename, when resolution succeeded.
	Filename string
	// Status is one of the Status* constants.
	Status string
	// Detail carries the failure message for StatusFailed.
	Detail string
	// RemoteFileID is the backend id created or reused for this file.
	RemoteFileID string
}

// UploadResult aggregates one upload batch. Observability only, never
// persisted; partial failure is visible here instead of as a batch error.
type UploadResult struct {
	Requested       int
	Uploaded        int
	Reused          int
	AttachSucceeded int
	AttachFailed    int
	Files           []FileStatus
}

// SearchOptions tune one backend search call.
type SearchOptions struct {
	// TopK caps the number of hits. Default 5.
	TopK int
	// ScoreThreshold drops hits scoring strictly below it when positive.
	ScoreThreshold float64
	// Filenames optionally restricts candidates by local filename.
	Filenames []string
}

// Backend is the capability contract shared by all three providers.
// Implementations must be safe for concurrent use.
type Backend interface {
	// ResolveStoreID resolves or creates the destination store/collection id
	// for name. Resolved ids are cached per (provider, name) for process
	// lifetime.
	ResolveStoreID(ctx context.Context, name string) (string, error)

	// Upload ingests the referenced files, reusing backend copies recorded in
	// the ledger. Per-file failures are captured in the result; only a whole-
	// batch precondition (such as an unreachable store) returns an error.
	Upload(ctx context.Context, refs []string) (*UploadResult, error)

	// Search returns ranked evidence chunks for the query, or
	// ErrSearchUnsupported when the backend holds no queryable content.
	Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error)

	// ToolName names the search capability for tool registration.
	ToolName() string
}

// ParseProvider validates a configuration string into a Provider.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderLocal, ProviderVector, ProviderCollection:
		return Provider(s), nil
	default:
		return "", fmt.Errorf("unknown provider %q, valid values: local, vector, collection", s)
	}
}
