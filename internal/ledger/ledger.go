// Package ledger implements the persistent dedup ledger mapping source
// identity (a normalized URL) to the local file and backend ids created for
// that source.
//
// The backing file is a single JSON object {entries, version, last_updated}
// shared by every process ingesting into the same data directory. All
// mutations run inside a cross-process advisory lock (via
// [github.com/gofrs/flock]) around a read-merge-write cycle, so no two
// processes can interleave an update. Read-only lookups are answered from an
// in-process cache and fall back to a locked read on miss.
//
// A corrupted backing file is treated as an empty ledger (logged, not fatal):
// availability is favored over strict durability. There is no write-ahead
// log; a crash in the middle of a write can truncate the file. That gap is
// accepted by design.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FormatVersion is the on-disk ledger format version.
const FormatVersion = 1

var (
	// ErrNotFound indicates no ledger entry matches the lookup key.
	ErrNotFound = errors.New("ledger entry not found")

	// ErrInvalidURL indicates the source URL cannot be normalized.
	ErrInvalidURL = errors.New("invalid source URL")

	// ErrDuplicateName indicates the filename is already claimed by a
	// different source.
	ErrDuplicateName = errors.New("filename already in use")
)

// Entry records one ingested source document.
type Entry struct {
	// URL is the normalized source URL, unique within the ledger.
	URL string `json:"url"`
	// Filename is the local file holding the fetched text, unique within
	// the ledger.
	Filename string `json:"filename"`

	Title         string   `json:"title,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	ContentLength int      `json:"content_length,omitempty"`

	// RemoteFileID is the id assigned by the remote vector-store service,
	// empty until the first successful upload.
	RemoteFileID string `json:"remote_file_id,omitempty"`
	// LocalDocID is the id assigned by the local or collection index,
	// empty until the first successful indexing.
	LocalDocID string `json:"local_doc_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// state is the full on-disk ledger document.
type state struct {
	Entries     []Entry   `json:"entries"`
	Version     int       `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
}

// Store is the process-wide handle to one ledger file.
//
// Store serializes cross-process mutations through an advisory file lock and
// is safe for concurrent use by multiple goroutines.
type Store struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	mu     sync.RWMutex
	byURL  map[string]Entry
	byName map[string]Entry
}

var (
	openMu sync.Mutex
	opened = make(map[string]*Store)
)

// Open returns the shared Store for path, creating it on first call.
// Later calls with the same path reuse the first handle, so every caller in
// the process shares one cache and one lock object.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving ledger path: %w", err)
	}

	openMu.Lock()
	defer openMu.Unlock()

	if s, ok := opened[abs]; ok {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	s := &Store{
		path:   abs,
		lock:   flock.New(abs + ".lock"),
		logger: logger,
		byURL:  make(map[string]Entry),
		byName: make(map[string]Entry),
	}
	opened[abs] = s
	return s, nil
}

// NormalizeURL canonicalizes a source URL: scheme and host are lowercased,
// the fragment is dropped and a single trailing slash on a bare path is
// removed. Two spellings of the same source normalize to one ledger key.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%w: %q has no scheme", ErrInvalidURL, raw)
	}
	// file:// keys for first-seen local files carry the path in place of a host.
	if u.Host == "" && u.Scheme != "file" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "/" {
		u.Path = ""
	}

	return u.String(), nil
}

// Add upserts an entry keyed by its normalized URL and returns the stored
// form. An existing entry keeps its CreatedAt and any backend ids not set on
// the incoming entry; everything else is overwritten (last write wins).
func (s *Store) Add(e Entry) (Entry, error) {
	norm, err := NormalizeURL(e.URL)
	if err != nil {
		return Entry{}, err
	}
	e.URL = norm
	if e.Filename == "" {
		return Entry{}, fmt.Errorf("%w: entry for %q has no filename", ErrDuplicateName, norm)
	}

	var stored Entry
	err = s.mutate(func(st *state) error {
		now := time.Now().UTC()

		// Filename uniqueness across distinct sources.
		for _, existing := range st.Entries {
			if existing.Filename == e.Filename && existing.URL != e.URL {
				return fmt.Errorf("%w: %q belongs to %q", ErrDuplicateName, e.Filename, existing.URL)
			}
		}

		for i, existing := range st.Entries {
			if existing.URL != e.URL {
				continue
			}
			e.CreatedAt = existing.CreatedAt
			e.UpdatedAt = now
			if e.RemoteFileID == "" {
				e.RemoteFileID = existing.RemoteFileID
			}
			if e.LocalDocID == "" {
				e.LocalDocID = existing.LocalDocID
			}
			st.Entries[i] = e
			stored = e
			return nil
		}

		e.CreatedAt = now
		e.UpdatedAt = now
		st.Entries = append(st.Entries, e)
		stored = e
		return nil
	})
	if err != nil {
		return Entry{}, err
	}

	s.logger.Debug("ledger entry upserted", "url", stored.URL, "filename", stored.Filename)
	return stored, nil
}

// SetRemoteFileID records the id assigned by the remote vector-store service.
func (s *Store) SetRemoteFileID(sourceURL, fileID string) error {
	return s.setBackendID(sourceURL, func(e *Entry) { e.RemoteFileID = fileID })
}

// SetLocalDocID records the document id assigned by the local or collection index.
func (s *Store) SetLocalDocID(sourceURL, docID string) error {
	return s.setBackendID(sourceURL, func(e *Entry) { e.LocalDocID = docID })
}

func (s *Store) setBackendID(sourceURL string, apply func(*Entry)) error {
	norm, err := NormalizeURL(sourceURL)
	if err != nil {
		return err
	}

	return s.mutate(func(st *state) error {
		for i := range st.Entries {
			if st.Entries[i].URL == norm {
				apply(&st.Entries[i])
				st.Entries[i].UpdatedAt = time.Now().UTC()
				return nil
			}
		}
		return fmt.Errorf("%w: %q", ErrNotFound, norm)
	})
}

// LookupByURL returns the entry for the given source URL.
func (s *Store) LookupByURL(sourceURL string) (Entry, error) {
	norm, err := NormalizeURL(sourceURL)
	if err != nil {
		return Entry{}, err
	}

	s.mu.RLock()
	e, ok := s.byURL[norm]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	// Miss: another process sharing the backing file may have written the
	// entry since the cache was populated.
	if err := s.refresh(); err != nil {
		return Entry{}, err
	}
	s.mu.RLock()
	e, ok = s.byURL[norm]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, norm)
}

// LookupByName returns the entry owning the given local filename.
func (s *Store) LookupByName(filename string) (Entry, error) {
	s.mu.RLock()
	e, ok := s.byName[filename]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	if err := s.refresh(); err != nil {
		return Entry{}, err
	}
	s.mu.RLock()
	e, ok = s.byName[filename]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}
	return Entry{}, fmt.Errorf("%w: filename %q", ErrNotFound, filename)
}

// LookupByRemoteFileID returns the entry with the given remote file id.
// Remote ids have no dedicated index; this scans the cached entries.
func (s *Store) LookupByRemoteFileID(fileID string) (Entry, error) {
	if err := s.refresh(); err != nil {
		return Entry{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.byURL {
		if e.RemoteFileID == fileID {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: remote file id %q", ErrNotFound, fileID)
}

// List returns every entry, freshly read from disk.
func (s *Store) List() ([]Entry, error) {
	st, err := s.lockedRead()
	if err != nil {
		return nil, err
	}
	s.repopulate(st)
	return st.Entries, nil
}

// refresh repopulates the in-process cache from a locked read.
func (s *Store) refresh() error {
	st, err := s.lockedRead()
	if err != nil {
		return err
	}
	s.repopulate(st)
	return nil
}

func (s *Store) repopulate(st *state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byURL = make(map[string]Entry, len(st.Entries))
	s.byName = make(map[string]Entry, len(st.Entries))
	for _, e := range st.Entries {
		s.byURL[e.URL] = e
		s.byName[e.Filename] = e
	}
}

// mutate runs fn inside the cross-process critical section: lock, re-read
// the current on-disk state (defensive against concurrent writers), merge
// via fn, write the full state back, unlock. The in-process cache is
// repopulated from the written state.
func (s *Store) mutate(fn func(*state) error) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquiring ledger lock: %w", err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("releasing ledger lock", "error", err)
		}
	}()

	st, err := s.readState()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}

	st.Version = FormatVersion
	st.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}

	s.repopulate(st)
	return nil
}

// lockedRead reads the on-disk state under the advisory lock.
func (s *Store) lockedRead() (*state, error) {
	if err := s.lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring ledger lock: %w", err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("releasing ledger lock", "error", err)
		}
	}()

	return s.readState()
}

// readState loads the backing file. A missing file is an empty ledger; a
// syntactically corrupt file is treated as empty and logged, never fatal.
// Other I/O failures surface to the caller. Callers must hold the advisory
// lock.
func (s *Store) readState() (*state, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &state{Version: FormatVersion}, nil
		}
		return nil, fmt.Errorf("reading ledger file: %w", err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("ledger file corrupt, starting empty", "path", s.path, "error", err)
		return &state{Version: FormatVersion}, nil
	}
	return &st, nil
}
