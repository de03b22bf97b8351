package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/evidra/evidra/internal/ledger"
)

var (
	// safeNameRe accepts bare names: alphanumerics, dot, dash and underscore
	// only, no separators, no leading dot, bounded length. Blocks path
	// traversal through caller-supplied names.
	safeNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

	// remoteFileIDRe matches backend-native file ids issued by the remote
	// vector-store service.
	remoteFileIDRe = regexp.MustCompile(`^file-[A-Za-z0-9_-]{8,64}$`)
)

// storeIDCache caches resolved destination store ids per (provider, name)
// for process lifetime, avoiding repeat creation calls.
var storeIDCache sync.Map

func cachedStoreID(p Provider, name string) (string, bool) {
	v, ok := storeIDCache.Load(string(p) + "/" + name)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func cacheStoreID(p Provider, name, id string) {
	storeIDCache.Store(string(p)+"/"+name, id)
}

// resolvedFile pairs a ledger entry with the readable local path behind it.
type resolvedFile struct {
	ref   string
	entry ledger.Entry
	path  string
}

// resolveRefs maps each caller reference (an http(s) URL, a remote file id,
// a literal filesystem path or a bare safe name) to a (ledger entry, local
// path) pair. First-seen literal local files get a ledger entry on the
// spot. Failures come back as per-file statuses, never as an error: they
// must not block sibling files, and they happen strictly before any network
// or ingestion I/O.
func resolveRefs(led *ledger.Store, docDir string, refs []string) ([]resolvedFile, []FileStatus) {
	var (
		resolved []resolvedFile
		failed   []FileStatus
	)

	fail := func(ref string, err error) {
		failed = append(failed, FileStatus{Ref: ref, Status: StatusFailed, Detail: err.Error()})
	}

	for _, ref := range refs {
		switch {
		case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
			entry, err := led.LookupByURL(ref)
			if err != nil {
				fail(ref, fmt.Errorf("%w: URL %q has no ledger entry", ErrNotFound, ref))
				continue
			}
			resolved = append(resolved, resolvedFile{
				ref:   ref,
				entry: entry,
				path:  filepath.Join(docDir, entry.Filename),
			})

		case remoteFileIDRe.MatchString(ref):
			entry, err := led.LookupByRemoteFileID(ref)
			if err != nil {
				fail(ref, fmt.Errorf("%w: file id %q has no ledger entry", ErrNotFound, ref))
				continue
			}
			resolved = append(resolved, resolvedFile{
				ref:   ref,
				entry: entry,
				path:  filepath.Join(docDir, entry.Filename),
			})

		case fileExists(ref):
			rf, err := resolveLiteralPath(led, ref)
			if err != nil {
				fail(ref, err)
				continue
			}
			resolved = append(resolved, rf)

		default:
			if !safeNameRe.MatchString(ref) {
				fail(ref, fmt.Errorf("%w: %q", ErrUnsafeName, ref))
				continue
			}
			entry, err := led.LookupByName(ref)
			if err != nil {
				fail(ref, fmt.Errorf("%w: name %q has no ledger entry", ErrNotFound, ref))
				continue
			}
			resolved = append(resolved, resolvedFile{
				ref:   ref,
				entry: entry,
				path:  filepath.Join(docDir, entry.Filename),
			})
		}
	}

	return resolved, failed
}

// resolveLiteralPath handles a reference that is an existing filesystem
// path, registering first-seen files in the ledger under a file:// key.
func resolveLiteralPath(led *ledger.Store, ref string) (resolvedFile, error) {
	abs, err := filepath.Abs(ref)
	if err != nil {
		return resolvedFile{}, fmt.Errorf("resolving path %q: %w", ref, err)
	}

	name := filepath.Base(abs)
	if !safeNameRe.MatchString(name) {
		return resolvedFile{}, fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}

	fileURL := "file://" + filepath.ToSlash(abs)
	if entry, err := led.LookupByURL(fileURL); err == nil {
		return resolvedFile{ref: ref, entry: entry, path: abs}, nil
	}

	info, err := os.Stat(abs)
	if err != nil {
		return resolvedFile{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	entry, err := led.Add(ledger.Entry{
		URL:           fileURL,
		Filename:      name,
		Title:         name,
		ContentLength: int(info.Size()),
	})
	if err != nil {
		return resolvedFile{}, fmt.Errorf("registering local file %q: %w", ref, err)
	}

	return resolvedFile{ref: ref, entry: entry, path: abs}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
