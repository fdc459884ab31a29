// Package registry implements the indexed-file registry: the authoritative
// set of files a valid mirror must contain for one run, grown monotonically
// while Release/Packages/Sources/SHA256SUMS are parsed and consumed by
// promote, prune and verify.
//
// A single coarse mutex guards the whole map rather than per-key locks,
// since inserts here are uniformly cheap map writes, not critical sections
// long enough to benefit from finer-grained locking.
package registry

import (
	"sync"

	"github.com/debmirror/debmirror/digest"
)

// Entry is one file a valid mirror must contain: its repository-relative path,
// expected size and digest, and the algorithm that digest is in.
type Entry struct {
	// Path is repository-relative, e.g. "pool/main/b/bash/bash_1_amd64.deb"
	// or "dists/stable/main/binary-amd64/Packages.xz" — joined against the
	// mirror root by mirrorfs and audit, never stored absolute.
	Path string
	// Checksum is the expected size/digest for Path.
	Checksum digest.Info
	// Algo is the strongest algorithm Checksum carries a digest for.
	Algo digest.Algorithm
	// Mandatory is false for optional entries whose absence (404) does
	// not fail the containing repository.
	Mandatory bool
}

// Registry is the authoritative reference set for one mirror run. It is
// safe for concurrent use: Insert may be called from many parser goroutines
// at once, one per index file being parsed, with no ordering guarantee
// between them.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Insert adds or replaces the entry for e.Path. Later inserts for the same
// path win, matching the convention that the most specific/most recently
// parsed index is authoritative for a given file.
func (r *Registry) Insert(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Path] = e
}

// Lookup returns the entry for path, if any.
func (r *Registry) Lookup(path string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[path]
	return e, ok
}

// Len returns the number of distinct paths in the registry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Paths returns a snapshot slice of every path currently registered. The
// returned slice is safe to mutate; it does not alias internal storage.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.entries))
	for p := range r.entries {
		paths = append(paths, p)
	}
	return paths
}

// Entries returns a snapshot slice of every entry currently registered.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Has reports whether path is a member of the registry.
func (r *Registry) Has(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[path]
	return ok
}
