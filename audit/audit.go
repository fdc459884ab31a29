// Package audit implements the two drivers that compare a mirror root
// against its own index files without touching the network:
// Prune, which deletes files the registry no longer references, and
// Verify, which rehashes every registered file still on disk.
package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mxk/go-flowrate/flowrate"
	"github.com/pkg/errors"
	"github.com/saracen/walker"

	"github.com/debmirror/debmirror/console"
	"github.com/debmirror/debmirror/digest"
	"github.com/debmirror/debmirror/registry"
)

// symlinkPolicy documents the chosen behavior for symlinks under the
// mirror root: neither Prune nor Verify follow them. Both skip a symlink
// without logging it: Prune never removes one, and Verify neither rehashes
// it nor reports it as missing.
const symlinkPolicy = "do not follow"

// PruneResult is the outcome of one Prune run.
type PruneResult struct {
	Removed []string
	Kept    []string
	Failed  map[string]error
}

// Prune walks root and removes every regular file not present in reg,
// skipping ".staging" (an in-progress run's private workspace) and any
// symlink. dryRun lists what would be removed without removing it.
func Prune(root string, reg *registry.Registry, dryRun bool, progress console.Progress) (*PruneResult, error) {
	result := &PruneResult{Failed: make(map[string]error)}
	var mu sync.Mutex

	err := walker.Walk(root, func(path string, info os.FileInfo) error {
		if info.IsDir() {
			if filepath.Base(path) == ".staging" {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		mu.Lock()
		defer mu.Unlock()

		if reg.Has(rel) {
			result.Kept = append(result.Kept, rel)
			return nil
		}

		if dryRun {
			progress.Printf("would remove %s\n", rel)
			result.Removed = append(result.Removed, rel)
			return nil
		}

		if err := os.Remove(path); err != nil {
			result.Failed[rel] = err
			return nil
		}
		progress.Printf("removed %s\n", rel)
		result.Removed = append(result.Removed, rel)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "audit: walking %s", root)
	}

	if !dryRun {
		pruneEmptyDirs(root)
	}

	sort.Strings(result.Removed)
	sort.Strings(result.Kept)
	return result, nil
}

// pruneEmptyDirs removes every directory under dir left empty by the
// file deletions above, bottom-up, skipping ".staging" so an in-progress
// run's workspace is never touched by a concurrent prune.
func pruneEmptyDirs(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if entry.Name() == ".staging" {
			continue
		}
		sub := filepath.Join(dir, entry.Name())
		pruneEmptyDirs(sub)
		if remaining, err := os.ReadDir(sub); err == nil && len(remaining) == 0 {
			os.Remove(sub)
		}
	}
}

// VerifyResult is the outcome of one Verify run.
type VerifyResult struct {
	OK       []string
	Mismatch map[string]string
	Missing  []string
}

// Verify rehashes every registered file still present under root and
// compares against the checksum recorded at index time. bytesPerSec <= 0
// means unthrottled; throttling here protects the same link a mirror run
// would be sharing disk or network bandwidth with.
func Verify(root string, reg *registry.Registry, bytesPerSec int64, progress console.Progress) (*VerifyResult, error) {
	result := &VerifyResult{Mismatch: make(map[string]string)}

	for _, entry := range reg.Entries() {
		path := filepath.Join(root, entry.Path)

		info, err := os.Lstat(path)
		if os.IsNotExist(err) {
			result.Missing = append(result.Missing, entry.Path)
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "audit: stat %s", path)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			// per symlinkPolicy, a symlinked entry is neither verified nor
			// reported as missing.
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "audit: opening %s", path)
		}

		var reader io.Reader = f
		if bytesPerSec > 0 {
			reader = flowrate.NewReader(f, bytesPerSec)
		}

		actual, err := digest.ForFile(reader, digest.MD5, digest.SHA1, digest.SHA256, digest.SHA512)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "audit: hashing %s", path)
		}

		ok, mismatched, sizeMismatch := entry.Checksum.Matches(actual)
		if !ok {
			if sizeMismatch {
				result.Mismatch[entry.Path] = fmt.Sprintf("size %d != %d", entry.Checksum.Size, actual.Size)
			} else {
				result.Mismatch[entry.Path] = mismatched.String()
			}
			progress.PrintfStdErr("MISMATCH %s\n", entry.Path)
			continue
		}

		result.OK = append(result.OK, entry.Path)
	}

	sort.Strings(result.OK)
	sort.Strings(result.Missing)
	return result, nil
}
