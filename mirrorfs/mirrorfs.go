// Package mirrorfs manages the on-disk mirror root: a staging tree where a
// run writes everything it fetches, promoted into the live tree only once
// the whole run has succeeded.
package mirrorfs

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
)

// ErrCrossDevice is returned by New when the staging area and the live
// root don't share a filesystem: promotion relies on os.Rename, which
// can't cross a device boundary.
var ErrCrossDevice = errors.New("mirrorfs: staging area and mirror root are on different filesystems")

// Root owns one mirror's on-disk layout: a live tree at root, and a
// staging tree (root/.staging/<uuid>) that a run writes into before
// Promote moves each staged path over its live counterpart.
type Root struct {
	live    string
	staging string
}

// New prepares a fresh staging directory under root for one run. The
// staging directory's parent is created inside root itself specifically
// so SameFilesystem never has to deal with a separate mount.
func New(root string) (*Root, error) {
	live, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "mirrorfs: resolving root %s", root)
	}

	if err := os.MkdirAll(live, 0755); err != nil {
		return nil, errors.Wrapf(err, "mirrorfs: creating root %s", live)
	}

	stagingParent := filepath.Join(live, ".staging")
	if err := os.MkdirAll(stagingParent, 0755); err != nil {
		return nil, errors.Wrapf(err, "mirrorfs: creating staging area under %s", live)
	}

	same, err := SameFilesystem(live, stagingParent)
	if err != nil {
		return nil, err
	}
	if !same {
		return nil, ErrCrossDevice
	}

	staging := filepath.Join(stagingParent, uuid.New())
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, errors.Wrapf(err, "mirrorfs: creating staging directory %s", staging)
	}

	return &Root{live: live, staging: staging}, nil
}

// StagingPath returns the path under the staging tree that corresponds to
// a repository-relative path (e.g. "dists/stable/Release" or
// "pool/main/b/bash/bash_1_amd64.deb"). fetch.Task.Destination should be
// this value, never a path under LivePath directly.
func (r *Root) StagingPath(relPath string) string {
	return filepath.Join(r.staging, relPath)
}

// LivePath returns the corresponding path in the live tree.
func (r *Root) LivePath(relPath string) string {
	return filepath.Join(r.live, relPath)
}

// MkdirStaging ensures the staging-tree directory for relPath's parent
// exists; fetch.Pool also does this per-file, so callers only need this
// ahead of non-fetch writes (e.g. a locally-synthesized Release copy).
func (r *Root) MkdirStaging(relPath string) error {
	return os.MkdirAll(filepath.Dir(r.StagingPath(relPath)), 0755)
}

// Promote moves every staged path into the live tree, overwriting
// whatever was there. Rename is atomic per file on a single filesystem,
// which New already verified. Promote does not remove a destination path
// that no longer exists in relPaths — that is audit.Prune's job, run
// separately once promotion succeeds.
func (r *Root) Promote(relPaths []string) error {
	for _, relPath := range relPaths {
		src := r.StagingPath(relPath)
		dst := r.LivePath(relPath)

		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return errors.Wrapf(err, "mirrorfs: creating destination directory for %s", relPath)
		}
		if err := os.Rename(src, dst); err != nil {
			return errors.Wrapf(err, "mirrorfs: promoting %s", relPath)
		}
	}
	return nil
}

// Discard removes the staging tree without promoting it, for a run that
// fails before every file is fetched.
func (r *Root) Discard() error {
	return os.RemoveAll(r.staging)
}

// Cleanup removes the now-empty staging parent once every run using it
// has either promoted or discarded its own subdirectory.
func (r *Root) Cleanup() error {
	entries, err := os.ReadDir(filepath.Join(r.live, ".staging"))
	if err != nil {
		return nil
	}
	if len(entries) == 0 {
		return os.Remove(filepath.Join(r.live, ".staging"))
	}
	return nil
}

// PurgeStaging removes every leftover staging directory under root from a
// prior crashed or aborted run, before New creates this run's own. The
// stage scheduler calls it with its shared mirror root before processing
// each repository, so every staging directory under that root is removed,
// not only ones left by the repository about to be processed.
func PurgeStaging(root string) error {
	stagingParent := filepath.Join(root, ".staging")
	entries, err := os.ReadDir(stagingParent)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "mirrorfs: reading staging area under %s", root)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(stagingParent, entry.Name())); err != nil {
			return errors.Wrapf(err, "mirrorfs: purging leftover staging directory %s", entry.Name())
		}
	}
	return nil
}

// SameFilesystem checks whether two existing paths reside on the same
// filesystem; Promote's per-file os.Rename fails with an error across
// devices, so this is checked once up front rather than per file.
func SameFilesystem(path1, path2 string) (bool, error) {
	stat1, err := os.Stat(path1)
	if err != nil {
		return false, err
	}
	stat2, err := os.Stat(path2)
	if err != nil {
		return false, err
	}

	sys1, ok1 := stat1.Sys().(*syscall.Stat_t)
	sys2, ok2 := stat2.Sys().(*syscall.Stat_t)
	if !ok1 || !ok2 {
		return false, errors.New("mirrorfs: platform does not expose device IDs")
	}

	return sys1.Dev == sys2.Dev, nil
}
