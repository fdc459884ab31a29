// Package index parses the three catalog grammars a mirrored Release can
// point at — Packages, Sources and installer SHA256SUMS — into a lazy
// sequence of file descriptors.
package index

import (
	"path"

	"github.com/debmirror/debmirror/digest"
)

// Kind identifies which grammar an index file uses.
type Kind int

const (
	KindPackages Kind = iota
	KindSources
	KindInstallerSums
)

// FileDescriptor names one file an index entry points at: a
// repository-relative path, its size, and its digest/algorithm. For
// installer SHA256SUMS entries Size is 0 (unknown a priori; the
// downloader verifies those entries by digest only).
type FileDescriptor struct {
	Path     string
	Checksum digest.Info
	Algo     digest.Algorithm
}

// strongestFrom picks the highest-strength algorithm present among the
// per-stanza checksum fields commonly seen in a Packages stanza
// (MD5sum/SHA1/SHA256).
func strongestFrom(info digest.Info) (digest.Algorithm, bool) {
	algo, _, ok := info.Strongest()
	return algo, ok
}

// joinDirectory joins a Sources stanza's Directory field with a filename
// from its Files/Checksums table, producing a repository-relative path.
func joinDirectory(dir, filename string) string {
	return path.Join(dir, filename)
}
