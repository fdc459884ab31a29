package index

import (
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/debmirror/debmirror/digest"
)

// PackagesReader lazily yields FileDescriptor for each stanza of a
// Packages (or udeb Packages) index file.
type PackagesReader struct {
	sr *stanzaReader
}

// NewPackagesReader wraps r, the already-decompressed body of a Packages
// index file.
func NewPackagesReader(r io.Reader) *PackagesReader {
	return &PackagesReader{sr: newStanzaReader(r)}
}

// Next returns the next package's file descriptor, or io.EOF once the
// index is exhausted.
func (pr *PackagesReader) Next() (FileDescriptor, error) {
	st, err := pr.sr.readStanza()
	if err != nil {
		return FileDescriptor{}, err
	}
	if st == nil {
		return FileDescriptor{}, io.EOF
	}

	filename := st["Filename"]
	if filename == "" {
		return FileDescriptor{}, errors.Errorf("index: Packages stanza for %s missing Filename", st["Package"])
	}

	size, err := strconv.ParseInt(st["Size"], 10, 64)
	if err != nil {
		return FileDescriptor{}, errors.Wrapf(err, "index: Packages stanza for %s has invalid Size", st["Package"])
	}

	info := digest.Info{Size: size}
	if v := st["SHA256"]; v != "" {
		info.SHA256 = v
	}
	if v := st["SHA1"]; v != "" {
		info.SHA1 = v
	}
	if v := st["MD5sum"]; v != "" {
		info.MD5 = v
	}

	algo, ok := strongestFrom(info)
	if !ok {
		return FileDescriptor{}, errors.Errorf("index: Packages stanza for %s has no recognized checksum field", st["Package"])
	}

	return FileDescriptor{Path: filename, Checksum: info, Algo: algo}, nil
}
