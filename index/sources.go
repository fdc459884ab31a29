package index

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/debmirror/debmirror/digest"
)

// sourcesMultilineFields are the Sources-stanza fields that carry a
// "(digest size filename)" table rather than a scalar value.
var sourcesMultilineFields = []string{"Files", "Checksums-Sha1", "Checksums-Sha256", "Checksums-Sha512"}

// SourcesReader lazily yields every file belonging to each stanza of a
// Sources index file (a source package is usually a .dsc plus one or more
// .tar.* members, each listed once per checksum table).
type SourcesReader struct {
	sr *stanzaReader

	pending []FileDescriptor
}

// NewSourcesReader wraps r, the already-decompressed body of a Sources
// index file.
func NewSourcesReader(r io.Reader) *SourcesReader {
	return &SourcesReader{sr: newStanzaReader(r, sourcesMultilineFields...)}
}

// Next returns the next source-package file descriptor. Each Sources
// stanza expands into several descriptors (one per member file); Next
// walks through them before reading the next stanza.
func (sr *SourcesReader) Next() (FileDescriptor, error) {
	for len(sr.pending) == 0 {
		st, err := sr.sr.readStanza()
		if err != nil {
			return FileDescriptor{}, err
		}
		if st == nil {
			return FileDescriptor{}, io.EOF
		}

		descs, err := expandSourceStanza(st)
		if err != nil {
			return FileDescriptor{}, err
		}
		sr.pending = descs
	}

	d := sr.pending[0]
	sr.pending = sr.pending[1:]
	return d, nil
}

func expandSourceStanza(st stanza) ([]FileDescriptor, error) {
	dir := st["Directory"]
	if dir == "" {
		return nil, errors.Errorf("index: Sources stanza for %s missing Directory", st["Package"])
	}

	byFilename := make(map[string]*digest.Info)
	order := []string{}

	merge := func(table string, set func(info *digest.Info, value string)) error {
		for _, line := range strings.Split(table, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			parts := strings.Fields(line)
			if len(parts) != 3 {
				return errors.Errorf("index: malformed checksum line %q", line)
			}
			value, sizeStr, filename := parts[0], parts[1], parts[2]

			size, err := strconv.ParseInt(sizeStr, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "index: invalid size in line %q", line)
			}

			info, ok := byFilename[filename]
			if !ok {
				info = &digest.Info{}
				byFilename[filename] = info
				order = append(order, filename)
			}
			info.Size = size
			set(info, value)
		}
		return nil
	}

	if err := merge(st["Files"], func(i *digest.Info, v string) { i.MD5 = v }); err != nil {
		return nil, err
	}
	if err := merge(st["Checksums-Sha1"], func(i *digest.Info, v string) { i.SHA1 = v }); err != nil {
		return nil, err
	}
	if err := merge(st["Checksums-Sha256"], func(i *digest.Info, v string) { i.SHA256 = v }); err != nil {
		return nil, err
	}
	if err := merge(st["Checksums-Sha512"], func(i *digest.Info, v string) { i.SHA512 = v }); err != nil {
		return nil, err
	}

	descs := make([]FileDescriptor, 0, len(order))
	for _, filename := range order {
		info := *byFilename[filename]
		algo, ok := strongestFrom(info)
		if !ok {
			return nil, errors.Errorf("index: Sources member %s/%s has no checksum", dir, filename)
		}
		descs = append(descs, FileDescriptor{
			Path:     joinDirectory(dir, filename),
			Checksum: info,
			Algo:     algo,
		})
	}
	return descs, nil
}
