package index

import (
	"bufio"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/debmirror/debmirror/digest"
)

// SHA256SumsReader parses a debian-installer "SHA256SUMS" index: one
// "digest  filename" line per installer image, resolved relative to the
// SHA256SUMS file's own directory. Size is unspecified by this format; the
// downloader verifies these entries by digest only.
type SHA256SumsReader struct {
	scanner *bufio.Scanner
	dir     string
}

// NewSHA256SumsReader wraps r, the body of an installer SHA256SUMS file
// located at dir (a repository-relative directory, e.g.
// "main/installer-amd64/current/images").
func NewSHA256SumsReader(r io.Reader, dir string) *SHA256SumsReader {
	return &SHA256SumsReader{scanner: bufio.NewScanner(r), dir: dir}
}

// Next returns the next installer file descriptor, or io.EOF.
func (sr *SHA256SumsReader) Next() (FileDescriptor, error) {
	for sr.scanner.Scan() {
		line := strings.TrimSpace(sr.scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return FileDescriptor{}, errors.Errorf("index: malformed SHA256SUMS line %q", line)
		}
		hexDigest, filename := parts[0], strings.TrimPrefix(parts[1], "*")

		return FileDescriptor{
			Path:     path.Join(sr.dir, filename),
			Checksum: digest.Info{SHA256: hexDigest},
			Algo:     digest.SHA256,
		}, nil
	}
	if err := sr.scanner.Err(); err != nil {
		return FileDescriptor{}, err
	}
	return FileDescriptor{}, io.EOF
}
