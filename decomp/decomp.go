// Package decomp implements the streaming decompressors the index parsers
// need: gzip, bzip2, xz, zstd and pass-through, selected by filename
// extension. Downloads are staged still compressed; only stage.parseIndex
// decompresses them.
package decomp

import (
	"compress/bzip2"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	xz "github.com/smira/go-xz"
)

// Method identifies one compression method recognized on the wire.
type Method int

// Supported methods. Their numeric order carries no preference;
// PreferenceOrder ranks them for when several compressed variants of the
// same index are on offer: xz > zstd > bz2 > gz > none.
const (
	None Method = iota
	Gzip
	Bzip2
	XZ
	Zstd
)

// Extension returns the filename suffix associated with m ("" for None).
func (m Method) Extension() string {
	switch m {
	case Gzip:
		return ".gz"
	case Bzip2:
		return ".bz2"
	case XZ:
		return ".xz"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

// PreferenceOrder lists methods from most to least preferred when several
// compressed variants of the same logical index file are available.
var PreferenceOrder = []Method{XZ, Zstd, Bzip2, Gzip, None}

// MethodForPath infers the compression method from a path's extension.
func MethodForPath(path string) Method {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return Gzip
	case strings.HasSuffix(path, ".bz2"):
		return Bzip2
	case strings.HasSuffix(path, ".xz"):
		return XZ
	case strings.HasSuffix(path, ".zst"):
		return Zstd
	default:
		return None
	}
}

// TrimExtension removes the compression-method suffix from path, yielding
// the logical (decompressed) file name.
func TrimExtension(path string, m Method) string {
	ext := m.Extension()
	if ext == "" {
		return path
	}
	return strings.TrimSuffix(path, ext)
}

// NewReader wraps r with a decompressing reader for the given method. The
// returned reader must be closed if it implements io.Closer (zstd readers
// hold resources that must be released; gzip/bzip2/xz readers in this
// pack's libraries do not).
func NewReader(r io.Reader, m Method) (io.Reader, error) {
	switch m {
	case None:
		return r, nil
	case Gzip:
		return pgzip.NewReader(r)
	case Bzip2:
		return bzip2.NewReader(r), nil
	case XZ:
		return xz.NewReader(r)
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &zstdReader{dec}, nil
	default:
		return nil, fmt.Errorf("decomp: unsupported method %d", m)
	}
}

// zstdReader adapts *zstd.Decoder's Read to io.ReadCloser using Close
// (zstd.Decoder.Close never returns an error worth surfacing mid-stream).
type zstdReader struct {
	dec *zstd.Decoder
}

func (z *zstdReader) Read(p []byte) (int, error) { return z.dec.Read(p) }
func (z *zstdReader) Close() error                { z.dec.Close(); return nil }
