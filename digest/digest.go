// Package digest implements the incremental hash accumulator used by every
// stage of the mirroring pipeline that needs to prove the bytes it just
// wrote match a manifest-recorded checksum.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
)

// Algorithm identifies one of the supported digest algorithms.
type Algorithm int

// Supported algorithms, ordered weakest to strongest so that
// Strongest(a, b) == b whenever b > a.
const (
	MD5 Algorithm = iota
	SHA1
	SHA256
	SHA512
)

// String returns the Release-file field name for the algorithm.
func (a Algorithm) String() string {
	switch a {
	case MD5:
		return "MD5Sum"
	case SHA1:
		return "SHA1"
	case SHA256:
		return "SHA256"
	case SHA512:
		return "SHA512"
	default:
		return "unknown"
	}
}

// Size returns the digest length in bytes for the algorithm.
func (a Algorithm) Size() int {
	switch a {
	case MD5:
		return md5.Size
	case SHA1:
		return sha1.Size
	case SHA256:
		return sha256.Size
	case SHA512:
		return sha512.Size
	default:
		return 0
	}
}

func (a Algorithm) new() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	case SHA512:
		return sha512.New()
	default:
		panic(fmt.Sprintf("digest: unknown algorithm %d", a))
	}
}

// Strongest returns whichever of a and b ranks higher in SHA512 > SHA256 >
// SHA1 > MD5 preference order.
func Strongest(a, b Algorithm) Algorithm {
	if b > a {
		return b
	}
	return a
}

// Info is the checksum record for one file: its size and whatever digests
// were recorded for it. A zero-value Info means "no algorithm recorded".
type Info struct {
	Size   int64
	MD5    string
	SHA1   string
	SHA256 string
	SHA512 string
}

// Get returns the hex digest recorded for algo, or "" if absent.
func (i Info) Get(algo Algorithm) string {
	switch algo {
	case MD5:
		return i.MD5
	case SHA1:
		return i.SHA1
	case SHA256:
		return i.SHA256
	case SHA512:
		return i.SHA512
	default:
		return ""
	}
}

// Set records the hex digest for algo.
func (i *Info) Set(algo Algorithm, hexDigest string) {
	switch algo {
	case MD5:
		i.MD5 = hexDigest
	case SHA1:
		i.SHA1 = hexDigest
	case SHA256:
		i.SHA256 = hexDigest
	case SHA512:
		i.SHA512 = hexDigest
	}
}

// Strongest returns the strongest algorithm for which i carries a digest,
// and that digest. ok is false if no digest is present at all.
func (i Info) Strongest() (algo Algorithm, hexDigest string, ok bool) {
	for _, a := range []Algorithm{SHA512, SHA256, SHA1, MD5} {
		if d := i.Get(a); d != "" {
			return a, d, true
		}
	}
	return 0, "", false
}

// Sink is an incremental multi-algorithm hash accumulator. It implements
// io.Writer so it can be teed alongside a file sink in a single io.Copy:
// each chunk written to the destination file is written to the Sink with
// the same call, so the digest comes out finalized the moment the file
// does, without ever buffering the payload twice.
type Sink struct {
	size   int64
	hashes map[Algorithm]hash.Hash
}

// NewSink creates a Sink that accumulates digests for the given algorithms.
// With no algorithms given, the sink still tracks size.
func NewSink(algos ...Algorithm) *Sink {
	s := &Sink{hashes: make(map[Algorithm]hash.Hash, len(algos))}
	for _, a := range algos {
		s.hashes[a] = a.new()
	}
	return s
}

// Write feeds p into every configured hash and the byte counter. It never
// returns an error; hash.Hash.Write is documented to never fail.
func (s *Sink) Write(p []byte) (int, error) {
	s.size += int64(len(p))
	for _, h := range s.hashes {
		h.Write(p) // nolint: errcheck
	}
	return len(p), nil
}

// Sum finalizes the sink into an Info. Sum may be called only once per
// sink; the underlying hash.Hash state is not reset.
func (s *Sink) Sum() Info {
	info := Info{Size: s.size}
	for algo, h := range s.hashes {
		info.Set(algo, fmt.Sprintf("%x", h.Sum(nil)))
	}
	return info
}

// TeeCopy copies src to dst while simultaneously feeding every byte into
// sink, returning the number of bytes copied.
func TeeCopy(dst io.Writer, src io.Reader, sink *Sink) (int64, error) {
	return io.Copy(io.MultiWriter(dst, sink), src)
}

// ForFile computes an Info for everything read from r using every
// requested algorithm, streaming it in fixed-size chunks rather than
// buffering it whole — used by fetch and audit.Verify to hash files on
// disk.
func ForFile(r io.Reader, algos ...Algorithm) (Info, error) {
	sink := NewSink(algos...)
	if _, err := io.Copy(sink, r); err != nil {
		return Info{}, err
	}
	return sink.Sum(), nil
}

// Matches reports whether actual satisfies expected: every algorithm
// present in expected must be present and equal in actual, and sizes must
// match. An expected value with no digests at all (trust-on-first-use)
// always matches.
func (expected Info) Matches(actual Info) (ok bool, mismatchedAlgo Algorithm, sizeMismatch bool) {
	if expected.Size != 0 && actual.Size != expected.Size {
		return false, 0, true
	}
	for _, a := range []Algorithm{SHA512, SHA256, SHA1, MD5} {
		e := expected.Get(a)
		if e == "" {
			continue
		}
		if actual.Get(a) != e {
			return false, a, false
		}
	}
	return true, 0, false
}
