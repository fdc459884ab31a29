package release

import (
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/debmirror/debmirror/digest"
)

// Manifest is the parsed contents of a Release/InRelease file: the
// suite-level fields plus the merged file table.
type Manifest struct {
	Suite         string
	Codename      string
	Components    []string
	Architectures []string
	Date          time.Time
	// ByHash records whether the Release stanza set "Acquire-By-Hash: yes".
	// This implementation never fetches via a by-hash path; it only keeps
	// the flag around for callers that want to know it was offered.
	ByHash bool
	// Files maps repository-relative path to its merged checksum record.
	Files map[string]digest.Info
	// Raw is the unparsed stanza, retained for fields callers may want
	// that this type does not promote to a named field.
	Raw Stanza
}

// releaseTimeLayout is the format apt uses for the Date/Valid-Until fields
// (RFC1123 with a literal "UTC" in practice, but apt writes GMT).
const releaseTimeLayout = "Mon, 2 Jan 2006 15:04:05 MST"

// Parse reads a single Release/InRelease stanza from r and returns its
// Manifest, merging the MD5Sum/SHA1/SHA256/SHA512 checksum tables into
// one file table keyed by repository-relative path.
func Parse(r io.Reader) (*Manifest, error) {
	sreader := NewStanzaReader(r)
	stanza, err := sreader.ReadStanza()
	if err != nil {
		return nil, err
	}
	if stanza == nil {
		return nil, ErrNoSignature
	}

	m := &Manifest{
		Suite:      stanza["Suite"],
		Codename:   stanza["Codename"],
		Files:      make(map[string]digest.Info),
		Raw:        stanza,
		ByHash:     strings.EqualFold(strings.TrimSpace(stanza["Acquire-By-Hash"]), "yes"),
	}

	if v := stanza["Architectures"]; v != "" {
		m.Architectures = strings.Fields(v)
	}
	if v := stanza["Components"]; v != "" {
		raw := strings.Fields(v)
		m.Components = make([]string, len(raw))
		for i, c := range raw {
			m.Components[i] = path.Base(c)
		}
	}
	if v := strings.TrimSpace(stanza["Date"]); v != "" {
		if t, err := time.Parse(releaseTimeLayout, v); err == nil {
			m.Date = t
		}
	}

	algos := []struct {
		field string
		algo  digest.Algorithm
	}{
		{"MD5Sum", digest.MD5},
		{"SHA1", digest.SHA1},
		{"SHA256", digest.SHA256},
		{"SHA512", digest.SHA512},
	}

	for _, a := range algos {
		if err := m.mergeSums(stanza[a.field], a.algo); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// mergeSums parses a "digest size path" table (one per line) for algo and
// merges it into m.Files, enforcing that every algorithm present for a
// path agrees on size.
func (m *Manifest) mergeSums(table string, algo digest.Algorithm) error {
	for _, line := range strings.Split(table, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 3 {
			return &ParseError{Field: algo.String(), Line: line, Err: ErrMalformedStanza}
		}

		hexDigest, sizeStr, relPath := parts[0], parts[1], parts[2]

		if err := validateRelativePath(relPath); err != nil {
			return &ParseError{Field: algo.String(), Line: line, Err: err}
		}
		if len(hexDigest) != algo.Size()*2 || !isLowerHex(hexDigest) {
			return &ParseError{Field: algo.String(), Line: line, Err: errInvalidDigest}
		}

		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil || size < 0 {
			return &ParseError{Field: algo.String(), Line: line, Err: errInvalidSize}
		}

		info, seen := m.Files[relPath]
		if seen && info.Size != size {
			return &ParseError{Field: algo.String(), Line: line, Err: ErrSizeConflict}
		}
		info.Size = size
		info.Set(algo, hexDigest)
		m.Files[relPath] = info
	}
	return nil
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

func validateRelativePath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") {
		return errInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return errInvalidPath
		}
	}
	return nil
}
