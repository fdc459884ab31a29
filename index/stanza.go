package index

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedStanza mirrors release.ErrMalformedStanza for this package's
// own stanza reader (Packages/Sources stanzas have a different multiline
// field set than Release, so they get their own small reader rather than
// sharing release.StanzaReader).
var ErrMalformedStanza = errors.New("index: malformed stanza line")

type stanza map[string]string

// stanzaReader reads Packages/Sources control stanzas, where the
// multiline fields are "Description" plus whichever checksum-table field
// names are passed to newStanzaReader (Sources' Files/Checksums-Sha256/
// etc, vs. Packages which has none — MD5sum/SHA1/SHA256 are single-line
// there).
type stanzaReader struct {
	scanner    *bufio.Scanner
	multiline  map[string]bool
}

func newStanzaReader(r io.Reader, extraMultiline ...string) *stanzaReader {
	scanner := bufio.NewScanner(bufio.NewReaderSize(r, 32*1024))
	scanner.Buffer(nil, 4*1024*1024)

	multiline := map[string]bool{"Description": true}
	for _, f := range extraMultiline {
		multiline[f] = true
	}
	return &stanzaReader{scanner: scanner, multiline: multiline}
}

func (c *stanzaReader) readStanza() (stanza, error) {
	st := make(stanza, 32)
	lastField := ""
	lastFieldMultiline := false

	for c.scanner.Scan() {
		line := c.scanner.Text()

		if line == "" {
			if len(st) > 0 {
				return st, nil
			}
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			if lastFieldMultiline {
				st[lastField] += line + "\n"
			} else {
				st[lastField] += " " + strings.TrimSpace(line)
			}
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, ErrMalformedStanza
		}
		lastField = strings.TrimSpace(parts[0])
		lastFieldMultiline = c.multiline[lastField]
		if lastFieldMultiline {
			st[lastField] = ""
		} else {
			st[lastField] = strings.TrimSpace(parts[1])
		}
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	if len(st) > 0 {
		return st, nil
	}
	return nil, nil
}
