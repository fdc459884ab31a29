package release

import (
	"bufio"
	"io"
	"strings"
)

// Stanza is one RFC2822-style paragraph of a Debian control file.
//
// Fields continued on indented lines are folded into the prior field, and
// a small set of "multiline" fields (the per-algorithm checksum tables
// this package cares about) accumulate their continuation lines verbatim
// instead of being space-joined.
type Stanza map[string]string

var multilineFields = map[string]bool{
	"MD5Sum": true,
	"SHA1":   true,
	"SHA256": true,
	"SHA512": true,
}

// StanzaReader reads one or more stanzas from a Release/InRelease file.
type StanzaReader struct {
	scanner *bufio.Scanner
}

// NewStanzaReader wraps r for stanza-by-stanza reading.
func NewStanzaReader(r io.Reader) *StanzaReader {
	scanner := bufio.NewScanner(bufio.NewReaderSize(r, 32*1024))
	scanner.Buffer(nil, 4*1024*1024)
	return &StanzaReader{scanner: scanner}
}

// ReadStanza reads the next stanza, returning (nil, nil) at clean EOF.
func (c *StanzaReader) ReadStanza() (Stanza, error) {
	stanza := make(Stanza, 32)
	lastField := ""
	lastFieldMultiline := false

	for c.scanner.Scan() {
		line := c.scanner.Text()

		if line == "" {
			if len(stanza) > 0 {
				return stanza, nil
			}
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			if lastFieldMultiline {
				stanza[lastField] += line + "\n"
			} else {
				stanza[lastField] += " " + strings.TrimSpace(line)
			}
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, ErrMalformedStanza
		}
		lastField = strings.TrimSpace(parts[0])
		lastFieldMultiline = multilineFields[lastField]
		if lastFieldMultiline {
			stanza[lastField] = ""
		} else {
			stanza[lastField] = strings.TrimSpace(parts[1])
		}
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	if len(stanza) > 0 {
		return stanza, nil
	}
	return nil, nil
}
