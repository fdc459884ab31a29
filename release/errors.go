package release

import "github.com/pkg/errors"

// ErrMalformedStanza is returned by StanzaReader when a non-blank,
// non-continuation line has no ":" field separator.
var ErrMalformedStanza = errors.New("release: malformed stanza line")

// ErrNoSignature is returned by Parse when its input holds no stanza at
// all, as happens with an empty Release or an InRelease whose signed body
// is empty.
var ErrNoSignature = errors.New("release: signature required but not present")

// ErrSizeConflict is returned when the same path appears under two digest
// algorithms in a Release file's file table with disagreeing sizes. Apt's
// own tooling never produces this; this implementation treats it as a
// parse error rather than silently picking one side.
var ErrSizeConflict = errors.New("release: path listed with conflicting sizes across digest algorithms")

// ParseError wraps a lower-level error with the field and line that
// triggered it, so callers can report the location of a malformed Release.
type ParseError struct {
	Field string
	Line  string
	Err   error
}

func (e *ParseError) Error() string {
	return "release: field " + e.Field + " line " + e.Line + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errInvalidDigest = errors.New("release: digest has wrong length or is not lowercase hex")
	errInvalidSize   = errors.New("release: size is not a non-negative decimal integer")
	errInvalidPath   = errors.New("release: path is absolute or contains \"..\" components")
)
