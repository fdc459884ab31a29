package stage

import "github.com/pkg/errors"

// Failure classifies one repository-level error by kind, so callers (the
// CLI's exit-status logic, tests) can distinguish "no signature" from
// "checksum mismatch" from "malformed Release" without string-matching.
type Failure struct {
	Kind string
	Path string
	Err  error
}

const (
	KindConfig     = "config"
	KindNetwork    = "network"
	KindChecksum   = "checksum"
	KindSignature  = "signature"
	KindParse      = "parse"
	KindFilesystem = "filesystem"
)

func (f *Failure) Error() string {
	return "stage: " + f.Kind + " failure for " + f.Path + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(kind, path string, err error) error {
	return &Failure{Kind: kind, Path: path, Err: err}
}

// ErrNoSignatureMaterial is the Signature-kind cause when pgp_verify is
// required but neither InRelease nor Release.gpg could be fetched.
var ErrNoSignatureMaterial = errors.New("stage: pgp_verify required but no signature material is available")
