package fetch

import "github.com/pkg/errors"

// ErrChecksumMismatch is terminal: a task that fails with this error is
// never retried, even if retries remain.
var ErrChecksumMismatch = errors.New("fetch: checksum mismatch")

// ErrCancelled is returned for a task whose retry backoff is interrupted
// by the pool being cancelled.
var ErrCancelled = errors.New("fetch: pool cancelled")

// ErrNotFound is terminal like ErrChecksumMismatch: a 404 response never
// self-heals by retrying. The stage scheduler treats it as success for a
// Task whose Mandatory is false and as failure otherwise.
var ErrNotFound = errors.New("fetch: not found")
