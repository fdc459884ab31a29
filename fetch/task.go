// Package fetch implements the bounded worker-pool downloader: a queue of
// Tasks, a fixed number of goroutines pulling from it, retry with
// exponential backoff for transient failures, and a hard stop (no retry)
// the moment a checksum fails to verify.
package fetch

import (
	"github.com/debmirror/debmirror/digest"
)

// Task describes one file to retrieve and where it ends up once fetched.
// Checksum.Size == 0 means the size is unknown ahead of time (debian-installer
// SHA256SUMS entries carry no size field); size is then not checked.
type Task struct {
	URL         string
	Destination string
	Checksum    digest.Info
	Algo        digest.Algorithm
	Mandatory   bool
}

// Result is what a worker produces for one Task once it settles, either
// successfully or terminally.
type Result struct {
	Task Task
	Info digest.Info
	Err  error
}
