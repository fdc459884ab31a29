package cmd

import (
	stderrors "errors"

	"github.com/debmirror/debmirror/stage"
)

// FatalError is panicked by Fatal and recovered in Run, carrying the
// process exit code a failure should produce.
type FatalError struct {
	Message    string
	ReturnCode int
}

// Exit codes distinguish the broad category of a fatal failure so a
// caller scripting around debmirror (a cron job deciding whether to
// retry, a monitoring check deciding whether to page) doesn't have to
// parse the error string. exitGeneric covers anything not raised as a
// *stage.Failure, e.g. a bad --config path or flag parse error.
const (
	exitGeneric    = 1
	exitConfig     = 2
	exitNetwork    = 3
	exitChecksum   = 4
	exitSignature  = 5
	exitParse      = 6
	exitFilesystem = 7
)

// Fatal aborts the running command with err's message and an exit code
// derived from err's classification. It panics rather than calling
// os.Exit so deferred cleanup (ShutdownContext, in particular flushing
// the progress writer) still runs.
func Fatal(err error) {
	panic(&FatalError{Message: err.Error(), ReturnCode: exitCodeFor(err)})
}

// exitCodeFor inspects err's chain for a *stage.Failure and maps its Kind
// to a distinct exit code. Errors that never pass through the stage
// pipeline (flag parsing, --config I/O) get the generic code.
func exitCodeFor(err error) int {
	var failure *stage.Failure
	if !stderrors.As(err, &failure) {
		return exitGeneric
	}
	switch failure.Kind {
	case stage.KindConfig:
		return exitConfig
	case stage.KindNetwork:
		return exitNetwork
	case stage.KindChecksum:
		return exitChecksum
	case stage.KindSignature:
		return exitSignature
	case stage.KindParse:
		return exitParse
	case stage.KindFilesystem:
		return exitFilesystem
	default:
		return exitGeneric
	}
}
