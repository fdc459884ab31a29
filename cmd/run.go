package cmd

import (
	"fmt"
	"os"

	"github.com/smira/commander"
)

// Run dispatches one command starting from root cmd with cmdArgs,
// optionally standing up the shared Context first. It recovers a
// *FatalError panicked anywhere below it (flag parsing, InitContext, or
// the dispatched subcommand's own Run) and turns it into a process exit
// code instead of letting the panic reach main, so every exit path —
// including a --config typo or a mid-mirror signature failure — runs
// through the same ShutdownContext defer and reports the same way.
func Run(cmd *commander.Command, cmdArgs []string, initContext bool) (returnCode int) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		fatal, ok := r.(*FatalError)
		if !ok {
			panic(r)
		}
		fmt.Fprintln(os.Stderr, "debmirror:", fatal.Message)
		returnCode = fatal.ReturnCode
	}()

	flags, args, err := cmd.ParseFlags(cmdArgs)
	if err != nil {
		Fatal(err)
	}

	if initContext {
		if err := InitContext(flags); err != nil {
			Fatal(err)
		}
		defer ShutdownContext()
	}

	context.UpdateFlags(flags)

	if err := cmd.Dispatch(args); err != nil {
		Fatal(err)
	}

	return 0
}
