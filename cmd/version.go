package cmd

import (
	"fmt"

	"github.com/smira/commander"
	"github.com/smira/flag"
)

func runVersion(cmd *commander.Command, args []string) error {
	fmt.Printf("debmirror version: %s\n", Version)
	return nil
}

func makeCmdVersion() *commander.Command {
	return &commander.Command{
		Run:       runVersion,
		UsageLine: "version",
		Short:     "display version",
		Long: `
Shows debmirror's version.

Example:

  $ debmirror version
`,
		Flag: *flag.NewFlagSet("debmirror-version", flag.ExitOnError),
	}
}
