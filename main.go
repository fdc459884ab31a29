package main

import (
	"os"

	"github.com/debmirror/debmirror/cmd"
)

// Version is filled in at link time, same as aptly's Version var.
var Version string

func main() {
	if Version == "" {
		Version = "unknown"
	}
	cmd.Version = Version

	os.Exit(cmd.Run(cmd.RootCommand(), os.Args[1:], true))
}
