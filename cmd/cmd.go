// Package cmd implements the command-line surface: mirror, prune and
// verify, dispatched through a commander.Command tree with a
// FatalError-recovering Run loop.
package cmd

import (
	"os"

	"github.com/smira/commander"
	"github.com/smira/flag"
)

// Version is filled in at link time by main, same as aptly.Version.
var Version = "unknown"

// RootCommand creates the root of the command tree: global flags shared
// by every subcommand (--config, --output, --pgp-key-path), plus mirror,
// prune, verify and version.
func RootCommand() *commander.Command {
	cmd := &commander.Command{
		UsageLine: os.Args[0],
		Short:     "Debian archive mirroring tool",
		Long: `
debmirror fetches and verifies partial or full mirrors of remote Debian
and APT-compatible archives: it downloads Release/InRelease, every
selected Packages/Sources/SHA256SUMS index, and every file those indices
reference, verifying checksums and (optionally) OpenPGP signatures along
the way, then promotes everything atomically into a mirror root laid out
byte-identically to upstream.

It can also prune files a mirror root no longer needs and verify the
integrity of what is already on disk, both without touching the network
except to recompute the expected file set from the current upstream
Release and indices.`,
		Flag: *flag.NewFlagSet("debmirror", flag.ExitOnError),
		Subcommands: []*commander.Command{
			makeCmdMirror(),
			makeCmdPrune(),
			makeCmdVerify(),
			makeCmdVersion(),
		},
	}

	var config string
	cmd.Flag.StringVar(&config, "config", "/etc/apt/mirror.list", "path to repository list file")
	cmd.Flag.StringVar(&config, "c", "/etc/apt/mirror.list", "short for --config")

	var output string
	cmd.Flag.StringVar(&output, "output", "", "mirror root directory")
	cmd.Flag.StringVar(&output, "o", "", "short for --output")

	var pgpKeyPath string
	cmd.Flag.StringVar(&pgpKeyPath, "pgp-key-path", "", "directory of trusted OpenPGP public keys")
	cmd.Flag.StringVar(&pgpKeyPath, "p", "", "short for --pgp-key-path")

	var logLevel string
	cmd.Flag.StringVar(&logLevel, "log-level", "info", "structured logger verbosity: debug, info, warn or error")

	return cmd
}
