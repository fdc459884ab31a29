package cmd

import (
	"os"

	"github.com/pkg/errors"
	"github.com/smira/flag"

	"github.com/debmirror/debmirror/config"
)

// loadRepositories reads --config and resolves every line into a
// concrete config.Repository. Neither udeb nor pgp_verify has a
// CLI-level default distinct from the mirror.list line itself, so an
// absent option on a line resolves to "off".
func loadRepositories(flags *flag.FlagSet) ([]config.Repository, error) {
	path := lookupString(flags, "config")
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	entries, err := config.ParseList(f)
	if err != nil {
		return nil, err
	}

	repos := make([]config.Repository, len(entries))
	for i, e := range entries {
		repos[i] = e.Resolve(false, false)
	}
	return repos, nil
}

func outputRoot(flags *flag.FlagSet) (string, error) {
	root := lookupString(flags, "output")
	if root == "" {
		return "", errors.New("--output is required")
	}
	return root, nil
}
