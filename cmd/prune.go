package cmd

import (
	stdcontext "context"
	"fmt"

	"github.com/smira/commander"
	"github.com/smira/flag"

	"github.com/debmirror/debmirror/audit"
	"github.com/debmirror/debmirror/stage"
)

func makeCmdPrune() *commander.Command {
	cmd := &commander.Command{
		Run:       runPrune,
		UsageLine: "prune",
		Short:     "remove files under --output no repository's index references",
		Long: `
Recomputes every repository's expected file set from its current
upstream Release and indices, without downloading any content, then
walks --output and deletes whatever it finds that no repository
references. If recomputing even one repository's expected file set
fails (network, signature, parse), prune aborts entirely rather than
delete against partial knowledge.

Example:

  $ debmirror prune -c /etc/apt/mirror.list -o /srv/mirror --dry-run
`,
		Flag: *flag.NewFlagSet("debmirror-prune", flag.ExitOnError),
	}

	var dryRun bool
	cmd.Flag.BoolVar(&dryRun, "dry-run", false, "list what would be removed, without removing it")
	cmd.Flag.BoolVar(&dryRun, "d", false, "short for --dry-run")

	return cmd
}

func runPrune(cmd *commander.Command, args []string) error {
	f := context.Flags()

	repos, err := loadRepositories(f)
	if err != nil {
		return err
	}

	root, err := outputRoot(f)
	if err != nil {
		return err
	}

	sched := stage.New(root, stage.Options{
		Verifier: context.Verifier(),
		Progress: context.Progress(),
	})

	ctx := stdcontext.Background()
	for _, repo := range repos {
		if err := sched.RecomputeRegistry(ctx, repo); err != nil {
			return fmt.Errorf("prune: refusing to prune, could not recompute %s %s: %w", repo.ArchiveRoot, repo.Suite, err)
		}
	}

	result, err := audit.Prune(root, sched.Registry, lookupBool(f, "dry-run"), context.Progress())
	if err != nil {
		return err
	}
	context.Metrics().FilesRemoved(len(result.Removed))

	if len(result.Failed) > 0 {
		return fmt.Errorf("prune: %d file(s) could not be removed", len(result.Failed))
	}

	context.Progress().Printf("prune: %d removed, %d kept\n", len(result.Removed), len(result.Kept))
	return nil
}
