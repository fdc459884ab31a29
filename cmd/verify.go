package cmd

import (
	stdcontext "context"
	"fmt"

	"github.com/smira/commander"
	"github.com/smira/flag"

	"github.com/debmirror/debmirror/audit"
	"github.com/debmirror/debmirror/stage"
)

func makeCmdVerify() *commander.Command {
	cmd := &commander.Command{
		Run:       runVerify,
		UsageLine: "verify",
		Short:     "rehash every registered file under --output",
		Long: `
Recomputes every repository's expected file set from its current
upstream Release and indices, without downloading any content, then
rehashes every file still present under --output and compares against
the recorded digest. Missing files, size mismatches and digest
mismatches are each reported distinctly; files on disk that no
repository references are not reported here (that is prune's job).

Example:

  $ debmirror verify -c /etc/apt/mirror.list -o /srv/mirror
`,
		Flag: *flag.NewFlagSet("debmirror-verify", flag.ExitOnError),
	}

	var threads int
	cmd.Flag.IntVar(&threads, "dl-threads", 8, "download pool size used while recomputing the registry")
	cmd.Flag.IntVar(&threads, "d", 8, "short for --dl-threads")

	return cmd
}

func runVerify(cmd *commander.Command, args []string) error {
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
		Threads:  lookupInt(f, "dl-threads"),
		Verifier: context.Verifier(),
		Progress: context.Progress(),
	})

	ctx := stdcontext.Background()
	for _, repo := range repos {
		if err := sched.RecomputeRegistry(ctx, repo); err != nil {
			return fmt.Errorf("verify: refusing to verify, could not recompute %s %s: %w", repo.ArchiveRoot, repo.Suite, err)
		}
	}

	result, err := audit.Verify(root, sched.Registry, 0, context.Progress())
	if err != nil {
		return err
	}
	context.Metrics().FilesMissing(len(result.Missing))
	context.Metrics().FilesMismatched(len(result.Mismatch))

	context.Progress().Printf("verify: %d ok, %d missing, %d mismatched\n", len(result.OK), len(result.Missing), len(result.Mismatch))

	if len(result.Missing) > 0 || len(result.Mismatch) > 0 {
		return fmt.Errorf("verify: %d missing, %d mismatched", len(result.Missing), len(result.Mismatch))
	}
	return nil
}
