package cmd

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"

	"github.com/smira/commander"
	"github.com/smira/flag"

	"github.com/debmirror/debmirror/stage"
)

func makeCmdMirror() *commander.Command {
	cmd := &commander.Command{
		Run:       runMirror,
		UsageLine: "mirror",
		Short:     "mirror every repository in the config file",
		Long: `
Fetches and verifies Release/InRelease, every selected index, and every
file those indices reference for each repository in --config, promoting
them atomically into --output. A repository whose Release is unchanged
since the last run is skipped unless --force is given.

Example:

  $ debmirror mirror -c /etc/apt/mirror.list -o /srv/mirror
`,
		Flag: *flag.NewFlagSet("debmirror-mirror", flag.ExitOnError),
	}

	var threads int
	cmd.Flag.IntVar(&threads, "dl-threads", 8, "download pool size")
	cmd.Flag.IntVar(&threads, "d", 8, "short for --dl-threads")

	var force bool
	cmd.Flag.BoolVar(&force, "force", false, "treat all metadata as stale")
	cmd.Flag.BoolVar(&force, "f", false, "short for --force")

	var mtime bool
	cmd.Flag.BoolVar(&mtime, "mtime", false, "after promotion, set each file's mtime to the Release's Date field")
	cmd.Flag.BoolVar(&mtime, "m", false, "short for --mtime")

	return cmd
}

func runMirror(cmd *commander.Command, args []string) error {
	f := context.Flags()

	repos, err := loadRepositories(f)
	if err != nil {
		return err
	}

	root, err := outputRoot(f)
	if err != nil {
		return err
	}

	opts := stage.Options{
		Threads:  lookupInt(f, "dl-threads"),
		Force:    lookupBool(f, "force"),
		SetMtime: lookupBool(f, "mtime"),
		Verifier: context.Verifier(),
		Progress: context.Progress(),
	}

	sched := stage.New(root, opts)

	ctx, cancel := signalContext()
	defer cancel()

	var firstFailure error
	var failedCount int
	for _, repo := range repos {
		result, err := sched.Run(ctx, repo)
		if err != nil {
			context.Progress().PrintfStdErr("mirror %s %s: %s\n", repo.ArchiveRoot, repo.Suite, err)
			context.Metrics().RepositoryFailed()
			failedCount++
			if firstFailure == nil {
				firstFailure = err
			}
			continue
		}
		if result.Skipped {
			context.Progress().Printf("%s %s: unchanged, skipped\n", repo.ArchiveRoot, repo.Suite)
			context.Metrics().RepositorySkipped()
			continue
		}
		context.Progress().Printf("%s %s: mirrored, %d files promoted\n", repo.ArchiveRoot, repo.Suite, len(result.Promoted))
		context.Metrics().RepositoryMirrored(len(result.Promoted))
	}

	// The exit code reflects the first repository's failure kind; later
	// failures of a different kind are still logged above but don't
	// change the process's exit status. Repositories keep mirroring past
	// a single failure rather than aborting the whole run.
	if firstFailure != nil {
		return fmt.Errorf("mirror: %d of %d repositories failed, first failure: %w", failedCount, len(repos), firstFailure)
	}
	return nil
}

// signalContext returns a context cancelled on SIGINT, so an interrupted
// run cancels every in-flight fetch and bails out of the repository loop
// instead of leaving downloads running past the point the user asked to
// stop.
func signalContext() (stdcontext.Context, func()) {
	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt)
	go func() {
		select {
		case <-sigch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigch)
	}()
	return ctx, cancel
}
