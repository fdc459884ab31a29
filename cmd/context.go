package cmd

import (
	"github.com/smira/flag"

	"github.com/debmirror/debmirror/console"
	"github.com/debmirror/debmirror/logging"
	"github.com/debmirror/debmirror/metrics"
	"github.com/debmirror/debmirror/pgpverify"
)

// Context holds everything shared by every subcommand's Run function:
// the merged flag set for the dispatched command path, the single
// progress sink every mirror/prune/verify invocation writes status
// through, the base trusted-key set loaded from --pgp-key-path, if any,
// and the counter set that backs the end-of-run summary.
type Context struct {
	flags    *flag.FlagSet
	progress console.Progress
	verifier *pgpverify.Verifier
	metrics  *metrics.Collector
}

var context *Context

// Flags returns the flag set merged across the whole dispatched command
// path.
func (c *Context) Flags() *flag.FlagSet {
	return c.flags
}

// UpdateFlags replaces the flag set Context.Flags returns. Run calls this
// once ParseFlags has resolved the full command path.
func (c *Context) UpdateFlags(flags *flag.FlagSet) {
	c.flags = flags
}

// Progress returns the shared progress sink.
func (c *Context) Progress() console.Progress {
	return c.progress
}

// Verifier returns the base trusted-key set loaded from --pgp-key-path,
// or nil if that flag was never set. Subcommands extend it per
// repository via repoVerifier inside the stage package.
func (c *Context) Verifier() *pgpverify.Verifier {
	return c.verifier
}

// Metrics returns this invocation's counter set.
func (c *Context) Metrics() *metrics.Collector {
	return c.metrics
}

// InitContext builds the package-level Context from flags: starts the
// progress worker, the structured logger and the metrics collector, and
// loads --pgp-key-path, if set.
func InitContext(flags *flag.FlagSet) error {
	progress := console.New()
	progress.Start()

	logging.Setup(lookupString(flags, "log-level"))

	context = &Context{flags: flags, progress: progress, metrics: metrics.New()}

	keyPath := lookupString(flags, "pgp-key-path")
	if keyPath != "" {
		verifier, err := pgpverify.LoadKeyDir(keyPath)
		if err != nil {
			return err
		}
		context.verifier = verifier
		logging.Logger.Debug().Str("path", keyPath).Msg("loaded trusted key directory")
	}

	return nil
}

// ShutdownContext flushes and stops the progress worker, logging the
// run's counter summary first. Always called via defer from Run once
// InitContext succeeded.
func ShutdownContext() {
	if context == nil {
		return
	}
	if context.metrics != nil {
		if summary, err := context.metrics.Summary(); err == nil && summary != "" {
			logging.Logger.Info().Msg(summary)
		}
	}
	if context.progress != nil {
		context.progress.Shutdown()
	}
}

func lookupString(flags *flag.FlagSet, name string) string {
	f := flags.Lookup(name)
	if f == nil {
		return ""
	}
	return f.Value.Get().(string)
}

func lookupInt(flags *flag.FlagSet, name string) int {
	f := flags.Lookup(name)
	if f == nil {
		return 0
	}
	return f.Value.Get().(int)
}

func lookupBool(flags *flag.FlagSet, name string) bool {
	f := flags.Lookup(name)
	if f == nil {
		return false
	}
	return f.Value.Get().(bool)
}
