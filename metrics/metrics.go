// Package metrics accumulates the counters printed in one run's
// end-of-run summary. There is no HTTP server here: client_golang is
// used purely as an in-process counter set, gathered once when the run
// finishes rather than scraped, since this tool runs to completion and
// exits rather than serving traffic.
package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is the counter set for one invocation of mirror, prune or
// verify.
type Collector struct {
	registry *prometheus.Registry

	repositoriesMirrored prometheus.Counter
	repositoriesSkipped  prometheus.Counter
	repositoriesFailed   prometheus.Counter
	filesPromoted        prometheus.Counter
	filesRemoved         prometheus.Counter
	filesMismatched      prometheus.Counter
	filesMissing         prometheus.Counter
}

// New creates an empty Collector with every counter registered and
// starting at zero.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		repositoriesMirrored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debmirror_repositories_mirrored_total",
			Help: "Repositories mirrored successfully in this run.",
		}),
		repositoriesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debmirror_repositories_skipped_total",
			Help: "Repositories skipped because their Release was unchanged.",
		}),
		repositoriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debmirror_repositories_failed_total",
			Help: "Repositories that failed to mirror, prune or verify.",
		}),
		filesPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debmirror_files_promoted_total",
			Help: "Files promoted from staging into the live mirror tree.",
		}),
		filesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debmirror_files_removed_total",
			Help: "Files deleted by prune.",
		}),
		filesMismatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debmirror_files_mismatched_total",
			Help: "Files that failed verify's digest comparison.",
		}),
		filesMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "debmirror_files_missing_total",
			Help: "Registered files verify could not find on disk.",
		}),
	}
	reg.MustRegister(
		c.repositoriesMirrored, c.repositoriesSkipped, c.repositoriesFailed,
		c.filesPromoted, c.filesRemoved, c.filesMismatched, c.filesMissing,
	)
	return c
}

// RepositoryMirrored records one successfully mirrored repository and
// the number of files it promoted.
func (c *Collector) RepositoryMirrored(filesPromoted int) {
	c.repositoriesMirrored.Inc()
	c.filesPromoted.Add(float64(filesPromoted))
}

// RepositorySkipped records one repository the differ found unchanged.
func (c *Collector) RepositorySkipped() {
	c.repositoriesSkipped.Inc()
}

// RepositoryFailed records one repository that failed outright.
func (c *Collector) RepositoryFailed() {
	c.repositoriesFailed.Inc()
}

// FilesRemoved records n files deleted by prune.
func (c *Collector) FilesRemoved(n int) {
	c.filesRemoved.Add(float64(n))
}

// FilesMismatched records n files verify found with a wrong digest.
func (c *Collector) FilesMismatched(n int) {
	c.filesMismatched.Add(float64(n))
}

// FilesMissing records n registered files verify could not find.
func (c *Collector) FilesMissing(n int) {
	c.filesMissing.Add(float64(n))
}

// Summary gathers every registered counter and renders one line per
// non-zero counter. Gather sorts metric families alphabetically by
// name, so the order here is alphabetical, not registration order.
func (c *Collector) Summary() (string, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return "", err
	}

	var lines []string
	for _, f := range families {
		for _, m := range f.GetMetric() {
			v := m.GetCounter().GetValue()
			if v == 0 {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: %g", strings.TrimPrefix(f.GetName(), "debmirror_"), v))
		}
	}
	return strings.Join(lines, ", "), nil
}
