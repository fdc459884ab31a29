package stage

import (
	"path"

	"github.com/debmirror/debmirror/config"
	"github.com/debmirror/debmirror/decomp"
	"github.com/debmirror/debmirror/digest"
	"github.com/debmirror/debmirror/release"
)

type indexKind int

const (
	indexPackages indexKind = iota
	indexUdebPackages
	indexSources
	indexInstallerSums
)

// indexJob is one logical index file this repository's filter selects,
// before a concrete compressed variant has been resolved against the
// Release file table.
type indexJob struct {
	kind        indexKind
	component   string
	arch        string // "" for indexSources
	logicalPath string // relative to dists/<suite>, no compression suffix
	// mandatory is false only for installer variants, whose availability
	// varies release to release by convention; everything else selected
	// by the descriptor's own filter must be present.
	mandatory bool
}

// planIndexJobs enumerates every logical index file repo's filter
// selects against manifest's suite fields. An empty
// Components/Architectures list in repo falls back to every
// component/architecture the Release itself advertises.
func planIndexJobs(repo config.Repository, manifest *release.Manifest) []indexJob {
	components := repo.Components
	if len(components) == 0 {
		components = manifest.Components
	}
	architectures := repo.Architectures
	if len(architectures) == 0 {
		architectures = manifest.Architectures
	}

	var jobs []indexJob
	for _, component := range components {
		// Sources are mirrored unconditionally per selected component:
		// the repository descriptor carries no separate "fetch sources"
		// flag, so presence of the component is itself the selection.
		jobs = append(jobs, indexJob{
			kind:        indexSources,
			component:   component,
			logicalPath: path.Join(component, "source", "Sources"),
			mandatory:   true,
		})

		for _, arch := range architectures {
			jobs = append(jobs, indexJob{
				kind:        indexPackages,
				component:   component,
				arch:        arch,
				logicalPath: path.Join(component, "binary-"+arch, "Packages"),
				mandatory:   true,
			})

			if repo.WantUdeb {
				jobs = append(jobs, indexJob{
					kind:        indexUdebPackages,
					component:   component,
					arch:        arch,
					logicalPath: path.Join(component, "debian-installer", "binary-"+arch, "Packages"),
					mandatory:   true,
				})
			}
		}
	}

	// Installer images live under "main" regardless of which components
	// were selected.
	for _, arch := range repo.InstallerArchitectures {
		jobs = append(jobs, indexJob{
			kind:        indexInstallerSums,
			component:   "main",
			arch:        arch,
			logicalPath: path.Join("main", "installer-"+arch, "current", "images", "SHA256SUMS"),
			mandatory:   false,
		})
	}

	return jobs
}

// resolvedIndex is an indexJob matched against an actual Release file
// table entry: the concrete (possibly compressed) path plus its digest.
type resolvedIndex struct {
	indexJob
	releasePath string
	checksum    digest.Info
	algo        digest.Algorithm
}

// resolveIndexJobs matches each job against manifest.Files, preferring
// the most compressed variant available for every kind except
// indexInstallerSums (SHA256SUMS is never published compressed). A job
// with no matching entry at all is dropped silently: the Release simply
// doesn't carry that component/arch/variant combination, which is normal
// for sparse architectures.
func resolveIndexJobs(manifest *release.Manifest, jobs []indexJob) []resolvedIndex {
	var resolved []resolvedIndex
	for _, j := range jobs {
		if j.kind == indexInstallerSums {
			if info, ok := manifest.Files[j.logicalPath]; ok {
				algo, _, _ := info.Strongest()
				resolved = append(resolved, resolvedIndex{indexJob: j, releasePath: j.logicalPath, checksum: info, algo: algo})
			}
			continue
		}

		for _, method := range decomp.PreferenceOrder {
			candidate := j.logicalPath + method.Extension()
			info, ok := manifest.Files[candidate]
			if !ok {
				continue
			}
			algo, _, _ := info.Strongest()
			resolved = append(resolved, resolvedIndex{indexJob: j, releasePath: candidate, checksum: info, algo: algo})
			break
		}
	}
	return resolved
}
