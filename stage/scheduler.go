// Package stage implements the ordered multi-stage pipeline that turns
// one repository descriptor into a fully mirrored, verified, promoted
// on-disk tree: fetch and verify the Release, diff against what's
// already there, fetch every selected index file, parse those indices
// and fetch every file they reference, then promote everything staged
// in one atomic pass. A Scheduler owns a fetch.Pool and a mirrorfs.Root
// per repository it processes.
package stage

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"path"
	"sort"

	"github.com/pkg/errors"

	"github.com/debmirror/debmirror/config"
	"github.com/debmirror/debmirror/console"
	"github.com/debmirror/debmirror/decomp"
	"github.com/debmirror/debmirror/digest"
	"github.com/debmirror/debmirror/fetch"
	"github.com/debmirror/debmirror/index"
	"github.com/debmirror/debmirror/mirrorfs"
	"github.com/debmirror/debmirror/pgpverify"
	"github.com/debmirror/debmirror/registry"
	"github.com/debmirror/debmirror/release"
)

// Options configures every repository a Scheduler processes.
type Options struct {
	Threads     int
	MaxTries    int
	BytesPerSec int64
	Force       bool
	SetMtime    bool
	// Verifier is the base trusted-key set loaded from --pgp-key-path.
	// nil means no directory was configured; a repository whose own
	// pgp_pub_key is set still gets a verifier built just from that key.
	Verifier *pgpverify.Verifier
	Progress console.Progress
}

// Result is the outcome of mirroring one repository.
type Result struct {
	Repository config.Repository
	// Skipped is true when the differ found the Release unchanged and
	// the run short-circuited before any index or content fetch.
	Skipped bool
	// Promoted lists every mirror-root-relative path moved into the live
	// tree.
	Promoted []string
}

// Scheduler mirrors repositories one at a time against a shared mirror
// root; repositories are processed sequentially within a run, never
// concurrently with each other.
type Scheduler struct {
	RootDir string
	Opts    Options
	// Registry accumulates every path a valid mirror must contain,
	// across every repository Run processes in this invocation; prune
	// and verify are driven from it once all repositories are done.
	Registry *registry.Registry
}

// New creates a Scheduler that mirrors into rootDir.
func New(rootDir string, opts Options) *Scheduler {
	if opts.Threads < 1 {
		opts.Threads = 8
	}
	if opts.MaxTries < 1 {
		opts.MaxTries = 3
	}
	return &Scheduler{RootDir: rootDir, Opts: opts, Registry: registry.New()}
}

// Run mirrors one repository end to end: fetch Release, diff, fetch
// indices, fetch content, promote.
func (s *Scheduler) Run(ctx context.Context, repo config.Repository) (*Result, error) {
	prefix, err := repoPrefix(repo.ArchiveRoot)
	if err != nil {
		return nil, fail(KindConfig, repo.ArchiveRoot, err)
	}

	if err := mirrorfs.PurgeStaging(s.RootDir); err != nil {
		return nil, fail(KindFilesystem, s.RootDir, err)
	}
	root, err := mirrorfs.New(s.RootDir)
	if err != nil {
		return nil, fail(KindFilesystem, s.RootDir, err)
	}

	verifier, err := repoVerifier(s.Opts.Verifier, repo)
	if err != nil {
		return nil, fail(KindConfig, repo.ArchiveRoot, err)
	}

	pool := fetch.NewPool(ctx, s.Opts.Threads, s.Opts.MaxTries, s.Opts.BytesPerSec, s.Opts.Progress)

	r := &run{
		repo:     repo,
		prefix:   prefix,
		root:     root,
		pool:     pool,
		verifier: verifier,
		registry: s.Registry,
		opts:     s.Opts,
	}

	result, err := r.execute(ctx)
	pool.Cancel()
	if err != nil {
		root.Discard()
		return nil, err
	}
	return result, nil
}

// RecomputeRegistry fetches and parses one repository's Release and index
// files without downloading a single content file, populating s.Registry
// with every path a valid mirror for this repository must contain. prune
// and verify call this instead of Run, since a persisted registry from a
// prior mirror invocation is never trusted: a repository whose upstream
// is unreachable must fail conservatively rather than prune or verify
// against partial or stale knowledge.
func (s *Scheduler) RecomputeRegistry(ctx context.Context, repo config.Repository) error {
	prefix, err := repoPrefix(repo.ArchiveRoot)
	if err != nil {
		return fail(KindConfig, repo.ArchiveRoot, err)
	}

	if err := mirrorfs.PurgeStaging(s.RootDir); err != nil {
		return fail(KindFilesystem, s.RootDir, err)
	}
	root, err := mirrorfs.New(s.RootDir)
	if err != nil {
		return fail(KindFilesystem, s.RootDir, err)
	}
	defer root.Discard()

	verifier, err := repoVerifier(s.Opts.Verifier, repo)
	if err != nil {
		return fail(KindConfig, repo.ArchiveRoot, err)
	}

	pool := fetch.NewPool(ctx, s.Opts.Threads, s.Opts.MaxTries, s.Opts.BytesPerSec, s.Opts.Progress)
	defer pool.Cancel()

	r := &run{
		repo:     repo,
		prefix:   prefix,
		root:     root,
		pool:     pool,
		verifier: verifier,
		registry: s.Registry,
		opts:     s.Opts,
	}

	manifest, metaRelPaths, err := r.fetchRelease(ctx)
	if err != nil {
		return err
	}
	r.manifest = manifest
	for _, p := range metaRelPaths {
		r.registry.Insert(registry.Entry{Path: p, Mandatory: true})
	}

	resolved := resolveIndexJobs(manifest, planIndexJobs(r.repo, manifest))

	if _, err := r.fetchIndices(resolved); err != nil {
		return err
	}

	if _, err := r.collectContent(resolved); err != nil {
		return err
	}

	return nil
}

// run holds the per-repository state threaded through every stage.
type run struct {
	repo     config.Repository
	prefix   string
	root     *mirrorfs.Root
	pool     *fetch.Pool
	verifier *pgpverify.Verifier
	registry *registry.Registry
	opts     Options

	manifest *release.Manifest
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	manifest, metaRelPaths, err := r.fetchRelease(ctx)
	if err != nil {
		return nil, err
	}
	r.manifest = manifest

	prior := r.loadPriorManifest()
	if !release.Changed(prior, manifest, r.opts.Force) {
		r.root.Discard()
		return &Result{Repository: r.repo, Skipped: true}, nil
	}

	resolved := resolveIndexJobs(manifest, planIndexJobs(r.repo, manifest))

	indexRelPaths, err := r.fetchIndices(resolved)
	if err != nil {
		return nil, err
	}

	contentRelPaths, err := r.fetchContent(resolved)
	if err != nil {
		return nil, err
	}

	var promoted []string
	promoted = append(promoted, contentRelPaths...)
	promoted = append(promoted, indexRelPaths...)
	promoted = append(promoted, metaRelPaths...)

	if err := r.root.Promote(promoted); err != nil {
		return nil, fail(KindFilesystem, r.prefix, err)
	}

	if r.opts.SetMtime && !manifest.Date.IsZero() {
		for _, rel := range promoted {
			os.Chtimes(r.root.LivePath(rel), manifest.Date, manifest.Date)
		}
	}

	// Promote renamed every file out of staging; what's left of this run's
	// own staging subtree is an empty directory skeleton. Discard it now
	// instead of leaving it for the next run's PurgeStaging to find.
	r.root.Discard()

	sort.Strings(promoted)
	return &Result{Repository: r.repo, Promoted: promoted}, nil
}

// fetchRelease fetches InRelease, falling back to Release+Release.gpg,
// verifying the signature if required, and returns the parsed manifest
// plus the metadata-tree relative paths now sitting in staging ready for
// promotion.
func (r *run) fetchRelease(ctx context.Context) (*release.Manifest, []string, error) {
	suite := r.repo.Suite

	inReleaseRel := path.Join("dists", suite, "InRelease")
	inReleaseMirrorRel := path.Join(r.prefix, inReleaseRel)

	res := fetchOne(ctx, fetch.Task{
		URL:         joinURL(r.repo.ArchiveRoot, inReleaseRel),
		Destination: r.root.StagingPath(inReleaseMirrorRel),
	}, r.opts.MaxTries, r.opts.BytesPerSec, r.opts.Progress)

	if res.Err == nil {
		raw, err := os.ReadFile(r.root.StagingPath(inReleaseMirrorRel))
		if err != nil {
			return nil, nil, fail(KindFilesystem, inReleaseMirrorRel, err)
		}

		var plaintext []byte
		if r.repo.PGPVerify {
			if r.verifier == nil {
				return nil, nil, fail(KindSignature, inReleaseMirrorRel, pgpverify.ErrNoTrustedKeys)
			}
			pt, _, err := r.verifier.VerifyClearsigned(bytes.NewReader(raw))
			if err != nil {
				return nil, nil, fail(KindSignature, inReleaseMirrorRel, err)
			}
			plaintext = pt
		} else if pt, err := pgpverify.ExtractClearsigned(bytes.NewReader(raw)); err == nil {
			plaintext = pt
		} else {
			plaintext = raw
		}

		manifest, err := release.Parse(bytes.NewReader(plaintext))
		if err != nil {
			return nil, nil, fail(KindParse, inReleaseMirrorRel, err)
		}
		return manifest, []string{inReleaseMirrorRel}, nil
	}

	if !stderrors.Is(res.Err, fetch.ErrNotFound) {
		return nil, nil, fail(KindNetwork, inReleaseRel, res.Err)
	}

	releaseRel := path.Join("dists", suite, "Release")
	releaseMirrorRel := path.Join(r.prefix, releaseRel)

	relRes := fetchOne(ctx, fetch.Task{
		URL:         joinURL(r.repo.ArchiveRoot, releaseRel),
		Destination: r.root.StagingPath(releaseMirrorRel),
	}, r.opts.MaxTries, r.opts.BytesPerSec, r.opts.Progress)
	if relRes.Err != nil {
		return nil, nil, fail(KindNetwork, releaseRel, relRes.Err)
	}

	raw, err := os.ReadFile(r.root.StagingPath(releaseMirrorRel))
	if err != nil {
		return nil, nil, fail(KindFilesystem, releaseMirrorRel, err)
	}

	metaRelPaths := []string{releaseMirrorRel}

	if r.repo.PGPVerify {
		if r.verifier == nil {
			return nil, nil, fail(KindSignature, releaseMirrorRel, pgpverify.ErrNoTrustedKeys)
		}

		gpgRel := path.Join("dists", suite, "Release.gpg")
		gpgMirrorRel := path.Join(r.prefix, gpgRel)

		gpgRes := fetchOne(ctx, fetch.Task{
			URL:         joinURL(r.repo.ArchiveRoot, gpgRel),
			Destination: r.root.StagingPath(gpgMirrorRel),
		}, r.opts.MaxTries, r.opts.BytesPerSec, r.opts.Progress)
		if gpgRes.Err != nil {
			return nil, nil, fail(KindSignature, gpgMirrorRel, ErrNoSignatureMaterial)
		}

		sigRaw, err := os.ReadFile(r.root.StagingPath(gpgMirrorRel))
		if err != nil {
			return nil, nil, fail(KindFilesystem, gpgMirrorRel, err)
		}
		if _, err := r.verifier.VerifyDetached(bytes.NewReader(raw), bytes.NewReader(sigRaw)); err != nil {
			return nil, nil, fail(KindSignature, releaseMirrorRel, err)
		}
		metaRelPaths = append(metaRelPaths, gpgMirrorRel)
	}

	manifest, err := release.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fail(KindParse, releaseMirrorRel, err)
	}
	return manifest, metaRelPaths, nil
}

// loadPriorManifest reads whatever Release/InRelease is already promoted
// at this repository's live path, for the differ. Any failure reading or
// parsing it is treated as "no prior", which is the conservative choice:
// it forces a full re-fetch rather than silently trusting a corrupt
// on-disk manifest.
func (r *run) loadPriorManifest() *release.Manifest {
	suite := r.repo.Suite

	inReleaseLive := r.root.LivePath(path.Join(r.prefix, "dists", suite, "InRelease"))
	if raw, err := os.ReadFile(inReleaseLive); err == nil {
		plaintext, err := pgpverify.ExtractClearsigned(bytes.NewReader(raw))
		if err != nil {
			plaintext = raw
		}
		if m, err := release.Parse(bytes.NewReader(plaintext)); err == nil {
			return m
		}
	}

	releaseLive := r.root.LivePath(path.Join(r.prefix, "dists", suite, "Release"))
	if raw, err := os.ReadFile(releaseLive); err == nil {
		if m, err := release.Parse(bytes.NewReader(raw)); err == nil {
			return m
		}
	}

	return nil
}

// submittedIndex tracks one stage-(c) task from submission through to its
// matching result, since results may settle in any order.
type submittedIndex struct {
	resolvedIndex
	mirrorRel string
	dest      string
}

// fetchIndices fetches every resolved index file concurrently and waits
// for all of them before returning, so that no content-fetch task is ever
// enqueued ahead of an index verification.
func (r *run) fetchIndices(resolved []resolvedIndex) ([]string, error) {
	byDest := make(map[string]submittedIndex, len(resolved))

	for _, ri := range resolved {
		archiveRel := path.Join("dists", r.repo.Suite, ri.releasePath)
		mirrorRel := path.Join(r.prefix, archiveRel)
		dest := r.root.StagingPath(mirrorRel)

		r.pool.Submit(fetch.Task{
			URL:         joinURL(r.repo.ArchiveRoot, archiveRel),
			Destination: dest,
			Checksum:    ri.checksum,
			Algo:        ri.algo,
			Mandatory:   ri.mandatory,
		})
		byDest[dest] = submittedIndex{resolvedIndex: ri, mirrorRel: mirrorRel, dest: dest}
	}

	var ok []string
	for i := 0; i < len(byDest); i++ {
		res := <-r.pool.Results()
		sub, known := byDest[res.Task.Destination]
		if !known {
			continue
		}
		if res.Err != nil {
			if sub.mandatory {
				return nil, fail(classifyFetchError(res.Err), sub.mirrorRel, res.Err)
			}
			continue
		}
		r.registry.Insert(registry.Entry{Path: sub.mirrorRel, Checksum: sub.checksum, Algo: sub.algo, Mandatory: sub.mandatory})
		ok = append(ok, sub.mirrorRel)
	}
	return ok, nil
}

func classifyFetchError(err error) string {
	if stderrors.Is(err, fetch.ErrChecksumMismatch) {
		return KindChecksum
	}
	return KindNetwork
}

// pendingContent tracks one stage-(d) task the same way submittedIndex
// tracks stage-(c).
type pendingContent struct {
	mirrorRel  string
	mandatory  bool
	archiveRel string
	checksum   digest.Info
	algo       digest.Algorithm
}

// collectContent parses every successfully fetched index and registers
// every file it references, deduplicated across components/
// architectures. It does not submit anything to the pool: RecomputeRegistry
// uses it on its own to rebuild the registry without downloading content,
// and fetchContent layers the actual downloads on top of its result.
func (r *run) collectContent(resolved []resolvedIndex) (map[string]pendingContent, error) {
	seen := make(map[string]bool)
	byDest := make(map[string]pendingContent)

	for _, ri := range resolved {
		archiveRel := path.Join("dists", r.repo.Suite, ri.releasePath)
		mirrorRel := path.Join(r.prefix, archiveRel)
		stagedPath := r.root.StagingPath(mirrorRel)

		if _, err := os.Stat(stagedPath); err != nil {
			continue // this index's own fetch failed and was optional
		}

		descs, err := parseIndex(stagedPath, ri.kind, path.Dir(ri.releasePath))
		if err != nil {
			return nil, fail(KindParse, mirrorRel, err)
		}

		for _, fd := range descs {
			var contentArchiveRel string
			if ri.kind == indexInstallerSums {
				contentArchiveRel = path.Join("dists", r.repo.Suite, fd.Path)
			} else {
				contentArchiveRel = fd.Path
			}
			contentMirrorRel := path.Join(r.prefix, contentArchiveRel)

			r.registry.Insert(registry.Entry{Path: contentMirrorRel, Checksum: fd.Checksum, Algo: fd.Algo, Mandatory: ri.mandatory})

			if seen[contentMirrorRel] {
				continue
			}
			seen[contentMirrorRel] = true

			dest := r.root.StagingPath(contentMirrorRel)
			byDest[dest] = pendingContent{
				mirrorRel:  contentMirrorRel,
				mandatory:  ri.mandatory,
				archiveRel: contentArchiveRel,
				checksum:   fd.Checksum,
				algo:       fd.Algo,
			}
		}
	}

	return byDest, nil
}

// fetchContent downloads every file collectContent found, deduplicated
// across components/architectures. Unless Force is set, a file already in
// the live tree whose size and digests match is not downloaded again and
// is left out of the returned list.
func (r *run) fetchContent(resolved []resolvedIndex) ([]string, error) {
	byDest, err := r.collectContent(resolved)
	if err != nil {
		return nil, err
	}

	for dest, q := range byDest {
		if !r.opts.Force {
			if f, err := os.Open(r.root.LivePath(q.mirrorRel)); err == nil {
				info, herr := digest.ForFile(f, digest.MD5, digest.SHA1, digest.SHA256, digest.SHA512)
				f.Close()
				if ok, _, _ := q.checksum.Matches(info); herr == nil && ok {
					delete(byDest, dest)
					continue
				}
			}
		}
		r.pool.Submit(fetch.Task{
			URL:         joinURL(r.repo.ArchiveRoot, q.archiveRel),
			Destination: dest,
			Checksum:    q.checksum,
			Algo:        q.algo,
			Mandatory:   q.mandatory,
		})
	}

	r.pool.Close()
	go r.pool.Wait()

	var ok []string
	for res := range r.pool.Results() {
		q, known := byDest[res.Task.Destination]
		if !known {
			continue
		}
		if res.Err != nil {
			if q.mandatory {
				return nil, fail(classifyFetchError(res.Err), q.mirrorRel, res.Err)
			}
			continue
		}
		ok = append(ok, q.mirrorRel)
	}

	return ok, nil
}

// fetchOne runs a single task through its own small pool, reusing the
// retry/backoff machinery fetch.Pool already implements rather than
// duplicating it for one-off fetches like Release/Release.gpg.
func fetchOne(ctx context.Context, t fetch.Task, maxTries int, bytesPerSec int64, progress console.Progress) fetch.Result {
	pool := fetch.NewPool(ctx, 1, maxTries, bytesPerSec, progress)
	pool.Submit(t)
	pool.Close()
	res := <-pool.Results()
	pool.Wait()
	return res
}

// repoVerifier builds the effective Verifier for one repository: base is
// the globally configured --pgp-key-path set (may be nil); a repository's
// own pgp_pub_key, if set, extends it.
func repoVerifier(base *pgpverify.Verifier, repo config.Repository) (*pgpverify.Verifier, error) {
	if repo.PGPPubKeyPath == "" {
		return base, nil
	}
	return base.WithAdditionalKey(repo.PGPPubKeyPath)
}

// parseIndex decompresses path_ by its extension and runs the grammar for
// kind, returning every file descriptor it yields. dir is releasePath's
// parent directory relative to dists/<suite>, used only by
// indexInstallerSums to resolve SHA256SUMS' relative filenames.
func parseIndex(path_ string, kind indexKind, dir string) ([]index.FileDescriptor, error) {
	f, err := os.Open(path_)
	if err != nil {
		return nil, errors.Wrapf(err, "stage: opening %s", path_)
	}
	defer f.Close()

	method := decomp.MethodForPath(path_)
	dr, err := decomp.NewReader(f, method)
	if err != nil {
		return nil, errors.Wrapf(err, "stage: decompressing %s", path_)
	}
	if closer, ok := dr.(io.Closer); ok {
		defer closer.Close()
	}

	var next func() (index.FileDescriptor, error)
	switch kind {
	case indexPackages, indexUdebPackages:
		next = index.NewPackagesReader(dr).Next
	case indexSources:
		next = index.NewSourcesReader(dr).Next
	case indexInstallerSums:
		next = index.NewSHA256SumsReader(dr, dir).Next
	}

	var descs []index.FileDescriptor
	for {
		fd, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		descs = append(descs, fd)
	}
	return descs, nil
}
