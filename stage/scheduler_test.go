package stage

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/debmirror/debmirror/audit"
	"github.com/debmirror/debmirror/config"
	"github.com/debmirror/debmirror/console"
	"github.com/debmirror/debmirror/digest"

	check "gopkg.in/check.v1"
)

func Test(t *testing.T) {
	check.TestingT(t)
}

func sha256HexOf(s string) string {
	info, _ := digest.ForFile(strings.NewReader(s), digest.SHA256)
	return info.SHA256
}

// fixture is a tiny single-component, single-architecture repository: one
// Packages stanza pointing at a pool .deb, one Sources stanza pointing at
// a pool .dsc, and the Release table tying both index files' digests
// together. Served unsigned over InRelease, so the tests don't need a
// pgpverify.Verifier at all.
type fixture struct {
	inRelease string
	packages  string
	sources   string
	deb       string
	dsc       string
}

func newFixture() fixture {
	deb := "pretend .deb contents for bash 1\n"
	dsc := "pretend .dsc contents for bash 1\n"

	packages := fmt.Sprintf(
		"Package: bash\nVersion: 1\nFilename: pool/main/b/bash/bash_1_amd64.deb\nSize: %d\nSHA256: %s\n\n",
		len(deb), sha256HexOf(deb))

	sources := fmt.Sprintf(
		"Package: bash\nVersion: 1\nDirectory: pool/main/b/bash\nChecksums-Sha256:\n %s %d bash_1.dsc\n\n",
		sha256HexOf(dsc), len(dsc))

	inRelease := fmt.Sprintf(
		"Suite: stable\nCodename: stable\nArchitectures: amd64\nComponents: main\nSHA256:\n %s %d main/binary-amd64/Packages\n %s %d main/source/Sources\n\n",
		sha256HexOf(packages), len(packages),
		sha256HexOf(sources), len(sources))

	return fixture{inRelease: inRelease, packages: packages, sources: sources, deb: deb, dsc: dsc}
}

func newTestServer(routes map[string]string) *httptest.Server {
	mux := http.NewServeMux()
	for p, body := range routes {
		body := body
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
	}
	return httptest.NewServer(mux)
}

type SchedulerSuite struct {
	progress console.Progress
}

var _ = check.Suite(&SchedulerSuite{})

func (s *SchedulerSuite) SetUpTest(c *check.C) {
	s.progress = console.New()
	s.progress.Start()
}

func (s *SchedulerSuite) newScheduler(rootDir string) *Scheduler {
	return New(rootDir, Options{Threads: 2, MaxTries: 2, Progress: s.progress})
}

func (s *SchedulerSuite) TestSchedulerMirrorsRepositoryEndToEnd(c *check.C) {
	f := newFixture()
	srv := newTestServer(map[string]string{
		"/dists/stable/InRelease":                 f.inRelease,
		"/dists/stable/main/binary-amd64/Packages": f.packages,
		"/dists/stable/main/source/Sources":        f.sources,
		"/pool/main/b/bash/bash_1_amd64.deb":       f.deb,
		"/pool/main/b/bash/bash_1.dsc":             f.dsc,
	})
	defer srv.Close()

	rootDir := c.MkDir()
	sched := s.newScheduler(rootDir)

	repo := config.Repository{
		ArchiveRoot:   srv.URL,
		Suite:         "stable",
		Components:    []string{"main"},
		Architectures: []string{"amd64"},
	}

	result, err := sched.Run(context.Background(), repo)
	c.Assert(err, check.IsNil)
	c.Assert(result.Skipped, check.Equals, false)

	prefix, err := repoPrefix(repo.ArchiveRoot)
	c.Assert(err, check.IsNil)

	for _, rel := range []string{
		filepath.Join(prefix, "dists", "stable", "InRelease"),
		filepath.Join(prefix, "dists", "stable", "main", "binary-amd64", "Packages"),
		filepath.Join(prefix, "dists", "stable", "main", "source", "Sources"),
		filepath.Join(prefix, "pool", "main", "b", "bash", "bash_1_amd64.deb"),
		filepath.Join(prefix, "pool", "main", "b", "bash", "bash_1.dsc"),
	} {
		_, err := os.Stat(filepath.Join(rootDir, rel))
		c.Assert(err, check.IsNil)
	}

	c.Assert(sched.Registry.Len() > 0, check.Equals, true)
	c.Assert(sched.Registry.Has(filepath.Join(prefix, "pool", "main", "b", "bash", "bash_1_amd64.deb")), check.Equals, true)
}

func (s *SchedulerSuite) TestSchedulerSkipsUnchangedReleaseOnRerun(c *check.C) {
	f := newFixture()
	srv := newTestServer(map[string]string{
		"/dists/stable/InRelease":                 f.inRelease,
		"/dists/stable/main/binary-amd64/Packages": f.packages,
		"/dists/stable/main/source/Sources":        f.sources,
		"/pool/main/b/bash/bash_1_amd64.deb":       f.deb,
		"/pool/main/b/bash/bash_1.dsc":             f.dsc,
	})
	defer srv.Close()

	rootDir := c.MkDir()
	sched := s.newScheduler(rootDir)

	repo := config.Repository{
		ArchiveRoot:   srv.URL,
		Suite:         "stable",
		Components:    []string{"main"},
		Architectures: []string{"amd64"},
	}

	_, err := sched.Run(context.Background(), repo)
	c.Assert(err, check.IsNil)

	result, err := sched.Run(context.Background(), repo)
	c.Assert(err, check.IsNil)
	c.Assert(result.Skipped, check.Equals, true)

	prefix, err := repoPrefix(repo.ArchiveRoot)
	c.Assert(err, check.IsNil)
	debPath := filepath.Join(rootDir, prefix, "pool", "main", "b", "bash", "bash_1_amd64.deb")
	info, err := os.Stat(debPath)
	c.Assert(err, check.IsNil)
	firstMtime := info.ModTime()

	_, err = sched.Run(context.Background(), repo)
	c.Assert(err, check.IsNil)
	info, err = os.Stat(debPath)
	c.Assert(err, check.IsNil)
	c.Assert(info.ModTime().Equal(firstMtime), check.Equals, true)
}

// TestSchedulerFailsClosedWithoutTrustedKeyWhenPGPVerifyRequired: a
// repository requiring pgp_verify with no trusted key configured must
// fail before any index or content file is fetched, and nothing from
// dists/ may land under the mirror root.
func (s *SchedulerSuite) TestSchedulerFailsClosedWithoutTrustedKeyWhenPGPVerifyRequired(c *check.C) {
	f := newFixture()
	srv := newTestServer(map[string]string{
		"/dists/stable/InRelease":                 f.inRelease,
		"/dists/stable/main/binary-amd64/Packages": f.packages,
		"/dists/stable/main/source/Sources":        f.sources,
		"/pool/main/b/bash/bash_1_amd64.deb":       f.deb,
		"/pool/main/b/bash/bash_1.dsc":             f.dsc,
	})
	defer srv.Close()

	rootDir := c.MkDir()
	sched := s.newScheduler(rootDir)

	repo := config.Repository{
		ArchiveRoot:   srv.URL,
		Suite:         "stable",
		Components:    []string{"main"},
		Architectures: []string{"amd64"},
		PGPVerify:     true,
	}

	_, err := sched.Run(context.Background(), repo)
	c.Assert(err, check.NotNil)

	prefix, err := repoPrefix(repo.ArchiveRoot)
	c.Assert(err, check.IsNil)
	_, err = os.Stat(filepath.Join(rootDir, prefix, "dists"))
	c.Assert(os.IsNotExist(err), check.Equals, true)
}

// TestSchedulerExcludesFilesOutsideSelectedArchitecture: mirroring only
// arm64 against a Release advertising both amd64 and arm64 must never
// register or promote the amd64-only pool file.
func (s *SchedulerSuite) TestSchedulerExcludesFilesOutsideSelectedArchitecture(c *check.C) {
	deb := "pretend .deb contents for bash 1\n"
	dsc := "pretend .dsc contents for bash 1\n"
	debArm := "pretend .deb contents for bash 1 (arm64)\n"

	packagesAmd64 := fmt.Sprintf(
		"Package: bash\nVersion: 1\nFilename: pool/main/b/bash/bash_1_amd64.deb\nSize: %d\nSHA256: %s\n\n",
		len(deb), sha256HexOf(deb))
	packagesArm64 := fmt.Sprintf(
		"Package: bash\nVersion: 1\nFilename: pool/main/b/bash/bash_1_arm64.deb\nSize: %d\nSHA256: %s\n\n",
		len(debArm), sha256HexOf(debArm))
	sources := fmt.Sprintf(
		"Package: bash\nVersion: 1\nDirectory: pool/main/b/bash\nChecksums-Sha256:\n %s %d bash_1.dsc\n\n",
		sha256HexOf(dsc), len(dsc))

	inRelease := fmt.Sprintf(
		"Suite: stable\nCodename: stable\nArchitectures: amd64 arm64\nComponents: main\nSHA256:\n %s %d main/binary-amd64/Packages\n %s %d main/binary-arm64/Packages\n %s %d main/source/Sources\n\n",
		sha256HexOf(packagesAmd64), len(packagesAmd64),
		sha256HexOf(packagesArm64), len(packagesArm64),
		sha256HexOf(sources), len(sources))

	srv := newTestServer(map[string]string{
		"/dists/stable/InRelease":                 inRelease,
		"/dists/stable/main/binary-amd64/Packages": packagesAmd64,
		"/dists/stable/main/binary-arm64/Packages": packagesArm64,
		"/dists/stable/main/source/Sources":        sources,
		"/pool/main/b/bash/bash_1_amd64.deb":       deb,
		"/pool/main/b/bash/bash_1_arm64.deb":       debArm,
		"/pool/main/b/bash/bash_1.dsc":             dsc,
	})
	defer srv.Close()

	rootDir := c.MkDir()
	sched := s.newScheduler(rootDir)

	repo := config.Repository{
		ArchiveRoot:   srv.URL,
		Suite:         "stable",
		Components:    []string{"main"},
		Architectures: []string{"arm64"},
	}

	_, err := sched.Run(context.Background(), repo)
	c.Assert(err, check.IsNil)

	prefix, err := repoPrefix(repo.ArchiveRoot)
	c.Assert(err, check.IsNil)

	amd64Rel := filepath.Join(prefix, "pool", "main", "b", "bash", "bash_1_amd64.deb")
	c.Assert(sched.Registry.Has(amd64Rel), check.Equals, false)
	_, err = os.Stat(filepath.Join(rootDir, amd64Rel))
	c.Assert(os.IsNotExist(err), check.Equals, true)
	_, err = os.Stat(filepath.Join(rootDir, prefix, "dists", "stable", "main", "binary-amd64", "Packages"))
	c.Assert(os.IsNotExist(err), check.Equals, true)

	arm64Rel := filepath.Join(prefix, "pool", "main", "b", "bash", "bash_1_arm64.deb")
	c.Assert(sched.Registry.Has(arm64Rel), check.Equals, true)
	_, err = os.Stat(filepath.Join(rootDir, arm64Rel))
	c.Assert(err, check.IsNil)
}

func (s *SchedulerSuite) TestSchedulerForceReMirrorsUnchangedRelease(c *check.C) {
	f := newFixture()
	srv := newTestServer(map[string]string{
		"/dists/stable/InRelease":                 f.inRelease,
		"/dists/stable/main/binary-amd64/Packages": f.packages,
		"/dists/stable/main/source/Sources":        f.sources,
		"/pool/main/b/bash/bash_1_amd64.deb":       f.deb,
		"/pool/main/b/bash/bash_1.dsc":             f.dsc,
	})
	defer srv.Close()

	rootDir := c.MkDir()

	repo := config.Repository{
		ArchiveRoot:   srv.URL,
		Suite:         "stable",
		Components:    []string{"main"},
		Architectures: []string{"amd64"},
	}

	sched := New(rootDir, Options{Threads: 2, MaxTries: 2, Force: true, Progress: s.progress})

	_, err := sched.Run(context.Background(), repo)
	c.Assert(err, check.IsNil)

	result, err := sched.Run(context.Background(), repo)
	c.Assert(err, check.IsNil)
	c.Assert(result.Skipped, check.Equals, false)
}

func (s *SchedulerSuite) TestSchedulerFailsOnMandatoryIndex404(c *check.C) {
	f := newFixture()
	srv := newTestServer(map[string]string{
		"/dists/stable/InRelease":          f.inRelease,
		"/dists/stable/main/source/Sources": f.sources,
		// main/binary-amd64/Packages is deliberately not served: 404.
	})
	defer srv.Close()

	rootDir := c.MkDir()
	sched := s.newScheduler(rootDir)

	repo := config.Repository{
		ArchiveRoot:   srv.URL,
		Suite:         "stable",
		Components:    []string{"main"},
		Architectures: []string{"amd64"},
	}

	_, err := sched.Run(context.Background(), repo)
	c.Assert(err, check.NotNil)
}

func (s *SchedulerSuite) TestSchedulerMirrorsBothArchitecturesWhenTwoAreConfigured(c *check.C) {
	deb := "pretend .deb contents for bash 1\n"
	dsc := "pretend .dsc contents for bash 1\n"
	debArm := "pretend .deb contents for bash 1 (arm64)\n"

	packagesAmd64 := fmt.Sprintf(
		"Package: bash\nVersion: 1\nFilename: pool/main/b/bash/bash_1_amd64.deb\nSize: %d\nSHA256: %s\n\n",
		len(deb), sha256HexOf(deb))
	packagesArm64 := fmt.Sprintf(
		"Package: bash\nVersion: 1\nFilename: pool/main/b/bash/bash_1_arm64.deb\nSize: %d\nSHA256: %s\n\n",
		len(debArm), sha256HexOf(debArm))
	sources := fmt.Sprintf(
		"Package: bash\nVersion: 1\nDirectory: pool/main/b/bash\nChecksums-Sha256:\n %s %d bash_1.dsc\n\n",
		sha256HexOf(dsc), len(dsc))

	inRelease := fmt.Sprintf(
		"Suite: stable\nCodename: stable\nArchitectures: amd64 arm64\nComponents: main\nSHA256:\n %s %d main/binary-amd64/Packages\n %s %d main/binary-arm64/Packages\n %s %d main/source/Sources\n\n",
		sha256HexOf(packagesAmd64), len(packagesAmd64),
		sha256HexOf(packagesArm64), len(packagesArm64),
		sha256HexOf(sources), len(sources))

	srv := newTestServer(map[string]string{
		"/dists/stable/InRelease":                 inRelease,
		"/dists/stable/main/binary-amd64/Packages": packagesAmd64,
		"/dists/stable/main/binary-arm64/Packages": packagesArm64,
		"/dists/stable/main/source/Sources":        sources,
		"/pool/main/b/bash/bash_1_amd64.deb":       deb,
		"/pool/main/b/bash/bash_1_arm64.deb":       debArm,
		"/pool/main/b/bash/bash_1.dsc":             dsc,
	})
	defer srv.Close()

	rootDir := c.MkDir()
	sched := s.newScheduler(rootDir)

	repo := config.Repository{
		ArchiveRoot:   srv.URL,
		Suite:         "stable",
		Components:    []string{"main"},
		Architectures: []string{"amd64", "arm64"},
	}

	result, err := sched.Run(context.Background(), repo)
	c.Assert(err, check.IsNil)
	c.Assert(result.Skipped, check.Equals, false)

	prefix, err := repoPrefix(repo.ArchiveRoot)
	c.Assert(err, check.IsNil)

	for _, rel := range []string{
		filepath.Join(prefix, "dists", "stable", "main", "binary-amd64", "Packages"),
		filepath.Join(prefix, "dists", "stable", "main", "binary-arm64", "Packages"),
		filepath.Join(prefix, "pool", "main", "b", "bash", "bash_1_amd64.deb"),
		filepath.Join(prefix, "pool", "main", "b", "bash", "bash_1_arm64.deb"),
	} {
		_, err := os.Stat(filepath.Join(rootDir, rel))
		c.Assert(err, check.IsNil)
	}
}

// TestMirrorThenRecomputeIsStable exercises a full mirror ->
// recompute-registry -> prune/verify cycle: mirroring a repository, then
// recomputing its registry from the same unchanged upstream the way
// prune/verify do, must reproduce exactly the file set that was just
// promoted, so neither drive removes a single file or reports a single
// mismatch.
func (s *SchedulerSuite) TestMirrorThenRecomputeIsStable(c *check.C) {
	f := newFixture()
	srv := newTestServer(map[string]string{
		"/dists/stable/InRelease":                 f.inRelease,
		"/dists/stable/main/binary-amd64/Packages": f.packages,
		"/dists/stable/main/source/Sources":        f.sources,
		"/pool/main/b/bash/bash_1_amd64.deb":       f.deb,
		"/pool/main/b/bash/bash_1.dsc":             f.dsc,
	})
	defer srv.Close()

	rootDir := c.MkDir()
	sched := s.newScheduler(rootDir)

	repo := config.Repository{
		ArchiveRoot:   srv.URL,
		Suite:         "stable",
		Components:    []string{"main"},
		Architectures: []string{"amd64"},
	}

	_, err := sched.Run(context.Background(), repo)
	c.Assert(err, check.IsNil)

	err = sched.RecomputeRegistry(context.Background(), repo)
	c.Assert(err, check.IsNil)

	pruneResult, err := audit.Prune(rootDir, sched.Registry, false, s.progress)
	c.Assert(err, check.IsNil)
	c.Assert(pruneResult.Removed, check.HasLen, 0)

	verifyResult, err := audit.Verify(rootDir, sched.Registry, 0, s.progress)
	c.Assert(err, check.IsNil)
	c.Assert(verifyResult.Missing, check.HasLen, 0)
	c.Assert(verifyResult.Mismatch, check.HasLen, 0)
}

func (s *SchedulerSuite) TestSchedulerTreatsMissingInstallerImagesAsOptional(c *check.C) {
	f := newFixture()

	// Advertise the installer SHA256SUMS file in the Release table, so it
	// is actually resolved and fetched (and 404s), rather than silently
	// dropped for having no matching manifest entry at all.
	inRelease := strings.TrimSuffix(f.inRelease, "\n") +
		fmt.Sprintf(" %s 0 main/installer-amd64/current/images/SHA256SUMS\n\n", sha256HexOf("placeholder"))

	srv := newTestServer(map[string]string{
		"/dists/stable/InRelease":                 inRelease,
		"/dists/stable/main/binary-amd64/Packages": f.packages,
		"/dists/stable/main/source/Sources":        f.sources,
		"/pool/main/b/bash/bash_1_amd64.deb":       f.deb,
		"/pool/main/b/bash/bash_1.dsc":             f.dsc,
		// main/installer-amd64/current/images/SHA256SUMS is not served: 404.
	})
	defer srv.Close()

	rootDir := c.MkDir()
	sched := s.newScheduler(rootDir)

	repo := config.Repository{
		ArchiveRoot:            srv.URL,
		Suite:                  "stable",
		Components:             []string{"main"},
		Architectures:          []string{"amd64"},
		InstallerArchitectures: []string{"amd64"},
	}

	result, err := sched.Run(context.Background(), repo)
	c.Assert(err, check.IsNil)
	c.Assert(result.Skipped, check.Equals, false)
}

func gzipBytes(c *check.C, content string) string {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(content))
	c.Assert(err, check.IsNil)
	c.Assert(gw.Close(), check.IsNil)
	return buf.String()
}

func zstdBytes(c *check.C, content string) string {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	c.Assert(err, check.IsNil)
	_, err = zw.Write([]byte(content))
	c.Assert(err, check.IsNil)
	c.Assert(zw.Close(), check.IsNil)
	return buf.String()
}

// TestSchedulerPrefersMostCompressedIndexVariant exercises the variant
// selection resolveIndexJobs performs against a real parsed Release file
// table: a Release naming both a .gz and a .zst Packages (.zst ranks
// above .gz in decomp.PreferenceOrder) must fetch and promote the .zst
// copy only, never the .gz one, even though both are present and valid.
func (s *SchedulerSuite) TestSchedulerPrefersMostCompressedIndexVariant(c *check.C) {
	deb := "pretend .deb contents for bash 1\n"
	dsc := "pretend .dsc contents for bash 1\n"

	packagesPlain := fmt.Sprintf(
		"Package: bash\nVersion: 1\nFilename: pool/main/b/bash/bash_1_amd64.deb\nSize: %d\nSHA256: %s\n\n",
		len(deb), sha256HexOf(deb))
	sources := fmt.Sprintf(
		"Package: bash\nVersion: 1\nDirectory: pool/main/b/bash\nChecksums-Sha256:\n %s %d bash_1.dsc\n\n",
		sha256HexOf(dsc), len(dsc))

	packagesGz := gzipBytes(c, packagesPlain)
	packagesZst := zstdBytes(c, packagesPlain)

	inRelease := fmt.Sprintf(
		"Suite: stable\nCodename: stable\nArchitectures: amd64\nComponents: main\nSHA256:\n %s %d main/binary-amd64/Packages.gz\n %s %d main/binary-amd64/Packages.zst\n %s %d main/source/Sources\n\n",
		sha256HexOf(packagesGz), len(packagesGz),
		sha256HexOf(packagesZst), len(packagesZst),
		sha256HexOf(sources), len(sources))

	var gzRequested, zstRequested bool
	mux := http.NewServeMux()
	mux.HandleFunc("/dists/stable/InRelease", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(inRelease)) })
	mux.HandleFunc("/dists/stable/main/binary-amd64/Packages.gz", func(w http.ResponseWriter, r *http.Request) {
		gzRequested = true
		w.Write([]byte(packagesGz))
	})
	mux.HandleFunc("/dists/stable/main/binary-amd64/Packages.zst", func(w http.ResponseWriter, r *http.Request) {
		zstRequested = true
		w.Write([]byte(packagesZst))
	})
	mux.HandleFunc("/dists/stable/main/source/Sources", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(sources)) })
	mux.HandleFunc("/pool/main/b/bash/bash_1_amd64.deb", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(deb)) })
	mux.HandleFunc("/pool/main/b/bash/bash_1.dsc", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(dsc)) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rootDir := c.MkDir()
	sched := s.newScheduler(rootDir)

	repo := config.Repository{
		ArchiveRoot:   srv.URL,
		Suite:         "stable",
		Components:    []string{"main"},
		Architectures: []string{"amd64"},
	}

	result, err := sched.Run(context.Background(), repo)
	c.Assert(err, check.IsNil)
	c.Assert(result.Skipped, check.Equals, false)

	c.Assert(zstRequested, check.Equals, true)
	c.Assert(gzRequested, check.Equals, false)

	prefix, err := repoPrefix(repo.ArchiveRoot)
	c.Assert(err, check.IsNil)

	zstPath := filepath.Join(rootDir, prefix, "dists", "stable", "main", "binary-amd64", "Packages.zst")
	gotZst, err := os.ReadFile(zstPath)
	c.Assert(err, check.IsNil)
	c.Assert(string(gotZst), check.Equals, packagesZst)

	gzPath := filepath.Join(rootDir, prefix, "dists", "stable", "main", "binary-amd64", "Packages.gz")
	_, err = os.Stat(gzPath)
	c.Assert(os.IsNotExist(err), check.Equals, true)

	debPath := filepath.Join(rootDir, prefix, "pool", "main", "b", "bash", "bash_1_amd64.deb")
	_, err = os.Stat(debPath)
	c.Assert(err, check.IsNil)
}
