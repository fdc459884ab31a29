package cmd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/debmirror/debmirror/digest"
)

func sha256HexOf(s string) string {
	info, _ := digest.ForFile(strings.NewReader(s), digest.SHA256)
	return info.SHA256
}

// newTestArchive starts an httptest.Server serving a tiny single-
// component, single-architecture unsigned repository, same shape as
// stage/scheduler_test.go's fixture: one Packages stanza, one Sources
// stanza, and the pool files they reference.
func newTestArchive(t *testing.T) *httptest.Server {
	t.Helper()

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

	mux := http.NewServeMux()
	routes := map[string]string{
		"/dists/stable/InRelease":                 inRelease,
		"/dists/stable/main/binary-amd64/Packages": packages,
		"/dists/stable/main/source/Sources":        sources,
		"/pool/main/b/bash/bash_1_amd64.deb":       deb,
		"/pool/main/b/bash/bash_1.dsc":             dsc,
	}
	for p, body := range routes {
		body := body
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeMirrorList(t *testing.T, archiveRoot string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mirror.list")
	line := fmt.Sprintf("deb %s stable main\n", archiveRoot)
	if err := os.WriteFile(path, []byte(line), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunMirrorEndToEnd(t *testing.T) {
	srv := newTestArchive(t)
	listPath := writeMirrorList(t, srv.URL)
	outputDir := t.TempDir()

	code := Run(RootCommand(), []string{"mirror", "-c", listPath, "-o", outputDir}, true)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	var found bool
	filepath.Walk(outputDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Base(path) == "bash_1_amd64.deb" {
			found = true
		}
		return nil
	})
	if !found {
		t.Fatal("expected bash_1_amd64.deb to be mirrored somewhere under the output directory")
	}
}

func TestRunMirrorFailsWithoutOutput(t *testing.T) {
	srv := newTestArchive(t)
	listPath := writeMirrorList(t, srv.URL)

	code := Run(RootCommand(), []string{"mirror", "-c", listPath}, true)
	if code == 0 {
		t.Fatal("expected a missing --output to produce a non-zero exit code")
	}
}

func TestRunPruneRemovesStrayFile(t *testing.T) {
	srv := newTestArchive(t)
	listPath := writeMirrorList(t, srv.URL)
	outputDir := t.TempDir()

	if code := Run(RootCommand(), []string{"mirror", "-c", listPath, "-o", outputDir}, true); code != 0 {
		t.Fatalf("setup mirror failed with code %d", code)
	}

	strayPath := filepath.Join(outputDir, strings.TrimPrefix(srv.URL, "http://"), "pool", "main", "x", "xyz_1.0.deb")
	if err := os.MkdirAll(filepath.Dir(strayPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(strayPath, []byte("stray"), 0644); err != nil {
		t.Fatal(err)
	}

	if code := Run(RootCommand(), []string{"prune", "-c", listPath, "-o", outputDir}, true); code != 0 {
		t.Fatalf("expected prune to succeed, got code %d", code)
	}

	if _, err := os.Stat(strayPath); !os.IsNotExist(err) {
		t.Fatalf("expected stray file removed, stat err = %v", err)
	}
}

func TestRunVerifyReportsSuccessAfterMirror(t *testing.T) {
	srv := newTestArchive(t)
	listPath := writeMirrorList(t, srv.URL)
	outputDir := t.TempDir()

	if code := Run(RootCommand(), []string{"mirror", "-c", listPath, "-o", outputDir}, true); code != 0 {
		t.Fatalf("setup mirror failed with code %d", code)
	}

	if code := Run(RootCommand(), []string{"verify", "-c", listPath, "-o", outputDir}, true); code != 0 {
		t.Fatalf("expected verify to succeed, got code %d", code)
	}
}

func TestRunVersion(t *testing.T) {
	if code := Run(RootCommand(), []string{"version"}, true); code != 0 {
		t.Fatalf("expected version to exit 0, got %d", code)
	}
}

func TestRunMirrorUnreachableHostExitsNetwork(t *testing.T) {
	listPath := writeMirrorList(t, "http://127.0.0.1:1")
	outputDir := t.TempDir()

	code := Run(RootCommand(), []string{"mirror", "-c", listPath, "-o", outputDir}, true)
	if code != exitNetwork {
		t.Fatalf("expected exit code %d for an unreachable archive root, got %d", exitNetwork, code)
	}
}

func TestRunMirrorUnsignedRepositoryRequiringPGPExitsSignature(t *testing.T) {
	srv := newTestArchive(t)

	dir := t.TempDir()
	listPath := filepath.Join(dir, "mirror.list")
	line := fmt.Sprintf("deb pgp_verify=true %s stable main\n", srv.URL)
	if err := os.WriteFile(listPath, []byte(line), 0644); err != nil {
		t.Fatal(err)
	}
	outputDir := t.TempDir()

	code := Run(RootCommand(), []string{"mirror", "-c", listPath, "-o", outputDir}, true)
	if code != exitSignature {
		t.Fatalf("expected exit code %d for a repository requiring pgp_verify with no trusted key, got %d", exitSignature, code)
	}
}
