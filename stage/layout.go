package stage

import (
	"net/url"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// repoPrefix returns the repository-relative directory every path under
// this repository is rooted at: host(archiveRoot)/path(archiveRoot), so
// a repository at http://host/path mirroring suite S lands its metadata
// at <root>/host/path/dists/S/….
func repoPrefix(archiveRoot string) (string, error) {
	u, err := url.Parse(archiveRoot)
	if err != nil {
		return "", errors.Wrapf(err, "stage: parsing archive root %s", archiveRoot)
	}
	if u.Host == "" {
		return "", errors.Errorf("stage: archive root %q has no host", archiveRoot)
	}

	prefix := path.Join(u.Host, u.Path)
	return strings.TrimSuffix(prefix, "/"), nil
}

// metaDir returns the repository-relative directory the Release and its
// index files live under for one suite: "<prefix>/dists/<suite>".
func metaDir(prefix, suite string) string {
	return path.Join(prefix, "dists", suite)
}

// joinURL builds an absolute URL for a repository-relative-to-archive-root
// sub-path, e.g. joinURL("http://host/debian", "dists/stable/InRelease").
func joinURL(archiveRoot, sub string) string {
	return strings.TrimSuffix(archiveRoot, "/") + "/" + strings.TrimPrefix(sub, "/")
}
