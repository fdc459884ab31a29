// Package config implements the repository descriptor and the
// mirror.list parser that produces one Repository per "deb" line,
// modeled on the sources.list syntax apt itself uses.
package config

// Repository is the immutable descriptor for one mirrored repository:
// its base URL, suite, the components/architectures/installer
// architectures to fetch, and the udeb and PGP verification options.
type Repository struct {
	// ArchiveRoot is the base URL of the upstream archive, e.g.
	// "http://deb.debian.org/debian".
	ArchiveRoot string
	// Suite is the distribution name, e.g. "bookworm" or "stable".
	Suite string
	// Components to fetch. Empty means "all components the Release
	// manifest lists".
	Components []string
	// Architectures to fetch binary packages for. Empty means "all
	// architectures the Release manifest lists".
	Architectures []string
	// InstallerArchitectures enables debian-installer mirroring for
	// these architectures (di_arch option).
	InstallerArchitectures []string
	// WantUdeb enables mirroring udeb packages alongside deb packages.
	WantUdeb bool
	// PGPVerify requires the Release manifest's signature to verify
	// against a trusted key before the repository is mirrored.
	PGPVerify bool
	// PGPPubKeyPath, if set, is a path to an additional trusted public
	// key file for this repository specifically. Setting it implies
	// PGPVerify.
	PGPPubKeyPath string
}

// SelectsComponent reports whether component should be fetched under
// this descriptor's filter. An empty filter list selects everything.
func (r Repository) SelectsComponent(component string) bool {
	return stringSliceEmptyOrContains(r.Components, component)
}

// SelectsArchitecture reports whether arch should be fetched for binary
// packages under this descriptor.
func (r Repository) SelectsArchitecture(arch string) bool {
	return stringSliceEmptyOrContains(r.Architectures, arch)
}

// SelectsInstallerArchitecture reports whether arch should be fetched
// for installer images under this descriptor.
func (r Repository) SelectsInstallerArchitecture(arch string) bool {
	return len(r.InstallerArchitectures) > 0 && stringSliceEmptyOrContains(r.InstallerArchitectures, arch)
}

func stringSliceEmptyOrContains(haystack []string, needle string) bool {
	if len(haystack) == 0 {
		return true
	}
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
