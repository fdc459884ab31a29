package release

import "github.com/debmirror/debmirror/digest"

// Changed decides whether a freshly-fetched Release (curr) requires the
// scheduler to continue past the stage: it returns true iff there is no
// prior manifest, force is set, or any file entry was added, removed, or
// changed digest.
func Changed(prev, curr *Manifest, force bool) bool {
	if force || prev == nil {
		return true
	}
	if len(prev.Files) != len(curr.Files) {
		return true
	}
	for path, currInfo := range curr.Files {
		prevInfo, ok := prev.Files[path]
		if !ok {
			return true
		}
		if !sameChecksum(prevInfo, currInfo) {
			return true
		}
	}
	for path := range prev.Files {
		if _, ok := curr.Files[path]; !ok {
			return true
		}
	}
	return false
}

func sameChecksum(a, b digest.Info) bool {
	if a.Size != b.Size {
		return false
	}
	// Compare every algorithm both sides carry; disagreement on any one
	// is a change even if others still match (an upstream could
	// re-sign with the same content but that does not happen via the
	// algorithms apt itself defines, so in practice this is exact-match).
	if a.MD5 != "" && b.MD5 != "" && a.MD5 != b.MD5 {
		return false
	}
	if a.SHA1 != "" && b.SHA1 != "" && a.SHA1 != b.SHA1 {
		return false
	}
	if a.SHA256 != "" && b.SHA256 != "" && a.SHA256 != b.SHA256 {
		return false
	}
	if a.SHA512 != "" && b.SHA512 != "" && a.SHA512 != b.SHA512 {
		return false
	}
	return true
}
