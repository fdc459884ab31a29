// Package pgpverify verifies OpenPGP signatures on Release/InRelease
// manifests against a directory of trusted public keys.
package pgpverify

import "fmt"

// Key is an OpenPGP key ID in human-readable hex form.
type Key string

// Matches compares two key IDs, tolerating one being a short (32-bit) and
// the other a long (64-bit) key ID.
func (key1 Key) Matches(key2 Key) bool {
	if key1 == key2 {
		return true
	}

	if len(key1) == 8 && len(key2) == 16 {
		return key1 == key2[8:]
	}

	if len(key1) == 16 && len(key2) == 8 {
		return key1[8:] == key2
	}

	return false
}

// KeyFromUint64 renders an openpgp issuer key ID as hex.
func KeyFromUint64(id uint64) Key {
	return Key(fmt.Sprintf("%016X", id))
}

// KeyInfo summarizes the signers found on a verified document.
type KeyInfo struct {
	GoodKeys    []Key
	MissingKeys []Key
}
