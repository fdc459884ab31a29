package pgpverify

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/clearsign"
)

// ErrNoTrustedKeys is returned by LoadKeyDir when the key directory yields
// no usable public keys.
var ErrNoTrustedKeys = errors.New("pgpverify: no trusted keys loaded")

// ErrNotClearsigned is returned when VerifyClearsigned is given input that
// doesn't contain a clearsign armor block.
var ErrNotClearsigned = errors.New("pgpverify: no clearsigned data found")

// Verifier checks Release/InRelease signatures against a fixed set of
// trusted public keys, loaded once at startup from the configured key
// directory.
type Verifier struct {
	trusted openpgp.EntityList
}

// LoadKeyDir builds a Verifier from every file directly inside dir,
// armored or binary OpenPGP keyrings both accepted. The CLI calls it
// whenever --pgp-key-path is set, whether or not any repository has
// PGPVerify enabled.
func LoadKeyDir(dir string) (*Verifier, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "pgpverify: reading key directory %s", dir)
	}

	v := &Verifier{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		keyring, err := loadKeyRing(path)
		if err != nil {
			return nil, errors.Wrapf(err, "pgpverify: loading key file %s", path)
		}
		v.trusted = append(v.trusted, keyring...)
	}

	if len(v.trusted) == 0 {
		return nil, ErrNoTrustedKeys
	}
	return v, nil
}

// WithAdditionalKey returns a new Verifier trusting every key loaded from
// path in addition to v's existing trusted keys. v may be nil (no global
// key directory was configured; a repository's own per-repo key option is
// then the only trusted key). The per-repo key extends, rather than
// replaces, the globally configured key set.
func (v *Verifier) WithAdditionalKey(path string) (*Verifier, error) {
	keyring, err := loadKeyRing(path)
	if err != nil {
		return nil, errors.Wrapf(err, "pgpverify: loading additional key %s", path)
	}

	var existing openpgp.EntityList
	if v != nil {
		existing = v.trusted
	}
	return &Verifier{trusted: append(append(openpgp.EntityList{}, existing...), keyring...)}, nil
}

func loadKeyRing(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	keyring, err := openpgp.ReadKeyRing(f)
	if err == nil {
		return keyring, nil
	}

	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		return nil, serr
	}
	return openpgp.ReadArmoredKeyRing(f)
}

// VerifyDetached checks signature (the contents of Release.gpg, armored or
// binary) against content (the contents of Release). It succeeds as soon
// as one signer resolves to a trusted key.
func (v *Verifier) VerifyDetached(content, signature io.Reader) (*KeyInfo, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, signature); err != nil {
		return nil, errors.Wrap(err, "pgpverify: reading signature")
	}

	var signers []signatureResult
	var missingKeys int
	var err error

	if looksArmored(buf.Bytes()) {
		signers, missingKeys, err = checkArmoredDetachedSignature(v.trusted, content, bytes.NewReader(buf.Bytes()))
	} else {
		signers, missingKeys, err = checkDetachedSignature(v.trusted, content, bytes.NewReader(buf.Bytes()))
	}

	info := summarize(signers)
	if err != nil {
		return info, errors.Wrap(err, "pgpverify: detached signature verification failed")
	}
	if missingKeys > 0 && len(info.GoodKeys) == 0 {
		return info, pgperrorsUnknownIssuer()
	}
	return info, nil
}

// VerifyClearsigned verifies an InRelease file: it is simultaneously the
// manifest and its own signature, wrapped in a clearsign armor block. It
// returns the manifest's plaintext bytes plus the resolved signers.
func (v *Verifier) VerifyClearsigned(r io.Reader) (plaintext []byte, info *KeyInfo, err error) {
	raw, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "pgpverify: reading clearsigned data")
	}

	block, _ := clearsign.Decode(raw)
	if block == nil {
		return nil, nil, ErrNotClearsigned
	}

	signers, missingKeys, err := checkDetachedSignature(v.trusted, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body)

	info = summarize(signers)
	if err != nil {
		return nil, info, errors.Wrap(err, "pgpverify: clearsigned verification failed")
	}
	if missingKeys > 0 && len(info.GoodKeys) == 0 {
		return nil, info, pgperrorsUnknownIssuer()
	}
	return block.Plaintext, info, nil
}

// ExtractClearsigned returns the plaintext of a clearsigned document
// without checking the signature, for callers that only need the body
// after VerifyClearsigned already ran once.
func ExtractClearsigned(r io.Reader) ([]byte, error) {
	raw, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "pgpverify: reading clearsigned data")
	}
	block, _ := clearsign.Decode(raw)
	if block == nil {
		return nil, ErrNotClearsigned
	}
	return block.Plaintext, nil
}

func summarize(signers []signatureResult) *KeyInfo {
	info := &KeyInfo{}
	for _, s := range signers {
		if s.Entity != nil {
			info.GoodKeys = append(info.GoodKeys, KeyFromUint64(s.IssuerKeyID))
		} else {
			info.MissingKeys = append(info.MissingKeys, KeyFromUint64(s.IssuerKeyID))
		}
	}
	return info
}

func looksArmored(b []byte) bool {
	return bytes.Contains(b[:min(len(b), 64)], []byte("-----BEGIN PGP"))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func pgperrorsUnknownIssuer() error {
	return errors.New("pgpverify: signature from unknown issuer, not in trusted keyring")
}
