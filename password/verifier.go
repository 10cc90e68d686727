package password

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Verifier checks submitted passwords against stored hashes of any supported
// encoding and produces Argon2id hashes for new or upgraded credentials.
type Verifier struct {
	argon *Argon2
	dummy string
}

// NewVerifier builds a Verifier around the given Argon2id parameters.
func NewVerifier(cfg Config) (*Verifier, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	dummy, err := a.Hash("tcgemporium-dummy-password")
	if err != nil {
		return nil, err
	}
	return &Verifier{argon: a, dummy: dummy}, nil
}

// Hash returns an Argon2id hash for plaintext.
func (v *Verifier) Hash(plaintext string) (string, error) {
	return v.argon.Hash(plaintext)
}

// Matches reports whether plaintext matches encoded. Unknown encodings and
// hashing errors are reported as a mismatch.
func (v *Verifier) Matches(plaintext, encoded string) bool {
	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		ok, err := v.argon.Verify(plaintext, encoded)
		return err == nil && ok
	case isBcrypt(encoded):
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plaintext)) == nil
	default:
		return false
	}
}

// Burn performs a verification against an internal hash so lookups for
// unknown accounts take as long as a real mismatch.
func (v *Verifier) Burn(plaintext string) {
	_, _ = v.argon.Verify(plaintext, v.dummy)
}

// NeedsRehash reports whether encoded should be replaced with a fresh
// Argon2id hash.
func (v *Verifier) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	upgrade, err := v.argon.NeedsUpgrade(encoded)
	return err == nil && upgrade
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
