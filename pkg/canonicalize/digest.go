package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestBytes computes the SHA-256 digest of raw bytes and returns it in the
// "sha256:<lowercase-hex>" wire form.
func DigestBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// Digest canonicalizes payload and digests the canonical bytes. The digest is
// purely observational and only ever compared for equality.
func Digest(payload any) (string, error) {
	b, err := Bytes(payload)
	if err != nil {
		return "", err
	}
	return DigestBytes(b), nil
}
