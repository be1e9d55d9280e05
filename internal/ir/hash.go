package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/minio/highwayhash"
)

// Domain prefixes keep digests of different record types from colliding.
// The version suffix allows the encoding to change later.
const (
	DomainModules = "pipewright/modules/v1"
	DomainEvent   = "pipewright/event/v1"
)

// fingerprintKey is the fixed highwayhash key. Fingerprints are not secrets;
// they only need to be stable across processes.
var fingerprintKey = []byte("pipewright.fingerprint.key.v1...")

// hashWithDomain computes SHA-256(domain + 0x00 + data).
// The null byte keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns the hex SHA-256 digest of v's canonical encoding under
// domain.
func Digest(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("Digest: failed to marshal: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// Fingerprint returns a short 64-bit highwayhash of v's canonical encoding
// under domain, as 16 hex digits. Use it to detect change, not for identity.
func Fingerprint(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: failed to marshal: %w", err)
	}
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		return "", err
	}
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// MustDigest is like Digest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDigest(domain string, v any) string {
	d, err := Digest(domain, v)
	if err != nil {
		panic(err)
	}
	return d
}
